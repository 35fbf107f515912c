package validation

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rpattn/formsync/internal/domain"
)

var regexConstraintPattern = regexp.MustCompile(`regex\(\.\s*,\s*'(.+)'\)`)

// ConstraintEvaluator holds the compiled constraint and choice checks for
// one form version. Compiling once per version avoids re-parsing
// constraint expressions for every row sharing that version.
type ConstraintEvaluator struct {
	version string
	fields  []compiledField
}

type compiledField struct {
	name    string
	check   func(string) bool
	choices map[string]struct{}
}

// NewConstraintEvaluator compiles a form version's constraints. Constraint
// expressions outside the supported grammar (regex, numeric thresholds)
// compile to an always-pass check, matching the platform's lenient client.
func NewConstraintEvaluator(version domain.FormVersion) *ConstraintEvaluator {
	eval := &ConstraintEvaluator{version: version.ID}

	for _, question := range version.Questions {
		field := compiledField{name: question.Name}
		compiled := false

		if question.Constraint != "" {
			field.check = compileConstraint(question.Constraint)
			compiled = field.check != nil
		}

		if question.IsSelect() {
			choices := version.ChoicesForList(question.ChoiceList())
			if len(choices) > 0 {
				field.choices = make(map[string]struct{}, len(choices)*2)
				for _, choice := range choices {
					if choice.Value != "" {
						field.choices[choice.Value] = struct{}{}
					}
					if choice.Label != "" {
						field.choices[choice.Label] = struct{}{}
					}
				}
				compiled = true
			}
		}

		if compiled {
			eval.fields = append(eval.fields, field)
		}
	}

	return eval
}

// Version returns the form version identifier the evaluator was built for.
func (e *ConstraintEvaluator) Version() string {
	return e.version
}

// Evaluate returns the names of fields whose values violate their declared
// constraint or fall outside their choice list. Absent or empty columns
// are not violations; structural requirements are the schema validator's
// concern.
func (e *ConstraintEvaluator) Evaluate(row domain.Row) []string {
	var failing []string
	for _, field := range e.fields {
		value, ok := row.Get(field.name)
		if !ok || value == "" {
			continue
		}
		if field.check != nil && !field.check(value) {
			failing = append(failing, field.name)
			continue
		}
		if field.choices != nil {
			if _, allowed := field.choices[value]; !allowed {
				failing = append(failing, field.name)
			}
		}
	}
	return failing
}

// compileConstraint parses the XLSForm constraint subset the importer
// understands: regex(., '...'), .<= N, .>= N, .< N, .> N.
func compileConstraint(constraint string) func(string) bool {
	constraint = strings.TrimSpace(constraint)

	if strings.HasPrefix(constraint, "regex") {
		match := regexConstraintPattern.FindStringSubmatch(constraint)
		if match == nil {
			return nil
		}
		re, err := regexp.Compile(match[1])
		if err != nil {
			return nil
		}
		return func(value string) bool {
			return re.MatchString(value)
		}
	}

	for _, op := range []string{".<=", ".>=", ".<", ".>"} {
		if !strings.HasPrefix(constraint, op) {
			continue
		}
		threshold, err := strconv.ParseFloat(strings.TrimSpace(constraint[len(op):]), 64)
		if err != nil {
			return nil
		}
		op := op
		return func(value string) bool {
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return false
			}
			switch op {
			case ".<=":
				return f <= threshold
			case ".>=":
				return f >= threshold
			case ".<":
				return f < threshold
			default:
				return f > threshold
			}
		}
	}

	return nil
}
