package domain

import "strings"

// QuestionType mirrors the XLSForm type column of a form version.
type QuestionType string

const (
	QuestionTypeText       QuestionType = "text"
	QuestionTypeInteger    QuestionType = "integer"
	QuestionTypeDecimal    QuestionType = "decimal"
	QuestionTypeDate       QuestionType = "date"
	QuestionTypeGeopoint   QuestionType = "geopoint"
	QuestionTypeCalculate  QuestionType = "calculate"
	QuestionTypeNote       QuestionType = "note"
	QuestionTypeBeginGroup QuestionType = "begin group"
	QuestionTypeEndGroup   QuestionType = "end group"
)

// Question is one row of a form version's survey sheet.
type Question struct {
	Name        string
	Type        QuestionType
	Label       string
	Required    bool
	Constraint  string
	Calculation string
}

// IsSelect reports whether the question restricts values to a choice list.
func (q Question) IsSelect() bool {
	return strings.HasPrefix(string(q.Type), "select")
}

// ChoiceList returns the list name referenced by a select question
// ("select_one sex" -> "sex").
func (q Question) ChoiceList() string {
	if !q.IsSelect() {
		return ""
	}
	parts := strings.Fields(string(q.Type))
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// Choice is one row of a form version's choices sheet.
type Choice struct {
	ListName string
	Value    string
	Label    string
}

// FormVersion is a versioned snapshot of a form's question and choice
// definitions. The question set is fixed once fetched.
type FormVersion struct {
	ID        string
	FormID    string
	Questions []Question
	Choices   []Choice
}

// QuestionNames returns question names in declared order, skipping
// structural markers (groups, notes).
func (v FormVersion) QuestionNames() []string {
	names := make([]string, 0, len(v.Questions))
	for _, q := range v.Questions {
		if q.Type == QuestionTypeBeginGroup || q.Type == QuestionTypeEndGroup || q.Type == QuestionTypeNote {
			continue
		}
		if q.Name != "" {
			names = append(names, q.Name)
		}
	}
	return names
}

// QuestionByName returns the declared question for a column name.
func (v FormVersion) QuestionByName(name string) (Question, bool) {
	for _, q := range v.Questions {
		if q.Name == name {
			return q, true
		}
	}
	return Question{}, false
}

// GroupName returns the first begin-group marker, if the form wraps its
// questions in a group element.
func (v FormVersion) GroupName() string {
	for _, q := range v.Questions {
		if q.Type == QuestionTypeBeginGroup {
			return q.Name
		}
	}
	return ""
}

// ChoicesForList returns the allowed values and labels for a choice list.
func (v FormVersion) ChoicesForList(listName string) []Choice {
	if listName == "" {
		return nil
	}
	var out []Choice
	for _, c := range v.Choices {
		if c.ListName == listName {
			out = append(out, c)
		}
	}
	return out
}

// FormInfo is the remote form's identity as exposed by the platform.
type FormInfo struct {
	ID              int64
	Name            string
	FormID          string
	AppID           string
	LatestVersionID string
}
