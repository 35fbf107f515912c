// Package validation checks rows against strategy requirements and the
// form version's declared constraints.
package validation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/formsync/internal/domain"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02/01/2006",
	"01/02/2006",
}

// SchemaError describes a structural problem with a row. Rows with schema
// errors are ignored and never reach templating.
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("column %s: %s", e.Column, e.Reason)
}

// SchemaValidator applies structural checks ahead of constraint checks:
// strategy-critical identifier columns, then type coercion for the form's
// typed questions. In non-strict mode only the identifier columns are
// checked.
type SchemaValidator struct {
	strict bool
}

// NewSchemaValidator builds a validator for one run.
func NewSchemaValidator(strict bool) *SchemaValidator {
	return &SchemaValidator{strict: strict}
}

// requiredColumns returns the strategy-critical columns for a row action.
// These are checked regardless of strict mode: a missing identifier makes
// the row unusable for its strategy.
func requiredColumns(action domain.Action) []string {
	switch action {
	case domain.ActionCreate:
		return []string{domain.ColumnOrgUnitID}
	case domain.ActionUpdate:
		return []string{domain.ColumnID, domain.ColumnInstanceID}
	case domain.ActionDelete:
		return []string{domain.ColumnID}
	default:
		return nil
	}
}

// Validate checks one row for the given action against a form version.
// It returns nil when the row may proceed.
func (v *SchemaValidator) Validate(row domain.Row, action domain.Action, version domain.FormVersion) *SchemaError {
	for _, col := range requiredColumns(action) {
		if !row.Has(col) {
			return &SchemaError{Column: col, Reason: "required column missing or empty"}
		}
	}

	switch action {
	case domain.ActionCreate, domain.ActionUpdate:
		if _, ok := row.OrgUnitID(); row.Has(domain.ColumnOrgUnitID) && !ok {
			return &SchemaError{Column: domain.ColumnOrgUnitID, Reason: "not a numeric identifier"}
		}
	}
	if action == domain.ActionUpdate || action == domain.ActionDelete {
		if _, ok := row.ID(); !ok {
			return &SchemaError{Column: domain.ColumnID, Reason: "not a numeric identifier"}
		}
	}

	if !v.strict {
		return nil
	}

	for _, name := range row.Columns() {
		question, ok := version.QuestionByName(name)
		if !ok {
			continue
		}
		raw := row.Value(name)
		if raw == "" {
			continue
		}
		if err := CoerceValue(question.Type, raw); err != nil {
			return &SchemaError{Column: name, Reason: err.Error()}
		}
	}
	return nil
}

// CoerceValue verifies that a raw cell value can be cast to the question's
// declared type.
func CoerceValue(qtype domain.QuestionType, raw string) error {
	switch qtype {
	case domain.QuestionTypeInteger:
		if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return nil
		}
		// Spreadsheet exports frequently render integers as "42.0".
		if f, err := strconv.ParseFloat(raw, 64); err == nil && math.Mod(f, 1) == 0 {
			return nil
		}
		return fmt.Errorf("unable to coerce %q to integer", raw)
	case domain.QuestionTypeDecimal, domain.QuestionTypeCalculate:
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return fmt.Errorf("unable to coerce %q to decimal", raw)
		}
		return nil
	case domain.QuestionTypeDate:
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, raw); err == nil {
				return nil
			}
		}
		return fmt.Errorf("unable to coerce %q to date", raw)
	case domain.QuestionTypeGeopoint:
		parts := strings.Fields(raw)
		if len(parts) < 2 || len(parts) > 4 {
			return fmt.Errorf("unable to coerce %q to geopoint", raw)
		}
		for _, part := range parts {
			if _, err := strconv.ParseFloat(part, 64); err != nil {
				return fmt.Errorf("unable to coerce %q to geopoint", raw)
			}
		}
		return nil
	default:
		return nil
	}
}
