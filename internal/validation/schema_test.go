package validation

import (
	"testing"

	"github.com/rpattn/formsync/internal/domain"
)

func makeRow(pairs ...string) domain.Row {
	cols := make([]string, 0, len(pairs)/2)
	values := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		cols = append(cols, pairs[i])
		values[pairs[i]] = pairs[i+1]
	}
	return domain.NewRow(1, cols, values)
}

func testVersion() domain.FormVersion {
	return domain.FormVersion{
		ID:     "2023091201",
		FormID: "health_survey",
		Questions: []domain.Question{
			{Name: "name", Type: domain.QuestionTypeText},
			{Name: "age", Type: domain.QuestionTypeInteger, Constraint: ".<= 150"},
			{Name: "weight", Type: domain.QuestionTypeDecimal},
			{Name: "visit_date", Type: domain.QuestionTypeDate},
			{Name: "location", Type: domain.QuestionTypeGeopoint},
			{Name: "sex", Type: domain.QuestionType("select_one sex")},
		},
		Choices: []domain.Choice{
			{ListName: "sex", Value: "male", Label: "Male"},
			{ListName: "sex", Value: "female", Label: "Female"},
		},
	}
}

func TestValidateRequiredColumnsByAction(t *testing.T) {
	version := testVersion()
	validator := NewSchemaValidator(false)

	tests := []struct {
		name    string
		row     domain.Row
		action  domain.Action
		wantErr bool
	}{
		{"create with org unit", makeRow("org_unit_id", "101", "name", "x"), domain.ActionCreate, false},
		{"create missing org unit", makeRow("name", "x"), domain.ActionCreate, true},
		{"update with identifiers", makeRow("id", "7", "instanceID", "abc"), domain.ActionUpdate, false},
		{"update missing instanceID", makeRow("id", "7"), domain.ActionUpdate, true},
		{"delete with id", makeRow("id", "7"), domain.ActionDelete, false},
		{"delete missing id", makeRow("name", "x"), domain.ActionDelete, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.row, tt.action, version)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateIdentifiersCheckedEvenWhenNotStrict(t *testing.T) {
	version := testVersion()
	validator := NewSchemaValidator(false)

	row := makeRow("org_unit_id", "not-a-number")
	err := validator.Validate(row, domain.ActionCreate, version)
	if err == nil {
		t.Fatal("expected error for non-numeric org_unit_id")
	}
	if err.Column != domain.ColumnOrgUnitID {
		t.Fatalf("expected org_unit_id error, got column %s", err.Column)
	}
}

func TestValidateTypeCoercionOnlyWhenStrict(t *testing.T) {
	version := testVersion()
	row := makeRow("org_unit_id", "101", "age", "not-a-number")

	if err := NewSchemaValidator(false).Validate(row, domain.ActionCreate, version); err != nil {
		t.Fatalf("non-strict validation should tolerate bad typed values, got %v", err)
	}
	err := NewSchemaValidator(true).Validate(row, domain.ActionCreate, version)
	if err == nil {
		t.Fatal("strict validation should reject a non-integer age")
	}
	if err.Column != "age" {
		t.Fatalf("expected age error, got column %s", err.Column)
	}
}

func TestValidateFloatRenderedIdentifiers(t *testing.T) {
	version := testVersion()
	validator := NewSchemaValidator(true)

	row := makeRow("org_unit_id", "101.0", "age", "42.0")
	if err := validator.Validate(row, domain.ActionCreate, version); err != nil {
		t.Fatalf("spreadsheet float renders should coerce, got %v", err)
	}
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		qtype   domain.QuestionType
		raw     string
		wantErr bool
	}{
		{domain.QuestionTypeInteger, "42", false},
		{domain.QuestionTypeInteger, "42.0", false},
		{domain.QuestionTypeInteger, "42.5", true},
		{domain.QuestionTypeInteger, "abc", true},
		{domain.QuestionTypeDecimal, "3.14", false},
		{domain.QuestionTypeDecimal, "xyz", true},
		{domain.QuestionTypeCalculate, "12.5", false},
		{domain.QuestionTypeDate, "2023-09-12", false},
		{domain.QuestionTypeDate, "12/09/2023", false},
		{domain.QuestionTypeDate, "not a date", true},
		{domain.QuestionTypeGeopoint, "12.5 -8.0", false},
		{domain.QuestionTypeGeopoint, "12.5 -8.0 340 4", false},
		{domain.QuestionTypeGeopoint, "12.5", true},
		{domain.QuestionTypeGeopoint, "north south", true},
		{domain.QuestionTypeText, "anything", false},
	}

	for _, tt := range tests {
		err := CoerceValue(tt.qtype, tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("CoerceValue(%s, %q) error = %v, wantErr %v", tt.qtype, tt.raw, err, tt.wantErr)
		}
	}
}
