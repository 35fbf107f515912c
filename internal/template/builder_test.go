package template

import (
	"testing"

	"github.com/rpattn/formsync/internal/domain"
)

func surveyVersion() domain.FormVersion {
	return domain.FormVersion{
		ID:     "2023091201",
		FormID: "health_survey",
		Questions: []domain.Question{
			{Name: "name", Type: domain.QuestionTypeText},
			{Name: "age", Type: domain.QuestionTypeInteger},
			{Name: "sex", Type: domain.QuestionType("select_one sex")},
		},
	}
}

func groupedVersion() domain.FormVersion {
	return domain.FormVersion{
		ID:     "2023091202",
		FormID: "health_survey",
		Questions: []domain.Question{
			{Name: "main", Type: domain.QuestionTypeBeginGroup},
			{Name: "name", Type: domain.QuestionTypeText},
			{Name: "age", Type: domain.QuestionTypeInteger},
			{Name: "", Type: domain.QuestionTypeEndGroup},
		},
	}
}

func TestBuildRestrictsToPresentColumns(t *testing.T) {
	builder := NewBuilder()
	skeleton := builder.Build(surveyVersion(), []string{"org_unit_id", "age", "name"})

	fields := skeleton.Fields()
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %v", fields)
	}
	// Form order wins over file order.
	if fields[0] != "name" || fields[1] != "age" {
		t.Fatalf("fields out of declared order: %v", fields)
	}
}

func TestBuildDocumentShape(t *testing.T) {
	builder := NewBuilder()
	skeleton := builder.Build(surveyVersion(), []string{"name", "age", "sex"})

	doc := skeleton.Clone()
	root := doc.Root()
	if root.Tag != "data" {
		t.Fatalf("expected data root, got %s", root.Tag)
	}
	if got := root.SelectAttrValue("id", ""); got != "health_survey" {
		t.Fatalf("unexpected id attribute: %q", got)
	}
	if got := root.SelectAttrValue("version", ""); got != "2023091201" {
		t.Fatalf("unexpected version attribute: %q", got)
	}
	if root.SelectAttrValue("xmlns:jr", "") != JavarosaNamespace {
		t.Fatal("jr namespace missing")
	}
	if root.SelectAttrValue("xmlns:orx", "") != XFormsNamespace {
		t.Fatal("orx namespace missing")
	}

	meta := root.SelectElement("meta")
	if meta == nil || meta.SelectElement("instanceID") == nil {
		t.Fatal("meta/instanceID block missing")
	}
	for _, name := range []string{"name", "age", "sex"} {
		if root.SelectElement(name) == nil {
			t.Fatalf("leaf %s missing", name)
		}
	}
}

func TestBuildWrapsGroupedForms(t *testing.T) {
	builder := NewBuilder()
	skeleton := builder.Build(groupedVersion(), []string{"name", "age"})

	root := skeleton.Clone().Root()
	group := root.SelectElement("main")
	if group == nil {
		t.Fatal("group wrapper missing")
	}
	if group.SelectElement("name") == nil || group.SelectElement("age") == nil {
		t.Fatal("leaves should live inside the group wrapper")
	}
	if root.SelectElement("name") != nil {
		t.Fatal("leaves must not be duplicated at the root")
	}
}

func TestBuildMemoizesPerVersion(t *testing.T) {
	builder := NewBuilder()
	columns := []string{"name", "age"}

	first := builder.Build(surveyVersion(), columns)
	second := builder.Build(surveyVersion(), columns)
	if first != second {
		t.Fatal("same version should return the cached skeleton")
	}

	other := builder.Build(groupedVersion(), columns)
	if other == first {
		t.Fatal("distinct versions must not share a skeleton")
	}
	if other.VersionID() == first.VersionID() {
		t.Fatal("skeletons should carry their own version id")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	builder := NewBuilder()
	skeleton := builder.Build(surveyVersion(), []string{"name"})

	first := skeleton.Clone()
	first.Root().SelectElement("name").SetText("mutated")

	second := skeleton.Clone()
	if got := second.Root().SelectElement("name").Text(); got != "" {
		t.Fatalf("clone leaked state from a previous row: %q", got)
	}
}
