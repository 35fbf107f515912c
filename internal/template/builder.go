// Package template builds the OpenRosa submission documents.
package template

import (
	"github.com/rpattn/formsync/internal/domain"

	"github.com/beevik/etree"
)

// Namespace declarations the platform's parser requires on every
// submission document, whether or not any element uses them.
const (
	JavarosaNamespace = "http://openrosa.org/javarosa"
	XFormsNamespace   = "http://openrosa.org/xforms"
)

// Skeleton is the reusable document shape for one form version: one leaf
// element per question column present in the input file, in the form's
// declared order, plus the meta block. Skeletons are cloned and filled per
// row, never mutated.
type Skeleton struct {
	versionID string
	fields    []string
	doc       *etree.Document
}

// VersionID returns the form version the skeleton was built for.
func (s *Skeleton) VersionID() string {
	return s.versionID
}

// Fields returns the question columns the skeleton includes, in order.
func (s *Skeleton) Fields() []string {
	fields := make([]string, len(s.fields))
	copy(fields, s.fields)
	return fields
}

// Clone returns an independent copy of the skeleton document.
func (s *Skeleton) Clone() *etree.Document {
	return s.doc.Copy()
}

// Builder produces document skeletons, memoized by version identifier for
// the lifetime of one run. The cache is owned by the run, not the process.
type Builder struct {
	skeletons map[string]*Skeleton
}

// NewBuilder creates an empty run-scoped builder.
func NewBuilder() *Builder {
	return &Builder{skeletons: make(map[string]*Skeleton)}
}

// Build returns the skeleton for a form version, restricted to the columns
// actually present in the input file. Unknown columns are dropped
// silently. Repeated calls for the same version return the cached
// skeleton.
func (b *Builder) Build(version domain.FormVersion, columns []string) *Skeleton {
	if cached, ok := b.skeletons[version.ID]; ok {
		return cached
	}

	present := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		present[col] = struct{}{}
	}

	var fields []string
	for _, name := range version.QuestionNames() {
		if _, ok := present[name]; ok {
			fields = append(fields, name)
		}
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("data")
	root.CreateAttr("xmlns:jr", JavarosaNamespace)
	root.CreateAttr("xmlns:orx", XFormsNamespace)
	root.CreateAttr("id", version.FormID)
	root.CreateAttr("version", version.ID)

	parent := root
	if group := version.GroupName(); group != "" {
		parent = root.CreateElement(group)
	}
	for _, field := range fields {
		parent.CreateElement(field)
	}

	meta := root.CreateElement("meta")
	meta.CreateElement("instanceID")

	skeleton := &Skeleton{versionID: version.ID, fields: fields, doc: doc}
	b.skeletons[version.ID] = skeleton
	return skeleton
}
