package domain

import (
	"strconv"
	"strings"
)

// Reserved column names carried by submission files. They drive strategy
// classification and metadata enrichment and are never form questions.
const (
	ColumnID          = "id"
	ColumnInstanceID  = "instanceID"
	ColumnOrgUnitID   = "org_unit_id"
	ColumnFormVersion = "form_version"
	ColumnLatitude    = "latitude"
	ColumnLongitude   = "longitude"
	ColumnAltitude    = "altitude"
	ColumnAccuracy    = "accuracy"
)

// Row is a single record from a submission file: an ordered set of column
// names and their raw string values. Rows are immutable once read;
// transformations work on copies of the extracted values.
type Row struct {
	number  int
	columns []string
	values  map[string]string
}

// NewRow builds a row from the parsed file. The number is the 1-based data
// row position in the source file, used only for log lines.
func NewRow(number int, columns []string, values map[string]string) Row {
	cols := make([]string, len(columns))
	copy(cols, columns)
	vals := make(map[string]string, len(values))
	for k, v := range values {
		vals[k] = strings.TrimSpace(v)
	}
	return Row{number: number, columns: cols, values: vals}
}

// Number returns the 1-based position of the row in the source file.
func (r Row) Number() int {
	return r.number
}

// Columns returns the column names in file order.
func (r Row) Columns() []string {
	cols := make([]string, len(r.columns))
	copy(cols, r.columns)
	return cols
}

// Get returns the trimmed value for a column and whether the column exists.
func (r Row) Get(name string) (string, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Value returns the trimmed value for a column, or "" when absent.
func (r Row) Value(name string) string {
	return r.values[name]
}

// Has reports whether the column exists and carries a non-empty value.
func (r Row) Has(name string) bool {
	return r.values[name] != ""
}

// HasColumn reports whether the column exists at all, even when empty.
func (r Row) HasColumn(name string) bool {
	_, ok := r.values[name]
	return ok
}

// ID parses the remote numeric instance identifier from the id column.
func (r Row) ID() (int64, bool) {
	raw := r.values[ColumnID]
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Exported files sometimes carry ids as "123.0".
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != float64(int64(f)) {
			return 0, false
		}
		id = int64(f)
	}
	return id, true
}

// OrgUnitID parses the organisational unit identifier column.
func (r Row) OrgUnitID() (int64, bool) {
	raw := r.values[ColumnOrgUnitID]
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != float64(int64(f)) {
			return 0, false
		}
		id = int64(f)
	}
	return id, true
}

// InstanceUUID returns the raw instanceID column value, which may or may
// not carry the "uuid:" prefix.
func (r Row) InstanceUUID() string {
	return r.values[ColumnInstanceID]
}

// FormVersion returns the per-row form version discriminator, or "".
func (r Row) FormVersion() string {
	return r.values[ColumnFormVersion]
}

// Coordinate parses one of the location columns as a float.
func (r Row) Coordinate(name string) (float64, bool) {
	raw := r.values[name]
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
