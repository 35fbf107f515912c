package template

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rpattn/formsync/internal/domain"

	"github.com/beevik/etree"
	"github.com/google/uuid"
)

// UUIDPrefix is the canonical instanceID prefix required by the platform.
const UUIDPrefix = "uuid:"

// CanonicalUUID strips an optional "uuid:" prefix and validates the rest.
func CanonicalUUID(raw string) (string, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, UUIDPrefix))
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid instance uuid %q: %w", raw, err)
	}
	return parsed.String(), nil
}

// EnrichRequest carries the per-row values injected into a cloned skeleton.
type EnrichRequest struct {
	Row          domain.Row
	InstanceUUID string // canonical, without prefix
	UserID       string // editing-user marker, empty to omit
	TargetID     int64  // remote instance id, 0 for new submissions
}

// Enrich clones the skeleton, fills its leaf elements from the row, and
// injects the metadata the platform requires: the prefixed instanceID, the
// editing-user marker, the iasoInstance attribute for re-submission
// disambiguation, and location sub-elements when the row carries
// coordinates. Namespace declarations are re-applied last; the platform's
// parser rejects documents missing them even when unused, so their
// presence is part of this function's contract rather than a property of
// the document library.
func Enrich(skeleton *Skeleton, req EnrichRequest) (*etree.Document, error) {
	if _, err := uuid.Parse(req.InstanceUUID); err != nil {
		return nil, fmt.Errorf("invalid instance uuid %q: %w", req.InstanceUUID, err)
	}

	doc := skeleton.Clone()
	root := doc.Root()

	for _, field := range skeleton.Fields() {
		elem := findLeaf(root, field)
		if elem == nil {
			continue
		}
		elem.SetText(req.Row.Value(field))
	}

	meta := root.SelectElement("meta")
	if meta == nil {
		meta = root.CreateElement("meta")
	}
	instanceID := meta.SelectElement("instanceID")
	if instanceID == nil {
		instanceID = meta.CreateElement("instanceID")
	}
	instanceID.SetText(UUIDPrefix + req.InstanceUUID)

	if req.UserID != "" {
		editUser := meta.SelectElement("editUserID")
		if editUser == nil {
			editUser = meta.CreateElement("editUserID")
		}
		editUser.SetText(req.UserID)
	}

	if req.TargetID != 0 {
		root.CreateAttr("iasoInstance", strconv.FormatInt(req.TargetID, 10))
	}

	applyLocation(root, req.Row)

	// Re-declare namespaces regardless of what survived the round trip.
	root.CreateAttr("xmlns:jr", JavarosaNamespace)
	root.CreateAttr("xmlns:orx", XFormsNamespace)

	return doc, nil
}

// Serialize renders the document with stable two-space indentation so that
// generated files are byte-reproducible.
func Serialize(doc *etree.Document) ([]byte, error) {
	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize submission document: %w", err)
	}
	return out, nil
}

// applyLocation fills the gps element from the discrete coordinate columns
// when present. Altitude and accuracy default to 0, matching the mobile
// client's payloads.
func applyLocation(root *etree.Element, row domain.Row) {
	lat, hasLat := row.Coordinate(domain.ColumnLatitude)
	lon, hasLon := row.Coordinate(domain.ColumnLongitude)
	if !hasLat || !hasLon {
		return
	}
	alt, _ := row.Coordinate(domain.ColumnAltitude)
	acc, _ := row.Coordinate(domain.ColumnAccuracy)

	gps := findLeaf(root, "gps")
	if gps == nil {
		gps = root.CreateElement("gps")
	}
	gps.SetText(fmt.Sprintf("%s %s %s %s",
		formatCoord(lat), formatCoord(lon), formatCoord(alt), formatCoord(acc)))
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// findLeaf locates a named element directly under the root or inside the
// form's group wrapper.
func findLeaf(root *etree.Element, name string) *etree.Element {
	if elem := root.SelectElement(name); elem != nil {
		return elem
	}
	for _, child := range root.ChildElements() {
		if child.Tag == "meta" {
			continue
		}
		if elem := child.SelectElement(name); elem != nil {
			return elem
		}
	}
	return nil
}
