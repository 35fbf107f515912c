package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rpattn/formsync/internal/domain"
)

// Subdirectories for generated documents, per action. Deletes produce no
// file and have no folder.
const (
	createsDir = "creates"
	updatesDir = "updates"
)

// Writer persists generated documents and the run summary under the
// output directory.
type Writer struct {
	base string
}

// NewWriter builds a writer rooted at the output directory.
func NewWriter(base string) *Writer {
	return &Writer{base: filepath.Clean(base)}
}

// Base returns the output directory root.
func (w *Writer) Base() string {
	return w.base
}

// EnsureLayout creates the output directory tree.
func (w *Writer) EnsureLayout() error {
	if strings.TrimSpace(w.base) == "" {
		return fmt.Errorf("output directory is not configured")
	}
	for _, dir := range []string{w.base, filepath.Join(w.base, createsDir), filepath.Join(w.base, updatesDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure output directory: %w", err)
		}
	}
	return nil
}

// WriteDocument stores a generated document in the action's folder and
// returns the absolute path.
func (w *Writer) WriteDocument(action domain.Action, fileName string, xml []byte) (string, error) {
	var dir string
	switch action {
	case domain.ActionCreate:
		dir = createsDir
	case domain.ActionUpdate:
		dir = updatesDir
	default:
		return "", fmt.Errorf("action %s produces no document", action)
	}

	path := filepath.Join(w.base, dir, fileName)
	if err := os.WriteFile(path, xml, 0o644); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	return path, nil
}

// WriteSummary stores the run-end counters as JSON next to the documents.
func (w *Writer) WriteSummary(summary domain.Summary) (string, error) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(w.base, "summary.json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, nil
}

// SanitizeName normalizes a form name into a safe path component.
func SanitizeName(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		case r == ' ':
			builder.WriteRune('_')
		default:
			builder.WriteRune('_')
		}
	}
	result := strings.Trim(builder.String(), "_")
	if result == "" {
		return "form"
	}
	return result
}

// DefaultOutputDir is the output location used when the caller does not
// pick one.
func DefaultOutputDir(formName string) string {
	return filepath.Join("iaso-pipelines", "import-submissions", SanitizeName(formName))
}
