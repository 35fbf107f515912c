// Package formmodel loads versioned form definitions from the platform.
package formmodel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/formsync/internal/domain"

	"github.com/xuri/excelize/v2"
)

// ErrVersionNotFound marks a row referencing a form version the platform
// does not know. The row is ignored; the run continues.
var ErrVersionNotFound = errors.New("form version not found")

// PlatformAPI is the subset of the platform client the loader consumes.
type PlatformAPI interface {
	GetFormInfo(ctx context.Context, formID int64) (domain.FormInfo, error)
	LatestVersionFileURL(ctx context.Context, formID int64) (versionID string, fileURL string, err error)
	VersionFileURL(ctx context.Context, formID int64, versionID string) (string, error)
	Download(ctx context.Context, fileURL string) ([]byte, error)
}

// Loader fetches form versions and caches them by version identifier for
// the lifetime of one run. The cache is populated on first use and
// read-only afterwards; the pipeline is strictly sequential so no locking
// is needed.
type Loader struct {
	api      PlatformAPI
	formID   int64
	info     *domain.FormInfo
	versions map[string]domain.FormVersion
}

// NewLoader builds a run-scoped loader for one form.
func NewLoader(api PlatformAPI, formID int64) *Loader {
	return &Loader{
		api:      api,
		formID:   formID,
		versions: make(map[string]domain.FormVersion),
	}
}

// Info returns the form's identity, fetching it on first use.
func (l *Loader) Info(ctx context.Context) (domain.FormInfo, error) {
	if l.info != nil {
		return *l.info, nil
	}
	info, err := l.api.GetFormInfo(ctx, l.formID)
	if err != nil {
		return domain.FormInfo{}, err
	}
	l.info = &info
	return info, nil
}

// Latest returns the form's latest version.
func (l *Loader) Latest(ctx context.Context) (domain.FormVersion, error) {
	versionID, fileURL, err := l.api.LatestVersionFileURL(ctx, l.formID)
	if err != nil {
		return domain.FormVersion{}, err
	}
	if cached, ok := l.versions[versionID]; ok {
		return cached, nil
	}
	if fileURL == "" {
		return domain.FormVersion{}, fmt.Errorf("form %d has no published version", l.formID)
	}
	return l.fetch(ctx, versionID, fileURL)
}

// Version returns a specific form version, resolving and caching it on
// first use. Unknown versions return ErrVersionNotFound.
func (l *Loader) Version(ctx context.Context, versionID string) (domain.FormVersion, error) {
	if cached, ok := l.versions[versionID]; ok {
		return cached, nil
	}
	fileURL, err := l.api.VersionFileURL(ctx, l.formID, versionID)
	if err != nil {
		return domain.FormVersion{}, err
	}
	if fileURL == "" {
		return domain.FormVersion{}, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}
	return l.fetch(ctx, versionID, fileURL)
}

func (l *Loader) fetch(ctx context.Context, versionID, fileURL string) (domain.FormVersion, error) {
	data, err := l.api.Download(ctx, fileURL)
	if err != nil {
		return domain.FormVersion{}, fmt.Errorf("fetch form version %s: %w", versionID, err)
	}

	info, err := l.Info(ctx)
	if err != nil {
		return domain.FormVersion{}, err
	}

	version, err := ParseWorkbook(data)
	if err != nil {
		return domain.FormVersion{}, fmt.Errorf("parse form version %s: %w", versionID, err)
	}
	version.ID = versionID
	version.FormID = info.FormID

	l.versions[versionID] = version
	return version, nil
}

// ParseWorkbook reads an XLSForm workbook: the survey sheet defines the
// questions, the choices sheet the allowed values of select questions.
func ParseWorkbook(data []byte) (domain.FormVersion, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return domain.FormVersion{}, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	surveySheet := findSheet(f, "survey")
	if surveySheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return domain.FormVersion{}, errors.New("workbook has no sheets")
		}
		surveySheet = sheets[0]
	}

	questions, err := parseSurvey(f, surveySheet)
	if err != nil {
		return domain.FormVersion{}, err
	}

	var choices []domain.Choice
	if choicesSheet := findSheet(f, "choices"); choicesSheet != "" {
		choices, err = parseChoices(f, choicesSheet)
		if err != nil {
			return domain.FormVersion{}, err
		}
	}

	return domain.FormVersion{Questions: questions, Choices: choices}, nil
}

func findSheet(f *excelize.File, name string) string {
	for _, sheet := range f.GetSheetList() {
		if strings.EqualFold(strings.TrimSpace(sheet), name) {
			return sheet
		}
	}
	return ""
}

func parseSurvey(f *excelize.File, sheet string) ([]domain.Question, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read survey sheet: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("survey sheet is empty")
	}

	cols := columnIndex(rows[0])
	var questions []domain.Question
	for _, row := range rows[1:] {
		qtype := strings.TrimSpace(cell(row, col(cols, "type")))
		name := strings.TrimSpace(cell(row, col(cols, "name")))
		if qtype == "" && name == "" {
			continue
		}
		questions = append(questions, domain.Question{
			Name:        name,
			Type:        domain.QuestionType(qtype),
			Label:       strings.TrimSpace(cell(row, col(cols, "label"))),
			Required:    strings.EqualFold(strings.TrimSpace(cell(row, col(cols, "required"))), "yes"),
			Constraint:  strings.TrimSpace(cell(row, col(cols, "constraint"))),
			Calculation: strings.TrimSpace(cell(row, col(cols, "calculation"))),
		})
	}
	return questions, nil
}

func parseChoices(f *excelize.File, sheet string) ([]domain.Choice, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read choices sheet: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	cols := columnIndex(rows[0])
	listCol, ok := cols["list_name"]
	if !ok {
		listCol, ok = cols["list name"]
	}
	if !ok {
		// Workbooks without a list column cannot drive choice validation.
		return nil, nil
	}

	var choices []domain.Choice
	for _, row := range rows[1:] {
		listName := strings.TrimSpace(cell(row, listCol))
		if listName == "" {
			continue
		}
		choices = append(choices, domain.Choice{
			ListName: listName,
			Value:    strings.TrimSpace(cell(row, col(cols, "name"))),
			Label:    strings.TrimSpace(cell(row, col(cols, "label"))),
		})
	}
	return choices, nil
}

func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for idx, value := range header {
		name := strings.ToLower(strings.TrimSpace(value))
		if name == "" {
			continue
		}
		if _, exists := cols[name]; !exists {
			cols[name] = idx
		}
	}
	return cols
}

func col(cols map[string]int, name string) int {
	if idx, ok := cols[name]; ok {
		return idx
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
