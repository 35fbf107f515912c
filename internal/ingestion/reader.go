// Package ingestion reads submission files (CSV or XLSX) into rows.
package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rpattn/formsync/internal/domain"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned when a submission file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrEmptyFile is returned when the file carries no data rows.
	ErrEmptyFile = errors.New("file contains no data rows")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// ReadFile parses a submission file into rows. The first non-empty line is
// the header; subsequent empty lines are dropped.
func ReadFile(fileName string, data io.Reader) ([]domain.Row, error) {
	payload, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read submission file: %w", err)
	}
	if len(payload) == 0 {
		return nil, ErrEmptyFile
	}

	var records [][]string
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		records, err = parseCSV(payload)
	case ".xlsx", ".xls":
		records, err = parseExcel(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}

	return buildRows(records)
}

func parseCSV(payload []byte) ([][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}

func parseExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return rows, nil
}

func buildRows(records [][]string) ([]domain.Row, error) {
	var headerRow []string
	var dataRows [][]string
	for _, record := range records {
		if len(cleanRow(record)) == 0 {
			continue
		}
		if headerRow == nil {
			headerRow = record
			continue
		}
		dataRows = append(dataRows, record)
	}

	if headerRow == nil {
		return nil, errors.New("header row could not be detected")
	}
	if len(dataRows) == 0 {
		return nil, ErrEmptyFile
	}

	headers := sanitizeHeaders(headerRow)

	rows := make([]domain.Row, 0, len(dataRows))
	for idx, record := range dataRows {
		record = padRow(record, len(headers))
		values := make(map[string]string, len(headers))
		for col, header := range headers {
			values[header] = record[col]
		}
		rows = append(rows, domain.NewRow(idx+1, headers, values))
	}
	return rows, nil
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

// sanitizeHeaders normalizes header cells into column names usable as XML
// element names, deduplicating collisions.
func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
