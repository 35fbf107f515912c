package ingestion

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestReadFileCSV(t *testing.T) {
	data := "org unit id,name,age\n101,Alice,30\n\n102,Bob,25\n"

	rows, err := ReadFile("submissions.csv", strings.NewReader(data))
	if err != nil {
		t.Fatalf("read returned error: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	cols := rows[0].Columns()
	if len(cols) != 3 || cols[0] != "org_unit_id" || cols[1] != "name" || cols[2] != "age" {
		t.Fatalf("unexpected sanitized headers: %v", cols)
	}
	if rows[0].Value("name") != "Alice" || rows[1].Value("age") != "25" {
		t.Fatalf("unexpected values: %v %v", rows[0], rows[1])
	}
	if rows[0].Number() != 1 || rows[1].Number() != 2 {
		t.Fatalf("unexpected row numbers: %d %d", rows[0].Number(), rows[1].Number())
	}
}

func TestReadFileStripsByteOrderMark(t *testing.T) {
	data := "\xEF\xBB\xBFid,name\n7,Alpha\n"

	rows, err := ReadFile("data.csv", strings.NewReader(data))
	if err != nil {
		t.Fatalf("read returned error: %v", err)
	}
	if !rows[0].HasColumn("id") {
		t.Fatalf("BOM was not stripped from the first header: %v", rows[0].Columns())
	}
	if id, ok := rows[0].ID(); !ok || id != 7 {
		t.Fatalf("expected id 7, got %d (%v)", id, ok)
	}
}

func TestReadFileShortRowsArePadded(t *testing.T) {
	data := "a,b,c\n1,2\n"

	rows, err := ReadFile("short.csv", strings.NewReader(data))
	if err != nil {
		t.Fatalf("read returned error: %v", err)
	}
	if v, ok := rows[0].Get("c"); !ok || v != "" {
		t.Fatalf("expected padded empty value for c, got %q (%v)", v, ok)
	}
}

func TestReadFileXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetList()[0]
	_ = f.SetSheetRow(sheet, "A1", &[]any{"org_unit_id", "name"})
	_ = f.SetSheetRow(sheet, "A2", &[]any{"201", "Clinic A"})
	_ = f.SetSheetRow(sheet, "A3", &[]any{"202", "Clinic B"})

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("failed to build workbook: %v", err)
	}

	rows, err := ReadFile("submissions.xlsx", &buf)
	if err != nil {
		t.Fatalf("read returned error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[1].Value("name") != "Clinic B" {
		t.Fatalf("unexpected value: %q", rows[1].Value("name"))
	}
}

func TestReadFileUnsupportedFormat(t *testing.T) {
	_, err := ReadFile("data.parquet", strings.NewReader("x"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestReadFileEmpty(t *testing.T) {
	if _, err := ReadFile("empty.csv", strings.NewReader("")); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile for empty payload, got %v", err)
	}
	if _, err := ReadFile("headeronly.csv", strings.NewReader("a,b\n")); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile for header-only file, got %v", err)
	}
}
