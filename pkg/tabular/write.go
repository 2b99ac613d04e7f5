package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// DefaultSheet is the sheet name used when writing workbooks.
const DefaultSheet = "Sheet1"

// WriteFile writes f to path as CSV or XLSX depending on the extension.
// The file is written to a temporary sibling and renamed into place, so a
// failed write never leaves a truncated output behind.
func WriteFile(path string, f *Frame) error {
	ext := strings.ToLower(filepath.Ext(path))
	var write func(io.Writer, *Frame) error
	switch ext {
	case ".csv":
		write = WriteCSV
	case ".xlsx":
		write = func(w io.Writer, f *Frame) error { return WriteXLSX(w, f, DefaultSheet) }
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp, f); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// WriteCSV writes a header line followed by every row.
func WriteCSV(w io.Writer, f *Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(f.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteXLSX writes f as a single-sheet workbook.
func WriteXLSX(w io.Writer, f *Frame, sheet string) error {
	book := excelize.NewFile()
	defer func() { _ = book.Close() }()

	if sheet == "" {
		sheet = DefaultSheet
	}
	if sheet != DefaultSheet {
		if err := book.SetSheetName(DefaultSheet, sheet); err != nil {
			return fmt.Errorf("name sheet: %w", err)
		}
	}

	sw, err := book.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("stream writer: %w", err)
	}
	if err := writeRow(sw, 1, f.Columns); err != nil {
		return err
	}
	for i, row := range f.Rows {
		if err := writeRow(sw, i+2, row); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	return book.Write(w)
}

func writeRow(sw *excelize.StreamWriter, rowNum int, cells []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	values := make([]interface{}, len(cells))
	for i, c := range cells {
		values[i] = c
	}
	if err := sw.SetRow(cell, values); err != nil {
		return fmt.Errorf("write row %d: %w", rowNum, err)
	}
	return nil
}
