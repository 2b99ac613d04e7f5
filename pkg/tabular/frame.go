// Package tabular reads and writes the flat files the resolver consumes and
// produces: CSV, and XLSX through excelize.
package tabular

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for file extensions without a reader or writer.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrNoHeader is returned when no non-blank row can serve as header.
	ErrNoHeader = errors.New("header row could not be detected")
	// ErrSheetMismatch is returned when workbook sheets do not share the same columns.
	ErrSheetMismatch = errors.New("sheet columns differ")
)

// Frame is an in-memory table of text cells. Every row has len(Columns) cells.
type Frame struct {
	Columns []string
	Rows    [][]string
}

// NewFrame returns an empty frame with the given columns.
func NewFrame(columns ...string) *Frame {
	return &Frame{Columns: columns}
}

// Len returns the number of data rows.
func (f *Frame) Len() int {
	return len(f.Rows)
}

// Index returns the position of column name, matched case-insensitively and
// ignoring surrounding whitespace, or -1.
func (f *Frame) Index(name string) int {
	want := headerKey(name)
	for i, c := range f.Columns {
		if headerKey(c) == want {
			return i
		}
	}
	return -1
}

// Append adds a row, padding or truncating it to the frame width.
func (f *Frame) Append(row ...string) {
	f.Rows = append(f.Rows, padRow(row, len(f.Columns)))
}

// Records returns the rows as column-name maps, for JSON responses.
func (f *Frame) Records() []map[string]string {
	out := make([]map[string]string, len(f.Rows))
	for i, row := range f.Rows {
		m := make(map[string]string, len(f.Columns))
		for j, c := range f.Columns {
			m[c] = row[j]
		}
		out[i] = m
	}
	return out
}

func headerKey(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, "\ufeff")))
}

// buildFrame picks the first non-blank record as header, drops blank rows and
// pads the remaining rows to the header width.
func buildFrame(records [][]string, lowerHeaders bool) (*Frame, error) {
	var header []string
	var rows [][]string
	for _, rec := range records {
		if isBlank(rec) {
			continue
		}
		if header == nil {
			header = rec
			continue
		}
		rows = append(rows, rec)
	}
	if header == nil {
		return nil, ErrNoHeader
	}

	f := &Frame{Columns: sanitizeHeaders(header, lowerHeaders)}
	for _, row := range rows {
		f.Rows = append(f.Rows, padRow(row, len(f.Columns)))
	}
	return f, nil
}

func sanitizeHeaders(raw []string, lower bool) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(strings.TrimPrefix(value, "\ufeff"))
		if lower {
			name = strings.ToLower(name)
		}
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
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
