package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// ReadOptions tunes how a file is turned into a Frame.
type ReadOptions struct {
	// Sheet selects the workbook sheet; empty means the first sheet.
	Sheet string
	// Delimiter overrides the CSV field separator (default ',').
	Delimiter rune
	// Encoding transcodes non-UTF-8 CSV input (e.g. "windows-1252").
	Encoding string
	// LowerHeaders lowercases column names.
	LowerHeaders bool
}

// ReadFile reads a .csv or .xlsx file into a Frame.
func ReadFile(path string, opts ReadOptions) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Read(filepath.Base(path), f, opts)
}

// Read dispatches on the extension of name.
func Read(name string, r io.Reader, opts ReadOptions) (*Frame, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".csv", ".txt":
		return ReadCSV(r, opts)
	case ".xlsx", ".xlsm":
		return ReadXLSX(r, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// ReadCSV reads delimited text. A leading UTF-8 byte order mark is dropped.
func ReadCSV(r io.Reader, opts ReadOptions) (*Frame, error) {
	if enc := opts.Encoding; enc != "" && !isUTF8(enc) {
		e, err := htmlindex.Get(enc)
		if err != nil {
			return nil, fmt.Errorf("unsupported encoding %q: %w", enc, err)
		}
		r = transform.NewReader(r, e.NewDecoder())
	}

	reader := bufio.NewReader(r)
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	if opts.Delimiter != 0 {
		csvReader.Comma = opts.Delimiter
	}
	csvReader.LazyQuotes = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return buildFrame(records, opts.LowerHeaders)
}

// ReadXLSX reads one sheet of a workbook.
func ReadXLSX(r io.Reader, opts ReadOptions) (*Frame, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet := opts.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read rows from sheet %q: %w", sheet, err)
	}
	frame, err := buildFrame(rows, opts.LowerHeaders)
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sheet, err)
	}
	return frame, nil
}

func isUTF8(enc string) bool {
	e := strings.ToLower(strings.ReplaceAll(enc, "-", ""))
	return e == "utf8" || e == ""
}
