package tabular

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SheetInfo describes one sheet folded into a concatenation.
type SheetInfo struct {
	Name    string
	Rows    int
	Columns int
}

// ConcatSheets stacks every sheet of an Excel workbook into one frame.
// Headers are lowercased; every sheet must carry the columns of the first
// sheet in the same order, otherwise ErrSheetMismatch names the offender.
func ConcatSheets(path string) (*Frame, []SheetInfo, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".xlsx" && ext != ".xlsm" {
		return nil, nil, fmt.Errorf("%w: %s is not an excel workbook", ErrUnsupportedFormat, path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	book, err := excelize.OpenReader(file)
	if err != nil {
		return nil, nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = book.Close() }()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("workbook %s has no sheets", path)
	}

	var out *Frame
	infos := make([]SheetInfo, 0, len(sheets))
	for _, name := range sheets {
		rows, err := book.GetRows(name)
		if err != nil {
			return nil, nil, fmt.Errorf("read rows from sheet %q: %w", name, err)
		}
		frame, err := buildFrame(rows, true)
		if err != nil {
			return nil, nil, fmt.Errorf("sheet %q: %w", name, err)
		}
		infos = append(infos, SheetInfo{Name: name, Rows: frame.Len(), Columns: len(frame.Columns)})

		if out == nil {
			out = frame
			continue
		}
		if !slices.Equal(out.Columns, frame.Columns) {
			return nil, nil, fmt.Errorf("%w: sheet %q has columns %v, first sheet has %v",
				ErrSheetMismatch, name, frame.Columns, out.Columns)
		}
		out.Rows = append(out.Rows, frame.Rows...)
	}
	return out, infos, nil
}
