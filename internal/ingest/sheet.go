package ingest

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format, expected .xlsx or .xls")
	// ErrUnreadableSheet wraps every failure to parse a file that claimed a
	// supported extension.
	ErrUnreadableSheet = errors.New("unreadable spreadsheet")
)

// ReadSheet parses the first worksheet of an .xlsx or .xls file. The format
// is picked from the file name extension.
func ReadSheet(filename string, r io.ReadSeeker) (Sheet, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		return readXLSX(r)
	case ".xls":
		return readXLS(r)
	default:
		return Sheet{}, ErrUnsupportedFormat
	}
}

func readXLSX(r io.Reader) (Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Sheet{}, fmt.Errorf("%w: failed to open xlsx: %w", ErrUnreadableSheet, err)
	}
	defer f.Close()

	names := f.GetSheetList()
	if len(names) == 0 {
		return Sheet{}, nil
	}
	grid, err := f.GetRows(names[0])
	if err != nil {
		return Sheet{}, fmt.Errorf("%w: failed to read sheet %q: %w", ErrUnreadableSheet, names[0], err)
	}
	return sheetFromGrid(grid), nil
}

func readXLS(r io.ReadSeeker) (Sheet, error) {
	wb, err := xls.OpenReader(r, "utf-8")
	if err != nil {
		return Sheet{}, fmt.Errorf("%w: failed to open xls: %w", ErrUnreadableSheet, err)
	}
	if wb == nil {
		return Sheet{}, fmt.Errorf("%w: no workbook stream in xls", ErrUnreadableSheet)
	}
	ws := wb.GetSheet(0)
	if ws == nil {
		return Sheet{}, nil
	}

	var grid [][]string
	width := 0
	for i := 0; i <= int(ws.MaxRow); i++ {
		row := xlsRow(ws, i)
		if row == nil {
			grid = append(grid, nil)
			continue
		}
		n := row.LastCol()
		if i == 0 {
			width = n
		}
		if n < width {
			n = width
		}
		cells := make([]string, n)
		for j := range cells {
			cells[j] = row.Col(j)
		}
		grid = append(grid, cells)
	}
	return sheetFromGrid(grid), nil
}

// xlsRow returns nil for rows the sheet has no record of. WorkSheet.Row
// panics on those.
func xlsRow(ws *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return ws.Row(i)
}

// sheetFromGrid uses the first row as headers. Blank headers become
// __EMPTY, __EMPTY_1, ... and repeated headers get a _1, _2 suffix so every
// column keeps its own key. Empty cells and fully empty rows are left out.
func sheetFromGrid(grid [][]string) Sheet {
	if len(grid) == 0 {
		return Sheet{}
	}

	used := map[string]int{}
	headers := make([]string, len(grid[0]))
	for i, raw := range grid[0] {
		h := strings.TrimSpace(raw)
		if h == "" {
			h = "__EMPTY"
		}
		base := h
		for {
			if _, taken := used[h]; !taken {
				break
			}
			used[base]++
			h = fmt.Sprintf("%s_%d", base, used[base])
		}
		used[h] = 0
		headers[i] = h
	}

	sheet := Sheet{Headers: headers}
	for _, cells := range grid[1:] {
		row := map[string]string{}
		for i, v := range cells {
			if i >= len(headers) || v == "" {
				continue
			}
			row[headers[i]] = v
		}
		if len(row) > 0 {
			sheet.Rows = append(sheet.Rows, row)
		}
	}
	return sheet
}
