package source

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/lattice-intel/cdrscope/internal/normalize"
)

// XLSXOptions configures the spreadsheet row source.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	TrimSpace  bool
}

// ReadXLSX parses a spreadsheet into raw rows. The first row of the selected
// sheet must be a header; unmapped columns are dropped.
func ReadXLSX(path string, opts XLSXOptions) ([]normalize.Row, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open xlsx %s", path)
	}
	return sheetRows(f, opts)
}

// ReadXLSXBytes is ReadXLSX over an in-memory file, for uploads.
func ReadXLSXBytes(data []byte, opts XLSXOptions) ([]normalize.Row, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "source: open xlsx bytes")
	}
	return sheetRows(f, opts)
}

func sheetRows(f *xlsx.File, opts XLSXOptions) ([]normalize.Row, error) {
	sheet, err := pickSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.New("source: xlsx sheet is empty")
	}

	keys := mapHeader(cellStrings(sheet.Rows[0]), opts.TrimSpace)

	var rows []normalize.Row
	for _, row := range sheet.Rows[1:] {
		rows = append(rows, rowFromRecord(keys, cellStrings(row), opts.TrimSpace))
	}
	return rows, nil
}

func pickSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("source: xlsx sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("source: xlsx sheet index %d out of range (file has %d sheets)",
			opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func cellStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}
