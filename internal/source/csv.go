// Package source turns external inputs (CSV, XLSX, FTP) into raw record
// rows for the ingest pipeline. Sources only reshape data; validation is the
// normalizer's job, so a malformed cell travels through as-is and fails the
// row there.
package source

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lattice-intel/cdrscope/internal/normalize"
)

// CSVOptions configures the CSV row source.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// ReadCSV parses a CSV stream into raw rows. The first line must be a header;
// columns whose headers do not map to a record field are dropped.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([]normalize.Row, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("source: csv input is empty")
	}
	if err != nil {
		return nil, eris.Wrap(err, "source: read csv header")
	}
	keys := mapHeader(header, opts.TrimSpace)

	var rows []normalize.Row
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "source: csv read cancelled")
		}

		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "source: read csv row %d", len(rows)+1)
		}

		rows = append(rows, rowFromRecord(keys, record, opts.TrimSpace))
	}
}

// mapHeader resolves each header cell to its canonical field key. Unmapped
// columns get an empty key and are skipped during row assembly.
func mapHeader(header []string, trim bool) []string {
	keys := make([]string, len(header))
	for i, cell := range header {
		if trim {
			cell = strings.TrimSpace(cell)
		}
		key, ok := normalize.CanonicalKey(cell)
		if !ok {
			zap.L().Debug("source: ignoring unmapped column", zap.String("header", cell))
			continue
		}
		keys[i] = key
	}
	return keys
}

func rowFromRecord(keys []string, record []string, trim bool) normalize.Row {
	row := make(normalize.Row, len(keys))
	for i, key := range keys {
		if key == "" || i >= len(record) {
			continue
		}
		value := record[i]
		if trim {
			value = strings.TrimSpace(value)
		}
		row[key] = value
	}
	return row
}
