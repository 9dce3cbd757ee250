// Package csv reads the arrival and demography CSV exports into records,
// row by row through encoding/csv.
//
// Rows whose width does not match the header are skipped and recorded in
// ReadStats (soft fail); numeric cells that fail to parse become NULL and are
// counted.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"i94etl/internal/records"
)

// Options configures the reader. Zero values get sensible defaults.
type Options struct {
	// Comma is the field delimiter. Arrivals default to ',' and demography
	// to ';'.
	Comma rune

	// TrimSpace trims leading/trailing spaces from each field value.
	TrimSpace bool

	// HeaderMap maps source header names to canonical column names, applied
	// before the built-in folding.
	HeaderMap map[string]string
}

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// StripHeaderBOM removes a UTF-8 BOM from the first header cell if present.
func StripHeaderBOM(headers []string) []string {
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], utf8BOM)
	}
	return headers
}

// ReadArrivals reads arrival rows. The header must contain cicid; columns the
// record does not know (such as a pandas index column) are ignored.
func ReadArrivals(r io.Reader, opt Options, log *zap.Logger) ([]records.Arrival, records.ReadStats, error) {
	if opt.Comma == 0 {
		opt.Comma = ','
	}
	var out []records.Arrival
	st, err := scan(r, opt, log, arrivalColumn, "cicid", func(line int, cols, row []string) int {
		a := records.Arrival{Line: line}
		bad := 0
		for i, c := range cols {
			if !a.Set(c, row[i]) {
				bad++
			}
		}
		out = append(out, a)
		return bad
	})
	return out, st, err
}

// ReadDemography reads US city demography rows. The header must contain City.
func ReadDemography(r io.Reader, opt Options, log *zap.Logger) ([]records.Demography, records.ReadStats, error) {
	if opt.Comma == 0 {
		opt.Comma = ';'
	}
	var out []records.Demography
	st, err := scan(r, opt, log, records.CanonicalColumn, "city", func(line int, cols, row []string) int {
		d := records.Demography{Line: line}
		bad := 0
		for i, c := range cols {
			if !d.Set(c, row[i]) {
				bad++
			}
		}
		out = append(out, d)
		return bad
	})
	return out, st, err
}

func arrivalColumn(h string) string { return strings.ToLower(strings.TrimSpace(h)) }

// scan reads the header, canonicalizes it and hands each well-formed row to
// emit, which returns the number of cells it could not parse.
func scan(
	r io.Reader,
	opt Options,
	log *zap.Logger,
	canon func(string) string,
	required string,
	emit func(line int, cols, row []string) int,
) (records.ReadStats, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var st records.ReadStats

	cr := csv.NewReader(r)
	cr.Comma = opt.Comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = opt.TrimSpace
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return st, fmt.Errorf("csv: empty input")
		}
		return st, fmt.Errorf("csv: read header: %w", err)
	}
	header = StripHeaderBOM(append([]string(nil), header...))
	cols := make([]string, len(header))
	found := false
	for i, h := range header {
		if m, ok := opt.HeaderMap[h]; ok {
			h = m
		}
		cols[i] = canon(h)
		if cols[i] == required {
			found = true
		}
	}
	if !found {
		return st, fmt.Errorf("csv: header has no %q column (got %v)", required, header)
	}

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				st.Skip(perr.Line, "malformed: "+perr.Err.Error())
				log.Warn("csv: skipped malformed row", zap.Int("line", perr.Line), zap.Error(err))
				continue
			}
			return st, fmt.Errorf("csv: read: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if len(row) != len(cols) {
			st.Skip(line, fmt.Sprintf("wrong width: %d fields, want %d", len(row), len(cols)))
			log.Warn("csv: skipped row with wrong width",
				zap.Int("line", line), zap.Int("fields", len(row)), zap.Int("want", len(cols)))
			continue
		}
		if opt.TrimSpace {
			for i := range row {
				row[i] = strings.TrimSpace(row[i])
			}
		}
		st.Rows++
		st.BadCells += emit(line, cols, row)
	}
	if st.BadCells > 0 {
		log.Info("csv: unparseable cells stored as NULL", zap.Int("cells", st.BadCells))
	}
	return st, nil
}
