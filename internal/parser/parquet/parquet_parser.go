// Package parquet reads I-94 arrival extracts stored as parquet (the SAS
// export converted by Spark) into records.
package parquet

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	arrowpq "github.com/apache/arrow/go/v10/parquet"
	"go.uber.org/zap"

	"i94etl/internal/records"
	"i94etl/internal/schema"
	"i94etl/internal/storage/columnar"
)

var sasEpoch = time.Date(1960, time.January, 1, 0, 0, 0, 0, time.UTC)

// ReadArrivals decodes the parquet file behind r, typically a *bytes.Reader
// over the fetched object. Column names are matched case-insensitively; a
// cicid column is required.
func ReadArrivals(ctx context.Context, r arrowpq.ReaderAtSeeker, log *zap.Logger) ([]records.Arrival, records.ReadStats, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var st records.ReadStats

	frame, err := columnar.Decode(ctx, r)
	if err != nil {
		return nil, st, fmt.Errorf("parquet: %w", err)
	}

	cols := make([]string, len(frame.Columns))
	found := false
	for i, c := range frame.Columns {
		cols[i] = strings.ToLower(strings.TrimSpace(c))
		found = found || cols[i] == "cicid"
	}
	if !found {
		return nil, st, fmt.Errorf("parquet: no cicid column (got %v)", frame.Columns)
	}

	out := make([]records.Arrival, 0, len(frame.Rows))
	for i, row := range frame.Rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, st, err
			}
		}
		a := records.Arrival{Line: i + 1}
		for c, v := range row {
			if !a.Set(cols[c], cellText(v)) {
				st.BadCells++
			}
		}
		out = append(out, a)
		st.Rows++
	}
	if st.BadCells > 0 {
		log.Info("parquet: unparseable cells stored as NULL", zap.Int("cells", st.BadCells))
	}
	return out, st, nil
}

// cellText renders a decoded cell the way the CSV export would. Dates are
// turned back into SAS day serials so arrdate/depdate parse uniformly.
func cellText(v any) string {
	if t, ok := v.(time.Time); ok {
		days := t.Sub(sasEpoch).Hours() / 24
		return strconv.FormatFloat(days, 'f', -1, 64)
	}
	return schema.FormatValue(v)
}
