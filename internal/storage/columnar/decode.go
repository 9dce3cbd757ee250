package columnar

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet"
	"github.com/apache/arrow/go/v10/parquet/file"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
)

// Frame is a decoded parquet file: column names and row values. Values are
// int64, float64, string, time.Time (dates and timestamps, UTC) or nil.
type Frame struct {
	Columns []string
	Rows    [][]any
}

// Decode reads a whole parquet file. Narrow integer and float columns are
// widened to int64 and float64.
func Decode(ctx context.Context, r parquet.ReaderAtSeeker) (*Frame, error) {
	pf, err := file.NewParquetReader(r)
	if err != nil {
		return nil, fmt.Errorf("columnar: open parquet: %w", err)
	}
	defer pf.Close()

	mem := memory.NewGoAllocator()
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("columnar: arrow reader: %w", err)
	}
	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("columnar: read table: %w", err)
	}
	defer tbl.Release()

	ncols := int(tbl.NumCols())
	nrows := int(tbl.NumRows())
	f := &Frame{Columns: make([]string, ncols), Rows: make([][]any, nrows)}
	for i := range f.Rows {
		f.Rows[i] = make([]any, ncols)
	}
	for c := 0; c < ncols; c++ {
		col := tbl.Column(c)
		f.Columns[c] = col.Name()
		r := 0
		for _, chunk := range col.Data().Chunks() {
			for i := 0; i < chunk.Len(); i++ {
				v, err := cell(chunk, i)
				if err != nil {
					return nil, fmt.Errorf("columnar: column %s: %w", col.Name(), err)
				}
				f.Rows[r][c] = v
				r++
			}
		}
	}
	return f, nil
}

func cell(a arrow.Array, i int) (any, error) {
	if a.IsNull(i) {
		return nil, nil
	}
	switch x := a.(type) {
	case *array.Int64:
		return x.Value(i), nil
	case *array.Int32:
		return int64(x.Value(i)), nil
	case *array.Int16:
		return int64(x.Value(i)), nil
	case *array.Int8:
		return int64(x.Value(i)), nil
	case *array.Float64:
		return x.Value(i), nil
	case *array.Float32:
		return float64(x.Value(i)), nil
	case *array.String:
		return x.Value(i), nil
	case *array.Binary:
		return string(x.Value(i)), nil
	case *array.Boolean:
		if x.Value(i) {
			return int64(1), nil
		}
		return int64(0), nil
	case *array.Date32:
		return time.Unix(int64(x.Value(i))*86400, 0).UTC(), nil
	case *array.Timestamp:
		v := int64(x.Value(i))
		switch x.DataType().(*arrow.TimestampType).Unit {
		case arrow.Second:
			return time.Unix(v, 0).UTC(), nil
		case arrow.Millisecond:
			return time.UnixMilli(v).UTC(), nil
		case arrow.Microsecond:
			return time.UnixMicro(v).UTC(), nil
		default:
			return time.Unix(0, v).UTC(), nil
		}
	}
	return nil, fmt.Errorf("unsupported arrow type %s", a.DataType())
}
