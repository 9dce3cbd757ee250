// Package columnar renders schema tables as parquet files and lays them out in
// Hive-style partition directories. It is shared by the local filesystem and
// S3 sinks, which only differ in where the bytes end up.
package columnar

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet"
	"github.com/apache/arrow/go/v10/parquet/compress"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
	"golang.org/x/sync/errgroup"

	"i94etl/internal/schema"
	"i94etl/internal/storage"
)

// NullPartition names the directory for NULL partition values.
const NullPartition = "__HIVE_DEFAULT_PARTITION__"

// FileName is the data file name inside every table or partition directory.
const FileName = "part-00000.parquet"

// rowGroupRows bounds the rows per parquet row group.
const rowGroupRows = 64 * 1024

// File is one rendered parquet object, relative to the sink root.
type File struct {
	Path string // e.g. immigration_facts/year=2016/month=4/airport_code=NYC/part-00000.parquet
	Rows int
	Data []byte
}

func arrowType(t schema.Type) (arrow.DataType, error) {
	switch t {
	case schema.Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case schema.Float64:
		return arrow.PrimitiveTypes.Float64, nil
	case schema.String:
		return arrow.BinaryTypes.String, nil
	case schema.Date:
		return arrow.FixedWidthTypes.Date32, nil
	}
	return nil, fmt.Errorf("columnar: unsupported column type %q", t)
}

// daysSinceEpoch converts a calendar date to an arrow Date32 value.
func daysSinceEpoch(t time.Time) arrow.Date32 {
	y, m, d := t.Date()
	u := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()
	days := u / 86400
	if u < 0 && u%86400 != 0 {
		days--
	}
	return arrow.Date32(days)
}

// Encode writes the given columns of rows as a snappy-compressed parquet file.
// colIdx selects and orders the table columns to emit.
func Encode(t *schema.Table, colIdx []int, rows [][]any) ([]byte, error) {
	mem := memory.NewGoAllocator()

	fields := make([]arrow.Field, len(colIdx))
	arrays := make([]arrow.Array, len(colIdx))
	defer func() {
		for _, a := range arrays {
			if a != nil {
				a.Release()
			}
		}
	}()

	for i, ci := range colIdx {
		c := t.Columns[ci]
		dt, err := arrowType(c.Type)
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{Name: c.Name, Type: dt, Nullable: c.Nullable}
		a, err := buildArray(mem, c, ci, rows)
		if err != nil {
			return nil, fmt.Errorf("columnar: table %s: %w", t.Name, err)
		}
		arrays[i] = a
	}

	sc := arrow.NewSchema(fields, nil)
	rec := array.NewRecord(sc, arrays, int64(len(rows)))
	defer rec.Release()
	tbl := array.NewTableFromRecords(sc, []arrow.Record{rec})
	defer tbl.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithAllocator(mem),
	)
	var buf bytes.Buffer
	if err := pqarrow.WriteTable(tbl, &buf, rowGroupRows, props, pqarrow.DefaultWriterProps()); err != nil {
		return nil, fmt.Errorf("columnar: write parquet %s: %w", t.Name, err)
	}
	return buf.Bytes(), nil
}

func buildArray(mem memory.Allocator, c schema.Column, ci int, rows [][]any) (arrow.Array, error) {
	bad := func(r int, v any) error {
		return fmt.Errorf("row %d column %s: %v (%T) is not %s", r, c.Name, v, v, c.Type)
	}
	switch c.Type {
	case schema.Int64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for r, row := range rows {
			switch v := row[ci].(type) {
			case nil:
				b.AppendNull()
			case int64:
				b.Append(v)
			default:
				return nil, bad(r, v)
			}
		}
		return b.NewArray(), nil
	case schema.Float64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for r, row := range rows {
			switch v := row[ci].(type) {
			case nil:
				b.AppendNull()
			case float64:
				b.Append(v)
			default:
				return nil, bad(r, v)
			}
		}
		return b.NewArray(), nil
	case schema.String:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		for r, row := range rows {
			switch v := row[ci].(type) {
			case nil:
				b.AppendNull()
			case string:
				b.Append(v)
			default:
				return nil, bad(r, v)
			}
		}
		return b.NewArray(), nil
	case schema.Date:
		b := array.NewDate32Builder(mem)
		defer b.Release()
		for r, row := range rows {
			switch v := row[ci].(type) {
			case nil:
				b.AppendNull()
			case time.Time:
				b.Append(daysSinceEpoch(v))
			default:
				return nil, bad(r, v)
			}
		}
		return b.NewArray(), nil
	}
	return nil, fmt.Errorf("unsupported column type %q", c.Type)
}

// EscapePartitionValue renders a partition value as a path segment, escaping
// characters that would break the directory layout the way Hive does.
func EscapePartitionValue(v any) string {
	if v == nil {
		return NullPartition
	}
	s := schema.FormatValue(v)
	if s == "" {
		return NullPartition
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch < 0x20 || ch == 0x7f || strings.IndexByte(`"#%'*/:=?\{[]^`, ch) >= 0 {
			fmt.Fprintf(&b, "%%%02X", ch)
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// Render turns a table into parquet files. Unpartitioned tables become a
// single <table>/part-00000.parquet; partitioned tables get one file per
// distinct partition tuple, with the partition columns left out of the file.
// Files come back sorted by path.
func Render(t *schema.Table) ([]File, error) {
	if len(t.PartitionBy) == 0 {
		all := make([]int, len(t.Columns))
		for i := range all {
			all[i] = i
		}
		data, err := Encode(t, all, t.Rows)
		if err != nil {
			return nil, err
		}
		return []File{{Path: path.Join(t.Name, FileName), Rows: t.Len(), Data: data}}, nil
	}

	pidx, err := t.Indexes(t.PartitionBy)
	if err != nil {
		return nil, err
	}
	isPart := make(map[int]bool, len(pidx))
	for _, i := range pidx {
		isPart[i] = true
	}
	var dataCols []int
	for i := range t.Columns {
		if !isPart[i] {
			dataCols = append(dataCols, i)
		}
	}
	if len(dataCols) == 0 {
		return nil, fmt.Errorf("columnar: table %s: every column is a partition column", t.Name)
	}

	groups := map[string][][]any{}
	for _, row := range t.Rows {
		segs := make([]string, len(pidx))
		for i, ci := range pidx {
			segs[i] = t.Columns[ci].Name + "=" + EscapePartitionValue(row[ci])
		}
		dir := path.Join(segs...)
		groups[dir] = append(groups[dir], row)
	}
	dirs := make([]string, 0, len(groups))
	for d := range groups {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	out := make([]File, 0, len(dirs))
	for _, d := range dirs {
		rows := groups[d]
		data, err := Encode(t, dataCols, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, File{Path: path.Join(t.Name, d, FileName), Rows: len(rows), Data: data})
	}
	return out, nil
}

// RenderAll renders tables concurrently. The result is index-aligned with
// tables.
func RenderAll(ctx context.Context, tables []*schema.Table) ([][]File, error) {
	out := make([][]File, len(tables))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, t := range tables {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			files, err := Render(t)
			if err != nil {
				return &storage.TableError{Table: t.Name, Err: err}
			}
			out[i] = files
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
