// Package schema defines the in-memory table model shared by the builders, the
// quality gate and the sinks: named tables with ordered, typed columns, key
// columns, foreign keys and row values.
package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type is the logical column type. Sinks map it to their physical types.
type Type string

const (
	Int64   Type = "int64"
	Float64 Type = "float64"
	String  Type = "string"
	Date    Type = "date"
)

// Table names of the star schema.
const (
	ImmigrationFacts = "immigration_facts"
	CityDemography   = "dim_city_demography"
	TravelModeDim    = "dim_travel_mode"
	CountryDim       = "dim_country"
	VisaCategoryDim  = "dim_visa_category"
	USStatesDim      = "dim_us_states"
	AirportCodesDim  = "dim_airport_codes"
)

// Column is one typed column. Row values are int64, float64, string or
// time.Time according to Type; nil is NULL.
type Column struct {
	Name     string
	Type     Type
	Nullable bool
}

// ForeignKey links Column of the owning table to RefColumn of RefTable.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// Table is a named, typed row set.
type Table struct {
	Name        string
	Columns     []Column
	Key         []string
	ForeignKeys []ForeignKey

	// PartitionBy lists columns used for directory partitioning by columnar
	// sinks. Empty for unpartitioned tables.
	PartitionBy []string

	Rows [][]any
}

// Len returns the row count.
func (t *Table) Len() int { return len(t.Rows) }

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Column returns the column named name.
func (t *Table) Column(name string) (Column, bool) {
	if i := t.ColumnIndex(name); i >= 0 {
		return t.Columns[i], true
	}
	return Column{}, false
}

// Indexes resolves names to column positions.
func (t *Table) Indexes(names []string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		j := t.ColumnIndex(n)
		if j < 0 {
			return nil, fmt.Errorf("schema: table %s has no column %q", t.Name, n)
		}
		idx[i] = j
	}
	return idx, nil
}

// Append adds a row. The row must have one value per column.
func (t *Table) Append(row ...any) {
	if len(row) != len(t.Columns) {
		panic(fmt.Sprintf("schema: %s: row has %d values, want %d", t.Name, len(row), len(t.Columns)))
	}
	t.Rows = append(t.Rows, row)
}

// Validate checks the table definition and that every row matches the column
// types and nullability.
func (t *Table) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("schema: table name must not be empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("schema: table %s has no columns", t.Name)
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("schema: table %s: duplicate column %q", t.Name, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	if _, err := t.Indexes(t.Key); err != nil {
		return err
	}
	if _, err := t.Indexes(t.PartitionBy); err != nil {
		return err
	}
	for _, fk := range t.ForeignKeys {
		if t.ColumnIndex(fk.Column) < 0 {
			return fmt.Errorf("schema: table %s: foreign key on unknown column %q", t.Name, fk.Column)
		}
	}
	for r, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("schema: table %s row %d: %d values, want %d", t.Name, r, len(row), len(t.Columns))
		}
		for i, c := range t.Columns {
			if err := c.check(row[i]); err != nil {
				return fmt.Errorf("schema: table %s row %d: %w", t.Name, r, err)
			}
		}
	}
	return nil
}

func (c Column) check(v any) error {
	if v == nil {
		if !c.Nullable {
			return fmt.Errorf("column %s: NULL in non-nullable column", c.Name)
		}
		return nil
	}
	ok := false
	switch c.Type {
	case Int64:
		_, ok = v.(int64)
	case Float64:
		_, ok = v.(float64)
	case String:
		_, ok = v.(string)
	case Date:
		_, ok = v.(time.Time)
	}
	if !ok {
		return fmt.Errorf("column %s: value %v (%T) is not %s", c.Name, v, v, c.Type)
	}
	return nil
}

// KeyString renders the values of cols in row as a single comparable string,
// e.g. "NEW YORK|NY". ok is false when any key part is NULL.
func KeyString(row []any, cols []int) (key string, ok bool) {
	if len(cols) == 1 {
		v := row[cols[0]]
		if v == nil {
			return "", false
		}
		return FormatValue(v), true
	}
	parts := make([]string, len(cols))
	for i, c := range cols {
		if row[c] == nil {
			return "", false
		}
		parts[i] = FormatValue(row[c])
	}
	return strings.Join(parts, "|"), true
}

// FormatValue renders a cell as text: dates as YYYY-MM-DD, numbers without
// exponent. NULL renders as "".
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.DateOnly)
	default:
		return fmt.Sprint(x)
	}
}
