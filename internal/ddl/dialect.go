package ddl

import (
	"strconv"
	"strings"
	"time"

	"i94etl/internal/schema"
)

// Dialect captures what differs between SQL backends when the star schema is
// rendered: identifier quoting, the physical type of each logical column type,
// placeholder syntax and how values are bound.
type Dialect struct {
	Name string

	// QuoteIdent quotes one identifier segment.
	QuoteIdent func(string) string

	// MapType returns the physical type for a logical type. Key columns may
	// need a bounded type where the backend cannot index unbounded text.
	MapType func(t schema.Type, key bool) string

	// Placeholder returns the bind marker for the 1-based argument n.
	Placeholder func(n int) string

	// Bind converts a row value before it is handed to the driver. Nil means
	// values are passed as-is.
	Bind func(any) any

	// MaxParams bounds bind parameters per statement.
	MaxParams int

	// GuardObjectID wraps CREATE TABLE in an OBJECT_ID check instead of
	// emitting IF NOT EXISTS.
	GuardObjectID bool
}

// QuoteFQN quotes a possibly schema-qualified name, e.g. "public.users".
// Empty segments are ignored.
func (d Dialect) QuoteFQN(fqn string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, d.QuoteIdent(p))
	}
	return strings.Join(out, ".")
}

// RowsPerInsert is how many rows of width columns fit one INSERT.
func (d Dialect) RowsPerInsert(columns int) int {
	if columns <= 0 || d.MaxParams <= 0 {
		return 1
	}
	return max(1, d.MaxParams/columns)
}

// BindValue applies Bind when set.
func (d Dialect) BindValue(v any) any {
	if d.Bind == nil {
		return v
	}
	return d.Bind(v)
}

func doubleQuote(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func dollar(n int) string { return "$" + strconv.Itoa(n) }

func question(int) string { return "?" }

func atP(n int) string { return "@p" + strconv.Itoa(n) }

// Postgres renders double-quoted identifiers and native DATE columns.
var Postgres = Dialect{
	Name:       "postgres",
	QuoteIdent: doubleQuote,
	MapType: func(t schema.Type, _ bool) string {
		switch t {
		case schema.Int64:
			return "BIGINT"
		case schema.Float64:
			return "DOUBLE PRECISION"
		case schema.Date:
			return "DATE"
		default:
			return "TEXT"
		}
	},
	Placeholder: dollar,
	MaxParams:   65535,
}

// SQLite stores dates as ISO-8601 text.
var SQLite = Dialect{
	Name:       "sqlite",
	QuoteIdent: doubleQuote,
	MapType: func(t schema.Type, _ bool) string {
		switch t {
		case schema.Int64:
			return "INTEGER"
		case schema.Float64:
			return "REAL"
		default:
			return "TEXT"
		}
	},
	Placeholder: question,
	MaxParams:   32766,
	Bind: func(v any) any {
		if ts, ok := v.(time.Time); ok {
			return ts.Format(time.DateOnly)
		}
		return v
	},
}

// MySQL uses backtick quoting. TEXT cannot be a primary key without a prefix
// length, so string keys become VARCHAR.
var MySQL = Dialect{
	Name: "mysql",
	QuoteIdent: func(id string) string {
		return "`" + strings.ReplaceAll(id, "`", "``") + "`"
	},
	MapType: func(t schema.Type, key bool) string {
		switch t {
		case schema.Int64:
			return "BIGINT"
		case schema.Float64:
			return "DOUBLE"
		case schema.Date:
			return "DATE"
		default:
			if key {
				return "VARCHAR(255)"
			}
			return "TEXT"
		}
	},
	Placeholder: question,
	MaxParams:   65535,
}

// MSSQL uses bracket quoting and an OBJECT_ID guard.
var MSSQL = Dialect{
	Name: "mssql",
	QuoteIdent: func(id string) string {
		return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
	},
	MapType: func(t schema.Type, key bool) string {
		switch t {
		case schema.Int64:
			return "BIGINT"
		case schema.Float64:
			return "FLOAT"
		case schema.Date:
			return "DATE"
		default:
			if key {
				return "NVARCHAR(450)"
			}
			return "NVARCHAR(MAX)"
		}
	},
	Placeholder:   atP,
	MaxParams:     2000,
	GuardObjectID: true,
}
