// Package ddl renders the SQL statements the relational sinks need for a
// schema.Table: CREATE TABLE (guarded so it is idempotent), DELETE and a
// multi-row INSERT. Everything dialect specific sits behind Dialect.
package ddl

import (
	"fmt"
	"strings"

	"i94etl/internal/schema"
)

// FromTable derives a TableDef from a table's columns and key. schemaName, when
// set, qualifies the table name.
func FromTable(d Dialect, schemaName string, t *schema.Table) TableDef {
	key := make(map[string]bool, len(t.Key))
	for _, k := range t.Key {
		key[k] = true
	}
	def := TableDef{FQN: FQN(schemaName, t.Name), Columns: make([]ColumnDef, len(t.Columns))}
	for i, c := range t.Columns {
		def.Columns[i] = ColumnDef{
			Name:       c.Name,
			SQLType:    d.MapType(c.Type, key[c.Name]),
			Nullable:   c.Nullable,
			PrimaryKey: key[c.Name],
		}
	}
	return def
}

// FQN joins an optional schema and a table name.
func FQN(schemaName, table string) string {
	if s := strings.TrimSpace(schemaName); s != "" {
		return s + "." + table
	}
	return table
}

// BuildCreateTableSQL renders an idempotent CREATE TABLE statement.
//
// Rules:
//   - t.FQN must be non-empty and each column needs a Name and SQLType.
//   - Primary-key columns are always NOT NULL.
//   - PRIMARY KEY is a separate clause listing key columns in definition order.
//   - Dialects with GuardObjectID get an IF OBJECT_ID(...) IS NULL wrapper;
//     the rest use CREATE TABLE IF NOT EXISTS.
func BuildCreateTableSQL(d Dialect, t TableDef) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, len(t.Columns))
	seen := make(map[string]bool, len(t.Columns))

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		if seen[name] {
			return "", fmt.Errorf("ddl: duplicate column %s in table %s", name, fqn)
		}
		seen[name] = true
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("ddl: column %s missing SQLType", name)
		}

		var sb strings.Builder
		sb.WriteString(d.QuoteIdent(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable || c.PrimaryKey {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, d.QuoteIdent(name))
		}
	}
	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	quoted := d.QuoteFQN(fqn)
	if d.GuardObjectID {
		return fmt.Sprintf(
			"IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n  CREATE TABLE %s (\n    %s\n  );\nEND;",
			quoted, quoted, strings.Join(cols, ",\n    "),
		), nil
	}
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s\n);",
		quoted, strings.Join(cols, ",\n  "),
	), nil
}

// DeleteSQL empties a table inside a transaction. TRUNCATE is avoided because
// several backends commit it implicitly.
func DeleteSQL(d Dialect, fqn string) string {
	return "DELETE FROM " + d.QuoteFQN(fqn)
}

// InsertSQL renders a multi-row INSERT for rows rows of columns.
func InsertSQL(d Dialect, fqn string, columns []string, rows int) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(d.QuoteFQN(fqn))
	sb.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(d.QuoteIdent(c))
	}
	sb.WriteString(") VALUES ")
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for i := range columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(d.Placeholder(n))
			n++
		}
		sb.WriteByte(')')
	}
	return sb.String()
}
