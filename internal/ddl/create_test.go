package ddl

import (
	"strings"
	"testing"
	"time"

	"i94etl/internal/schema"
)

func countryTable() *schema.Table {
	return &schema.Table{
		Name: schema.CountryDim,
		Columns: []schema.Column{
			{Name: "country_id", Type: schema.String},
			{Name: "country_name", Type: schema.String, Nullable: true},
		},
		Key: []string{"country_id"},
	}
}

// TestBuildCreateTableSQL checks the rendered statement per dialect and the
// validation errors.
func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		dialect     Dialect
		def         TableDef
		wantSQL     string
		errContains string
	}{
		{
			name:        "empty FQN returns error",
			dialect:     Postgres,
			def:         TableDef{FQN: "  ", Columns: []ColumnDef{{Name: "id", SQLType: "INT"}}},
			errContains: "table FQN must not be empty",
		},
		{
			name:        "no columns returns error",
			dialect:     Postgres,
			def:         TableDef{FQN: "t"},
			errContains: "at least one column is required",
		},
		{
			name:        "column with empty type returns error",
			dialect:     Postgres,
			def:         TableDef{FQN: "t", Columns: []ColumnDef{{Name: "id"}}},
			errContains: "missing SQLType",
		},
		{
			name:    "duplicate column returns error",
			dialect: Postgres,
			def: TableDef{FQN: "t", Columns: []ColumnDef{
				{Name: "id", SQLType: "INT"}, {Name: "id", SQLType: "INT"},
			}},
			errContains: "duplicate column",
		},
		{
			name:    "postgres quotes and guards",
			dialect: Postgres,
			def: TableDef{FQN: "public.t", Columns: []ColumnDef{
				{Name: "id", SQLType: "TEXT", Nullable: true, PrimaryKey: true},
				{Name: "name", SQLType: "TEXT", Nullable: true},
			}},
			wantSQL: "CREATE TABLE IF NOT EXISTS \"public\".\"t\" (\n  \"id\" TEXT NOT NULL,\n  \"name\" TEXT,\n  PRIMARY KEY (\"id\")\n);",
		},
		{
			name:    "mysql uses backticks",
			dialect: MySQL,
			def:     TableDef{FQN: "t", Columns: []ColumnDef{{Name: "a`b", SQLType: "BIGINT"}}},
			wantSQL: "CREATE TABLE IF NOT EXISTS `t` (\n  `a``b` BIGINT NOT NULL\n);",
		},
		{
			name:    "mssql wraps in OBJECT_ID guard",
			dialect: MSSQL,
			def:     TableDef{FQN: "dbo.t", Columns: []ColumnDef{{Name: "id", SQLType: "BIGINT", PrimaryKey: true}}},
			wantSQL: "IF OBJECT_ID(N'[dbo].[t]', N'U') IS NULL\nBEGIN\n  CREATE TABLE [dbo].[t] (\n    [id] BIGINT NOT NULL,\n    PRIMARY KEY ([id])\n  );\nEND;",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := BuildCreateTableSQL(tt.dialect, tt.def)
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("BuildCreateTableSQL() error = %v, want substring %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildCreateTableSQL() unexpected error = %v", err)
			}
			if got != tt.wantSQL {
				t.Fatalf("BuildCreateTableSQL() =\n%s\nwant:\n%s", got, tt.wantSQL)
			}
		})
	}
}

func TestFromTable(t *testing.T) {
	t.Parallel()

	def := FromTable(MSSQL, "dbo", countryTable())
	if def.FQN != "dbo.dim_country" {
		t.Fatalf("FQN = %q; want dbo.dim_country", def.FQN)
	}
	if c := def.Columns[0]; !c.PrimaryKey || c.Nullable || c.SQLType != "NVARCHAR(450)" {
		t.Fatalf("key column = %+v", c)
	}
	if c := def.Columns[1]; c.PrimaryKey || !c.Nullable || c.SQLType != "NVARCHAR(MAX)" {
		t.Fatalf("description column = %+v", c)
	}

	if got := FromTable(SQLite, "", countryTable()).FQN; got != "dim_country" {
		t.Fatalf("unqualified FQN = %q", got)
	}
}

func TestInsertSQL(t *testing.T) {
	t.Parallel()

	cols := []string{"country_id", "country_name"}
	tests := []struct {
		d    Dialect
		want string
	}{
		{Postgres, `INSERT INTO "dim_country" ("country_id", "country_name") VALUES ($1, $2), ($3, $4)`},
		{SQLite, `INSERT INTO "dim_country" ("country_id", "country_name") VALUES (?, ?), (?, ?)`},
		{MSSQL, `INSERT INTO [dim_country] ([country_id], [country_name]) VALUES (@p1, @p2), (@p3, @p4)`},
	}
	for _, tt := range tests {
		if got := InsertSQL(tt.d, "dim_country", cols, 2); got != tt.want {
			t.Fatalf("%s InsertSQL() = %q; want %q", tt.d.Name, got, tt.want)
		}
	}

	if got := DeleteSQL(MySQL, "s.dim_country"); got != "DELETE FROM `s`.`dim_country`" {
		t.Fatalf("DeleteSQL() = %q", got)
	}
}

func TestRowsPerInsertAndBind(t *testing.T) {
	t.Parallel()

	if got := MSSQL.RowsPerInsert(19); got != 105 {
		t.Fatalf("MSSQL.RowsPerInsert(19) = %d; want 105", got)
	}
	if got := MSSQL.RowsPerInsert(5000); got != 1 {
		t.Fatalf("RowsPerInsert never drops below one row, got %d", got)
	}

	d := time.Date(2016, 4, 1, 0, 0, 0, 0, time.UTC)
	if got := SQLite.BindValue(d); got != "2016-04-01" {
		t.Fatalf("SQLite.BindValue(date) = %v", got)
	}
	if got := Postgres.BindValue(d); got != d {
		t.Fatalf("Postgres.BindValue(date) = %v; want unchanged", got)
	}
}
