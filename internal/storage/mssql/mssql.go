// Package mssql registers the "mssql" sink on microsoft/go-mssqldb.
package mssql

import (
	"context"

	_ "github.com/microsoft/go-mssqldb"

	"i94etl/internal/ddl"
	"i94etl/internal/storage"
	"i94etl/internal/storage/sqlsink"
)

// Kind is the sink kind this package registers.
const Kind = "mssql"

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return sqlsink.Open(ctx, "sqlserver", ddl.MSSQL, cfg)
	})
}
