// Package mysql registers the "mysql" sink on go-sql-driver/mysql. Tables
// must use a transactional engine (InnoDB, the default) for a run to replace
// all tables atomically.
package mysql

import (
	"context"
	"fmt"

	driver "github.com/go-sql-driver/mysql"

	"i94etl/internal/ddl"
	"i94etl/internal/storage"
	"i94etl/internal/storage/sqlsink"
)

// Kind is the sink kind this package registers.
const Kind = "mysql"

// normalizeDSN parses a DSN and turns on the options the sink relies on:
// parseTime for DATE columns and multiStatements off.
func normalizeDSN(dsn string) (string, error) {
	c, err := driver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("mysql: parse DSN: %w", err)
	}
	c.ParseTime = true
	c.MultiStatements = false
	return c.FormatDSN(), nil
}

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		dsn, err := normalizeDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		cfg.DSN = dsn
		return sqlsink.Open(ctx, "mysql", ddl.MySQL, cfg)
	})
}
