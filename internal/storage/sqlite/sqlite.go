// Package sqlite registers the "sqlite" sink. It uses the pure-Go modernc
// driver, so no cgo toolchain is needed.
package sqlite

import (
	"context"

	_ "modernc.org/sqlite"

	"i94etl/internal/ddl"
	"i94etl/internal/storage"
	"i94etl/internal/storage/sqlsink"
)

// Kind is the sink kind this package registers.
const Kind = "sqlite"

// Open opens a SQLite database file, e.g. "warehouse.db" or
// "file:warehouse.db?_pragma=busy_timeout(5000)".
func Open(ctx context.Context, cfg storage.Config) (*sqlsink.Sink, error) {
	s, err := sqlsink.Open(ctx, "sqlite", ddl.SQLite, cfg)
	if err != nil {
		return nil, err
	}
	// One writer at a time; a second pooled connection would see SQLITE_BUSY.
	s.DB().SetMaxOpenConns(1)
	return s, nil
}

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return Open(ctx, cfg)
	})
}
