// Package sqlsink is the database/sql sink shared by the SQLite, MySQL and SQL
// Server backends. A write replaces the contents of every table inside one
// transaction: DELETE, then batched multi-row INSERTs. Readers see either the
// previous run's rows or the new ones.
package sqlsink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"i94etl/internal/ddl"
	"i94etl/internal/schema"
	"i94etl/internal/storage"
)

// Sink writes table sets through database/sql.
type Sink struct {
	db  *sql.DB
	d   ddl.Dialect
	cfg storage.Config
	log *zap.Logger
}

// Open connects with driver and pings the database.
func Open(ctx context.Context, driver string, d ddl.Dialect, cfg storage.Config) (*Sink, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%s: DSN must not be empty", d.Name)
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", d.Name, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: ping: %w", d.Name, err)
	}
	return New(db, d, cfg), nil
}

// New wraps an open database.
func New(db *sql.DB, d ddl.Dialect, cfg storage.Config) *Sink {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5000
	}
	return &Sink{db: db, d: d, cfg: cfg, log: log.With(zap.String("sink", d.Name))}
}

// DB exposes the underlying handle.
func (s *Sink) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *Sink) Close() error { return s.db.Close() }

// Write replaces the contents of every table in one transaction. Tables are
// created first when AutoCreateTable is set; that step runs outside the
// transaction because several backends commit DDL implicitly.
func (s *Sink) Write(ctx context.Context, runID string, tables []*schema.Table) error {
	if s.cfg.AutoCreateTable {
		for _, t := range tables {
			stmt, err := ddl.BuildCreateTableSQL(s.d, ddl.FromTable(s.d, s.cfg.Schema, t))
			if err != nil {
				return err
			}
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return &storage.TableError{Table: t.Name, Err: fmt.Errorf("%s: create %s: %w", s.d.Name, t.Name, err)}
			}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", s.d.Name, err)
	}
	for _, t := range tables {
		if err := s.replace(ctx, tx, t); err != nil {
			_ = tx.Rollback()
			return &storage.TableError{Table: t.Name, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.d.Name, err)
	}
	s.log.Info("sql sink: run committed", zap.String("run_id", runID), zap.Int("tables", len(tables)))
	return nil
}

func (s *Sink) replace(ctx context.Context, tx *sql.Tx, t *schema.Table) error {
	fqn := ddl.FQN(s.cfg.Schema, t.Name)
	if _, err := tx.ExecContext(ctx, ddl.DeleteSQL(s.d, fqn)); err != nil {
		return fmt.Errorf("%s: delete %s: %w", s.d.Name, fqn, err)
	}
	if t.Len() == 0 {
		return nil
	}

	cols := t.ColumnNames()
	per := s.d.RowsPerInsert(len(cols))
	copyFn := func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		var n int64
		for start := 0; start < len(rows); start += per {
			chunk := rows[start:min(start+per, len(rows))]
			args := make([]any, 0, len(chunk)*len(columns))
			for _, r := range chunk {
				if len(r) != len(columns) {
					return n, fmt.Errorf("%s: row length %d != columns length %d", s.d.Name, len(r), len(columns))
				}
				for _, v := range r {
					args = append(args, s.d.BindValue(v))
				}
			}
			if _, err := tx.ExecContext(ctx, ddl.InsertSQL(s.d, fqn, columns, len(chunk)), args...); err != nil {
				return n, fmt.Errorf("%s: insert %s: %w", s.d.Name, fqn, err)
			}
			n += int64(len(chunk))
		}
		return n, nil
	}

	feedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	n, err := storage.LoadBatches(feedCtx, s.log, s.cfg.Job, t.Name, cols, storage.Feed(feedCtx, t.Rows), s.cfg.BatchSize, copyFn)
	if err != nil {
		return err
	}
	if n != int64(t.Len()) {
		return fmt.Errorf("%s: %s: wrote %d of %d rows", s.d.Name, fqn, n, t.Len())
	}
	return nil
}
