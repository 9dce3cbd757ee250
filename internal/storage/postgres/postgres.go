// Package postgres registers the "postgres" sink on pgx v5. A run is one
// transaction: tables are (optionally) created, emptied with DELETE and loaded
// with COPY, so readers never observe a partially replaced star schema.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"i94etl/internal/ddl"
	"i94etl/internal/schema"
	"i94etl/internal/storage"
)

// Kind is the sink kind this package registers.
const Kind = "postgres"

// Sink writes table sets to Postgres.
type Sink struct {
	pool *pgxpool.Pool
	cfg  storage.Config
	log  *zap.Logger
}

// Open creates a connection pool and pings the server.
func Open(ctx context.Context, cfg storage.Config) (*Sink, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres: DSN must not be empty")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{pool: pool, cfg: cfg, log: log.With(zap.String("sink", Kind))}, nil
}

// Close closes the pool.
func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}

// Write replaces every table inside one transaction. Postgres DDL is
// transactional, so table creation joins the same transaction.
func (s *Sink) Write(ctx context.Context, runID string, tables []*schema.Table) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, t := range tables {
		if err := s.replace(ctx, tx, t); err != nil {
			return &storage.TableError{Table: t.Name, Err: describe(err)}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", describe(err))
	}
	s.log.Info("postgres: run committed", zap.String("run_id", runID), zap.Int("tables", len(tables)))
	return nil
}

func (s *Sink) replace(ctx context.Context, tx pgx.Tx, t *schema.Table) error {
	fqn := ddl.FQN(s.cfg.Schema, t.Name)
	if s.cfg.AutoCreateTable {
		stmt, err := ddl.BuildCreateTableSQL(ddl.Postgres, ddl.FromTable(ddl.Postgres, s.cfg.Schema, t))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: create %s: %w", fqn, err)
		}
	}
	if _, err := tx.Exec(ctx, ddl.DeleteSQL(ddl.Postgres, fqn)); err != nil {
		return fmt.Errorf("postgres: delete %s: %w", fqn, err)
	}
	if t.Len() == 0 {
		return nil
	}

	ident := identifier(s.cfg.Schema, t.Name)
	copyFn := func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		n, err := tx.CopyFrom(ctx, ident, columns, pgx.CopyFromRows(rows))
		if err != nil {
			return n, fmt.Errorf("postgres: copy %s: %w", fqn, err)
		}
		return n, nil
	}

	feedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	n, err := storage.LoadBatches(feedCtx, s.log, s.cfg.Job, t.Name, t.ColumnNames(), storage.Feed(feedCtx, t.Rows), batchSize(s.cfg), copyFn)
	if err != nil {
		return err
	}
	if n != int64(t.Len()) {
		return fmt.Errorf("postgres: %s: copied %d of %d rows", fqn, n, t.Len())
	}
	return nil
}

func batchSize(cfg storage.Config) int {
	if cfg.BatchSize > 0 {
		return cfg.BatchSize
	}
	return 5000
}

func identifier(schemaName, table string) pgx.Identifier {
	if s := strings.TrimSpace(schemaName); s != "" {
		return pgx.Identifier{s, table}
	}
	return pgx.Identifier{table}
}

// describe appends the server's detail and hint to a PgError.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	var extra []string
	if pgErr.Detail != "" {
		extra = append(extra, "detail: "+pgErr.Detail)
	}
	if pgErr.Hint != "" {
		extra = append(extra, "hint: "+pgErr.Hint)
	}
	if len(extra) == 0 {
		return err
	}
	return fmt.Errorf("%w (%s)", err, strings.Join(extra, "; "))
}

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return Open(ctx, cfg)
	})
}
