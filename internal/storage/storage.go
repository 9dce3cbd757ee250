// Package storage defines the sink contract the publisher writes through and
// a registry of sink implementations keyed by kind.
//
// Concrete sinks live in subpackages and register themselves from init; the
// storage/all package imports every built-in sink for its side effects.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"i94etl/internal/schema"
)

// Sink persists a complete table set. Write replaces whatever a previous run
// left at the destination and either publishes every table or leaves the
// previous state in place.
type Sink interface {
	Write(ctx context.Context, runID string, tables []*schema.Table) error
	Close() error
}

// Config carries the settings every sink kind draws from. Each kind reads the
// fields it needs.
type Config struct {
	Kind string
	// Job labels metrics emitted while loading.
	Job string

	// Path is the root directory for the local parquet sink.
	Path string

	// DSN is the connection string for SQL sinks.
	DSN string
	// Schema optionally qualifies SQL table names (e.g. "public").
	Schema string
	// AutoCreateTable renders CREATE TABLE statements before loading.
	AutoCreateTable bool
	// BatchSize bounds rows per bulk insert.
	BatchSize int

	// Bucket, Prefix, Region and Endpoint configure the S3 sink.
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string

	Logger *zap.Logger
}

// Factory builds a Sink from Config.
type Factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a sink kind available to New. Registering a kind twice
// replaces the earlier factory.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// Kinds lists the registered sink kinds.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens a sink of cfg.Kind.
func New(ctx context.Context, cfg Config) (Sink, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unknown sink kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5000
	}
	return f(ctx, cfg)
}

// Manifest is the content of the _SUCCESS marker that file-based sinks write
// after a commit.
type Manifest struct {
	RunID  string         `json:"run_id"`
	Tables map[string]int `json:"tables"`
}

// NewManifest summarizes a table set.
func NewManifest(runID string, tables []*schema.Table) Manifest {
	m := Manifest{RunID: runID, Tables: make(map[string]int, len(tables))}
	for _, t := range tables {
		m.Tables[t.Name] = t.Len()
	}
	return m
}

// TableError attributes a sink failure to one table.
type TableError struct {
	Table string
	Err   error
}

func (e *TableError) Error() string { return e.Err.Error() }
func (e *TableError) Unwrap() error { return e.Err }
