// Package parquetfs registers the "parquet" sink, which writes every table as
// parquet under a local root directory:
//
//	<root>/<table>/part-00000.parquet
//	<root>/immigration_facts/year=2016/month=4/airport_code=NYC/part-00000.parquet
//	<root>/_SUCCESS
//
// A run is staged under <root>/_staging/<run id> and then swapped into place
// table by table. If a swap fails, tables already swapped are restored, so the
// root keeps the previous run's files. _SUCCESS is written last and removed
// before the swap begins; its presence marks a complete run.
package parquetfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"i94etl/internal/schema"
	"i94etl/internal/storage"
	"i94etl/internal/storage/columnar"
)

// Kind is the sink kind this package registers.
const Kind = "parquet"

// SuccessFile marks a committed run.
const SuccessFile = "_SUCCESS"

const stagingDir = "_staging"

// Sink writes parquet files below Root.
type Sink struct {
	Root string
	log  *zap.Logger
}

// New returns a sink rooted at root, creating the directory if needed.
func New(root string, log *zap.Logger) (*Sink, error) {
	if root == "" {
		return nil, fmt.Errorf("parquetfs: path must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("parquetfs: create root: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{Root: root, log: log.With(zap.String("sink", Kind))}, nil
}

// Close is a no-op.
func (s *Sink) Close() error { return nil }

// Write stages and commits the table set.
func (s *Sink) Write(ctx context.Context, runID string, tables []*schema.Table) error {
	rendered, err := columnar.RenderAll(ctx, tables)
	if err != nil {
		return fmt.Errorf("parquetfs: %w", err)
	}

	stage := filepath.Join(s.Root, stagingDir, runID)
	backup := stage + ".previous"
	if err := os.RemoveAll(stage); err != nil {
		return fmt.Errorf("parquetfs: clear staging: %w", err)
	}
	defer os.RemoveAll(stage)

	for i, t := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stageTable(stage, t.Name, rendered[i]); err != nil {
			return &storage.TableError{Table: t.Name, Err: err}
		}
	}

	markerPath := filepath.Join(s.Root, SuccessFile)
	prevMarker, _ := os.ReadFile(markerPath)
	if err := os.Remove(markerPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("parquetfs: remove marker: %w", err)
	}
	if err := s.swap(stage, backup, tables); err != nil {
		if prevMarker != nil {
			_ = os.WriteFile(markerPath, prevMarker, 0o644)
		}
		return err
	}

	marker, err := json.MarshalIndent(storage.NewManifest(runID, tables), "", "  ")
	if err != nil {
		return fmt.Errorf("parquetfs: manifest: %w", err)
	}
	if err := os.WriteFile(markerPath, append(marker, '\n'), 0o644); err != nil {
		return fmt.Errorf("parquetfs: write marker: %w", err)
	}
	if err := os.RemoveAll(backup); err != nil {
		s.log.Warn("parquetfs: previous run left behind", zap.String("path", backup), zap.Error(err))
	}
	_ = os.Remove(filepath.Join(s.Root, stagingDir)) // only succeeds when empty

	s.log.Info("parquetfs: run committed", zap.String("run_id", runID), zap.String("root", s.Root), zap.Int("tables", len(tables)))
	return nil
}

func stageTable(stage, table string, files []columnar.File) error {
	if err := os.MkdirAll(filepath.Join(stage, table), 0o755); err != nil {
		return fmt.Errorf("parquetfs: stage %s: %w", table, err)
	}
	for _, f := range files {
		p := filepath.Join(stage, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("parquetfs: stage %s: %w", f.Path, err)
		}
		if err := os.WriteFile(p, f.Data, 0o644); err != nil {
			return fmt.Errorf("parquetfs: stage %s: %w", f.Path, err)
		}
	}
	return nil
}

// swap moves each staged table into place, parking the previous directory in
// backup. On failure every completed step is undone in reverse order.
func (s *Sink) swap(stage, backup string, tables []*schema.Table) error {
	if err := os.MkdirAll(backup, 0o755); err != nil {
		return fmt.Errorf("parquetfs: backup dir: %w", err)
	}

	type step struct {
		live, parked string
		hadLive      bool
	}
	var done []step
	rollback := func() {
		for i := len(done) - 1; i >= 0; i-- {
			st := done[i]
			_ = os.RemoveAll(st.live)
			if st.hadLive {
				if err := os.Rename(st.parked, st.live); err != nil {
					s.log.Error("parquetfs: rollback failed", zap.String("path", st.live), zap.Error(err))
				}
			}
		}
	}

	for _, t := range tables {
		st := step{live: filepath.Join(s.Root, t.Name), parked: filepath.Join(backup, t.Name)}
		if _, err := os.Stat(st.live); err == nil {
			if err := os.Rename(st.live, st.parked); err != nil {
				rollback()
				return &storage.TableError{Table: t.Name, Err: fmt.Errorf("parquetfs: park %s: %w", t.Name, err)}
			}
			st.hadLive = true
		} else if !errors.Is(err, fs.ErrNotExist) {
			rollback()
			return fmt.Errorf("parquetfs: stat %s: %w", t.Name, err)
		}
		done = append(done, st)
		if err := os.Rename(filepath.Join(stage, t.Name), st.live); err != nil {
			rollback()
			return &storage.TableError{Table: t.Name, Err: fmt.Errorf("parquetfs: publish %s: %w", t.Name, err)}
		}
	}
	return nil
}

// ReadManifest reads the _SUCCESS marker under root.
func ReadManifest(root string) (storage.Manifest, error) {
	var m storage.Manifest
	b, err := os.ReadFile(filepath.Join(root, SuccessFile))
	if err != nil {
		return m, fmt.Errorf("parquetfs: read marker: %w", err)
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("parquetfs: decode marker: %w", err)
	}
	return m, nil
}

func init() {
	storage.Register(Kind, func(_ context.Context, cfg storage.Config) (storage.Sink, error) {
		return New(cfg.Path, cfg.Logger)
	})
}
