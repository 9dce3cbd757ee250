// Package publish hands an approved table set to a sink. It only accepts a
// *quality.Approval, which the quality gate alone can produce, so nothing
// unvalidated reaches storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"i94etl/internal/quality"
	"i94etl/internal/storage"
)

// SinkError reports a failed publish. Table is empty when the failure was not
// tied to one table (connection, commit).
type SinkError struct {
	Kind  string
	Table string
	Err   error
}

func (e *SinkError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("publish: %s sink: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("publish: %s sink: table %s: %v", e.Kind, e.Table, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Receipt describes a committed publish.
type Receipt struct {
	RunID    string         `json:"run_id"`
	Sink     string         `json:"sink"`
	Tables   map[string]int `json:"tables"`
	Duration time.Duration  `json:"duration_ns"`
}

// Publisher writes approved table sets to one sink.
type Publisher struct {
	sink   storage.Sink
	kind   string
	logger *zap.Logger
}

// New returns a publisher for sink. kind names the sink in errors and logs.
func New(sink storage.Sink, kind string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{sink: sink, kind: kind, logger: logger}
}

// Publish writes every approved table in one sink transaction. Sink failures
// come back as *SinkError and are not retried.
func (p *Publisher) Publish(ctx context.Context, runID string, approval *quality.Approval) (*Receipt, error) {
	if approval == nil {
		return nil, errors.New("publish: table set was not approved by the quality gate")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tables := approval.Tables()
	start := time.Now()

	if err := p.sink.Write(ctx, runID, tables); err != nil {
		se := &SinkError{Kind: p.kind, Err: err}
		var te *storage.TableError
		if errors.As(err, &te) {
			se.Table = te.Table
		}
		p.logger.Error("publish: sink write failed",
			zap.String("sink", p.kind), zap.String("table", se.Table), zap.Error(err))
		return nil, se
	}

	rec := &Receipt{RunID: runID, Sink: p.kind, Tables: storage.NewManifest(runID, tables).Tables, Duration: time.Since(start)}
	p.logger.Info("publish: run published",
		zap.String("sink", p.kind), zap.String("run_id", runID),
		zap.Int("tables", len(tables)), zap.Duration("elapsed", rec.Duration))
	return rec, nil
}
