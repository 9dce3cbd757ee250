// Package pipeline runs one ETL invocation end to end: read every source,
// build dimensions and facts, gate them on quality and publish the approved
// set.
//
// A run moves Pending -> Building -> Validating -> Ready -> Published, or to
// Failed from any stage. Nothing reaches the sink unless the gate approves
// the complete table set.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"i94etl/internal/datasource"
	"i94etl/internal/dimension"
	"i94etl/internal/fact"
	"i94etl/internal/labels"
	"i94etl/internal/metrics"
	csvparser "i94etl/internal/parser/csv"
	pqparser "i94etl/internal/parser/parquet"
	"i94etl/internal/publish"
	"i94etl/internal/quality"
	"i94etl/internal/records"
)

// State is the lifecycle state of a run.
type State string

const (
	Pending    State = "pending"
	Building   State = "building"
	Validating State = "validating"
	Ready      State = "ready"
	Published  State = "published"
	Failed     State = "failed"
)

// Source names.
const (
	SourceImmigration = "immigration"
	SourceDemography  = "demography"
	SourceLabels      = "labels"
)

// SourceError reports an input that could not be opened, read or decoded.
// It aborts the run before any building starts.
type SourceError struct {
	Source   string
	Location string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("pipeline: source %s (%s): %v", e.Source, e.Location, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Input is one located source.
type Input struct {
	Location string
	Source   datasource.Source
}

// Sources locates the three raw inputs of a run.
type Sources struct {
	Immigration Input
	// ImmigrationFormat is "parquet" or "csv".
	ImmigrationFormat string
	ImmigrationCSV    csvparser.Options

	Demography    Input
	DemographyCSV csvparser.Options

	Labels Input
}

// Config tunes the stages.
type Config struct {
	Job        string
	Dimensions dimension.Options
	Fact       fact.Options
	Quality    quality.Gate
}

// Summary is the observable outcome of a run, successful or not.
type Summary struct {
	RunID           string                       `json:"run_id"`
	Job             string                       `json:"job"`
	State           State                        `json:"state"`
	Error           string                       `json:"error,omitempty"`
	Sources         map[string]records.ReadStats `json:"sources,omitempty"`
	LabelWarnings   int                          `json:"label_warnings"`
	Tables          map[string]int               `json:"tables,omitempty"`
	Excluded        int                          `json:"excluded"`
	ExcludedSamples []string                     `json:"excluded_samples,omitempty"`
	MappingGaps     map[string]int               `json:"mapping_gaps,omitempty"`
	Quality         []quality.Result             `json:"quality,omitempty"`
	Sink            string                       `json:"sink,omitempty"`
	Elapsed         string                       `json:"elapsed"`
}

// Runner executes runs. A nil publisher stops a run at Ready, which is how
// the CLI validates without writing.
type Runner struct {
	cfg       Config
	sources   Sources
	publisher *publish.Publisher
	logger    *zap.Logger

	newRunID func() string
}

// New returns a Runner.
func New(cfg Config, sources Sources, publisher *publish.Publisher, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Job == "" {
		cfg.Job = "i94etl"
	}
	return &Runner{
		cfg:       cfg,
		sources:   sources,
		publisher: publisher,
		logger:    logger,
		newRunID:  func() string { return uuid.NewString() },
	}
}

type inputs struct {
	arrivals []records.Arrival
	// rows the reader rejected count as excluded
	arrivalStats records.ReadStats
	demography []records.Demography
	labels     *labels.Resolution
}

// Run executes one run. The summary is always returned; err is non-nil when
// the run ended Failed and is one of *SourceError, *quality.Error,
// *publish.SinkError or a context error.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	sum := &Summary{RunID: r.newRunID(), Job: r.cfg.Job, State: Pending}
	log := r.logger.With(zap.String("job", r.cfg.Job), zap.String("run_id", sum.RunID))

	fail := func(stage string, err error) (*Summary, error) {
		sum.State = Failed
		sum.Error = err.Error()
		sum.Elapsed = time.Since(start).String()
		log.Error("pipeline: run failed", zap.String("stage", stage), zap.Error(err))
		return sum, err
	}

	// Phase 1: build and validate. Nothing is written.
	sum.State = Building
	in, err := step(r.cfg.Job, "extract", log, func() (*inputs, error) { return r.load(ctx, sum, log) })
	if err != nil {
		return fail("extract", err)
	}

	set, err := step(r.cfg.Job, "dimensions", log, func() (*dimension.Set, error) {
		return dimension.BuildAll(ctx, dimension.Input{
			Arrivals:   in.arrivals,
			Demography: in.demography,
			Labels:     in.labels,
		}, r.cfg.Dimensions)
	})
	if err != nil {
		return fail("dimensions", err)
	}

	facts, err := step(r.cfg.Job, "facts", log, func() (*fact.Result, error) {
		return fact.Build(ctx, in.arrivals, fact.KeysFrom(set), r.cfg.Fact)
	})
	if err != nil {
		return fail("facts", err)
	}
	sum.Excluded = in.arrivalStats.Skipped + facts.Excluded
	sum.ExcludedSamples = excludedSamples(in.arrivalStats.Rejects, facts.Samples, r.cfg.Fact.MaxSamples)
	sum.MappingGaps = facts.Gaps
	metrics.RecordRow(r.cfg.Job, "excluded", int64(sum.Excluded))
	for col, n := range facts.Gaps {
		metrics.RecordMappingGap(r.cfg.Job, col, n)
	}
	if sum.Excluded > 0 {
		log.Warn("pipeline: arrivals excluded from facts",
			zap.Int("excluded", sum.Excluded), zap.Strings("samples", sum.ExcludedSamples))
	}

	tables := append(set.Tables(), facts.Table)
	sum.Tables = make(map[string]int, len(tables))
	for _, t := range tables {
		sum.Tables[t.Name] = t.Len()
		metrics.RecordTable(r.cfg.Job, t.Name, t.Len())
	}

	sum.State = Validating
	gate := r.cfg.Quality
	if gate.Logger == nil {
		gate.Logger = log
	}
	approval, err := step(r.cfg.Job, "quality", log, func() (*quality.Approval, error) {
		a, report, err := gate.Run(ctx, tables)
		sum.Quality = report.Results
		for _, res := range report.Results {
			metrics.RecordQuality(r.cfg.Job, res.Table, string(res.Check), res.Passed)
		}
		return a, err
	})
	if err != nil {
		return fail("quality", err)
	}
	sum.State = Ready

	// Phase 2: publish the approved set.
	if r.publisher == nil {
		sum.Elapsed = time.Since(start).String()
		log.Info("pipeline: run validated; publishing skipped", zap.Any("tables", sum.Tables))
		return sum, nil
	}
	receipt, err := step(r.cfg.Job, "publish", log, func() (*publish.Receipt, error) {
		return r.publisher.Publish(ctx, sum.RunID, approval)
	})
	if err != nil {
		return fail("publish", err)
	}
	sum.Sink = receipt.Sink
	sum.State = Published
	sum.Elapsed = time.Since(start).String()
	log.Info("pipeline: run published", zap.String("sink", receipt.Sink), zap.String("elapsed", sum.Elapsed))
	return sum, nil
}

// excludedSamples lists reader rejects before builder exclusions, capped at
// limit when limit is positive.
func excludedSamples(rejects []records.Reject, excl []fact.Exclusion, limit int) []string {
	var out []string
	full := func() bool { return limit > 0 && len(out) >= limit }
	for _, r := range rejects {
		if full() {
			return out
		}
		out = append(out, r.String())
	}
	for _, e := range excl {
		if full() {
			return out
		}
		out = append(out, e.String())
	}
	return out
}

// step times fn and records it as a pipeline step.
func step[T any](job, name string, log *zap.Logger, fn func() (T, error)) (T, error) {
	t0 := time.Now()
	v, err := fn()
	d := time.Since(t0)
	metrics.RecordStep(job, name, err, d)
	log.Debug("pipeline: step done", zap.String("step", name), zap.Duration("elapsed", d), zap.Error(err))
	return v, err
}

// load reads and decodes all three sources concurrently. Any failure is a
// *SourceError and no partial input is kept.
func (r *Runner) load(ctx context.Context, sum *Summary, log *zap.Logger) (*inputs, error) {
	in := &inputs{}
	var arrStats, demoStats records.ReadStats

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		src := r.sources.Immigration
		b, err := read(gctx, SourceImmigration, src)
		if err != nil {
			return err
		}
		switch r.sources.ImmigrationFormat {
		case "", "parquet":
			in.arrivals, arrStats, err = pqparser.ReadArrivals(gctx, bytes.NewReader(b), log)
		case "csv":
			in.arrivals, arrStats, err = csvparser.ReadArrivals(bytes.NewReader(b), r.sources.ImmigrationCSV, log)
		default:
			err = fmt.Errorf("unknown format %q", r.sources.ImmigrationFormat)
		}
		if err != nil {
			return &SourceError{Source: SourceImmigration, Location: src.Location, Err: err}
		}
		return nil
	})
	g.Go(func() error {
		src := r.sources.Demography
		b, err := read(gctx, SourceDemography, src)
		if err != nil {
			return err
		}
		in.demography, demoStats, err = csvparser.ReadDemography(bytes.NewReader(b), r.sources.DemographyCSV, log)
		if err != nil {
			return &SourceError{Source: SourceDemography, Location: src.Location, Err: err}
		}
		return nil
	})
	g.Go(func() error {
		src := r.sources.Labels
		b, err := read(gctx, SourceLabels, src)
		if err != nil {
			return err
		}
		in.labels, err = labels.Parse(bytes.NewReader(b), log)
		if err != nil {
			return &SourceError{Source: SourceLabels, Location: src.Location, Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	in.arrivalStats = arrStats
	sum.Sources = map[string]records.ReadStats{
		SourceImmigration: arrStats,
		SourceDemography:  demoStats,
	}
	sum.LabelWarnings = len(in.labels.Warnings)
	metrics.RecordRow(r.cfg.Job, "arrivals", int64(arrStats.Rows))
	metrics.RecordRow(r.cfg.Job, "demography", int64(demoStats.Rows))
	metrics.RecordRow(r.cfg.Job, "skipped", int64(arrStats.Skipped+demoStats.Skipped))
	metrics.RecordRow(r.cfg.Job, "label_warnings", int64(sum.LabelWarnings))
	log.Info("pipeline: sources loaded",
		zap.Int("arrivals", len(in.arrivals)),
		zap.Int("demography", len(in.demography)),
		zap.Int("label_warnings", sum.LabelWarnings))
	return in, nil
}

func read(ctx context.Context, name string, in Input) ([]byte, error) {
	if in.Source == nil {
		return nil, &SourceError{Source: name, Location: in.Location, Err: errors.New("not configured")}
	}
	b, err := datasource.ReadAll(ctx, in.Source)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, err
		}
		return nil, &SourceError{Source: name, Location: in.Location, Err: err}
	}
	return b, nil
}
