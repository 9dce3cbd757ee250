package config

import (
	"fmt"
	"strings"

	"i94etl/internal/fact"
	"i94etl/internal/quality"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single validation finding. Path is a dotted path into the config
// (e.g. "sink.dsn", "output.partition_by[1]").
type Issue struct {
	Severity IssueSeverity `json:"severity"`
	Path     string        `json:"path"`
	Message  string        `json:"message"`
}

// Error implements error so an Issue can stand in for one.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline lints p without touching the filesystem or network. It
// returns every finding; callers decide whether warnings are fatal.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		add(SeverityError, "job", "job must not be empty")
	}

	issues = append(issues, validateSources(p.Sources)...)
	issues = append(issues, validateSink(p.Sink)...)

	factCols := map[string]bool{}
	for _, c := range fact.NewTable(nil).ColumnNames() {
		factCols[c] = true
	}
	seen := map[string]bool{}
	for i, c := range p.Output.PartitionBy {
		path := fmt.Sprintf("output.partition_by[%d]", i)
		switch {
		case !factCols[c]:
			add(SeverityError, path, "unknown fact column %q", c)
		case seen[c]:
			add(SeverityError, path, "duplicate partition column %q", c)
		}
		seen[c] = true
	}
	if len(p.Output.PartitionBy) > 0 && (p.Sink.Kind != "parquet" && p.Sink.Kind != "s3") {
		add(SeverityWarning, "output.partition_by", "ignored by sink kind %q", p.Sink.Kind)
	}

	if err := fact.ValidateRequired(p.Fact.Required); err != nil {
		add(SeverityError, "fact.required", "%v", err)
	}
	switch fact.Policy(p.Fact.FKPolicy) {
	case "", fact.PolicyResolved, fact.PolicyObserved:
	default:
		add(SeverityError, "fact.fk_policy", "fk_policy must be %q or %q, got %q",
			fact.PolicyResolved, fact.PolicyObserved, p.Fact.FKPolicy)
	}

	if _, err := quality.ParseSeverity(p.Quality.ReferentialIntegrity, quality.SeverityWarn); err != nil {
		add(SeverityError, "quality.referential_integrity", "%v", err)
	}
	if p.Quality.MaxSamples < 0 {
		add(SeverityError, "quality.max_samples", "max_samples must not be negative")
	}

	if p.Runtime.Workers < 0 {
		add(SeverityError, "runtime.workers", "workers must not be negative")
	}

	switch p.Metrics.Backend {
	case "", "none":
	case "prometheus":
		if p.Metrics.PushgatewayURL == "" {
			add(SeverityError, "metrics.pushgateway_url", "required for the prometheus backend")
		}
	case "datadog":
		if p.Metrics.DatadogAddr == "" {
			add(SeverityError, "metrics.datadog_addr", "required for the datadog backend")
		}
	default:
		add(SeverityError, "metrics.backend", "unknown metrics backend %q", p.Metrics.Backend)
	}

	switch strings.ToLower(p.Log.Format) {
	case "", "json", "console":
	default:
		add(SeverityWarning, "log.format", "unknown log format %q; using json", p.Log.Format)
	}

	return issues
}

func validateSources(s Sources) []Issue {
	var issues []Issue
	required := func(path, v string) {
		if strings.TrimSpace(v) == "" {
			issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: "path must not be empty"})
		}
	}
	required("sources.immigration.path", s.Immigration.Path)
	required("sources.demography.path", s.Demography.Path)
	required("sources.labels.path", s.Labels.Path)

	switch s.Immigration.Format {
	case "parquet":
		if len(s.Immigration.Options) > 0 {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "sources.immigration.options",
				Message:  "options are ignored for parquet input",
			})
		}
	case "csv":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "sources.immigration.format",
			Message:  fmt.Sprintf("format must be parquet or csv, got %q", s.Immigration.Format),
		})
	}
	return issues
}

func validateSink(s Sink) []Issue {
	var issues []Issue
	need := func(path, v string) {
		if strings.TrimSpace(v) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  fmt.Sprintf("required for sink kind %q", s.Kind),
			})
		}
	}
	switch s.Kind {
	case "parquet":
		need("sink.path", s.Path)
	case "s3":
		need("sink.bucket", s.Bucket)
		if s.Region == "" && s.Endpoint == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "sink.region",
				Message:  "no region or endpoint; the SDK default chain decides",
			})
		}
	case "postgres", "sqlite", "mssql", "mysql":
		need("sink.dsn", s.DSN)
		if !s.AutoCreateTable {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "sink.auto_create_table",
				Message:  "disabled; target tables must already exist",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "sink.kind",
			Message:  fmt.Sprintf("unknown sink kind %q", s.Kind),
		})
	}
	if s.BatchSize < 0 {
		issues = append(issues, Issue{Severity: SeverityError, Path: "sink.batch_size", Message: "batch_size must not be negative"})
	}
	return issues
}
