package config

import (
	"strings"
	"testing"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(t *testing.T, issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	t.Helper()
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

func validPipeline() Pipeline {
	return Pipeline{
		Job: "test-job",
		Sources: Sources{
			Immigration: Immigration{Path: "i94.parquet", Format: "parquet"},
			Demography:  Demography{Path: "cities.csv"},
			Labels:      Labels{Path: "labels.sas"},
		},
		Sink:    Sink{Kind: "parquet", Path: "out"},
		Fact:    Fact{FKPolicy: "resolved"},
		Quality: Quality{ReferentialIntegrity: "warn", MaxSamples: 10},
		Metrics: Metrics{Backend: "none"},
		Log:     Log{Level: "info", Format: "json"},
	}
}

func TestValidatePipeline_ValidMinimal(t *testing.T) {
	if issues := ValidatePipeline(validPipeline()); len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestValidatePipeline_MissingJob(t *testing.T) {
	p := validPipeline()
	p.Job = " "
	issues := ValidatePipeline(p)
	if !hasIssue(t, issues, SeverityError, "job", "job must not be empty") {
		t.Fatalf("expected SeverityError for job; got issues: %+v", issues)
	}
	if !HasErrors(issues) {
		t.Fatal("HasErrors=false")
	}
}

func TestValidatePipeline_Findings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Pipeline)
		sev    IssueSeverity
		path   string
		msg    string
	}{
		{"missing labels", func(p *Pipeline) { p.Sources.Labels.Path = "" }, SeverityError, "sources.labels.path", "must not be empty"},
		{"bad format", func(p *Pipeline) { p.Sources.Immigration.Format = "sas7bdat" }, SeverityError, "sources.immigration.format", "parquet or csv"},
		{"parquet options", func(p *Pipeline) { p.Sources.Immigration.Options = Options{"comma": ","} }, SeverityWarning, "sources.immigration.options", "ignored"},
		{"unknown sink", func(p *Pipeline) { p.Sink.Kind = "redshift" }, SeverityError, "sink.kind", "unknown sink kind"},
		{"parquet path", func(p *Pipeline) { p.Sink.Path = "" }, SeverityError, "sink.path", "required"},
		{"sql dsn", func(p *Pipeline) { p.Sink = Sink{Kind: "postgres", AutoCreateTable: true} }, SeverityError, "sink.dsn", "required"},
		{"sql no create", func(p *Pipeline) { p.Sink = Sink{Kind: "sqlite", DSN: "x.db"} }, SeverityWarning, "sink.auto_create_table", "must already exist"},
		{"s3 bucket", func(p *Pipeline) { p.Sink = Sink{Kind: "s3", Region: "us-east-1"} }, SeverityError, "sink.bucket", "required"},
		{"partition unknown", func(p *Pipeline) { p.Output.PartitionBy = []string{"year", "planet"} }, SeverityError, "output.partition_by[1]", "unknown fact column"},
		{"partition dup", func(p *Pipeline) { p.Output.PartitionBy = []string{"year", "year"} }, SeverityError, "output.partition_by[1]", "duplicate"},
		{"partition ignored", func(p *Pipeline) {
			p.Sink = Sink{Kind: "sqlite", DSN: "x.db", AutoCreateTable: true}
			p.Output.PartitionBy = []string{"year"}
		}, SeverityWarning, "output.partition_by", "ignored"},
		{"required unknown", func(p *Pipeline) { p.Fact.Required = []string{"cicid", "passport"} }, SeverityError, "fact.required", "passport"},
		{"fk policy", func(p *Pipeline) { p.Fact.FKPolicy = "strict" }, SeverityError, "fact.fk_policy", "strict"},
		{"referential", func(p *Pipeline) { p.Quality.ReferentialIntegrity = "panic" }, SeverityError, "quality.referential_integrity", "unknown severity"},
		{"samples", func(p *Pipeline) { p.Quality.MaxSamples = -1 }, SeverityError, "quality.max_samples", "negative"},
		{"workers", func(p *Pipeline) { p.Runtime.Workers = -2 }, SeverityError, "runtime.workers", "negative"},
		{"prometheus url", func(p *Pipeline) { p.Metrics.Backend = "prometheus" }, SeverityError, "metrics.pushgateway_url", "required"},
		{"datadog addr", func(p *Pipeline) { p.Metrics.Backend = "datadog" }, SeverityError, "metrics.datadog_addr", "required"},
		{"metrics backend", func(p *Pipeline) { p.Metrics.Backend = "graphite" }, SeverityError, "metrics.backend", "graphite"},
		{"log format", func(p *Pipeline) { p.Log.Format = "logfmt" }, SeverityWarning, "log.format", "logfmt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validPipeline()
			tc.mutate(&p)
			issues := ValidatePipeline(p)
			if !hasIssue(t, issues, tc.sev, tc.path, tc.msg) {
				t.Fatalf("expected %s at %s (%q); got %+v", tc.sev, tc.path, tc.msg, issues)
			}
		})
	}
}

func TestIssueError(t *testing.T) {
	i := Issue{Severity: SeverityWarning, Path: "sink.region", Message: "empty"}
	if got, want := i.Error(), "warning at sink.region: empty"; got != want {
		t.Fatalf("Error()=%q want %q", got, want)
	}
}
