// Package config defines the configuration model of an ETL run. A run is
// described by one JSON or YAML file; environment variables override the
// scalar settings so the same file can be promoted across environments.
//
// Example (trimmed):
//
//	{
//	  "job": "i94-2016-04",
//	  "sources": {
//	    "immigration": { "path": "s3://raw/i94/i94_apr16_sub.parquet", "format": "parquet" },
//	    "demography":  { "path": "data/us-cities-demographics.csv", "options": { "comma": ";" } },
//	    "labels":      { "path": "data/I94_SAS_Labels_Descriptions.SAS" }
//	  },
//	  "sink": { "kind": "parquet", "path": "out/star" }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Pipeline is the top-level run configuration.
type Pipeline struct {
	// Job names the run in logs, metrics and the published manifest.
	Job string `json:"job" yaml:"job" env:"ETL_JOB" env-default:"i94etl"`

	Sources    Sources       `json:"sources" yaml:"sources"`
	Sink       Sink          `json:"sink" yaml:"sink"`
	Output     Output        `json:"output" yaml:"output"`
	Dimensions Dimensions    `json:"dimensions" yaml:"dimensions"`
	Fact       Fact          `json:"fact" yaml:"fact"`
	Quality    Quality       `json:"quality" yaml:"quality"`
	Runtime    RuntimeConfig `json:"runtime" yaml:"runtime"`
	Metrics    Metrics       `json:"metrics" yaml:"metrics"`
	Log        Log           `json:"log" yaml:"log"`
}

// Sources locates the three raw inputs. Paths are local files or s3:// URLs.
type Sources struct {
	Immigration Immigration `json:"immigration" yaml:"immigration"`
	Demography  Demography  `json:"demography" yaml:"demography"`
	Labels      Labels      `json:"labels" yaml:"labels"`
}

// Immigration configures the arrivals extract.
type Immigration struct {
	Path string `json:"path" yaml:"path" env:"ETL_IMMIGRATION_PATH"`
	// Format is "parquet" or "csv".
	Format string `json:"format" yaml:"format" env:"ETL_IMMIGRATION_FORMAT" env-default:"parquet"`
	// Options is read by the CSV reader: comma (string), trim_space (bool),
	// header_map (object).
	Options Options `json:"options" yaml:"options"`
}

// Demography configures the US cities demographics CSV.
type Demography struct {
	Path    string  `json:"path" yaml:"path" env:"ETL_DEMOGRAPHY_PATH"`
	Options Options `json:"options" yaml:"options"`
}

// Labels configures the SAS label descriptions file.
type Labels struct {
	Path string `json:"path" yaml:"path" env:"ETL_LABELS_PATH"`
}

// Sink selects where the star schema is published.
type Sink struct {
	// Kind is one of parquet, s3, postgres, sqlite, mssql, mysql.
	Kind            string `json:"kind" yaml:"kind" env:"ETL_SINK_KIND" env-default:"parquet"`
	Path            string `json:"path" yaml:"path" env:"ETL_SINK_PATH"`
	DSN             string `json:"dsn" yaml:"dsn" env:"ETL_SINK_DSN"`
	Schema          string `json:"schema" yaml:"schema" env:"ETL_SINK_SCHEMA"`
	AutoCreateTable bool   `json:"auto_create_table" yaml:"auto_create_table" env:"ETL_SINK_AUTO_CREATE"`
	BatchSize       int    `json:"batch_size" yaml:"batch_size" env:"ETL_SINK_BATCH_SIZE"`
	Bucket          string `json:"bucket" yaml:"bucket" env:"ETL_SINK_BUCKET"`
	Prefix          string `json:"prefix" yaml:"prefix" env:"ETL_SINK_PREFIX"`
	Region          string `json:"region" yaml:"region" env:"AWS_REGION"`
	Endpoint        string `json:"endpoint" yaml:"endpoint" env:"ETL_S3_ENDPOINT"`
}

// Output controls fact table layout.
type Output struct {
	// PartitionBy names fact columns used for directory partitioning. Nil
	// means year, month, airport_code; an empty list disables partitioning.
	PartitionBy []string `json:"partition_by" yaml:"partition_by"`
}

// Dimensions tunes the dimension builders.
type Dimensions struct {
	IncludeUnobserved bool `json:"include_unobserved" yaml:"include_unobserved" env:"ETL_INCLUDE_UNOBSERVED"`
}

// Fact tunes the fact builder.
type Fact struct {
	// Required lists raw arrival columns that must be present for a row to be
	// kept. cicid is always required.
	Required []string `json:"required" yaml:"required"`
	// FKPolicy is "resolved" or "observed".
	FKPolicy string `json:"fk_policy" yaml:"fk_policy" env:"ETL_FK_POLICY" env-default:"resolved"`
}

// Quality tunes the quality gate.
type Quality struct {
	// ReferentialIntegrity is "warn" or "fail".
	ReferentialIntegrity string `json:"referential_integrity" yaml:"referential_integrity" env:"ETL_REFERENTIAL_INTEGRITY" env-default:"warn"`
	MaxSamples           int    `json:"max_samples" yaml:"max_samples" env:"ETL_QUALITY_MAX_SAMPLES" env-default:"20"`
}

// RuntimeConfig controls concurrency. Zero means GOMAXPROCS.
type RuntimeConfig struct {
	Workers int `json:"workers" yaml:"workers" env:"ETL_WORKERS"`
}

// Metrics selects the metrics backend: none, prometheus or datadog.
type Metrics struct {
	Backend        string `json:"backend" yaml:"backend" env:"ETL_METRICS_BACKEND" env-default:"none"`
	PushgatewayURL string `json:"pushgateway_url" yaml:"pushgateway_url" env:"PUSHGATEWAY_URL"`
	DatadogAddr    string `json:"datadog_addr" yaml:"datadog_addr" env:"DD_AGENT_ADDR"`
}

// Log configures zap.
type Log struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Load reads the pipeline file at path (.json or .yaml) and applies
// environment overrides. An empty path configures from the environment only.
func Load(path string) (*Pipeline, error) {
	var p Pipeline
	if strings.TrimSpace(path) == "" {
		if err := cleanenv.ReadEnv(&p); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, &p); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	p.normalize()
	return &p, nil
}

func (p *Pipeline) normalize() {
	p.Sources.Immigration.Format = strings.ToLower(strings.TrimSpace(p.Sources.Immigration.Format))
	p.Sink.Kind = strings.ToLower(strings.TrimSpace(p.Sink.Kind))
	p.Fact.FKPolicy = strings.ToLower(strings.TrimSpace(p.Fact.FKPolicy))
	p.Metrics.Backend = strings.ToLower(strings.TrimSpace(p.Metrics.Backend))
	if p.Sources.Immigration.Options == nil {
		p.Sources.Immigration.Options = Options{}
	}
	if p.Sources.Demography.Options == nil {
		p.Sources.Demography.Options = Options{}
	}
}

// Options is a small helper to fetch typed values from free-form maps decoded
// from JSON or YAML. It performs minimal coercion and returns def when a key
// is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64
// and YAML numbers as int; both are accepted.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def if key is
// missing or empty.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object.
// Non-string values are ignored.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		}
	}
	return res
}

// UnmarshalJSON decodes a missing or null options object to an empty map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
