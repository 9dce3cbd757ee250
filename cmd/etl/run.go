package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"i94etl/internal/config"
	"i94etl/internal/datasource"
	"i94etl/internal/dimension"
	"i94etl/internal/fact"
	"i94etl/internal/logging"
	"i94etl/internal/metrics"
	"i94etl/internal/metrics/datadog"
	"i94etl/internal/metrics/prompush"
	csvparser "i94etl/internal/parser/csv"
	"i94etl/internal/pipeline"
	"i94etl/internal/publish"
	"i94etl/internal/quality"
	"i94etl/internal/storage"
	"i94etl/internal/storage/s3"
)

func newRunCommand(stdout, stderr io.Writer) *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build, validate and publish the star schema",
		Long: `
Reads the arrivals, demography and label sources, builds the dimension and
fact tables, runs the quality gate and publishes the approved tables to the
configured sink. A JSON run summary is printed to stdout.
`,
		RunE: func(c *cobra.Command, _ []string) error {
			return execute(c.Context(), cfgPath, true, stdout, stderr)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "pipeline config (.json or .yaml); empty configures from the environment")
	return cmd
}

func newValidateCommand(stdout, stderr io.Writer) *cobra.Command {
	var (
		cfgPath    string
		configOnly bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Lint the config and dry-run the build without publishing",
		RunE: func(c *cobra.Command, _ []string) error {
			if configOnly {
				p, err := loadConfig(cfgPath, stderr)
				if err != nil {
					return err
				}
				fmt.Fprintf(stderr, "configuration is valid: job=%s sink=%s\n", p.Job, p.Sink.Kind)
				return nil
			}
			return execute(c.Context(), cfgPath, false, stdout, stderr)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "pipeline config (.json or .yaml)")
	cmd.Flags().BoolVar(&configOnly, "config-only", false, "only lint the config; do not read sources")
	return cmd
}

// loadConfig loads and lints the pipeline, printing every issue to stderr.
func loadConfig(path string, stderr io.Writer) (*config.Pipeline, error) {
	p, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	issues := config.ValidatePipeline(*p)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return nil, fmt.Errorf("etl: configuration %q is invalid", path)
	}
	return p, nil
}

// execute runs one pipeline. With publish false the run stops once the
// quality gate approves.
func execute(ctx context.Context, cfgPath string, publishRun bool, stdout, stderr io.Writer) error {
	p, err := loadConfig(cfgPath, stderr)
	if err != nil {
		return err
	}
	log, err := logging.New(p.Log.Level, p.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	stopMetrics := setupMetrics(p, log)
	defer stopMetrics()

	srcs, err := buildSources(p, lazyS3(p.Sink.Region, p.Sink.Endpoint))
	if err != nil {
		return err
	}

	var pub *publish.Publisher
	if publishRun {
		sink, err := storage.New(ctx, storage.Config{
			Kind:            p.Sink.Kind,
			Job:             p.Job,
			Path:            p.Sink.Path,
			DSN:             p.Sink.DSN,
			Schema:          p.Sink.Schema,
			AutoCreateTable: p.Sink.AutoCreateTable,
			BatchSize:       p.Sink.BatchSize,
			Bucket:          p.Sink.Bucket,
			Prefix:          p.Sink.Prefix,
			Region:          p.Sink.Region,
			Endpoint:        p.Sink.Endpoint,
			Logger:          log,
		})
		if err != nil {
			return fmt.Errorf("etl: open %s sink: %w", p.Sink.Kind, err)
		}
		defer sink.Close()
		pub = publish.New(sink, p.Sink.Kind, log)
	}

	log.Info("etl: starting run",
		zap.String("job", p.Job),
		zap.String("sink", p.Sink.Kind),
		zap.Bool("publish", publishRun),
		zap.Int("workers", p.Runtime.Workers))

	sum, runErr := pipeline.New(runConfig(p, log), srcs, pub, log).Run(ctx)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		return fmt.Errorf("etl: write summary: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("etl: run %s %s: %w", sum.RunID, sum.State, runErr)
	}
	return nil
}

func runConfig(p *config.Pipeline, log *zap.Logger) pipeline.Config {
	partitionBy := p.Output.PartitionBy
	if partitionBy == nil {
		partitionBy = fact.DefaultPartitionBy
	}
	// already validated
	sev, _ := quality.ParseSeverity(p.Quality.ReferentialIntegrity, quality.SeverityWarn)
	return pipeline.Config{
		Job: p.Job,
		Dimensions: dimension.Options{
			IncludeUnobserved: p.Dimensions.IncludeUnobserved,
			Workers:           p.Runtime.Workers,
		},
		Fact: fact.Options{
			Required:    p.Fact.Required,
			Policy:      fact.Policy(p.Fact.FKPolicy),
			Workers:     p.Runtime.Workers,
			PartitionBy: partitionBy,
			MaxSamples:  p.Quality.MaxSamples,
		},
		Quality: quality.Gate{
			Referential: sev,
			MaxSamples:  p.Quality.MaxSamples,
			Logger:      log,
		},
	}
}

func csvOptions(o config.Options, comma rune) csvparser.Options {
	return csvparser.Options{
		Comma:     o.Rune("comma", comma),
		TrimSpace: o.Bool("trim_space", false),
		HeaderMap: o.StringMap("header_map"),
	}
}

func buildSources(p *config.Pipeline, s3Client datasource.ClientFunc) (pipeline.Sources, error) {
	var out pipeline.Sources
	open := func(path string) (pipeline.Input, error) {
		src, err := datasource.New(path, s3Client)
		if err != nil {
			return pipeline.Input{}, err
		}
		return pipeline.Input{Location: path, Source: src}, nil
	}

	var err error
	if out.Immigration, err = open(p.Sources.Immigration.Path); err != nil {
		return out, err
	}
	if out.Demography, err = open(p.Sources.Demography.Path); err != nil {
		return out, err
	}
	if out.Labels, err = open(p.Sources.Labels.Path); err != nil {
		return out, err
	}
	out.ImmigrationFormat = p.Sources.Immigration.Format
	out.ImmigrationCSV = csvOptions(p.Sources.Immigration.Options, ',')
	out.DemographyCSV = csvOptions(p.Sources.Demography.Options, ';')
	return out, nil
}

// lazyS3 builds one shared S3 client on first use, so local-only runs never
// touch AWS configuration.
func lazyS3(region, endpoint string) datasource.ClientFunc {
	var (
		once   sync.Once
		client s3iface.S3API
		err    error
	)
	return func() (s3iface.S3API, error) {
		once.Do(func() { client, err = s3.NewClient(region, endpoint) })
		return client, err
	}
}

// setupMetrics installs the configured backend and returns the shutdown hook
// that flushes it. A backend that fails to start leaves metrics disabled.
func setupMetrics(p *config.Pipeline, log *zap.Logger) func() {
	var (
		b   metrics.Backend
		err error
	)
	switch p.Metrics.Backend {
	case "prometheus":
		b, err = prompush.NewBackend(p.Job, p.Metrics.PushgatewayURL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       p.Metrics.DatadogAddr,
			Namespace:  "i94etl.",
			GlobalTags: []string{"job:" + p.Job},
		})
	default:
		log.Debug("metrics: disabled", zap.String("backend", p.Metrics.Backend))
		return func() {}
	}
	if err != nil {
		log.Warn("metrics: backend init failed; using nop", zap.String("backend", p.Metrics.Backend), zap.Error(err))
		return func() {}
	}
	metrics.SetBackend(b)
	log.Info("metrics: backend installed", zap.String("backend", p.Metrics.Backend))
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics: flush failed", zap.Error(err))
		}
		metrics.Reset()
	}
}
