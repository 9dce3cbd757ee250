package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"i94etl/internal/datasource"
	"i94etl/internal/labels"
)

type labelsReport struct {
	Source     string                     `json:"source"`
	Categories map[labels.Category]int    `json:"categories"`
	Missing    []labels.Category          `json:"missing,omitempty"`
	Warnings   []string                   `json:"warnings,omitempty"`
	Samples    map[labels.Category]string `json:"samples,omitempty"`
}

func newLabelsCommand(stdout io.Writer) *cobra.Command {
	var (
		path   string
		region string
	)
	cmd := &cobra.Command{
		Use:   "labels",
		Short: "Parse a SAS labels file and print what resolves",
		RunE: func(c *cobra.Command, _ []string) error {
			if path == "" {
				return fmt.Errorf("etl: --labels is required")
			}
			src, err := datasource.New(path, lazyS3(region, ""))
			if err != nil {
				return err
			}
			b, err := datasource.ReadAll(c.Context(), src)
			if err != nil {
				return fmt.Errorf("etl: read labels: %w", err)
			}
			res, err := labels.Parse(bytes.NewReader(b), zap.NewNop())
			if err != nil {
				return err
			}

			rep := labelsReport{
				Source:     path,
				Categories: map[labels.Category]int{},
				Samples:    map[labels.Category]string{},
			}
			for _, cat := range labels.Categories {
				t := res.Table(cat)
				rep.Categories[cat] = t.Len()
				if t.Len() == 0 {
					rep.Missing = append(rep.Missing, cat)
					continue
				}
				code := t.Codes()[0]
				desc, _ := t.Lookup(code)
				rep.Samples[cat] = code + " = " + desc
			}
			for _, w := range res.Warnings {
				rep.Warnings = append(rep.Warnings, w.String())
			}

			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
	cmd.Flags().StringVar(&path, "labels", "", "labels file path or s3:// URL")
	cmd.Flags().StringVar(&region, "region", "", "AWS region for s3:// URLs")
	return cmd
}
