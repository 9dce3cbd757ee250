// Package quality implements the gate that stands between building and
// publishing. It checks every table for key uniqueness and non-emptiness, and
// the fact table's foreign keys for referential integrity.
//
// A run may publish only through an *Approval, which only Gate.Run creates
// and only when no fatal check failed.
package quality

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"i94etl/internal/schema"
)

// Check names a quality check.
type Check string

const (
	UniqueKey            Check = "unique_key"
	NonEmpty             Check = "non_empty"
	ReferentialIntegrity Check = "referential_integrity"
)

// Severity decides whether a failed check stops the run.
type Severity string

const (
	SeverityFail Severity = "fail"
	SeverityWarn Severity = "warn"
)

// ParseSeverity accepts "fail", "warn" or "" (which yields def).
func ParseSeverity(s string, def Severity) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return def, nil
	case SeverityFail:
		return SeverityFail, nil
	case SeverityWarn:
		return SeverityWarn, nil
	}
	return "", fmt.Errorf("quality: unknown severity %q", s)
}

// Result is the outcome of one check on one table.
type Result struct {
	Table    string   `json:"table"`
	Check    Check    `json:"check"`
	Passed   bool     `json:"passed"`
	Severity Severity `json:"severity"`
	Reason   string   `json:"reason,omitempty"`
	// Samples holds offending key values, bounded by Gate.MaxSamples.
	Samples []string `json:"samples,omitempty"`
}

func (r Result) fatal() bool { return !r.Passed && r.Severity == SeverityFail }

func (r Result) err() error {
	if len(r.Samples) > 0 {
		return fmt.Errorf("%s %s: %s [%s]", r.Table, r.Check, r.Reason, strings.Join(r.Samples, ", "))
	}
	return fmt.Errorf("%s %s: %s", r.Table, r.Check, r.Reason)
}

// Report collects the results of one gate run.
type Report struct {
	Results []Result `json:"results"`
}

// Passed reports whether no fatal check failed.
func (r Report) Passed() bool {
	for _, res := range r.Results {
		if res.fatal() {
			return false
		}
	}
	return true
}

// Failures returns the failed fatal checks.
func (r Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.fatal() {
			out = append(out, res)
		}
	}
	return out
}

// Warnings returns the failed non-fatal checks.
func (r Report) Warnings() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Passed && !res.fatal() {
			out = append(out, res)
		}
	}
	return out
}

// Error is returned by Gate.Run when a fatal check failed.
type Error struct {
	Report Report
	err    error
}

func (e *Error) Error() string {
	return "quality: gate failed: " + e.err.Error()
}

// Errors returns one error per failed fatal check.
func (e *Error) Errors() []error { return multierr.Errors(e.err) }

// Approval is the gate's permission to publish a validated table set.
type Approval struct {
	tables []*schema.Table
	report Report
}

// Tables returns the approved table set.
func (a *Approval) Tables() []*schema.Table { return a.tables }

// Report returns the report the approval was granted on.
func (a *Approval) Report() Report { return a.report }

// Gate runs the checks.
type Gate struct {
	// Referential is the severity of referential integrity failures.
	Referential Severity
	MaxSamples  int
	Logger      *zap.Logger
}

// Run checks tables and returns an approval when no fatal check failed. The
// report is returned in both cases; on failure err is a *Error.
func (g *Gate) Run(ctx context.Context, tables []*schema.Table) (*Approval, Report, error) {
	log := g.Logger
	if log == nil {
		log = zap.NewNop()
	}
	refSev := g.Referential
	if refSev == "" {
		refSev = SeverityWarn
	}
	maxSamples := g.MaxSamples
	if maxSamples <= 0 {
		maxSamples = 10
	}

	var rep Report
	byName := make(map[string]*schema.Table, len(tables))
	for _, t := range tables {
		if _, dup := byName[t.Name]; dup {
			rep.Results = append(rep.Results, Result{
				Table: t.Name, Check: UniqueKey, Severity: SeverityFail,
				Reason: "table appears more than once in the set",
			})
			continue
		}
		byName[t.Name] = t
	}

	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return nil, rep, err
		}
		rep.Results = append(rep.Results, nonEmpty(t), uniqueKey(t, maxSamples))
		for _, fk := range t.ForeignKeys {
			r := referential(t, fk, byName[fk.RefTable], maxSamples)
			r.Severity = refSev
			rep.Results = append(rep.Results, r)
		}
	}

	var errs error
	for _, r := range rep.Results {
		switch {
		case r.Passed:
			log.Debug("quality: check passed", zap.String("table", r.Table), zap.String("check", string(r.Check)))
		case r.fatal():
			log.Error("quality: check failed",
				zap.String("table", r.Table), zap.String("check", string(r.Check)),
				zap.String("reason", r.Reason), zap.Strings("samples", r.Samples))
			errs = multierr.Append(errs, r.err())
		default:
			log.Warn("quality: check failed (non-fatal)",
				zap.String("table", r.Table), zap.String("check", string(r.Check)),
				zap.String("reason", r.Reason), zap.Strings("samples", r.Samples))
		}
	}
	if errs != nil {
		return nil, rep, &Error{Report: rep, err: errs}
	}
	return &Approval{tables: tables, report: rep}, rep, nil
}

func nonEmpty(t *schema.Table) Result {
	r := Result{Table: t.Name, Check: NonEmpty, Severity: SeverityFail, Passed: t.Len() > 0}
	if !r.Passed {
		r.Reason = fmt.Sprintf("table %s is empty", t.Name)
	}
	return r
}

func uniqueKey(t *schema.Table, maxSamples int) Result {
	r := Result{Table: t.Name, Check: UniqueKey, Severity: SeverityFail}
	if len(t.Key) == 0 {
		r.Reason = fmt.Sprintf("table %s has no key columns", t.Name)
		return r
	}
	idx, err := t.Indexes(t.Key)
	if err != nil {
		r.Reason = err.Error()
		return r
	}

	seen := make(map[string]int, t.Len())
	nulls := 0
	for _, row := range t.Rows {
		k, ok := schema.KeyString(row, idx)
		if !ok {
			nulls++
			continue
		}
		seen[k]++
	}
	var dups []string
	for k, n := range seen {
		if n > 1 {
			dups = append(dups, k)
		}
	}
	sort.Strings(dups)

	keyDesc := strings.Join(t.Key, ", ")
	switch {
	case len(dups) > 0:
		r.Reason = fmt.Sprintf("table %s: %d duplicate value(s) in key (%s)", t.Name, len(dups), keyDesc)
		r.Samples = head(dups, maxSamples)
	case nulls > 0:
		r.Reason = fmt.Sprintf("table %s: %d row(s) with NULL in key (%s)", t.Name, nulls, keyDesc)
	default:
		r.Passed = true
	}
	return r
}

func referential(t *schema.Table, fk schema.ForeignKey, ref *schema.Table, maxSamples int) Result {
	r := Result{Table: t.Name, Check: ReferentialIntegrity}
	if ref == nil {
		r.Reason = fmt.Sprintf("%s.%s references missing table %s", t.Name, fk.Column, fk.RefTable)
		return r
	}
	ci := t.ColumnIndex(fk.Column)
	ri := ref.ColumnIndex(fk.RefColumn)
	if ci < 0 || ri < 0 {
		r.Reason = fmt.Sprintf("%s.%s -> %s.%s: unknown column", t.Name, fk.Column, fk.RefTable, fk.RefColumn)
		return r
	}

	keys := make(map[string]struct{}, ref.Len())
	for _, row := range ref.Rows {
		if row[ri] != nil {
			keys[schema.FormatValue(row[ri])] = struct{}{}
		}
	}
	orphans := map[string]struct{}{}
	for _, row := range t.Rows {
		if row[ci] == nil {
			continue
		}
		v := schema.FormatValue(row[ci])
		if _, ok := keys[v]; !ok {
			orphans[v] = struct{}{}
		}
	}
	if len(orphans) == 0 {
		r.Passed = true
		return r
	}
	vals := make([]string, 0, len(orphans))
	for v := range orphans {
		vals = append(vals, v)
	}
	sort.Strings(vals)
	r.Reason = fmt.Sprintf("%s.%s: %d value(s) missing from %s.%s", t.Name, fk.Column, len(vals), fk.RefTable, fk.RefColumn)
	r.Samples = head(vals, maxSamples)
	return r
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
