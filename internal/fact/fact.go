// Package fact builds the immigration_facts table: one row per arrival record,
// with categorical codes replaced by foreign keys into the dimensions.
//
// A record is excluded only when a structurally required field is missing.
// A code that does not link to its dimension leaves the foreign key NULL and
// is counted as a mapping gap; the row is kept.
package fact

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"i94etl/internal/dimension"
	"i94etl/internal/records"
	"i94etl/internal/schema"
)

// Policy decides when a present code links to its dimension row.
type Policy string

const (
	// PolicyResolved links a code only when its dimension row carries a label
	// description.
	PolicyResolved Policy = "resolved"
	// PolicyObserved links any code that has a dimension row.
	PolicyObserved Policy = "observed"
)

// KeyMaps holds, per dimension, the known codes and whether each resolved to a
// label.
type KeyMaps struct {
	TravelMode   map[string]bool
	Country      map[string]bool
	VisaCategory map[string]bool
	USState      map[string]bool
	Airport      map[string]bool
}

func codeKeys(rows []dimension.CodeRow) map[string]bool {
	m := make(map[string]bool, len(rows))
	for _, r := range rows {
		m[r.Code] = r.Resolved()
	}
	return m
}

// KeysFrom extracts the key mappings of a built dimension set.
func KeysFrom(s *dimension.Set) KeyMaps {
	air := make(map[string]bool, len(s.Airport))
	for _, r := range s.Airport {
		air[r.Code] = r.Resolved()
	}
	return KeyMaps{
		TravelMode:   codeKeys(s.TravelMode),
		Country:      codeKeys(s.Country),
		VisaCategory: codeKeys(s.VisaCategory),
		USState:      codeKeys(s.USState),
		Airport:      air,
	}
}

// Options tunes Build.
type Options struct {
	// Required lists raw arrival columns a record must carry. cicid is always
	// required since it is the fact key.
	Required []string
	Policy   Policy
	Workers  int
	// PartitionBy is copied onto the produced table.
	PartitionBy []string
	// MaxSamples bounds Result.Samples.
	MaxSamples int
}

// DefaultRequired are the required fields when none are configured.
var DefaultRequired = []string{"cicid", "i94port"}

// DefaultPartitionBy is the fact layout used by columnar sinks.
var DefaultPartitionBy = []string{"year", "month", "airport_code"}

// Exclusion records why an arrival was dropped.
type Exclusion struct {
	Line   int
	CICID  string
	Reason string
}

func (e Exclusion) String() string {
	return fmt.Sprintf("line %d (cicid=%q): %s", e.Line, e.CICID, e.Reason)
}

// Result is the output of Build.
type Result struct {
	Table    *schema.Table
	Excluded int
	Samples  []Exclusion
	// Gaps counts, per foreign key column, present codes left NULL.
	Gaps map[string]int
}

// Foreign key columns of the fact table.
const (
	ColAirport          = "airport_id"
	ColState            = "state_id"
	ColTravelMode       = "travel_mode_id"
	ColVisaCategory     = "visa_category_id"
	ColCitizenCountry   = "citizen_country_id"
	ColResidenceCountry = "residence_country_id"
)

// FKColumns lists the foreign key columns in table order.
var FKColumns = []string{
	ColAirport, ColState, ColTravelMode, ColVisaCategory, ColCitizenCountry, ColResidenceCountry,
}

// NewTable returns an empty immigration_facts table definition.
func NewTable(partitionBy []string) *schema.Table {
	return &schema.Table{
		Name: schema.ImmigrationFacts,
		Columns: []schema.Column{
			{Name: "citizen_id", Type: schema.String},
			{Name: "year", Type: schema.Int64, Nullable: true},
			{Name: "month", Type: schema.Int64, Nullable: true},
			{Name: "airport_code", Type: schema.String, Nullable: true},
			{Name: ColAirport, Type: schema.String, Nullable: true},
			{Name: ColState, Type: schema.String, Nullable: true},
			{Name: "arrival_date", Type: schema.Date, Nullable: true},
			{Name: "departure_date", Type: schema.Date, Nullable: true},
			{Name: ColTravelMode, Type: schema.String, Nullable: true},
			{Name: ColVisaCategory, Type: schema.String, Nullable: true},
			{Name: "visa_type", Type: schema.String, Nullable: true},
			{Name: ColCitizenCountry, Type: schema.String, Nullable: true},
			{Name: ColResidenceCountry, Type: schema.String, Nullable: true},
			{Name: "birth_year", Type: schema.Int64, Nullable: true},
			{Name: "gender", Type: schema.String, Nullable: true},
			{Name: "ins_num", Type: schema.String, Nullable: true},
			{Name: "airline", Type: schema.String, Nullable: true},
			{Name: "admin_num", Type: schema.String, Nullable: true},
			{Name: "flight_number", Type: schema.String, Nullable: true},
		},
		Key: []string{"citizen_id"},
		ForeignKeys: []schema.ForeignKey{
			{Column: ColAirport, RefTable: schema.AirportCodesDim, RefColumn: dimension.AirportKey},
			{Column: ColState, RefTable: schema.USStatesDim, RefColumn: dimension.USState.KeyCol},
			{Column: ColTravelMode, RefTable: schema.TravelModeDim, RefColumn: dimension.TravelMode.KeyCol},
			{Column: ColVisaCategory, RefTable: schema.VisaCategoryDim, RefColumn: dimension.VisaCategory.KeyCol},
			{Column: ColCitizenCountry, RefTable: schema.CountryDim, RefColumn: dimension.Country.KeyCol},
			{Column: ColResidenceCountry, RefTable: schema.CountryDim, RefColumn: dimension.Country.KeyCol},
		},
		PartitionBy: append([]string(nil), partitionBy...),
	}
}

// missingField reports whether the raw column col is absent on a. Unknown
// column names are reported as an error by Build before any row is read.
func missingField(a *records.Arrival, col string) bool {
	switch col {
	case "cicid":
		return a.CICID == ""
	case "i94yr":
		return a.Year == nil
	case "i94mon":
		return a.Month == nil
	case "i94port":
		return a.Port == ""
	case "i94addr":
		return a.StateCode == ""
	case "arrdate":
		return a.ArrivalDate == nil
	case "depdate":
		return a.DepartureDate == nil
	case "i94mode":
		return a.Mode == ""
	case "i94visa":
		return a.VisaCategory == ""
	case "visatype":
		return a.VisaType == ""
	case "i94cit":
		return a.CitizenCountry == ""
	case "i94res":
		return a.ResidenceCountry == ""
	case "biryear":
		return a.BirthYear == nil
	case "gender":
		return a.Gender == ""
	case "insnum":
		return a.InsNum == ""
	case "airline":
		return a.Airline == ""
	case "admnum":
		return a.AdmNum == ""
	case "fltno":
		return a.FlightNumber == ""
	}
	return false
}

// ValidateRequired rejects column names that are not raw arrival columns.
func ValidateRequired(cols []string) error {
	known := make(map[string]struct{}, len(records.ArrivalColumns))
	for _, c := range records.ArrivalColumns {
		known[c] = struct{}{}
	}
	var bad []string
	for _, c := range cols {
		if _, ok := known[c]; !ok {
			bad = append(bad, c)
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("fact: unknown required column(s): %s", strings.Join(bad, ", "))
	}
	return nil
}

type builder struct {
	keys     KeyMaps
	required []string
	policy   Policy
}

// link returns the FK value for code against keys, and whether a present code
// failed to link.
func (b *builder) link(code string, keys map[string]bool) (v any, gap bool) {
	if code == "" {
		return nil, false
	}
	resolved, ok := keys[code]
	if !ok || (b.policy == PolicyResolved && !resolved) {
		return nil, true
	}
	return code, false
}

type chunkOut struct {
	rows     [][]any
	excluded []Exclusion
	gaps     [numFK]int
}

const numFK = 6 // len(FKColumns)

func (b *builder) run(recs []records.Arrival) chunkOut {
	var out chunkOut
	out.rows = make([][]any, 0, len(recs))
	for i := range recs {
		a := &recs[i]
		if reason := b.invalid(a); reason != "" {
			out.excluded = append(out.excluded, Exclusion{Line: a.Line, CICID: a.CICID, Reason: reason})
			continue
		}

		var fk [numFK]any
		codes := [numFK]string{a.Port, a.StateCode, a.Mode, a.VisaCategory, a.CitizenCountry, a.ResidenceCountry}
		maps := [numFK]map[string]bool{b.keys.Airport, b.keys.USState, b.keys.TravelMode, b.keys.VisaCategory, b.keys.Country, b.keys.Country}
		for j := range codes {
			v, gap := b.link(codes[j], maps[j])
			fk[j] = v
			if gap {
				out.gaps[j]++
			}
		}

		out.rows = append(out.rows, []any{
			a.CICID,
			ptrInt(a.Year),
			ptrInt(a.Month),
			str(a.Port),
			fk[0],
			fk[1],
			date(SASDate(a.ArrivalDate)),
			date(SASDate(a.DepartureDate)),
			fk[2],
			fk[3],
			str(a.VisaType),
			fk[4],
			fk[5],
			ptrInt(a.BirthYear),
			str(a.Gender),
			str(a.InsNum),
			str(a.Airline),
			str(a.AdmNum),
			str(a.FlightNumber),
		})
	}
	return out
}

func (b *builder) invalid(a *records.Arrival) string {
	var missing []string
	for _, col := range b.required {
		if missingField(a, col) {
			missing = append(missing, col)
		}
	}
	if len(missing) == 0 {
		return ""
	}
	return "missing required " + strings.Join(missing, ", ")
}

// Build produces the fact table from recs. Records are processed in parallel
// partitions and the output keeps input order, so
// Table.Len() + Excluded == len(recs).
func Build(ctx context.Context, recs []records.Arrival, keys KeyMaps, opts Options) (*Result, error) {
	required := opts.Required
	if len(required) == 0 {
		required = DefaultRequired
	}
	if err := ValidateRequired(required); err != nil {
		return nil, err
	}
	required = withCICID(required)

	policy := opts.Policy
	switch policy {
	case "":
		policy = PolicyResolved
	case PolicyResolved, PolicyObserved:
	default:
		return nil, fmt.Errorf("fact: unknown fk policy %q", policy)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	b := &builder{keys: keys, required: required, policy: policy}
	parts := partitions(len(recs), workers)
	outs := make([]chunkOut, len(parts))

	var wg sync.WaitGroup
	for i, p := range parts {
		wg.Add(1)
		go func(i int, lo, hi int) {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			outs[i] = b.run(recs[lo:hi])
		}(i, p[0], p[1])
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := NewTable(opts.PartitionBy)
	res := &Result{Table: t, Gaps: map[string]int{}}
	total := 0
	for _, o := range outs {
		total += len(o.rows)
	}
	t.Rows = make([][]any, 0, total)
	for _, o := range outs {
		t.Rows = append(t.Rows, o.rows...)
		res.Excluded += len(o.excluded)
		for _, e := range o.excluded {
			if len(res.Samples) >= opts.MaxSamples {
				break
			}
			res.Samples = append(res.Samples, e)
		}
		for j, n := range o.gaps {
			if n > 0 {
				res.Gaps[FKColumns[j]] += n
			}
		}
	}
	return res, nil
}

func withCICID(cols []string) []string {
	out := make([]string, 0, len(cols)+1)
	seen := map[string]struct{}{}
	for _, c := range append([]string{"cicid"}, cols...) {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// partitions returns [lo, hi) bounds dividing n records across workers.
func partitions(n, workers int) [][2]int {
	if n == 0 {
		return nil
	}
	if workers > n {
		workers = n
	}
	size := (n + workers - 1) / workers
	var out [][2]int
	for lo := 0; lo < n; lo += size {
		out = append(out, [2]int{lo, min(lo+size, n)})
	}
	return out
}

func str(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func ptrInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
