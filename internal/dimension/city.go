package dimension

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/zeebo/xxh3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"i94etl/internal/records"
	"i94etl/internal/schema"
)

// Races are the subgroup columns of the city demography dimension, in column
// order. Source race labels are folded onto these names by raceColumn.
var Races = []string{
	"american_indian_and_alaska_native",
	"asian",
	"black_or_african_american",
	"hispanic_or_latino",
	"white",
}

var raceIndex = func() map[string]int {
	m := make(map[string]int, len(Races))
	for i, r := range Races {
		m[r] = i
	}
	return m
}()

// raceColumn maps "Black or African-American" to "black_or_african_american".
func raceColumn(race string) string {
	var b strings.Builder
	lastSep := true
	for _, r := range strings.ToLower(strings.TrimSpace(race)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSep = false
			continue
		}
		if !lastSep {
			b.WriteByte('_')
			lastSep = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// CityRow is one collapsed city of the demography dimension.
type CityRow struct {
	ID        int64 // surrogate, derived from (City, StateCode)
	City      string
	State     string
	StateCode string

	MedianAge            *float64
	MalePopulation       *int64
	FemalePopulation     *int64
	TotalPopulation      *int64
	Veterans             *int64
	ForeignBorn          *int64
	AverageHouseholdSize *float64

	// RaceCounts is indexed like Races.
	RaceCounts [5]*int64
}

// CityID derives the surrogate key from the normalized natural key.
func CityID(city, stateCode string) int64 {
	h := xxh3.HashString(city + "\x1f" + stateCode)
	return int64(h &^ (1 << 63))
}

// cityNormalizer upper-cases city names after NFC normalization and control
// character removal. A transform.Transformer keeps state, so each goroutine
// needs its own.
func cityNormalizer() transform.Transformer {
	return transform.Chain(
		runes.Remove(runes.In(unicode.Cc)),
		norm.NFC,
		cases.Upper(language.Und),
	)
}

func normalizeCity(t transform.Transformer, s string) string {
	out, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		out = strings.ToUpper(strings.TrimSpace(s))
	}
	return strings.Join(strings.Fields(out), " ")
}

type cityKey struct{ city, state string }

// partial aggregates over one slice of input.
type partial map[cityKey]*CityRow

func maxInt(a, b *int64) *int64 {
	if a == nil {
		return b
	}
	if b == nil || *a >= *b {
		return a
	}
	return b
}

func maxFloat(a, b *float64) *float64 {
	if a == nil {
		return b
	}
	if b == nil || *a >= *b {
		return a
	}
	return b
}

func maxString(a, b string) string {
	if b > a {
		return b
	}
	return a
}

// merge folds o into c. It is commutative and associative: every field keeps
// the maximum non-null value seen.
func (c *CityRow) merge(o *CityRow) {
	c.State = maxString(c.State, o.State)
	c.MedianAge = maxFloat(c.MedianAge, o.MedianAge)
	c.MalePopulation = maxInt(c.MalePopulation, o.MalePopulation)
	c.FemalePopulation = maxInt(c.FemalePopulation, o.FemalePopulation)
	c.TotalPopulation = maxInt(c.TotalPopulation, o.TotalPopulation)
	c.Veterans = maxInt(c.Veterans, o.Veterans)
	c.ForeignBorn = maxInt(c.ForeignBorn, o.ForeignBorn)
	c.AverageHouseholdSize = maxFloat(c.AverageHouseholdSize, o.AverageHouseholdSize)
	for i := range c.RaceCounts {
		c.RaceCounts[i] = maxInt(c.RaceCounts[i], o.RaceCounts[i])
	}
}

func (p partial) add(t transform.Transformer, r records.Demography) {
	city := normalizeCity(t, r.City)
	if city == "" {
		return
	}
	state := records.NormalizeCode(r.StateCode)
	if state == "" {
		state = normalizeCity(t, r.State)
	}
	row := &CityRow{
		City:                 city,
		State:                strings.TrimSpace(r.State),
		StateCode:            state,
		MedianAge:            r.MedianAge,
		MalePopulation:       r.MalePopulation,
		FemalePopulation:     r.FemalePopulation,
		TotalPopulation:      r.TotalPopulation,
		Veterans:             r.Veterans,
		ForeignBorn:          r.ForeignBorn,
		AverageHouseholdSize: r.AverageHouseholdSize,
	}
	if i, ok := raceIndex[raceColumn(r.Race)]; ok {
		row.RaceCounts[i] = r.Count
	}

	k := cityKey{city, state}
	if cur, ok := p[k]; ok {
		cur.merge(row)
		return
	}
	row.ID = CityID(city, state)
	p[k] = row
}

// BuildCityDemography collapses demography records into one row per (city,
// state code). Subgroup rows become per-race columns. Input is split across
// workers for partial aggregation, then merged; the result is sorted by city
// and state code.
func BuildCityDemography(recs []records.Demography, workers int) []CityRow {
	chunks := split(len(recs), workers)
	parts := make([]partial, len(chunks))

	var wg sync.WaitGroup
	for i, c := range chunks {
		wg.Add(1)
		go func(i int, lo, hi int) {
			defer wg.Done()
			t := cityNormalizer()
			p := partial{}
			for _, r := range recs[lo:hi] {
				p.add(t, r)
			}
			parts[i] = p
		}(i, c[0], c[1])
	}
	wg.Wait()

	merged := partial{}
	for _, p := range parts {
		for k, row := range p {
			if cur, ok := merged[k]; ok {
				cur.merge(row)
				continue
			}
			merged[k] = row
		}
	}

	out := make([]CityRow, 0, len(merged))
	for _, row := range merged {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].City != out[j].City {
			return out[i].City < out[j].City
		}
		return out[i].StateCode < out[j].StateCode
	})
	return out
}

// split returns [lo, hi) bounds dividing n items into at most workers chunks.
func split(n, workers int) [][2]int {
	if workers < 1 {
		workers = 1
	}
	if n == 0 {
		return nil
	}
	if workers > n {
		workers = n
	}
	size := (n + workers - 1) / workers
	out := make([][2]int, 0, workers)
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		out = append(out, [2]int{lo, hi})
	}
	return out
}

// CityTable renders city rows as the dim_city_demography table.
func CityTable(rows []CityRow) *schema.Table {
	cols := []schema.Column{
		{Name: "city_id", Type: schema.Int64},
		{Name: "city", Type: schema.String},
		{Name: "state", Type: schema.String, Nullable: true},
		{Name: "state_code", Type: schema.String},
		{Name: "median_age", Type: schema.Float64, Nullable: true},
		{Name: "male_population", Type: schema.Int64, Nullable: true},
		{Name: "female_population", Type: schema.Int64, Nullable: true},
		{Name: "total_population", Type: schema.Int64, Nullable: true},
		{Name: "number_of_veterans", Type: schema.Int64, Nullable: true},
		{Name: "foreign_born", Type: schema.Int64, Nullable: true},
		{Name: "average_household_size", Type: schema.Float64, Nullable: true},
	}
	for _, r := range Races {
		cols = append(cols, schema.Column{Name: r, Type: schema.Int64, Nullable: true})
	}
	t := &schema.Table{
		Name:    schema.CityDemography,
		Columns: cols,
		Key:     []string{"city_id"},
		Rows:    make([][]any, 0, len(rows)),
	}
	for _, r := range rows {
		row := []any{
			r.ID, r.City, str(r.State), r.StateCode,
			f64(r.MedianAge), i64(r.MalePopulation), i64(r.FemalePopulation),
			i64(r.TotalPopulation), i64(r.Veterans), i64(r.ForeignBorn),
			f64(r.AverageHouseholdSize),
		}
		for _, c := range r.RaceCounts {
			row = append(row, i64(c))
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func str(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func strp(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func i64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func f64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
