// Package records holds the raw, as-ingested record shapes read from the
// arrival and demography sources, together with the small value helpers used
// to normalize cells coming out of CSV and parquet readers.
//
// Records are immutable once produced by a reader. Nullable numeric fields are
// pointers; categorical codes are normalized strings where "" means absent.
package records

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Arrival is one I-94 immigration event as ingested.
type Arrival struct {
	// Line is the 1-based source row (CSV line or parquet row ordinal).
	Line int

	CICID            string   // cicid
	Year             *int64   // i94yr
	Month            *int64   // i94mon
	Port             string   // i94port
	StateCode        string   // i94addr
	ArrivalDate      *float64 // arrdate, SAS day serial
	DepartureDate    *float64 // depdate, SAS day serial
	Mode             string   // i94mode
	VisaCategory     string   // i94visa
	VisaType         string   // visatype
	CitizenCountry   string   // i94cit
	ResidenceCountry string   // i94res
	BirthYear        *int64   // biryear
	Gender           string   // gender
	InsNum           string   // insnum
	Airline          string   // airline
	AdmNum           string   // admnum
	FlightNumber     string   // fltno
}

// Demography is one city/race row of the US cities demographics snapshot.
type Demography struct {
	Line int

	City                 string
	State                string
	MedianAge            *float64
	MalePopulation       *int64
	FemalePopulation     *int64
	TotalPopulation      *int64
	Veterans             *int64
	ForeignBorn          *int64
	AverageHouseholdSize *float64
	StateCode            string
	Race                 string
	Count                *int64
}

// ReadStats summarizes one source read. Skipped rows were structurally
// unusable; bad cells were stored as NULL.
type ReadStats struct {
	Rows     int `json:"rows"`
	Skipped  int `json:"skipped"`
	BadCells int `json:"bad_cells"`
	// Rejects holds the first MaxRejects skipped rows.
	Rejects []Reject `json:"-"`
}

// MaxRejects bounds ReadStats.Rejects.
const MaxRejects = 100

// Reject is a raw row the reader could not turn into a record.
type Reject struct {
	Line   int
	Reason string
}

func (r Reject) String() string { return fmt.Sprintf("line %d: %s", r.Line, r.Reason) }

// Skip counts a rejected row.
func (s *ReadStats) Skip(line int, reason string) {
	s.Skipped++
	if len(s.Rejects) < MaxRejects {
		s.Rejects = append(s.Rejects, Reject{Line: line, Reason: reason})
	}
}

// ArrivalColumns lists the raw arrival column names in source order.
var ArrivalColumns = []string{
	"cicid", "i94yr", "i94mon", "i94port", "i94addr", "arrdate", "depdate",
	"i94mode", "i94visa", "visatype", "i94cit", "i94res", "biryear", "gender",
	"insnum", "airline", "admnum", "fltno",
}

// Set assigns a raw cell to the arrival field named by col. Unknown columns
// are ignored. Numeric cells that fail to parse are stored as NULL and
// reported through the returned bool.
func (a *Arrival) Set(col, raw string) bool {
	ok := true
	switch col {
	case "cicid":
		a.CICID = NormalizeCode(raw)
	case "i94yr":
		a.Year, ok = ParseInt(raw)
	case "i94mon":
		a.Month, ok = ParseInt(raw)
	case "i94port":
		a.Port = NormalizeCode(raw)
	case "i94addr":
		a.StateCode = NormalizeCode(raw)
	case "arrdate":
		a.ArrivalDate, ok = ParseFloat(raw)
	case "depdate":
		a.DepartureDate, ok = ParseFloat(raw)
	case "i94mode":
		a.Mode = NormalizeCode(raw)
	case "i94visa":
		a.VisaCategory = NormalizeCode(raw)
	case "visatype":
		a.VisaType = Clean(raw)
	case "i94cit":
		a.CitizenCountry = NormalizeCode(raw)
	case "i94res":
		a.ResidenceCountry = NormalizeCode(raw)
	case "biryear":
		a.BirthYear, ok = ParseInt(raw)
	case "gender":
		a.Gender = strings.ToUpper(Clean(raw))
	case "insnum":
		a.InsNum = Clean(raw)
	case "airline":
		a.Airline = Clean(raw)
	case "admnum":
		a.AdmNum = NormalizeCode(raw)
	case "fltno":
		a.FlightNumber = Clean(raw)
	}
	return ok
}

// DemographyColumns lists the canonical demography column names in source
// order.
var DemographyColumns = []string{
	"city", "state", "median_age", "male_population", "female_population",
	"total_population", "number_of_veterans", "foreign_born",
	"average_household_size", "state_code", "race", "count",
}

// CanonicalColumn folds a header such as "Foreign-born" or "Median Age" to its
// snake_case key. "state_id" is accepted for "state_code".
func CanonicalColumn(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "_", "-", "_").Replace(h)
	if h == "state_id" {
		return "state_code"
	}
	return h
}

// Set assigns a raw cell to the demography field named by the canonical
// column col. It mirrors Arrival.Set.
func (d *Demography) Set(col, raw string) bool {
	ok := true
	switch col {
	case "city":
		d.City = Clean(raw)
	case "state":
		d.State = Clean(raw)
	case "median_age":
		d.MedianAge, ok = ParseFloat(raw)
	case "male_population":
		d.MalePopulation, ok = ParseInt(raw)
	case "female_population":
		d.FemalePopulation, ok = ParseInt(raw)
	case "total_population":
		d.TotalPopulation, ok = ParseInt(raw)
	case "number_of_veterans":
		d.Veterans, ok = ParseInt(raw)
	case "foreign_born":
		d.ForeignBorn, ok = ParseInt(raw)
	case "average_household_size":
		d.AverageHouseholdSize, ok = ParseFloat(raw)
	case "state_code":
		d.StateCode = strings.ToUpper(Clean(raw))
	case "race":
		d.Race = Clean(raw)
	case "count":
		d.Count, ok = ParseInt(raw)
	}
	return ok
}

// isMissing reports whether s is one of the textual null markers that show up
// in pandas/Spark exports of the source data.
func isMissing(s string) bool {
	switch strings.ToLower(s) {
	case "", "nan", "null", "none", "<na>":
		return true
	}
	return false
}

// Clean trims s and maps textual null markers to "".
func Clean(s string) string {
	s = strings.TrimSpace(s)
	if isMissing(s) {
		return ""
	}
	return s
}

// NormalizeCode canonicalizes a categorical code. Numeric codes are rendered
// as integers when they carry no fractional part ("582.0" -> "582"), other
// codes are trimmed and upper-cased. Missing values normalize to "".
func NormalizeCode(s string) string {
	s = Clean(s)
	if s == "" {
		return ""
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return strconv.FormatInt(int64(f), 10)
		}
		return s
	}
	return strings.ToUpper(s)
}

// ParseInt parses an integer cell, accepting float renderings such as
// "2016.0". Missing cells return (nil, true); malformed cells (nil, false).
func ParseInt(s string) (*int64, bool) {
	s = Clean(s)
	if s == "" {
		return nil, true
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, false
	}
	n := int64(f)
	return &n, true
}

// ParseFloat parses a float cell. Missing cells and NaN return (nil, true);
// malformed cells (nil, false).
func ParseFloat(s string) (*float64, bool) {
	s = Clean(s)
	if s == "" {
		return nil, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, true
	}
	return &f, true
}

// Int64 returns a pointer to n.
func Int64(n int64) *int64 { return &n }

// Float64 returns a pointer to f.
func Float64(f float64) *float64 { return &f }
