package dimension

import (
	"sort"

	"i94etl/internal/labels"
	"i94etl/internal/records"
	"i94etl/internal/schema"
)

// CodeRow is a row of a code dimension. Description is nil when the code has
// no label entry.
type CodeRow struct {
	Code        string
	Description *string
}

// Resolved reports whether the row carries a label description.
func (r CodeRow) Resolved() bool { return r.Description != nil }

// AirportRow is a row of dim_airport_codes.
type AirportRow struct {
	Code      string
	Name      *string
	City      *string
	StateCode *string
}

// Resolved reports whether the port code was found in the label table.
func (r AirportRow) Resolved() bool { return r.Name != nil }

// CodeDim describes a code dimension table.
type CodeDim struct {
	Table    string
	KeyCol   string
	DescCol  string
	Category labels.Category
}

// The four plain code dimensions.
var (
	TravelMode   = CodeDim{schema.TravelModeDim, "travel_mode_id", "travel_mode_name", labels.TravelMode}
	Country      = CodeDim{schema.CountryDim, "country_id", "country_name", labels.Country}
	VisaCategory = CodeDim{schema.VisaCategoryDim, "visa_category_id", "visa_category_name", labels.VisaCategory}
	USState      = CodeDim{schema.USStatesDim, "us_state_id", "us_state_name", labels.USState}
)

// AirportKey is the key column of dim_airport_codes.
const AirportKey = "airport_code"

// Observed returns the sorted distinct non-empty codes produced by pick over
// recs.
func Observed(recs []records.Arrival, pick func(*records.Arrival) []string) []string {
	seen := map[string]struct{}{}
	for i := range recs {
		for _, c := range pick(&recs[i]) {
			if c != "" {
				seen[c] = struct{}{}
			}
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// codeUniverse is the set of codes a dimension should contain: the observed
// codes, plus every label code when includeUnobserved is set.
func codeUniverse(observed []string, tbl *labels.Table, includeUnobserved bool) []string {
	set := make(map[string]struct{}, len(observed))
	for _, c := range observed {
		if c = records.NormalizeCode(c); c != "" {
			set[c] = struct{}{}
		}
	}
	if includeUnobserved {
		for _, c := range tbl.Codes() {
			set[c] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// BuildCodes joins the distinct codes against their label table. Codes with no
// label entry are kept with a nil description.
func BuildCodes(observed []string, tbl *labels.Table, includeUnobserved bool) []CodeRow {
	codes := codeUniverse(observed, tbl, includeUnobserved)
	out := make([]CodeRow, 0, len(codes))
	for _, c := range codes {
		row := CodeRow{Code: c}
		if d, ok := tbl.Lookup(c); ok {
			row.Description = &d
		}
		out = append(out, row)
	}
	return out
}

// BuildAirports joins port codes against the airport labels, splitting each
// description into city and state parts.
func BuildAirports(observed []string, tbl *labels.Table, includeUnobserved bool) []AirportRow {
	codes := codeUniverse(observed, tbl, includeUnobserved)
	out := make([]AirportRow, 0, len(codes))
	for _, c := range codes {
		row := AirportRow{Code: c}
		if d, ok := tbl.Lookup(c); ok {
			name := d
			row.Name = &name
			city, state := labels.SplitPort(d)
			if city != "" {
				row.City = &city
			}
			if state != "" {
				row.StateCode = &state
			}
		}
		out = append(out, row)
	}
	return out
}

// Render builds the dimension table from code rows.
func (d CodeDim) Render(rows []CodeRow) *schema.Table {
	t := &schema.Table{
		Name: d.Table,
		Columns: []schema.Column{
			{Name: d.KeyCol, Type: schema.String},
			{Name: d.DescCol, Type: schema.String, Nullable: true},
		},
		Key:  []string{d.KeyCol},
		Rows: make([][]any, 0, len(rows)),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []any{r.Code, strp(r.Description)})
	}
	return t
}

// AirportTable renders dim_airport_codes.
func AirportTable(rows []AirportRow) *schema.Table {
	t := &schema.Table{
		Name: schema.AirportCodesDim,
		Columns: []schema.Column{
			{Name: AirportKey, Type: schema.String},
			{Name: "airport_name", Type: schema.String, Nullable: true},
			{Name: "city", Type: schema.String, Nullable: true},
			{Name: "us_state_id", Type: schema.String, Nullable: true},
		},
		Key:  []string{AirportKey},
		Rows: make([][]any, 0, len(rows)),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []any{r.Code, strp(r.Name), strp(r.City), strp(r.StateCode)})
	}
	return t
}
