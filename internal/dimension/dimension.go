// Package dimension builds the star-schema dimension tables from raw records
// and resolved label tables.
//
// Every builder is a pure function of its inputs. Rows come out sorted by key
// and no builder emits the same key twice; duplicates can only come from a
// broken upstream and are left for the quality gate to catch.
package dimension

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"i94etl/internal/labels"
	"i94etl/internal/records"
	"i94etl/internal/schema"
)

// Options tunes BuildAll.
type Options struct {
	// IncludeUnobserved adds every label code to the code dimensions, not only
	// the codes seen in the arrivals.
	IncludeUnobserved bool
	// Workers bounds the partial aggregation fan-out. Defaults to GOMAXPROCS.
	Workers int
}

// Input bundles what the builders read.
type Input struct {
	Arrivals   []records.Arrival
	Demography []records.Demography
	Labels     *labels.Resolution
}

// Set holds every built dimension.
type Set struct {
	City         []CityRow
	TravelMode   []CodeRow
	Country      []CodeRow
	VisaCategory []CodeRow
	USState      []CodeRow
	Airport      []AirportRow
}

// Tables renders the set in publishing order.
func (s *Set) Tables() []*schema.Table {
	return []*schema.Table{
		CityTable(s.City),
		TravelMode.Render(s.TravelMode),
		Country.Render(s.Country),
		VisaCategory.Render(s.VisaCategory),
		USState.Render(s.USState),
		AirportTable(s.Airport),
	}
}

func one(s string) []string { return []string{s} }

// BuildAll runs the six builders concurrently. The builders share no mutable
// state; each writes only its own field of the returned Set.
func BuildAll(ctx context.Context, in Input, opts Options) (*Set, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	res := in.Labels
	set := &Set{}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		set.City = BuildCityDemography(in.Demography, workers)
		return ctx.Err()
	})
	g.Go(func() error {
		obs := Observed(in.Arrivals, func(a *records.Arrival) []string { return one(a.Mode) })
		set.TravelMode = BuildCodes(obs, res.Table(labels.TravelMode), opts.IncludeUnobserved)
		return ctx.Err()
	})
	g.Go(func() error {
		obs := Observed(in.Arrivals, func(a *records.Arrival) []string {
			return []string{a.CitizenCountry, a.ResidenceCountry}
		})
		set.Country = BuildCodes(obs, res.Table(labels.Country), opts.IncludeUnobserved)
		return ctx.Err()
	})
	g.Go(func() error {
		obs := Observed(in.Arrivals, func(a *records.Arrival) []string { return one(a.VisaCategory) })
		set.VisaCategory = BuildCodes(obs, res.Table(labels.VisaCategory), opts.IncludeUnobserved)
		return ctx.Err()
	})
	g.Go(func() error {
		obs := Observed(in.Arrivals, func(a *records.Arrival) []string { return one(a.StateCode) })
		set.USState = BuildCodes(obs, res.Table(labels.USState), opts.IncludeUnobserved)
		return ctx.Err()
	})
	g.Go(func() error {
		obs := Observed(in.Arrivals, func(a *records.Arrival) []string { return one(a.Port) })
		set.Airport = BuildAirports(obs, res.Table(labels.Airport), opts.IncludeUnobserved)
		return ctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}
