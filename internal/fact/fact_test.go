package fact

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i94etl/internal/records"
)

func keys() KeyMaps {
	return KeyMaps{
		TravelMode:   map[string]bool{"1": true, "9": false},
		Country:      map[string]bool{"236": true, "101": true},
		VisaCategory: map[string]bool{"2": true},
		USState:      map[string]bool{"NY": true},
		Airport:      map[string]bool{"NYC": true, "ZZZ": false},
	}
}

func arrival(line int, cicid, port string) records.Arrival {
	return records.Arrival{
		Line:             line,
		CICID:            cicid,
		Year:             records.Int64(2016),
		Month:            records.Int64(4),
		Port:             port,
		StateCode:        "NY",
		ArrivalDate:      records.Float64(20545),
		Mode:             "1",
		VisaCategory:     "2",
		CitizenCountry:   "236",
		ResidenceCountry: "101",
	}
}

func col(t *testing.T, res *Result, row int, name string) any {
	t.Helper()
	i := res.Table.ColumnIndex(name)
	require.GreaterOrEqual(t, i, 0, name)
	return res.Table.Rows[row][i]
}

func TestSASDate(t *testing.T) {
	cases := []struct {
		in   *float64
		want string
	}{
		{records.Float64(0), "1960-01-01"},
		{records.Float64(20545), "2016-04-01"},
		{records.Float64(20574.9), "2016-04-30"},
		{records.Float64(-1), "1959-12-31"},
	}
	for _, c := range cases {
		got := SASDate(c.in)
		require.NotNil(t, got)
		assert.Equal(t, c.want, got.Format(time.DateOnly))
		assert.Equal(t, time.UTC, got.Location())
	}
	assert.Nil(t, SASDate(nil))
	assert.Nil(t, SASDate(records.Float64(math.NaN())))
}

// A port with no airport label keeps its row; only the airport FK is NULL.
func TestBuild_UnknownPortKeepsRow(t *testing.T) {
	recs := []records.Arrival{arrival(2, "1", "NYC"), arrival(3, "2", "ZZZ"), arrival(4, "3", "QQQ")}
	res, err := Build(context.Background(), recs, keys(), Options{Workers: 2})
	require.NoError(t, err)
	require.Equal(t, 3, res.Table.Len())

	assert.Equal(t, "NYC", col(t, res, 0, ColAirport))
	for row := 1; row < 3; row++ {
		assert.Nil(t, col(t, res, row, ColAirport))
		assert.NotNil(t, col(t, res, row, "airport_code"), "raw port kept for partitioning")
		assert.Equal(t, "1", col(t, res, row, ColTravelMode))
		assert.Equal(t, "2", col(t, res, row, ColVisaCategory))
		assert.Equal(t, "236", col(t, res, row, ColCitizenCountry))
		assert.Equal(t, "101", col(t, res, row, ColResidenceCountry))
		assert.Equal(t, "NY", col(t, res, row, ColState))
	}
	assert.Equal(t, map[string]int{ColAirport: 2}, res.Gaps)
	assert.Zero(t, res.Excluded)
}

func TestBuild_ObservedPolicyLinksUnresolved(t *testing.T) {
	recs := []records.Arrival{arrival(2, "1", "ZZZ")}
	res, err := Build(context.Background(), recs, keys(), Options{Policy: PolicyObserved})
	require.NoError(t, err)
	assert.Equal(t, "ZZZ", col(t, res, 0, ColAirport))
	assert.Empty(t, res.Gaps)
}

func TestBuild_Conservation(t *testing.T) {
	var recs []records.Arrival
	for i := 0; i < 101; i++ {
		port := "NYC"
		if i%7 == 0 {
			port = ""
		}
		cicid := fmt.Sprint(i)
		if i%13 == 0 {
			cicid = ""
		}
		recs = append(recs, arrival(i+2, cicid, port))
	}
	res, err := Build(context.Background(), recs, keys(), Options{Workers: 4, MaxSamples: 3})
	require.NoError(t, err)

	assert.Equal(t, len(recs), res.Table.Len()+res.Excluded)
	assert.Len(t, res.Samples, 3)
	assert.Equal(t, 2, res.Samples[0].Line)
	assert.Equal(t, "missing required cicid, i94port", res.Samples[0].Reason)
	require.NoError(t, res.Table.Validate())
}

func TestBuild_DeterministicAcrossWorkers(t *testing.T) {
	var recs []records.Arrival
	for i := 0; i < 50; i++ {
		recs = append(recs, arrival(i+2, fmt.Sprint(i), []string{"NYC", "ZZZ", ""}[i%3]))
	}
	base, err := Build(context.Background(), recs, keys(), Options{Workers: 1, MaxSamples: 100})
	require.NoError(t, err)
	for _, w := range []int{2, 5, 16, 200} {
		got, err := Build(context.Background(), recs, keys(), Options{Workers: w, MaxSamples: 100})
		require.NoError(t, err)
		assert.Equal(t, base, got, "workers=%d", w)
	}
}

func TestBuild_DatesAndOptionalFields(t *testing.T) {
	a := arrival(2, "7", "NYC")
	a.DepartureDate = records.Float64(math.NaN())
	a.FlightNumber = "00456"
	res, err := Build(context.Background(), []records.Arrival{a}, keys(), Options{})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2016, 4, 1, 0, 0, 0, 0, time.UTC), col(t, res, 0, "arrival_date"))
	assert.Nil(t, col(t, res, 0, "departure_date"))
	assert.Equal(t, "00456", col(t, res, 0, "flight_number"))
	assert.Nil(t, col(t, res, 0, "gender"))
	assert.Equal(t, int64(2016), col(t, res, 0, "year"))
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(context.Background(), nil, keys(), Options{Required: []string{"nope"}})
	assert.ErrorContains(t, err, "unknown required column(s): nope")

	_, err = Build(context.Background(), nil, keys(), Options{Policy: "maybe"})
	assert.ErrorContains(t, err, "unknown fk policy")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Build(ctx, []records.Arrival{arrival(2, "1", "NYC")}, keys(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild_CICIDAlwaysRequired(t *testing.T) {
	recs := []records.Arrival{arrival(2, "", "NYC")}
	res, err := Build(context.Background(), recs, keys(), Options{Required: []string{"i94yr"}, MaxSamples: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Excluded)
	assert.Equal(t, "missing required cicid", res.Samples[0].Reason)
}

func TestNewTable_ForeignKeysCoverFKColumns(t *testing.T) {
	tbl := NewTable(DefaultPartitionBy)
	require.NoError(t, tbl.Validate())
	var fkCols []string
	for _, fk := range tbl.ForeignKeys {
		fkCols = append(fkCols, fk.Column)
	}
	assert.Equal(t, FKColumns, fkCols)
	assert.Equal(t, DefaultPartitionBy, tbl.PartitionBy)
}
