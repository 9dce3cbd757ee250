package labels

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const sample = `libname library 'Your file location' ;
proc format library=library ;

/* I94YR - 4 digit year */

/* I94CIT & I94RES - This format shows all the valid and invalid codes for processing */
value i94cntyl
   582 =  'MEXICO Air Sea, and Not Reported (I-94, no land arrivals)'
   236 =  'AFGHANISTAN'
   101 =  'ALBANIA'
   105 =  'No Country Code (105)'
   400 =  'INVALID: ANTARCTICA'
   720 =  'Collapsed Bouvet Is (should not show)'
   this line is broken
   = 'no code'
   236 =  'DUPLICATE AFGHANISTAN'
;

/* I94PORT - This format shows all the valid and invalid codes for processing
   and spans more than one line */
value $i94prtl
	'ALC'	=	'ALCAN, AK             '
	'ANC'	=	'ANCHORAGE, AK         '
	'XXX'	=	'NOT REPORTED/UNKNOWN  '
;

value i94model
	1 = 'Air'
	2 = 'Sea'
	3 = 'Land'
	9 = 'Not reported' ;

value i94addrl
	'AL'='ALABAMA'
	'AK'='ALASKA'
	'99'='All Other Codes' ;

/* I94VISA - Visa codes collapsed into three categories */
value I94VISA
   1 = "Business"
   2 = "Pleasure"
   3 = "Student"
;
`

func parse(t *testing.T, text string) (*Resolution, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.WarnLevel)
	res, err := Parse(strings.NewReader(text), zap.New(core))
	require.NoError(t, err)
	return res, logs
}

func TestParseCategories(t *testing.T) {
	res, _ := parse(t, sample)

	mode := res.Table(TravelMode)
	assert.Equal(t, 4, mode.Len())
	d, ok := mode.Lookup("1")
	assert.True(t, ok)
	assert.Equal(t, "Air", d)
	d, ok = mode.Lookup("9.0")
	assert.True(t, ok, "float-rendered codes resolve")
	assert.Equal(t, "Not reported", d)

	visa := res.Table(VisaCategory)
	d, ok = visa.Lookup("3")
	assert.True(t, ok)
	assert.Equal(t, "Student", d)
	d, ok = res.Resolve(VisaCategory, "3.0")
	assert.True(t, ok)
	assert.Equal(t, "Student", d)

	port := res.Table(Airport)
	d, ok = port.Lookup("anc")
	assert.True(t, ok)
	assert.Equal(t, "ANCHORAGE, AK", d, "whitespace collapsed and trimmed")
	assert.Equal(t, []string{"ALC", "ANC", "XXX"}, port.Codes())
}

func TestCountryNormalization(t *testing.T) {
	res, _ := parse(t, sample)
	c := res.Table(Country)

	for code, want := range map[string]string{
		"236": "AFGHANISTAN",
		"105": "NA",
		"400": "NA",
		"720": "NA",
		"582": "MEXICO Air Sea, and Not Reported (I-94, no land arrivals)",
	} {
		got, ok := c.Lookup(code)
		assert.True(t, ok, code)
		assert.Equal(t, want, got, code)
	}
}

func TestStateExcludesOtherCodes(t *testing.T) {
	res, _ := parse(t, sample)
	s := res.Table(USState)
	_, ok := s.Lookup("99")
	assert.False(t, ok)
	assert.Equal(t, 2, s.Len())
}

func TestMalformedLinesAreWarnings(t *testing.T) {
	res, logs := parse(t, sample)

	reasons := map[string]int{}
	for _, w := range res.Warnings {
		reasons[w.Reason]++
		assert.Equal(t, "i94cntyl", w.Section)
	}
	assert.Equal(t, 1, reasons["missing '='"])
	assert.Equal(t, 1, reasons["empty code"])
	assert.Equal(t, 1, reasons["duplicate code; keeping first description"])
	assert.Equal(t, len(res.Warnings), logs.Len())
}

func TestUnresolvedLookup(t *testing.T) {
	res, _ := parse(t, sample)
	d, ok := res.Table(Airport).Lookup("ZZZ")
	assert.False(t, ok)
	assert.Empty(t, d)

	var nilTable *Table
	_, ok = nilTable.Lookup("1")
	assert.False(t, ok)

	_, ok = res.Resolve(Airport, "ZZZ")
	assert.False(t, ok)
	var nilRes *Resolution
	_, ok = nilRes.Resolve(Country, "582")
	assert.False(t, ok)
}

func TestMissingCategory(t *testing.T) {
	res, _ := parse(t, "value i94model\n 1 = 'Air'\n;\n")
	assert.Equal(t, 1, res.Table(TravelMode).Len())
	assert.Equal(t, 0, res.Table(Airport).Len())

	missing := 0
	for _, w := range res.Warnings {
		if w.Reason == "category missing from label text" {
			missing++
		}
	}
	assert.Equal(t, 4, missing)
}

func TestCommentTolerance(t *testing.T) {
	text := "/* leading\n value i94model\n 1 = 'Hidden'\n*/\nvalue i94model /* inline */ 1 = 'Air' /* x */\n\n\t 2   =   Sea\n;"
	res, _ := parse(t, text)
	m := res.Table(TravelMode)
	d, ok := m.Lookup("1")
	require.True(t, ok)
	assert.Equal(t, "Air", d)
	d, ok = m.Lookup("2")
	require.True(t, ok)
	assert.Equal(t, "Sea", d, "unquoted descriptions are accepted")
}

func TestSemicolonInsideQuotes(t *testing.T) {
	res, _ := parse(t, `value $i94prtl
	'FOO'	=	'FOO; BAR, AK'
	'ANC'	=	"ANCHORAGE; MAIN, AK"
	'BHM'	=	'BIRMINGHAM, AL' ;
`)
	ports := res.Table(Airport)
	assert.Equal(t, 3, ports.Len())
	d, ok := ports.Lookup("FOO")
	assert.True(t, ok)
	assert.Equal(t, "FOO; BAR, AK", d)
	d, _ = ports.Lookup("ANC")
	assert.Equal(t, "ANCHORAGE; MAIN, AK", d)
	for _, w := range res.Warnings {
		assert.Equal(t, "category missing from label text", w.Reason, "line %d: %s", w.Line, w.Text)
	}

	stmt, rest, closed := cutStatement(`'A' = 'x;y' ; value z`)
	assert.True(t, closed)
	assert.Equal(t, `'A' = 'x;y' `, stmt)
	assert.Equal(t, " value z", rest)
}

func TestSplitPort(t *testing.T) {
	cases := []struct {
		in, city, state string
	}{
		{"ALCAN, AK", "ALCAN", "AK"},
		{"MARIPOSA AZ, AZ", "MARIPOSA AZ", "AZ"},
		{"NOT REPORTED/UNKNOWN", "NOT REPORTED/UNKNOWN", ""},
		{"SEATTLE, WA  #ARPT", "SEATTLE", "WA"},
		{"", "", ""},
	}
	for _, c := range cases {
		city, state := SplitPort(c.in)
		assert.Equal(t, c.city, city, c.in)
		assert.Equal(t, c.state, state, c.in)
	}
}
