// Package labels parses the SAS reference-label text that ships with the I-94
// data (I94_SAS_Labels_Descriptions.SAS) into read-only lookup tables, one per
// categorical attribute.
//
// The text is a sequence of sections:
//
//	value i94model
//		1 = 'Air'
//		2 = 'Sea'
//	;
//
// interleaved with /* ... */ comments, blank lines, and SAS statements such as
// "libname" and "proc format". Parsing is line oriented and tolerant: a
// malformed entry is skipped and reported as a Warning, never an error.
package labels

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"i94etl/internal/records"
)

// Category names one reference table.
type Category string

const (
	TravelMode   Category = "travel_mode"
	Country      Category = "country"
	VisaCategory Category = "visa_category"
	USState      Category = "us_state"
	Airport      Category = "airport"
)

// Categories lists every category in a stable order.
var Categories = []Category{TravelMode, Country, VisaCategory, USState, Airport}

// sectionCategory maps lower-cased SAS value names (without the "$" prefix)
// onto categories.
var sectionCategory = map[string]Category{
	"i94model": TravelMode,
	"i94cntyl": Country,
	"i94visa":  VisaCategory,
	"i94addrl": USState,
	"i94prtl":  Airport,
}

// otherStateCode is the "All Other Codes" bucket of i94addrl. It is not a
// state and is excluded from the state table.
const otherStateCode = "99"

var countryNA = regexp.MustCompile(`^No Country.*|INVALID.*|Collapsed.*`)

// Table maps codes of one category to their descriptions. It is read-only
// after Parse returns and safe for concurrent use.
type Table struct {
	category Category
	entries  map[string]string
	codes    []string
}

func newTable(c Category) *Table {
	return &Table{category: c, entries: map[string]string{}}
}

// Category reports which reference table this is.
func (t *Table) Category() Category { return t.category }

// Lookup returns the description for code. The bool is false when the code is
// unresolved; callers must treat that as an absent value, not an empty label.
func (t *Table) Lookup(code string) (string, bool) {
	if t == nil {
		return "", false
	}
	d, ok := t.entries[records.NormalizeCode(code)]
	return d, ok
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Codes returns the sorted codes of the table.
func (t *Table) Codes() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.codes...)
}

// Warning describes a skipped or suspicious line.
type Warning struct {
	Line    int
	Section string
	Text    string
	Reason  string
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d [%s]: %s: %q", w.Line, w.Section, w.Reason, w.Text)
}

// Resolution is the output of Parse: one table per category plus the warnings
// emitted while parsing.
type Resolution struct {
	tables   map[Category]*Table
	Warnings []Warning
}

// Table returns the table for c. A category absent from the text yields an
// empty table on which every lookup is unresolved.
func (r *Resolution) Table(c Category) *Table {
	if r == nil {
		return newTable(c)
	}
	if t, ok := r.tables[c]; ok {
		return t
	}
	return newTable(c)
}

// Resolve looks code up in the table for c. ok is false when the code has no
// label.
func (r *Resolution) Resolve(c Category, code string) (desc string, ok bool) {
	return r.Table(c).Lookup(code)
}

// Parse reads SAS label text from rd. The returned error is non-nil only for
// read failures; content problems become warnings.
func Parse(rd io.Reader, logger *zap.Logger) (*Resolution, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &parser{
		res:    &Resolution{tables: map[Category]*Table{}},
		logger: logger,
	}

	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		p.line(line, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("labels: read: %w", err)
	}
	if p.inComment {
		p.warn(line, "", "unterminated comment")
	}

	for _, c := range Categories {
		t, ok := p.res.tables[c]
		if !ok {
			p.warn(0, string(c), "category missing from label text")
			continue
		}
		finish(t)
	}
	return p.res, nil
}

type parser struct {
	res       *Resolution
	logger    *zap.Logger
	inComment bool
	section   string // current SAS value name, "" outside sections
	table     *Table // nil for sections we do not keep
}

func (p *parser) warn(line int, text, reason string) {
	w := Warning{Line: line, Section: p.section, Text: strings.TrimSpace(text), Reason: reason}
	p.res.Warnings = append(p.res.Warnings, w)
	p.logger.Warn("labels: skipped entry",
		zap.Int("line", w.Line),
		zap.String("section", w.Section),
		zap.String("reason", w.Reason),
		zap.String("text", w.Text),
	)
}

func (p *parser) line(n int, raw string) {
	s := p.stripComments(raw)
	for {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		// A ';' outside quotes closes the current statement; anything
		// before it belongs to the current section.
		stmt, rest, closed := cutStatement(s)
		p.statement(n, strings.TrimSpace(stmt))
		if !closed {
			return
		}
		p.section, p.table = "", nil
		s = rest
	}
}

// cutStatement splits s at the first ';' that is not inside a quoted
// description.
func cutStatement(s string) (stmt, rest string, closed bool) {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ';':
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// stripComments removes /* ... */ spans, tracking comments that continue
// across lines.
func (p *parser) stripComments(s string) string {
	var b strings.Builder
	for len(s) > 0 {
		if p.inComment {
			end := strings.Index(s, "*/")
			if end < 0 {
				return b.String()
			}
			s = s[end+2:]
			p.inComment = false
			continue
		}
		start := strings.Index(s, "/*")
		if start < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:start])
		b.WriteByte(' ')
		s = s[start+2:]
		p.inComment = true
	}
	return b.String()
}

func (p *parser) statement(n int, s string) {
	if s == "" {
		return
	}
	fields := strings.Fields(s)
	switch strings.ToLower(fields[0]) {
	case "value":
		if len(fields) < 2 {
			p.warn(n, s, "value statement without a name")
			return
		}
		p.openSection(n, fields[1])
		// Entries may follow the section name on the same line.
		rest := strings.TrimSpace(s[strings.Index(s, fields[1])+len(fields[1]):])
		if rest != "" {
			p.entry(n, rest)
		}
		return
	case "libname", "proc", "run", "quit", "options":
		if p.section == "" {
			return
		}
	}
	if p.section == "" {
		p.warn(n, s, "entry outside of a value section")
		return
	}
	p.entry(n, s)
}

func (p *parser) openSection(n int, name string) {
	p.section = name
	key := strings.ToLower(strings.TrimPrefix(name, "$"))
	c, ok := sectionCategory[key]
	if !ok {
		p.table = nil
		p.logger.Debug("labels: ignoring section", zap.String("section", name), zap.Int("line", n))
		return
	}
	if _, dup := p.res.tables[c]; dup {
		p.warn(n, name, "section repeated; keeping entries from the first occurrence")
		p.table = nil
		return
	}
	p.table = newTable(c)
	p.res.tables[c] = p.table
}

func (p *parser) entry(n int, s string) {
	if p.table == nil {
		return
	}
	k, v, ok := strings.Cut(s, "=")
	if !ok {
		p.warn(n, s, "missing '='")
		return
	}
	code := records.NormalizeCode(unquote(k))
	if code == "" {
		p.warn(n, s, "empty code")
		return
	}
	desc := strings.Join(strings.Fields(unquote(v)), " ")
	if _, dup := p.table.entries[code]; dup {
		p.warn(n, s, "duplicate code; keeping first description")
		return
	}
	p.table.entries[code] = desc
}

// unquote trims whitespace and one pair of surrounding quotes.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			s = s[1 : len(s)-1]
		}
	}
	return strings.TrimSpace(s)
}

// finish applies the per-category clean-ups and freezes the code order.
func finish(t *Table) {
	switch t.category {
	case Country:
		for code, d := range t.entries {
			if countryNA.MatchString(d) {
				t.entries[code] = "NA"
			}
		}
	case USState:
		delete(t.entries, otherStateCode)
	}
	t.codes = make([]string, 0, len(t.entries))
	for code := range t.entries {
		t.codes = append(t.codes, code)
	}
	sort.Strings(t.codes)
}

// SplitPort splits a port description such as "ALCAN, AK" into its city and
// state parts. Either part may be empty when the description does not follow
// the "CITY, ST" shape.
func SplitPort(desc string) (city, state string) {
	city, state, ok := strings.Cut(desc, ",")
	city = strings.TrimSpace(city)
	if !ok {
		return city, ""
	}
	state = strings.TrimSpace(state)
	if f := strings.Fields(state); len(f) > 0 {
		state = f[0]
	}
	return city, state
}
