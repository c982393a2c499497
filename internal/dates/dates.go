// Package dates normalizes date-like values to ISO calendar dates under a
// conservative policy: only absolute, unambiguous dates are accepted and
// everything else (vague phrases, relative phrases, month-only strings,
// numeric dates that read two ways, conflicting dates) becomes null.
package dates

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Layout is the canonical output format.
const Layout = "2006-01-02"

// Year bounds for accepted dates.
const (
	minYear = 1900
	maxYear = 2199
)

// Status explains a normalization outcome.
type Status string

const (
	StatusOK        Status = "ok"
	StatusAbsent    Status = "absent"
	StatusInvalid   Status = "invalid"
	StatusAmbiguous Status = "ambiguous"
	StatusConflict  Status = "conflict"
)

// Match is one date-like span found in text.
type Match struct {
	Start, End int
	Text       string
	Date       time.Time // zero unless the match is a valid absolute date
	Ambiguous  bool      // numeric date readable as both D/M and M/D
	Invalid    bool      // date-shaped but not a real calendar date
}

// Absolute reports whether the match resolved to a single calendar date.
func (m Match) Absolute() bool {
	return !m.Ambiguous && !m.Invalid && !m.Date.IsZero()
}

const monthAlt = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

type pattern struct {
	re      *regexp.Regexp
	resolve func(groups []string) Match
}

var patterns = []pattern{
	{
		// 2024-03-15, 2024/3/5, 2024-03-15T10:00:00Z
		re: regexp.MustCompile(`\b(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})(?:[T ]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?)?\b`),
		resolve: func(g []string) Match {
			return build(atoi(g[1]), atoi(g[2]), atoi(g[3]))
		},
	},
	{
		// 15/03/2024, 03-15-2024, 05.05.2024
		re:      regexp.MustCompile(`\b(\d{1,2})[-/.](\d{1,2})[-/.](\d{4})\b`),
		resolve: resolveNumeric,
	},
	{
		// 15 March 2024, 15th of Mar, 2024, 15-Mar-2024
		re: regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?(?:\s+of)?[\s\-/.]*(` + monthAlt + `)\.?[\s,/\-]+(\d{4})\b`),
		resolve: func(g []string) Match {
			return build(atoi(g[3]), monthNumber(g[2]), atoi(g[1]))
		},
	},
	{
		// March 15, 2024, Mar 15th 2024
		re: regexp.MustCompile(`(?i)\b(` + monthAlt + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`),
		resolve: func(g []string) Match {
			return build(atoi(g[3]), monthNumber(g[1]), atoi(g[2]))
		},
	},
}

// Scan finds every date-like span in text, in order. Overlapping matches
// keep the earliest, longest span.
func Scan(text string) []Match {
	var all []Match
	for _, p := range patterns {
		for _, idx := range p.re.FindAllStringSubmatchIndex(text, -1) {
			groups := make([]string, len(idx)/2)
			for i := range groups {
				if idx[2*i] >= 0 {
					groups[i] = text[idx[2*i]:idx[2*i+1]]
				}
			}
			m := p.resolve(groups)
			m.Start, m.End, m.Text = idx[0], idx[1], groups[0]
			all = append(all, m)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		return all[i].End > all[j].End
	})

	out := all[:0]
	end := -1
	for _, m := range all {
		if m.Start < end {
			continue
		}
		out = append(out, m)
		end = m.End
	}
	return out
}

// Normalize returns the ISO date for v, or false when v is not exactly one
// unambiguous absolute date.
func Normalize(v any) (string, bool) {
	s, st := Check(v)
	return s, st == StatusOK
}

// Check normalizes v and reports why it was rejected.
func Check(v any) (string, Status) {
	if v == nil {
		return "", StatusAbsent
	}
	s, ok := v.(string)
	if !ok {
		return "", StatusInvalid
	}
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "null", "none", "n/a", "na", "unknown":
		return "", StatusAbsent
	}

	matches := Scan(s)
	var dates []time.Time
	for _, m := range matches {
		switch {
		case m.Ambiguous:
			return "", StatusAmbiguous
		case m.Invalid:
			return "", StatusInvalid
		}
		dates = appendDistinct(dates, m.Date)
	}
	switch {
	case len(dates) == 0:
		return "", StatusInvalid
	case len(dates) > 1:
		return "", StatusConflict
	}
	if !onlyFiller(s, matches) {
		return "", StatusInvalid
	}
	return dates[0].Format(Layout), StatusOK
}

// Resolve normalizes v and then checks it against the text it came from.
// Several distinct absolute dates in context make the value a conflict unless
// a deadline cue ("by", "due", "deadline", ...) points at the value and at no
// other date. A context holding only ambiguous numeric dates means the value
// cannot be confirmed.
func Resolve(v any, context string) (string, Status) {
	iso, st := Check(v)
	if st != StatusOK {
		return "", st
	}
	want, _ := time.Parse(Layout, iso)

	matches := Scan(context)
	distinct := []time.Time{want}
	ambiguous := 0
	for _, m := range matches {
		switch {
		case m.Ambiguous:
			ambiguous++
		case m.Absolute():
			distinct = appendDistinct(distinct, m.Date)
		}
	}

	if len(distinct) > 1 {
		if cuedOnly(context, matches, want) {
			return iso, StatusOK
		}
		return "", StatusConflict
	}
	if ambiguous > 0 && !contains(matches, want) {
		return "", StatusAmbiguous
	}
	return iso, StatusOK
}

// Confirm is Resolve against the requester's own words: the value must also
// be one of the absolute dates text states. A date the model worked out from
// "soon" or "in a week" is invalid.
func Confirm(v any, text string) (string, Status) {
	iso, st := Resolve(v, text)
	if st != StatusOK {
		return "", st
	}
	want, _ := time.Parse(Layout, iso)
	if !contains(Scan(text), want) {
		return "", StatusInvalid
	}
	return iso, StatusOK
}

// Parse reads a canonical ISO date.
func Parse(s string) (time.Time, bool) {
	t, err := time.Parse(Layout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func resolveNumeric(g []string) Match {
	a, b, year := atoi(g[1]), atoi(g[2]), atoi(g[3])
	switch {
	case a > 12 && b > 12:
		return Match{Invalid: true}
	case a > 12:
		return build(year, b, a)
	case b > 12:
		return build(year, a, b)
	case a == b:
		return build(year, a, a)
	}
	// Both readings are real dates; the text does not say which one.
	return Match{Ambiguous: true}
}

func build(year, month, day int) Match {
	if year < minYear || year > maxYear || month < 1 || month > 12 || day < 1 {
		return Match{Invalid: true}
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return Match{Invalid: true}
	}
	return Match{Date: t}
}

func monthNumber(s string) int {
	s = strings.ToLower(s)
	if len(s) < 3 {
		return 0
	}
	switch s[:3] {
	case "jan":
		return 1
	case "feb":
		return 2
	case "mar":
		return 3
	case "apr":
		return 4
	case "may":
		return 5
	case "jun":
		return 6
	case "jul":
		return 7
	case "aug":
		return 8
	case "sep":
		return 9
	case "oct":
		return 10
	case "nov":
		return 11
	case "dec":
		return 12
	}
	return 0
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

func appendDistinct(dates []time.Time, d time.Time) []time.Time {
	for _, x := range dates {
		if x.Equal(d) {
			return dates
		}
	}
	return append(dates, d)
}

func contains(matches []Match, d time.Time) bool {
	for _, m := range matches {
		if m.Absolute() && m.Date.Equal(d) {
			return true
		}
	}
	return false
}
