// Package urgency classifies how urgent a request is from its wording and
// its deadline. Classification is rule-based and deterministic: the same
// text, deadline and clock always produce the same tier.
package urgency

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Tier is an urgency level.
type Tier string

const (
	High   Tier = "high"
	Medium Tier = "medium"
	Low    Tier = "low"
)

// ParseTier accepts a tier name in any case.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case High:
		return High, nil
	case Medium:
		return Medium, nil
	case Low:
		return Low, nil
	}
	return "", fmt.Errorf("unknown urgency tier %q", s)
}

// Keywords are the phrases that signal urgency directly.
type Keywords struct {
	High   []string `yaml:"high" json:"high"`
	Medium []string `yaml:"medium" json:"medium"`
}

// DefaultKeywords returns the built-in keyword sets.
func DefaultKeywords() Keywords {
	return Keywords{
		High: []string{
			"urgent", "urgently", "asap", "as soon as possible",
			"immediate", "immediately", "critical", "emergency", "rush",
		},
		Medium: []string{"soon", "priority", "important"},
	}
}

// Thresholds are day-distance limits: a distance below HighWithin is high,
// one up to and including MediumWithin is medium.
type Thresholds struct {
	HighWithin   int `yaml:"high_within_days" json:"high_within_days"`
	MediumWithin int `yaml:"medium_within_days" json:"medium_within_days"`
}

// DefaultThresholds returns 7 and 30 days.
func DefaultThresholds() Thresholds {
	return Thresholds{HighWithin: 7, MediumWithin: 30}
}

// Rule names the decision step that produced a tier.
type Rule string

const (
	RuleHighKeyword    Rule = "high_keyword"
	RuleDeadlineHigh   Rule = "deadline_high"
	RuleMediumKeyword  Rule = "medium_keyword"
	RuleDeadlineMedium Rule = "deadline_medium"
	RuleRelativeHigh   Rule = "relative_high"
	RuleRelativeMedium Rule = "relative_medium"
	RuleDefault        Rule = "default"
)

// Decision is a tier plus the evidence behind it.
type Decision struct {
	Tier     Tier   `json:"tier"`
	Rule     Rule   `json:"rule"`
	Evidence string `json:"evidence,omitempty"`
	Days     *int   `json:"days,omitempty"`
}

// Classifier holds injected keyword sets, thresholds and clock. It is
// read-only after construction and safe for concurrent use.
type Classifier struct {
	high, medium []string
	thresholds   Thresholds
	now          func() time.Time
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithKeywords replaces the keyword sets. Empty sets disable that step.
func WithKeywords(k Keywords) Option {
	return func(c *Classifier) {
		c.high = foldAll(k.High)
		c.medium = foldAll(k.Medium)
	}
}

// WithThresholds replaces the day-distance limits. Non-positive values keep
// the defaults.
func WithThresholds(t Thresholds) Option {
	return func(c *Classifier) {
		if t.HighWithin > 0 {
			c.thresholds.HighWithin = t.HighWithin
		}
		if t.MediumWithin > 0 {
			c.thresholds.MediumWithin = t.MediumWithin
		}
	}
}

// WithClock sets the time source used for day distances.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a classifier with the default keywords and thresholds.
func New(opts ...Option) *Classifier {
	d := DefaultKeywords()
	c := &Classifier{
		high:       foldAll(d.High),
		medium:     foldAll(d.Medium),
		thresholds: DefaultThresholds(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify returns the tier for text and an optional deadline.
func (c *Classifier) Classify(text string, deadline *time.Time) Tier {
	return c.Explain(text, deadline).Tier
}

// Explain runs the decision steps in order and stops at the first match:
// high keyword, deadline under the high limit, medium keyword, deadline
// within the medium limit, relative time phrase, default low.
func (c *Classifier) Explain(text string, deadline *time.Time) Decision {
	folded := fold(text)

	if kw, ok := findKeyword(folded, c.high); ok {
		return Decision{Tier: High, Rule: RuleHighKeyword, Evidence: kw}
	}

	days, hasDeadline := 0, deadline != nil
	if hasDeadline {
		days = DaysBetween(c.now(), *deadline)
		if days < c.thresholds.HighWithin {
			return Decision{Tier: High, Rule: RuleDeadlineHigh, Days: &days}
		}
	}

	if kw, ok := findKeyword(folded, c.medium); ok {
		return Decision{Tier: Medium, Rule: RuleMediumKeyword, Evidence: kw}
	}

	if hasDeadline && days <= c.thresholds.MediumWithin {
		return Decision{Tier: Medium, Rule: RuleDeadlineMedium, Days: &days}
	}

	if phrase, n, ok := nearestRelative(folded); ok {
		switch {
		case n < c.thresholds.HighWithin:
			return Decision{Tier: High, Rule: RuleRelativeHigh, Evidence: phrase, Days: &n}
		case n <= c.thresholds.MediumWithin:
			return Decision{Tier: Medium, Rule: RuleRelativeMedium, Evidence: phrase, Days: &n}
		}
	}

	return Decision{Tier: Low, Rule: RuleDefault}
}

// DaysBetween counts calendar days from now's date to deadline's date. The
// deadline's calendar date is taken as written, independent of time zone.
func DaysBetween(now, deadline time.Time) int {
	y, m, d := now.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	y, m, d = deadline.Date()
	to := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

// fold lowercases s, strips diacritics and collapses whitespace so
// "URGENTE" and "urgénte" compare equal.
func fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFD.String(s) {
		if unicode.In(r, unicode.Mn) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func foldAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = fold(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// findKeyword returns the first keyword that occurs in text as a whole word
// or phrase.
func findKeyword(text string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if containsWord(text, kw) {
			return kw, true
		}
	}
	return "", false
}

// containsWord reports whether word occurs in text bounded by non-alphanumeric
// characters or the ends of text. Both are expected to be folded.
func containsWord(text, word string) bool {
	if word == "" {
		return false
	}
	for from := 0; from <= len(text)-len(word); {
		i := strings.Index(text[from:], word)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(word)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		from = start + 1
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
