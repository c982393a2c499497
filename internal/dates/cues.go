package dates

import (
	"strings"
	"time"
	"unicode"
)

// fillerWords may surround a date in a value without making it vague.
var fillerWords = map[string]bool{
	"by": true, "on": true, "before": true, "due": true, "deadline": true,
	"until": true, "till": true, "no": true, "later": true, "than": true,
	"the": true, "of": true, "at": true, "latest": true, "eod": true,
	"date": true, "delivery": true, "deliver": true, "required": true,
	"needed": true, "need": true, "is": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
	"mon": true, "tue": true, "tues": true, "wed": true, "thu": true,
	"thur": true, "thurs": true, "fri": true, "sat": true, "sun": true,
}

// deadlineCues, matched against the words right before a date, mark that
// date as the deadline.
var deadlineCues = [][]string{
	{"by"},
	{"before"},
	{"due"},
	{"due", "on"},
	{"due", "by"},
	{"deadline"},
	{"deadline", "is"},
	{"deadline", "of"},
	{"until"},
	{"till"},
	{"no", "later", "than"},
	{"latest", "by"},
}

// cueWindow is how many bytes before a date are inspected for a cue.
const cueWindow = 32

// onlyFiller reports whether everything in s outside the matched spans is
// punctuation or filler words.
func onlyFiller(s string, matches []Match) bool {
	var rest strings.Builder
	prev := 0
	for _, m := range matches {
		rest.WriteString(s[prev:m.Start])
		rest.WriteByte(' ')
		prev = m.End
	}
	rest.WriteString(s[prev:])

	for _, w := range words(rest.String()) {
		if !fillerWords[w] {
			return false
		}
	}
	return true
}

// cuedOnly reports whether want is the single distinct date in text that is
// preceded by a deadline cue.
func cuedOnly(text string, matches []Match, want time.Time) bool {
	var cued []time.Time
	for _, m := range matches {
		if !m.Absolute() {
			continue
		}
		before := text[max(0, m.Start-cueWindow):m.Start]
		if !jsonValue(before) && hasCue(before) {
			cued = appendDistinct(cued, m.Date)
		}
	}
	return len(cued) == 1 && cued[0].Equal(want)
}

// jsonValue reports whether the date is a quoted JSON member value, whose key
// names the field rather than cueing a deadline.
func jsonValue(before string) bool {
	before = strings.TrimRight(before, " \t")
	before = strings.TrimSuffix(before, `"`)
	before = strings.TrimRight(before, " \t")
	return strings.HasSuffix(before, `":`)
}

func hasCue(before string) bool {
	w := words(before)
	for _, cue := range deadlineCues {
		if len(cue) > len(w) {
			continue
		}
		tail := w[len(w)-len(cue):]
		match := true
		for i := range cue {
			if tail[i] != cue[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// words lowercases s and splits it on anything that is not a letter.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}
