package urgency

import (
	"regexp"
	"strconv"
)

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11,
	"twelve": 12, "fifteen": 15, "twenty": 20, "thirty": 30,
	"a couple of": 2, "couple of": 2, "a few": 3, "few": 3,
}

const countAlt = `\d{1,3}|a couple of|couple of|a few|few|an|a|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|fifteen|twenty|thirty`

const unitAlt = `(?:business |working )?days?|weeks?|fortnights?|months?`

var (
	// "in 3 days", "within a week", "in the next two weeks"
	leadingRelative = regexp.MustCompile(`\b(?:in|within)(?: the next)?\s+(` + countAlt + `)\s+(` + unitAlt + `)\b`)
	// "3 days from now", "two weeks later"
	trailingRelative = regexp.MustCompile(`\b(` + countAlt + `)\s+(` + unitAlt + `)\s+(?:from now|from today|later)\b`)
	// fixed phrases, longest first so "day after tomorrow" beats "tomorrow"
	fixedRelative = regexp.MustCompile(`\b(?:day after tomorrow|tomorrow|today|tonight|end of (?:the )?day|eod|this week|end of (?:the )?week|next week|a fortnight|next month|end of (?:the )?month)\b`)
)

var fixedDays = map[string]int{
	"today":              0,
	"tonight":            0,
	"end of day":         0,
	"end of the day":     0,
	"eod":                0,
	"tomorrow":           1,
	"day after tomorrow": 2,
	"this week":          5,
	"end of week":        5,
	"end of the week":    5,
	"next week":          7,
	"a fortnight":        14,
	"next month":         30,
	"end of month":       30,
	"end of the month":   30,
}

// nearestRelative finds relative time phrases in folded text and returns the
// one implying the shortest wait, in days. Units convert as week = 7 days,
// fortnight = 14, month = 30.
func nearestRelative(text string) (string, int, bool) {
	best, bestDays, found := "", 0, false
	consider := func(phrase string, days int) {
		if !found || days < bestDays {
			best, bestDays, found = phrase, days, true
		}
	}

	for _, re := range []*regexp.Regexp{leadingRelative, trailingRelative} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			n, ok := parseCount(m[1])
			if !ok {
				continue
			}
			consider(m[0], n*unitDays(m[2]))
		}
	}
	for _, m := range fixedRelative.FindAllString(text, -1) {
		consider(m, fixedDays[m])
	}
	return best, bestDays, found
}

func parseCount(s string) (int, bool) {
	if n, ok := numberWords[s]; ok {
		return n, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func unitDays(unit string) int {
	switch {
	case containsWord(unit, "week"), containsWord(unit, "weeks"):
		return 7
	case containsWord(unit, "fortnight"), containsWord(unit, "fortnights"):
		return 14
	case containsWord(unit, "month"), containsWord(unit, "months"):
		return 30
	}
	return 1
}
