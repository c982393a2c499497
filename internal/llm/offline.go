package llm

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/hurttlocker/intake/internal/dates"
)

// offlineProvider answers with a JSON object built from pattern matching on
// the request text. It never calls the network and never guesses urgency;
// the pipeline classifies that itself.
type offlineProvider struct{}

// NewOffline returns the heuristic provider.
func NewOffline() Provider { return offlineProvider{} }

func (offlineProvider) Name() string { return Offline }

var (
	quantityPattern = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(mm|kg|kgs|units?|bags?|truckloads?|tons?|tonnes?|liters?|litres?|pieces?|pcs|meters?|metres?|m3|pallets?|boxes|box|sheets?|rolls?|drums?|cartons?)\b`)
	mmMaterial      = regexp.MustCompile(`(?i)\b(\d+\s*mm\s+[a-z]+(?:\s+[a-z]+)?)`)
	brandMaterial   = regexp.MustCompile(`(?i)\b([a-z]+\s+(?:cement|sand|gravel|aggregate|bricks?|tiles?|pipes?|timber|plywood|paint))\b`)
	ofMaterial      = regexp.MustCompile(`(?i)\bof\s+([a-z][a-z\s-]*)`)
	projectPattern  = regexp.MustCompile(`(?i)\bproject\s+([a-z0-9][\w-]*)`)
	locationPattern = regexp.MustCompile(`(?i)\b(mumbai|bangalore|bengaluru|delhi|chennai|kolkata|pune|hyderabad|(?:site|warehouse|depot|yard|block|plant)\s+[a-z0-9]+)\b`)
)

// stopWords end a material phrase captured after "of".
var stopWords = map[string]bool{
	"for": true, "at": true, "to": true, "in": true, "by": true, "on": true,
	"from": true, "needed": true, "required": true, "urgently": true,
	"asap": true, "please": true, "and": true, "before": true, "within": true,
	"the": true, "project": true, "site": true, "is": true, "are": true,
}

func (offlineProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text := opts.Input
	if text == "" {
		text = prompt
	}
	out, err := json.Marshal(guess(text))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// offlineGuess mirrors the default material-request schema.
type offlineGuess struct {
	MaterialName *string  `json:"material_name"`
	Quantity     *float64 `json:"quantity"`
	Unit         *string  `json:"unit"`
	ProjectName  *string  `json:"project_name"`
	Location     *string  `json:"location"`
	Deadline     *string  `json:"deadline"`
}

func guess(text string) offlineGuess {
	var g offlineGuess

	if qty, unit, ok := findQuantity(text); ok {
		g.Quantity, g.Unit = &qty, &unit
	}
	if m := findMaterial(text); m != "" {
		g.MaterialName = &m
	}
	if m := projectPattern.FindStringSubmatch(text); m != nil {
		p := m[1]
		g.ProjectName = &p
	}
	if m := locationPattern.FindStringSubmatch(text); m != nil {
		l := m[1]
		g.Location = &l
	}
	for _, m := range dates.Scan(text) {
		if m.Absolute() {
			d := m.Date.Format(dates.Layout)
			g.Deadline = &d
			break
		}
	}
	return g
}

// findQuantity prefers a count with a real unit over a millimetre size, so
// "500 units of 25mm bars" yields 500 units.
func findQuantity(text string) (float64, string, bool) {
	var fallback []string
	for _, m := range quantityPattern.FindAllStringSubmatch(text, -1) {
		if strings.EqualFold(m[2], "mm") {
			if fallback == nil {
				fallback = m
			}
			continue
		}
		return parseQuantity(m)
	}
	if fallback != nil {
		return parseQuantity(fallback)
	}
	return 0, "", false
}

func parseQuantity(m []string) (float64, string, bool) {
	q, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, "", false
	}
	return q, strings.ToLower(m[2]), true
}

func findMaterial(text string) string {
	if m := mmMaterial.FindStringSubmatch(text); m != nil {
		return strings.Join(strings.Fields(m[1]), " ")
	}
	if m := ofMaterial.FindStringSubmatch(text); m != nil {
		var kept []string
		for _, w := range strings.Fields(m[1]) {
			if stopWords[strings.ToLower(w)] || len(kept) == 3 {
				break
			}
			kept = append(kept, w)
		}
		if len(kept) > 0 {
			return strings.Join(kept, " ")
		}
	}
	if m := brandMaterial.FindStringSubmatch(text); m != nil {
		return strings.Join(strings.Fields(m[1]), " ")
	}
	return ""
}
