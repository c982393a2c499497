// Package recovery pulls a JSON object out of text that was supposed to be
// JSON but often is not: model output wrapped in prose, fenced in markdown,
// or trailed by commentary.
//
// Recovery never fails. Strategies are tried in order and the first one that
// yields an object wins; when none does the result is an empty Candidate.
package recovery

import (
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"strings"
)

// Candidate is the untyped mapping recovered from raw text. It is adversarial
// input: nothing about its keys or values is trusted.
type Candidate map[string]any

// Strategy is one recovery tier.
type Strategy struct {
	Name  string
	Parse func(raw string) (Candidate, bool)
}

// Tier names reported by RecoverTier.
const (
	TierDirect   = "direct"
	TierFenced   = "fenced"
	TierBalanced = "balanced"
	TierNone     = "none"
)

// Limits for the balanced scanner.
const (
	maxDepth  = 64
	maxStarts = 64
)

// DefaultStrategies returns the standard tier order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: TierDirect, Parse: Direct},
		{Name: TierFenced, Parse: Fenced},
		{Name: TierBalanced, Parse: Balanced},
	}
}

// Recover runs the default strategies over raw.
func Recover(raw string) Candidate {
	c, _ := RecoverTier(raw)
	return c
}

// RecoverTier runs the default strategies and reports which tier matched.
func RecoverTier(raw string) (Candidate, string) {
	return Run(raw, DefaultStrategies())
}

// Run tries strategies in order. It returns an empty, non-nil Candidate and
// TierNone when nothing matched.
func Run(raw string, strategies []Strategy) (Candidate, string) {
	for _, s := range strategies {
		if s.Parse == nil {
			continue
		}
		if c, ok := s.Parse(raw); ok {
			if c == nil {
				c = Candidate{}
			}
			return c, s.Name
		}
	}
	return Candidate{}, TierNone
}

// Direct parses the whole trimmed input as a single JSON object.
func Direct(raw string) (Candidate, bool) {
	return parseObject(strings.TrimSpace(raw))
}

var fencePattern = regexp.MustCompile("(?s)```[ \\t]*(?i:json)?[ \\t]*\\r?\\n?(.*?)```")

// Fenced parses the body of the first markdown code fence. Only the first
// fence is considered.
func Fenced(raw string) (Candidate, bool) {
	m := fencePattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, false
	}
	return parseObject(strings.TrimSpace(m[1]))
}

// Balanced locates the first balanced {...} span and parses it. Braces inside
// JSON strings are ignored. A start position whose span never closes or
// closes with the wrong bracket is skipped; nesting past maxDepth abandons the
// tier. The first span that does balance decides the outcome.
func Balanced(raw string) (Candidate, bool) {
	start := strings.IndexByte(raw, '{')
	for attempts := 0; start >= 0 && attempts < maxStarts; attempts++ {
		end, res := balancedEnd(raw, start)
		switch res {
		case spanBalanced:
			return parseObject(raw[start : end+1])
		case spanTooDeep:
			return nil, false
		}
		next := strings.IndexByte(raw[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

type spanResult int

const (
	spanBalanced spanResult = iota
	spanUnbalanced
	spanTooDeep
)

// balancedEnd returns the index of the bracket closing the object opened at
// raw[start].
func balancedEnd(raw string, start int) (int, spanResult) {
	stack := make([]byte, 0, 8)
	inString, escaped := false, false

	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{', '[':
			if len(stack) >= maxDepth {
				return 0, spanTooDeep
			}
			stack = append(stack, ch)
		case '}', ']':
			open := stack[len(stack)-1]
			if (ch == '}' && open != '{') || (ch == ']' && open != '[') {
				return 0, spanUnbalanced
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, spanBalanced
			}
		}
	}
	return 0, spanUnbalanced
}

// parseObject decodes s as exactly one JSON object. Numbers are kept as
// json.Number so no precision is lost before schema coercion.
func parseObject(s string) (Candidate, bool) {
	if s == "" || s[0] != '{' {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var c Candidate
	if err := dec.Decode(&c); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	if c == nil {
		c = Candidate{}
	}
	return c, true
}

// Compact renders a candidate for logs.
func (c Candidate) Compact() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(c)); err != nil {
		return "{}"
	}
	return strings.TrimSpace(buf.String())
}
