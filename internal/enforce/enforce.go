// Package enforce turns a recovered candidate into a record that matches a
// schema exactly: unknown keys are dropped, missing fields become null, and
// present values are coerced to the declared type or nulled.
//
// Date fields are passed through untouched; the dates package owns them.
package enforce

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/hurttlocker/intake/internal/record"
	"github.com/hurttlocker/intake/internal/schema"
)

// Report describes what enforcement discarded.
type Report struct {
	Dropped []string // candidate keys not in the schema, sorted
	Missing []string // schema fields absent from the candidate
	Nulled  []string // present fields whose value could not be coerced
}

// Enforce builds a record with exactly the schema's fields.
func Enforce(c map[string]any, s schema.Schema) record.Record {
	r, _ := EnforceReport(c, s)
	return r
}

// EnforceReport is Enforce plus a description of what was dropped or nulled.
func EnforceReport(c map[string]any, s schema.Schema) (record.Record, Report) {
	var rep Report
	rec := record.New(s.Names())

	for _, f := range s.Fields() {
		raw, present := c[f.Name]
		if !present || raw == nil {
			rep.Missing = append(rep.Missing, f.Name)
			continue
		}
		v, ok := Coerce(f, raw)
		if !ok {
			rep.Nulled = append(rep.Nulled, f.Name)
			continue
		}
		rec = rec.With(f.Name, v)
	}

	for k := range c {
		if !rec.Has(k) {
			rep.Dropped = append(rep.Dropped, k)
		}
	}
	sort.Strings(rep.Dropped)

	return rec, rep
}

// Coerce converts v to the field's type. ok is false when the value must be
// nulled.
func Coerce(f schema.Field, v any) (any, bool) {
	switch f.Type {
	case schema.TypeString:
		return toString(v)
	case schema.TypeNumber:
		return toNumber(v)
	case schema.TypeEnum:
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		return f.HasEnumValue(s)
	case schema.TypeDate:
		return v, v != nil
	}
	return nil, false
}

func toString(v any) (any, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, false
		}
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return toString(float64(t))
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return nil, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	return s, true
}

func toNumber(v any) (any, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		n, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return nil, false
		}
		f = n
	case string:
		n, ok := parseNumber(t)
		if !ok {
			return nil, false
		}
		f = n
	default:
		return nil, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return f, true
}

// parseNumber accepts plain decimal numbers only: "120", "25.0", "-3", ".5".
// Hex, exponents, thousands separators, units and words are rejected.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	digits, dot := 0, false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' && !dot:
			dot = true
		case (r == '-' || r == '+') && i == 0:
		default:
			return 0, false
		}
	}
	if digits == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
