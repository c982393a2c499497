package enforce

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"

	"github.com/hurttlocker/intake/internal/recovery"
	"github.com/hurttlocker/intake/internal/schema"
)

func testSchema() schema.Schema {
	return schema.MustNew(
		schema.Field{Name: "material", Type: schema.TypeString},
		schema.Field{Name: "quantity", Type: schema.TypeNumber},
		schema.Field{Name: "urgency", Type: schema.TypeEnum, Enum: []string{"high", "medium", "low"}},
		schema.Field{Name: "deadline", Type: schema.TypeDate},
	)
}

func TestEnforceScenario(t *testing.T) {
	c := recovery.Recover(`{"material":"steel bars","quantity":"120","extra":"drop me"}`)
	rec, rep := EnforceReport(c, testSchema())

	if got := rec.Keys(); !reflect.DeepEqual(got, []string{"material", "quantity", "urgency", "deadline"}) {
		t.Fatalf("keys: got %v", got)
	}
	if v, _ := rec.String("material"); v != "steel bars" {
		t.Errorf("material: got %q", v)
	}
	if v, ok := rec.Number("quantity"); !ok || v != 120 {
		t.Errorf("quantity: got %v (%v)", v, ok)
	}
	if !rec.IsNull("urgency") || !rec.IsNull("deadline") {
		t.Error("absent fields must be null")
	}
	if !reflect.DeepEqual(rep.Dropped, []string{"extra"}) {
		t.Errorf("dropped: got %v", rep.Dropped)
	}
	if !reflect.DeepEqual(rep.Missing, []string{"urgency", "deadline"}) {
		t.Errorf("missing: got %v", rep.Missing)
	}
}

func TestCoerceString(t *testing.T) {
	f := schema.Field{Name: "s", Type: schema.TypeString}
	tests := []struct {
		in     any
		want   any
		wantOK bool
	}{
		{"steel", "steel", true},
		{"  padded  ", "padded", true},
		{"", nil, false},
		{"   ", nil, false},
		{json.Number("25.0"), "25.0", true},
		{float64(120), "120", true},
		{1.5, "1.5", true},
		{true, "true", true},
		{7, "7", true},
		{map[string]any{"a": 1}, nil, false},
		{[]any{"a"}, nil, false},
		{math.NaN(), nil, false},
	}
	for _, tt := range tests {
		got, ok := Coerce(f, tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Coerce(%#v) = %#v, %v; want %#v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestCoerceNumber(t *testing.T) {
	f := schema.Field{Name: "n", Type: schema.TypeNumber}
	tests := []struct {
		in     any
		want   any
		wantOK bool
	}{
		{"120", 120.0, true},
		{"25.0", 25.0, true},
		{" 42 ", 42.0, true},
		{"-3.5", -3.5, true},
		{".5", 0.5, true},
		{json.Number("7"), 7.0, true},
		{float64(9), 9.0, true},
		{3, 3.0, true},
		{"12 kg", nil, false},
		{"1,200", nil, false},
		{"1e3", nil, false},
		{"0x10", nil, false},
		{"NaN", nil, false},
		{"Inf", nil, false},
		{"twelve", nil, false},
		{"1.2.3", nil, false},
		{"-", nil, false},
		{"", nil, false},
		{true, nil, false},
		{[]any{1}, nil, false},
		{math.Inf(1), nil, false},
	}
	for _, tt := range tests {
		got, ok := Coerce(f, tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Coerce(%#v) = %#v, %v; want %#v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestCoerceEnum(t *testing.T) {
	f := schema.Field{Name: "u", Type: schema.TypeEnum, Enum: []string{"high", "Medium", "low"}}
	tests := []struct {
		in     any
		want   any
		wantOK bool
	}{
		{"high", "high", true},
		{"HIGH", "high", true},
		{" medium ", "Medium", true},
		{"urgent", nil, false},
		{1, nil, false},
		{nil, nil, false},
	}
	for _, tt := range tests {
		got, ok := Coerce(f, tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Coerce(%#v) = %#v, %v; want %#v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestDatePassThrough(t *testing.T) {
	c := map[string]any{"deadline": "next Tuesday-ish"}
	rec := Enforce(c, testSchema())
	if v, _ := rec.String("deadline"); v != "next Tuesday-ish" {
		t.Errorf("deadline should pass through unchanged, got %v", v)
	}
}

func TestCoercionFailureIsolated(t *testing.T) {
	c := map[string]any{"material": "sand", "quantity": "lots", "urgency": "HIGH"}
	rec, rep := EnforceReport(c, testSchema())

	if !rec.IsNull("quantity") {
		t.Error("quantity should be nulled")
	}
	if v, _ := rec.String("material"); v != "sand" {
		t.Errorf("material: got %q", v)
	}
	if v, _ := rec.String("urgency"); v != "high" {
		t.Errorf("urgency: got %q", v)
	}
	if !reflect.DeepEqual(rep.Nulled, []string{"quantity"}) {
		t.Errorf("nulled: got %v", rep.Nulled)
	}
}

func TestEnforceIdempotent(t *testing.T) {
	s := testSchema()
	candidates := []map[string]any{
		{},
		{"material": " steel ", "quantity": "120", "urgency": "Low", "deadline": "15 March 2024"},
		{"material": 12.0, "quantity": json.Number("3.25"), "urgency": "nope", "x": []any{1}},
		{"material": map[string]any{}, "quantity": true, "deadline": 5.0},
		{"material": "", "quantity": "", "urgency": "", "deadline": nil},
	}
	for i, c := range candidates {
		once := Enforce(c, s)
		twice := Enforce(once.Map(), s)
		if !once.Equal(twice) {
			t.Errorf("candidate %d: enforce not idempotent:\n once:  %v\n twice: %v", i, once.Map(), twice.Map())
		}
	}
}

func TestWhitelistAndNullFill(t *testing.T) {
	s := testSchema()
	c := map[string]any{"a": 1, "b": 2, "material": "x"}
	rec := Enforce(c, s)
	if rec.Len() != s.Len() {
		t.Fatalf("len: got %d, want %d", rec.Len(), s.Len())
	}
	for _, name := range []string{"quantity", "urgency", "deadline"} {
		if !rec.IsNull(name) {
			t.Errorf("%s: expected null", name)
		}
	}
	if rec.Has("a") || rec.Has("b") {
		t.Error("unknown keys leaked into record")
	}
}
