package record

import (
	"encoding/json"
	"testing"
)

func TestNewIsAllNull(t *testing.T) {
	r := New([]string{"a", "b"})
	if r.Len() != 2 {
		t.Fatalf("len: got %d, want 2", r.Len())
	}
	for _, k := range r.Keys() {
		if !r.IsNull(k) {
			t.Errorf("%s: expected null", k)
		}
	}
}

func TestWithIsCopyOnWrite(t *testing.T) {
	r := New([]string{"a", "b"})
	r2 := r.With("a", "x")

	if !r.IsNull("a") {
		t.Error("original record was mutated")
	}
	if v, _ := r2.String("a"); v != "x" {
		t.Errorf("a: got %q, want %q", v, "x")
	}
}

func TestWithIgnoresUnknownField(t *testing.T) {
	r := New([]string{"a"}).With("zzz", 1.0)
	if r.Has("zzz") {
		t.Fatal("unknown field leaked into record")
	}
	if r.Len() != 1 {
		t.Fatalf("len: got %d, want 1", r.Len())
	}
}

func TestMarshalJSONKeepsOrder(t *testing.T) {
	r := New([]string{"zeta", "alpha", "mid"}).
		With("zeta", "z").
		With("alpha", 12.5)

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"zeta":"z","alpha":12.5,"mid":null}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestAppendJSONExtras(t *testing.T) {
	r := New([]string{"a"}).With("a", 120.0)
	b, err := r.AppendJSON([]string{"_input", "a"}, map[string]any{"_input": "hi", "a": "dup"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	want := `{"a":120,"_input":"hi"}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestEqual(t *testing.T) {
	a := New([]string{"a", "b"}).With("a", "x")
	b := New([]string{"a", "b"}).With("a", "x")
	c := New([]string{"b", "a"}).With("a", "x")

	if !a.Equal(b) {
		t.Error("expected equal records")
	}
	if a.Equal(c) {
		t.Error("records with different key order should differ")
	}
	if a.Equal(b.With("b", 1.0)) {
		t.Error("records with different values should differ")
	}
}
