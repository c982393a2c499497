// Package record holds the structured record that leaves the pipeline.
//
// A Record always carries exactly the field names it was created with, in
// order. Values are nil, string or float64. Records are immutable; With
// returns an updated copy.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// Record is an ordered, fixed-key mapping of field names to values.
type Record struct {
	names  []string
	values map[string]any
}

// New returns a record with every field set to null.
func New(names []string) Record {
	r := Record{
		names:  append([]string(nil), names...),
		values: make(map[string]any, len(names)),
	}
	for _, n := range names {
		r.values[n] = nil
	}
	return r
}

// Keys returns the field names in order.
func (r Record) Keys() []string {
	return append([]string(nil), r.names...)
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.names) }

// Has reports whether name is one of the record's fields.
func (r Record) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Get returns the value of name; ok is false for unknown fields.
func (r Record) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// String returns the value of name when it is a string.
func (r Record) String(name string) (string, bool) {
	s, ok := r.values[name].(string)
	return s, ok
}

// Number returns the value of name when it is a number.
func (r Record) Number(name string) (float64, bool) {
	f, ok := r.values[name].(float64)
	return f, ok
}

// IsNull reports whether name is null. Unknown fields count as null.
func (r Record) IsNull(name string) bool {
	return r.values[name] == nil
}

// With returns a copy of r with name set to v. Unknown names are ignored so
// the key set never changes.
func (r Record) With(name string, v any) Record {
	if !r.Has(name) {
		return r
	}
	out := Record{
		names:  r.names,
		values: make(map[string]any, len(r.values)),
	}
	for k, old := range r.values {
		out.values[k] = old
	}
	out.values[name] = v
	return out
}

// Map returns a fresh map copy of the record.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.values))
	for k, v := range r.values {
		m[k] = v
	}
	return m
}

// Equal reports whether both records have the same keys in the same order
// and equal values.
func (r Record) Equal(o Record) bool {
	return reflect.DeepEqual(r.names, o.names) && reflect.DeepEqual(r.values, o.values)
}

// MarshalJSON writes the record as a JSON object in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	return r.AppendJSON(nil, nil)
}

// AppendJSON marshals the record followed by extra key/value pairs, in
// order. extra keys that collide with record fields are skipped.
func (r Record) AppendJSON(extraKeys []string, extra map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(k string, v any) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
		return nil
	}
	for _, n := range r.names {
		if err := write(n, r.values[n]); err != nil {
			return nil, err
		}
	}
	for _, k := range extraKeys {
		if r.Has(k) {
			continue
		}
		if err := write(k, extra[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
