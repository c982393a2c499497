// Package schema describes the shape of the records intake produces.
//
// A Schema is an ordered list of field definitions supplied by the caller. It is
// data only: the pipeline reads it but never mutates it, and every accessor
// hands out copies so a Schema can be shared freely between goroutines.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldType is one of the recognized field types.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeDate   FieldType = "date"
	TypeEnum   FieldType = "enum"
)

// Valid reports whether t is a recognized field type.
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeDate, TypeEnum:
		return true
	}
	return false
}

// Role marks a field the orchestrator treats specially.
type Role string

const (
	RoleNone     Role = ""
	RoleUrgency  Role = "urgency"
	RoleDeadline Role = "deadline"
)

// Field is a single field definition.
type Field struct {
	Name     string    `yaml:"name" json:"name"`
	Type     FieldType `yaml:"type" json:"type"`
	Enum     []string  `yaml:"enum,omitempty" json:"enum,omitempty"`
	Required bool      `yaml:"required,omitempty" json:"required,omitempty"`
	Role     Role      `yaml:"role,omitempty" json:"role,omitempty"`
}

// HasEnumValue reports whether v (case-insensitively) is in the field's
// enum domain and returns the declared spelling.
func (f Field) HasEnumValue(v string) (string, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, e := range f.Enum {
		if strings.ToLower(e) == v {
			return e, true
		}
	}
	return "", false
}

// Schema is an ordered, immutable set of field definitions.
type Schema struct {
	fields []Field
}

// ErrInvalidSchema wraps every validation failure.
var ErrInvalidSchema = errors.New("invalid schema")

// New builds a Schema from fields and validates it.
func New(fields ...Field) (Schema, error) {
	s := Schema{fields: cloneFields(fields)}
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// MustNew is New for package-level schemas; it panics on an invalid schema.
func MustNew(fields ...Field) Schema {
	s, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks field-name uniqueness, types and enum domains.
func (s Schema) Validate() error {
	var errs []error
	if len(s.fields) == 0 {
		errs = append(errs, errors.New("no fields"))
	}

	seen := make(map[string]bool, len(s.fields))
	roles := make(map[Role]string)
	for i, f := range s.fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("field %d: empty name", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("field %q: duplicate name", name))
		}
		seen[name] = true

		if !f.Type.Valid() {
			errs = append(errs, fmt.Errorf("field %q: unknown type %q", name, f.Type))
		}
		switch {
		case f.Type == TypeEnum && len(f.Enum) == 0:
			errs = append(errs, fmt.Errorf("field %q: enum type without values", name))
		case f.Type != TypeEnum && len(f.Enum) > 0:
			errs = append(errs, fmt.Errorf("field %q: enum values on %s field", name, f.Type))
		}
		values := make(map[string]bool, len(f.Enum))
		for _, e := range f.Enum {
			key := strings.ToLower(strings.TrimSpace(e))
			if key == "" {
				errs = append(errs, fmt.Errorf("field %q: empty enum value", name))
				continue
			}
			if values[key] {
				errs = append(errs, fmt.Errorf("field %q: duplicate enum value %q", name, e))
			}
			values[key] = true
		}

		switch f.Role {
		case RoleNone:
		case RoleUrgency:
			if f.Type != TypeEnum {
				errs = append(errs, fmt.Errorf("field %q: urgency role requires an enum field", name))
			}
		case RoleDeadline:
			if f.Type != TypeDate {
				errs = append(errs, fmt.Errorf("field %q: deadline role requires a date field", name))
			}
		default:
			errs = append(errs, fmt.Errorf("field %q: unknown role %q", name, f.Role))
		}
		if f.Role != RoleNone {
			if other, dup := roles[f.Role]; dup {
				errs = append(errs, fmt.Errorf("field %q: role %q already taken by %q", name, f.Role, other))
			}
			roles[f.Role] = name
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSchema, errors.Join(errs...))
	}
	return nil
}

// Fields returns a copy of the field definitions in order.
func (s Schema) Fields() []Field {
	return cloneFields(s.fields)
}

// Names returns the field names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// Field looks up a field definition by name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return cloneField(f), true
		}
	}
	return Field{}, false
}

// Len returns the number of fields.
func (s Schema) Len() int { return len(s.fields) }

// WithRole returns a copy of s with role assigned to the named field and
// cleared from any other field.
func (s Schema) WithRole(name string, role Role) (Schema, error) {
	fields := cloneFields(s.fields)
	found := false
	for i := range fields {
		if fields[i].Role == role {
			fields[i].Role = RoleNone
		}
		if fields[i].Name == name {
			fields[i].Role = role
			found = true
		}
	}
	if !found {
		return Schema{}, fmt.Errorf("%w: no field %q for role %q", ErrInvalidSchema, name, role)
	}
	return New(fields...)
}

type document struct {
	Fields []Field `yaml:"fields"`
}

// Parse decodes a schema document. YAML and JSON are both accepted; the
// document is either a list of fields or a mapping with a "fields" key.
func Parse(data []byte) (Schema, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Schema{}, fmt.Errorf("%w: empty document", ErrInvalidSchema)
	}

	var fields []Field
	if data[0] == '[' || data[0] == '-' {
		if err := yaml.Unmarshal(data, &fields); err != nil {
			return Schema{}, fmt.Errorf("parsing schema: %w", err)
		}
	} else {
		var doc document
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Schema{}, fmt.Errorf("parsing schema: %w", err)
		}
		fields = doc.Fields
	}

	for i := range fields {
		fields[i].Name = strings.TrimSpace(fields[i].Name)
		fields[i].Type = FieldType(strings.ToLower(strings.TrimSpace(string(fields[i].Type))))
		fields[i].Role = Role(strings.ToLower(strings.TrimSpace(string(fields[i].Role))))
	}
	return New(fields...)
}

// Load reads and parses a schema file.
func Load(path string) (Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("reading schema %s: %w", path, err)
	}
	s, err := Parse(b)
	if err != nil {
		return Schema{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// MarshalYAML renders the schema as a fields document.
func (s Schema) MarshalYAML() (any, error) {
	return document{Fields: s.Fields()}, nil
}

func cloneField(f Field) Field {
	if f.Enum != nil {
		f.Enum = append([]string(nil), f.Enum...)
	}
	return f
}

func cloneFields(fields []Field) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = cloneField(f)
	}
	return out
}
