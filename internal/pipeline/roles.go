package pipeline

import (
	"fmt"
	"strings"

	"github.com/hurttlocker/intake/internal/schema"
	"github.com/hurttlocker/intake/internal/urgency"
)

// Roles names the fields with special meaning. Empty means no such field.
type Roles struct {
	Urgency  string `yaml:"urgency" json:"urgency,omitempty"`
	Deadline string `yaml:"deadline" json:"deadline,omitempty"`
}

var (
	urgencyNames  = []string{"urgency", "priority"}
	deadlineNames = []string{"deadline", "due_date", "due", "needed_by"}
)

// DetectRoles picks the urgency and deadline fields of s. An explicit Role on
// a field wins. Otherwise the urgency field is an enum named like an urgency
// whose domain covers every tier, and the deadline field is a date named like
// a deadline or, failing that, the schema's only date field.
func DetectRoles(s schema.Schema) Roles {
	var r Roles
	var dateFields []string
	for _, f := range s.Fields() {
		switch f.Role {
		case schema.RoleUrgency:
			r.Urgency = f.Name
		case schema.RoleDeadline:
			r.Deadline = f.Name
		}
		if f.Type == schema.TypeDate {
			dateFields = append(dateFields, f.Name)
		}
	}

	if r.Urgency == "" {
		for _, f := range s.Fields() {
			if f.Type == schema.TypeEnum && nameIn(f.Name, urgencyNames) && coversTiers(f) {
				r.Urgency = f.Name
				break
			}
		}
	}
	if r.Deadline == "" {
		for _, f := range s.Fields() {
			if f.Type == schema.TypeDate && nameIn(f.Name, deadlineNames) {
				r.Deadline = f.Name
				break
			}
		}
	}
	if r.Deadline == "" && len(dateFields) == 1 {
		r.Deadline = dateFields[0]
	}
	return r
}

// validate checks that overridden role names point at fields of the right
// type.
func (r Roles) validate(s schema.Schema) error {
	if r.Urgency != "" {
		f, ok := s.Field(r.Urgency)
		if !ok {
			return fmt.Errorf("urgency role: no field %q", r.Urgency)
		}
		if f.Type != schema.TypeEnum {
			return fmt.Errorf("urgency role: field %q is %s, want enum", r.Urgency, f.Type)
		}
	}
	if r.Deadline != "" {
		f, ok := s.Field(r.Deadline)
		if !ok {
			return fmt.Errorf("deadline role: no field %q", r.Deadline)
		}
		if f.Type != schema.TypeDate {
			return fmt.Errorf("deadline role: field %q is %s, want date", r.Deadline, f.Type)
		}
	}
	return nil
}

func nameIn(name string, names []string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, n := range names {
		if name == n {
			return true
		}
	}
	return false
}

func coversTiers(f schema.Field) bool {
	for _, t := range []urgency.Tier{urgency.High, urgency.Medium, urgency.Low} {
		if _, ok := f.HasEnumValue(string(t)); !ok {
			return false
		}
	}
	return true
}
