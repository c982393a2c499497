package schema

// MaterialRequest is the built-in schema for construction material requests.
func MaterialRequest() Schema {
	return MustNew(
		Field{Name: "material_name", Type: TypeString, Required: true},
		Field{Name: "quantity", Type: TypeNumber, Required: true},
		Field{Name: "unit", Type: TypeString, Required: true},
		Field{Name: "project_name", Type: TypeString},
		Field{Name: "location", Type: TypeString},
		Field{Name: "urgency", Type: TypeEnum, Enum: []string{"low", "medium", "high"}, Required: true, Role: RoleUrgency},
		Field{Name: "deadline", Type: TypeDate, Role: RoleDeadline},
	)
}
