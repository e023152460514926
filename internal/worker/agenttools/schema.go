package agenttools

// Property defines a single property in a JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// SchemaBuilder helps construct JSON schemas for tool inputs.
type SchemaBuilder struct {
	properties map[string]any
	required   []string
}

// NewSchema creates a new schema builder.
func NewSchema() *SchemaBuilder {
	return &SchemaBuilder{properties: make(map[string]any), required: []string{}}
}

// AddString adds a required string property.
func (s *SchemaBuilder) AddString(name, description string) *SchemaBuilder {
	s.properties[name] = Property{Type: "string", Description: description}
	s.required = append(s.required, name)
	return s
}

// AddOptionalString adds an optional string property.
func (s *SchemaBuilder) AddOptionalString(name, description string) *SchemaBuilder {
	s.properties[name] = Property{Type: "string", Description: description}
	return s
}

// Build returns the schema as a map for the Anthropic SDK.
func (s *SchemaBuilder) Build() map[string]any {
	schema := map[string]any{"type": "object", "properties": s.properties}
	if len(s.required) > 0 {
		schema["required"] = s.required
	}
	return schema
}
