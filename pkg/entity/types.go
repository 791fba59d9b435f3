package entity

import "strings"

// FieldType is the simplified enum for form-friendly field kinds.
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInteger   FieldType = "integer"
	FieldTypeDate      FieldType = "date"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeReference FieldType = "reference"
)

const (
	ValidationRuleMin       = "min"
	ValidationRuleMax       = "max"
	ValidationRuleMinLength = "minLength"
	ValidationRuleMaxLength = "maxLength"
	ValidationRulePattern   = "pattern"
)

// ValidationRule represents a single validation constraint applied to a field.
// Numeric bounds and length limits encode their threshold in Params["value"]
// while pattern rules preserve the original expression in Params["pattern"].
type ValidationRule struct {
	Kind   string            `json:"kind" yaml:"kind"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// RelationshipKind enumerates the supported relationship shapes.
type RelationshipKind string

const (
	// RelationshipBelongsTo is a to-one foreign key held by the record itself.
	RelationshipBelongsTo RelationshipKind = "belongsTo"
	// RelationshipHasMany is a reverse collection, read-only in edit flows.
	RelationshipHasMany RelationshipKind = "hasMany"
)

// Relationship links a field to records of another kind.
type Relationship struct {
	Kind        RelationshipKind `json:"kind" yaml:"kind"`
	Target      Kind             `json:"target" yaml:"target"`
	Cardinality string           `json:"cardinality,omitempty" yaml:"cardinality,omitempty"`
	ForeignKey  string           `json:"foreignKey,omitempty" yaml:"foreignKey,omitempty"`
	// Counted reports whether the collection ships an aggregate under _count.
	Counted bool `json:"counted,omitempty" yaml:"counted,omitempty"`
}

// Field describes one attribute of an entity kind.
type Field struct {
	Name        string           `json:"name" yaml:"name"`
	Type        FieldType        `json:"type" yaml:"type"`
	Label       string           `json:"label,omitempty" yaml:"label,omitempty"`
	Required    bool             `json:"required" yaml:"required"`
	Nullable    bool             `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	ReadOnly    bool             `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
	Default     any              `json:"default,omitempty" yaml:"default,omitempty"`
	Validations []ValidationRule `json:"validations,omitempty" yaml:"validations,omitempty"`
	Relation    *Relationship    `json:"relationship,omitempty" yaml:"relationship,omitempty"`
}

// IsReference reports whether the field holds the id of another record.
func (f Field) IsReference() bool {
	if f.Type == FieldTypeReference {
		return true
	}
	return f.Relation != nil && f.Relation.Kind == RelationshipBelongsTo
}

// IsCollection reports whether the field is a reverse to-many collection.
func (f Field) IsCollection() bool {
	return f.Relation != nil && f.Relation.Kind == RelationshipHasMany
}

// Editable reports whether the field participates in form drafts and
// outgoing payloads.
func (f Field) Editable() bool {
	if f.ReadOnly || f.IsCollection() {
		return false
	}
	return !IsSystemField(f.Name)
}

// DisplayLabel returns the label or a humanised field name.
func (f Field) DisplayLabel() string {
	if strings.TrimSpace(f.Label) != "" {
		return f.Label
	}
	return Humanize(f.Name)
}

// Schema is the descriptor the form engine is parameterised with for one
// entity kind.
type Schema struct {
	Kind Kind `json:"kind" yaml:"kind"`
	// Route is the plural route segment used by the REST API and list views.
	Route string `json:"route,omitempty" yaml:"route,omitempty"`
	// LabelField names the attribute used when projecting records into
	// reference options.
	LabelField string  `json:"labelField,omitempty" yaml:"labelField,omitempty"`
	Fields     []Field `json:"fields" yaml:"fields"`
}

// Field looks up a field by name.
func (s Schema) Field(name string) (Field, bool) {
	for _, field := range s.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return Field{}, false
}

// EditableFields returns the fields a form draft carries, in declaration order.
func (s Schema) EditableFields() []Field {
	out := make([]Field, 0, len(s.Fields))
	for _, field := range s.Fields {
		if field.Editable() {
			out = append(out, field)
		}
	}
	return out
}

// ReferenceFields returns the to-one foreign key fields.
func (s Schema) ReferenceFields() []Field {
	var out []Field
	for _, field := range s.Fields {
		if field.IsReference() && field.Editable() {
			out = append(out, field)
		}
	}
	return out
}

// ListPath returns the list view path for the schema's kind.
func (s Schema) ListPath() string {
	route := strings.Trim(strings.TrimSpace(s.Route), "/")
	if route == "" {
		route = RouteFor(s.Kind)
	}
	return "/" + route
}

// Clone returns a deep copy so callers can mutate descriptors safely.
func (s Schema) Clone() Schema {
	out := s
	if s.Fields != nil {
		out.Fields = make([]Field, len(s.Fields))
		for i, field := range s.Fields {
			out.Fields[i] = cloneField(field)
		}
	}
	return out
}

func cloneField(field Field) Field {
	out := field
	if len(field.Validations) > 0 {
		out.Validations = make([]ValidationRule, len(field.Validations))
		for i, rule := range field.Validations {
			cloned := ValidationRule{Kind: rule.Kind}
			if len(rule.Params) > 0 {
				cloned.Params = make(map[string]string, len(rule.Params))
				for k, v := range rule.Params {
					cloned.Params[k] = v
				}
			}
			out.Validations[i] = cloned
		}
	}
	if field.Relation != nil {
		rel := *field.Relation
		out.Relation = &rel
	}
	return out
}

// Humanize turns snake_case identifiers into title-cased labels
// ("due_date_emi" -> "Due Date Emi").
func Humanize(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}
