package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/goliatone/go-crudform/pkg/entity"
)

const (
	relationshipExtensionKey = "x-relationships"
	entityExtensionKey       = "x-entity"
	routeExtensionKey        = "x-route"
	labelFieldExtensionKey   = "x-label-field"
)

// FromOpenAPI builds a registry from the component schemas of an OpenAPI 3
// document. Only components carrying an x-entity extension are registered;
// property order follows the property names sorted alphabetically.
func FromOpenAPI(ctx context.Context, raw []byte) (*Registry, error) {
	registry := NewRegistry()
	if err := LoadOpenAPIInto(ctx, registry, raw); err != nil {
		return nil, err
	}
	return registry, nil
}

// LoadOpenAPIInto registers the entity components of an OpenAPI document on
// registry.
func LoadOpenAPIInto(ctx context.Context, registry *Registry, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if registry == nil {
		return errors.New("schema: registry is nil")
	}
	if len(raw) == 0 {
		return errors.New("schema: openapi document is empty")
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return fmt.Errorf("schema: load openapi document: %w", err)
	}
	if doc.Components == nil || len(doc.Components.Schemas) == 0 {
		return errors.New("schema: openapi document has no component schemas")
	}

	names := make([]string, 0, len(doc.Components.Schemas))
	for name := range doc.Components.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ref := doc.Components.Schemas[name]
		if ref == nil || ref.Value == nil {
			continue
		}
		kind, ok := stringExtension(ref.Value.Extensions, entityExtensionKey)
		if !ok {
			continue
		}
		s := convertComponent(entity.Kind(kind), ref.Value)
		if err := registry.Register(s); err != nil {
			return fmt.Errorf("%w (component %s)", err, name)
		}
	}
	return nil
}

func convertComponent(kind entity.Kind, src *openapi3.Schema) entity.Schema {
	s := entity.Schema{Kind: kind}
	if route, ok := stringExtension(src.Extensions, routeExtensionKey); ok {
		s.Route = route
	}
	if label, ok := stringExtension(src.Extensions, labelFieldExtensionKey); ok {
		s.LabelField = label
	}

	required := make(map[string]struct{}, len(src.Required))
	for _, name := range src.Required {
		required[name] = struct{}{}
	}

	names := make([]string, 0, len(src.Properties))
	for name := range src.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop := src.Properties[name]
		if prop == nil || prop.Value == nil {
			continue
		}
		_, isRequired := required[name]
		s.Fields = append(s.Fields, convertProperty(name, prop.Value, isRequired))
	}
	return s
}

func convertProperty(name string, src *openapi3.Schema, required bool) entity.Field {
	field := entity.Field{
		Name:     name,
		Label:    strings.TrimSpace(src.Title),
		Required: required,
		Nullable: src.Nullable,
		ReadOnly: src.ReadOnly,
		Default:  src.Default,
	}

	switch firstSchemaType(src.Type) {
	case "integer", "number":
		field.Type = entity.FieldTypeInteger
	case "boolean":
		field.Type = entity.FieldTypeBoolean
	case "string":
		switch src.Format {
		case "date", "date-time":
			field.Type = entity.FieldTypeDate
		default:
			field.Type = entity.FieldTypeString
		}
	}

	if src.Min != nil {
		field.Validations = append(field.Validations, rule(entity.ValidationRuleMin, "value", strconv.FormatFloat(*src.Min, 'f', -1, 64)))
	}
	if src.Max != nil {
		field.Validations = append(field.Validations, rule(entity.ValidationRuleMax, "value", strconv.FormatFloat(*src.Max, 'f', -1, 64)))
	}
	if src.MinLength != 0 {
		field.Validations = append(field.Validations, rule(entity.ValidationRuleMinLength, "value", strconv.FormatUint(src.MinLength, 10)))
	}
	if src.MaxLength != nil {
		field.Validations = append(field.Validations, rule(entity.ValidationRuleMaxLength, "value", strconv.FormatUint(*src.MaxLength, 10)))
	}
	if src.Pattern != "" {
		field.Validations = append(field.Validations, rule(entity.ValidationRulePattern, "pattern", src.Pattern))
	}

	if rel := relationshipFromExtension(src.Extensions[relationshipExtensionKey]); rel != nil {
		field.Relation = rel
		if rel.Kind == entity.RelationshipBelongsTo {
			field.Type = entity.FieldTypeReference
		} else {
			field.Type = ""
		}
	}
	return field
}

func rule(kind, param, value string) entity.ValidationRule {
	return entity.ValidationRule{Kind: kind, Params: map[string]string{param: value}}
}

func relationshipFromExtension(value any) *entity.Relationship {
	raw, ok := value.(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	rel := &entity.Relationship{}
	for key, val := range raw {
		str, ok := val.(string)
		switch normaliseKey(key) {
		case "type", "kind":
			if ok {
				rel.Kind = entity.RelationshipKind(str)
			}
		case "target":
			if ok {
				rel.Target = entity.Kind(str)
			}
		case "foreignkey", "foreignid":
			if ok {
				rel.ForeignKey = str
			}
		case "cardinality":
			if ok {
				rel.Cardinality = str
			}
		case "counted":
			if b, isBool := val.(bool); isBool {
				rel.Counted = b
			}
		}
	}
	normalised, ok := entity.NormalizeRelationship(rel)
	if !ok {
		return nil
	}
	return normalised
}

func normaliseKey(raw string) string {
	var builder strings.Builder
	builder.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			builder.WriteRune(unicode.ToLower(r))
		}
	}
	return builder.String()
}

func stringExtension(extensions map[string]any, key string) (string, bool) {
	value, ok := extensions[key].(string)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func firstSchemaType(types *openapi3.Types) string {
	if types == nil {
		return ""
	}
	values := types.Slice()
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
