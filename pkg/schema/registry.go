package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/goliatone/go-crudform/pkg/entity"
)

// ErrUnknownKind is returned when no schema is registered for a kind.
var ErrUnknownKind = errors.New("schema: unknown entity kind")

// Provider returns the field schema for an entity kind.
type Provider interface {
	Schema(kind entity.Kind) (entity.Schema, error)
}

// Registry stores schemas by kind, providing discovery and duplication
// safeguards. It satisfies Provider.
type Registry struct {
	mu      sync.RWMutex
	schemas map[entity.Kind]entity.Schema
}

var _ Provider = (*Registry)(nil)

// NewRegistry creates an empty registry instance.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[entity.Kind]entity.Schema),
	}
}

// Register adds a schema keyed by its Kind. Duplicate kinds return an error.
func (r *Registry) Register(s entity.Schema) error {
	if s.Kind == "" {
		return fmt.Errorf("schema: kind is required")
	}

	normalised, err := normalise(s)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[s.Kind]; exists {
		return fmt.Errorf("schema: kind %q already registered", s.Kind)
	}
	r.schemas[s.Kind] = normalised
	return nil
}

// MustRegister panics on registration failure. Useful for init-time wiring.
func (r *Registry) MustRegister(s entity.Schema) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Schema returns a copy of the schema registered for kind.
func (r *Registry) Schema(kind entity.Kind) (entity.Schema, error) {
	if r == nil {
		return entity.Schema{}, ErrUnknownKind
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[kind]
	if !ok {
		return entity.Schema{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return s.Clone(), nil
}

// Kinds returns the registered kinds sorted by name.
func (r *Registry) Kinds() []entity.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]entity.Kind, 0, len(r.schemas))
	for kind := range r.schemas {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Has reports whether a schema is registered for kind.
func (r *Registry) Has(kind entity.Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.schemas[kind]
	return ok
}

func normalise(s entity.Schema) (entity.Schema, error) {
	out := s.Clone()
	if out.Route == "" {
		out.Route = entity.RouteFor(out.Kind)
	}
	seen := make(map[string]struct{}, len(out.Fields))
	for i := range out.Fields {
		field := &out.Fields[i]
		if field.Name == "" {
			return entity.Schema{}, fmt.Errorf("schema: kind %q has a field without a name", s.Kind)
		}
		if _, dup := seen[field.Name]; dup {
			return entity.Schema{}, fmt.Errorf("schema: kind %q defines field %q twice", s.Kind, field.Name)
		}
		seen[field.Name] = struct{}{}

		if field.Relation != nil {
			rel, ok := entity.NormalizeRelationship(field.Relation)
			if !ok {
				return entity.Schema{}, fmt.Errorf("schema: kind %q field %q has an invalid relationship", s.Kind, field.Name)
			}
			field.Relation = rel
			if rel.Kind == entity.RelationshipBelongsTo && field.Type == "" {
				field.Type = entity.FieldTypeReference
			}
		}
		if field.Type == entity.FieldTypeReference && field.Relation == nil {
			return entity.Schema{}, fmt.Errorf("schema: kind %q reference field %q needs a relationship target", s.Kind, field.Name)
		}
		if field.Type == "" && !field.IsCollection() {
			field.Type = entity.FieldTypeString
		}
	}
	return out, nil
}
