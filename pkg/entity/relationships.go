package entity

import "strings"

// NormalizeRelationship canonicalises the kind and cardinality of rel and
// reports whether it is usable. A relationship without a target is dropped.
func NormalizeRelationship(rel *Relationship) (*Relationship, bool) {
	if rel == nil {
		return nil, false
	}

	kind, ok := ParseRelationshipKind(string(rel.Kind))
	if !ok {
		return nil, false
	}

	target := Kind(strings.TrimSpace(string(rel.Target)))
	if target == "" {
		return nil, false
	}

	cardinality := strings.ToLower(strings.TrimSpace(rel.Cardinality))
	if cardinality == "" {
		cardinality = deriveCardinality(kind)
	}

	return &Relationship{
		Kind:        kind,
		Target:      target,
		Cardinality: cardinality,
		ForeignKey:  strings.TrimSpace(rel.ForeignKey),
		Counted:     rel.Counted,
	}, true
}

// ParseRelationshipKind accepts the casing variants found in descriptor files
// and OpenAPI extensions.
func ParseRelationshipKind(raw string) (RelationshipKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "belongsto", "belongs_to", "hasone", "has_one":
		return RelationshipBelongsTo, true
	case "hasmany", "has_many":
		return RelationshipHasMany, true
	default:
		return "", false
	}
}

func deriveCardinality(kind RelationshipKind) string {
	switch kind {
	case RelationshipHasMany:
		return "many"
	default:
		return "one"
	}
}
