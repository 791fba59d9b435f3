package entity

import (
	"fmt"
	"time"
)

// Well-known record attributes carried by every entity kind.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldTenantID  = "tenant_id"
	FieldCount     = "_count"
)

// IsSystemField reports whether name is managed by the backend rather than the
// form draft.
func IsSystemField(name string) bool {
	switch name {
	case FieldID, FieldCreatedAt, FieldUpdatedAt, FieldTenantID, FieldCount:
		return true
	default:
		return false
	}
}

// Record maps field names to values. Foreign keys hold the id of the related
// record; reverse collections and _count aggregates are read-only.
type Record map[string]any

// ID returns the record identifier, or "" when absent.
func (r Record) ID() string {
	return r.String(FieldID)
}

// TenantID returns the owning tenant identifier.
func (r Record) TenantID() string {
	return r.String(FieldTenantID)
}

// CreatedAt parses the creation timestamp when present.
func (r Record) CreatedAt() (time.Time, bool) {
	return r.Time(FieldCreatedAt)
}

// UpdatedAt parses the update timestamp when present.
func (r Record) UpdatedAt() (time.Time, bool) {
	return r.Time(FieldUpdatedAt)
}

// String returns the value stored under name formatted as a string. Nil and
// missing values yield "".
func (r Record) String(name string) string {
	if r == nil {
		return ""
	}
	switch v := r[name].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Time resolves a time value stored as time.Time or an RFC3339/date string.
func (r Record) Time(name string) (time.Time, bool) {
	if r == nil {
		return time.Time{}, false
	}
	switch v := r[name].(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateOnly} {
			if parsed, err := time.Parse(layout, v); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// Count returns the aggregate count for a to-many relationship.
func (r Record) Count(relation string) (int, bool) {
	if r == nil {
		return 0, false
	}
	counts, ok := r[FieldCount].(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := counts[relation].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Has reports whether the record defines name, including explicit nil.
func (r Record) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r[name]
	return ok
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = DeepCopy(v)
	}
	return out
}

// Project returns a copy restricted to the schema's editable fields. Fields
// missing from the record are omitted.
func (r Record) Project(schema Schema) Record {
	out := make(Record)
	for _, field := range schema.EditableFields() {
		if value, ok := r[field.Name]; ok {
			out[field.Name] = DeepCopy(value)
		}
	}
	return out
}

// DeepCopy clones nested maps and slices so callers never share mutable state.
func DeepCopy(value any) any {
	switch typed := value.(type) {
	case Record:
		return typed.Clone()
	case map[string]any:
		clone := make(map[string]any, len(typed))
		for k, v := range typed {
			clone[k] = DeepCopy(v)
		}
		return clone
	case []any:
		clone := make([]any, len(typed))
		for i, v := range typed {
			clone[i] = DeepCopy(v)
		}
		return clone
	case []string:
		return append([]string(nil), typed...)
	default:
		return typed
	}
}
