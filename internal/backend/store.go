package backend

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-crudform/pkg/entity"
	"github.com/goliatone/go-crudform/pkg/schema"
)

var (
	// ErrNotFound reports a missing record within the tenant.
	ErrNotFound = errors.New("backend: record not found")
	// ErrUnknownKind reports a route with no registered schema.
	ErrUnknownKind = errors.New("backend: unknown entity kind")
)

// ValidationError carries server-side field failures.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("backend: validation failed for %d field(s)", len(e.Fields))
}

// Query filters a list call.
type Query struct {
	Search  string
	Filters map[string]string
	Limit   int
	Offset  int
}

// Store keeps records in memory, partitioned by tenant then kind.
type Store struct {
	schemas *schema.Registry
	now     func() time.Time
	newID   func() string

	mu      sync.RWMutex
	records map[string]map[entity.Kind][]entity.Record
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides uuid generation.
func WithIDGenerator(fn func() string) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStore builds an empty store validating against schemas.
func NewStore(schemas *schema.Registry, opts ...StoreOption) (*Store, error) {
	if schemas == nil {
		return nil, errors.New("backend: schema registry is required")
	}
	s := &Store{
		schemas: schemas,
		now:     time.Now,
		newID:   uuid.NewString,
		records: make(map[string]map[entity.Kind][]entity.Record),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Schemas returns the registry the store validates against.
func (s *Store) Schemas() *schema.Registry {
	return s.schemas
}

func (s *Store) schema(kind entity.Kind) (entity.Schema, error) {
	sch, err := s.schemas.Schema(kind)
	if err != nil {
		return entity.Schema{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return sch, nil
}

// Get returns the record with id, decorated with _count aggregates.
func (s *Store) Get(tenant string, kind entity.Kind, id string) (entity.Record, error) {
	sch, err := s.schema(kind)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, record := range s.records[tenant][kind] {
		if record.ID() == id {
			return s.decorate(tenant, sch, record), nil
		}
	}
	return nil, ErrNotFound
}

// List returns a page of records matching q and the total match count.
func (s *Store) List(tenant string, kind entity.Kind, q Query) ([]entity.Record, int, error) {
	sch, err := s.schema(kind)
	if err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(q.Search))
	var matched []entity.Record
	for _, record := range s.records[tenant][kind] {
		if !matchesFilters(record, q.Filters) {
			continue
		}
		if search != "" && !matchesSearch(record, search) {
			continue
		}
		matched = append(matched, record)
	}

	total := len(matched)
	start := min(max(q.Offset, 0), total)
	end := total
	if q.Limit > 0 {
		end = min(start+q.Limit, total)
	}
	page := make([]entity.Record, 0, end-start)
	for _, record := range matched[start:end] {
		page = append(page, s.decorate(tenant, sch, record))
	}
	return page, total, nil
}

// Create validates input, assigns an id and tenant, and stores the record.
func (s *Store) Create(tenant string, kind entity.Kind, input entity.Record) (entity.Record, error) {
	sch, err := s.schema(kind)
	if err != nil {
		return nil, err
	}
	record := normalizeInput(sch, input)
	if result := schema.Validate(sch, record); !result.Valid() {
		return nil, &ValidationError{Fields: result.Errors}
	}

	now := s.now().UTC()
	record[entity.FieldID] = s.newID()
	record[entity.FieldTenantID] = tenant
	record[entity.FieldCreatedAt] = now
	record[entity.FieldUpdatedAt] = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[tenant] == nil {
		s.records[tenant] = make(map[entity.Kind][]entity.Record)
	}
	s.records[tenant][kind] = append(s.records[tenant][kind], record)
	return s.decorate(tenant, sch, record), nil
}

// Update merges input into the stored record and re-validates the result.
func (s *Store) Update(tenant string, kind entity.Kind, id string, input entity.Record) (entity.Record, error) {
	sch, err := s.schema(kind)
	if err != nil {
		return nil, err
	}
	changes := normalizeInput(sch, input)

	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.records[tenant][kind]
	idx := slices.IndexFunc(records, func(r entity.Record) bool { return r.ID() == id })
	if idx < 0 {
		return nil, ErrNotFound
	}

	merged := records[idx].Clone()
	for name, value := range changes {
		merged[name] = value
	}
	if result := schema.Validate(sch, merged); !result.Valid() {
		return nil, &ValidationError{Fields: result.Errors}
	}
	merged[entity.FieldUpdatedAt] = s.now().UTC()
	records[idx] = merged
	return s.decorate(tenant, sch, merged), nil
}

// normalizeInput keeps only editable fields and converts wire values into
// their typed form.
func normalizeInput(sch entity.Schema, input entity.Record) entity.Record {
	out := make(entity.Record)
	for _, field := range sch.EditableFields() {
		value, ok := input[field.Name]
		if !ok {
			continue
		}
		out[field.Name] = schema.Normalize(field, value)
	}
	return out
}

// decorate copies record and attaches _count for counted collections. Callers
// hold the read lock.
func (s *Store) decorate(tenant string, sch entity.Schema, record entity.Record) entity.Record {
	out := record.Clone()
	var counts map[string]any
	for _, field := range sch.Fields {
		if !field.IsCollection() || !field.Relation.Counted || field.Relation.ForeignKey == "" {
			continue
		}
		n := 0
		for _, related := range s.records[tenant][field.Relation.Target] {
			if related.String(field.Relation.ForeignKey) == record.ID() {
				n++
			}
		}
		if counts == nil {
			counts = make(map[string]any)
		}
		counts[field.Name] = n
	}
	if counts != nil {
		out[entity.FieldCount] = counts
	}
	return out
}

func matchesFilters(record entity.Record, filters map[string]string) bool {
	for key, want := range filters {
		if record.String(key) != want {
			return false
		}
	}
	return true
}

func matchesSearch(record entity.Record, needle string) bool {
	if strings.Contains(strings.ToLower(record.ID()), needle) {
		return true
	}
	for name, value := range record {
		if entity.IsSystemField(name) {
			continue
		}
		if str, ok := value.(string); ok && strings.Contains(strings.ToLower(str), needle) {
			return true
		}
	}
	return false
}
