package reference

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/goliatone/go-crudform/pkg/entity"
)

var (
	// ErrSuperseded is returned by a search whose result arrived after a newer
	// search on the same selector was issued. Its result was discarded.
	ErrSuperseded = errors.New("reference: superseded by a newer search")
	// ErrClosed is returned by searches issued or completed after Close.
	ErrClosed = errors.New("reference: selector closed")
)

// State is the snapshot a selector renders from.
type State struct {
	Field   string
	Kind    entity.Kind
	Term    string
	Options []Option
	Total   int
	Loading bool
	// Warning is set when the latest lookup failed. The selector still renders
	// (empty) and Retry re-issues the term.
	Warning string
	Err     error
}

// Selector drives the options of one foreign-key field in one form session.
// Results are applied in query-issued order: a response to an older search
// never replaces the options of a newer one.
type Selector struct {
	resolver *Resolver
	field    string
	kind     entity.Kind
	label    string
	filter   map[string]string
	cache    *cache.Cache
	logger   *zap.Logger

	mu     sync.Mutex
	seq    uint64
	state  State
	closed bool
}

// SelectorConfig identifies the field a selector serves.
type SelectorConfig struct {
	Field  string
	Target entity.Kind
	Label  string
	Filter map[string]string
}

// NewSelector creates a selector bound to the resolver.
func (r *Resolver) NewSelector(cfg SelectorConfig) (*Selector, error) {
	if r == nil {
		return nil, errors.New("reference: resolver is nil")
	}
	if cfg.Target == "" {
		return nil, errors.New("reference: selector target kind is required")
	}
	s := &Selector{
		resolver: r,
		field:    cfg.Field,
		kind:     cfg.Target,
		label:    cfg.Label,
		filter:   maps.Clone(cfg.Filter),
		logger:   r.opts.Logger.With(zap.String("field", cfg.Field), zap.String("target", string(cfg.Target))),
		state:    State{Field: cfg.Field, Kind: cfg.Target},
	}
	if r.opts.CacheTTL > 0 {
		// no janitor goroutine; expired entries are ignored on read and the
		// whole cache is flushed on Close.
		s.cache = cache.New(r.opts.CacheTTL, 0)
	}
	return s, nil
}

// ForField builds a selector for a reference field of a schema.
func (r *Resolver) ForField(field entity.Field) (*Selector, error) {
	if !field.IsReference() || field.Relation == nil {
		return nil, fmt.Errorf("reference: field %q is not a reference", field.Name)
	}
	return r.NewSelector(SelectorConfig{
		Field:  field.Name,
		Target: field.Relation.Target,
		Label:  field.DisplayLabel(),
	})
}

// Field returns the field name the selector serves.
func (s *Selector) Field() string {
	return s.field
}

// Target returns the kind the selector lists.
func (s *Selector) Target() entity.Kind {
	return s.kind
}

// State returns a copy of the current snapshot.
func (s *Selector) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Selector) snapshot() State {
	out := s.state
	out.Options = append([]Option(nil), s.state.Options...)
	return out
}

// Search issues a numbered lookup for term. Rapid repeated calls are
// tolerated; only the most recently issued search may update the state.
// Lookup failures are not returned: they surface as State.Warning.
func (s *Selector) Search(ctx context.Context, term string) (State, error) {
	term = strings.TrimSpace(term)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return State{}, ErrClosed
	}
	s.seq++
	seq := s.seq
	s.state.Term = term
	s.state.Loading = true
	s.mu.Unlock()

	query := Query{Search: term, Filter: s.filter}
	key := cacheKey(s.kind, query)

	var (
		page Page
		err  error
		hit  bool
	)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			page, hit = cached.(Page), true
		}
	}
	if !hit {
		page, err = s.resolver.Resolve(ctx, s.kind, query)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return State{}, ErrClosed
	}
	if seq != s.seq {
		s.logger.Debug("discarding stale reference result", zap.String("term", term))
		return s.snapshot(), ErrSuperseded
	}

	s.state.Loading = false
	if err != nil {
		s.state.Options = nil
		s.state.Total = 0
		s.state.Err = err
		s.state.Warning = fmt.Sprintf("Could not load %s options", humanLabel(s.label, s.kind))
		s.logger.Warn("reference lookup failed", zap.String("term", term), zap.Error(err))
		return s.snapshot(), nil
	}

	if s.cache != nil && !hit {
		s.cache.SetDefault(key, page)
	}
	s.state.Options = page.Options
	s.state.Total = page.Total
	s.state.Err = nil
	s.state.Warning = ""
	return s.snapshot(), nil
}

// Retry re-issues the latest term, typically after a warning.
func (s *Selector) Retry(ctx context.Context) (State, error) {
	s.mu.Lock()
	term := s.state.Term
	if s.cache != nil {
		s.cache.Delete(cacheKey(s.kind, Query{Search: term, Filter: s.filter}))
	}
	s.mu.Unlock()
	return s.Search(ctx, term)
}

// Close discards cached pages and turns in-flight completions into no-ops.
func (s *Selector) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.cache != nil {
		s.cache.Flush()
	}
}

func cacheKey(kind entity.Kind, q Query) string {
	var b strings.Builder
	b.WriteString(string(kind))
	b.WriteString("|")
	b.WriteString(strings.ToLower(q.Search))
	for _, k := range slices.Sorted(maps.Keys(q.Filter)) {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(q.Filter[k])
	}
	return b.String()
}

func humanLabel(label string, kind entity.Kind) string {
	if strings.TrimSpace(label) != "" {
		return strings.ToLower(strings.TrimPrefix(label, "Select "))
	}
	return string(kind)
}
