package form

import (
	"context"
	"maps"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-crudform/pkg/entity"
	"github.com/goliatone/go-crudform/pkg/reference"
)

// Submitter persists drafts. *gateway.Gateway satisfies it.
type Submitter interface {
	Create(ctx context.Context, kind entity.Kind, record entity.Record) (entity.Record, error)
	Update(ctx context.Context, kind entity.Kind, id string, partial entity.Record) (entity.Record, error)
}

// ReadCache receives the canonical record after a successful submit so other
// views stop showing stale data. *loader.Loader satisfies it.
type ReadCache interface {
	Mutate(record entity.Record)
}

// ReadCacheFunc adapts a function to ReadCache.
type ReadCacheFunc func(record entity.Record)

func (f ReadCacheFunc) Mutate(record entity.Record) { f(record) }

// Navigator moves the user to another view after a successful submit.
type Navigator interface {
	Navigate(ctx context.Context, path string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, path string) error

func (f NavigatorFunc) Navigate(ctx context.Context, path string) error { return f(ctx, path) }

// Option configures a Session.
type Option func(*config)

type config struct {
	record    entity.Record
	defaults  map[string]any
	navigator Navigator
	caches    []ReadCache
	resolver  *reference.Resolver
	now       func() time.Time
	logger    *zap.Logger
}

func newConfig(opts []Option) config {
	cfg := config{
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithRecord seeds an edit session from a loaded record. The record's id
// selects edit mode.
func WithRecord(record entity.Record) Option {
	return func(c *config) {
		c.record = record.Clone()
	}
}

// WithDefaults supplies context defaults, such as the bank a customer is
// being created under. They are applied once when the session starts and
// are overridden by loaded data or explicit edits.
func WithDefaults(values map[string]any) Option {
	return func(c *config) {
		if len(values) == 0 {
			return
		}
		if c.defaults == nil {
			c.defaults = make(map[string]any, len(values))
		}
		maps.Copy(c.defaults, values)
	}
}

// WithNavigator sets the navigation target for successful submits.
func WithNavigator(nav Navigator) Option {
	return func(c *config) {
		c.navigator = nav
	}
}

// WithReadCache adds read caches that receive the canonical record.
func WithReadCache(caches ...ReadCache) Option {
	return func(c *config) {
		for _, cache := range caches {
			if cache != nil {
				c.caches = append(c.caches, cache)
			}
		}
	}
}

// WithResolver enables one reference selector per foreign-key field.
func WithResolver(resolver *reference.Resolver) Option {
	return func(c *config) {
		c.resolver = resolver
	}
}

// WithClock overrides the time source used for date defaults.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger attaches a zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}
