package crudform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-crudform/pkg/authz"
	"github.com/goliatone/go-crudform/pkg/entity"
	"github.com/goliatone/go-crudform/pkg/form"
	"github.com/goliatone/go-crudform/pkg/gateway"
	"github.com/goliatone/go-crudform/pkg/loader"
	"github.com/goliatone/go-crudform/pkg/reference"
	"github.com/goliatone/go-crudform/pkg/schema"
	"github.com/goliatone/go-crudform/pkg/transport"
)

// Record aliases entity.Record so callers can stay on the top-level package.
type Record = entity.Record

// Page aliases form.Page.
type Page = form.Page

// View aliases form.View.
type View = form.View

// ErrUnknownRoute is returned when a route does not map to a registered kind.
var ErrUnknownRoute = errors.New("crudform: unknown route")

// Option customises the engine configuration.
type Option func(*Engine)

// WithSchemas replaces the built-in schema registry.
func WithSchemas(provider schema.Provider) Option {
	return func(e *Engine) {
		e.schemas = provider
	}
}

// WithGate installs the authorization gate checked before a page opens.
// Without a gate every page opens.
func WithGate(gate *authz.Gate) Option {
	return func(e *Engine) {
		e.gate = gate
	}
}

// WithNavigator sets where successful submits navigate.
func WithNavigator(nav form.Navigator) Option {
	return func(e *Engine) {
		e.navigator = nav
	}
}

// WithReferenceOptions tunes the reference resolver (page sizes, cache TTL).
func WithReferenceOptions(fns ...reference.OptionFn) Option {
	return func(e *Engine) {
		e.referenceOpts = append(e.referenceOpts, fns...)
	}
}

// WithClock overrides the clock used for date defaults and load timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger attaches a zap logger to the engine and every component it
// builds.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine wires the schema provider, transport, submission gateway, reference
// resolver and authorization gate into create/edit pages.
type Engine struct {
	client        transport.Client
	schemas       schema.Provider
	gate          *authz.Gate
	navigator     form.Navigator
	referenceOpts []reference.OptionFn
	now           func() time.Time
	logger        *zap.Logger

	gateway  *gateway.Gateway
	resolver *reference.Resolver
}

// New constructs an Engine over client. Missing dependencies fall back to the
// built-in schemas and a no-op logger.
func New(client transport.Client, options ...Option) (*Engine, error) {
	if client == nil {
		return nil, errors.New("crudform: transport client is required")
	}
	e := &Engine{
		client: client,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(e)
	}
	if err := e.applyDefaults(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) applyDefaults() error {
	if e.schemas == nil {
		registry, err := schema.Defaults()
		if err != nil {
			return fmt.Errorf("crudform: load default schemas: %w", err)
		}
		e.schemas = registry
	}

	gw, err := gateway.New(e.client, e.schemas, gateway.WithLogger(e.logger.Named("gateway")))
	if err != nil {
		return err
	}
	e.gateway = gw

	fns := append([]reference.OptionFn{reference.WithLogger(e.logger.Named("reference"))}, e.referenceOpts...)
	resolver, err := reference.NewResolver(e.client, e.schemas, fns...)
	if err != nil {
		return err
	}
	e.resolver = resolver
	return nil
}

// Schemas returns the schema provider in use.
func (e *Engine) Schemas() schema.Provider { return e.schemas }

// Gateway returns the submission gateway.
func (e *Engine) Gateway() *gateway.Gateway { return e.gateway }

// Resolver returns the reference resolver.
func (e *Engine) Resolver() *reference.Resolver { return e.resolver }

// Principal identifies who opens a page and under which tenant.
type Principal struct {
	Subject string
	Tenant  string
}

// Request describes the page to open.
type Request struct {
	// Route is the plural route segment, for example "customers".
	Route string
	// ID selects edit mode. Empty opens a create page.
	ID string

	Principal Principal

	// Defaults are context values applied once to a new draft, such as the
	// bank a customer is being created under.
	Defaults map[string]any

	// ReadCaches receive the canonical record after a successful submit, in
	// addition to the page's own loader.
	ReadCaches []form.ReadCache
}

// Open authorizes the request and builds the page. Authorization denials
// return an error wrapping authz.ErrDenied before anything is fetched. Load
// failures do not fail Open; the page view reports them.
func (e *Engine) Open(ctx context.Context, req Request) (*form.Page, error) {
	s, err := e.schemaForRoute(req.Route)
	if err != nil {
		return nil, err
	}
	kind := s.Kind

	id := strings.TrimSpace(req.ID)
	op := authz.OpCreate
	if id != "" {
		op = authz.OpUpdate
	}
	if err := e.gate.Authorize(ctx, authz.Request{
		Subject:   req.Principal.Subject,
		Tenant:    req.Principal.Tenant,
		Service:   authz.DefaultService,
		Entity:    string(kind),
		Operation: op,
	}); err != nil {
		return nil, err
	}

	logger := e.logger.With(zap.String("kind", string(kind)), zap.String("tenant", req.Principal.Tenant))
	opts := []form.Option{
		form.WithNavigator(e.navigator),
		form.WithResolver(e.resolver),
		form.WithClock(e.now),
		form.WithLogger(logger.Named("form")),
		form.WithDefaults(req.Defaults),
		form.WithReadCache(req.ReadCaches...),
	}

	cfg := form.PageConfig{
		Schema:    s,
		ID:        id,
		Submitter: e.gateway,
		Options:   opts,
	}
	if id != "" {
		l, err := loader.New(e.client, kind,
			loader.WithClock(e.now),
			loader.WithLogger(logger.Named("loader")),
		)
		if err != nil {
			return nil, err
		}
		cfg.Loader = l
	}
	return form.OpenPage(ctx, cfg)
}

// schemaForRoute maps a route segment to its schema. Routes outside the
// built-in mapping are matched against the Route of registered schemas.
func (e *Engine) schemaForRoute(route string) (entity.Schema, error) {
	kind := entity.KindFromRoute(route)
	if kind == "" {
		return entity.Schema{}, fmt.Errorf("%w: %q", ErrUnknownRoute, route)
	}
	s, err := e.schemas.Schema(kind)
	if err == nil {
		return s, nil
	}
	if lister, ok := e.schemas.(interface{ Kinds() []entity.Kind }); ok {
		segment := strings.Trim(strings.TrimSpace(route), "/")
		for _, k := range lister.Kinds() {
			candidate, cerr := e.schemas.Schema(k)
			if cerr == nil && candidate.Route == segment {
				return candidate, nil
			}
		}
	}
	return entity.Schema{}, fmt.Errorf("%w: %q: %v", ErrUnknownRoute, route, err)
}

// OpenCreate opens a create page for route.
func (e *Engine) OpenCreate(ctx context.Context, route string, principal Principal, defaults map[string]any) (*form.Page, error) {
	return e.Open(ctx, Request{Route: route, Principal: principal, Defaults: defaults})
}

// OpenEdit opens an edit page for the record id under route.
func (e *Engine) OpenEdit(ctx context.Context, route, id string, principal Principal) (*form.Page, error) {
	if strings.TrimSpace(id) == "" {
		return nil, loader.ErrNoID
	}
	return e.Open(ctx, Request{Route: route, ID: id, Principal: principal})
}
