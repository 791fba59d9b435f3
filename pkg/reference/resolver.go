package reference

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"

	"github.com/goliatone/go-crudform/pkg/entity"
	"github.com/goliatone/go-crudform/pkg/schema"
	"github.com/goliatone/go-crudform/pkg/transport"
)

// Option is the id + label projection of a foreign record shown in a
// selector.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Query selects a page of options. An empty Search returns the default page.
type Query struct {
	Search string
	Filter map[string]string
	Limit  int
	Offset int
}

// Page is one resolved slice of options.
type Page struct {
	Options []Option
	Total   int
	Offset  int
	Limit   int
}

// HasMore reports whether further pages exist after this one.
func (p Page) HasMore() bool {
	return len(p.Options) > 0 && p.Offset+len(p.Options) < p.Total
}

// NextOffset returns the offset of the following page.
func (p Page) NextOffset() int {
	return p.Offset + len(p.Options)
}

// fallbackLabelFields are tried when a schema declares no usable label field.
var fallbackLabelFields = []string{"name", "email", "title"}

// Resolver looks up reference options for foreign-key fields.
type Resolver struct {
	client  transport.Client
	schemas schema.Provider
	opts    Options
}

// NewResolver builds a resolver over client. schemas is used to pick label
// fields and may be nil.
func NewResolver(client transport.Client, schemas schema.Provider, fns ...OptionFn) (*Resolver, error) {
	if client == nil {
		return nil, errors.New("reference: transport client is required")
	}
	return &Resolver{
		client:  client,
		schemas: schemas,
		opts:    NewOptions(fns...),
	}, nil
}

// Options returns the resolved configuration.
func (r *Resolver) Options() Options {
	if r == nil {
		return NewOptions()
	}
	return r.opts
}

// Resolve fetches one page of options for kind.
func (r *Resolver) Resolve(ctx context.Context, kind entity.Kind, q Query) (Page, error) {
	if r == nil {
		return Page{}, errors.New("reference: resolver is nil")
	}
	limit := clampLimit(q.Limit, r.opts)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	result, err := r.client.List(ctx, kind, transport.ListQuery{
		Search: strings.TrimSpace(q.Search),
		Filter: q.Filter,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		r.opts.Logger.Debug("reference lookup failed",
			zap.String("kind", string(kind)),
			zap.String("search", q.Search),
			zap.Error(err))
		return Page{}, fmt.Errorf("reference: resolve %s: %w", kind, err)
	}

	labelField := r.labelField(kind)
	page := Page{
		Options: make([]Option, 0, len(result.Records)),
		Total:   result.Total,
		Offset:  offset,
		Limit:   limit,
	}
	for _, record := range result.Records {
		opt, ok := project(record, labelField)
		if !ok {
			continue
		}
		page.Options = append(page.Options, opt)
	}
	return page, nil
}

// Lookup resolves the option for a single id, used to label a value that was
// loaded rather than selected.
func (r *Resolver) Lookup(ctx context.Context, kind entity.Kind, id string) (Option, error) {
	if r == nil {
		return Option{}, errors.New("reference: resolver is nil")
	}
	record, err := r.client.Get(ctx, kind, id)
	if err != nil {
		return Option{}, fmt.Errorf("reference: lookup %s %s: %w", kind, id, err)
	}
	opt, ok := project(record, r.labelField(kind))
	if !ok {
		return Option{ID: id, Label: id}, nil
	}
	return opt, nil
}

// All lazily walks every option matching search. Further pages are fetched
// only while the consumer keeps iterating; an error ends the sequence.
func (r *Resolver) All(ctx context.Context, kind entity.Kind, search string) iter.Seq2[Option, error] {
	return func(yield func(Option, error) bool) {
		offset := 0
		for {
			page, err := r.Resolve(ctx, kind, Query{Search: search, Offset: offset})
			if err != nil {
				yield(Option{}, err)
				return
			}
			for _, opt := range page.Options {
				if !yield(opt, nil) {
					return
				}
			}
			if !page.HasMore() {
				return
			}
			offset = page.NextOffset()
		}
	}
}

func (r *Resolver) labelField(kind entity.Kind) string {
	if r.schemas == nil {
		return ""
	}
	s, err := r.schemas.Schema(kind)
	if err != nil {
		return ""
	}
	return s.LabelField
}

func project(record entity.Record, labelField string) (Option, bool) {
	id := record.ID()
	if id == "" {
		return Option{}, false
	}
	candidates := fallbackLabelFields
	if labelField != "" {
		candidates = append([]string{labelField}, fallbackLabelFields...)
	}
	for _, name := range candidates {
		if label := sanitizeLabel(record.String(name)); label != "" {
			return Option{ID: id, Label: label}, true
		}
	}
	return Option{ID: id, Label: id}, true
}
