package gateway

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/goliatone/go-crudform/pkg/entity"
	"github.com/goliatone/go-crudform/pkg/schema"
	"github.com/goliatone/go-crudform/pkg/transport"
)

const (
	OpCreate = "create"
	OpUpdate = "update"
)

// Option configures the gateway.
type Option func(*Gateway)

// WithLogger attaches a zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Gateway persists form drafts through a transport client. It performs
// exactly one request per call and never retries.
type Gateway struct {
	client  transport.Client
	schemas schema.Provider
	logger  *zap.Logger
}

// New builds a gateway. schemas may be nil, in which case payloads are only
// stripped of system fields and server error paths are kept verbatim.
func New(client transport.Client, schemas schema.Provider, opts ...Option) (*Gateway, error) {
	if client == nil {
		return nil, errors.New("gateway: transport client is required")
	}
	g := &Gateway{
		client:  client,
		schemas: schemas,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Create persists a new record and returns the canonical server copy.
func (g *Gateway) Create(ctx context.Context, kind entity.Kind, record entity.Record) (entity.Record, error) {
	s, known := g.schema(kind)
	payload := buildPayload(s, known, record)

	out, err := g.client.Create(ctx, kind, payload)
	if err != nil {
		return nil, g.normalize(OpCreate, kind, s, known, err)
	}
	g.logger.Info("record created", zap.String("kind", string(kind)), zap.String("id", out.ID()))
	return out, nil
}

// Update persists changes to an existing record.
func (g *Gateway) Update(ctx context.Context, kind entity.Kind, id string, partial entity.Record) (entity.Record, error) {
	s, known := g.schema(kind)
	if strings.TrimSpace(id) == "" {
		return nil, &Error{Op: OpUpdate, Kind: kind, Message: "record id is required", Err: transport.ErrEmptyID}
	}
	payload := buildPayload(s, known, partial)

	out, err := g.client.Update(ctx, kind, id, payload)
	if err != nil {
		return nil, g.normalize(OpUpdate, kind, s, known, err)
	}
	g.logger.Info("record updated", zap.String("kind", string(kind)), zap.String("id", id))
	return out, nil
}

func (g *Gateway) schema(kind entity.Kind) (entity.Schema, bool) {
	if g.schemas == nil {
		return entity.Schema{Kind: kind}, false
	}
	s, err := g.schemas.Schema(kind)
	if err != nil {
		return entity.Schema{Kind: kind}, false
	}
	return s, true
}

// buildPayload drops identifiers, timestamps, tenant ids, aggregates and
// reverse collections. With a known schema only editable fields remain.
func buildPayload(s entity.Schema, known bool, record entity.Record) entity.Record {
	if known {
		return record.Project(s)
	}
	out := make(entity.Record, len(record))
	for key, value := range record {
		if entity.IsSystemField(key) {
			continue
		}
		out[key] = entity.DeepCopy(value)
	}
	return out
}

func (g *Gateway) normalize(op string, kind entity.Kind, s entity.Schema, known bool, err error) error {
	gerr := &Error{Op: op, Kind: kind, Err: err}

	switch {
	case errors.Is(err, context.Canceled):
		gerr.Message = "request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		gerr.Message = "request timed out"
	}

	if terr, ok := transport.AsError(err); ok {
		gerr.Status = terr.Status
		var form []string
		if len(terr.Fields) > 0 {
			if known {
				mapping := MapErrorPayload(s, terr.Fields)
				gerr.Fields = mapping.Fields
				form = mapping.Form
			} else {
				gerr.Fields = terr.Fields
			}
		}
		if gerr.Message == "" {
			switch {
			case terr.Status == 0:
				gerr.Message = "unable to reach the server"
			case terr.Message != "":
				gerr.Message = terr.Message
			}
		}
		if len(form) > 0 {
			if gerr.Message == "" {
				gerr.Message = strings.Join(form, "; ")
			} else {
				gerr.Message += ": " + strings.Join(form, "; ")
			}
		}
	}
	if gerr.Message == "" {
		gerr.Message = err.Error()
	}

	g.logger.Warn("submission failed",
		zap.String("op", op),
		zap.String("kind", string(kind)),
		zap.Int("status", gerr.Status),
		zap.Int("field_errors", len(gerr.Fields)),
		zap.Error(err))
	return gerr
}
