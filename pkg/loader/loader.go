package loader

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-crudform/pkg/entity"
)

// Status is the loader lifecycle phase.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusLoaded  Status = "loaded"
	StatusErrored Status = "errored"
)

// Fetcher reads a single record. transport.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, kind entity.Kind, id string) (entity.Record, error)
}

// State is a snapshot of the loader. Record stays populated while a refresh
// is in flight and after a transient refresh failure.
type State struct {
	Status   Status
	ID       string
	Record   entity.Record
	Err      error
	LoadedAt time.Time
}

// Stale reports whether Record is being shown while a newer result is
// pending or after a failed refresh.
func (s State) Stale() bool {
	return s.Record != nil && s.Status != StatusLoaded
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger attaches a zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the time source used for LoadedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) {
		if now != nil {
			l.now = now
		}
	}
}

// Loader fetches one record of a kind and keeps it as the canonical read
// model for the page. Callers receive deep copies and never mutate the
// loader's record in place.
type Loader struct {
	fetcher Fetcher
	kind    entity.Kind
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	seq   uint64
	state State
}

// New builds a loader for kind.
func New(fetcher Fetcher, kind entity.Kind, opts ...Option) (*Loader, error) {
	if fetcher == nil {
		return nil, errors.New("loader: fetcher is required")
	}
	if kind == "" {
		return nil, errors.New("loader: entity kind is required")
	}
	l := &Loader{
		fetcher: fetcher,
		kind:    kind,
		logger:  zap.NewNop(),
		now:     time.Now,
		state:   State{Status: StatusIdle},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.logger = l.logger.With(zap.String("kind", string(kind)))
	return l, nil
}

// Kind returns the entity kind the loader reads.
func (l *Loader) Kind() entity.Kind {
	return l.kind
}

// State returns a snapshot with a deep-copied record.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

func (l *Loader) snapshot() State {
	out := l.state
	out.Record = l.state.Record.Clone()
	return out
}

// Load fetches id. Loading the id already held keeps the previous record
// visible until the new result arrives; loading a different id starts empty.
func (l *Loader) Load(ctx context.Context, id string) (entity.Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNoID
	}
	return l.fetch(ctx, id)
}

// Refresh re-fetches the current id from loaded or errored, keeping the
// previous record visible meanwhile (stale-while-revalidate).
func (l *Loader) Refresh(ctx context.Context) (entity.Record, error) {
	l.mu.Lock()
	id := l.state.ID
	l.mu.Unlock()
	if id == "" {
		return nil, ErrNothingLoaded
	}
	return l.fetch(ctx, id)
}

func (l *Loader) fetch(ctx context.Context, id string) (entity.Record, error) {
	l.mu.Lock()
	l.seq++
	seq := l.seq
	if l.state.ID != id {
		l.state = State{ID: id}
	}
	l.state.Status = StatusLoading
	l.mu.Unlock()

	l.logger.Debug("loading record", zap.String("id", id))
	record, err := l.fetcher.Get(ctx, l.kind, id)

	l.mu.Lock()
	defer l.mu.Unlock()

	if seq != l.seq {
		l.logger.Debug("discarding superseded load", zap.String("id", id))
		return nil, ErrSuperseded
	}

	if err != nil {
		lerr := classify(l.kind, id, err)
		l.state.Status = StatusErrored
		l.state.Err = lerr
		if lerr.Kind == KindNotFound {
			l.state.Record = nil
		}
		l.logger.Warn("record load failed",
			zap.String("id", id),
			zap.String("error_kind", string(lerr.Kind)),
			zap.Error(err))
		return nil, lerr
	}

	l.state.Status = StatusLoaded
	l.state.Record = record.Clone()
	l.state.Err = nil
	l.state.LoadedAt = l.now()
	return record.Clone(), nil
}

// Mutate replaces the cached record with a canonical copy, typically the
// server response of a successful submit. Any in-flight load is superseded.
func (l *Loader) Mutate(record entity.Record) {
	if record == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	if id := record.ID(); id != "" {
		l.state.ID = id
	}
	l.state.Status = StatusLoaded
	l.state.Record = record.Clone()
	l.state.Err = nil
	l.state.LoadedAt = l.now()
}
