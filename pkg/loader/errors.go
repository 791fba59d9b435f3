package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-crudform/pkg/entity"
	"github.com/goliatone/go-crudform/pkg/transport"
)

var (
	// ErrNoID is returned when Load is called without an id. Create flows
	// never invoke the loader.
	ErrNoID = errors.New("loader: record id is required")
	// ErrNothingLoaded is returned by Refresh before any Load.
	ErrNothingLoaded = errors.New("loader: nothing to refresh")
	// ErrSuperseded is returned by a load whose result was discarded because
	// a newer load or mutation happened first.
	ErrSuperseded = errors.New("loader: superseded by a newer load")
)

// ErrorKind classifies load failures so views can render absence distinctly
// from generic failure.
type ErrorKind string

const (
	KindNotFound  ErrorKind = "not_found"
	KindTransient ErrorKind = "transient"
	KindFailed    ErrorKind = "failed"
)

// Error is a classified load failure.
type Error struct {
	Kind   ErrorKind
	Entity entity.Kind
	ID     string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("loader: %s %q not found", e.Entity, e.ID)
	default:
		if e.Err != nil {
			return fmt.Sprintf("loader: load %s %q: %v", e.Entity, e.ID, e.Err)
		}
		return fmt.Sprintf("loader: load %s %q failed", e.Entity, e.ID)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether err is a NotFound load error.
func IsNotFound(err error) bool {
	var lerr *Error
	return errors.As(err, &lerr) && lerr.Kind == KindNotFound
}

// IsTransient reports whether err is a network/availability failure.
func IsTransient(err error) bool {
	var lerr *Error
	return errors.As(err, &lerr) && lerr.Kind == KindTransient
}

func classify(kind entity.Kind, id string, err error) *Error {
	lerr := &Error{Kind: KindFailed, Entity: kind, ID: id, Err: err}
	switch {
	case transport.IsNotFound(err):
		lerr.Kind = KindNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		lerr.Kind = KindTransient
	default:
		if terr, ok := transport.AsError(err); ok && terr.Temporary() {
			lerr.Kind = KindTransient
		}
	}
	return lerr
}
