package form

import (
	"maps"

	"github.com/goliatone/go-crudform/pkg/entity"
)

// Phase is the submission lifecycle of a session.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

// Mode distinguishes create sessions from edit sessions.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
)

// State is a snapshot of a form session.
type State struct {
	Mode  Mode
	Phase Phase
	// ID is the record being edited; empty in create mode.
	ID     string
	Values entity.Record
	// Errors holds inline messages keyed by field, from client validation or
	// server field detail.
	Errors  map[string][]string
	Dirty   map[string]bool
	Touched map[string]bool
	// FormError is the general submission message shown in the error region.
	FormError string
	// Result is the canonical record returned by the last successful submit.
	Result entity.Record
}

// ErrorsFor returns the inline messages attached to field.
func (s State) ErrorsFor(field string) []string {
	return s.Errors[field]
}

// IsDirty reports whether any field changed since the session was seeded.
func (s State) IsDirty() bool {
	for _, dirty := range s.Dirty {
		if dirty {
			return true
		}
	}
	return false
}

func (s State) clone() State {
	out := s
	out.Values = s.Values.Clone()
	out.Result = s.Result.Clone()
	out.Errors = cloneErrors(s.Errors)
	out.Dirty = maps.Clone(s.Dirty)
	out.Touched = maps.Clone(s.Touched)
	return out
}

func cloneErrors(src map[string][]string) map[string][]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string][]string, len(src))
	for k, v := range src {
		out[k] = append([]string(nil), v...)
	}
	return out
}
