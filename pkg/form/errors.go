package form

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrSubmitInProgress rejects a submit while another one is in flight.
	ErrSubmitInProgress = errors.New("form: submission already in progress")
	// ErrClosed is returned once the session has been torn down.
	ErrClosed = errors.New("form: session closed")
	// ErrNotReady is returned when a page has no form body to submit, for
	// example after a failed load.
	ErrNotReady = errors.New("form: form is not ready")
	// ErrUnknownField rejects updates to fields that are not editable.
	ErrUnknownField = errors.New("form: unknown or read-only field")
)

// ValidationError lists field-level problems found before submitting. It is
// rendered inline only and never reaches the network.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "form: validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return "form: validation failed: " + strings.Join(names, ", ")
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
