package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/goliatone/go-crudform/pkg/entity"
)

// Client is the CRUD surface the form engine needs per entity kind.
type Client interface {
	Get(ctx context.Context, kind entity.Kind, id string) (entity.Record, error)
	List(ctx context.Context, kind entity.Kind, query ListQuery) (ListResult, error)
	Create(ctx context.Context, kind entity.Kind, record entity.Record) (entity.Record, error)
	Update(ctx context.Context, kind entity.Kind, id string, record entity.Record) (entity.Record, error)
}

// ListQuery narrows a collection request. Filters are sent as filter[key]=value.
type ListQuery struct {
	Search string
	Filter map[string]string
	Limit  int
	Offset int
}

// Key returns a stable representation suitable for cache keys.
func (q ListQuery) Key() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(q.Search))
	fmt.Fprintf(&b, "|%d|%d", q.Limit, q.Offset)
	if len(q.Filter) > 0 {
		keys := make([]string, 0, len(q.Filter))
		for k := range q.Filter {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString("|")
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(q.Filter[k])
		}
	}
	return b.String()
}

// ListResult is one page of a collection.
type ListResult struct {
	Records []entity.Record `json:"data"`
	Total   int             `json:"total"`
}

// ErrEmptyID is returned when a single-record call receives no identifier.
var ErrEmptyID = errors.New("transport: record id is required")

// Error is the structured failure returned by a Client. Status is zero for
// failures that never produced an HTTP response.
type Error struct {
	Method  string
	Path    string
	Status  int
	Message string
	Fields  map[string][]string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("transport: ")
	if e.Method != "" {
		b.WriteString(e.Method)
		b.WriteString(" ")
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	if e.Status > 0 {
		fmt.Fprintf(&b, "status %d", e.Status)
		if e.Message != "" {
			b.WriteString(": ")
		}
	}
	b.WriteString(e.Message)
	if e.Err != nil && e.Message == "" {
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NotFound reports whether the server answered 404.
func (e *Error) NotFound() bool {
	return e != nil && e.Status == http.StatusNotFound
}

// Temporary reports failures worth retrying by hand: no response at all,
// throttling or a 5xx.
func (e *Error) Temporary() bool {
	if e == nil {
		return false
	}
	if e.Status == 0 {
		return !errors.Is(e.Err, context.Canceled)
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// IsNotFound reports whether err carries a 404 transport error.
func IsNotFound(err error) bool {
	var terr *Error
	return errors.As(err, &terr) && terr.NotFound()
}

// AsError extracts a transport error from err.
func AsError(err error) (*Error, bool) {
	var terr *Error
	if errors.As(err, &terr) {
		return terr, true
	}
	return nil, false
}
