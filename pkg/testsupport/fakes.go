package testsupport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/goliatone/go-crudform/pkg/entity"
	"github.com/goliatone/go-crudform/pkg/transport"
)

// Call records one request observed by Client.
type Call struct {
	Method string
	Kind   entity.Kind
	ID     string
	Record entity.Record
	Query  transport.ListQuery
}

// Client is a programmable transport.Client. Unset hooks fall back to an
// in-memory store keyed by kind and id.
type Client struct {
	GetFunc    func(ctx context.Context, kind entity.Kind, id string) (entity.Record, error)
	ListFunc   func(ctx context.Context, kind entity.Kind, query transport.ListQuery) (transport.ListResult, error)
	CreateFunc func(ctx context.Context, kind entity.Kind, record entity.Record) (entity.Record, error)
	UpdateFunc func(ctx context.Context, kind entity.Kind, id string, record entity.Record) (entity.Record, error)

	mu      sync.Mutex
	calls   []Call
	records map[entity.Kind][]entity.Record
	nextID  int
}

var _ transport.Client = (*Client)(nil)

// NewClient returns a fake seeded with records.
func NewClient(seed map[entity.Kind][]entity.Record) *Client {
	c := &Client{records: make(map[entity.Kind][]entity.Record)}
	for kind, records := range seed {
		for _, record := range records {
			c.records[kind] = append(c.records[kind], record.Clone())
		}
	}
	return c
}

// Calls returns every recorded call in order.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallsTo returns the recorded calls for method (Get, List, Create, Update).
func (c *Client) CallsTo(method string) []Call {
	var out []Call
	for _, call := range c.Calls() {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

func (c *Client) record(call Call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if call.Record != nil {
		call.Record = call.Record.Clone()
	}
	c.calls = append(c.calls, call)
}

func (c *Client) Get(ctx context.Context, kind entity.Kind, id string) (entity.Record, error) {
	c.record(Call{Method: "Get", Kind: kind, ID: id})
	if c.GetFunc != nil {
		return c.GetFunc(ctx, kind, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, record := range c.records[kind] {
		if record.ID() == id {
			return record.Clone(), nil
		}
	}
	return nil, NotFound(kind, id)
}

func (c *Client) List(ctx context.Context, kind entity.Kind, query transport.ListQuery) (transport.ListResult, error) {
	c.record(Call{Method: "List", Kind: kind, Query: query})
	if c.ListFunc != nil {
		return c.ListFunc(ctx, kind, query)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []entity.Record
	search := strings.ToLower(strings.TrimSpace(query.Search))
	for _, record := range c.records[kind] {
		if search != "" && !recordContains(record, search) {
			continue
		}
		matched = append(matched, record.Clone())
	}
	total := len(matched)
	if query.Offset > 0 {
		if query.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[query.Offset:]
		}
	}
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return transport.ListResult{Records: matched, Total: total}, nil
}

func (c *Client) Create(ctx context.Context, kind entity.Kind, record entity.Record) (entity.Record, error) {
	c.record(Call{Method: "Create", Kind: kind, Record: record})
	if c.CreateFunc != nil {
		return c.CreateFunc(ctx, kind, record)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	out := record.Clone()
	out[entity.FieldID] = fmt.Sprintf("%s-%d", kind, c.nextID)
	c.records[kind] = append(c.records[kind], out)
	return out.Clone(), nil
}

func (c *Client) Update(ctx context.Context, kind entity.Kind, id string, record entity.Record) (entity.Record, error) {
	c.record(Call{Method: "Update", Kind: kind, ID: id, Record: record})
	if c.UpdateFunc != nil {
		return c.UpdateFunc(ctx, kind, id, record)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.records[kind] {
		if existing.ID() != id {
			continue
		}
		merged := existing.Clone()
		for k, v := range record {
			merged[k] = entity.DeepCopy(v)
		}
		c.records[kind][i] = merged
		return merged.Clone(), nil
	}
	return nil, NotFound(kind, id)
}

func recordContains(record entity.Record, needle string) bool {
	for _, value := range record {
		if s, ok := value.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

// NotFound builds the transport error a REST API returns for a missing record.
func NotFound(kind entity.Kind, id string) error {
	return &transport.Error{
		Method:  http.MethodGet,
		Path:    "/" + entity.RouteFor(kind) + "/" + id,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("%s %s not found", kind, id),
	}
}

// FieldError builds a 422 transport error carrying field detail.
func FieldError(message string, fields map[string][]string) error {
	return &transport.Error{
		Status:  http.StatusUnprocessableEntity,
		Message: message,
		Fields:  fields,
	}
}

// Navigator records navigation targets.
type Navigator struct {
	mu    sync.Mutex
	paths []string
}

// Navigate records path.
func (n *Navigator) Navigate(_ context.Context, path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
	return nil
}

// Paths returns the recorded navigation targets.
func (n *Navigator) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}
