package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-crudform/pkg/entity"
)

const (
	// TenantHeader scopes every request to one tenant.
	TenantHeader = "X-Tenant-ID"

	defaultTimeout  = 15 * time.Second
	maxErrorBody    = 64 << 10
	contentTypeJSON = "application/json"
)

// Option configures the HTTP client.
type Option func(*HTTPClient)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.http = client
		}
	}
}

// WithTimeout sets the per-request timeout on the default client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *HTTPClient) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithTenant scopes requests to tenant via TenantHeader.
func WithTenant(tenant string) Option {
	return func(c *HTTPClient) {
		c.tenant = strings.TrimSpace(tenant)
	}
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) Option {
	return func(c *HTTPClient) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set(key, value)
		}
	}
}

// WithRoute overrides the route segment used for kind.
func WithRoute(kind entity.Kind, route string) Option {
	return func(c *HTTPClient) {
		route = strings.Trim(strings.TrimSpace(route), "/")
		if kind != "" && route != "" {
			c.routes[kind] = route
		}
	}
}

// WithLogger attaches a zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *HTTPClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// HTTPClient talks to a JSON REST API shaped as
// GET/POST /{route} and GET/PUT /{route}/{id}.
type HTTPClient struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	tenant  string
	headers http.Header
	routes  map[entity.Kind]string
	logger  *zap.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a client rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) (*HTTPClient, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, errors.New("transport: base url is required")
	}
	base, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("transport: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("transport: base url %q must be absolute", trimmed)
	}

	c := &HTTPClient{
		base:    base,
		timeout: defaultTimeout,
		headers: make(http.Header),
		routes:  make(map[entity.Kind]string),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

// Get fetches a single record.
func (c *HTTPClient) Get(ctx context.Context, kind entity.Kind, id string) (entity.Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrEmptyID
	}
	var record entity.Record
	if err := c.do(ctx, http.MethodGet, c.path(kind, id), nil, nil, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// List fetches one page of records.
func (c *HTTPClient) List(ctx context.Context, kind entity.Kind, query ListQuery) (ListResult, error) {
	params := url.Values{}
	if s := strings.TrimSpace(query.Search); s != "" {
		params.Set("search", s)
	}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Offset > 0 {
		params.Set("offset", strconv.Itoa(query.Offset))
	}
	for key, value := range query.Filter {
		params.Set("filter["+key+"]", value)
	}

	var result ListResult
	if err := c.do(ctx, http.MethodGet, c.path(kind, ""), params, nil, &result); err != nil {
		return ListResult{}, err
	}
	if result.Total < len(result.Records) {
		result.Total = len(result.Records)
	}
	return result, nil
}

// Create posts a new record and returns the canonical server copy.
func (c *HTTPClient) Create(ctx context.Context, kind entity.Kind, record entity.Record) (entity.Record, error) {
	var out entity.Record
	if err := c.do(ctx, http.MethodPost, c.path(kind, ""), nil, record, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update replaces the editable attributes of a record.
func (c *HTTPClient) Update(ctx context.Context, kind entity.Kind, id string, record entity.Record) (entity.Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrEmptyID
	}
	var out entity.Record
	if err := c.do(ctx, http.MethodPut, c.path(kind, id), nil, record, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) path(kind entity.Kind, id string) string {
	route, ok := c.routes[kind]
	if !ok {
		route = entity.RouteFor(kind)
	}
	if id == "" {
		return "/" + route
	}
	return "/" + route + "/" + url.PathEscape(id)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, params url.Values, body any, out any) error {
	target := c.base.JoinPath(path)
	if len(params) > 0 {
		target.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &Error{Method: method, Path: path, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return &Error{Method: method, Path: path, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", contentTypeJSON)
	if body != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	if c.tenant != "" {
		req.Header.Set(TenantHeader, c.tenant)
	}
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return &Error{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(method, path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &Error{Method: method, Path: path, Status: resp.StatusCode, Message: "decode response", Err: err}
	}
	normaliseOutput(out)
	return nil
}

type errorPayload struct {
	Message string              `json:"message"`
	Error   string              `json:"error"`
	Errors  map[string][]string `json:"errors"`
}

func decodeError(method, path string, resp *http.Response) error {
	terr := &Error{Method: method, Path: path, Status: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload errorPayload
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &payload) == nil {
		terr.Message = strings.TrimSpace(payload.Message)
		if terr.Message == "" {
			terr.Message = strings.TrimSpace(payload.Error)
		}
		if len(payload.Errors) > 0 {
			terr.Fields = payload.Errors
		}
	}
	if terr.Message == "" {
		terr.Message = http.StatusText(resp.StatusCode)
	}
	return terr
}

func normaliseOutput(out any) {
	switch typed := out.(type) {
	case *entity.Record:
		normaliseRecord(*typed)
	case *ListResult:
		for _, record := range typed.Records {
			normaliseRecord(record)
		}
	}
}

// normaliseRecord turns json.Number values into int64 when integral and
// float64 otherwise.
func normaliseRecord(record entity.Record) {
	for key, value := range record {
		record[key] = normaliseValue(value)
	}
}

func normaliseValue(value any) any {
	switch typed := value.(type) {
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return i
		}
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return typed.String()
	case map[string]any:
		for k, v := range typed {
			typed[k] = normaliseValue(v)
		}
		return typed
	case []any:
		for i, v := range typed {
			typed[i] = normaliseValue(v)
		}
		return typed
	default:
		return value
	}
}
