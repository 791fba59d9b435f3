package backend

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/goliatone/go-crudform/pkg/entity"
	"github.com/goliatone/go-crudform/pkg/transport"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Handler serves the CRUD API for every kind registered in the store.
type Handler struct {
	store  *Store
	logger *zap.Logger
}

// NewRouter mounts GET/POST /{route} and GET/PUT /{route}/{id}. Every
// request must carry the tenant header.
func NewRouter(store *Store, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(h.requireTenant)
	r.Route("/{route}", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleUpdate)
	})
	return r
}

func (h *Handler) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get(transport.TenantHeader)) == "" {
			writeError(w, http.StatusBadRequest, transport.TenantHeader+" header is required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tenantOf(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(transport.TenantHeader))
}

func kindOf(r *http.Request) entity.Kind {
	return entity.KindFromRoute(chi.URLParam(r, "route"))
}

// handleList returns {data, total}.
// GET /{route}?search=&filter[field]=&limit=&offset=
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	records, total, err := h.store.List(tenantOf(r), kindOf(r), parseQuery(r))
	if err != nil {
		h.storeErrorToHTTP(w, err)
		return
	}
	if records == nil {
		records = []entity.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  records,
		"total": total,
	})
}

// GET /{route}/{id}
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	record, err := h.store.Get(tenantOf(r), kindOf(r), chi.URLParam(r, "id"))
	if err != nil {
		h.storeErrorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// POST /{route}
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	input, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	record, err := h.store.Create(tenantOf(r), kindOf(r), input)
	if err != nil {
		h.storeErrorToHTTP(w, err)
		return
	}
	h.logger.Info("record created",
		zap.String("tenant", tenantOf(r)),
		zap.String("kind", string(kindOf(r))),
		zap.String("id", record.ID()))
	writeJSON(w, http.StatusCreated, record)
}

// PUT /{route}/{id}
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	input, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	record, err := h.store.Update(tenantOf(r), kindOf(r), chi.URLParam(r, "id"), input)
	if err != nil {
		h.storeErrorToHTTP(w, err)
		return
	}
	h.logger.Info("record updated",
		zap.String("tenant", tenantOf(r)),
		zap.String("kind", string(kindOf(r))),
		zap.String("id", record.ID()))
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) storeErrorToHTTP(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, "Validation failed", verr.Fields)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Record not found", nil)
	case errors.Is(err, ErrUnknownKind):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	default:
		h.logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}

func parseQuery(r *http.Request) Query {
	values := r.URL.Query()
	q := Query{
		Search: values.Get("search"),
		Limit:  defaultLimit,
	}
	if v := values.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			q.Limit = n
		}
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if v := values.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			q.Offset = n
		}
	}
	for key, vals := range values {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") || len(vals) == 0 {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(key, "filter["), "]")
		if name == "" {
			continue
		}
		if q.Filters == nil {
			q.Filters = make(map[string]string)
		}
		q.Filters[name] = vals[0]
	}
	return q
}

func decodeRecord(w http.ResponseWriter, r *http.Request) (entity.Record, bool) {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var input entity.Record
	if err := dec.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", nil)
		return nil, false
	}
	if input == nil {
		input = entity.Record{}
	}
	return input, true
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {message, errors}.
func writeError(w http.ResponseWriter, status int, message string, fields map[string][]string) {
	body := map[string]any{"message": message}
	if len(fields) > 0 {
		body["errors"] = fields
	}
	writeJSON(w, status, body)
}
