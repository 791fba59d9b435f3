package backend_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crudform "github.com/goliatone/go-crudform"
	"github.com/goliatone/go-crudform/internal/backend"
	"github.com/goliatone/go-crudform/pkg/entity"
	"github.com/goliatone/go-crudform/pkg/reference"
	"github.com/goliatone/go-crudform/pkg/schema"
	"github.com/goliatone/go-crudform/pkg/testsupport"
	"github.com/goliatone/go-crudform/pkg/transport"
)

func newServer(t *testing.T) (*httptest.Server, *backend.Store) {
	t.Helper()
	registry, err := schema.Defaults()
	require.NoError(t, err)

	n := 0
	store, err := backend.NewStore(registry,
		backend.WithClock(testsupport.FixedClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))),
		backend.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
	require.NoError(t, err)

	srv := httptest.NewServer(backend.NewRouter(store, nil))
	t.Cleanup(srv.Close)
	return srv, store
}

func newClient(t *testing.T, srv *httptest.Server, tenant string) *transport.HTTPClient {
	t.Helper()
	client, err := transport.NewHTTPClient(srv.URL, transport.WithTenant(tenant))
	require.NoError(t, err)
	return client
}

func TestNewStoreRequiresRegistry(t *testing.T) {
	_, err := backend.NewStore(nil)
	assert.Error(t, err)
}

func TestRouter_RequiresTenant(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/customers")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_CreateGetUpdate(t *testing.T) {
	srv, _ := newServer(t)
	client := newClient(t, srv, "t1")
	ctx := context.Background()

	created, err := client.Create(ctx, entity.KindBank, entity.Record{"name": "First", "user_id": "u-1"})
	require.NoError(t, err)
	assert.Equal(t, "id-1", created.ID())
	assert.Equal(t, "t1", created.TenantID())
	assert.Equal(t, map[string]any{"customer": int64(0)}, created[entity.FieldCount])

	got, err := client.Get(ctx, entity.KindBank, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "First", got["name"])

	updated, err := client.Update(ctx, entity.KindBank, "id-1", entity.Record{"name": "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated["name"])
	assert.Equal(t, "u-1", updated["user_id"])
}

func TestRouter_TenantIsolation(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()

	_, err := newClient(t, srv, "t1").Create(ctx, entity.KindUser, entity.Record{"email": "a@example.com"})
	require.NoError(t, err)

	_, err = newClient(t, srv, "t2").Get(ctx, entity.KindUser, "id-1")
	assert.True(t, transport.IsNotFound(err), "expected not found, got %v", err)
}

func TestRouter_RequiredFieldsReturnFieldErrors(t *testing.T) {
	srv, _ := newServer(t)
	client := newClient(t, srv, "t1")

	_, err := client.Create(context.Background(), entity.KindCustomer, entity.Record{"credit_amount": 10})
	terr, ok := transport.AsError(err)
	require.True(t, ok, "expected transport error, got %v", err)
	assert.Equal(t, http.StatusUnprocessableEntity, terr.Status)
	assert.Equal(t, "Validation failed", terr.Message)
	assert.Equal(t, []string{"Debit Loan is required"}, terr.Fields["debit_loan"])
	assert.Equal(t, []string{"Due Date Emi is required"}, terr.Fields["due_date_emi"])
	assert.NotContains(t, terr.Fields, "bank_id")
}

func TestRouter_UpdateMissingRecord(t *testing.T) {
	srv, _ := newServer(t)
	_, err := newClient(t, srv, "t1").Update(context.Background(), entity.KindBank, "nope", entity.Record{"name": "x"})
	assert.True(t, transport.IsNotFound(err))
}

func TestRouter_ListSearchFilterAndPaging(t *testing.T) {
	srv, _ := newServer(t)
	client := newClient(t, srv, "t1")
	ctx := context.Background()

	for _, name := range []string{"Alpha", "Beta", "Alpine"} {
		_, err := client.Create(ctx, entity.KindBank, entity.Record{"name": name, "user_id": "u-1"})
		require.NoError(t, err)
	}
	for i, bank := range []string{"id-1", "id-1", "id-2"} {
		_, err := client.Create(ctx, entity.KindCustomer, entity.Record{
			"credit_amount": i,
			"debit_loan":    0,
			"due_date_emi":  "2024-01-01",
			"bank_id":       bank,
		})
		require.NoError(t, err)
	}

	page, err := client.List(ctx, entity.KindBank, transport.ListQuery{Search: "alp", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "Alpha", page.Records[0]["name"])
	assert.Equal(t, map[string]any{"customer": int64(2)}, page.Records[0][entity.FieldCount])

	page, err = client.List(ctx, entity.KindBank, transport.ListQuery{Search: "alp", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "Alpine", page.Records[0]["name"])

	customers, err := client.List(ctx, entity.KindCustomer, transport.ListQuery{Filter: map[string]string{"bank_id": "id-1"}})
	require.NoError(t, err)
	assert.Equal(t, 2, customers.Total)
}

func TestRouter_UnknownRoute(t *testing.T) {
	srv, _ := newServer(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/invoices/1", nil)
	require.NoError(t, err)
	req.Header.Set(transport.TenantHeader, "t1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_InvalidJSON(t *testing.T) {
	srv, _ := newServer(t)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/banks", strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set(transport.TenantHeader, "t1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// The full workflow over HTTP: open an edit page, resolve the bank selector,
// change fields, submit, and read the canonical record back.
func TestEndToEnd_EditCustomerOverHTTP(t *testing.T) {
	srv, _ := newServer(t)
	client := newClient(t, srv, "t1")
	ctx := context.Background()

	_, err := client.Create(ctx, entity.KindBank, entity.Record{"name": "North", "user_id": "u-1"})
	require.NoError(t, err)
	_, err = client.Create(ctx, entity.KindBank, entity.Record{"name": "South", "user_id": "u-1"})
	require.NoError(t, err)
	customer, err := client.Create(ctx, entity.KindCustomer, entity.Record{
		"credit_amount": 100,
		"debit_loan":    20,
		"due_date_emi":  "2024-02-01",
	})
	require.NoError(t, err)

	nav := &testsupport.Navigator{}
	engine, err := crudform.New(client, crudform.WithNavigator(nav))
	require.NoError(t, err)

	page, err := engine.OpenEdit(ctx, "customers", customer.ID(), crudform.Principal{Subject: "admin", Tenant: "t1"})
	require.NoError(t, err)
	defer page.Close()

	session := page.Session()
	require.NotNil(t, session)
	assert.Equal(t, int64(100), session.Values()["credit_amount"])
	assert.Nil(t, session.Values()["bank_id"])

	selector, ok := session.Selector("bank_id")
	require.True(t, ok)
	state, err := selector.Search(ctx, "sou")
	require.NoError(t, err)
	require.Equal(t, []reference.Option{{ID: "id-2", Label: "South"}}, state.Options)

	require.NoError(t, session.Select("bank_id", state.Options[0]))
	require.NoError(t, session.SetInput("credit_amount", "250"))

	out, err := page.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "id-2", out["bank_id"])
	assert.Equal(t, []string{"/customers"}, nav.Paths())

	stored, err := client.Get(ctx, entity.KindCustomer, customer.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(250), stored["credit_amount"])

	bank, err := client.Get(ctx, entity.KindBank, "id-2")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"customer": int64(1)}, bank[entity.FieldCount])
}
