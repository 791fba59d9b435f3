package form_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/goliatone/go-crudform/pkg/entity"
	"github.com/goliatone/go-crudform/pkg/form"
	"github.com/goliatone/go-crudform/pkg/gateway"
	"github.com/goliatone/go-crudform/pkg/loader"
	"github.com/goliatone/go-crudform/pkg/reference"
	"github.com/goliatone/go-crudform/pkg/testsupport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var now = time.Date(2024, 6, 15, 13, 37, 0, 0, time.UTC)

type harness struct {
	client *testsupport.Client
	gw     *gateway.Gateway
	nav    *testsupport.Navigator
	schema entity.Schema
}

func newHarness(t *testing.T, seed map[entity.Kind][]entity.Record) *harness {
	t.Helper()
	client := testsupport.NewClient(seed)
	gw, err := gateway.New(client, testsupport.Registry(t))
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	return &harness{
		client: client,
		gw:     gw,
		nav:    &testsupport.Navigator{},
		schema: testsupport.Schema(t, entity.KindCustomer),
	}
}

func (h *harness) options(extra ...form.Option) []form.Option {
	return append([]form.Option{
		form.WithNavigator(h.nav),
		form.WithClock(testsupport.FixedClock(now)),
	}, extra...)
}

func TestSession_CreateDefaults(t *testing.T) {
	h := newHarness(t, nil)
	session, err := form.NewSession(h.schema, h.gw, h.options()...)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer session.Close()

	want := entity.Record{
		"credit_amount": int64(0),
		"debit_loan":    int64(0),
		"due_date_emi":  time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
		"bank_id":       nil,
	}
	if diff := cmp.Diff(want, session.Values()); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
	if session.Mode() != form.ModeCreate {
		t.Fatalf("mode = %s", session.Mode())
	}
}

func TestSession_ContextDefaultAppliedOnce(t *testing.T) {
	h := newHarness(t, nil)
	session, _ := form.NewSession(h.schema, h.gw, h.options(form.WithDefaults(map[string]any{"bank_id": "b-1"}))...)
	defer session.Close()

	if got := session.Values()["bank_id"]; got != "b-1" {
		t.Fatalf("context default not applied: %v", got)
	}
	if err := session.Select("bank_id", reference.Option{ID: "b-2", Label: "Other"}); err != nil {
		t.Fatalf("select: %v", err)
	}
	if got := session.Values()["bank_id"]; got != "b-2" {
		t.Fatalf("explicit selection lost: %v", got)
	}

	edit, _ := form.NewSession(h.schema, h.gw, h.options(
		form.WithDefaults(map[string]any{"bank_id": "b-1"}),
		form.WithRecord(entity.Record{"id": "c-1", "bank_id": "b-9"}),
	)...)
	defer edit.Close()
	if got := edit.Values()["bank_id"]; got != "b-9" {
		t.Fatalf("loaded data must override the context default, got %v", got)
	}
}

func TestSession_RequiredFieldUnsetBlocksSubmit(t *testing.T) {
	h := newHarness(t, nil)
	session, _ := form.NewSession(h.schema, h.gw, h.options()...)
	defer session.Close()

	if err := session.Set("due_date_emi", nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	_, err := session.Submit(testsupport.Context())

	var verr *form.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if diff := cmp.Diff(map[string][]string{"due_date_emi": {"Due Date Emi is required"}}, verr.Fields); diff != "" {
		t.Fatalf("validation mismatch (-want +got):\n%s", diff)
	}
	if len(h.client.Calls()) != 0 {
		t.Fatalf("validation failure must not reach the network")
	}

	state := session.State()
	if state.Phase != form.PhaseIdle || state.FormError != "" {
		t.Fatalf("validation errors stay inline: %+v", state)
	}
	if !session.CanSubmit() {
		t.Fatalf("submit must remain available")
	}
}

func TestSession_NumericInputBoundary(t *testing.T) {
	h := newHarness(t, nil)
	session, _ := form.NewSession(h.schema, h.gw, h.options()...)
	defer session.Close()

	for input, want := range map[string]int64{"12.7": 0, "abc": 0, "": 0, "450": 450} {
		if err := session.SetInput("credit_amount", input); err != nil {
			t.Fatalf("set input: %v", err)
		}
		if got := session.Values()["credit_amount"]; got != want {
			t.Fatalf("input %q stored as %#v, want %d", input, got, want)
		}
	}
}

func TestSession_RejectsReadOnlyFields(t *testing.T) {
	h := newHarness(t, nil)
	session, _ := form.NewSession(h.schema, h.gw, h.options()...)
	defer session.Close()

	for _, name := range []string{"id", "tenant_id", "nope"} {
		if err := session.Set(name, "x"); !errors.Is(err, form.ErrUnknownField) {
			t.Fatalf("Set(%q) = %v", name, err)
		}
	}
}

// Empty form, fill values, leave bank_id unset, submit: exactly one create
// call carrying those values, then navigation to the list view.
func TestScenario_Create(t *testing.T) {
	h := newHarness(t, nil)
	var cached []entity.Record
	session, _ := form.NewSession(h.schema, h.gw, h.options(
		form.WithReadCache(form.ReadCacheFunc(func(r entity.Record) { cached = append(cached, r) })),
	)...)
	defer session.Close()

	mustInput(t, session, "credit_amount", "1000")
	mustInput(t, session, "debit_loan", "200")
	mustInput(t, session, "due_date_emi", "2024-01-01")

	out, err := session.Submit(testsupport.Context())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	creates := h.client.CallsTo("Create")
	if len(creates) != 1 || len(h.client.Calls()) != 1 {
		t.Fatalf("expected exactly one create call, got %+v", h.client.Calls())
	}
	want := entity.Record{
		"credit_amount": int64(1000),
		"debit_loan":    int64(200),
		"due_date_emi":  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"bank_id":       nil,
	}
	if diff := cmp.Diff(want, creates[0].Record); diff != "" {
		t.Fatalf("create payload mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/customers"}, h.nav.Paths()); diff != "" {
		t.Fatalf("navigation mismatch (-want +got):\n%s", diff)
	}

	state := session.State()
	if state.Phase != form.PhaseSucceeded || state.Result.ID() != out.ID() {
		t.Fatalf("state = %+v", state)
	}
	if got := state.Values["credit_amount"]; got != int64(0) {
		t.Fatalf("create mode must reset the draft, credit_amount = %v", got)
	}
	if len(cached) != 1 || cached[0].ID() != out.ID() {
		t.Fatalf("read cache not updated: %v", cached)
	}
}

// load(id) returns NotFound: no form body, an inline not-found indicator and
// no submit.
func TestScenario_EditLoadNotFound(t *testing.T) {
	h := newHarness(t, nil)
	l, _ := loader.New(h.client, entity.KindCustomer)

	page, err := form.OpenPage(testsupport.Context(), form.PageConfig{
		Schema:    h.schema,
		ID:        "missing",
		Loader:    l,
		Submitter: h.gw,
		Options:   h.options(),
	})
	if err != nil {
		t.Fatalf("open page: %v", err)
	}
	defer page.Close()

	view := page.View()
	if !view.NotFound || view.ShowForm || len(view.Fields) != 0 || view.CanSubmit {
		t.Fatalf("view = %+v", view)
	}
	if !loader.IsNotFound(page.Err()) {
		t.Fatalf("page error = %v", page.Err())
	}
	if _, err := page.Submit(testsupport.Context()); !errors.Is(err, form.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if len(h.client.CallsTo("Update")) != 0 || len(h.client.CallsTo("Create")) != 0 {
		t.Fatalf("no submission expected")
	}
}

// A loaded edit page whose record disappears on refresh loses its form body
// and cannot submit until a later refresh finds the record again.
func TestPage_RefreshNotFoundBlocksSubmit(t *testing.T) {
	h := newHarness(t, map[entity.Kind][]entity.Record{
		entity.KindCustomer: {{"id": "c-1", "credit_amount": int64(10), "debit_loan": int64(1), "due_date_emi": "2024-02-01"}},
	})
	l, _ := loader.New(h.client, entity.KindCustomer)
	page, err := form.OpenPage(testsupport.Context(), form.PageConfig{
		Schema: h.schema, ID: "c-1", Loader: l, Submitter: h.gw, Options: h.options(),
	})
	if err != nil {
		t.Fatalf("open page: %v", err)
	}
	defer page.Close()

	before := page.Session()
	if before == nil {
		t.Fatalf("expected a form body")
	}
	mustInput(t, before, "credit_amount", "20")

	h.client.GetFunc = func(_ context.Context, kind entity.Kind, id string) (entity.Record, error) {
		return nil, testsupport.NotFound(kind, id)
	}
	if err := page.Refresh(testsupport.Context()); !loader.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	view := page.View()
	if !view.NotFound || view.ShowForm || view.CanSubmit {
		t.Fatalf("view = %+v", view)
	}
	if page.Session() != nil || !before.Closed() {
		t.Fatalf("form body must be torn down")
	}
	if _, err := page.Submit(testsupport.Context()); !errors.Is(err, form.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if n := len(h.client.CallsTo("Update")); n != 0 {
		t.Fatalf("updates = %d, want 0", n)
	}

	h.client.GetFunc = nil
	if err := page.Refresh(testsupport.Context()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	after := page.Session()
	if after == nil || !page.View().ShowForm {
		t.Fatalf("form body must come back once the record is found")
	}
	if got := after.Values()["credit_amount"]; got != int64(10) {
		t.Fatalf("credit_amount = %v, want the loaded value", got)
	}
}

// A submit blocked by validation clears the general message left by an
// earlier server failure.
func TestSession_ValidationClearsServerMessage(t *testing.T) {
	h := newHarness(t, map[entity.Kind][]entity.Record{
		entity.KindCustomer: {{"id": "c-1", "credit_amount": int64(10), "debit_loan": int64(1), "due_date_emi": "2024-02-01"}},
	})
	h.client.UpdateFunc = func(context.Context, entity.Kind, string, entity.Record) (entity.Record, error) {
		return nil, testsupport.FieldError("Service unavailable", nil)
	}
	session, err := form.NewSession(h.schema, h.gw, h.options(
		form.WithRecord(entity.Record{"id": "c-1", "credit_amount": int64(10), "debit_loan": int64(1), "due_date_emi": "2024-02-01"}),
	)...)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer session.Close()

	if _, err := session.Submit(testsupport.Context()); err == nil {
		t.Fatalf("expected server failure")
	}
	if got := session.State().FormError; got != "Service unavailable" {
		t.Fatalf("form error = %q", got)
	}

	if err := session.Set("due_date_emi", nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	_, err = session.Submit(testsupport.Context())
	if !form.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	state := session.State()
	if state.FormError != "" {
		t.Fatalf("stale form error kept: %q", state.FormError)
	}
	if diff := cmp.Diff([]string{"Due Date Emi is required"}, state.ErrorsFor("due_date_emi")); diff != "" {
		t.Fatalf("inline error mismatch (-want +got):\n%s", diff)
	}
	if n := len(h.client.CallsTo("Update")); n != 1 {
		t.Fatalf("updates = %d, want 1", n)
	}
}

// update rejects with field detail for credit_amount: values stay, the inline
// error attaches to credit_amount and submit is available again.
func TestScenario_SubmitFailureWithFieldDetail(t *testing.T) {
	h := newHarness(t, map[entity.Kind][]entity.Record{
		entity.KindCustomer: {{
			"id":            "c-1",
			"credit_amount": int64(10),
			"debit_loan":    int64(5),
			"due_date_emi":  "2024-02-01T00:00:00Z",
			"bank_id":       nil,
			"tenant_id":     "t-1",
		}},
	})
	h.client.UpdateFunc = func(context.Context, entity.Kind, string, entity.Record) (entity.Record, error) {
		return nil, testsupport.FieldError("Validation failed", map[string][]string{
			"body.credit_amount": {"Credit amount exceeds the limit"},
		})
	}
	l, _ := loader.New(h.client, entity.KindCustomer)
	page, err := form.OpenPage(testsupport.Context(), form.PageConfig{
		Schema:    h.schema,
		ID:        "c-1",
		Loader:    l,
		Submitter: h.gw,
		Options:   h.options(),
	})
	if err != nil {
		t.Fatalf("open page: %v", err)
	}
	defer page.Close()

	session := page.Session()
	if session == nil {
		t.Fatalf("expected a form body")
	}
	mustInput(t, session, "credit_amount", "999999")

	_, err = page.Submit(testsupport.Context())
	if _, ok := gateway.AsError(err); !ok {
		t.Fatalf("expected gateway error, got %v", err)
	}

	state := session.State()
	if got := state.Values["credit_amount"]; got != int64(999999) {
		t.Fatalf("user value lost: %v", got)
	}
	if diff := cmp.Diff([]string{"Credit amount exceeds the limit"}, state.ErrorsFor("credit_amount")); diff != "" {
		t.Fatalf("inline error mismatch (-want +got):\n%s", diff)
	}
	if state.Phase != form.PhaseFailed || state.FormError != "Validation failed" {
		t.Fatalf("state = %+v", state)
	}
	if !session.CanSubmit() {
		t.Fatalf("submit must be available again")
	}
	if len(h.nav.Paths()) != 0 {
		t.Fatalf("failure must not navigate")
	}

	view := page.View()
	if !view.ShowForm || view.FormError != "Validation failed" || !view.CanSubmit {
		t.Fatalf("view = %+v", view)
	}
}

func TestPage_EditSuccessMutatesLoaderAndNavigates(t *testing.T) {
	h := newHarness(t, map[entity.Kind][]entity.Record{
		entity.KindCustomer: {{"id": "c-1", "credit_amount": int64(10), "debit_loan": int64(1), "due_date_emi": "2024-02-01"}},
	})
	l, _ := loader.New(h.client, entity.KindCustomer)
	page, _ := form.OpenPage(testsupport.Context(), form.PageConfig{
		Schema: h.schema, ID: "c-1", Loader: l, Submitter: h.gw, Options: h.options(),
	})
	defer page.Close()

	mustInput(t, page.Session(), "credit_amount", "20")
	if _, err := page.Submit(testsupport.Context()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	updates := h.client.CallsTo("Update")
	if len(updates) != 1 || updates[0].ID != "c-1" {
		t.Fatalf("updates = %+v", updates)
	}
	if got := l.State().Record["credit_amount"]; got != int64(20) {
		t.Fatalf("loader cache not mutated: %v", got)
	}
	if diff := cmp.Diff([]string{"/customers"}, h.nav.Paths()); diff != "" {
		t.Fatalf("navigation mismatch (-want +got):\n%s", diff)
	}
	if page.Session().State().IsDirty() {
		t.Fatalf("edit success should rebase the draft")
	}
}

func TestPage_CreateNeverLoads(t *testing.T) {
	h := newHarness(t, nil)
	page, err := form.OpenPage(testsupport.Context(), form.PageConfig{Schema: h.schema, Submitter: h.gw, Options: h.options()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer page.Close()

	view := page.View()
	if !view.ShowForm || view.Title != "Create Customer" || view.Loading {
		t.Fatalf("view = %+v", view)
	}
	if len(h.client.Calls()) != 0 {
		t.Fatalf("create page must not fetch")
	}
}

func TestPage_RefreshReseedsUntouchedFields(t *testing.T) {
	h := newHarness(t, map[entity.Kind][]entity.Record{
		entity.KindCustomer: {{"id": "c-1", "credit_amount": int64(1), "debit_loan": int64(1), "due_date_emi": "2024-02-01"}},
	})
	l, _ := loader.New(h.client, entity.KindCustomer)
	page, _ := form.OpenPage(testsupport.Context(), form.PageConfig{
		Schema: h.schema, ID: "c-1", Loader: l, Submitter: h.gw, Options: h.options(),
	})
	defer page.Close()

	mustInput(t, page.Session(), "credit_amount", "50")
	h.client.GetFunc = func(context.Context, entity.Kind, string) (entity.Record, error) {
		return entity.Record{"id": "c-1", "credit_amount": int64(2), "debit_loan": int64(2), "due_date_emi": "2024-03-01"}, nil
	}
	if err := page.Refresh(testsupport.Context()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	values := page.Session().Values()
	if values["credit_amount"] != int64(50) {
		t.Fatalf("dirty field overwritten: %v", values["credit_amount"])
	}
	if values["debit_loan"] != int64(2) {
		t.Fatalf("untouched field not refreshed: %v", values["debit_loan"])
	}
}

func TestPage_RefreshAfterTransientFailureShowsForm(t *testing.T) {
	h := newHarness(t, map[entity.Kind][]entity.Record{
		entity.KindCustomer: {{"id": "c-1", "credit_amount": int64(1)}},
	})
	calls := 0
	h.client.GetFunc = func(ctx context.Context, kind entity.Kind, id string) (entity.Record, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection reset")
		}
		return entity.Record{"id": id, "credit_amount": int64(1)}, nil
	}
	l, _ := loader.New(h.client, entity.KindCustomer)
	page, _ := form.OpenPage(testsupport.Context(), form.PageConfig{
		Schema: h.schema, ID: "c-1", Loader: l, Submitter: h.gw, Options: h.options(),
	})
	defer page.Close()

	if view := page.View(); view.ShowForm || view.LoadError == "" {
		t.Fatalf("view after failure = %+v", view)
	}
	if err := page.Refresh(testsupport.Context()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if view := page.View(); !view.ShowForm || view.LoadError != "" {
		t.Fatalf("view after refresh = %+v", view)
	}
}

type gatedSubmitter struct {
	started chan struct{}
	release chan error
}

func (g *gatedSubmitter) wait(ctx context.Context, record entity.Record) (entity.Record, error) {
	g.started <- struct{}{}
	select {
	case err := <-g.release:
		if err != nil {
			return nil, err
		}
		out := record.Clone()
		out["id"] = "c-new"
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedSubmitter) Create(ctx context.Context, _ entity.Kind, record entity.Record) (entity.Record, error) {
	return g.wait(ctx, record)
}

func (g *gatedSubmitter) Update(ctx context.Context, _ entity.Kind, _ string, record entity.Record) (entity.Record, error) {
	return g.wait(ctx, record)
}

func TestSession_SingleInFlightSubmit(t *testing.T) {
	h := newHarness(t, nil)
	submitter := &gatedSubmitter{started: make(chan struct{}, 2), release: make(chan error, 1)}
	session, _ := form.NewSession(h.schema, submitter, h.options()...)
	defer session.Close()

	done := make(chan error, 1)
	go func() {
		_, err := session.Submit(testsupport.Context())
		done <- err
	}()
	<-submitter.started

	if session.CanSubmit() {
		t.Fatalf("submit must be disabled while submitting")
	}
	if _, err := session.Submit(testsupport.Context()); !errors.Is(err, form.ErrSubmitInProgress) {
		t.Fatalf("expected ErrSubmitInProgress, got %v", err)
	}
	if err := session.SetInput("debit_loan", "3"); err != nil {
		t.Fatalf("field updates must be allowed while submitting: %v", err)
	}

	submitter.release <- nil
	if err := <-done; err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !session.CanSubmit() {
		t.Fatalf("submit must be available after completion")
	}
}

func TestSession_CloseMakesCompletionNoOp(t *testing.T) {
	h := newHarness(t, nil)
	submitter := &gatedSubmitter{started: make(chan struct{}, 1), release: make(chan error, 1)}
	var cached int
	session, _ := form.NewSession(h.schema, submitter, h.options(
		form.WithReadCache(form.ReadCacheFunc(func(entity.Record) { cached++ })),
	)...)

	done := make(chan error, 1)
	go func() {
		_, err := session.Submit(testsupport.Context())
		done <- err
	}()
	<-submitter.started

	session.Close()
	if err := <-done; !errors.Is(err, form.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if cached != 0 || len(h.nav.Paths()) != 0 {
		t.Fatalf("late completion had effects: cached=%d nav=%v", cached, h.nav.Paths())
	}
	if session.State().Phase != form.PhaseSubmitting {
		t.Fatalf("state must be left untouched after close")
	}
}

func TestSession_SelectorsForReferenceFields(t *testing.T) {
	h := newHarness(t, map[entity.Kind][]entity.Record{
		entity.KindBank: {{"id": "b-1", "name": "First"}, {"id": "b-2", "name": "Second"}},
	})
	resolver, err := reference.NewResolver(h.client, testsupport.Registry(t))
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	page, _ := form.OpenPage(testsupport.Context(), form.PageConfig{
		Schema: h.schema, Submitter: h.gw, Options: h.options(form.WithResolver(resolver)),
	})
	defer page.Close()

	selector, ok := page.Session().Selector("bank_id")
	if !ok {
		t.Fatalf("expected bank_id selector")
	}
	if _, err := selector.Search(testsupport.Context(), "sec"); err != nil {
		t.Fatalf("search: %v", err)
	}

	var bank form.FieldView
	for _, fv := range page.View().Fields {
		if fv.Name == "bank_id" {
			bank = fv
		}
	}
	want := []reference.Option{{ID: "b-2", Label: "Second"}}
	if diff := cmp.Diff(want, bank.Options); diff != "" {
		t.Fatalf("options mismatch (-want +got):\n%s", diff)
	}
	if bank.Label != "Select Bank" {
		t.Fatalf("label = %q", bank.Label)
	}
}

func mustInput(t *testing.T, session *form.Session, field, raw string) {
	t.Helper()
	if err := session.SetInput(field, raw); err != nil {
		t.Fatalf("set %s: %v", field, err)
	}
}
