package loader_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/goliatone/go-crudform/pkg/entity"
	"github.com/goliatone/go-crudform/pkg/loader"
	"github.com/goliatone/go-crudform/pkg/testsupport"
	"github.com/goliatone/go-crudform/pkg/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type gatedFetcher struct {
	started chan struct{}
	release chan result
}

type result struct {
	record entity.Record
	err    error
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{started: make(chan struct{}, 4), release: make(chan result, 4)}
}

func (g *gatedFetcher) Get(ctx context.Context, _ entity.Kind, _ string) (entity.Record, error) {
	g.started <- struct{}{}
	select {
	case r := <-g.release:
		return r.record, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func waitStarted(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("fetch did not start")
	}
}

func TestLoader_LoadTransitions(t *testing.T) {
	client := testsupport.NewClient(map[entity.Kind][]entity.Record{
		entity.KindCustomer: {{"id": "c-1", "credit_amount": int64(10)}},
	})
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	l, err := loader.New(client, entity.KindCustomer, loader.WithClock(testsupport.FixedClock(at)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := l.State().Status; got != loader.StatusIdle {
		t.Fatalf("initial status = %s", got)
	}

	record, err := l.Load(testsupport.Context(), "c-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if record.ID() != "c-1" {
		t.Fatalf("record = %v", record)
	}

	state := l.State()
	if state.Status != loader.StatusLoaded || !state.LoadedAt.Equal(at) || state.Stale() {
		t.Fatalf("state = %+v", state)
	}

	record["credit_amount"] = int64(999)
	if got := l.State().Record["credit_amount"]; got != int64(10) {
		t.Fatalf("loader record mutated through returned copy: %v", got)
	}
}

func TestLoader_EmptyIDNeverFetches(t *testing.T) {
	client := testsupport.NewClient(nil)
	l, _ := loader.New(client, entity.KindCustomer)

	if _, err := l.Load(testsupport.Context(), "  "); !errors.Is(err, loader.ErrNoID) {
		t.Fatalf("expected ErrNoID, got %v", err)
	}
	if _, err := l.Refresh(testsupport.Context()); !errors.Is(err, loader.ErrNothingLoaded) {
		t.Fatalf("expected ErrNothingLoaded, got %v", err)
	}
	if len(client.Calls()) != 0 {
		t.Fatalf("fetcher must not be called")
	}
}

func TestLoader_NotFoundKind(t *testing.T) {
	client := testsupport.NewClient(nil)
	l, _ := loader.New(client, entity.KindCustomer)

	_, err := l.Load(testsupport.Context(), "missing")
	if !loader.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	state := l.State()
	if state.Status != loader.StatusErrored || state.Record != nil {
		t.Fatalf("state = %+v", state)
	}
}

func TestLoader_TransientKind(t *testing.T) {
	client := testsupport.NewClient(nil)
	client.GetFunc = func(context.Context, entity.Kind, string) (entity.Record, error) {
		return nil, &transport.Error{Status: 502, Message: "bad gateway"}
	}
	l, _ := loader.New(client, entity.KindCustomer)

	_, err := l.Load(testsupport.Context(), "c-1")
	if !loader.IsTransient(err) || loader.IsNotFound(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	var lerr *loader.Error
	if !errors.As(err, &lerr) || lerr.ID != "c-1" || lerr.Entity != entity.KindCustomer {
		t.Fatalf("error = %#v", err)
	}
}

func TestLoader_RefreshKeepsPreviousData(t *testing.T) {
	fetcher := newGatedFetcher()
	l, _ := loader.New(fetcher, entity.KindCustomer)
	ctx := testsupport.Context()

	fetcher.release <- result{record: entity.Record{"id": "c-1", "credit_amount": int64(1)}}
	if _, err := l.Load(ctx, "c-1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	waitStarted(t, fetcher.started)

	done := make(chan error, 1)
	go func() {
		_, err := l.Refresh(ctx)
		done <- err
	}()
	waitStarted(t, fetcher.started)

	during := l.State()
	if during.Status != loader.StatusLoading || !during.Stale() {
		t.Fatalf("status during refresh = %+v", during)
	}
	if during.Record["credit_amount"] != int64(1) {
		t.Fatalf("previous data not visible during refresh: %v", during.Record)
	}

	fetcher.release <- result{record: entity.Record{"id": "c-1", "credit_amount": int64(2)}}
	if err := <-done; err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := l.State().Record["credit_amount"]; got != int64(2) {
		t.Fatalf("refreshed value = %v", got)
	}
}

func TestLoader_FailedRefreshKeepsPreviousData(t *testing.T) {
	calls := 0
	client := testsupport.NewClient(nil)
	client.GetFunc = func(context.Context, entity.Kind, string) (entity.Record, error) {
		calls++
		if calls == 1 {
			return entity.Record{"id": "c-1", "debit_loan": int64(5)}, nil
		}
		return nil, &transport.Error{Err: errors.New("network down")}
	}
	l, _ := loader.New(client, entity.KindCustomer)

	if _, err := l.Load(testsupport.Context(), "c-1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := l.Refresh(testsupport.Context()); !loader.IsTransient(err) {
		t.Fatalf("expected transient refresh failure, got %v", err)
	}

	state := l.State()
	want := entity.Record{"id": "c-1", "debit_loan": int64(5)}
	if diff := cmp.Diff(want, state.Record); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
	if state.Status != loader.StatusErrored || !state.Stale() {
		t.Fatalf("state = %+v", state)
	}
}

func TestLoader_NewerLoadWins(t *testing.T) {
	fetcher := newGatedFetcher()
	l, _ := loader.New(fetcher, entity.KindCustomer)
	ctx := testsupport.Context()

	first := make(chan error, 1)
	go func() {
		_, err := l.Load(ctx, "c-1")
		first <- err
	}()
	waitStarted(t, fetcher.started)

	second := make(chan error, 1)
	go func() {
		_, err := l.Load(ctx, "c-2")
		second <- err
	}()
	waitStarted(t, fetcher.started)

	fetcher.release <- result{record: entity.Record{"id": "whichever"}}
	fetcher.release <- result{record: entity.Record{"id": "whichever"}}

	errs := []error{<-first, <-second}
	superseded := 0
	for _, err := range errs {
		if errors.Is(err, loader.ErrSuperseded) {
			superseded++
		}
	}
	if superseded != 1 {
		t.Fatalf("expected exactly one superseded load, got %v", errs)
	}
	if !errors.Is(errs[0], loader.ErrSuperseded) {
		t.Fatalf("older load must be the superseded one, got %v", errs)
	}
	if got := l.State().ID; got != "c-2" {
		t.Fatalf("state id = %q", got)
	}
}

func TestLoader_MutateSupersedesInFlight(t *testing.T) {
	fetcher := newGatedFetcher()
	l, _ := loader.New(fetcher, entity.KindCustomer)
	ctx := testsupport.Context()

	done := make(chan error, 1)
	go func() {
		_, err := l.Load(ctx, "c-1")
		done <- err
	}()
	waitStarted(t, fetcher.started)

	l.Mutate(entity.Record{"id": "c-1", "credit_amount": int64(77)})
	fetcher.release <- result{record: entity.Record{"id": "c-1", "credit_amount": int64(1)}}

	if err := <-done; !errors.Is(err, loader.ErrSuperseded) {
		t.Fatalf("expected superseded, got %v", err)
	}
	if got := l.State().Record["credit_amount"]; got != int64(77) {
		t.Fatalf("mutated value lost: %v", got)
	}
}
