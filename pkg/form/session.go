package form

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/goliatone/go-crudform/pkg/entity"
	"github.com/goliatone/go-crudform/pkg/gateway"
	"github.com/goliatone/go-crudform/pkg/reference"
	"github.com/goliatone/go-crudform/pkg/schema"
)

// Session owns the draft of one create or edit form. Its state machine is
// Idle -> Submitting -> {Succeeded, Failed}; both outcomes accept a new
// submit. At most one submission is in flight at a time.
type Session struct {
	schema    entity.Schema
	submitter Submitter
	cfg       config
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	selectors map[string]*reference.Selector

	mu      sync.Mutex
	initial entity.Record
	state   State
	closed  bool
}

// NewSession starts a session for s. Without WithRecord the session is in
// create mode and starts from schema defaults.
func NewSession(s entity.Schema, submitter Submitter, opts ...Option) (*Session, error) {
	if s.Kind == "" {
		return nil, errors.New("form: schema kind is required")
	}
	if submitter == nil {
		return nil, errors.New("form: submitter is required")
	}
	cfg := newConfig(opts)

	mode := ModeCreate
	id := ""
	if cfg.record != nil {
		if id = cfg.record.ID(); id == "" {
			return nil, errors.New("form: edit record has no id")
		}
		mode = ModeEdit
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &Session{
		schema:    s,
		submitter: submitter,
		cfg:       cfg,
		logger:    cfg.logger.With(zap.String("kind", string(s.Kind)), zap.String("mode", string(mode))),
		ctx:       ctx,
		cancel:    cancel,
		selectors: make(map[string]*reference.Selector),
	}

	session.initial = session.seed(cfg.record)
	session.state = State{
		Mode:   mode,
		Phase:  PhaseIdle,
		ID:     id,
		Values: session.initial.Clone(),
	}

	if cfg.resolver != nil {
		for _, field := range s.ReferenceFields() {
			selector, err := cfg.resolver.ForField(field)
			if err != nil {
				session.Close()
				return nil, fmt.Errorf("form: selector for %s: %w", field.Name, err)
			}
			session.selectors[field.Name] = selector
		}
	}
	return session, nil
}

// seed builds initial values: schema defaults, then context defaults, then
// loaded data.
func (s *Session) seed(record entity.Record) entity.Record {
	now := s.cfg.now()
	values := make(entity.Record)
	for _, field := range s.schema.EditableFields() {
		values[field.Name] = schema.ResolveDefault(field, now)
		if v, ok := s.cfg.defaults[field.Name]; ok {
			values[field.Name] = schema.Normalize(field, entity.DeepCopy(v))
		}
		if record != nil && record.Has(field.Name) {
			values[field.Name] = schema.Normalize(field, entity.DeepCopy(record[field.Name]))
		}
	}
	return values
}

// Schema returns the descriptor the session edits.
func (s *Session) Schema() entity.Schema {
	return s.schema
}

// Mode reports create or edit.
func (s *Session) Mode() Mode {
	return s.state.Mode
}

// State returns a deep copy of the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Values returns a copy of the current draft.
func (s *Session) Values() entity.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Values.Clone()
}

// CanSubmit mirrors the submit button: disabled while submitting or closed.
func (s *Session) CanSubmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.state.Phase != PhaseSubmitting
}

// Selector returns the reference selector for field, if any.
func (s *Session) Selector(field string) (*reference.Selector, bool) {
	selector, ok := s.selectors[field]
	return selector, ok
}

// Set updates a field with an already typed value. Updates are allowed in
// every phase, including while a submission is in flight. Validation is not
// run here; it runs on submit.
func (s *Session) Set(name string, value any) error {
	field, ok := s.schema.Field(name)
	if !ok || !field.Editable() {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.state.Values[name] = schema.Normalize(field, value)
	s.mark(name)
	return nil
}

// SetInput updates a field from raw control text, applying the input
// boundary coercion (non-numeric integers become 0, dates are parsed).
func (s *Session) SetInput(name, raw string) error {
	field, ok := s.schema.Field(name)
	if !ok || !field.Editable() {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return s.Set(name, schema.CoerceInput(field, raw))
}

// Select assigns a reference option to a foreign-key field. A zero option
// clears the field.
func (s *Session) Select(name string, opt reference.Option) error {
	field, ok := s.schema.Field(name)
	if !ok || !field.IsReference() {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	if opt.ID == "" {
		return s.Set(name, nil)
	}
	return s.Set(name, opt.ID)
}

// Touch marks a field as visited without changing it.
func (s *Session) Touch(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Touched == nil {
		s.state.Touched = make(map[string]bool)
	}
	s.state.Touched[name] = true
}

func (s *Session) mark(name string) {
	if s.state.Dirty == nil {
		s.state.Dirty = make(map[string]bool)
	}
	if s.state.Touched == nil {
		s.state.Touched = make(map[string]bool)
	}
	s.state.Dirty[name] = true
	s.state.Touched[name] = true
}

// Validate runs the schema rules against the draft without submitting.
func (s *Session) Validate() schema.Result {
	return schema.Validate(s.schema, s.Values())
}

// Submit validates the draft and, when valid, persists it through the
// submitter. Validation failures return *ValidationError without any
// request. A submit while another is in flight returns ErrSubmitInProgress.
func (s *Session) Submit(ctx context.Context) (entity.Record, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.state.Phase == PhaseSubmitting {
		s.mu.Unlock()
		return nil, ErrSubmitInProgress
	}

	result := schema.Validate(s.schema, s.state.Values)
	if !result.Valid() {
		s.state.Errors = cloneErrors(result.Errors)
		s.state.FormError = ""
		for _, name := range result.Fields() {
			if s.state.Touched == nil {
				s.state.Touched = make(map[string]bool)
			}
			s.state.Touched[name] = true
		}
		s.mu.Unlock()
		s.logger.Debug("submit blocked by validation", zap.Strings("fields", result.Fields()))
		return nil, &ValidationError{Fields: cloneErrors(result.Errors)}
	}

	s.state.Phase = PhaseSubmitting
	s.state.Errors = nil
	s.state.FormError = ""
	mode, id := s.state.Mode, s.state.ID
	payload := s.state.Values.Clone()
	s.mu.Unlock()

	callCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	var (
		out entity.Record
		err error
	)
	if mode == ModeEdit {
		out, err = s.submitter.Update(callCtx, s.schema.Kind, id, payload)
	} else {
		out, err = s.submitter.Create(callCtx, s.schema.Kind, payload)
	}

	if err != nil {
		return nil, s.fail(err)
	}
	return s.succeed(ctx, out)
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.state.Phase = PhaseFailed
	s.state.FormError = err.Error()
	if gerr, ok := gateway.AsError(err); ok {
		s.state.FormError = gerr.Message
		if len(gerr.Fields) > 0 {
			s.state.Errors = cloneErrors(gerr.Fields)
			for name := range gerr.Fields {
				if s.state.Touched == nil {
					s.state.Touched = make(map[string]bool)
				}
				s.state.Touched[name] = true
			}
		}
	}
	s.logger.Warn("submit failed", zap.String("id", s.state.ID), zap.Error(err))
	return err
}

func (s *Session) succeed(ctx context.Context, out entity.Record) (entity.Record, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}

	s.state.Phase = PhaseSucceeded
	s.state.Result = out.Clone()
	s.state.Errors = nil
	s.state.FormError = ""
	s.state.Dirty = nil
	s.state.Touched = nil
	if s.state.Mode == ModeCreate {
		s.state.Values = s.initial.Clone()
	} else {
		s.initial = s.seed(out)
		s.state.Values = s.initial.Clone()
	}
	caches := s.cfg.caches
	nav := s.cfg.navigator
	s.mu.Unlock()

	for _, cache := range caches {
		cache.Mutate(out.Clone())
	}
	s.logger.Info("submit succeeded", zap.String("id", out.ID()))

	if nav != nil {
		path := s.schema.ListPath()
		if err := nav.Navigate(ctx, path); err != nil {
			s.logger.Warn("navigation failed", zap.String("path", path), zap.Error(err))
			return out, fmt.Errorf("form: navigate to %s: %w", path, err)
		}
	}
	return out, nil
}

// Reinitialize re-seeds fields the user has not changed from a freshly
// loaded record. Dirty fields keep their draft values.
func (s *Session) Reinitialize(record entity.Record) {
	if record == nil {
		return
	}
	seeded := s.seed(record)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.initial = seeded
	for name, value := range seeded {
		if s.state.Dirty[name] {
			continue
		}
		s.state.Values[name] = entity.DeepCopy(value)
	}
}

// Reset discards edits and returns to the seeded values.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state.Phase == PhaseSubmitting {
		return
	}
	s.state.Values = s.initial.Clone()
	s.state.Errors = nil
	s.state.FormError = ""
	s.state.Dirty = nil
	s.state.Touched = nil
	s.state.Phase = PhaseIdle
}

// Close tears the session down. An in-flight submission is cancelled and its
// completion no longer touches state, caches or navigation.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	for _, selector := range s.selectors {
		selector.Close()
	}
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
