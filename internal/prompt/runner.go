package prompt

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/goliatone/go-crudform/pkg/entity"
	"github.com/goliatone/go-crudform/pkg/form"
	"github.com/goliatone/go-crudform/pkg/gateway"
	"github.com/goliatone/go-crudform/pkg/reference"
)

const (
	optionNone   = "(none)"
	optionSearch = "Search..."
	optionRetry  = "Retry loading options"
)

// ErrNoForm is returned when the page has no form body to fill, for example
// after a NotFound load.
var ErrNoForm = errors.New("prompt: page has no form")

// Runner walks a form page field by field through a Driver, then submits.
type Runner struct {
	driver Driver
}

// NewRunner builds a runner over driver. A nil driver selects survey.
func NewRunner(driver Driver) *Runner {
	if driver == nil {
		driver = NewSurveyDriver()
	}
	return &Runner{driver: driver}
}

// Run prompts for every editable field, submits, and re-prompts failing
// fields until the submission succeeds or the user gives up.
func (r *Runner) Run(ctx context.Context, page *form.Page) (entity.Record, error) {
	view := page.View()
	switch {
	case view.NotFound:
		_ = r.driver.Info(ctx, fmt.Sprintf("%s not found", entity.Humanize(string(view.Kind))))
		return nil, ErrNoForm
	case view.LoadError != "":
		_ = r.driver.Info(ctx, "Could not load record: "+view.LoadError)
		return nil, ErrNoForm
	}
	session := page.Session()
	if session == nil {
		return nil, ErrNoForm
	}

	_ = r.driver.Info(ctx, view.Title)
	fields := session.Schema().EditableFields()
	for {
		for _, field := range fields {
			if err := r.promptField(ctx, session, field); err != nil {
				return nil, err
			}
		}

		out, err := page.Submit(ctx)
		if err == nil {
			_ = r.driver.Info(ctx, fmt.Sprintf("Saved %s %s", view.Kind, out.ID()))
			return out, nil
		}

		failing, retry, rerr := r.reportFailure(ctx, session, err)
		if rerr != nil {
			return nil, rerr
		}
		if !retry {
			return nil, err
		}
		if len(failing) > 0 {
			fields = failing
		}
	}
}

// reportFailure prints the submission error and returns the fields to
// prompt again.
func (r *Runner) reportFailure(ctx context.Context, session *form.Session, err error) ([]entity.Field, bool, error) {
	var verr *form.ValidationError
	switch {
	case errors.As(err, &verr):
	case errors.Is(err, form.ErrClosed), errors.Is(err, form.ErrSubmitInProgress):
		return nil, false, err
	default:
		msg := err.Error()
		if gerr, ok := gateway.AsError(err); ok {
			msg = gerr.Message
		}
		_ = r.driver.Info(ctx, "Submit failed: "+msg)
	}

	state := session.State()
	var failing []entity.Field
	for _, field := range session.Schema().EditableFields() {
		msgs := state.ErrorsFor(field.Name)
		if len(msgs) == 0 {
			continue
		}
		_ = r.driver.Info(ctx, fmt.Sprintf("  %s: %s", field.DisplayLabel(), strings.Join(msgs, "; ")))
		failing = append(failing, field)
	}

	if verr != nil {
		return failing, true, nil
	}
	retry, cerr := r.driver.Confirm(ctx, ConfirmConfig{Message: "Try again?", Default: true})
	if cerr != nil {
		return nil, false, cerr
	}
	return failing, retry, nil
}

func (r *Runner) promptField(ctx context.Context, session *form.Session, field entity.Field) error {
	current := session.Values()[field.Name]

	switch {
	case field.IsReference():
		return r.promptReference(ctx, session, field, current)
	case field.Type == entity.FieldTypeBoolean:
		v, err := r.driver.Confirm(ctx, confirmFor(field, current))
		if err != nil {
			return err
		}
		return session.Set(field.Name, v)
	default:
		raw, err := r.driver.Input(ctx, inputFor(field, current))
		if err != nil {
			return err
		}
		return session.SetInput(field.Name, raw)
	}
}

func (r *Runner) promptReference(ctx context.Context, session *form.Session, field entity.Field, current any) error {
	selector, ok := session.Selector(field.Name)
	if !ok {
		raw, err := r.driver.Input(ctx, inputFor(field, current))
		if err != nil {
			return err
		}
		return session.SetInput(field.Name, raw)
	}

	state, err := selector.Search(ctx, "")
	if err != nil {
		return err
	}
	for {
		if state.Warning != "" {
			_ = r.driver.Info(ctx, state.Warning)
		}

		choices := make([]string, 0, len(state.Options)+3)
		for _, opt := range state.Options {
			choices = append(choices, optionLabel(opt))
		}
		if !field.Required {
			choices = append(choices, optionNone)
		}
		choices = append(choices, optionSearch)
		if state.Warning != "" {
			choices = append(choices, optionRetry)
		}

		def := 0
		if id, _ := current.(string); id != "" {
			if idx := slices.IndexFunc(state.Options, func(o reference.Option) bool { return o.ID == id }); idx >= 0 {
				def = idx
			}
		}

		idx, err := r.driver.Select(ctx, SelectConfig{Message: fieldLabel(field), Options: choices, DefaultIndex: def, PageSize: 10})
		if err != nil {
			return err
		}
		if idx < 0 || idx >= len(choices) {
			return fmt.Errorf("prompt: invalid selection for %s", field.Name)
		}

		switch choice := choices[idx]; {
		case idx < len(state.Options):
			return session.Select(field.Name, state.Options[idx])
		case choice == optionNone:
			return session.Select(field.Name, reference.Option{})
		case choice == optionSearch:
			term, err := r.driver.Input(ctx, InputConfig{Message: "Search " + strings.ToLower(entity.Humanize(string(selector.Target())))})
			if err != nil {
				return err
			}
			if state, err = selector.Search(ctx, term); err != nil {
				return err
			}
		case choice == optionRetry:
			if state, err = selector.Retry(ctx); err != nil {
				return err
			}
		}
	}
}

func optionLabel(opt reference.Option) string {
	if opt.Label == "" || opt.Label == opt.ID {
		return opt.ID
	}
	return fmt.Sprintf("%s (%s)", opt.Label, opt.ID)
}
