package form

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/goliatone/go-crudform/pkg/entity"
	"github.com/goliatone/go-crudform/pkg/loader"
	"github.com/goliatone/go-crudform/pkg/reference"
)

// PageConfig describes a create or edit screen. An empty ID opens a create
// page and the loader is never invoked.
type PageConfig struct {
	Schema    entity.Schema
	ID        string
	Loader    *loader.Loader
	Submitter Submitter
	Options   []Option
}

// Page composes a record loader with a form session. The form body exists
// only once the record is loaded (edit) or immediately (create).
type Page struct {
	cfg    PageConfig
	loader *loader.Loader

	mu      sync.Mutex
	session *Session
	closed  bool
}

// OpenPage builds the page and, for edit pages, performs the initial load.
// Load failures do not fail OpenPage; they are reflected in View and Err.
func OpenPage(ctx context.Context, cfg PageConfig) (*Page, error) {
	if cfg.Submitter == nil {
		return nil, errors.New("form: submitter is required")
	}
	cfg.ID = strings.TrimSpace(cfg.ID)
	p := &Page{cfg: cfg, loader: cfg.Loader}

	if cfg.ID == "" {
		session, err := NewSession(cfg.Schema, cfg.Submitter, cfg.Options...)
		if err != nil {
			return nil, err
		}
		p.session = session
		return p, nil
	}

	if p.loader == nil {
		return nil, errors.New("form: edit pages need a loader")
	}
	record, err := p.loader.Load(ctx, cfg.ID)
	if err != nil {
		return p, nil
	}
	if err := p.attach(record); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Page) attach(record entity.Record) error {
	opts := append([]Option{}, p.cfg.Options...)
	opts = append(opts, WithRecord(record), WithReadCache(p.loader))
	session, err := NewSession(p.cfg.Schema, p.cfg.Submitter, opts...)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		session.Close()
		return ErrClosed
	}
	p.session = session
	return nil
}

// Mode reports whether the page creates or edits a record.
func (p *Page) Mode() Mode {
	if p.cfg.ID == "" {
		return ModeCreate
	}
	return ModeEdit
}

// Session returns the form session, or nil while no form body is shown.
func (p *Page) Session() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Err returns the current load error, if any.
func (p *Page) Err() error {
	if p.loader == nil || p.cfg.ID == "" {
		return nil
	}
	return p.loader.State().Err
}

// Refresh re-fetches the record of an edit page. A loaded form re-seeds its
// untouched fields; a page whose first load failed gains its form body. A
// NotFound refresh tears the form body down.
func (p *Page) Refresh(ctx context.Context) error {
	if p.cfg.ID == "" {
		return nil
	}
	record, err := p.loader.Refresh(ctx)
	if err != nil {
		if loader.IsNotFound(err) {
			p.detach()
		}
		return err
	}
	if session := p.Session(); session != nil {
		session.Reinitialize(record)
		return nil
	}
	return p.attach(record)
}

func (p *Page) detach() {
	p.mu.Lock()
	session := p.session
	p.session = nil
	p.mu.Unlock()
	if session != nil {
		session.Close()
	}
}

// Submit submits the form body. Without a body, or while the record is
// reported missing, it returns ErrNotReady.
func (p *Page) Submit(ctx context.Context) (entity.Record, error) {
	session := p.Session()
	if session == nil || loader.IsNotFound(p.Err()) {
		return nil, ErrNotReady
	}
	return session.Submit(ctx)
}

// Close tears down the session.
func (p *Page) Close() {
	p.mu.Lock()
	session := p.session
	p.closed = true
	p.mu.Unlock()
	if session != nil {
		session.Close()
	}
}

// FieldView is the render model of one control.
type FieldView struct {
	Name     string
	Label    string
	Type     entity.FieldType
	Required bool
	Nullable bool
	Value    any
	Errors   []string
	Dirty    bool
	Touched  bool
	Options  []reference.Option
	Warning  string
}

// View is the render model of a page.
type View struct {
	Kind  entity.Kind
	Mode  Mode
	Title string
	// Loading shows a spinner instead of the form body.
	Loading bool
	// NotFound shows the not-found indicator.
	NotFound bool
	// LoadError is the error panel message for other load failures.
	LoadError string
	// ShowForm reports whether the form body is rendered.
	ShowForm  bool
	Fields    []FieldView
	FormError string
	Phase     Phase
	CanSubmit bool
}

// View projects the page into a render model.
func (p *Page) View() View {
	view := View{
		Kind:  p.cfg.Schema.Kind,
		Mode:  p.Mode(),
		Title: title(p.Mode(), p.cfg.Schema.Kind),
	}

	if p.Mode() == ModeEdit && p.loader != nil {
		ls := p.loader.State()
		switch ls.Status {
		case loader.StatusIdle, loader.StatusLoading:
			view.Loading = ls.Record == nil
		case loader.StatusErrored:
			if loader.IsNotFound(ls.Err) {
				view.NotFound = true
			} else if ls.Err != nil {
				view.LoadError = ls.Err.Error()
			}
		}
	}

	session := p.Session()
	if session == nil || view.NotFound {
		return view
	}

	state := session.State()
	view.ShowForm = true
	view.FormError = state.FormError
	view.Phase = state.Phase
	view.CanSubmit = session.CanSubmit()

	for _, field := range p.cfg.Schema.EditableFields() {
		fv := FieldView{
			Name:     field.Name,
			Label:    field.DisplayLabel(),
			Type:     field.Type,
			Required: field.Required,
			Nullable: field.Nullable,
			Value:    state.Values[field.Name],
			Errors:   state.ErrorsFor(field.Name),
			Dirty:    state.Dirty[field.Name],
			Touched:  state.Touched[field.Name],
		}
		if selector, ok := session.Selector(field.Name); ok {
			ss := selector.State()
			fv.Options = ss.Options
			fv.Warning = ss.Warning
		}
		view.Fields = append(view.Fields, fv)
	}
	return view
}

func title(mode Mode, kind entity.Kind) string {
	name := entity.Humanize(string(kind))
	if mode == ModeEdit {
		return "Edit " + name
	}
	return "Create " + name
}
