package authz

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"go.uber.org/zap"
)

// Mode controls whether decisions are enforced.
type Mode string

const (
	ModeEnforce  Mode = "enforce"
	ModeShadow   Mode = "shadow"
	ModeDisabled Mode = "disabled"
)

// Operations checked before a page opens.
const (
	OpRead   = "read"
	OpCreate = "create"
	OpUpdate = "update"
)

// DefaultService is the service name the admin forms run under.
const DefaultService = "admin"

// ErrDenied is returned when the policy does not allow a request.
var ErrDenied = errors.New("authz: access denied")

//go:embed defaults/model.conf
var defaultModel string

//go:embed defaults/policy.csv
var defaultPolicy string

// ParseMode validates a mode string. Empty input selects ModeEnforce.
func ParseMode(raw string) (Mode, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ModeEnforce, nil
	}
	switch Mode(raw) {
	case ModeEnforce, ModeShadow, ModeDisabled:
		return Mode(raw), nil
	default:
		return "", fmt.Errorf("authz: invalid mode %q (expected enforce|shadow|disabled)", raw)
	}
}

// SubjectFromRole maps a role slug to the policy subject.
func SubjectFromRole(role string) string {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		role = "anonymous"
	}
	if strings.HasPrefix(role, "role:") {
		return role
	}
	return "role:" + role
}

// Request is one pass/fail check: may Subject perform Operation on Entity of
// Service inside Tenant.
type Request struct {
	Subject   string
	Tenant    string
	Service   string
	Entity    string
	Operation string
}

func (r Request) object() string {
	service := strings.TrimSpace(r.Service)
	if service == "" {
		service = DefaultService
	}
	return service + "/" + strings.ToLower(strings.TrimSpace(r.Entity))
}

func (r Request) domain() string {
	return strings.ToLower(strings.TrimSpace(r.Tenant))
}

// Option configures a Gate.
type Option func(*Gate)

// WithMode sets the enforcement mode.
func WithMode(mode Mode) Option {
	return func(g *Gate) {
		if mode != "" {
			g.mode = mode
		}
	}
}

// WithModel replaces the built-in casbin model text.
func WithModel(text string) Option {
	return func(g *Gate) {
		if strings.TrimSpace(text) != "" {
			g.modelText = text
		}
	}
}

// WithPolicy loads policy lines from text instead of the built-in policy.
func WithPolicy(text string) Option {
	return func(g *Gate) {
		if strings.TrimSpace(text) != "" {
			g.adapter = stringadapter.NewAdapter(text)
		}
	}
}

// WithPolicyFile loads policy lines from a CSV file.
func WithPolicyFile(path string) Option {
	return func(g *Gate) {
		if strings.TrimSpace(path) != "" {
			g.adapter = fileadapter.NewAdapter(path)
		}
	}
}

// WithLogger attaches a zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Gate authorizes form pages with a casbin enforcer. Tenants are casbin
// domains.
type Gate struct {
	enforcer  *casbin.Enforcer
	mode      Mode
	modelText string
	adapter   persist.Adapter
	logger    *zap.Logger
}

// New builds a gate. Without options it enforces the built-in policy.
func New(opts ...Option) (*Gate, error) {
	g := &Gate{
		mode:      ModeEnforce,
		modelText: defaultModel,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if _, err := ParseMode(string(g.mode)); err != nil {
		return nil, err
	}
	if g.adapter == nil {
		g.adapter = stringadapter.NewAdapter(defaultPolicy)
	}

	m, err := model.NewModelFromString(g.modelText)
	if err != nil {
		return nil, fmt.Errorf("authz: parse model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m, g.adapter)
	if err != nil {
		return nil, fmt.Errorf("authz: build enforcer: %w", err)
	}
	g.enforcer = enforcer
	return g, nil
}

// Mode reports the gate's enforcement mode.
func (g *Gate) Mode() Mode {
	return g.mode
}

// Allowed evaluates req against the policy regardless of mode.
func (g *Gate) Allowed(req Request) (bool, error) {
	if strings.TrimSpace(req.Entity) == "" || strings.TrimSpace(req.Operation) == "" {
		return false, errors.New("authz: entity and operation are required")
	}
	return g.enforcer.Enforce(SubjectFromRole(req.Subject), req.domain(), req.object(), req.Operation)
}

// Authorize returns nil when req may proceed and an error wrapping ErrDenied
// otherwise. Shadow mode logs denials and lets them through.
func (g *Gate) Authorize(ctx context.Context, req Request) error {
	if g == nil || g.mode == ModeDisabled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ok, err := g.Allowed(req)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	fields := []zap.Field{
		zap.String("subject", req.Subject),
		zap.String("tenant", req.Tenant),
		zap.String("object", req.object()),
		zap.String("operation", req.Operation),
	}
	if g.mode == ModeShadow {
		g.logger.Warn("authorization denied (shadow)", fields...)
		return nil
	}
	g.logger.Info("authorization denied", fields...)
	return fmt.Errorf("%w: %s may not %s %s", ErrDenied, SubjectFromRole(req.Subject), req.Operation, req.object())
}
