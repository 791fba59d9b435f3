package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	crudform "github.com/goliatone/go-crudform"
	"github.com/goliatone/go-crudform/internal/prompt"
	"github.com/goliatone/go-crudform/pkg/form"
	"github.com/goliatone/go-crudform/pkg/transport"
)

func createCommand(a *app) *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:     "create <route>",
		Short:   "Create a record interactively",
		Example: "  crudform create customers --set bank_id=b-1",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults, err := parseSets(sets)
			if err != nil {
				return err
			}
			engine, err := a.engine(cmd)
			if err != nil {
				return err
			}
			page, err := engine.OpenCreate(cmd.Context(), args[0], a.principal(), defaults)
			if err != nil {
				return err
			}
			defer page.Close()
			_, err = prompt.NewRunner(nil).Run(cmd.Context(), page)
			return err
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Context default as field=value, applied once to the new draft")
	return cmd
}

func editCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "edit <route> <id>",
		Short:   "Edit an existing record interactively",
		Example: "  crudform edit customers 42",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.engine(cmd)
			if err != nil {
				return err
			}
			page, err := engine.OpenEdit(cmd.Context(), args[0], args[1], a.principal())
			if err != nil {
				return err
			}
			defer page.Close()
			_, err = prompt.NewRunner(nil).Run(cmd.Context(), page)
			return err
		},
	}
}

func (a *app) principal() crudform.Principal {
	return crudform.Principal{
		Subject: a.settings.Subject,
		Tenant:  a.settings.Tenant,
	}
}

// engine builds an HTTP backed engine. Every registered schema gets its
// route mapped on the client so custom kinds resolve to the right path.
func (a *app) engine(cmd *cobra.Command) (*crudform.Engine, error) {
	registry, err := a.schemas()
	if err != nil {
		return nil, err
	}
	gate, err := a.gate()
	if err != nil {
		return nil, err
	}

	opts := []transport.Option{
		transport.WithTenant(a.settings.Tenant),
		transport.WithTimeout(a.settings.API.Timeout),
		transport.WithLogger(a.logger.Named("transport")),
	}
	for _, kind := range registry.Kinds() {
		if s, err := registry.Schema(kind); err == nil && s.Route != "" {
			opts = append(opts, transport.WithRoute(kind, s.Route))
		}
	}
	client, err := transport.NewHTTPClient(a.settings.API.BaseURL, opts...)
	if err != nil {
		return nil, err
	}

	out := cmd.OutOrStdout()
	nav := form.NavigatorFunc(func(_ context.Context, path string) error {
		_, err := fmt.Fprintf(out, "-> %s\n", path)
		return err
	})

	return crudform.New(client,
		crudform.WithSchemas(registry),
		crudform.WithGate(gate),
		crudform.WithNavigator(nav),
		crudform.WithLogger(a.logger.With(zap.String("tenant", a.settings.Tenant))),
	)
}

// parseSets turns field=value pairs into context defaults. Values stay raw
// strings; the form normalizes them against the field type.
func parseSets(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --set %q, expected field=value", pair)
		}
		out[name] = value
	}
	return out, nil
}
