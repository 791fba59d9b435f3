package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	crudform "github.com/goliatone/go-crudform"
	"github.com/goliatone/go-crudform/internal/config"
	"github.com/goliatone/go-crudform/internal/logging"
	"github.com/goliatone/go-crudform/pkg/authz"
	"github.com/goliatone/go-crudform/pkg/schema"
)

// app carries the resolved settings shared by every sub-command.
type app struct {
	v          *viper.Viper
	configPath string
	settings   *config.Settings
	logger     *zap.Logger
}

var flagKeys = map[string]string{
	"api-base-url":    "api.base_url",
	"api-timeout":     "api.timeout",
	"tenant":          "tenant",
	"subject":         "subject",
	"authz-model":     "authz.model",
	"authz-policy":    "authz.policy",
	"authz-mode":      "authz.mode",
	"schemas-dir":     "schemas.dir",
	"log-level":       "log.level",
	"log-development": "log.development",
	"addr":            "server.addr",
}

func rootCommand() *cobra.Command {
	a := &app{v: config.New()}

	rootCmd := &cobra.Command{
		Use:           "crudform",
		Short:         "Create and edit tenant records through schema driven forms",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	setupFlags(rootCmd)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := config.BindFlags(a.v, cmd.Flags(), flagKeys); err != nil {
			return err
		}
		settings, err := config.Load(a.v, a.configPath)
		if err != nil {
			return err
		}
		logger, err := logging.New(settings.Log.Level, settings.Log.Development)
		if err != nil {
			return err
		}
		a.settings = settings
		a.logger = logger
		return nil
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if a.logger != nil {
			_ = a.logger.Sync()
		}
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a YAML config file (default ./config.yaml)")
	rootCmd.AddCommand(
		serveCommand(a),
		createCommand(a),
		editCommand(a),
		schemasCommand(a),
	)
	return rootCmd
}

// setupFlags defines the persistent flags. Defaults live in viper so the
// flag defaults stay empty and only explicitly set flags override config.
func setupFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()
	flags.String("api-base-url", "", "Base URL of the records API")
	flags.Duration("api-timeout", 0, "Per request timeout")
	flags.StringP("tenant", "t", "", "Tenant id sent with every request")
	flags.StringP("subject", "s", "", "Role used for authorization checks")
	flags.String("authz-model", "", "Path to a casbin model file (default embedded model)")
	flags.String("authz-policy", "", "Path to a casbin policy CSV (default embedded policy)")
	flags.String("authz-mode", "", "Authorization mode: enforce, shadow or disabled")
	flags.String("schemas-dir", "", "Directory of entity schema YAML files (default embedded schemas)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.Bool("log-development", false, "Human readable development logging")
	flags.String("addr", "", "Listen address for serve")
}

func (a *app) schemas() (*schema.Registry, error) {
	if dir := strings.TrimSpace(a.settings.Schemas.Dir); dir != "" {
		return crudform.LoadSchemasDir(dir)
	}
	return crudform.LoadSchemas(nil)
}

func (a *app) gate() (*authz.Gate, error) {
	mode, err := authz.ParseMode(a.settings.Authz.Mode)
	if err != nil {
		return nil, err
	}
	opts := []authz.Option{
		authz.WithMode(mode),
		authz.WithLogger(a.logger.Named("authz")),
	}
	if path := a.settings.Authz.Model; path != "" {
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read authz model: %w", err)
		}
		opts = append(opts, authz.WithModel(string(text)))
	}
	if path := a.settings.Authz.Policy; path != "" {
		opts = append(opts, authz.WithPolicyFile(path))
	}
	return authz.New(opts...)
}
