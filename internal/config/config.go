package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/goliatone/go-crudform/pkg/authz"
)

// EnvPrefix prefixes every environment override, e.g. CRUDFORM_API_BASE_URL.
const EnvPrefix = "CRUDFORM"

// Settings is the resolved CLI configuration.
type Settings struct {
	API struct {
		BaseURL string        `mapstructure:"base_url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"api"`

	Tenant  string `mapstructure:"tenant"`
	Subject string `mapstructure:"subject"`

	Authz struct {
		Model  string `mapstructure:"model"`
		Policy string `mapstructure:"policy"`
		Mode   string `mapstructure:"mode"`
	} `mapstructure:"authz"`

	Schemas struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"schemas"`

	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`

	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("tenant", "default")
	v.SetDefault("subject", "admin")
	v.SetDefault("authz.model", "")
	v.SetDefault("authz.policy", "")
	v.SetDefault("authz.mode", string(authz.ModeEnforce))
	v.SetDefault("schemas.dir", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("server.addr", ":8080")
}

// New returns a viper instance with defaults and CRUDFORM_* environment
// overrides configured.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags maps command line flags onto config keys. Flag names use dashes
// (api-base-url); keys use dots (api.base_url).
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		f := flags.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("config: bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// Load reads the optional YAML file at path and unmarshals the result. With
// an empty path a config.yaml in the working directory is used when present.
func Load(v *viper.Viper, path string) (*Settings, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := Validate(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks settings for values the CLI cannot work with.
func Validate(s *Settings) error {
	if s == nil {
		return errors.New("config: settings are nil")
	}
	u, err := url.Parse(s.API.BaseURL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("config: api.base_url must be an absolute URL, got %q", s.API.BaseURL)
	}
	if s.API.Timeout < 0 {
		return fmt.Errorf("config: api.timeout must not be negative")
	}
	if strings.TrimSpace(s.Tenant) == "" {
		return errors.New("config: tenant is required")
	}
	if _, err := authz.ParseMode(s.Authz.Mode); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
