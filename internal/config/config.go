// Package config loads settlewatch configuration.
//
// Values are layered, lowest precedence first: built-in defaults, an optional
// YAML file, SETTLEWATCH_* environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/settlewatch/internal/reconcile"
	"github.com/roach88/settlewatch/internal/webhook"
)

// EnvPrefix prefixes every environment override, e.g. SETTLEWATCH_WEBHOOK_SECRET.
const EnvPrefix = "SETTLEWATCH"

// Config is the full runtime configuration.
type Config struct {
	ListenAddr string          `mapstructure:"listen_addr"`
	Database   string          `mapstructure:"database"`
	ServerURL  string          `mapstructure:"server_url"`
	Webhook    WebhookConfig   `mapstructure:"webhook"`
	Reconcile  ReconcileConfig `mapstructure:"reconcile"`
}

// WebhookConfig configures push ingress.
type WebhookConfig struct {
	Secret        string        `mapstructure:"secret"`
	Tolerance     time.Duration `mapstructure:"tolerance"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// ReconcileConfig configures session timing.
type ReconcileConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Deadline       time.Duration `mapstructure:"deadline"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// ErrMissingSecret is returned by RequireSecret when no webhook secret is set.
var ErrMissingSecret = errors.New("webhook.secret is required (set SETTLEWATCH_WEBHOOK_SECRET)")

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		Database:   "settlewatch.db",
		ServerURL:  "http://localhost:8080",
		Webhook: WebhookConfig{
			Tolerance:     webhook.DefaultTolerance,
			RatePerSecond: 20,
			Burst:         40,
		},
		Reconcile: ReconcileConfig{
			PollInterval:   reconcile.DefaultPollInterval,
			Deadline:       reconcile.DefaultDeadline,
			RequestTimeout: reconcile.DefaultRequestTimeout,
			MaxRetries:     reconcile.DefaultMaxRetries,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (if non-empty),
// the environment and flags. Flags are bound by name: a flag named
// "listen-addr" or "listen_addr" overrides the key listen_addr. Only flags
// the user actually set take precedence over the other layers.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
// The webhook secret is checked separately by RequireSecret, since only some
// commands need it.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr must not be empty"))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database must not be empty"))
	}
	if c.Webhook.Tolerance <= 0 {
		errs = append(errs, fmt.Errorf("webhook.tolerance must be positive, got %s", c.Webhook.Tolerance))
	}
	if c.Webhook.RatePerSecond <= 0 {
		errs = append(errs, fmt.Errorf("webhook.rate_per_second must be positive, got %v", c.Webhook.RatePerSecond))
	}
	if c.Webhook.Burst <= 0 {
		errs = append(errs, fmt.Errorf("webhook.burst must be positive, got %d", c.Webhook.Burst))
	}
	if c.Reconcile.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("reconcile.poll_interval must be positive, got %s", c.Reconcile.PollInterval))
	}
	if c.Reconcile.Deadline <= 0 {
		errs = append(errs, fmt.Errorf("reconcile.deadline must be positive, got %s", c.Reconcile.Deadline))
	}
	if c.Reconcile.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("reconcile.request_timeout must be positive, got %s", c.Reconcile.RequestTimeout))
	}
	if c.Reconcile.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("reconcile.max_retries must be positive, got %d", c.Reconcile.MaxRetries))
	}
	return errors.Join(errs...)
}

// RequireSecret returns ErrMissingSecret if no webhook secret is configured.
func (c *Config) RequireSecret() error {
	if strings.TrimSpace(c.Webhook.Secret) == "" {
		return ErrMissingSecret
	}
	return nil
}

// EngineOptions converts the reconcile settings into engine options.
func (c *Config) EngineOptions() []reconcile.Option {
	return []reconcile.Option{
		reconcile.WithPollInterval(c.Reconcile.PollInterval),
		reconcile.WithDeadline(c.Reconcile.Deadline),
		reconcile.WithRequestTimeout(c.Reconcile.RequestTimeout),
		reconcile.WithMaxRetries(c.Reconcile.MaxRetries),
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("database", d.Database)
	v.SetDefault("server_url", d.ServerURL)
	v.SetDefault("webhook.secret", d.Webhook.Secret)
	v.SetDefault("webhook.tolerance", d.Webhook.Tolerance)
	v.SetDefault("webhook.rate_per_second", d.Webhook.RatePerSecond)
	v.SetDefault("webhook.burst", d.Webhook.Burst)
	v.SetDefault("reconcile.poll_interval", d.Reconcile.PollInterval)
	v.SetDefault("reconcile.deadline", d.Reconcile.Deadline)
	v.SetDefault("reconcile.request_timeout", d.Reconcile.RequestTimeout)
	v.SetDefault("reconcile.max_retries", d.Reconcile.MaxRetries)
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"listen":        "listen_addr",
	"listen-addr":   "listen_addr",
	"db":            "database",
	"database":      "database",
	"server":        "server_url",
	"server-url":    "server_url",
	"secret":        "webhook.secret",
	"poll-interval": "reconcile.poll_interval",
	"deadline":      "reconcile.deadline",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("bind flag --%s: %w", f.Name, err)
		}
	})
	return bindErr
}
