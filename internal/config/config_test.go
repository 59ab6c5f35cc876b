package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 300*time.Second, cfg.Webhook.Tolerance)
	assert.Equal(t, 3*time.Second, cfg.Reconcile.PollInterval)
	assert.Equal(t, 90*time.Second, cfg.Reconcile.Deadline)
	assert.Equal(t, 10*time.Second, cfg.Reconcile.RequestTimeout)
	assert.Equal(t, 5, cfg.Reconcile.MaxRetries)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9090"
webhook:
  secret: from-file
  tolerance: 60s
reconcile:
  deadline: 2m
  max_retries: 3
`), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "from-file", cfg.Webhook.Secret)
	assert.Equal(t, time.Minute, cfg.Webhook.Tolerance)
	assert.Equal(t, 2*time.Minute, cfg.Reconcile.Deadline)
	assert.Equal(t, 3, cfg.Reconcile.MaxRetries)
	// Untouched keys keep defaults.
	assert.Equal(t, "settlewatch.db", cfg.Database)
	assert.Equal(t, 40, cfg.Webhook.Burst)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("webhook:\n  secret: from-file\n"), 0o644))
	t.Setenv("SETTLEWATCH_WEBHOOK_SECRET", "from-env")
	t.Setenv("SETTLEWATCH_RECONCILE_POLL_INTERVAL", "5s")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Webhook.Secret)
	assert.Equal(t, 5*time.Second, cfg.Reconcile.PollInterval)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("SETTLEWATCH_LISTEN_ADDR", ":7000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("listen", "", "")
	flags.String("db", "", "")
	require.NoError(t, flags.Parse([]string{"--listen", ":7001"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.ListenAddr)
	// Unset flags do not clobber lower layers.
	assert.Equal(t, "settlewatch.db", cfg.Database)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("SETTLEWATCH_RECONCILE_DEADLINE", "0s")
	t.Setenv("SETTLEWATCH_WEBHOOK_BURST", "-1")

	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconcile.deadline")
	assert.Contains(t, err.Error(), "webhook.burst")
}

func TestRequireSecret(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.RequireSecret(), ErrMissingSecret)

	cfg.Webhook.Secret = "   "
	assert.ErrorIs(t, cfg.RequireSecret(), ErrMissingSecret)

	cfg.Webhook.Secret = "whsec"
	assert.NoError(t, cfg.RequireSecret())
}

func TestEngineOptions(t *testing.T) {
	assert.Len(t, Default().EngineOptions(), 4)
}
