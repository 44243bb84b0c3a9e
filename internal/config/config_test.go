package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, 5, cfg.Executor.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Executor.BackoffBase.Duration)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "monitor"

[engine]
interval = "250ms"
accounts = ["a", "b"]

[risk]
confidence_floor = 0.8
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.Interval.Duration)
	assert.Equal(t, []string{"a", "b"}, cfg.Engine.Accounts)
	assert.InDelta(t, 0.8, cfg.Risk.ConfidenceFloor, 1e-12)
	// untouched sections keep their defaults
	assert.InDelta(t, 10000.0, cfg.Risk.MaxExposure, 1e-9)
	assert.Equal(t, 3, cfg.Engine.MaxLegs)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ARBENGINE_MODE", "engine")
	t.Setenv("ARBENGINE_VENUE_BASE_URL", "https://venue.example")
	t.Setenv("ARBENGINE_ENGINE_ACCOUNTS", " x , y ,")
	t.Setenv("ARBENGINE_EXECUTOR_BACKOFF_BASE", "2s")
	t.Setenv("ARBENGINE_PAPER_SEED", "42")
	t.Setenv("ARBENGINE_RISK_MAX_EXPOSURE", "not-a-number")
	t.Setenv("ARBENGINE_RISK_MAX_DAILY_LOSS", "250")
	t.Setenv("ARBENGINE_ENGINE_NOTIONAL_ASSET", "USDC")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "engine", cfg.Mode)
	assert.Equal(t, "https://venue.example", cfg.Venue.BaseURL)
	assert.Equal(t, []string{"x", "y"}, cfg.Engine.Accounts)
	assert.Equal(t, 2*time.Second, cfg.Executor.BackoffBase.Duration)
	assert.Equal(t, uint64(42), cfg.Paper.Seed)
	assert.InDelta(t, 10000.0, cfg.Risk.MaxExposure, 1e-9, "unparseable values are ignored")
	assert.InDelta(t, 250.0, cfg.Risk.MaxDailyLoss, 1e-9)
	assert.Zero(t, cfg.Risk.MaxPosition)
	assert.Equal(t, "USDC", cfg.Engine.NotionalAsset)
}

func TestLoadBadDuration(t *testing.T) {
	path := writeTOML(t, "[engine]\ninterval = \"soon\"\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Engine.MaxLegs = 4
	cfg.Risk.ConfidenceFloor = 1.5
	cfg.Executor.BackoffMax.Duration = time.Millisecond
	cfg.Feed.Source = "ws"
	cfg.Engine.NotionalAsset = ""
	cfg.Risk.MaxDailyLoss = -1

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "yolo"`)
	assert.Contains(t, msg, "max_legs must be 2 or 3")
	assert.Contains(t, msg, "confidence_floor")
	assert.Contains(t, msg, "backoff_max must be >= backoff_base")
	assert.Contains(t, msg, "url is required for the ws source")
	assert.Contains(t, msg, "notional_asset is required")
	assert.Contains(t, msg, "max_daily_loss must be >= 0")
}

func TestValidateEngineModeNeedsVenue(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "engine"
	cfg.Venue.APIKey = "k"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url is required")
	assert.Contains(t, err.Error(), "must all be set together")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Venue.APISecret = "shh"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.Paper.Funding = map[string]float64{"USD": 100}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Venue.APISecret)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Empty(t, out.Venue.APIKey, "empty secrets stay empty")

	out.Engine.Accounts[0] = "mutated"
	out.Paper.Funding["USD"] = 0
	assert.Equal(t, "default", cfg.Engine.Accounts[0])
	assert.InDelta(t, 100.0, cfg.Paper.Funding["USD"], 1e-9)
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)
}

func TestWatcherReload(t *testing.T) {
	path := writeTOML(t, "[risk]\nconfidence_floor = 0.9\n")

	var got *Config
	w := NewWatcher(path, func(c *Config) error {
		got = c
		return nil
	}, testLogger())

	require.NoError(t, w.Reload())
	require.NotNil(t, got)
	assert.InDelta(t, 0.9, got.Risk.ConfidenceFloor, 1e-12)

	require.NoError(t, os.WriteFile(path, []byte("[risk]\nmax_exposure = -1\n"), 0o600))
	got = nil
	require.Error(t, w.Reload())
	assert.Nil(t, got, "invalid config must not be applied")
}
