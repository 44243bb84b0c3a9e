// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBENGINE_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Scorer   ScorerConfig   `toml:"scorer"`
	Risk     RiskConfig     `toml:"risk"`
	Executor ExecutorConfig `toml:"executor"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Market   MarketConfig   `toml:"market"`
	Feed     FeedConfig     `toml:"feed"`
	Venue    VenueConfig    `toml:"venue"`
	Paper    PaperConfig    `toml:"paper"`
	Wallet   WalletConfig   `toml:"wallet"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds scan loop parameters.
type EngineConfig struct {
	Interval      duration `toml:"interval"`
	MaxLegs       int      `toml:"max_legs"`
	MinProfit     float64  `toml:"min_profit"`
	TopN          int      `toml:"top_n"`
	MaxInFlight   int64    `toml:"max_in_flight"`
	Notional      float64  `toml:"notional"`
	NotionalAsset string   `toml:"notional_asset"`
	Accounts      []string `toml:"accounts"`
	Scorer        string   `toml:"scorer"`
}

// ScorerConfig tunes the heuristic scorer.
type ScorerConfig struct {
	BaseConfidence float64  `toml:"base_confidence"`
	CrossVenueCap  float64  `toml:"cross_venue_cap"`
	MaxQuoteAge    duration `toml:"max_quote_age"`
	MinVolume      float64  `toml:"min_volume"`
}

// RiskConfig holds the risk gate thresholds. It is the only section applied
// on reload.
type RiskConfig struct {
	ConfidenceFloor float64 `toml:"confidence_floor"`
	MaxExposure     float64 `toml:"max_exposure"`
	FeeBuffer       float64 `toml:"fee_buffer"`
	MaxPosition     float64 `toml:"max_position"`
	MaxDailyLoss    float64 `toml:"max_daily_loss"`
}

// ExecutorConfig holds orchestrator timing and the shared backoff policy.
type ExecutorConfig struct {
	BackoffBase       duration `toml:"backoff_base"`
	BackoffMultiplier float64  `toml:"backoff_multiplier"`
	BackoffMax        duration `toml:"backoff_max"`
	MaxAttempts       int      `toml:"max_attempts"`
	CallTimeout       duration `toml:"call_timeout"`
	PollInterval      duration `toml:"poll_interval"`
	ConfirmTimeout    duration `toml:"confirm_timeout"`
	ProfitTolerance   float64  `toml:"profit_tolerance"`
	DedupTTL          duration `toml:"dedup_ttl"`
}

// MonitorConfig holds transaction monitor retention and health parameters.
type MonitorConfig struct {
	Retention     duration `toml:"retention"`
	EvictInterval duration `toml:"evict_interval"`
	FailureBurst  int      `toml:"failure_burst"`
	HealthWindow  duration `toml:"health_window"`
}

// MarketConfig holds snapshot store parameters.
type MarketConfig struct {
	HistoryDepth int `toml:"history_depth"`
}

// FeedConfig selects and tunes the market data source.
type FeedConfig struct {
	// Source is one of "static", "ws" or "bus".
	Source       string   `toml:"source"`
	URL          string   `toml:"url"`
	Subscribe    string   `toml:"subscribe"`
	Channel      string   `toml:"channel"`
	FixturePath  string   `toml:"fixture_path"`
	Jitter       float64  `toml:"jitter"`
	PollInterval duration `toml:"poll_interval"`
	FetchTimeout duration `toml:"fetch_timeout"`
}

// VenueConfig holds the live execution venue endpoint and credentials.
type VenueConfig struct {
	Name            string   `toml:"name"`
	BaseURL         string   `toml:"base_url"`
	Timeout         duration `toml:"timeout"`
	ChainID         int64    `toml:"chain_id"`
	APIKey          string   `toml:"api_key"`
	APISecret       string   `toml:"api_secret"`
	APIPassphrase   string   `toml:"api_passphrase"`
	BreakerFailures int      `toml:"breaker_failures"`
	BreakerCooldown duration `toml:"breaker_cooldown"`
}

// PaperConfig tunes the simulated venue used in paper mode.
type PaperConfig struct {
	PendingPolls int                `toml:"pending_polls"`
	FailureRate  float64            `toml:"failure_rate"`
	Slippage     float64            `toml:"slippage"`
	Seed         uint64             `toml:"seed"`
	Funding      map[string]float64 `toml:"funding"`
}

// WalletConfig holds the signing key for live venue submissions.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	NonceLockTTL duration `toml:"nonce_lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is requests per minute per client IP. It needs Redis.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig holds Prometheus parameters.
type MetricsConfig struct {
	Namespace string `toml:"namespace"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Interval:      duration{time.Second},
			MaxLegs:       3,
			MinProfit:     0.001,
			TopN:          3,
			MaxInFlight:   4,
			Notional:      1000,
			NotionalAsset: "USD",
			Accounts:      []string{"default"},
			Scorer:        "heuristic",
		},
		Scorer: ScorerConfig{
			BaseConfidence: 0.95,
			CrossVenueCap:  0.9,
			MaxQuoteAge:    duration{30 * time.Second},
		},
		Risk: RiskConfig{
			ConfidenceFloor: 0.7,
			MaxExposure:     10000,
			FeeBuffer:       0.001,
		},
		Executor: ExecutorConfig{
			BackoffBase:       duration{time.Second},
			BackoffMultiplier: 2,
			BackoffMax:        duration{30 * time.Second},
			MaxAttempts:       5,
			CallTimeout:       duration{10 * time.Second},
			PollInterval:      duration{500 * time.Millisecond},
			ConfirmTimeout:    duration{30 * time.Second},
			ProfitTolerance:   0.002,
			DedupTTL:          duration{10 * time.Minute},
		},
		Monitor: MonitorConfig{
			Retention:     duration{24 * time.Hour},
			EvictInterval: duration{10 * time.Minute},
			FailureBurst:  10,
			HealthWindow:  duration{time.Hour},
		},
		Market: MarketConfig{HistoryDepth: 64},
		Feed: FeedConfig{
			Source:       "static",
			Channel:      "market",
			FixturePath:  "testdata/market.json",
			PollInterval: duration{time.Second},
			FetchTimeout: duration{500 * time.Millisecond},
		},
		Venue: VenueConfig{
			Name:            "venue",
			Timeout:         duration{30 * time.Second},
			ChainID:         1,
			BreakerFailures: 5,
			BreakerCooldown: duration{30 * time.Second},
		},
		Paper: PaperConfig{
			Seed:    1,
			Funding: map[string]float64{},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbengine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			NonceLockTTL: duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbengine-archive",
			Prefix:         "transactions",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   600,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_failed", "monitor_degraded"},
		},
		Metrics:  MetricsConfig{Namespace: "arbengine"},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine":  true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validFeedSources = map[string]bool{
	"static": true,
	"ws":     true,
	"bus":    true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.Interval.Duration <= 0 {
		errs = append(errs, "engine: interval must be > 0")
	}
	if c.Engine.MaxLegs < 2 || c.Engine.MaxLegs > 3 {
		errs = append(errs, fmt.Sprintf("engine: max_legs must be 2 or 3, got %d", c.Engine.MaxLegs))
	}
	if c.Engine.TopN < 1 {
		errs = append(errs, "engine: top_n must be >= 1")
	}
	if c.Engine.MaxInFlight < 1 {
		errs = append(errs, "engine: max_in_flight must be >= 1")
	}
	if c.Engine.Notional <= 0 {
		errs = append(errs, "engine: notional must be > 0")
	}
	if c.Engine.NotionalAsset == "" {
		errs = append(errs, "engine: notional_asset is required")
	}
	if len(c.Engine.Accounts) == 0 {
		errs = append(errs, "engine: at least one account is required")
	}

	// Scorer
	if c.Scorer.BaseConfidence <= 0 || c.Scorer.BaseConfidence > 1 {
		errs = append(errs, "scorer: base_confidence must be in (0, 1]")
	}
	if c.Scorer.CrossVenueCap <= 0 || c.Scorer.CrossVenueCap >= 1 {
		errs = append(errs, "scorer: cross_venue_cap must be in (0, 1)")
	}
	if c.Scorer.MaxQuoteAge.Duration <= 0 {
		errs = append(errs, "scorer: max_quote_age must be > 0")
	}
	if c.Scorer.MinVolume < 0 {
		errs = append(errs, "scorer: min_volume must be >= 0")
	}

	// Risk
	if err := c.Risk.validate(); err != nil {
		errs = append(errs, err.Error())
	}

	// Executor
	if c.Executor.BackoffBase.Duration <= 0 {
		errs = append(errs, "executor: backoff_base must be > 0")
	}
	if c.Executor.BackoffMultiplier < 1 {
		errs = append(errs, "executor: backoff_multiplier must be >= 1")
	}
	if c.Executor.BackoffMax.Duration < c.Executor.BackoffBase.Duration {
		errs = append(errs, "executor: backoff_max must be >= backoff_base")
	}
	if c.Executor.MaxAttempts < 1 {
		errs = append(errs, "executor: max_attempts must be >= 1")
	}
	if c.Executor.ProfitTolerance < 0 {
		errs = append(errs, "executor: profit_tolerance must be >= 0")
	}

	// Feed
	if !validFeedSources[c.Feed.Source] {
		errs = append(errs, fmt.Sprintf("feed: unknown source %q (valid: static, ws, bus)", c.Feed.Source))
	}
	switch c.Feed.Source {
	case "ws":
		if c.Feed.URL == "" {
			errs = append(errs, "feed: url is required for the ws source")
		}
	case "static":
		if c.Feed.FixturePath == "" {
			errs = append(errs, "feed: fixture_path is required for the static source")
		}
	case "bus":
		if !c.Redis.Enabled {
			errs = append(errs, "feed: the bus source requires redis.enabled")
		}
	}
	if c.Feed.PollInterval.Duration <= 0 {
		errs = append(errs, "feed: poll_interval must be > 0")
	}

	// Venue and wallet are needed only when trading live.
	if strings.ToLower(c.Mode) == "engine" {
		if c.Venue.BaseURL == "" {
			errs = append(errs, "venue: base_url is required for mode engine")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		vk := c.Venue.APIKey != ""
		vs := c.Venue.APISecret != ""
		vp := c.Venue.APIPassphrase != ""
		if (vk || vs || vp) && !(vk && vs && vp) {
			errs = append(errs, "venue: api_key, api_secret, and api_passphrase must all be set together")
		}
	}

	// Paper
	if c.Paper.FailureRate < 0 || c.Paper.FailureRate > 1 {
		errs = append(errs, "paper: failure_rate must be in [0, 1]")
	}
	if c.Paper.Slippage < 0 || c.Paper.Slippage >= 1 {
		errs = append(errs, "paper: slippage must be in [0, 1)")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (r RiskConfig) validate() error {
	var errs []string
	if r.ConfidenceFloor < 0 || r.ConfidenceFloor > 1 {
		errs = append(errs, "risk: confidence_floor must be in [0, 1]")
	}
	if r.MaxExposure <= 0 {
		errs = append(errs, "risk: max_exposure must be > 0")
	}
	if r.FeeBuffer < 0 {
		errs = append(errs, "risk: fee_buffer must be >= 0")
	}
	if r.MaxPosition < 0 {
		errs = append(errs, "risk: max_position must be >= 0")
	}
	if r.MaxDailyLoss < 0 {
		errs = append(errs, "risk: max_daily_loss must be >= 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
