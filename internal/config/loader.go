package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBENGINE_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBENGINE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Secrets are normally injected this way rather than in the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setDuration(&cfg.Engine.Interval, "ARBENGINE_ENGINE_INTERVAL")
	setInt(&cfg.Engine.MaxLegs, "ARBENGINE_ENGINE_MAX_LEGS")
	setFloat64(&cfg.Engine.MinProfit, "ARBENGINE_ENGINE_MIN_PROFIT")
	setInt(&cfg.Engine.TopN, "ARBENGINE_ENGINE_TOP_N")
	setInt64(&cfg.Engine.MaxInFlight, "ARBENGINE_ENGINE_MAX_IN_FLIGHT")
	setFloat64(&cfg.Engine.Notional, "ARBENGINE_ENGINE_NOTIONAL")
	setStr(&cfg.Engine.NotionalAsset, "ARBENGINE_ENGINE_NOTIONAL_ASSET")
	setStringSlice(&cfg.Engine.Accounts, "ARBENGINE_ENGINE_ACCOUNTS")
	setStr(&cfg.Engine.Scorer, "ARBENGINE_ENGINE_SCORER")

	// ── Risk ──
	setFloat64(&cfg.Risk.ConfidenceFloor, "ARBENGINE_RISK_CONFIDENCE_FLOOR")
	setFloat64(&cfg.Risk.MaxExposure, "ARBENGINE_RISK_MAX_EXPOSURE")
	setFloat64(&cfg.Risk.FeeBuffer, "ARBENGINE_RISK_FEE_BUFFER")
	setFloat64(&cfg.Risk.MaxPosition, "ARBENGINE_RISK_MAX_POSITION")
	setFloat64(&cfg.Risk.MaxDailyLoss, "ARBENGINE_RISK_MAX_DAILY_LOSS")

	// ── Executor ──
	setDuration(&cfg.Executor.BackoffBase, "ARBENGINE_EXECUTOR_BACKOFF_BASE")
	setDuration(&cfg.Executor.BackoffMax, "ARBENGINE_EXECUTOR_BACKOFF_MAX")
	setInt(&cfg.Executor.MaxAttempts, "ARBENGINE_EXECUTOR_MAX_ATTEMPTS")
	setDuration(&cfg.Executor.ConfirmTimeout, "ARBENGINE_EXECUTOR_CONFIRM_TIMEOUT")

	// ── Feed ──
	setStr(&cfg.Feed.Source, "ARBENGINE_FEED_SOURCE")
	setStr(&cfg.Feed.URL, "ARBENGINE_FEED_URL")
	setStr(&cfg.Feed.Channel, "ARBENGINE_FEED_CHANNEL")
	setStr(&cfg.Feed.FixturePath, "ARBENGINE_FEED_FIXTURE_PATH")
	setDuration(&cfg.Feed.PollInterval, "ARBENGINE_FEED_POLL_INTERVAL")

	// ── Venue ──
	setStr(&cfg.Venue.Name, "ARBENGINE_VENUE_NAME")
	setStr(&cfg.Venue.BaseURL, "ARBENGINE_VENUE_BASE_URL")
	setInt64(&cfg.Venue.ChainID, "ARBENGINE_VENUE_CHAIN_ID")
	setStr(&cfg.Venue.APIKey, "ARBENGINE_VENUE_API_KEY")
	setStr(&cfg.Venue.APISecret, "ARBENGINE_VENUE_API_SECRET")
	setStr(&cfg.Venue.APIPassphrase, "ARBENGINE_VENUE_API_PASSPHRASE")

	// ── Paper ──
	setInt(&cfg.Paper.PendingPolls, "ARBENGINE_PAPER_PENDING_POLLS")
	setFloat64(&cfg.Paper.FailureRate, "ARBENGINE_PAPER_FAILURE_RATE")
	setFloat64(&cfg.Paper.Slippage, "ARBENGINE_PAPER_SLIPPAGE")
	setUint64(&cfg.Paper.Seed, "ARBENGINE_PAPER_SEED")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "ARBENGINE_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "ARBENGINE_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ARBENGINE_WALLET_KEY_PASSWORD")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBENGINE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBENGINE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ARBENGINE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBENGINE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBENGINE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBENGINE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBENGINE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBENGINE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBENGINE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBENGINE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBENGINE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBENGINE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBENGINE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBENGINE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBENGINE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBENGINE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBENGINE_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "ARBENGINE_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "ARBENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "ARBENGINE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBENGINE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBENGINE_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "ARBENGINE_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBENGINE_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "ARBENGINE_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBENGINE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBENGINE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBENGINE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBENGINE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBENGINE_MODE")
	setStr(&cfg.LogLevel, "ARBENGINE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
