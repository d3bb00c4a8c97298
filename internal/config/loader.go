package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies STAKEFUND_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
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

// applyEnvOverrides reads well-known STAKEFUND_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.Address, "STAKEFUND_ENGINE_ADDRESS")
	setDecimal(&cfg.Engine.MinBet, "STAKEFUND_ENGINE_MIN_BET")
	setInt64(&cfg.Engine.FeeBps, "STAKEFUND_ENGINE_FEE_BPS")

	// ── Pool / reputation ──
	setInt(&cfg.Pool.GrantTopN, "STAKEFUND_POOL_GRANT_TOP_N")
	setInt64(&cfg.Pool.GrantBps, "STAKEFUND_POOL_GRANT_BPS")
	setDecimal(&cfg.Reputation.WhaleThreshold, "STAKEFUND_REPUTATION_WHALE_THRESHOLD")

	// ── Authority ──
	setStr(&cfg.Authority.Address, "STAKEFUND_AUTHORITY_ADDRESS")
	setStr(&cfg.Authority.PrivateKey, "STAKEFUND_AUTHORITY_PRIVATE_KEY")
	setStr(&cfg.Authority.EncryptedKeyPath, "STAKEFUND_AUTHORITY_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Authority.KeyPassword, "STAKEFUND_AUTHORITY_KEY_PASSWORD")

	// ── Registry ──
	setStr(&cfg.Registry.URL, "STAKEFUND_REGISTRY_URL")
	setStr(&cfg.Registry.APIKey, "STAKEFUND_REGISTRY_API_KEY")
	setDuration(&cfg.Registry.Timeout, "STAKEFUND_REGISTRY_TIMEOUT")
	setDuration(&cfg.Registry.PendingTTL, "STAKEFUND_REGISTRY_PENDING_TTL")
	setDuration(&cfg.Registry.ResolvedTTL, "STAKEFUND_REGISTRY_RESOLVED_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "STAKEFUND_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "STAKEFUND_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "STAKEFUND_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "STAKEFUND_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "STAKEFUND_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "STAKEFUND_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "STAKEFUND_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "STAKEFUND_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "STAKEFUND_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "STAKEFUND_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "STAKEFUND_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STAKEFUND_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STAKEFUND_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STAKEFUND_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STAKEFUND_REDIS_MAX_RETRIES")
	setInt64(&cfg.Redis.StreamMaxLen, "STAKEFUND_REDIS_STREAM_MAX_LEN")
	setBool(&cfg.Redis.TLSEnabled, "STAKEFUND_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "STAKEFUND_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "STAKEFUND_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "STAKEFUND_S3_REGION")
	setStr(&cfg.S3.Bucket, "STAKEFUND_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "STAKEFUND_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "STAKEFUND_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "STAKEFUND_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "STAKEFUND_S3_FORCE_PATH_STYLE")

	// ── AMQP ──
	setBool(&cfg.AMQP.Enabled, "STAKEFUND_AMQP_ENABLED")
	setStr(&cfg.AMQP.URL, "STAKEFUND_AMQP_URL")
	setStr(&cfg.AMQP.Exchange, "STAKEFUND_AMQP_EXCHANGE")
	setBool(&cfg.AMQP.TLS, "STAKEFUND_AMQP_TLS")

	// ── Payout ──
	setStr(&cfg.Payout.Rail, "STAKEFUND_PAYOUT_RAIL")
	setStr(&cfg.Payout.RPCURL, "STAKEFUND_PAYOUT_RPC_URL")
	setInt64(&cfg.Payout.MaxGasPriceGwei, "STAKEFUND_PAYOUT_MAX_GAS_PRICE_GWEI")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.PollInterval, "STAKEFUND_SCHEDULER_POLL_INTERVAL")
	setDuration(&cfg.Scheduler.SweepInterval, "STAKEFUND_SCHEDULER_SWEEP_INTERVAL")
	setDuration(&cfg.Scheduler.LockTTL, "STAKEFUND_SCHEDULER_LOCK_TTL")
	setStr(&cfg.Scheduler.ArchiveCron, "STAKEFUND_SCHEDULER_ARCHIVE_CRON")
	setInt(&cfg.Scheduler.ArchiveAfterDays, "STAKEFUND_SCHEDULER_ARCHIVE_AFTER_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "STAKEFUND_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "STAKEFUND_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform-assigned port
	setStringSlice(&cfg.Server.CORSOrigins, "STAKEFUND_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "STAKEFUND_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "STAKEFUND_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.AuthWindow, "STAKEFUND_SERVER_AUTH_WINDOW")
	setBool(&cfg.Server.TrustedCallers, "STAKEFUND_SERVER_TRUSTED_CALLERS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "STAKEFUND_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "STAKEFUND_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "STAKEFUND_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "STAKEFUND_NOTIFY_EVENTS")

	// ── Top-level ──
	setBool(&cfg.Metrics.Enabled, "STAKEFUND_METRICS_ENABLED")
	setStr(&cfg.Mode, "STAKEFUND_MODE")
	setStr(&cfg.LogLevel, "STAKEFUND_LOG_LEVEL")
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

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
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
