package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies RANKPOOL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known RANKPOOL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.Backend, "RANKPOOL_STORAGE_BACKEND")
	setStr(&cfg.Pebble.Dir, "RANKPOOL_PEBBLE_DIR")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "RANKPOOL_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "RANKPOOL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RANKPOOL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RANKPOOL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RANKPOOL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RANKPOOL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RANKPOOL_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RANKPOOL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RANKPOOL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RANKPOOL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "RANKPOOL_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "RANKPOOL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RANKPOOL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RANKPOOL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RANKPOOL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RANKPOOL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RANKPOOL_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "RANKPOOL_REDIS_CACHE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "RANKPOOL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "RANKPOOL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RANKPOOL_S3_REGION")
	setStr(&cfg.S3.Bucket, "RANKPOOL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RANKPOOL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RANKPOOL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RANKPOOL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RANKPOOL_S3_FORCE_PATH_STYLE")

	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "RANKPOOL_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "RANKPOOL_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "RANKPOOL_OPERATOR_KEY_PASSWORD")
	setStr(&cfg.Operator.APIKey, "RANKPOOL_OPERATOR_API_KEY")

	// ── Protocol ──
	setStr(&cfg.Protocol.Factory, "RANKPOOL_PROTOCOL_FACTORY")
	setInt64(&cfg.Protocol.ChainID, "RANKPOOL_PROTOCOL_CHAIN_ID")
	setStr(&cfg.Protocol.Treasury, "RANKPOOL_PROTOCOL_TREASURY")
	setInt(&cfg.Protocol.ProtocolFeeBps, "RANKPOOL_PROTOCOL_FEE_BPS")
	setInt(&cfg.Protocol.MaxCreatorFeeBps, "RANKPOOL_PROTOCOL_MAX_CREATOR_FEE_BPS")
	setDuration(&cfg.Protocol.DefaultSubmissionTimeout, "RANKPOOL_PROTOCOL_DEFAULT_SUBMISSION_TIMEOUT")
	setInt(&cfg.Protocol.AmountDecimals, "RANKPOOL_PROTOCOL_AMOUNT_DECIMALS")
	setStr(&cfg.Protocol.AmountSymbol, "RANKPOOL_PROTOCOL_AMOUNT_SYMBOL")

	// ── Keeper ──
	setDuration(&cfg.Keeper.Interval, "RANKPOOL_KEEPER_INTERVAL")
	setDuration(&cfg.Keeper.LockTTL, "RANKPOOL_KEEPER_LOCK_TTL")
	setInt(&cfg.Keeper.MaxConcurrency, "RANKPOOL_KEEPER_MAX_CONCURRENCY")
	setBool(&cfg.Keeper.ArchiveReports, "RANKPOOL_KEEPER_ARCHIVE_REPORTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "RANKPOOL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "RANKPOOL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "RANKPOOL_SERVER_CORS_ORIGINS")
	setFloat64(&cfg.Server.RateLimitRPS, "RANKPOOL_SERVER_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateBurst, "RANKPOOL_SERVER_RATE_BURST")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RANKPOOL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RANKPOOL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RANKPOOL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RANKPOOL_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "RANKPOOL_METRICS_ENABLED")
	setStr(&cfg.Metrics.Path, "RANKPOOL_METRICS_PATH")

	// ── Top-level ──
	setStr(&cfg.Mode, "RANKPOOL_MODE")
	setStr(&cfg.LogLevel, "RANKPOOL_LOG_LEVEL")
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
