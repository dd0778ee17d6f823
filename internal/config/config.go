// Package config defines the top-level configuration for the rankpool engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by RANKPOOL_* environment variables.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Pebble   PebbleConfig   `toml:"pebble"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Operator OperatorConfig `toml:"operator"`
	Protocol ProtocolConfig `toml:"protocol"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// StorageConfig selects the pool snapshot backend.
type StorageConfig struct {
	// Backend is "postgres" or "pebble".
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// PebbleConfig holds the embedded store location.
type PebbleConfig struct {
	Dir string `toml:"dir"`
}

// RedisConfig holds Redis connection parameters. Without Redis the snapshot
// cache, event bus and keeper lock are skipped.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	CacheTTL   duration `toml:"cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters for settlement
// reports.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OperatorConfig holds the key that signs settlement reports and the API key
// that guards operator-only endpoints.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	APIKey           string `toml:"api_key"`
}

// ProtocolConfig holds the parameters every pool created by this node shares.
type ProtocolConfig struct {
	Factory                  string   `toml:"factory"`
	ChainID                  int64    `toml:"chain_id"`
	Treasury                 string   `toml:"treasury"`
	ProtocolFeeBps           int      `toml:"protocol_fee_bps"`
	MaxCreatorFeeBps         int      `toml:"max_creator_fee_bps"`
	DefaultSubmissionTimeout duration `toml:"default_submission_timeout"`
	// AmountDecimals is used only to render amounts for humans.
	AmountDecimals int    `toml:"amount_decimals"`
	AmountSymbol   string `toml:"amount_symbol"`
}

// KeeperConfig holds the settlement keeper parameters.
type KeeperConfig struct {
	Interval       duration `toml:"interval"`
	LockTTL        duration `toml:"lock_ttl"`
	MaxConcurrency int      `toml:"max_concurrency"`
	ArchiveReports bool     `toml:"archive_reports"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled      bool     `toml:"enabled"`
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	RateLimitRPS float64  `toml:"rate_limit_rps"`
	RateBurst    int      `toml:"rate_burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{Backend: "pebble"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "rankpool",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Pebble: PebbleConfig{Dir: "data/pebble"},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			CacheTTL:   duration{10 * time.Minute},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "rankpool-reports",
			ForcePathStyle: true,
		},
		Protocol: ProtocolConfig{
			Factory:                  "0x00000000000000000000000000000000000fac70",
			ChainID:                  1,
			ProtocolFeeBps:           250,
			MaxCreatorFeeBps:         2000,
			DefaultSubmissionTimeout: duration{24 * time.Hour},
			AmountDecimals:           18,
			AmountSymbol:             "ETH",
		},
		Keeper: KeeperConfig{
			Interval:       duration{30 * time.Second},
			LockTTL:        duration{2 * time.Minute},
			MaxConcurrency: 4,
			ArchiveReports: true,
		},
		Server: ServerConfig{
			Enabled:      true,
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitRPS: 20,
			RateBurst:    40,
		},
		Notify: NotifyConfig{
			Events: []string{"pool_created", "results_available", "claim_open", "pool_settled"},
		},
		Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"keeper": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, keeper, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch c.Storage.Backend {
	case "postgres":
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	case "pebble":
		if c.Pebble.Dir == "" {
			errs = append(errs, "pebble: dir must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: postgres, pebble)", c.Storage.Backend))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
		errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
	}
	if c.S3.Enabled && c.Keeper.ArchiveReports && c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
		errs = append(errs, "operator: private_key or encrypted_key_path is required to sign archived reports")
	}

	if !common.IsHexAddress(c.Protocol.Factory) {
		errs = append(errs, fmt.Sprintf("protocol: factory %q is not an address", c.Protocol.Factory))
	}
	if c.Protocol.ChainID <= 0 {
		errs = append(errs, fmt.Sprintf("protocol: chain_id must be positive, got %d", c.Protocol.ChainID))
	}
	if c.Protocol.Treasury != "" && !common.IsHexAddress(c.Protocol.Treasury) {
		errs = append(errs, fmt.Sprintf("protocol: treasury %q is not an address", c.Protocol.Treasury))
	}
	if c.Protocol.ProtocolFeeBps < 0 || c.Protocol.ProtocolFeeBps > 10000 {
		errs = append(errs, fmt.Sprintf("protocol: protocol_fee_bps must be 0-10000, got %d", c.Protocol.ProtocolFeeBps))
	}
	if c.Protocol.MaxCreatorFeeBps < 0 || c.Protocol.ProtocolFeeBps+c.Protocol.MaxCreatorFeeBps > 10000 {
		errs = append(errs, "protocol: protocol_fee_bps + max_creator_fee_bps must not exceed 10000")
	}
	if c.Protocol.DefaultSubmissionTimeout.Duration <= 0 {
		errs = append(errs, "protocol: default_submission_timeout must be > 0")
	}
	if c.Protocol.AmountDecimals < 0 || c.Protocol.AmountDecimals > 36 {
		errs = append(errs, "protocol: amount_decimals must be 0-36")
	}

	if c.Mode == "keeper" || c.Mode == "full" {
		if c.Keeper.Interval.Duration <= 0 {
			errs = append(errs, "keeper: interval must be > 0")
		}
		if c.Keeper.MaxConcurrency < 1 {
			errs = append(errs, "keeper: max_concurrency must be >= 1")
		}
		if c.Redis.Enabled && c.Keeper.LockTTL.Duration <= c.Keeper.Interval.Duration {
			errs = append(errs, "keeper: lock_ttl must exceed interval")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitRPS < 0 || (c.Server.RateLimitRPS > 0 && c.Server.RateBurst < 1) {
			errs = append(errs, "server: rate_burst must be >= 1 when rate_limit_rps is set")
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Sprintf("metrics: path must start with /, got %q", c.Metrics.Path))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// TreasuryAddress returns the configured treasury, or the zero address.
func (c *Config) TreasuryAddress() common.Address {
	return common.HexToAddress(c.Protocol.Treasury)
}

// FactoryAddress returns the address pool addresses are derived from.
func (c *Config) FactoryAddress() common.Address {
	return common.HexToAddress(c.Protocol.Factory)
}
