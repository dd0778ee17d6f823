package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Storage.Backend = "sqlite"
	cfg.Protocol.ProtocolFeeBps = 12000
	cfg.Server.Port = 0
	cfg.Operator.EncryptedKeyPath = "key.enc"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, `storage: unknown backend "sqlite"`)
	assert.Contains(t, msg, "protocol_fee_bps must be 0-10000")
	assert.Contains(t, msg, "server: port must be 1-65535")
	assert.Contains(t, msg, "key_password is required")
}

func TestValidatePostgresBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Backend = "postgres"
	require.NoError(t, cfg.Validate())

	cfg.Postgres.Host = ""
	cfg.Postgres.PoolMinConns = 20
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: host must not be empty")
	assert.Contains(t, err.Error(), "pool_min_conns must not exceed pool_max_conns")

	cfg.Postgres.DSN = "postgres://u:p@db:5432/rankpool"
	cfg.Postgres.PoolMinConns = 1
	require.NoError(t, cfg.Validate())
}

func TestValidateKeeperLock(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Enabled = true
	cfg.Keeper.LockTTL = duration{time.Second}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock_ttl must exceed interval")

	cfg.Mode = "server"
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "keeper"

[storage]
backend = "postgres"

[postgres]
dsn = "postgres://localhost/rankpool"

[keeper]
interval = "5s"
max_concurrency = 8

[protocol]
treasury = "0x00000000000000000000000000000000000000d0"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("RANKPOOL_KEEPER_MAX_CONCURRENCY", "2")
	t.Setenv("RANKPOOL_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("RANKPOOL_OPERATOR_API_KEY", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "keeper", cfg.Mode)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, 5*time.Second, cfg.Keeper.Interval.Duration)
	assert.Equal(t, 2, cfg.Keeper.MaxConcurrency)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 250, cfg.Protocol.ProtocolFeeBps, "default kept")
	assert.Equal(t, common.HexToAddress("0xd0"), cfg.TreasuryAddress())

	red := RedactedConfig(cfg)
	assert.Equal(t, "***", red.Operator.APIKey)
	assert.Equal(t, "***", red.Postgres.DSN)
	assert.Equal(t, "secret", cfg.Operator.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
