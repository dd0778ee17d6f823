package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rankpool/internal/config"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Pebble.Dir = t.TempDir()
	return &cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWirePebbleDefaults(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Operator.PrivateKey = testKey

	deps, cleanup, err := Wire(ctx, cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.PoolStore)
	assert.NotNil(t, deps.AnswerStore)
	assert.NotNil(t, deps.AuditStore)
	assert.NotNil(t, deps.Metrics)
	require.NotNil(t, deps.Signer)
	assert.NotEqual(t, common.Address{}, deps.Signer.Address())

	assert.Nil(t, deps.EventBus)
	assert.Nil(t, deps.LockManager)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.Notifier)
	assert.Empty(t, deps.HealthChecks)

	n, err := New(cfg, discard()).buildNode(ctx, deps)
	require.NoError(t, err)
	assert.Empty(t, n.svc.Addresses())
}

func TestWireOptionalPieces(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	cfg.Notify.DiscordWebhookURL = "http://127.0.0.1:1/hook"

	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Metrics)
	assert.Nil(t, deps.Signer)
	assert.NotNil(t, deps.Notifier)
}

func TestWireFailureReleasesStore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Operator.PrivateKey = "zz"

	_, _, err := Wire(ctx, cfg, discard())
	require.Error(t, err)

	// The store directory lock must be released by the failed wiring.
	cfg.Operator.PrivateKey = ""
	_, cleanup, err := Wire(ctx, cfg, discard())
	require.NoError(t, err)
	cleanup()
}

func TestExportAuditNeedsArchive(t *testing.T) {
	cfg := testConfig(t)
	_, err := New(cfg, discard()).ExportAudit(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrArchiveDisabled)
}
