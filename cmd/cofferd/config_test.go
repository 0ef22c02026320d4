package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/coffer/entitlement"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Engine.TxTimeout)
	assert.Equal(t, int64(50), cfg.Engine.DefaultUnitPrice)
	assert.Equal(t, 1024, cfg.Engine.EngagementQueue)
	assert.Empty(t, cfg.WebhookSecret)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeFile(t, "cofferd.yaml", `
listen: ":9090"
store:
  driver: sqlite
  dsn: /tmp/coffer.db
engine:
  tx_timeout: 2s
  default_unit_price: 80
`)
	t.Setenv("COFFER_ENGINE_DEFAULT_UNIT_PRICE", "120")
	t.Setenv("COFFER_WEBHOOK_SECRET", "gateway-secret")

	cfg, err := loadConfig(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/coffer.db", cfg.Store.DSN)
	assert.Equal(t, 2*time.Second, cfg.Engine.TxTimeout)
	assert.Equal(t, int64(120), cfg.Engine.DefaultUnitPrice)
	assert.Equal(t, "gateway-secret", cfg.WebhookSecret)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		path := writeFile(t, "cofferd.yaml", "store:\n  driver: redis\n")
		_, err := loadConfig(viper.New(), path)
		assert.ErrorContains(t, err, "unknown store driver")
	})

	t.Run("dsn required", func(t *testing.T) {
		path := writeFile(t, "cofferd.yaml", "store:\n  driver: postgres\n")
		_, err := loadConfig(viper.New(), path)
		assert.ErrorContains(t, err, "store.dsn")
	})
}

func TestNewEngineLoadsCatalog(t *testing.T) {
	catalog := writeFile(t, "catalog.yaml", `
units:
  - id: ep-1
    catalog: digital
    price: 25
    locked: true
`)
	t.Chdir(t.TempDir())
	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)
	cfg.CatalogFile = catalog

	ctx := context.Background()
	s, err := openStore(ctx, cfg.Store)
	require.NoError(t, err)

	engine, err := newEngine(cfg, s, prometheus.NewRegistry(), cfg.logger())
	require.NoError(t, err)

	_, err = engine.Credit(ctx, "u1", 100, "pay-1")
	require.NoError(t, err)
	res, err := engine.UnlockUnit(ctx, "u1", entitlement.CatalogDigital, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, int64(75), res.BalanceAfter)
}

func TestMigrateSQLite(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)
	cfg.Store = StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "coffer.db")}

	require.NoError(t, runMigrate(context.Background(), cfg))
	// Migrations are idempotent.
	require.NoError(t, runMigrate(context.Background(), cfg))
}
