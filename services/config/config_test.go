package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "localhost:9000", cfg.ClickHouse.Addr)
	assert.Equal(t, "quant", cfg.ClickHouse.Database)
	assert.Equal(t, "SSE", cfg.Sync.Exchange)
	assert.Equal(t, "1000000", cfg.Backtest.InitialCash)
	assert.Equal(t, "0.00025", cfg.Backtest.FeeRate)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
clickhouse:
  addr: "ch1:9000"
  database: "markets"
sync:
  close_cron: "0 16 * * 1-5"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "ch1:9000", cfg.ClickHouse.Addr)
	assert.Equal(t, "markets", cfg.ClickHouse.Database)
	assert.Equal(t, "0 16 * * 1-5", cfg.Sync.CloseCron)
	// unset keys still fall back to defaults
	assert.Equal(t, "default", cfg.ClickHouse.User)
	assert.Equal(t, "https://api.tushare.pro", cfg.Vendor.BaseURL)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0o644))
	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("CLICKHOUSE_PASSWORD", "  secret  ")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "secret", cfg.ClickHouse.Password, "env values are trimmed")
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a mapping"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
