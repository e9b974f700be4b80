package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFromFile("")
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Stream.HeartbeatSeconds)
	assert.Equal(t, 5, cfg.Stream.MaxReconnect)
	assert.Equal(t, "127.0.0.1:8642", cfg.API.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "data/vault", cfg.Vault.Path)
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
network:
  testnet: true
  secondary_dex: xyz
builder:
  enabled: true
  address: "0xBuilder"
  fee: 30
agent:
  enabled: true
  label: my agent
stream:
  heartbeat_seconds: 15
journal: data/fills.db
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.True(t, cfg.Network.Testnet)
	assert.Equal(t, "xyz", cfg.Network.SecondaryDex)
	assert.True(t, cfg.Builder.Enabled)
	assert.Equal(t, "0xBuilder", cfg.Builder.Address)
	assert.Equal(t, 30, cfg.Builder.Fee)
	assert.Equal(t, "my agent", cfg.Agent.Label)
	assert.Equal(t, 15, cfg.Stream.HeartbeatSeconds)
	// 未配置的项回落到默认值
	assert.Equal(t, 5, cfg.Stream.MaxReconnect)
	assert.Equal(t, "data/fills.db", cfg.Journal)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o644))

	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TESTNET", "true")
	t.Setenv("WALLET_PRIVATE_KEY", "deadbeef")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Network.Testnet)
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)
}

func TestBuilderRequiresAddress(t *testing.T) {
	t.Setenv("BUILDER_ENABLED", "true")
	t.Setenv("BUILDER_ADDRESS", "")
	_, err := LoadFromFile("")
	require.Error(t, err)
}

func TestMissingFileIsTolerated(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
}
