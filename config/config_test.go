package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, "127.0.0.1:8547", cfg.ListenAddress)
	require.Contains(t, cfg.Chains, "eth")
	require.Contains(t, cfg.Chains, "btc")
	require.Equal(t, 30*time.Second, cfg.SyncInterval())

	// Loading the created file round-trips.
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[Relay]
BaseURL = "https://relay.example.com"
DeviceID = "device-1"
JWTSecret = "secret"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8547", cfg.ListenAddress)
	require.Equal(t, filepath.Join(filepath.Dir(path), "data"), cfg.DataDir)
	require.Equal(t, filepath.Join(cfg.DataDir, "keys.db"), cfg.KeystorePath)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, filepath.Join(cfg.DataDir, "wallet.db"), cfg.DatabasePath())
}

func TestLoadRejectsIncompleteRelay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[Relay]
BaseURL = "https://relay.example.com"
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "DeviceID")
}

func TestLoadRejectsChainWithoutRPC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[Relay]
BaseURL = "https://relay.example.com"
DeviceID = "device-1"
JWTSecret = "secret"

[Chains.eth]
ChainID = 1
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "RPCURL")
}
