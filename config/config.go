package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the wallet daemon configuration.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	KeystorePath  string `toml:"KeystorePath"`

	Relay  RelayConfig            `toml:"Relay"`
	Chains map[string]ChainConfig `toml:"Chains"`
	Log    LogConfig              `toml:"Log"`

	// SyncIntervalSeconds drives the maintenance loop: expiry sweeps,
	// confirmation polling and cancellation sync.
	SyncIntervalSeconds int `toml:"SyncIntervalSeconds"`
}

// RelayConfig configures the backend coordination service client.
type RelayConfig struct {
	BaseURL           string  `toml:"BaseURL"`
	DeviceID          string  `toml:"DeviceID"`
	JWTSecret         string  `toml:"JWTSecret"`
	TokenTTLSeconds   int     `toml:"TokenTTLSeconds"`
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
}

// ChainConfig configures one chain adapter.
type ChainConfig struct {
	RPCURL    string `toml:"RPCURL"`
	AuthToken string `toml:"AuthToken"`
	// ChainID applies to EVM networks.
	ChainID uint64 `toml:"ChainID"`
	Symbol  string `toml:"Symbol"`
	// HRP is the bech32 prefix for bitcoin networks.
	HRP         string `toml:"HRP"`
	RPCUser     string `toml:"RPCUser"`
	RPCPassword string `toml:"RPCPassword"`
}

// LogConfig configures structured logging output.
type LogConfig struct {
	Level string `toml:"Level"`
	// File enables rotated file output alongside stdout when set.
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// SyncInterval returns the maintenance loop period.
func (c *Config) SyncInterval() time.Duration {
	if c.SyncIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// DatabasePath returns the wallet database location inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "wallet.db")
}

// Load loads the configuration from the given path, creating a default
// file when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(path, cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(path string, cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = "127.0.0.1:8547"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(path), "data")
	}
	if strings.TrimSpace(cfg.KeystorePath) == "" {
		cfg.KeystorePath = filepath.Join(cfg.DataDir, "keys.db")
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Chains == nil {
		cfg.Chains = map[string]ChainConfig{}
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Relay.BaseURL) == "" {
		return fmt.Errorf("config: Relay.BaseURL is required")
	}
	if strings.TrimSpace(cfg.Relay.DeviceID) == "" {
		return fmt.Errorf("config: Relay.DeviceID is required")
	}
	if strings.TrimSpace(cfg.Relay.JWTSecret) == "" {
		return fmt.Errorf("config: Relay.JWTSecret is required")
	}
	for code, chain := range cfg.Chains {
		if strings.TrimSpace(chain.RPCURL) == "" {
			return fmt.Errorf("config: Chains.%s.RPCURL is required", code)
		}
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:       "127.0.0.1:8547",
		DataDir:             filepath.Join(filepath.Dir(path), "data"),
		SyncIntervalSeconds: 30,
		Relay: RelayConfig{
			BaseURL:           "http://127.0.0.1:8080",
			DeviceID:          "wallet-local",
			JWTSecret:         "change-me",
			TokenTTLSeconds:   60,
			RequestsPerSecond: 10,
		},
		Chains: map[string]ChainConfig{
			"eth": {RPCURL: "http://127.0.0.1:8545", ChainID: 1, Symbol: "ETH"},
			"btc": {RPCURL: "http://127.0.0.1:8332", HRP: "bc"},
		},
		Log: LogConfig{Level: "info", MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 14},
	}
	applyDefaults(path, cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
