package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Default daemon configuration values
const (
	DefaultWebListen    = "127.0.0.1:8080"
	DefaultEmitInterval = 15 * time.Second
)

// Config holds all configuration for the mcpoold daemon.
type Config struct {
	Node  NodeConfig  `toml:"node"`
	Web   WebConfig   `toml:"web"`
	Pools PoolsConfig `toml:"pools"`
}

// NodeConfig contains basic daemon identification settings.
type NodeConfig struct {
	// Name is a human-readable identifier for this daemon instance
	Name string `toml:"name"`
	// DataDir is the directory where persistent data is stored
	DataDir string `toml:"data_dir"`
}

// WebConfig contains admin API settings.
type WebConfig struct {
	// Enabled controls whether the admin HTTP server is started
	Enabled bool `toml:"enabled"`
	// Listen is the address to bind the admin server to
	Listen string `toml:"listen"`
}

// PoolsConfig contains pool manager settings.
type PoolsConfig struct {
	// Defaults is applied to targets with no stored configuration
	Defaults Pool `toml:"defaults"`
	// EmitInterval is how often per-pool stats are emitted to the metrics sink
	EmitInterval time.Duration `toml:"emit_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".mcpoold")

	return &Config{
		Node: NodeConfig{
			Name:    "mcpoold",
			DataDir: dataDir,
		},
		Web: WebConfig{
			Enabled: true,
			Listen:  DefaultWebListen,
		},
		Pools: PoolsConfig{
			Defaults:     DefaultPool(),
			EmitInterval: DefaultEmitInterval,
		},
	}
}

// LoadConfig reads configuration from a TOML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a TOML file.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Node.Name == "" {
		return errors.New("node.name is required")
	}
	if c.Node.DataDir == "" {
		return errors.New("node.data_dir is required")
	}
	if c.Web.Enabled && c.Web.Listen == "" {
		return errors.New("web.listen is required when web is enabled")
	}
	if c.Pools.EmitInterval <= 0 {
		return errors.New("pools.emit_interval must be positive")
	}
	if err := c.Pools.Defaults.Validate(); err != nil {
		return fmt.Errorf("pools.defaults: %w", err)
	}
	return nil
}

// DataPath returns an absolute path within the data directory.
func (c *Config) DataPath(elem ...string) string {
	parts := append([]string{c.Node.DataDir}, elem...)
	return filepath.Join(parts...)
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.Node.DataDir, 0700)
}
