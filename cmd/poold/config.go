// config.go - Daemon configuration.
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"shieldedpool/internal/merkle"
	"shieldedpool/internal/pool"
)

// Config is the on-disk daemon configuration. Identities are
// hex-encoded 32-byte values.
type Config struct {
	// Network
	ListenAddr string `json:"listen_addr"`

	// Pool settings
	TreeHeight        uint8  `json:"tree_height"`
	NullifierCapacity int    `json:"nullifier_capacity"`
	CircuitName       string `json:"circuit_name"`
	CircuitVersion    string `json:"circuit_version"`

	// Capabilities
	Authority        string `json:"authority"`
	SettlementCaller string `json:"settlement_caller"`

	// File paths
	DataDir string `json:"data_dir"`

	// Logging
	LogLevel string `json:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:        "127.0.0.1:8650",
		TreeHeight:        pool.DefaultTreeHeight,
		NullifierCapacity: 0,
		CircuitName:       pool.DefaultCircuit,
		CircuitVersion:    pool.DefaultCircuitVersion,
		Authority:         hex.EncodeToString(make([]byte, 32)),
		SettlementCaller:  hex.EncodeToString(make([]byte, 32)),
		DataDir:           "data",
		LogLevel:          "info",
	}
}

// LoadConfig loads the configuration from file, writing the default
// configuration first if the file does not exist.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		var config Config
		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return &config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves the configuration to file.
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if c.TreeHeight == 0 || c.TreeHeight > merkle.MaxHeight {
		return fmt.Errorf("tree_height must be between 1 and %d", merkle.MaxHeight)
	}
	if c.NullifierCapacity < 0 {
		return fmt.Errorf("nullifier_capacity must not be negative")
	}
	if c.CircuitName == "" || c.CircuitVersion == "" {
		return fmt.Errorf("circuit_name and circuit_version must be set")
	}
	if _, err := c.identity(c.Authority); err != nil {
		return fmt.Errorf("authority: %w", err)
	}
	if _, err := c.identity(c.SettlementCaller); err != nil {
		return fmt.Errorf("settlement_caller: %w", err)
	}
	return nil
}

// AuthorityIdentity decodes the configured authority.
func (c *Config) AuthorityIdentity() (pool.Identity, error) {
	return c.identity(c.Authority)
}

// SettlementIdentity decodes the configured settlement caller.
func (c *Config) SettlementIdentity() (pool.Identity, error) {
	return c.identity(c.SettlementCaller)
}

func (c *Config) identity(s string) (pool.Identity, error) {
	var id pool.Identity
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("identity is not valid hex: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("identity must be %d bytes", len(id))
	}
	copy(id[:], b)
	return id, nil
}
