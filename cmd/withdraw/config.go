// config.go - Configuration for the withdraw CLI.
package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Config is the withdraw CLI configuration.
type Config struct {
	// Endpoint of the ledger node, e.g. "http://127.0.0.1:8899".
	Endpoint string `yaml:"endpoint"`

	// KeypairPath points at the signer seed file (JSON byte array).
	KeypairPath string `yaml:"keypair_path"`

	// KeysDir caches the compiled range proof keys.
	KeysDir string `yaml:"keys_dir"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:    "http://127.0.0.1:8899",
		KeypairPath: "keypair.json",
		KeysDir:     "keys",
		LogLevel:    "info",
	}
}

// LoadConfig loads configuration from file, writing the default config there
// first if the file does not exist.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := SaveConfig(cfg, path); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes the configuration to path.
func SaveConfig(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "config directory")
		}
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	return errors.Wrap(os.WriteFile(path, raw, 0o644), "write config")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint must be set")
	}
	if c.KeypairPath == "" {
		return errors.New("keypair_path must be set")
	}
	if c.KeysDir == "" {
		return errors.New("keys_dir must be set")
	}
	return nil
}
