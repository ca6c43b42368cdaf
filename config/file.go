package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultPath returns ~/.papercrawl/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".papercrawl", "config.yaml"), nil
}

// Load builds the configuration. The file is path when given, else
// $PAPERCRAWL_CONFIG, else ~/.papercrawl/config.yaml. An explicit path must
// exist; the default file may be missing (not an error). Environment
// overrides are applied last and the result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := true
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		explicit = false
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFile merges the YAML file at path over cfg. Keys absent from the file
// keep their current values.
func (c *Config) loadFile(path string, mustExist bool) error {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if mustExist {
			return fmt.Errorf("config file %s does not exist", path)
		}
		return nil // File doesn't exist -- not an error
	}

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}
