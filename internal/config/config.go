// Package config provides configuration management for proxyman.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Default external controller endpoint used when the core config does not
// name one.
const (
	DefaultAPIHost = "127.0.0.1"
	DefaultAPIPort = 29090
)

// Settings holds the proxyman configuration. The supervised core has its
// own YAML config; this file only configures the manager itself.
type Settings struct {
	Log  LogConfig    `json:"log,omitempty"`
	Core CoreSettings `json:"core,omitempty"`
	API  APISettings  `json:"api,omitempty"`
	Mode string       `json:"mode,omitempty"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level string `json:"level,omitempty"`
}

// CoreSettings selects the core binary and its active config.
type CoreSettings struct {
	Binary  string `json:"binary,omitempty"`
	Config  string `json:"config,omitempty"`
	WorkDir string `json:"work_dir,omitempty"`
}

// APISettings is the fallback external controller endpoint, used when the
// active core config does not declare one.
type APISettings struct {
	Host   string `json:"host,omitempty"`
	Port   int    `json:"port,omitempty"`
	Secret string `json:"secret,omitempty"`
}

// Default returns a default configuration.
func Default() *Settings {
	return &Settings{
		Log: LogConfig{
			Level: "info",
		},
		API: APISettings{
			Host: DefaultAPIHost,
			Port: DefaultAPIPort,
		},
		Mode: "user",
	}
}

// Load reads the configuration from the default path.
func Load() (*Settings, error) {
	return LoadFromPath(Path())
}

// LoadFromPath reads the configuration from a specific path.
func LoadFromPath(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Settings
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault reads the configuration from disk, or returns a default config if not found.
func LoadOrDefault() (*Settings, error) {
	cfg, err := Load()
	if err != nil {
		if _, statErr := os.Stat(Path()); os.IsNotExist(statErr) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the default path.
func (c *Settings) Save() error {
	return c.SaveToPath(Path())
}

// SaveToPath writes the configuration to a specific path.
func (c *Settings) SaveToPath(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// APIHost returns the fallback controller host.
func (c *Settings) APIHost() string {
	if c.API.Host != "" {
		return c.API.Host
	}
	return DefaultAPIHost
}

// APIPort returns the fallback controller port.
func (c *Settings) APIPort() int {
	if c.API.Port > 0 {
		return c.API.Port
	}
	return DefaultAPIPort
}

// GetFormattedConfig returns the configuration as a formatted JSON string.
func (c *Settings) GetFormattedConfig() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
