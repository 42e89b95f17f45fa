// Package config provides configuration management for VPN Dialer.
// It handles loading, saving, and validating application settings.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-dialer/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// Profile is the name of the single connection this application dials.
	// For NetworkManager it is the connection id; for OpenVPN it is a label.
	Profile string `yaml:"profile"`
	// Backend selects the transport: "networkmanager" or "openvpn".
	Backend string `yaml:"backend"`
	// OpenVPN holds settings used only by the openvpn backend.
	OpenVPN OpenVPNConfig `yaml:"openvpn"`
	// TickInterval is how often elapsed time and throughput refresh.
	TickInterval time.Duration `yaml:"tick_interval"`
	// ConnectTimeout bounds a single connect attempt. Zero leaves timeouts to the transport.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// ShowNotifications enables desktop notifications for connection events.
	ShowNotifications bool `yaml:"show_notifications"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// Frontend selects the UI shell: "tui", "tray" or "headless".
	Frontend string `yaml:"frontend"`
}

// OpenVPNConfig configures the openvpn process backend.
type OpenVPNConfig struct {
	// ConfigPath is the path to the OpenVPN configuration file.
	ConfigPath string `yaml:"config_path"`
	// Username is the optional username for authentication.
	Username string `yaml:"username,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend:           common.BackendNetworkManager,
		TickInterval:      common.TickInterval,
		ShowNotifications: true,
		LogLevel:          "info",
		Frontend:          common.FrontendTUI,
	}
}

// Load loads the configuration from the default config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom loads the configuration from path, writing defaults there when missing.
func LoadFrom(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.SaveTo(configPath); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML configuration on top of the defaults and validates it.
// Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: error parsing configuration: %v", common.ErrConfigLoad, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verifies that configuration values are valid.
// Out-of-range intervals are normalized instead of rejected.
func (c *Config) Validate() error {
	c.Profile = strings.TrimSpace(c.Profile)
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.Frontend = strings.ToLower(strings.TrimSpace(c.Frontend))

	if c.Backend == "" {
		c.Backend = common.BackendNetworkManager
	}
	if c.Frontend == "" {
		c.Frontend = common.FrontendTUI
	}
	if c.TickInterval <= 0 {
		c.TickInterval = common.TickInterval
	}
	if c.ConnectTimeout < 0 {
		c.ConnectTimeout = 0
	}

	switch c.Backend {
	case common.BackendNetworkManager:
	case common.BackendOpenVPN:
		if c.OpenVPN.ConfigPath == "" {
			return fmt.Errorf("%w: openvpn.config_path is required for the openvpn backend", common.ErrInvalidConfig)
		}
		if err := ValidateOpenVPNFile(c.OpenVPN.ConfigPath); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", common.ErrInvalidConfig, c.Backend)
	}

	switch c.Frontend {
	case common.FrontendTUI, common.FrontendTray, common.FrontendHeadless:
	default:
		return fmt.Errorf("%w: unknown frontend %q", common.ErrInvalidConfig, c.Frontend)
	}

	if _, err := common.ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// RequireProfile reports an error when no connection profile is configured.
func (c *Config) RequireProfile() error {
	if c.Profile == "" {
		return fmt.Errorf("%w: no connection profile configured; set \"profile\" in %s", common.ErrInvalidConfig, common.ConfigFileName)
	}
	return nil
}

// Save saves the configuration to the default file.
func (c *Config) Save() error {
	configPath, err := Path()
	if err != nil {
		return err
	}
	return c.SaveTo(configPath)
}

// SaveTo saves the configuration to configPath.
func (c *Config) SaveTo(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("%w: error creating config directory: %v", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: error serializing configuration: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	return nil
}

// Path returns the location of the configuration file.
func Path() (string, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, common.ConfigFileName), nil
}

// ValidateOpenVPNFile checks if the given file looks like an OpenVPN client configuration.
func ValidateOpenVPNFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: openvpn config not found: %v", common.ErrInvalidConfig, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%w: openvpn config %s is a directory", common.ErrInvalidConfig, path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ovpn" && ext != ".conf" {
		return fmt.Errorf("%w: expected .ovpn or .conf extension", common.ErrInvalidConfig)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: failed to read openvpn config: %v", common.ErrInvalidConfig, err)
	}

	content := string(data)
	for _, directive := range []string{"remote", "client"} {
		if strings.Contains(content, directive) {
			return nil
		}
	}

	return fmt.Errorf("%w: missing required OpenVPN directives", common.ErrInvalidConfig)
}
