package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the bridge's own configuration, read from adsbridge.yaml.
type AppConfig struct {
	Logging LoggingConfig `yaml:"logging"`

	// ConfigRoots are searched for the ad service config, highest priority
	// first.
	ConfigRoots []string `yaml:"configRoots"`

	// Endpoints maps "bundleName/abilityName" to a dial address.
	Endpoints map[string]string `yaml:"endpoints"`

	// Listen lists the addresses `adsbridge serve` accepts connections on.
	Listen []string `yaml:"listen"`

	// ConnectTimeout bounds connection setup; empty means wait forever.
	ConnectTimeout string `yaml:"connectTimeout"`
}

// LoggingConfig selects the logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`  // debug, info, warn, error
	Format      string `yaml:"format"` // json, console
	Development bool   `yaml:"development"`
}

// DefaultAppConfig returns the defaults used when no file exists.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		ConfigRoots: []string{"/system", "/vendor"},
		Endpoints:   map[string]string{},
		Listen:      []string{"unix:///tmp/adsbridge.sock"},
	}
}

// LoadApp reads path over the defaults. A missing file yields the defaults.
// Environment overrides apply either way.
func LoadApp(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML.
func (c *AppConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *AppConfig) applyEnvOverrides() {
	if level := os.Getenv("ADSBRIDGE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if roots := os.Getenv("ADSBRIDGE_CONFIG_ROOTS"); roots != "" {
		c.ConfigRoots = filepath.SplitList(roots)
	}
}

// GetConnectTimeout returns the parsed connect timeout, zero when unset.
func (c *AppConfig) GetConnectTimeout() time.Duration {
	if c.ConnectTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.ConnectTimeout)
	if err != nil {
		return 0
	}
	return d
}

// Validate checks field formats.
func (c *AppConfig) Validate() error {
	if c.ConnectTimeout != "" {
		if _, err := time.ParseDuration(c.ConnectTimeout); err != nil {
			return fmt.Errorf("invalid connectTimeout %q: %w", c.ConnectTimeout, err)
		}
	}
	for key := range c.Endpoints {
		bundle, ability, ok := strings.Cut(key, "/")
		if !ok || bundle == "" || ability == "" {
			return fmt.Errorf("invalid endpoint key %q: want bundleName/abilityName", key)
		}
	}
	return nil
}

// Locator returns a DirLocator over the configured roots.
func (c *AppConfig) Locator() DirLocator {
	return DirLocator(c.ConfigRoots)
}
