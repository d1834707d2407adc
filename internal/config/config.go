package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config location relative to the workspace root.
const DefaultPath = ".porter/config.yaml"

// Config holds all htmlporter configuration.
type Config struct {
	// Registry file, relative to the workspace root
	RegistryPath string `yaml:"registry_path"`

	// File extensions accepted as templates and targets
	MarkupExtensions []string `yaml:"markup_extensions"`

	// Change reactor settings
	Watch WatchConfig `yaml:"watch"`

	// Propagation engine settings
	Propagation PropagationConfig `yaml:"propagation"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// WatchConfig configures the change reactor.
type WatchConfig struct {
	// Quiet period before a burst of events on one template is handled
	Debounce string `yaml:"debounce"`
}

// PropagationConfig configures the propagation engine.
type PropagationConfig struct {
	// Upper bound on concurrent target rewrites for one template
	MaxConcurrentWrites int `yaml:"max_concurrent_writes"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		RegistryPath:     ".vscode/htmlTemplates.json",
		MarkupExtensions: []string{".html", ".htm"},
		Watch: WatchConfig{
			Debounce: "250ms",
		},
		Propagation: PropagationConfig{
			MaxConcurrentWrites: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
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

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("PORTER_REGISTRY"); path != "" {
		c.RegistryPath = path
	}
	if level := os.Getenv("PORTER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if d := os.Getenv("PORTER_DEBOUNCE"); d != "" {
		c.Watch.Debounce = d
	}
	if n := os.Getenv("PORTER_MAX_WRITES"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			c.Propagation.MaxConcurrentWrites = v
		}
	}
}

// GetDebounce returns the watch debounce as a duration.
func (c *Config) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d < 0 {
		return 250 * time.Millisecond
	}
	return d
}

// GetMaxConcurrentWrites returns the write limit, never less than one.
func (c *Config) GetMaxConcurrentWrites() int {
	if c.Propagation.MaxConcurrentWrites < 1 {
		return 1
	}
	return c.Propagation.MaxConcurrentWrites
}

// IsMarkup reports whether path has one of the configured markup extensions.
func (c *Config) IsMarkup(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range c.MarkupExtensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RegistryPath == "" {
		return fmt.Errorf("registry_path must not be empty")
	}
	if filepath.IsAbs(filepath.FromSlash(c.RegistryPath)) {
		return fmt.Errorf("registry_path must be relative to the workspace: %s", c.RegistryPath)
	}
	if len(c.MarkupExtensions) == 0 {
		return fmt.Errorf("markup_extensions must list at least one extension")
	}
	for _, e := range c.MarkupExtensions {
		if !strings.HasPrefix(e, ".") {
			return fmt.Errorf("markup extension %q must start with a dot", e)
		}
	}
	if _, err := time.ParseDuration(c.Watch.Debounce); err != nil {
		return fmt.Errorf("invalid watch.debounce %q: %w", c.Watch.Debounce, err)
	}
	return nil
}
