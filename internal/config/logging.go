package config

import (
	"path/filepath"

	"htmlporter/internal/logging"
)

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`                // debug, info, warn, error
	Format     string          `yaml:"format"`               // json, console
	File       string          `yaml:"file,omitempty"`       // extra output, relative to the workspace
	Categories map[string]bool `yaml:"categories,omitempty"` // Per-category toggles
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Categories not listed are enabled.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// Options converts the config into logging options. A relative File is
// resolved against workspace.
func (c *LoggingConfig) Options(workspace string, verbose bool) logging.Options {
	file := c.File
	if file != "" && !filepath.IsAbs(file) {
		file = filepath.Join(workspace, file)
	}
	return logging.Options{
		Level:      c.Level,
		Format:     c.Format,
		File:       file,
		Categories: c.Categories,
		Verbose:    verbose,
	}
}
