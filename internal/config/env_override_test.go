package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("PORTER_REGISTRY replaces registry path", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PORTER_REGISTRY", "custom/templates.json")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "custom/templates.json", cfg.RegistryPath)
	})

	t.Run("PORTER_LOG_LEVEL replaces level", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PORTER_LOG_LEVEL", "debug")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("PORTER_DEBOUNCE replaces debounce", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PORTER_DEBOUNCE", "2s")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 2*time.Second, cfg.GetDebounce())
	})

	t.Run("PORTER_MAX_WRITES ignores garbage", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PORTER_MAX_WRITES", "many")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 4, cfg.Propagation.MaxConcurrentWrites)
	})

	t.Run("empty env leaves defaults", func(t *testing.T) {
		clearEnv(t)

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, DefaultConfig(), cfg)
	})
}

func TestLoad_AppliesEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORTER_MAX_WRITES", "9")

	cfg, err := Load(t.TempDir() + "/missing.yaml")
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.GetMaxConcurrentWrites())
}
