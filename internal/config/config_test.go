package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "deferred", cfg.Cache.WriteMode)
	assert.Equal(t, 32, cfg.Executor.MaxJobItems)
	assert.Equal(t, 100, cfg.Statistics.Window)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := `
logging:
  level: debug
executor:
  mode: single
  max_job_items: 8
  abandon_timeout: 5s
cycle:
  interval: 1m
  configurations:
    - name: Default
      requirements:
        - value: PresentValue
          target: PORTFOLIO_NODE:Demo~ROOT
          constraints:
            Currency: USD
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv(EnvMaxJobItems, "16")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "single", cfg.Executor.Mode)
	assert.Equal(t, 16, cfg.Executor.MaxJobItems)
	assert.Equal(t, 5*time.Second, cfg.Executor.AbandonTimeout)
	assert.Equal(t, time.Minute, cfg.Cycle.Interval)
	require.Len(t, cfg.Cycle.Configurations, 1)
	assert.Equal(t, "USD", cfg.Cycle.Configurations[0].Requirements[0].Constraints["Currency"])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"unknown write mode", func(c *Config) { c.Cache.WriteMode = "lazy" }},
		{"redis without addr", func(c *Config) { c.Cache.SharedBackend = "redis" }},
		{"zero job items", func(c *Config) { c.Executor.MaxJobItems = 0 }},
		{"no capacity", func(c *Config) { c.Executor.LocalWorkers = 0 }},
		{"badger without path", func(c *Config) { c.Statistics.Backend = "badger" }},
		{"duplicate configuration", func(c *Config) {
			c.Cycle.Configurations = []CalcConfiguration{{Name: "A"}, {Name: "A"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv(EnvMaxJobItems, "many")
	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
