package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.5, cfg.Search.FusionWeight)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, DefaultTextDimensions, cfg.Encoder.Modalities["text"].Dimensions)
	assert.Equal(t, DefaultImageDimensions, cfg.Encoder.Modalities["image"].Dimensions)
	assert.Contains(t, cfg.Encoder.JointPairs, "text>image")
	assert.NotContains(t, cfg.Encoder.JointPairs, "audio>text")
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "omnidex.yaml")
	yaml := `
pipeline:
  workers: 4
  queue_capacity: 16
  max_attempts: 5
  backoff_base: 500ms
  backoff_ceiling: 10s
search:
  fusion_weight: 0.7
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.BackoffBase)
	assert.Equal(t, 0.7, cfg.Search.FusionWeight)
	// Untouched sections keep defaults
	assert.Equal(t, "http", cfg.Encoder.Backend)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Search.FusionWeight, cfg.Search.FusionWeight)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("OMNIDEX_FUSION_WEIGHT", "0.9")
	t.Setenv("OMNIDEX_ENCODER_BACKEND", "static")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Search.FusionWeight)
	assert.Equal(t, "static", cfg.Encoder.Backend)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"fusion weight above 1", func(c *Config) { c.Search.FusionWeight = 1.5 }},
		{"fusion weight negative", func(c *Config) { c.Search.FusionWeight = -0.1 }},
		{"zero queue capacity", func(c *Config) { c.Pipeline.QueueCapacity = 0 }},
		{"zero max attempts", func(c *Config) { c.Pipeline.MaxAttempts = 0 }},
		{"ceiling below base", func(c *Config) { c.Pipeline.BackoffCeiling = c.Pipeline.BackoffBase / 2 }},
		{"unknown backend", func(c *Config) { c.Encoder.Backend = "gpu" }},
		{"bad metric", func(c *Config) { c.Encoder.Modalities["text"] = ModalityConfig{Dimensions: 384, Metric: "dot"} }},
		{"zero dimensions", func(c *Config) { c.Encoder.Modalities["image"] = ModalityConfig{Dimensions: 0, Metric: "cos"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_ClampsWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.Workers = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Pipeline.Workers)

	cfg.Pipeline.Workers = 1000
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 64, cfg.Pipeline.Workers)
}
