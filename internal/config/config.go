// Package config loads and validates omnidex configuration.
//
// Precedence, lowest to highest:
//  1. Built-in defaults
//  2. Config file (omnidex.yaml in the data dir, or --config path)
//  3. Environment variables (OMNIDEX_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete omnidex configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths" json:"paths"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Encoder  EncoderConfig  `yaml:"encoder" json:"encoder"`
	Search   SearchConfig   `yaml:"search" json:"search"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// PathsConfig configures filesystem locations.
type PathsConfig struct {
	// DataDir holds the content store, indexes, logs and lock file.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// PipelineConfig configures the job queue and worker pool.
type PipelineConfig struct {
	// Workers bounds concurrent job execution. Because encoder calls are
	// the only blocking stage, this is also the cap on concurrent
	// inference load.
	Workers int `yaml:"workers" json:"workers"`

	// QueueCapacity bounds pending jobs; Enqueue beyond it fails with
	// ErrQueueFull (backpressure).
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`

	// MaxAttempts is the retry ceiling for transient failures.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// BackoffBase is the first retry delay; doubles per attempt.
	BackoffBase time.Duration `yaml:"backoff_base" json:"backoff_base"`

	// BackoffCeiling caps the retry delay.
	BackoffCeiling time.Duration `yaml:"backoff_ceiling" json:"backoff_ceiling"`

	// RetentionWindow is how long terminal jobs are kept before the sweep
	// purges them.
	RetentionWindow time.Duration `yaml:"retention_window" json:"retention_window"`

	// FetchRatePerSec limits outbound fetches per second (politeness).
	FetchRatePerSec float64 `yaml:"fetch_rate_per_sec" json:"fetch_rate_per_sec"`

	// PollInterval is how often the dispatcher looks for due jobs.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// ModalityConfig configures one embedding space.
type ModalityConfig struct {
	// Dimensions is the vector dimensionality for this modality's encoder family.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// Metric is the distance metric the encoder family was trained under:
	// "cos" or "l2".
	Metric string `yaml:"metric" json:"metric"`
}

// EncoderConfig configures the encoder gateway.
type EncoderConfig struct {
	// Backend selects the encoder implementation: "http" or "static".
	Backend string `yaml:"backend" json:"backend"`

	// Endpoint is the HTTP inference service base URL (backend=http).
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Timeout is the per-call encoder timeout.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Version tags produced embeddings; bump to re-embed on model change.
	Version string `yaml:"version" json:"version"`

	// CacheSize is the query-embedding LRU size.
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	// Modalities holds per-modality dimensionality and metric.
	// Keys: "text", "image", "audio".
	Modalities map[string]ModalityConfig `yaml:"modalities" json:"modalities"`

	// JointPairs lists cross-modal pairs served by a shared embedding
	// space, as "query>target" (e.g. "text>image"). Same-modality pairs
	// are always configured.
	JointPairs []string `yaml:"joint_pairs" json:"joint_pairs"`
}

// SearchConfig configures the query engine.
type SearchConfig struct {
	// FusionWeight is w in final = w*semantic + (1-w)*keyword. [0,1].
	FusionWeight float64 `yaml:"fusion_weight" json:"fusion_weight"`

	// DefaultLimit is the default k for queries.
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`

	// MaxLimit caps k.
	MaxLimit int `yaml:"max_limit" json:"max_limit"`

	// QueryTimeout is the default caller-facing query deadline.
	QueryTimeout time.Duration `yaml:"query_timeout" json:"query_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Default dimensionalities follow the encoder families the system was
// built against: sentence-encoder text (384), CLIP image (512), CLAP
// audio (512).
const (
	DefaultTextDimensions  = 384
	DefaultImageDimensions = 512
	DefaultAudioDimensions = 512
)

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}

	return &Config{
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		Pipeline: PipelineConfig{
			Workers:         workers,
			QueueCapacity:   1024,
			MaxAttempts:     3,
			BackoffBase:     1 * time.Second,
			BackoffCeiling:  60 * time.Second,
			RetentionWindow: 24 * time.Hour,
			FetchRatePerSec: 1.0,
			PollInterval:    250 * time.Millisecond,
		},
		Encoder: EncoderConfig{
			Backend:   "http",
			Endpoint:  "http://localhost:9920",
			Timeout:   60 * time.Second,
			Version:   "v1",
			CacheSize: 1000,
			Modalities: map[string]ModalityConfig{
				"text":  {Dimensions: DefaultTextDimensions, Metric: "cos"},
				"image": {Dimensions: DefaultImageDimensions, Metric: "cos"},
				"audio": {Dimensions: DefaultAudioDimensions, Metric: "cos"},
			},
			// CLIP-style text/image and CLAP-style text/audio joint spaces.
			// audio>text is deliberately absent: no joint encoder exists.
			JointPairs: []string{"text>image", "text>audio"},
		},
		Search: SearchConfig{
			FusionWeight: 0.5,
			DefaultLimit: 10,
			MaxLimit:     100,
			QueryTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// defaultDataDir returns ~/.omnidex, falling back to the working directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".omnidex"
	}
	return filepath.Join(home, ".omnidex")
}

// Load reads configuration from path (if it exists), applies environment
// overrides, validates, and returns the result. An empty path uses
// <data_dir>/omnidex.yaml.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = filepath.Join(cfg.Paths.DataDir, "omnidex.yaml")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults only
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies OMNIDEX_* environment variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OMNIDEX_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("OMNIDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.Workers = n
		}
	}
	if v := os.Getenv("OMNIDEX_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.MaxAttempts = n
		}
	}
	if v := os.Getenv("OMNIDEX_FUSION_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.FusionWeight = f
		}
	}
	if v := os.Getenv("OMNIDEX_ENCODER_ENDPOINT"); v != "" {
		c.Encoder.Endpoint = v
	}
	if v := os.Getenv("OMNIDEX_ENCODER_BACKEND"); v != "" {
		c.Encoder.Backend = v
	}
	if v := os.Getenv("OMNIDEX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks ranges and clamps soft limits.
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir must not be empty")
	}

	if c.Pipeline.Workers < 1 {
		c.Pipeline.Workers = 1
	}
	if c.Pipeline.Workers > 64 {
		c.Pipeline.Workers = 64
	}
	if c.Pipeline.QueueCapacity < 1 {
		return fmt.Errorf("pipeline.queue_capacity must be positive, got %d", c.Pipeline.QueueCapacity)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be positive, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Pipeline.BackoffBase <= 0 {
		return fmt.Errorf("pipeline.backoff_base must be positive, got %s", c.Pipeline.BackoffBase)
	}
	if c.Pipeline.BackoffCeiling < c.Pipeline.BackoffBase {
		return fmt.Errorf("pipeline.backoff_ceiling %s below backoff_base %s",
			c.Pipeline.BackoffCeiling, c.Pipeline.BackoffBase)
	}
	if c.Pipeline.PollInterval <= 0 {
		c.Pipeline.PollInterval = 250 * time.Millisecond
	}

	if c.Search.FusionWeight < 0 || c.Search.FusionWeight > 1 {
		return fmt.Errorf("search.fusion_weight must be in [0,1], got %g", c.Search.FusionWeight)
	}
	if c.Search.DefaultLimit < 1 {
		c.Search.DefaultLimit = 10
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		c.Search.MaxLimit = c.Search.DefaultLimit
	}

	switch c.Encoder.Backend {
	case "http", "static":
	default:
		return fmt.Errorf("encoder.backend must be http or static, got %q", c.Encoder.Backend)
	}

	for name, m := range c.Encoder.Modalities {
		if name != "text" && name != "image" && name != "audio" {
			return fmt.Errorf("unknown modality %q in encoder.modalities", name)
		}
		if m.Dimensions < 1 {
			return fmt.Errorf("encoder.modalities.%s.dimensions must be positive, got %d", name, m.Dimensions)
		}
		if m.Metric != "cos" && m.Metric != "l2" {
			return fmt.Errorf("encoder.modalities.%s.metric must be cos or l2, got %q", name, m.Metric)
		}
	}

	return nil
}

// Save writes the config as YAML to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
