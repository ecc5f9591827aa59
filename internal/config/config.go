// Package config loads engine and calculation node configuration from YAML
// with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"risk-view-engine/internal/logging"
)

// Environment variables that override file values.
const (
	EnvPostgresDSN   = "VIEWENGINE_POSTGRES_DSN"
	EnvClickhouseDSN = "VIEWENGINE_CLICKHOUSE_DSN"
	EnvRedisAddr     = "VIEWENGINE_REDIS_ADDR"
	EnvLogLevel      = "VIEWENGINE_LOG_LEVEL"
	EnvMetricsAddr   = "VIEWENGINE_METRICS_ADDR"
	EnvMaxJobItems   = "VIEWENGINE_MAX_JOB_ITEMS"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration.
type Config struct {
	Logging     logging.Config   `yaml:"logging"`
	MetricsAddr string           `yaml:"metrics_addr"`
	Storage     StorageConfig    `yaml:"storage"`
	Cache       CacheConfig      `yaml:"cache"`
	Executor    ExecutorConfig   `yaml:"executor"`
	Statistics  StatisticsConfig `yaml:"statistics"`
	Cycle       CycleConfig      `yaml:"cycle"`
	CalcNode    CalcNodeConfig   `yaml:"calc_node"`
}

// StorageConfig selects the source and telemetry backends.
type StorageConfig struct {
	Backend          string `yaml:"backend"` // memory | postgres
	PostgresDSN      string `yaml:"postgres_dsn"`
	PostgresMaxConns int32  `yaml:"postgres_max_conns"` // zero keeps the pgx default
	ClickhouseDSN    string `yaml:"clickhouse_dsn"`     // optional job telemetry
}

// CacheConfig configures the view computation cache.
type CacheConfig struct {
	WriteMode     string        `yaml:"write_mode"`     // immediate | deferred
	QueueSize     int           `yaml:"queue_size"`     // deferred writer queue length
	SharedBackend string        `yaml:"shared_backend"` // memory | redis
	RedisAddr     string        `yaml:"redis_addr"`
	RedisDB       int           `yaml:"redis_db"`
	RedisTTL      time.Duration `yaml:"redis_ttl"` // bounds entries of cycles that never released
}

// ExecutorConfig configures dependency graph execution.
type ExecutorConfig struct {
	Mode           string        `yaml:"mode"` // single | multi
	MaxJobItems    int           `yaml:"max_job_items"`
	LocalWorkers   int           `yaml:"local_workers"`
	RemoteNodes    []string      `yaml:"remote_nodes"` // ws:// endpoints
	AbandonTimeout time.Duration `yaml:"abandon_timeout"`
}

// StatisticsConfig configures function cost statistics.
type StatisticsConfig struct {
	Window        int           `yaml:"window"`
	Backend       string        `yaml:"backend"` // memory | postgres | badger
	BadgerPath    string        `yaml:"badger_path"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// CycleConfig describes what a computation cycle computes.
type CycleConfig struct {
	Interval       time.Duration       `yaml:"interval"` // zero runs once
	Configurations []CalcConfiguration `yaml:"configurations"`
}

// CalcConfiguration is one named set of value requirements.
type CalcConfiguration struct {
	Name         string              `yaml:"name"`
	Requirements []RequirementConfig `yaml:"requirements"`
}

// RequirementConfig is a value requirement in textual form.
type RequirementConfig struct {
	Value       string            `yaml:"value"`
	Target      string            `yaml:"target"` // TYPE:Scheme~Value
	Constraints map[string]string `yaml:"constraints"`
}

// CalcNodeConfig configures a remote calculation node.
type CalcNodeConfig struct {
	NodeID     string `yaml:"node_id"`
	ListenAddr string `yaml:"listen_addr"`
	Workers    int    `yaml:"workers"`
}

// Default returns a configuration that runs entirely in memory.
func Default() *Config {
	return &Config{
		Logging:     logging.DefaultConfig(),
		MetricsAddr: ":9090",
		Storage:     StorageConfig{Backend: "memory"},
		Cache: CacheConfig{
			WriteMode:     "deferred",
			QueueSize:     1024,
			SharedBackend: "memory",
			RedisTTL:      time.Hour,
		},
		Executor: ExecutorConfig{
			Mode:           "multi",
			MaxJobItems:    32,
			LocalWorkers:   4,
			AbandonTimeout: 30 * time.Second,
		},
		Statistics: StatisticsConfig{
			Window:        100,
			Backend:       "memory",
			FlushInterval: time.Minute,
		},
		CalcNode: CalcNodeConfig{
			NodeID:     "calcnode-1",
			ListenAddr: ":8090",
			Workers:    4,
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv(EnvClickhouseDSN); v != "" {
		c.Storage.ClickhouseDSN = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv(EnvMaxJobItems); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvMaxJobItems, v, err)
		}
		c.Executor.MaxJobItems = n
	}
	return nil
}

// Validate checks option values and cross-field requirements.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("%w: storage.postgres_dsn required for postgres backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage.backend %q", ErrInvalidConfig, c.Storage.Backend)
	}

	switch c.Cache.WriteMode {
	case "immediate", "deferred":
	default:
		return fmt.Errorf("%w: unknown cache.write_mode %q", ErrInvalidConfig, c.Cache.WriteMode)
	}
	switch c.Cache.SharedBackend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("%w: cache.redis_addr required for redis shared backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown cache.shared_backend %q", ErrInvalidConfig, c.Cache.SharedBackend)
	}

	switch c.Executor.Mode {
	case "single", "multi":
	default:
		return fmt.Errorf("%w: unknown executor.mode %q", ErrInvalidConfig, c.Executor.Mode)
	}
	if c.Executor.MaxJobItems <= 0 {
		return fmt.Errorf("%w: executor.max_job_items must be positive", ErrInvalidConfig)
	}
	if c.Executor.LocalWorkers <= 0 && len(c.Executor.RemoteNodes) == 0 {
		return fmt.Errorf("%w: no calculation capacity (local_workers=0 and no remote_nodes)", ErrInvalidConfig)
	}

	switch c.Statistics.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("%w: storage.postgres_dsn required for postgres statistics", ErrInvalidConfig)
		}
	case "badger":
		if c.Statistics.BadgerPath == "" {
			return fmt.Errorf("%w: statistics.badger_path required for badger statistics", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown statistics.backend %q", ErrInvalidConfig, c.Statistics.Backend)
	}

	seen := make(map[string]struct{}, len(c.Cycle.Configurations))
	for _, cc := range c.Cycle.Configurations {
		if cc.Name == "" {
			return fmt.Errorf("%w: calculation configuration without name", ErrInvalidConfig)
		}
		if _, dup := seen[cc.Name]; dup {
			return fmt.Errorf("%w: duplicate calculation configuration %q", ErrInvalidConfig, cc.Name)
		}
		seen[cc.Name] = struct{}{}
		for _, r := range cc.Requirements {
			if r.Value == "" || r.Target == "" {
				return fmt.Errorf("%w: configuration %q has incomplete requirement", ErrInvalidConfig, cc.Name)
			}
		}
	}
	return nil
}
