// Package config defines the storage engine configuration.
//
// All settings are optional; DefaultConfig returns sensible defaults and
// Load overlays a YAML document on top of them.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veyrok/swarmstore/config"
)

// Config represents the complete storage configuration.
type Config struct {
	// Store configures the embedded database.
	Store StoreConfig `yaml:"store"`

	// Buffer configures the in-memory write buffer.
	Buffer BufferConfig `yaml:"buffer"`

	// Retention defines how long each tier of data is kept.
	Retention RetentionConfig `yaml:"retention"`

	// Compaction configures the roll-up pass.
	Compaction CompactionConfig `yaml:"compaction"`

	// Query configures the query engine.
	Query QueryConfig `yaml:"query"`

	// Export configures export defaults.
	Export ExportConfig `yaml:"export"`
}

// StoreConfig configures the embedded database.
type StoreConfig struct {
	// Path is the database file. Empty means in-memory (tests).
	Path string `yaml:"path"`

	// MaxOpenConns bounds the connection pool shared by readers and the
	// single writer/compactor.
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the number of idle pooled connections.
	MaxIdleConns int `yaml:"max_idle_conns"`

	// ConnMaxLifetime is the maximum lifetime of a pooled connection.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// QueryTimeout is the default timeout applied to every operation that
	// is not already bounded by its caller's context.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// WriteRetries is the bounded retry count for transient write failures.
	WriteRetries int `yaml:"write_retries"`

	// RetryBaseDelay is the initial backoff before a write retry.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// BufferConfig configures the in-memory write buffer.
type BufferConfig struct {
	// MaxRecords triggers an asynchronous flush when reached.
	MaxRecords int `yaml:"max_records"`

	// FlushInterval triggers a flush when this much time has elapsed since
	// the last one. Bounds the data lost on an ungraceful shutdown.
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// RetentionConfig defines the three-tier retention policy.
type RetentionConfig struct {
	// DetailedDays is how long detailed rows are kept.
	DetailedDays int `yaml:"detailed_days"`

	// HourlyDays is how long hourly aggregates are kept.
	HourlyDays int `yaml:"hourly_days"`

	// DailyDays is the final retention window; older data is purged.
	DailyDays int `yaml:"daily_days"`
}

// CompactionConfig configures the roll-up pass.
type CompactionConfig struct {
	// Interval is the schedule for automatic compaction runs.
	Interval time.Duration `yaml:"interval"`

	// Workers is the number of detailed tables compacted in parallel.
	Workers int `yaml:"workers"`

	// Percentiles enables DDSketch percentile capture in hourly buckets.
	Percentiles bool `yaml:"percentiles"`

	// PercentileAccuracy is the sketch relative accuracy (0.01 = 1%).
	PercentileAccuracy float64 `yaml:"percentile_accuracy"`
}

// QueryConfig configures the query engine.
type QueryConfig struct {
	// Timeout bounds a single query.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows caps result sizes when the caller passes no limit.
	MaxRows int `yaml:"max_rows"`
}

// ExportConfig configures export defaults.
type ExportConfig struct {
	// Format is the default export format: json, csv, prom, parquet.
	Format string `yaml:"format"`

	// Window is the default export time window.
	Window time.Duration `yaml:"window"`

	// Compression is the default stream compression: none, gzip, zstd.
	Compression string `yaml:"compression"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:            config.DefaultDatabasePath,
			MaxOpenConns:    config.DefaultMaxOpenConns,
			MaxIdleConns:    config.DefaultMaxIdleConns,
			ConnMaxLifetime: config.DefaultConnMaxLifetime,
			QueryTimeout:    config.DefaultQueryTimeout,
			WriteRetries:    config.DefaultWriteRetries,
			RetryBaseDelay:  config.DefaultRetryBaseDelay,
		},
		Buffer: BufferConfig{
			MaxRecords:    config.DefaultBufferMaxRecords,
			FlushInterval: config.DefaultFlushInterval,
		},
		Retention: RetentionConfig{
			DetailedDays: config.DefaultDetailedDays,
			HourlyDays:   config.DefaultHourlyDays,
			DailyDays:    config.DefaultDailyDays,
		},
		Compaction: CompactionConfig{
			Interval:           config.DefaultCompactionInterval,
			Workers:            config.DefaultCompactionWorkers,
			Percentiles:        true,
			PercentileAccuracy: config.DefaultPercentileAccuracy,
		},
		Query: QueryConfig{
			Timeout: config.DefaultQueryTimeout,
			MaxRows: config.DefaultQueryMaxRows,
		},
		Export: ExportConfig{
			Format:      "json",
			Window:      24 * time.Hour,
			Compression: "none",
		},
	}
}
