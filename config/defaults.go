// Package config provides configuration defaults for swarmstore.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml.
package config

import "time"

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultDatabasePath is the default embedded database file.
	// One file holds every table, so backup is "copy one file".
	// Override via config: store.path
	DefaultDatabasePath = "swarmstore.db"

	// DefaultMaxOpenConns bounds the handle pool shared by concurrent
	// readers and the single writer/compactor.
	// Override via config: store.max_open_conns
	DefaultMaxOpenConns = 8

	// DefaultMaxIdleConns is the number of idle pooled handles.
	// Override via config: store.max_idle_conns
	DefaultMaxIdleConns = 4

	// DefaultConnMaxLifetime recycles pooled handles after this age.
	// Override via config: store.conn_max_lifetime
	DefaultConnMaxLifetime = 5 * time.Minute

	// DefaultQueryTimeout bounds any single storage operation that the
	// caller has not already bounded. A timed-out operation reports a
	// timeout error rather than hanging the caller.
	// Override via config: store.query_timeout
	DefaultQueryTimeout = 30 * time.Second

	// DefaultWriteRetries is the bounded retry count for transient write
	// failures inside a single write/flush attempt.
	// Override via config: store.write_retries
	DefaultWriteRetries = 3

	// DefaultRetryBaseDelay is the initial jittered backoff before a
	// write retry. Doubles per attempt.
	// Override via config: store.retry_base_delay
	DefaultRetryBaseDelay = 50 * time.Millisecond
)

// =============================================================================
// Write Buffer Defaults
// =============================================================================

const (
	// DefaultBufferMaxRecords triggers an asynchronous flush when the
	// in-memory buffer reaches this many records.
	// Override via config: buffer.max_records
	DefaultBufferMaxRecords = 100

	// DefaultFlushInterval flushes the buffer when this much time has
	// elapsed since the last flush. An ungraceful shutdown loses at most
	// one interval's worth of records.
	// Override via config: buffer.flush_interval
	DefaultFlushInterval = 5 * time.Second
)

// =============================================================================
// Retention Defaults
// =============================================================================

const (
	// DefaultDetailedDays is how long detailed rows are kept before being
	// rolled into hourly aggregates.
	// Override via config: retention.detailed_days
	DefaultDetailedDays = 7

	// DefaultHourlyDays is how long hourly aggregates are kept before
	// being rolled into daily aggregates.
	// Override via config: retention.hourly_days
	DefaultHourlyDays = 30

	// DefaultDailyDays is the final retention window. Data older than this
	// is purged outright, archives included.
	// Override via config: retention.daily_days
	DefaultDailyDays = 90
)

// =============================================================================
// Compaction Defaults
// =============================================================================

const (
	// DefaultCompactionInterval is the schedule for automatic compaction
	// and retention runs. Manual triggering is always available.
	// Override via config: compaction.interval
	DefaultCompactionInterval = 24 * time.Hour

	// DefaultCompactionWorkers is how many detailed tables are compacted
	// in parallel. There are only three detailed tables.
	// Override via config: compaction.workers
	DefaultCompactionWorkers = 3

	// DefaultPercentileAccuracy is the DDSketch relative accuracy used
	// when capturing percentiles into hourly buckets (0.01 = 1% error).
	// Override via config: compaction.percentile_accuracy
	DefaultPercentileAccuracy = 0.01
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultQueryMaxRows caps result sizes when the caller passes no
	// limit, bounding memory.
	// Override via config: query.max_rows
	DefaultQueryMaxRows = 100000
)
