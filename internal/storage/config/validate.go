package config

import (
	apperrors "github.com/veyrok/swarmstore/internal/errors"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	v := apperrors.NewValidationErrors()

	if err := c.Store.Validate(); err != nil {
		v.Add(apperrors.Wrap(err, "store"))
	}
	if err := c.Buffer.Validate(); err != nil {
		v.Add(apperrors.Wrap(err, "buffer"))
	}
	if err := c.Retention.Validate(); err != nil {
		v.Add(apperrors.Wrap(err, "retention"))
	}
	if err := c.Compaction.Validate(); err != nil {
		v.Add(apperrors.Wrap(err, "compaction"))
	}
	if err := c.Query.Validate(); err != nil {
		v.Add(apperrors.Wrap(err, "query"))
	}
	if err := c.Export.Validate(); err != nil {
		v.Add(apperrors.Wrap(err, "export"))
	}

	return v.Err()
}

// Validate checks the store configuration.
func (c *StoreConfig) Validate() error {
	v := apperrors.NewValidationErrors()

	if c.MaxOpenConns <= 0 {
		v.AddField("max_open_conns", "must be positive")
	}
	if c.MaxIdleConns < 0 {
		v.AddField("max_idle_conns", "must be non-negative")
	}
	if c.QueryTimeout <= 0 {
		v.AddField("query_timeout", "must be positive")
	}
	if c.WriteRetries < 0 {
		v.AddField("write_retries", "must be non-negative")
	}
	if c.WriteRetries > 0 && c.RetryBaseDelay <= 0 {
		v.AddField("retry_base_delay", "must be positive when retries are enabled")
	}

	return v.Err()
}

// Validate checks the buffer configuration.
func (c *BufferConfig) Validate() error {
	v := apperrors.NewValidationErrors()

	if c.MaxRecords <= 0 {
		v.AddField("max_records", "must be positive")
	}
	if c.FlushInterval <= 0 {
		v.AddField("flush_interval", "must be positive")
	}

	return v.Err()
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	v := apperrors.NewValidationErrors()

	if c.DetailedDays <= 0 {
		v.AddField("detailed_days", "must be positive")
	}
	if c.HourlyDays <= 0 {
		v.AddField("hourly_days", "must be positive")
	}
	if c.DailyDays <= 0 {
		v.AddField("daily_days", "must be positive")
	}

	// Higher tiers must cover longer windows.
	if c.HourlyDays < c.DetailedDays {
		v.AddField("hourly_days", "must be >= detailed_days")
	}
	if c.DailyDays < c.HourlyDays {
		v.AddField("daily_days", "must be >= hourly_days")
	}

	return v.Err()
}

// Validate checks the compaction configuration.
func (c *CompactionConfig) Validate() error {
	v := apperrors.NewValidationErrors()

	if c.Interval <= 0 {
		v.AddField("interval", "must be positive")
	}
	if c.Workers <= 0 {
		v.AddField("workers", "must be positive")
	}
	if c.Percentiles && (c.PercentileAccuracy <= 0 || c.PercentileAccuracy > 1) {
		v.AddField("percentile_accuracy", "must be between 0 and 1")
	}

	return v.Err()
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	v := apperrors.NewValidationErrors()

	if c.Timeout <= 0 {
		v.AddField("timeout", "must be positive")
	}
	if c.MaxRows <= 0 {
		v.AddField("max_rows", "must be positive")
	}

	return v.Err()
}

// Validate checks the export configuration.
func (c *ExportConfig) Validate() error {
	v := apperrors.NewValidationErrors()

	switch c.Format {
	case "", "json", "csv", "prom", "parquet":
	default:
		v.AddField("format", "must be one of: json, csv, prom, parquet")
	}

	switch c.Compression {
	case "", "none", "gzip", "zstd":
	default:
		v.AddField("compression", "must be one of: none, gzip, zstd")
	}

	if c.Window < 0 {
		v.AddField("window", "must be non-negative")
	}

	return v.Err()
}
