package db

import (
	"context"
	"fmt"
)

// Schema. Detailed tables hold raw per-event rows; metrics_archive holds
// compacted hourly and daily buckets. The UNIQUE index on the archive
// makes compaction idempotent: re-running a pass replaces the same
// buckets instead of duplicating them.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS task_metrics (
		task_id       VARCHAR NOT NULL,
		agent_id      VARCHAR NOT NULL,
		ts_ms         BIGINT  NOT NULL,
		duration_ms   BIGINT  NOT NULL,
		outcome       VARCHAR NOT NULL,
		tokens_used   BIGINT  NOT NULL DEFAULT 0,
		files_changed BIGINT  NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_metrics_ts ON task_metrics (ts_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_task_metrics_agent_ts ON task_metrics (agent_id, ts_ms)`,

	`CREATE TABLE IF NOT EXISTS agent_metrics (
		agent_id    VARCHAR NOT NULL,
		ts_ms       BIGINT  NOT NULL,
		metric_kind VARCHAR NOT NULL,
		value       DOUBLE  NOT NULL,
		metadata    VARCHAR
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_metrics_ts ON agent_metrics (ts_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_metrics_scope_ts ON agent_metrics (agent_id, metric_kind, ts_ms)`,

	`CREATE TABLE IF NOT EXISTS swarm_metrics (
		swarm_id    VARCHAR NOT NULL,
		ts_ms       BIGINT  NOT NULL,
		metric_kind VARCHAR NOT NULL,
		value       DOUBLE  NOT NULL,
		metadata    VARCHAR
	)`,
	`CREATE INDEX IF NOT EXISTS idx_swarm_metrics_ts ON swarm_metrics (ts_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_swarm_metrics_scope_ts ON swarm_metrics (swarm_id, metric_kind, ts_ms)`,

	`CREATE TABLE IF NOT EXISTS metrics_archive (
		source_table    VARCHAR NOT NULL,
		scope_id        VARCHAR NOT NULL,
		metric_kind     VARCHAR NOT NULL,
		level           VARCHAR NOT NULL,
		bucket_start_ms BIGINT  NOT NULL,
		bucket_end_ms   BIGINT  NOT NULL,
		sample_count    BIGINT  NOT NULL,
		value_sum       DOUBLE  NOT NULL,
		value_min       DOUBLE  NOT NULL,
		value_max       DOUBLE  NOT NULL,
		sum_squares     DOUBLE  NOT NULL,
		p50             DOUBLE,
		p95             DOUBLE,
		p99             DOUBLE,
		first_ts_ms     BIGINT  NOT NULL,
		last_ts_ms      BIGINT  NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_archive_bucket
		ON metrics_archive (source_table, scope_id, metric_kind, level, bucket_start_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_archive_range ON metrics_archive (source_table, level, bucket_start_ms)`,
}

func (d *DB) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}
