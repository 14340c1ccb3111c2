package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	apperrors "github.com/veyrok/swarmstore/internal/errors"
	"github.com/veyrok/swarmstore/internal/storage/types"
)

// InsertTaskMetrics writes a batch of task rows in a single transaction,
// retrying transient failures with jittered backoff.
func (d *DB) InsertTaskMetrics(ctx context.Context, records []types.TaskMetric) error {
	if len(records) == 0 {
		return nil
	}
	return withRetry(ctx, d.cfg.WriteRetries, d.cfg.RetryBaseDelay, func() error {
		return d.MaintenanceTransaction(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.Prepare(`INSERT INTO task_metrics
				(task_id, agent_id, ts_ms, duration_ms, outcome, tokens_used, files_changed)
				VALUES (?, ?, ?, ?, ?, ?, ?)`)
			if err != nil {
				return fmt.Errorf("prepare task insert: %w", err)
			}
			defer stmt.Close()

			for _, r := range records {
				if _, err := stmt.Exec(r.TaskID, r.AgentID, r.TimestampMs,
					r.DurationMs, string(r.Outcome), r.TokensUsed, r.FilesChanged); err != nil {
					return fmt.Errorf("insert task metric: %w", err)
				}
			}
			return nil
		})
	})
}

// InsertAgentMetrics writes a batch of agent rows.
func (d *DB) InsertAgentMetrics(ctx context.Context, records []types.AgentMetric) error {
	if len(records) == 0 {
		return nil
	}
	return withRetry(ctx, d.cfg.WriteRetries, d.cfg.RetryBaseDelay, func() error {
		return d.MaintenanceTransaction(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.Prepare(`INSERT INTO agent_metrics
				(agent_id, ts_ms, metric_kind, value, metadata)
				VALUES (?, ?, ?, ?, ?)`)
			if err != nil {
				return fmt.Errorf("prepare agent insert: %w", err)
			}
			defer stmt.Close()

			for _, r := range records {
				meta, err := encodeMetadata(r.Metadata)
				if err != nil {
					return err
				}
				if _, err := stmt.Exec(r.AgentID, r.TimestampMs, r.Kind, r.Value, meta); err != nil {
					return fmt.Errorf("insert agent metric: %w", err)
				}
			}
			return nil
		})
	})
}

// InsertSwarmMetrics writes a batch of swarm rows.
func (d *DB) InsertSwarmMetrics(ctx context.Context, records []types.SwarmMetric) error {
	if len(records) == 0 {
		return nil
	}
	return withRetry(ctx, d.cfg.WriteRetries, d.cfg.RetryBaseDelay, func() error {
		return d.MaintenanceTransaction(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.Prepare(`INSERT INTO swarm_metrics
				(swarm_id, ts_ms, metric_kind, value, metadata)
				VALUES (?, ?, ?, ?, ?)`)
			if err != nil {
				return fmt.Errorf("prepare swarm insert: %w", err)
			}
			defer stmt.Close()

			for _, r := range records {
				meta, err := encodeMetadata(r.Metadata)
				if err != nil {
					return err
				}
				if _, err := stmt.Exec(r.SwarmID, r.TimestampMs, r.Kind, r.Value, meta); err != nil {
					return fmt.Errorf("insert swarm metric: %w", err)
				}
			}
			return nil
		})
	})
}

// encodeMetadata serializes metadata as a JSON text column. The storage
// layer never interprets the keys; nil maps store as NULL.
func encodeMetadata(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s sql.NullString) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

// UpsertArchiveTx writes one archive bucket within an existing
// transaction, replacing any bucket with the same identity.
func UpsertArchiveTx(tx *sql.Tx, b types.ArchiveBucket) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO metrics_archive
		(source_table, scope_id, metric_kind, level, bucket_start_ms, bucket_end_ms,
		 sample_count, value_sum, value_min, value_max, sum_squares,
		 p50, p95, p99, first_ts_ms, last_ts_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(b.Table), b.ScopeID, b.Kind, string(b.Level),
		b.BucketStartMs, b.BucketEndMs,
		b.Count, b.Sum, b.Min, b.Max, b.SumSquares,
		b.P50, b.P95, b.P99, b.FirstTs, b.LastTs)
	if err != nil {
		return fmt.Errorf("upsert archive bucket: %w", err)
	}
	return nil
}

// DeleteDetailedBeforeTx removes rows older than cutoffMs from a
// detailed table within an existing transaction and reports the count.
func DeleteDetailedBeforeTx(tx *sql.Tx, table types.Table, cutoffMs int64) (int64, error) {
	if !table.IsDetailed() {
		return 0, apperrors.NewUnknownTable(string(table))
	}
	res, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE ts_ms < ?", table), cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteArchiveLevelBeforeTx removes one table's archive buckets of one
// level whose bucket start precedes cutoffMs, within an existing
// transaction. The roll-up commits this together with the daily upserts
// so a bucket is never visible on both levels.
func DeleteArchiveLevelBeforeTx(tx *sql.Tx, table types.Table, level types.Level, cutoffMs int64) (int64, error) {
	res, err := tx.Exec(
		`DELETE FROM metrics_archive WHERE source_table = ? AND level = ? AND bucket_start_ms < ?`,
		string(table), string(level), cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("delete archive level %s for %s: %w", level, table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteArchiveLevelBefore removes archive buckets of one level whose
// bucket start precedes cutoffMs.
func (d *DB) DeleteArchiveLevelBefore(ctx context.Context, level types.Level, cutoffMs int64) (int64, error) {
	if d.isClosed() {
		return 0, apperrors.ErrClosed
	}

	var deleted int64
	err := d.MaintenanceTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM metrics_archive WHERE level = ? AND bucket_start_ms < ?`,
			string(level), cutoffMs)
		if err != nil {
			return fmt.Errorf("delete archive level %s: %w", level, err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// CountBefore reports rows older than cutoffMs in a detailed table.
// Used by retention dry runs.
func (d *DB) CountBefore(ctx context.Context, table types.Table, cutoffMs int64) (int64, error) {
	if !table.IsDetailed() {
		return 0, apperrors.NewUnknownTable(string(table))
	}
	if d.isClosed() {
		return 0, apperrors.ErrClosed
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	var n int64
	err := d.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE ts_ms < ?", table), cutoffMs).Scan(&n)
	return n, mapErr(err)
}

// CountArchiveLevelBefore reports archive buckets of one level older
// than cutoffMs.
func (d *DB) CountArchiveLevelBefore(ctx context.Context, level types.Level, cutoffMs int64) (int64, error) {
	if d.isClosed() {
		return 0, apperrors.ErrClosed
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	var n int64
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM metrics_archive WHERE level = ? AND bucket_start_ms < ?`,
		string(level), cutoffMs).Scan(&n)
	return n, mapErr(err)
}
