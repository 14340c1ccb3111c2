package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	apperrors "github.com/veyrok/swarmstore/internal/errors"
	"github.com/veyrok/swarmstore/internal/storage/types"
)

// validateFilters rejects filters that name columns the table does not
// have, so a typo'd query fails loudly instead of silently matching
// nothing.
func validateFilters(table types.Table, f types.Filters) error {
	switch table {
	case types.TableTaskMetrics:
		if f.SwarmID != "" {
			return apperrors.NewInvalidQuery("swarm_id filter does not apply to task_metrics")
		}
		if f.Kind != "" {
			return apperrors.NewInvalidQuery("metric_kind filter does not apply to task_metrics")
		}
		if f.Outcome != "" && !f.Outcome.Valid() {
			return apperrors.NewInvalidQuery(fmt.Sprintf("unknown outcome %q", f.Outcome))
		}
	case types.TableAgentMetrics:
		if f.TaskID != "" || f.Outcome != "" {
			return apperrors.NewInvalidQuery("task filters do not apply to agent_metrics")
		}
		if f.SwarmID != "" {
			return apperrors.NewInvalidQuery("swarm_id filter does not apply to agent_metrics")
		}
	case types.TableSwarmMetrics:
		if f.TaskID != "" || f.Outcome != "" {
			return apperrors.NewInvalidQuery("task filters do not apply to swarm_metrics")
		}
		if f.AgentID != "" {
			return apperrors.NewInvalidQuery("agent_id filter does not apply to swarm_metrics")
		}
	default:
		return apperrors.NewUnknownTable(string(table))
	}
	return nil
}

// buildWhere assembles the WHERE clause for a detailed-table range read.
func buildWhere(table types.Table, tr types.TimeRange, f types.Filters) (string, []any) {
	var conds []string
	var args []any

	if tr.StartMs > 0 {
		conds = append(conds, "ts_ms >= ?")
		args = append(args, tr.StartMs)
	}
	if tr.EndMs > 0 {
		conds = append(conds, "ts_ms < ?")
		args = append(args, tr.EndMs)
	}

	switch table {
	case types.TableTaskMetrics:
		if f.TaskID != "" {
			conds = append(conds, "task_id = ?")
			args = append(args, f.TaskID)
		}
		if f.AgentID != "" {
			conds = append(conds, "agent_id = ?")
			args = append(args, f.AgentID)
		}
		if f.Outcome != "" {
			conds = append(conds, "outcome = ?")
			args = append(args, string(f.Outcome))
		}
	case types.TableAgentMetrics:
		if f.AgentID != "" {
			conds = append(conds, "agent_id = ?")
			args = append(args, f.AgentID)
		}
		if f.Kind != "" {
			conds = append(conds, "metric_kind = ?")
			args = append(args, f.Kind)
		}
	case types.TableSwarmMetrics:
		if f.SwarmID != "" {
			conds = append(conds, "swarm_id = ?")
			args = append(args, f.SwarmID)
		}
		if f.Kind != "" {
			conds = append(conds, "metric_kind = ?")
			args = append(args, f.Kind)
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func selectColumns(table types.Table) string {
	switch table {
	case types.TableTaskMetrics:
		return "task_id, agent_id, ts_ms, duration_ms, outcome, tokens_used, files_changed"
	case types.TableAgentMetrics:
		return "agent_id, ts_ms, metric_kind, value, metadata"
	default:
		return "swarm_id, ts_ms, metric_kind, value, metadata"
	}
}

func scanRecord(table types.Table, rows *sql.Rows) (types.Record, error) {
	rec := types.Record{Table: table}

	switch table {
	case types.TableTaskMetrics:
		var outcome string
		if err := rows.Scan(&rec.TaskID, &rec.ScopeID, &rec.TimestampMs,
			&rec.DurationMs, &outcome, &rec.TokensUsed, &rec.FilesChanged); err != nil {
			return rec, fmt.Errorf("scan task row: %w", err)
		}
		rec.Outcome = types.Outcome(outcome)
	default:
		var meta sql.NullString
		if err := rows.Scan(&rec.ScopeID, &rec.TimestampMs,
			&rec.Kind, &rec.Value, &meta); err != nil {
			return rec, fmt.Errorf("scan metric row: %w", err)
		}
		m, err := decodeMetadata(meta)
		if err != nil {
			return rec, err
		}
		rec.Metadata = m
	}

	return rec, nil
}

// querier abstracts over the pooled handle and an open transaction, so
// the read primitives can run standalone or inside a snapshot.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func forEachRange(ctx context.Context, qr querier, table types.Table, tr types.TimeRange,
	f types.Filters, limit int64, fn func(types.Record) error) error {
	where, args := buildWhere(table, tr, f)
	q := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY ts_ms", selectColumns(table), table, where)
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := qr.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("query %s: %w", table, mapErr(err))
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(table, rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return mapErr(rows.Err())
}

// ForEachRange streams detailed rows matching the range and filters in
// timestamp order, invoking fn per row. fn returning an error stops the
// scan and propagates the error. limit <= 0 means no limit.
func (d *DB) ForEachRange(ctx context.Context, table types.Table, tr types.TimeRange,
	f types.Filters, limit int64, fn func(types.Record) error) error {
	if !table.IsDetailed() {
		return apperrors.NewUnknownTable(string(table))
	}
	if err := validateFilters(table, f); err != nil {
		return err
	}
	if d.isClosed() {
		return apperrors.ErrClosed
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	return forEachRange(ctx, d.db, table, tr, f, limit, fn)
}

// ForEachRangeTx is ForEachRange within an existing transaction, so the
// rows seen are the ones the transaction will operate on.
func ForEachRangeTx(ctx context.Context, tx *sql.Tx, table types.Table, tr types.TimeRange,
	f types.Filters, limit int64, fn func(types.Record) error) error {
	if !table.IsDetailed() {
		return apperrors.NewUnknownTable(string(table))
	}
	if err := validateFilters(table, f); err != nil {
		return err
	}
	return forEachRange(ctx, tx, table, tr, f, limit, fn)
}

// ReadRange collects matching detailed rows into a slice. Prefer
// ForEachRange for large scans.
func (d *DB) ReadRange(ctx context.Context, table types.Table, tr types.TimeRange,
	f types.Filters, limit int64) ([]types.Record, error) {
	var out []types.Record
	err := d.ForEachRange(ctx, table, tr, f, limit, func(r types.Record) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadArchive returns archive buckets for a source table at the given
// level, ordered by bucket start. Empty scopeID or kind match all.
// A zero level matches both levels.
func (d *DB) ReadArchive(ctx context.Context, table types.Table, level types.Level,
	tr types.TimeRange, scopeID, kind string) ([]types.ArchiveBucket, error) {
	if !table.IsDetailed() {
		return nil, apperrors.NewUnknownTable(string(table))
	}
	if d.isClosed() {
		return nil, apperrors.ErrClosed
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	return readArchive(ctx, d.db, table, level, tr, scopeID, kind)
}

// ReadArchiveTx is ReadArchive within an existing transaction.
func ReadArchiveTx(ctx context.Context, tx *sql.Tx, table types.Table, level types.Level,
	tr types.TimeRange, scopeID, kind string) ([]types.ArchiveBucket, error) {
	if !table.IsDetailed() {
		return nil, apperrors.NewUnknownTable(string(table))
	}
	return readArchive(ctx, tx, table, level, tr, scopeID, kind)
}

func readArchive(ctx context.Context, qr querier, table types.Table, level types.Level,
	tr types.TimeRange, scopeID, kind string) ([]types.ArchiveBucket, error) {
	conds := []string{"source_table = ?"}
	args := []any{string(table)}
	if level != "" {
		conds = append(conds, "level = ?")
		args = append(args, string(level))
	}
	if tr.StartMs > 0 {
		conds = append(conds, "bucket_end_ms > ?")
		args = append(args, tr.StartMs)
	}
	if tr.EndMs > 0 {
		conds = append(conds, "bucket_start_ms < ?")
		args = append(args, tr.EndMs)
	}
	if scopeID != "" {
		conds = append(conds, "scope_id = ?")
		args = append(args, scopeID)
	}
	if kind != "" {
		conds = append(conds, "metric_kind = ?")
		args = append(args, kind)
	}

	q := `SELECT source_table, scope_id, metric_kind, level, bucket_start_ms, bucket_end_ms,
		sample_count, value_sum, value_min, value_max, sum_squares,
		p50, p95, p99, first_ts_ms, last_ts_ms
		FROM metrics_archive WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY bucket_start_ms`

	rows, err := qr.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", mapErr(err))
	}
	defer rows.Close()

	var out []types.ArchiveBucket
	for rows.Next() {
		var b types.ArchiveBucket
		var srcTable, lvl string
		var p50, p95, p99 sql.NullFloat64
		if err := rows.Scan(&srcTable, &b.ScopeID, &b.Kind, &lvl,
			&b.BucketStartMs, &b.BucketEndMs,
			&b.Count, &b.Sum, &b.Min, &b.Max, &b.SumSquares,
			&p50, &p95, &p99, &b.FirstTs, &b.LastTs); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		b.Table = types.Table(srcTable)
		b.Level = types.Level(lvl)
		if p50.Valid && p95.Valid && p99.Valid {
			b.SetPercentiles(p50.Float64, p95.Float64, p99.Float64)
		}
		out = append(out, b)
	}
	return out, mapErr(rows.Err())
}

// valueColumn is the column statistical queries operate on.
func valueColumn(table types.Table) string {
	if table == types.TableTaskMetrics {
		return "duration_ms"
	}
	return "value"
}

// Moments computes count, sum, min, max and sum of squares over the
// matching detailed rows in one SQL pass.
func (d *DB) Moments(ctx context.Context, table types.Table, tr types.TimeRange,
	f types.Filters) (types.ArchiveBucket, error) {
	if !table.IsDetailed() {
		return types.ArchiveBucket{}, apperrors.NewUnknownTable(string(table))
	}
	if err := validateFilters(table, f); err != nil {
		return types.ArchiveBucket{}, err
	}
	if d.isClosed() {
		return types.ArchiveBucket{}, apperrors.ErrClosed
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	return moments(ctx, d.db, table, tr, f)
}

// MomentsTx is Moments within an existing transaction.
func MomentsTx(ctx context.Context, tx *sql.Tx, table types.Table, tr types.TimeRange,
	f types.Filters) (types.ArchiveBucket, error) {
	if !table.IsDetailed() {
		return types.ArchiveBucket{}, apperrors.NewUnknownTable(string(table))
	}
	if err := validateFilters(table, f); err != nil {
		return types.ArchiveBucket{}, err
	}
	return moments(ctx, tx, table, tr, f)
}

func moments(ctx context.Context, qr querier, table types.Table, tr types.TimeRange,
	f types.Filters) (types.ArchiveBucket, error) {
	var out types.ArchiveBucket

	where, args := buildWhere(table, tr, f)
	// duration_ms is a BIGINT; the moment sums cast to DOUBLE so the
	// driver hands back floats instead of HUGEINT.
	col := fmt.Sprintf("CAST(%s AS DOUBLE)", valueColumn(table))
	q := fmt.Sprintf(`SELECT COUNT(*), COALESCE(SUM(%[1]s), 0), COALESCE(MIN(%[1]s), 0),
		COALESCE(MAX(%[1]s), 0), COALESCE(SUM(%[1]s * %[1]s), 0),
		COALESCE(MIN(ts_ms), 0), COALESCE(MAX(ts_ms), 0)
		FROM %[2]s%[3]s`, col, table, where)

	err := qr.QueryRowContext(ctx, q, args...).Scan(
		&out.Count, &out.Sum, &out.Min, &out.Max, &out.SumSquares,
		&out.FirstTs, &out.LastTs)
	if err != nil {
		return out, fmt.Errorf("moments over %s: %w", table, mapErr(err))
	}
	out.Table = table
	return out, nil
}

// TableCounts reports the current row count per table. Used by stats
// reporting and the CLI.
func (d *DB) TableCounts(ctx context.Context) (map[types.Table]int64, error) {
	if d.isClosed() {
		return nil, apperrors.ErrClosed
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	counts := make(map[types.Table]int64, 4)
	for _, t := range []types.Table{types.TableTaskMetrics, types.TableAgentMetrics,
		types.TableSwarmMetrics, types.TableArchive} {
		var n int64
		if err := d.db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT COUNT(*) FROM %s", t)).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", t, mapErr(err))
		}
		counts[t] = n
	}
	return counts, nil
}

// QueryRows runs an ad-hoc read-only statement and returns the column
// names plus every row rendered as strings. Only SELECT statements are
// accepted; NULL renders as "NULL".
func (d *DB) QueryRows(ctx context.Context, stmt string) ([]string, [][]string, error) {
	trimmed := strings.TrimSpace(stmt)
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return nil, nil, apperrors.NewInvalidQuery("only SELECT statements are allowed")
	}
	if d.isClosed() {
		return nil, nil, apperrors.ErrClosed
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, nil, fmt.Errorf("query: %w", mapErr(err))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, mapErr(err)
	}

	var out [][]string
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, mapErr(err)
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			switch t := v.(type) {
			case nil:
				row[i] = "NULL"
			case []byte:
				row[i] = string(t)
			default:
				row[i] = fmt.Sprintf("%v", t)
			}
		}
		out = append(out, row)
	}
	return cols, out, mapErr(rows.Err())
}
