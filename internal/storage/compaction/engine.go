// Package compaction folds aged detailed rows into archive buckets.
//
// A pass runs in two stages. First, for each detailed table, rows older
// than the detailed cutoff are aggregated into hourly buckets and the
// archive write plus detailed delete commit in one transaction, so a
// crash never loses rows that were already removed. Second, hourly
// buckets older than the hourly cutoff roll up into daily buckets;
// percentiles are dropped there because they cannot be rebuilt from
// stored values. Both stages are idempotent: re-running a pass replaces
// the same buckets.
package compaction

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/veyrok/swarmstore/internal/errors"
	"github.com/veyrok/swarmstore/internal/logging"
	"github.com/veyrok/swarmstore/internal/storage/aggregate"
	"github.com/veyrok/swarmstore/internal/storage/config"
	"github.com/veyrok/swarmstore/internal/storage/db"
	"github.com/veyrok/swarmstore/internal/storage/types"
)

// Engine runs compaction passes over the detailed tables.
type Engine struct {
	db  *db.DB
	cfg config.CompactionConfig
	ret config.RetentionConfig

	stats Stats
}

// Stats holds compaction statistics.
type Stats struct {
	PassesCompleted atomic.Int64
	PassesFailed    atomic.Int64
	RowsCompacted   atomic.Int64
	BucketsWritten  atomic.Int64
	BucketsRolledUp atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	PassesCompleted int64
	PassesFailed    int64
	RowsCompacted   int64
	BucketsWritten  int64
	BucketsRolledUp int64
}

// New creates a compaction engine over the given database.
func New(database *db.DB, cfg config.CompactionConfig, ret config.RetentionConfig) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = len(types.DetailedTables())
	}
	return &Engine{db: database, cfg: cfg, ret: ret}
}

// Run executes one full compaction pass relative to now: detailed rows
// into hourly buckets, then aged hourly buckets into daily buckets.
func (e *Engine) Run(ctx context.Context, now time.Time) error {
	log := logging.Component("compaction")
	start := time.Now()

	detailedCutoff := now.Add(-time.Duration(e.ret.DetailedDays) * 24 * time.Hour).UnixMilli()
	hourlyCutoff := now.Add(-time.Duration(e.ret.HourlyDays) * 24 * time.Hour).UnixMilli()

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.cfg.Workers)

	for _, table := range types.DetailedTables() {
		table := table
		eg.Go(func() error {
			return e.compactTable(gctx, table, detailedCutoff)
		})
	}

	if err := eg.Wait(); err != nil {
		e.stats.PassesFailed.Add(1)
		return apperrors.Wrap(err, "compact detailed tables")
	}

	if err := e.rollUp(ctx, hourlyCutoff); err != nil {
		e.stats.PassesFailed.Add(1)
		return apperrors.Wrap(err, "roll up hourly buckets")
	}

	e.stats.PassesCompleted.Add(1)
	log.Info("compaction pass completed",
		"duration", time.Since(start),
		"rows_compacted", e.stats.RowsCompacted.Load(),
		"buckets_written", e.stats.BucketsWritten.Load())
	return nil
}

// compactTable aggregates one table's rows older than cutoffMs into
// hourly archive buckets and removes them, atomically. The scan, the
// archive writes and the delete share one maintenance transaction, so
// the delete covers exactly the rows that were aggregated: a flush
// landing backdated rows concurrently commits either before the scan
// (and gets aggregated) or after the delete (and waits for the next
// pass). Hours that already hold a bucket from an earlier pass are
// merged additively, not overwritten.
func (e *Engine) compactTable(ctx context.Context, table types.Table, cutoffMs int64) error {
	accuracy := 0.0
	if e.cfg.Percentiles {
		accuracy = e.cfg.PercentileAccuracy
	}

	var rows int64
	var buckets []types.ArchiveBucket

	err := e.db.MaintenanceTransaction(ctx, func(tx *sql.Tx) error {
		rows = 0
		grouper := aggregate.NewGrouper(table, types.LevelHourly, accuracy)

		err := db.ForEachRangeTx(ctx, tx, table, types.TimeRange{EndMs: cutoffMs}, types.Filters{}, 0,
			func(r types.Record) error {
				grouper.Add(r)
				rows++
				return nil
			})
		if err != nil {
			return err
		}
		if rows == 0 {
			return nil
		}

		buckets = grouper.Snapshots()
		for i := range buckets {
			b := &buckets[i]
			// Late rows can land in an hour that was already compacted;
			// fold the existing bucket in so the replace conserves its
			// counts. Merging drops the hour's sketch percentiles.
			existing, err := db.ReadArchiveTx(ctx, tx, table, types.LevelHourly,
				types.TimeRange{StartMs: b.BucketStartMs, EndMs: b.BucketEndMs},
				b.ScopeID, b.Kind)
			if err != nil {
				return err
			}
			for j := range existing {
				b.Merge(&existing[j])
			}
			if err := db.UpsertArchiveTx(tx, *b); err != nil {
				return err
			}
		}
		_, err = db.DeleteDetailedBeforeTx(tx, table, cutoffMs)
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return nil
	}

	e.stats.RowsCompacted.Add(rows)
	e.stats.BucketsWritten.Add(int64(len(buckets)))

	logging.Component("compaction").Debug("table compacted",
		"table", table, "rows", rows, "buckets", len(buckets))
	return nil
}

// rollUp merges hourly buckets older than cutoffMs into daily buckets.
// Merged buckets carry no percentiles. Each table rolls up in one
// transaction: the hourly scan, the merge with any daily bucket already
// written for the same day, the daily upsert and the hourly delete
// commit together. Merging with the existing daily bucket keeps late
// hourly buckets (backfilled timestamps, rows aged during downtime)
// additive instead of overwriting the day's earlier counts, and the
// same-transaction delete means every hourly bucket is consumed exactly
// once and never visible alongside its daily roll-up.
func (e *Engine) rollUp(ctx context.Context, cutoffMs int64) error {
	for _, table := range types.DetailedTables() {
		var rolled int64

		err := e.db.MaintenanceTransaction(ctx, func(tx *sql.Tx) error {
			rolled = 0
			hourly, err := db.ReadArchiveTx(ctx, tx, table, types.LevelHourly,
				types.TimeRange{EndMs: cutoffMs}, "", "")
			if err != nil {
				return err
			}
			if len(hourly) == 0 {
				return nil
			}

			// Group by series and daily bucket.
			daily := make(map[string]*types.ArchiveBucket)
			for i := range hourly {
				h := hourly[i]
				dayStart := types.LevelDaily.TruncateMs(h.BucketStartMs)
				k := h.Key() + "/" + time.UnixMilli(dayStart).UTC().Format("2006-01-02")

				d, ok := daily[k]
				if !ok {
					d = &types.ArchiveBucket{
						Table:         h.Table,
						ScopeID:       h.ScopeID,
						Kind:          h.Kind,
						Level:         types.LevelDaily,
						BucketStartMs: dayStart,
						BucketEndMs:   dayStart + types.LevelDaily.Duration().Milliseconds(),
					}
					// A previous pass may have rolled this day up
					// already; fold the existing bucket in so the
					// replace conserves its counts.
					existing, err := db.ReadArchiveTx(ctx, tx, table, types.LevelDaily,
						types.TimeRange{StartMs: d.BucketStartMs, EndMs: d.BucketEndMs},
						h.ScopeID, h.Kind)
					if err != nil {
						return err
					}
					for j := range existing {
						d.Merge(&existing[j])
					}
					daily[k] = d
				}
				d.Merge(&h)
			}

			for _, d := range daily {
				if err := db.UpsertArchiveTx(tx, *d); err != nil {
					return err
				}
			}
			if _, err := db.DeleteArchiveLevelBeforeTx(tx, table, types.LevelHourly, cutoffMs); err != nil {
				return err
			}
			rolled = int64(len(hourly))
			return nil
		})
		if err != nil {
			return err
		}

		e.stats.BucketsRolledUp.Add(rolled)
	}
	return nil
}

// Stats returns a snapshot of compaction statistics.
func (e *Engine) Stats() StatsSnapshot {
	return StatsSnapshot{
		PassesCompleted: e.stats.PassesCompleted.Load(),
		PassesFailed:    e.stats.PassesFailed.Load(),
		RowsCompacted:   e.stats.RowsCompacted.Load(),
		BucketsWritten:  e.stats.BucketsWritten.Load(),
		BucketsRolledUp: e.stats.BucketsRolledUp.Load(),
	}
}
