// Package query answers statistical questions over stored metrics.
//
// Queries inside the detailed window are exact. Ranges that reach past
// the detailed window are answered by merging detailed moments with
// archive buckets; such results carry Approximate=true. Malformed
// queries fail immediately with the invalid-query taxonomy instead of
// silently matching nothing.
package query

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sort"
	"sync/atomic"

	apperrors "github.com/veyrok/swarmstore/internal/errors"
	"github.com/veyrok/swarmstore/internal/storage/config"
	"github.com/veyrok/swarmstore/internal/storage/db"
	"github.com/veyrok/swarmstore/internal/storage/types"
)

// AggFn names an aggregation function.
type AggFn string

const (
	AggAvg    AggFn = "avg"
	AggSum    AggFn = "sum"
	AggCount  AggFn = "count"
	AggMin    AggFn = "min"
	AggMax    AggFn = "max"
	AggStddev AggFn = "stddev"
)

// ParseAggFn converts an aggregation name into an AggFn.
func ParseAggFn(s string) (AggFn, error) {
	switch AggFn(s) {
	case AggAvg, AggSum, AggCount, AggMin, AggMax, AggStddev:
		return AggFn(s), nil
	default:
		return "", apperrors.NewUnknownAggregation(s)
	}
}

// Query selects detailed rows.
type Query struct {
	Table   types.Table
	Filters types.Filters
	Range   types.TimeRange

	// Metadata holds equality predicates over metadata keys. The
	// storage layer stores metadata opaquely, so these apply after the
	// scan.
	Metadata map[string]string

	// Limit caps the result; 0 uses the configured maximum.
	Limit int64
}

// Result is the outcome of a statistical query. Value is nil when no
// samples matched and the function has no meaningful zero (avg, stddev,
// percentile); it is never NaN.
type Result struct {
	Count       int64
	Value       *float64
	Approximate bool
}

// Ranking is one entry of a TopN result.
type Ranking struct {
	ScopeID     string
	Count       int64
	Value       float64
	Approximate bool
}

// Service executes queries against the database.
type Service struct {
	db  *db.DB
	cfg config.QueryConfig

	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted atomic.Int64
	QueriesRejected atomic.Int64
	RowsScanned     atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	QueriesExecuted int64
	QueriesRejected int64
	RowsScanned     int64
}

// New creates a query service.
func New(database *db.DB, cfg config.QueryConfig) *Service {
	return &Service{db: database, cfg: cfg}
}

func (s *Service) limit(requested int64) int64 {
	if requested > 0 && requested < int64(s.cfg.MaxRows) {
		return requested
	}
	return int64(s.cfg.MaxRows)
}

// matchMetadata applies the post-scan metadata predicates.
func matchMetadata(r *types.Record, want map[string]string) bool {
	for k, v := range want {
		if r.Metadata[k] != v {
			return false
		}
	}
	return true
}

// GetRecords returns detailed rows matching the query in timestamp
// order.
func (s *Service) GetRecords(ctx context.Context, q Query) ([]types.Record, error) {
	if !q.Table.IsDetailed() {
		s.stats.QueriesRejected.Add(1)
		return nil, apperrors.NewUnknownTable(string(q.Table))
	}

	limit := s.limit(q.Limit)
	var out []types.Record

	// Metadata predicates filter after the scan, so the row limit
	// applies to matched rows, not scanned rows.
	scanLimit := limit
	if len(q.Metadata) > 0 {
		scanLimit = 0
	}

	err := s.db.ForEachRange(ctx, q.Table, q.Range, q.Filters, scanLimit, func(r types.Record) error {
		s.stats.RowsScanned.Add(1)
		if !matchMetadata(&r, q.Metadata) {
			return nil
		}
		out = append(out, r)
		if int64(len(out)) >= limit {
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		if apperrors.IsInvalidQuery(err) {
			s.stats.QueriesRejected.Add(1)
		}
		return nil, err
	}

	s.stats.QueriesExecuted.Add(1)
	return out, nil
}

// errStopScan terminates a streaming scan early. Never escapes this
// package.
var errStopScan = errors.New("stop scan")

// Aggregate computes fn over the matching rows. Detailed rows are
// aggregated in SQL; archive buckets overlapping the range are merged in,
// marking the result approximate.
func (s *Service) Aggregate(ctx context.Context, q Query, fn AggFn) (Result, error) {
	if _, err := ParseAggFn(string(fn)); err != nil {
		s.stats.QueriesRejected.Add(1)
		return Result{}, err
	}
	if !q.Table.IsDetailed() {
		s.stats.QueriesRejected.Add(1)
		return Result{}, apperrors.NewUnknownTable(string(q.Table))
	}

	var moments types.ArchiveBucket
	var buckets []types.ArchiveBucket

	// Detailed and archive slices read under one snapshot, so a
	// compaction pass committing mid-query cannot contribute the same
	// samples to both sides.
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if len(q.Metadata) == 0 {
			m, err := db.MomentsTx(ctx, tx, q.Table, q.Range, q.Filters)
			if err != nil {
				return err
			}
			moments = m
		} else {
			// Metadata predicates force a row scan.
			err := db.ForEachRangeTx(ctx, tx, q.Table, q.Range, q.Filters, 0, func(r types.Record) error {
				s.stats.RowsScanned.Add(1)
				if !matchMetadata(&r, q.Metadata) {
					return nil
				}
				addToMoments(&moments, r.MetricValue(), r.TimestampMs)
				return nil
			})
			if err != nil {
				return err
			}
		}

		var err error
		buckets, err = s.archiveForQuery(ctx, tx, q)
		return err
	})
	if err != nil {
		if apperrors.IsInvalidQuery(err) {
			s.stats.QueriesRejected.Add(1)
		}
		return Result{}, err
	}

	approximate := false
	for i := range buckets {
		moments.Merge(&buckets[i])
		approximate = true
	}

	s.stats.QueriesExecuted.Add(1)
	return evalMoments(&moments, fn, approximate), nil
}

// archiveForQuery returns archive buckets overlapping the query range.
// Metadata predicates cannot be applied to buckets, so queries carrying
// them skip the archive and stay exact over the detailed slice.
func (s *Service) archiveForQuery(ctx context.Context, tx *sql.Tx, q Query) ([]types.ArchiveBucket, error) {
	if len(q.Metadata) > 0 {
		return nil, nil
	}
	scopeID := q.Filters.AgentID
	if q.Table == types.TableSwarmMetrics {
		scopeID = q.Filters.SwarmID
	}
	kind := q.Filters.Kind
	if q.Table == types.TableTaskMetrics {
		kind = "duration"
	}
	// Task-only filters (task_id, outcome) have no archive-side
	// representation either.
	if q.Filters.TaskID != "" || q.Filters.Outcome != "" {
		return nil, nil
	}
	return db.ReadArchiveTx(ctx, tx, q.Table, "", q.Range, scopeID, kind)
}

func addToMoments(m *types.ArchiveBucket, value float64, tsMs int64) {
	if m.Count == 0 {
		m.Min = value
		m.Max = value
		m.FirstTs = tsMs
		m.LastTs = tsMs
	} else {
		if value < m.Min {
			m.Min = value
		}
		if value > m.Max {
			m.Max = value
		}
		if tsMs < m.FirstTs {
			m.FirstTs = tsMs
		}
		if tsMs > m.LastTs {
			m.LastTs = tsMs
		}
	}
	m.Count++
	m.Sum += value
	m.SumSquares += value * value
}

func evalMoments(m *types.ArchiveBucket, fn AggFn, approximate bool) Result {
	res := Result{Count: m.Count, Approximate: approximate && m.Count > 0}

	f := func(v float64) *float64 { return &v }

	switch fn {
	case AggCount:
		res.Value = f(float64(m.Count))
	case AggSum:
		res.Value = f(m.Sum)
	case AggAvg:
		if m.Count > 0 {
			res.Value = f(m.Mean())
		}
	case AggMin:
		if m.Count > 0 {
			res.Value = f(m.Min)
		}
	case AggMax:
		if m.Count > 0 {
			res.Value = f(m.Max)
		}
	case AggStddev:
		if m.Count > 0 {
			res.Value = f(m.Stddev())
		}
	}
	return res
}

// Percentile computes the p-quantile (0 < p < 1) of the matching values.
// The detailed slice is exact: values are collected, sorted and linearly
// interpolated. Archive buckets produce count-weighted estimates and
// flag the result approximate.
func (s *Service) Percentile(ctx context.Context, q Query, p float64) (Result, error) {
	if p <= 0 || p >= 1 {
		s.stats.QueriesRejected.Add(1)
		return Result{}, apperrors.NewInvalidQuery("percentile must be in (0, 1)")
	}
	if !q.Table.IsDetailed() {
		s.stats.QueriesRejected.Add(1)
		return Result{}, apperrors.NewUnknownTable(string(q.Table))
	}

	var values []float64
	var buckets []types.ArchiveBucket
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		err := db.ForEachRangeTx(ctx, tx, q.Table, q.Range, q.Filters, 0, func(r types.Record) error {
			s.stats.RowsScanned.Add(1)
			if !matchMetadata(&r, q.Metadata) {
				return nil
			}
			values = append(values, r.MetricValue())
			return nil
		})
		if err != nil {
			return err
		}
		buckets, err = s.archiveForQuery(ctx, tx, q)
		return err
	})
	if err != nil {
		if apperrors.IsInvalidQuery(err) {
			s.stats.QueriesRejected.Add(1)
		}
		return Result{}, err
	}

	detCount := int64(len(values))
	var archCount int64
	for i := range buckets {
		archCount += buckets[i].Count
	}

	total := detCount + archCount
	if total == 0 {
		s.stats.QueriesExecuted.Add(1)
		return Result{}, nil
	}

	var exact float64
	if detCount > 0 {
		sort.Float64s(values)
		exact = quantile(values, p)
	}

	s.stats.QueriesExecuted.Add(1)

	if archCount == 0 {
		return Result{Count: detCount, Value: &exact}, nil
	}

	// Blend the exact detailed quantile with per-bucket estimates,
	// weighted by sample counts.
	blended := exact * float64(detCount)
	for i := range buckets {
		blended += buckets[i].EstimateQuantile(p) * float64(buckets[i].Count)
	}
	blended /= float64(total)

	return Result{Count: total, Value: &blended, Approximate: true}, nil
}

// quantile linearly interpolates the p-quantile of sorted values.
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// TopN ranks scopes by fn over the matching values, descending, and
// returns the top n. Archive buckets in range contribute and mark the
// affected entries approximate.
func (s *Service) TopN(ctx context.Context, table types.Table, kind string, fn AggFn,
	n int, tr types.TimeRange) ([]Ranking, error) {
	if _, err := ParseAggFn(string(fn)); err != nil {
		s.stats.QueriesRejected.Add(1)
		return nil, err
	}
	if !table.IsDetailed() {
		s.stats.QueriesRejected.Add(1)
		return nil, apperrors.NewUnknownTable(string(table))
	}
	if n <= 0 {
		s.stats.QueriesRejected.Add(1)
		return nil, apperrors.NewInvalidQuery("n must be positive")
	}

	filters := types.Filters{}
	if table != types.TableTaskMetrics {
		filters.Kind = kind
	}

	type scopeAgg struct {
		moments     types.ArchiveBucket
		approximate bool
	}
	scopes := make(map[string]*scopeAgg)
	get := func(id string) *scopeAgg {
		a, ok := scopes[id]
		if !ok {
			a = &scopeAgg{}
			scopes[id] = a
		}
		return a
	}

	archKind := kind
	if table == types.TableTaskMetrics {
		archKind = "duration"
	}
	var buckets []types.ArchiveBucket
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		err := db.ForEachRangeTx(ctx, tx, table, tr, filters, 0, func(r types.Record) error {
			s.stats.RowsScanned.Add(1)
			addToMoments(&get(r.ScopeID).moments, r.MetricValue(), r.TimestampMs)
			return nil
		})
		if err != nil {
			return err
		}
		buckets, err = db.ReadArchiveTx(ctx, tx, table, "", tr, "", archKind)
		return err
	})
	if err != nil {
		if apperrors.IsInvalidQuery(err) {
			s.stats.QueriesRejected.Add(1)
		}
		return nil, err
	}
	for i := range buckets {
		a := get(buckets[i].ScopeID)
		a.moments.Merge(&buckets[i])
		a.approximate = true
	}

	rankings := make([]Ranking, 0, len(scopes))
	for id, a := range scopes {
		res := evalMoments(&a.moments, fn, a.approximate)
		if res.Value == nil {
			continue
		}
		rankings = append(rankings, Ranking{
			ScopeID:     id,
			Count:       a.moments.Count,
			Value:       *res.Value,
			Approximate: a.approximate,
		})
	}

	sort.Slice(rankings, func(i, j int) bool {
		if rankings[i].Value != rankings[j].Value {
			return rankings[i].Value > rankings[j].Value
		}
		return rankings[i].ScopeID < rankings[j].ScopeID
	})
	if len(rankings) > n {
		rankings = rankings[:n]
	}

	s.stats.QueriesExecuted.Add(1)
	return rankings, nil
}

// Stats returns a snapshot of query statistics.
func (s *Service) Stats() StatsSnapshot {
	return StatsSnapshot{
		QueriesExecuted: s.stats.QueriesExecuted.Load(),
		QueriesRejected: s.stats.QueriesRejected.Load(),
		RowsScanned:     s.stats.RowsScanned.Load(),
	}
}
