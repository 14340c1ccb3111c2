package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/veyrok/swarmstore/internal/errors"
	"github.com/veyrok/swarmstore/internal/logging"
	"github.com/veyrok/swarmstore/internal/storage/buffer"
	"github.com/veyrok/swarmstore/internal/storage/compaction"
	"github.com/veyrok/swarmstore/internal/storage/config"
	"github.com/veyrok/swarmstore/internal/storage/db"
	"github.com/veyrok/swarmstore/internal/storage/export"
	"github.com/veyrok/swarmstore/internal/storage/query"
	"github.com/veyrok/swarmstore/internal/storage/retention"
	"github.com/veyrok/swarmstore/internal/storage/types"
)

// Service orchestrates the storage engine components.
type Service struct {
	config *config.Config

	db         *db.DB
	buffer     *buffer.Buffer
	compaction *compaction.Engine
	retention  *retention.Manager
	query      *query.Service
	export     *export.Exporter

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	startTime  time.Time
	flushFails atomic.Int64
	rejected   atomic.Int64
}

// New creates a storage service and opens the database.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, "invalid config")
	}

	database, err := db.Open(cfg.Store)
	if err != nil {
		return nil, apperrors.Wrap(err, "open database")
	}

	s := &Service{
		config:     cfg,
		db:         database,
		compaction: compaction.New(database, cfg.Compaction, cfg.Retention),
		query:      query.New(database, cfg.Query),
		export:     export.New(database),
	}
	s.retention = retention.New(database, s.compaction, cfg.Retention)
	s.buffer = buffer.New(cfg.Buffer, s.persistBatch, func(err error) {
		s.flushFails.Add(1)
		log := logging.Component("storage")
		if apperrors.IsRetriable(err) {
			log.Warn("buffer flush failed, storage transiently unavailable", "error", err)
		} else {
			log.Error("buffer flush failed", "error", err)
		}
	})
	s.ctx, s.cancel = context.WithCancel(context.Background())

	return s, nil
}

// persistBatch writes one drained buffer batch to the detailed tables.
func (s *Service) persistBatch(ctx context.Context, batch buffer.Batch) error {
	if err := s.db.InsertTaskMetrics(ctx, batch.Tasks); err != nil {
		return err
	}
	if err := s.db.InsertAgentMetrics(ctx, batch.Agents); err != nil {
		return err
	}
	return s.db.InsertSwarmMetrics(ctx, batch.Swarms)
}

// Start launches the buffer flusher and the retention schedule.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return apperrors.ErrAlreadyRunning
	}
	s.startTime = time.Now()

	if err := s.buffer.Start(); err != nil {
		s.running.Store(false)
		return apperrors.Wrap(err, "start buffer")
	}

	s.wg.Add(1)
	go s.retentionWorker()

	logging.Component("storage").Info("storage service started",
		"database", s.config.Store.Path)
	return nil
}

// Stop drains the buffer, stops workers and closes the database.
// Idempotent.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	s.wg.Wait()

	// Final flush happens inside buffer.Stop.
	if err := s.buffer.Stop(); err != nil {
		logging.Component("storage").Error("final flush failed", "error", err)
	}

	return s.db.Close()
}

// IsRunning reports whether the service is started.
func (s *Service) IsRunning() bool { return s.running.Load() }

// retentionWorker runs the retention lifecycle on the configured
// interval.
func (s *Service) retentionWorker() {
	defer s.wg.Done()

	log := logging.Component("storage")
	ticker := time.NewTicker(s.config.Compaction.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.retention.RunCleanup(s.ctx, time.Now()); err != nil {
				log.Error("scheduled retention failed", "error", err)
			}
		}
	}
}

// ============================================================================
// Producer API
// ============================================================================

// RecordTask records one completed task. A zero timestamp is assigned at
// write time. Invalid records are rejected; storage failures never
// propagate past the buffer.
func (s *Service) RecordTask(m types.TaskMetric) error {
	if m.TaskID == "" {
		s.rejected.Add(1)
		return apperrors.NewInvalidRecord("task_id", "must not be empty")
	}
	if m.AgentID == "" {
		s.rejected.Add(1)
		return apperrors.NewInvalidRecord("agent_id", "must not be empty")
	}
	if !m.Outcome.Valid() {
		s.rejected.Add(1)
		return apperrors.NewInvalidRecord("outcome", "unknown outcome "+string(m.Outcome))
	}
	if m.DurationMs < 0 {
		s.rejected.Add(1)
		return apperrors.NewInvalidRecord("duration_ms", "must not be negative")
	}
	return s.buffer.EnqueueTask(m)
}

// RecordAgentMetric records one agent statistic.
func (s *Service) RecordAgentMetric(m types.AgentMetric) error {
	if m.AgentID == "" {
		s.rejected.Add(1)
		return apperrors.NewInvalidRecord("agent_id", "must not be empty")
	}
	if m.Kind == "" {
		s.rejected.Add(1)
		return apperrors.NewInvalidRecord("kind", "must not be empty")
	}
	return s.buffer.EnqueueAgent(m)
}

// RecordSwarmMetric records one swarm statistic.
func (s *Service) RecordSwarmMetric(m types.SwarmMetric) error {
	if m.SwarmID == "" {
		s.rejected.Add(1)
		return apperrors.NewInvalidRecord("swarm_id", "must not be empty")
	}
	if m.Kind == "" {
		s.rejected.Add(1)
		return apperrors.NewInvalidRecord("kind", "must not be empty")
	}
	return s.buffer.EnqueueSwarm(m)
}

// ============================================================================
// Consumer API
// ============================================================================

// Records returns detailed rows matching the query.
func (s *Service) Records(ctx context.Context, q query.Query) ([]types.Record, error) {
	return s.query.GetRecords(ctx, q)
}

// Aggregate computes a statistical function over the matching rows.
func (s *Service) Aggregate(ctx context.Context, q query.Query, fn query.AggFn) (query.Result, error) {
	return s.query.Aggregate(ctx, q, fn)
}

// Percentile computes the p-quantile of the matching values.
func (s *Service) Percentile(ctx context.Context, q query.Query, p float64) (query.Result, error) {
	return s.query.Percentile(ctx, q, p)
}

// TopN ranks scopes by an aggregation of their values.
func (s *Service) TopN(ctx context.Context, table types.Table, kind string, fn query.AggFn,
	n int, tr types.TimeRange) ([]query.Ranking, error) {
	return s.query.TopN(ctx, table, kind, fn, n, tr)
}

// ArchiveBuckets returns compacted buckets for a detailed table. An
// empty level matches both the hourly and daily tiers.
func (s *Service) ArchiveBuckets(ctx context.Context, table types.Table, level types.Level,
	tr types.TimeRange) ([]types.ArchiveBucket, error) {
	return s.db.ReadArchive(ctx, table, level, tr, "", "")
}

// RawQuery runs an ad-hoc read-only SQL statement against the store.
// Pending records are flushed first.
func (s *Service) RawQuery(ctx context.Context, stmt string) ([]string, [][]string, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, nil, err
	}
	return s.db.QueryRows(ctx, stmt)
}

// Export serializes stored metrics per cfg. Pending records are flushed
// first so the export sees everything recorded so far.
func (s *Service) Export(ctx context.Context, cfg export.Config) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	return s.export.Export(ctx, cfg)
}

// ============================================================================
// Maintenance API
// ============================================================================

// Flush persists everything currently buffered.
func (s *Service) Flush(ctx context.Context) error {
	return s.buffer.Flush(ctx)
}

// RunRetention runs one retention lifecycle pass now.
func (s *Service) RunRetention(ctx context.Context) (retention.CleanupResult, error) {
	if err := s.Flush(ctx); err != nil {
		return retention.CleanupResult{}, err
	}
	return s.retention.RunCleanup(ctx, time.Now())
}

// DryRunRetention reports what a retention pass would touch.
func (s *Service) DryRunRetention(ctx context.Context) (retention.CleanupResult, error) {
	return s.retention.DryRun(ctx, time.Now())
}

// Compact runs one compaction pass without the purge stage.
func (s *Service) Compact(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	return s.compaction.Run(ctx, time.Now())
}

// Vacuum reclaims disk space.
func (s *Service) Vacuum(ctx context.Context) error {
	return s.db.Vacuum(ctx)
}

// TableCounts reports current row counts per table.
func (s *Service) TableCounts(ctx context.Context) (map[types.Table]int64, error) {
	return s.db.TableCounts(ctx)
}

// ServiceStats aggregates per-component statistics.
type ServiceStats struct {
	Uptime          time.Duration
	Running         bool
	RecordsRejected int64
	FlushFailures   int64

	Buffer     buffer.StatsSnapshot
	Compaction compaction.StatsSnapshot
	Retention  retention.StatsSnapshot
	Query      query.StatsSnapshot
	Export     export.StatsSnapshot
}

// Stats returns a snapshot of all component statistics.
func (s *Service) Stats() ServiceStats {
	stats := ServiceStats{
		Running:         s.running.Load(),
		RecordsRejected: s.rejected.Load(),
		FlushFailures:   s.flushFails.Load(),
		Buffer:          s.buffer.Stats(),
		Compaction:      s.compaction.Stats(),
		Retention:       s.retention.Stats(),
		Query:           s.query.Stats(),
		Export:          s.export.Stats(),
	}
	if stats.Running {
		stats.Uptime = time.Since(s.startTime)
	}
	return stats
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config { return s.config }
