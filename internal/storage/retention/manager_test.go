package retention

import (
	"context"
	"testing"
	"time"

	"github.com/veyrok/swarmstore/internal/storage/compaction"
	"github.com/veyrok/swarmstore/internal/storage/config"
	"github.com/veyrok/swarmstore/internal/storage/db"
	"github.com/veyrok/swarmstore/internal/storage/types"
)

func setup(t *testing.T) (*db.DB, *Manager) {
	t.Helper()
	storeCfg := config.DefaultConfig().Store
	storeCfg.Path = ""
	d, err := db.Open(storeCfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	ret := config.RetentionConfig{DetailedDays: 7, HourlyDays: 30, DailyDays: 90}
	engine := compaction.New(d, config.CompactionConfig{Workers: 3, Percentiles: false}, ret)
	return d, New(d, engine, ret)
}

func TestPolicyCutoffs(t *testing.T) {
	p := NewPolicy(config.RetentionConfig{DetailedDays: 7, HourlyDays: 30, DailyDays: 90})
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	if got := p.DetailedCutoff(now); got != now.AddDate(0, 0, -7).UnixMilli() {
		t.Errorf("detailed cutoff wrong: %d", got)
	}
	if got := p.HourlyCutoff(now); got != now.AddDate(0, 0, -30).UnixMilli() {
		t.Errorf("hourly cutoff wrong: %d", got)
	}
	if got := p.FinalCutoff(now); got != now.AddDate(0, 0, -90).UnixMilli() {
		t.Errorf("final cutoff wrong: %d", got)
	}
}

func TestCleanupLifecycle(t *testing.T) {
	d, m := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// 50 task records spread across 10 days; with a 7 day detailed
	// window the older ones compact away and the recent ones stay.
	var records []types.TaskMetric
	for i := 0; i < 50; i++ {
		age := time.Duration(i%10) * 24 * time.Hour
		records = append(records, types.TaskMetric{
			TaskID: "t", AgentID: "a1",
			TimestampMs: now.Add(-age - time.Hour).UnixMilli(),
			DurationMs:  int64(100 + i), Outcome: types.OutcomeSuccess,
		})
	}
	if err := d.InsertTaskMetrics(ctx, records); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := m.RunCleanup(ctx, now); err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}

	left, err := d.ReadRange(ctx, types.TableTaskMetrics, types.TimeRange{}, types.Filters{}, 0)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	// Ages 0..6 days stay (5 each), ages 7..9 compact (5 each).
	if len(left) != 35 {
		t.Fatalf("expected 35 detailed rows to survive, got %d", len(left))
	}

	buckets, err := d.ReadArchive(ctx, types.TableTaskMetrics, types.LevelHourly, types.TimeRange{}, "", "")
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	var archived int64
	for _, b := range buckets {
		archived += b.Count
	}
	if archived != 15 {
		t.Errorf("expected 15 samples archived, got %d", archived)
	}

	if m.Stats().CleanupsCompleted != 1 {
		t.Errorf("stats not updated: %+v", m.Stats())
	}
}

func TestFinalPurge(t *testing.T) {
	d, m := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Records old enough to pass through every tier in one pass.
	ancient := now.Add(-100 * 24 * time.Hour)
	if err := d.InsertSwarmMetrics(ctx, []types.SwarmMetric{
		{SwarmID: "s1", Kind: "health", TimestampMs: ancient.UnixMilli(), Value: 1},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := m.RunCleanup(ctx, now); err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}

	counts, err := d.TableCounts(ctx)
	if err != nil {
		t.Fatalf("TableCounts: %v", err)
	}
	if counts[types.TableSwarmMetrics] != 0 || counts[types.TableArchive] != 0 {
		t.Errorf("100-day-old data should be fully purged: %+v", counts)
	}
}

func TestDryRunLeavesDataIntact(t *testing.T) {
	d, m := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := now.Add(-10 * 24 * time.Hour)
	if err := d.InsertAgentMetrics(ctx, []types.AgentMetric{
		{AgentID: "a1", Kind: "throughput", TimestampMs: old.UnixMilli(), Value: 1},
		{AgentID: "a1", Kind: "throughput", TimestampMs: old.Add(time.Minute).UnixMilli(), Value: 2},
		{AgentID: "a1", Kind: "throughput", TimestampMs: now.Add(-time.Hour).UnixMilli(), Value: 3},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	result, err := m.DryRun(ctx, now)
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if !result.DryRun {
		t.Error("result not marked as dry run")
	}
	if result.DetailedRows != 2 {
		t.Errorf("expected 2 eligible rows, got %d", result.DetailedRows)
	}

	counts, err := d.TableCounts(ctx)
	if err != nil {
		t.Fatalf("TableCounts: %v", err)
	}
	if counts[types.TableAgentMetrics] != 3 {
		t.Errorf("dry run modified data: %d rows left", counts[types.TableAgentMetrics])
	}
}
