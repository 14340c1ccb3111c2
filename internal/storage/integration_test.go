package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/veyrok/swarmstore/internal/storage/config"
	"github.com/veyrok/swarmstore/internal/storage/export"
	"github.com/veyrok/swarmstore/internal/storage/query"
	"github.com/veyrok/swarmstore/internal/storage/types"
)

// TestLifecycleEndToEnd drives the full pipeline: record, flush, query,
// retention, export.
func TestLifecycleEndToEnd(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Path = ""
	cfg.Buffer.FlushInterval = time.Hour
	cfg.Retention.DetailedDays = 7

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	ctx := context.Background()
	now := time.Now().UTC()

	// 50 task records spread over 10 days.
	for i := 0; i < 50; i++ {
		age := time.Duration(i%10) * 24 * time.Hour
		err := s.RecordTask(types.TaskMetric{
			TaskID: "t", AgentID: "a1",
			TimestampMs: now.Add(-age - time.Hour).UnixMilli(),
			DurationMs:  int64(100 + i),
			Outcome:     types.OutcomeSuccess,
		})
		if err != nil {
			t.Fatalf("RecordTask: %v", err)
		}
	}

	// Pre-retention: everything detailed.
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	res, err := s.Aggregate(ctx, query.Query{Table: types.TableTaskMetrics}, query.AggCount)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Count != 50 {
		t.Fatalf("expected 50 detailed rows, got %d", res.Count)
	}

	// Retention compacts the rows older than 7 days.
	if _, err := s.RunRetention(ctx); err != nil {
		t.Fatalf("RunRetention: %v", err)
	}

	counts, err := s.TableCounts(ctx)
	if err != nil {
		t.Fatalf("TableCounts: %v", err)
	}
	if counts[types.TableTaskMetrics] != 35 {
		t.Errorf("expected 35 detailed rows after retention, got %d", counts[types.TableTaskMetrics])
	}
	if counts[types.TableArchive] == 0 {
		t.Error("expected archive buckets after retention")
	}

	// An aggregate across the whole range still sees all 50 samples,
	// flagged approximate because archive buckets contribute.
	res, err = s.Aggregate(ctx, query.Query{Table: types.TableTaskMetrics}, query.AggCount)
	if err != nil {
		t.Fatalf("Aggregate after retention: %v", err)
	}
	if res.Count != 50 {
		t.Errorf("compaction lost samples: count=%d", res.Count)
	}
	if !res.Approximate {
		t.Error("archive-backed aggregate must be flagged approximate")
	}

	// Sum is conserved exactly across compaction.
	res, err = s.Aggregate(ctx, query.Query{Table: types.TableTaskMetrics}, query.AggSum)
	if err != nil {
		t.Fatalf("Aggregate sum: %v", err)
	}
	var wantSum float64
	for i := 0; i < 50; i++ {
		wantSum += float64(100 + i)
	}
	if *res.Value != wantSum {
		t.Errorf("sum not conserved: expected %f, got %f", wantSum, *res.Value)
	}

	// Export the remaining data as a JSON document.
	var buf bytes.Buffer
	if err := s.Export(ctx, export.Config{Format: export.FormatJSON, Output: &buf}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	var doc struct {
		Tasks   []json.RawMessage `json:"tasks"`
		Archive []json.RawMessage `json:"archive"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(doc.Tasks) != 35 {
		t.Errorf("expected 35 exported tasks, got %d", len(doc.Tasks))
	}
	if len(doc.Archive) == 0 {
		t.Error("expected archive section in export")
	}
}

// TestTopNAcrossTiers checks that rankings merge detailed rows with
// archived buckets.
func TestTopNAcrossTiers(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Path = ""
	cfg.Buffer.FlushInterval = time.Hour

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-10 * 24 * time.Hour)

	// a1 contributes only archived samples, a2 only detailed ones.
	for i := 0; i < 5; i++ {
		s.RecordAgentMetric(types.AgentMetric{
			AgentID: "a1", Kind: "tokens",
			TimestampMs: old.Add(time.Duration(i) * time.Minute).UnixMilli(),
			Value:       100,
		})
		s.RecordAgentMetric(types.AgentMetric{
			AgentID: "a2", Kind: "tokens",
			TimestampMs: now.Add(-time.Hour).UnixMilli(),
			Value:       10,
		})
	}
	if err := s.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	top, err := s.TopN(ctx, types.TableAgentMetrics, "tokens", query.AggSum, 10, types.TimeRange{})
	if err != nil {
		t.Fatalf("TopN: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected both scopes ranked, got %d", len(top))
	}
	if top[0].ScopeID != "a1" || top[0].Value != 500 {
		t.Errorf("archived scope should lead: %+v", top[0])
	}
	if !top[0].Approximate {
		t.Error("archive-backed entry must be approximate")
	}
	if top[1].ScopeID != "a2" || top[1].Value != 50 || top[1].Approximate {
		t.Errorf("detailed scope wrong: %+v", top[1])
	}
}
