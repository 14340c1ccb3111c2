package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/veyrok/swarmstore/internal/errors"
	"github.com/veyrok/swarmstore/internal/storage/config"
	"github.com/veyrok/swarmstore/internal/storage/types"
)

type captureSink struct {
	mu      sync.Mutex
	batches []Batch
	fail    bool
}

func (c *captureSink) flush(ctx context.Context, batch Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("sink unavailable")
	}
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureSink) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.batches {
		n += c.batches[i].Len()
	}
	return n
}

func testConfig() config.BufferConfig {
	return config.BufferConfig{MaxRecords: 5, FlushInterval: time.Hour}
}

func TestEnqueueAndExplicitFlush(t *testing.T) {
	sink := &captureSink{}
	b := New(testConfig(), sink.flush, nil)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	if err := b.EnqueueTask(types.TaskMetric{TaskID: "t1", AgentID: "a1", DurationMs: 10, Outcome: types.OutcomeSuccess}); err != nil {
		t.Fatalf("EnqueueTask: %v", err)
	}
	if err := b.EnqueueAgent(types.AgentMetric{AgentID: "a1", Kind: "throughput", Value: 1}); err != nil {
		t.Fatalf("EnqueueAgent: %v", err)
	}
	if err := b.EnqueueSwarm(types.SwarmMetric{SwarmID: "s1", Kind: "health", Value: 1}); err != nil {
		t.Fatalf("EnqueueSwarm: %v", err)
	}

	if got := b.Pending(); got != 3 {
		t.Fatalf("expected 3 pending, got %d", got)
	}

	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if b.Pending() != 0 {
		t.Errorf("expected empty buffer after flush, got %d", b.Pending())
	}
	if sink.total() != 3 {
		t.Errorf("expected 3 records at sink, got %d", sink.total())
	}
}

func TestTimestampAssignedAtEnqueue(t *testing.T) {
	sink := &captureSink{}
	b := New(testConfig(), sink.flush, nil)
	b.Start()
	defer b.Stop()

	before := time.Now().UnixMilli()
	b.EnqueueTask(types.TaskMetric{TaskID: "t1", AgentID: "a1", Outcome: types.OutcomeSuccess})
	b.Flush(context.Background())
	after := time.Now().UnixMilli()

	got := sink.batches[0].Tasks[0].TimestampMs
	if got < before || got > after {
		t.Errorf("timestamp %d not in [%d, %d]", got, before, after)
	}
}

func TestSizeTriggeredFlush(t *testing.T) {
	sink := &captureSink{}
	b := New(testConfig(), sink.flush, nil)
	b.Start()
	defer b.Stop()

	for i := 0; i < 5; i++ {
		b.EnqueueAgent(types.AgentMetric{AgentID: "a1", Kind: "throughput", Value: float64(i)})
	}

	// The worker flushes asynchronously; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for sink.total() < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.total() != 5 {
		t.Fatalf("expected size-triggered flush of 5 records, got %d", sink.total())
	}
	if b.Stats().SizeTriggered == 0 {
		t.Error("expected a size trigger to be recorded")
	}
}

func TestIntervalFlush(t *testing.T) {
	sink := &captureSink{}
	cfg := config.BufferConfig{MaxRecords: 1000, FlushInterval: 20 * time.Millisecond}
	b := New(cfg, sink.flush, nil)
	b.Start()
	defer b.Stop()

	b.EnqueueSwarm(types.SwarmMetric{SwarmID: "s1", Kind: "health", Value: 1})

	deadline := time.Now().Add(2 * time.Second)
	for sink.total() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.total() != 1 {
		t.Fatal("interval flush did not drain the buffer")
	}
}

func TestStopFlushesPending(t *testing.T) {
	sink := &captureSink{}
	b := New(testConfig(), sink.flush, nil)
	b.Start()

	b.EnqueueTask(types.TaskMetric{TaskID: "t1", AgentID: "a1", Outcome: types.OutcomeSuccess})
	b.EnqueueTask(types.TaskMetric{TaskID: "t2", AgentID: "a1", Outcome: types.OutcomeFailure})

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sink.total() != 2 {
		t.Errorf("expected final flush of 2 records, got %d", sink.total())
	}

	if err := b.EnqueueTask(types.TaskMetric{TaskID: "t3", AgentID: "a1", Outcome: types.OutcomeSuccess}); !errors.Is(err, apperrors.ErrNotRunning) {
		t.Errorf("expected ErrNotRunning after Stop, got %v", err)
	}
}

func TestAbandonedBufferKeepsFlushedRecords(t *testing.T) {
	sink := &captureSink{}
	cfg := config.BufferConfig{MaxRecords: 100, FlushInterval: time.Hour}
	b := New(cfg, sink.flush, nil)
	b.Start()

	for i := 0; i < 4; i++ {
		b.EnqueueAgent(types.AgentMetric{AgentID: "a1", Kind: "throughput", Value: float64(i)})
	}
	// Stands in for the last interval tick before the process dies.
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	for i := 0; i < 3; i++ {
		b.EnqueueSwarm(types.SwarmMetric{SwarmID: "s1", Kind: "health", Value: float64(i)})
	}

	// The buffer is abandoned without Stop. Everything flushed before the
	// crash point has reached the sink; the loss is bounded by what was
	// enqueued since the last flush.
	if sink.total() != 4 {
		t.Errorf("expected 4 records persisted before abandonment, got %d", sink.total())
	}
	if b.Pending() != 3 {
		t.Errorf("expected 3 unflushed records at risk, got %d", b.Pending())
	}
}

func TestFailedFlushDropsWithoutRequeue(t *testing.T) {
	sink := &captureSink{fail: true}
	var hookErr error
	b := New(testConfig(), sink.flush, func(err error) { hookErr = err })
	b.Start()
	defer b.Stop()

	b.EnqueueAgent(types.AgentMetric{AgentID: "a1", Kind: "throughput", Value: 1})
	b.EnqueueAgent(types.AgentMetric{AgentID: "a1", Kind: "throughput", Value: 2})

	if err := b.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if hookErr == nil {
		t.Error("error hook was not invoked")
	}
	// Drained records are gone: the next flush sees an empty buffer.
	if b.Pending() != 0 {
		t.Errorf("failed flush re-queued records: %d pending", b.Pending())
	}

	sink.fail = false
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("empty flush after failure: %v", err)
	}
	if sink.total() != 0 {
		t.Errorf("dropped records reappeared: %d", sink.total())
	}

	s := b.Stats()
	if s.Dropped != 2 || s.FlushesFailed != 1 {
		t.Errorf("stats wrong: dropped=%d failed=%d", s.Dropped, s.FlushesFailed)
	}
}

func TestDoubleStart(t *testing.T) {
	b := New(testConfig(), (&captureSink{}).flush, nil)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	if err := b.Start(); !errors.Is(err, apperrors.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}
