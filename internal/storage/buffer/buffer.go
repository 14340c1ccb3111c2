// Package buffer batches metric writes between the recording API and the
// database. Records append in O(1) under a mutex; a background worker
// drains them when the batch fills or the flush interval elapses, so the
// hot path never waits on storage I/O.
package buffer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/veyrok/swarmstore/internal/errors"
	"github.com/veyrok/swarmstore/internal/logging"
	"github.com/veyrok/swarmstore/internal/storage/config"
	"github.com/veyrok/swarmstore/internal/storage/types"
)

// Batch is one drained set of pending records, grouped by table.
type Batch struct {
	Tasks  []types.TaskMetric
	Agents []types.AgentMetric
	Swarms []types.SwarmMetric
}

// Len returns the total record count across the batch.
func (b *Batch) Len() int {
	return len(b.Tasks) + len(b.Agents) + len(b.Swarms)
}

// IsEmpty reports whether the batch holds no records.
func (b *Batch) IsEmpty() bool { return b.Len() == 0 }

// FlushFunc persists one drained batch. A failed flush does not re-queue
// the batch; the worst-case loss is one flush interval of records.
type FlushFunc func(ctx context.Context, batch Batch) error

// Buffer accumulates metric records and flushes them in batches.
type Buffer struct {
	mu      sync.Mutex
	pending Batch

	// flushMu serializes drains so batches hit storage in order.
	flushMu sync.Mutex

	cfg     config.BufferConfig
	flush   FlushFunc
	onError func(error)

	running  atomic.Bool
	draining atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// flushCh coalesces size-trigger signals; capacity 1 so a pending
	// signal absorbs later ones.
	flushCh chan struct{}

	stats Stats
}

// Stats holds buffer statistics.
type Stats struct {
	Enqueued       atomic.Int64
	Flushed        atomic.Int64
	Dropped        atomic.Int64
	FlushesOK      atomic.Int64
	FlushesFailed  atomic.Int64
	SizeTriggered  atomic.Int64
	TimerTriggered atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Pending        int
	Enqueued       int64
	Flushed        int64
	Dropped        int64
	FlushesOK      int64
	FlushesFailed  int64
	SizeTriggered  int64
	TimerTriggered int64
}

// New creates a Buffer draining into flush. onError is invoked with every
// flush failure; nil disables the hook.
func New(cfg config.BufferConfig, flush FlushFunc, onError func(error)) *Buffer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Buffer{
		cfg:     cfg,
		flush:   flush,
		onError: onError,
		ctx:     ctx,
		cancel:  cancel,
		flushCh: make(chan struct{}, 1),
	}
}

// Start starts the interval flush worker.
func (b *Buffer) Start() error {
	if !b.running.CompareAndSwap(false, true) {
		return apperrors.ErrAlreadyRunning
	}

	b.wg.Add(1)
	go b.flushWorker()

	return nil
}

// Stop stops the worker and performs a final flush of everything still
// pending. After Stop, enqueues are rejected.
func (b *Buffer) Stop() error {
	if !b.running.CompareAndSwap(true, false) {
		return nil
	}

	b.draining.Store(true)
	defer b.draining.Store(false)

	b.cancel()
	b.wg.Wait()

	return b.Flush(context.Background())
}

// EnqueueTask appends one task record. A zero timestamp is assigned the
// current time.
func (b *Buffer) EnqueueTask(m types.TaskMetric) error {
	if !b.running.Load() {
		if b.draining.Load() {
			return apperrors.ErrBufferDraining
		}
		return apperrors.ErrNotRunning
	}
	if m.TimestampMs == 0 {
		m.TimestampMs = time.Now().UnixMilli()
	}

	b.mu.Lock()
	b.pending.Tasks = append(b.pending.Tasks, m)
	n := b.pending.Len()
	b.mu.Unlock()

	b.stats.Enqueued.Add(1)
	b.maybeSignal(n)
	return nil
}

// EnqueueAgent appends one agent metric record.
func (b *Buffer) EnqueueAgent(m types.AgentMetric) error {
	if !b.running.Load() {
		if b.draining.Load() {
			return apperrors.ErrBufferDraining
		}
		return apperrors.ErrNotRunning
	}
	if m.TimestampMs == 0 {
		m.TimestampMs = time.Now().UnixMilli()
	}

	b.mu.Lock()
	b.pending.Agents = append(b.pending.Agents, m)
	n := b.pending.Len()
	b.mu.Unlock()

	b.stats.Enqueued.Add(1)
	b.maybeSignal(n)
	return nil
}

// EnqueueSwarm appends one swarm metric record.
func (b *Buffer) EnqueueSwarm(m types.SwarmMetric) error {
	if !b.running.Load() {
		if b.draining.Load() {
			return apperrors.ErrBufferDraining
		}
		return apperrors.ErrNotRunning
	}
	if m.TimestampMs == 0 {
		m.TimestampMs = time.Now().UnixMilli()
	}

	b.mu.Lock()
	b.pending.Swarms = append(b.pending.Swarms, m)
	n := b.pending.Len()
	b.mu.Unlock()

	b.stats.Enqueued.Add(1)
	b.maybeSignal(n)
	return nil
}

// maybeSignal wakes the flush worker when the batch is full. The send is
// non-blocking: a signal already in flight covers this one.
func (b *Buffer) maybeSignal(pending int) {
	if pending < b.cfg.MaxRecords {
		return
	}
	select {
	case b.flushCh <- struct{}{}:
		b.stats.SizeTriggered.Add(1)
	default:
	}
}

// Flush drains and persists everything pending right now. Drained records
// are not re-queued on failure. Flushes are serialized so batches reach
// storage in drain order.
func (b *Buffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batch := b.pending
	b.pending = Batch{}
	b.mu.Unlock()

	if batch.IsEmpty() {
		return nil
	}

	if err := b.flush(ctx, batch); err != nil {
		b.stats.FlushesFailed.Add(1)
		b.stats.Dropped.Add(int64(batch.Len()))
		if b.onError != nil {
			b.onError(err)
		}
		return apperrors.Wrap(err, "flush buffer")
	}

	b.stats.FlushesOK.Add(1)
	b.stats.Flushed.Add(int64(batch.Len()))
	return nil
}

// Pending returns the number of records waiting to be flushed.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending.Len()
}

// Stats returns a snapshot of buffer statistics.
func (b *Buffer) Stats() StatsSnapshot {
	return StatsSnapshot{
		Pending:        b.Pending(),
		Enqueued:       b.stats.Enqueued.Load(),
		Flushed:        b.stats.Flushed.Load(),
		Dropped:        b.stats.Dropped.Load(),
		FlushesOK:      b.stats.FlushesOK.Load(),
		FlushesFailed:  b.stats.FlushesFailed.Load(),
		SizeTriggered:  b.stats.SizeTriggered.Load(),
		TimerTriggered: b.stats.TimerTriggered.Load(),
	}
}

func (b *Buffer) flushWorker() {
	defer b.wg.Done()

	log := logging.Component("buffer")
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.stats.TimerTriggered.Add(1)
			if err := b.Flush(context.Background()); err != nil {
				log.Error("interval flush failed", "error", err)
			}
		case <-b.flushCh:
			if err := b.Flush(context.Background()); err != nil {
				log.Error("size-triggered flush failed", "error", err)
			}
		}
	}
}
