// Package aggregate maintains running statistical summaries for
// compaction. A Bucket accumulates moments (count, sum, min, max, sum of
// squares) plus an optional DDSketch for percentiles; a Grouper routes
// raw records into buckets keyed by scope, kind and time bucket.
package aggregate

import (
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/veyrok/swarmstore/internal/storage/types"
)

// Bucket maintains running statistics for a single archive bucket.
type Bucket struct {
	mu sync.Mutex

	// Identity
	table   types.Table
	scopeID string
	kind    string

	// Time bucket
	level       types.Level
	bucketStart int64 // Unix milliseconds
	bucketEnd   int64

	// Running statistics
	count      int64
	sum        float64
	min        float64
	max        float64
	sumSquares float64
	firstTs    int64
	lastTs     int64

	// DDSketch for percentiles (nil if disabled)
	sketch *ddsketch.DDSketch
}

// New creates a Bucket for the given series and time bucket. accuracy
// is the DDSketch relative accuracy; accuracy <= 0 disables percentile
// tracking.
func New(table types.Table, scopeID, kind string, level types.Level, bucketStartMs int64, accuracy float64) *Bucket {
	b := &Bucket{
		table:       table,
		scopeID:     scopeID,
		kind:        kind,
		level:       level,
		bucketStart: bucketStartMs,
		bucketEnd:   bucketStartMs + level.Duration().Milliseconds(),
		min:         math.MaxFloat64,
		max:         -math.MaxFloat64,
	}

	if accuracy > 0 {
		sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
		if err == nil {
			b.sketch = sketch
		}
	}

	return b
}

// Add folds one value into the bucket.
func (b *Bucket) Add(value float64, timestampMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
	b.sum += value
	b.sumSquares += value * value

	if value < b.min {
		b.min = value
	}
	if value > b.max {
		b.max = value
	}

	if b.firstTs == 0 || timestampMs < b.firstTs {
		b.firstTs = timestampMs
	}
	if timestampMs > b.lastTs {
		b.lastTs = timestampMs
	}

	if b.sketch != nil {
		b.sketch.Add(value)
	}
}

// AddRecord folds a record's metric value into the bucket.
func (b *Bucket) AddRecord(r types.Record) {
	b.Add(r.MetricValue(), r.TimestampMs)
}

// Count returns the number of values added.
func (b *Bucket) Count() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// IsEmpty reports whether no values have been added.
func (b *Bucket) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count == 0
}

// Snapshot materializes the accumulated statistics as an ArchiveBucket.
func (b *Bucket) Snapshot() types.ArchiveBucket {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := types.ArchiveBucket{
		Table:         b.table,
		ScopeID:       b.scopeID,
		Kind:          b.kind,
		Level:         b.level,
		BucketStartMs: b.bucketStart,
		BucketEndMs:   b.bucketEnd,
		Count:         b.count,
		Sum:           b.sum,
		SumSquares:    b.sumSquares,
		FirstTs:       b.firstTs,
		LastTs:        b.lastTs,
	}

	if b.count > 0 {
		out.Min = b.min
		out.Max = b.max
	}

	if b.sketch != nil && b.count > 0 {
		p50, err50 := b.sketch.GetValueAtQuantile(0.50)
		p95, err95 := b.sketch.GetValueAtQuantile(0.95)
		p99, err99 := b.sketch.GetValueAtQuantile(0.99)
		if err50 == nil && err95 == nil && err99 == nil {
			out.SetPercentiles(p50, p95, p99)
		}
	}

	return out
}

// Merge combines another bucket into this one. Both must share identity
// and time bucket.
func (b *Bucket) Merge(other *Bucket) {
	if other == nil || other.count == 0 {
		return
	}

	b.mu.Lock()
	other.mu.Lock()
	defer b.mu.Unlock()
	defer other.mu.Unlock()

	b.count += other.count
	b.sum += other.sum
	b.sumSquares += other.sumSquares

	if other.min < b.min {
		b.min = other.min
	}
	if other.max > b.max {
		b.max = other.max
	}

	if b.firstTs == 0 || (other.firstTs != 0 && other.firstTs < b.firstTs) {
		b.firstTs = other.firstTs
	}
	if other.lastTs > b.lastTs {
		b.lastTs = other.lastTs
	}

	if b.sketch != nil && other.sketch != nil {
		b.sketch.MergeWith(other.sketch)
	}
}

// Key returns the unique key for this bucket's series and time bucket.
func (b *Bucket) Key() string {
	return key(b.scopeID, b.kind, b.bucketStart)
}
