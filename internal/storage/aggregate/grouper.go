package aggregate

import (
	"strconv"

	"github.com/veyrok/swarmstore/internal/storage/types"
)

// Grouper routes records from one detailed table into per-series,
// per-bucket aggregates. It is used by compaction, which holds the rows
// for a single pass, so Grouper itself is not synchronized.
type Grouper struct {
	table    types.Table
	level    types.Level
	accuracy float64

	buckets map[string]*Bucket
}

// NewGrouper creates a Grouper aggregating at the given level. accuracy
// is the DDSketch relative accuracy; accuracy <= 0 disables percentiles.
func NewGrouper(table types.Table, level types.Level, accuracy float64) *Grouper {
	return &Grouper{
		table:    table,
		level:    level,
		accuracy: accuracy,
		buckets:  make(map[string]*Bucket),
	}
}

// Add routes one record into its bucket, creating the bucket on first
// sight. Task rows aggregate under the synthetic kind "duration" so they
// share the archive shape with agent and swarm metrics.
func (g *Grouper) Add(r types.Record) {
	scopeID := r.ScopeID
	kind := r.Kind
	if g.table == types.TableTaskMetrics {
		kind = "duration"
	}

	start := g.level.TruncateMs(r.TimestampMs)
	k := key(scopeID, kind, start)

	b, ok := g.buckets[k]
	if !ok {
		b = New(g.table, scopeID, kind, g.level, start, g.accuracy)
		g.buckets[k] = b
	}
	b.AddRecord(r)
}

// Len returns the number of open buckets.
func (g *Grouper) Len() int { return len(g.buckets) }

// Snapshots materializes all buckets. Order is unspecified.
func (g *Grouper) Snapshots() []types.ArchiveBucket {
	if len(g.buckets) == 0 {
		return nil
	}
	out := make([]types.ArchiveBucket, 0, len(g.buckets))
	for _, b := range g.buckets {
		if b.IsEmpty() {
			continue
		}
		out = append(out, b.Snapshot())
	}
	return out
}

func key(scopeID, kind string, bucketStartMs int64) string {
	return scopeID + "/" + kind + "/" + strconv.FormatInt(bucketStartMs, 10)
}
