package types

import (
	"math"
	"time"
)

// ArchiveBucket is the statistical summary that survives compaction.
// Once detailed rows cross the compaction age threshold their individual
// identity is lost; only these moments remain.
type ArchiveBucket struct {
	// Identity
	Table   Table  // source detailed table
	ScopeID string // agent or swarm identifier
	Kind    string // metric kind

	// Bucket
	Level         Level
	BucketStartMs int64 // Unix milliseconds (bucket start, UTC-aligned)
	BucketEndMs   int64 // Unix milliseconds (bucket end)

	// Moments
	Count      int64
	Sum        float64
	Min        float64
	Max        float64
	SumSquares float64

	// Sketch percentiles (nil when not recorded; daily roll-ups drop them
	// because percentiles cannot be merged from pre-computed values).
	P50 *float64
	P95 *float64
	P99 *float64

	// Timestamps of the original rows
	FirstTs int64
	LastTs  int64
}

// Key returns a unique identifier for this bucket's series.
func (b *ArchiveBucket) Key() string {
	return b.Table.String() + "/" + b.ScopeID + "/" + b.Kind
}

// BucketStartTime returns the bucket start as a time.Time.
func (b *ArchiveBucket) BucketStartTime() time.Time {
	return time.UnixMilli(b.BucketStartMs)
}

// BucketEndTime returns the bucket end as a time.Time.
func (b *ArchiveBucket) BucketEndTime() time.Time {
	return time.UnixMilli(b.BucketEndMs)
}

// IsEmpty reports whether the bucket holds no samples.
func (b *ArchiveBucket) IsEmpty() bool { return b.Count == 0 }

// Mean returns Sum/Count, or 0 for an empty bucket.
func (b *ArchiveBucket) Mean() float64 {
	if b.Count == 0 {
		return 0
	}
	return b.Sum / float64(b.Count)
}

// Variance returns the population variance recovered from the stored
// moments via the shortcut formula sumsq/n - mean^2. Floating-point
// cancellation can produce a tiny negative value, which is clamped to 0.
func (b *ArchiveBucket) Variance() float64 {
	if b.Count == 0 {
		return 0
	}
	mean := b.Mean()
	v := b.SumSquares/float64(b.Count) - mean*mean
	if v < 0 {
		return 0
	}
	return v
}

// Stddev returns the population standard deviation.
func (b *ArchiveBucket) Stddev() float64 {
	return math.Sqrt(b.Variance())
}

// SetPercentiles records sketch-derived percentile values.
func (b *ArchiveBucket) SetPercentiles(p50, p95, p99 float64) {
	b.P50 = &p50
	b.P95 = &p95
	b.P99 = &p99
}

// HasPercentiles reports whether percentile data is present.
func (b *ArchiveBucket) HasPercentiles() bool { return b.P50 != nil }

// Merge folds other into b. Both buckets must share identity; the caller
// is responsible for re-bucketing BucketStartMs/BucketEndMs. Percentiles
// are dropped because they cannot be merged from stored values.
func (b *ArchiveBucket) Merge(other *ArchiveBucket) {
	if other == nil || other.Count == 0 {
		return
	}
	if b.Count == 0 {
		b.Min = other.Min
		b.Max = other.Max
		b.FirstTs = other.FirstTs
		b.LastTs = other.LastTs
	} else {
		if other.Min < b.Min {
			b.Min = other.Min
		}
		if other.Max > b.Max {
			b.Max = other.Max
		}
		if other.FirstTs != 0 && (b.FirstTs == 0 || other.FirstTs < b.FirstTs) {
			b.FirstTs = other.FirstTs
		}
		if other.LastTs > b.LastTs {
			b.LastTs = other.LastTs
		}
	}
	b.Count += other.Count
	b.Sum += other.Sum
	b.SumSquares += other.SumSquares
	b.P50, b.P95, b.P99 = nil, nil, nil
}

// EstimateQuantile interpolates a quantile from the stored moments.
// When sketch percentiles are present they anchor the estimate; otherwise
// the estimate falls back to a linear interpolation between min, mean and
// max. The result is always approximate.
func (b *ArchiveBucket) EstimateQuantile(q float64) float64 {
	if b.Count == 0 {
		return 0
	}
	if b.HasPercentiles() {
		switch {
		case q <= 0.50:
			return interpolate(0, b.Min, 0.50, *b.P50, q)
		case q <= 0.95:
			return interpolate(0.50, *b.P50, 0.95, *b.P95, q)
		case q <= 0.99:
			return interpolate(0.95, *b.P95, 0.99, *b.P99, q)
		default:
			return interpolate(0.99, *b.P99, 1.0, b.Max, q)
		}
	}
	mean := b.Mean()
	if q <= 0.5 {
		return interpolate(0, b.Min, 0.5, mean, q)
	}
	return interpolate(0.5, mean, 1.0, b.Max, q)
}

func interpolate(q0, v0, q1, v1, q float64) float64 {
	if q1 == q0 {
		return v0
	}
	return v0 + (v1-v0)*(q-q0)/(q1-q0)
}
