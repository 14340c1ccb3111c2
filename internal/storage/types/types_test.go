package types

import (
	"math"
	"testing"
	"time"

	apperrors "github.com/veyrok/swarmstore/internal/errors"
)

func TestParseTable(t *testing.T) {
	for _, name := range []string{"task_metrics", "agent_metrics", "swarm_metrics", "metrics_archive"} {
		tbl, err := ParseTable(name)
		if err != nil {
			t.Fatalf("ParseTable(%q): %v", name, err)
		}
		if tbl.String() != name {
			t.Errorf("round-trip: got %q, want %q", tbl.String(), name)
		}
	}

	if _, err := ParseTable("nope"); !apperrors.Is(err, apperrors.ErrUnknownTable) {
		t.Errorf("expected ErrUnknownTable, got %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	for _, name := range []string{"hourly", "daily"} {
		lvl, err := ParseLevel(name)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", name, err)
		}
		if lvl.String() != name {
			t.Errorf("round-trip: got %q, want %q", lvl.String(), name)
		}
	}

	if _, err := ParseLevel("weekly"); !apperrors.Is(err, apperrors.ErrUnknownLevel) {
		t.Errorf("expected ErrUnknownLevel, got %v", err)
	}
}

func TestOutcomeValid(t *testing.T) {
	for _, o := range []Outcome{OutcomeSuccess, OutcomeFailure, OutcomeTimeout, OutcomeCancelled} {
		if !o.Valid() {
			t.Errorf("%q should be valid", o)
		}
	}
	if Outcome("exploded").Valid() {
		t.Error("unknown outcome should not be valid")
	}
}

func TestLevelTruncate(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 535000000, time.UTC)

	hour := LevelHourly.Truncate(ts)
	if want := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC); !hour.Equal(want) {
		t.Errorf("hourly truncate: got %v, want %v", hour, want)
	}

	day := LevelDaily.Truncate(ts)
	if want := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC); !day.Equal(want) {
		t.Errorf("daily truncate: got %v, want %v", day, want)
	}

	if LevelHourly.Duration() != time.Hour {
		t.Errorf("hourly duration: got %v", LevelHourly.Duration())
	}
	if LevelDaily.Duration() != 24*time.Hour {
		t.Errorf("daily duration: got %v", LevelDaily.Duration())
	}
}

func TestTimeRangeContains(t *testing.T) {
	tr := TimeRange{StartMs: 1000, EndMs: 2000}

	if !tr.Contains(1000) {
		t.Error("start bound should be inclusive")
	}
	if tr.Contains(2000) {
		t.Error("end bound should be exclusive")
	}
	if tr.Contains(999) || tr.Contains(2001) {
		t.Error("out-of-range timestamps should not match")
	}

	open := TimeRange{}
	if !open.Contains(0) || !open.Contains(math.MaxInt64) {
		t.Error("zero range should contain everything")
	}
}

func TestTimeRangeClamp(t *testing.T) {
	tr := TimeRange{StartMs: 500, EndMs: 5000}
	got := tr.Clamp(1000, 2000)
	if got.StartMs != 1000 || got.EndMs != 2000 {
		t.Errorf("clamp: got %+v", got)
	}

	tr = TimeRange{}
	got = tr.Clamp(1000, 0)
	if got.StartMs != 1000 || got.EndMs != 0 {
		t.Errorf("clamp open range: got %+v", got)
	}
}

func TestArchiveBucketMoments(t *testing.T) {
	// Values 2, 4, 6: mean 4, population variance 8/3.
	b := ArchiveBucket{
		Count:      3,
		Sum:        12,
		Min:        2,
		Max:        6,
		SumSquares: 4 + 16 + 36,
	}

	if got := b.Mean(); got != 4 {
		t.Errorf("mean: got %f", got)
	}
	wantVar := 8.0 / 3.0
	if got := b.Variance(); math.Abs(got-wantVar) > 1e-9 {
		t.Errorf("variance: got %f, want %f", got, wantVar)
	}
	if got := b.Stddev(); math.Abs(got-math.Sqrt(wantVar)) > 1e-9 {
		t.Errorf("stddev: got %f", got)
	}
}

func TestArchiveBucketEmptyMoments(t *testing.T) {
	var b ArchiveBucket
	if b.Mean() != 0 || b.Variance() != 0 || b.Stddev() != 0 {
		t.Error("empty bucket moments should be zero, not NaN")
	}
	if math.IsNaN(b.Stddev()) {
		t.Error("stddev must not be NaN on empty bucket")
	}
}

func TestArchiveBucketMerge(t *testing.T) {
	a := ArchiveBucket{Count: 2, Sum: 10, Min: 3, Max: 7, SumSquares: 58, FirstTs: 100, LastTs: 200}
	a.SetPercentiles(4, 6.5, 6.9)
	b := ArchiveBucket{Count: 1, Sum: 1, Min: 1, Max: 1, SumSquares: 1, FirstTs: 50, LastTs: 150}

	a.Merge(&b)

	if a.Count != 3 || a.Sum != 11 || a.SumSquares != 59 {
		t.Errorf("merged moments: %+v", a)
	}
	if a.Min != 1 || a.Max != 7 {
		t.Errorf("merged min/max: %f/%f", a.Min, a.Max)
	}
	if a.FirstTs != 50 || a.LastTs != 200 {
		t.Errorf("merged ts: %d/%d", a.FirstTs, a.LastTs)
	}
	if a.HasPercentiles() {
		t.Error("merge must drop percentiles")
	}

	// Merging an empty bucket is a no-op.
	before := a
	a.Merge(&ArchiveBucket{})
	if a != before {
		t.Error("merging empty bucket changed state")
	}
}

func TestEstimateQuantile(t *testing.T) {
	b := ArchiveBucket{Count: 100, Sum: 5000, Min: 0, Max: 100, SumSquares: 338350}

	// Without percentiles the estimate interpolates min/mean/max.
	if got := b.EstimateQuantile(0.5); got != b.Mean() {
		t.Errorf("q=0.5 should hit the mean, got %f", got)
	}
	if got := b.EstimateQuantile(1.0); got != 100 {
		t.Errorf("q=1 should hit max, got %f", got)
	}

	b.SetPercentiles(50, 95, 99)
	if got := b.EstimateQuantile(0.95); got != 95 {
		t.Errorf("q=0.95 should hit stored p95, got %f", got)
	}
	got := b.EstimateQuantile(0.97)
	if got <= 95 || got >= 99 {
		t.Errorf("q=0.97 should interpolate between p95 and p99, got %f", got)
	}
}
