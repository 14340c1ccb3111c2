package types

import (
	"time"

	apperrors "github.com/veyrok/swarmstore/internal/errors"
)

// Level is the aggregation level of an archived bucket.
type Level string

const (
	// LevelHourly holds one bucket per scope, kind and hour.
	LevelHourly Level = "hourly"

	// LevelDaily holds one bucket per scope, kind and day.
	LevelDaily Level = "daily"
)

// ParseLevel converts an aggregation level name into a Level.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelHourly, LevelDaily:
		return Level(s), nil
	default:
		return "", apperrors.Wrapf(apperrors.ErrUnknownLevel, "%q", s)
	}
}

// String returns the level name as persisted.
func (l Level) String() string { return string(l) }

// Duration returns the bucket duration for this level.
func (l Level) Duration() time.Duration {
	switch l {
	case LevelHourly:
		return time.Hour
	case LevelDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Truncate returns the start of the bucket containing t.
// Buckets are aligned in UTC.
func (l Level) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch l {
	case LevelHourly:
		return t.Truncate(time.Hour)
	case LevelDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// TruncateMs returns the bucket start in Unix milliseconds for tsMs.
func (l Level) TruncateMs(tsMs int64) int64 {
	return l.Truncate(time.UnixMilli(tsMs)).UnixMilli()
}
