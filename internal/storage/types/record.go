package types

import (
	"time"

	apperrors "github.com/veyrok/swarmstore/internal/errors"
)

// Outcome is the terminal state of a completed task.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeTimeout, OutcomeCancelled:
		return true
	default:
		return false
	}
}

// Table identifies one of the persisted tables.
type Table string

const (
	TableTaskMetrics  Table = "task_metrics"
	TableAgentMetrics Table = "agent_metrics"
	TableSwarmMetrics Table = "swarm_metrics"
	TableArchive      Table = "metrics_archive"
)

// DetailedTables lists the three detailed (unaggregated) tables.
func DetailedTables() []Table {
	return []Table{TableTaskMetrics, TableAgentMetrics, TableSwarmMetrics}
}

// ParseTable converts a table name into a Table.
func ParseTable(s string) (Table, error) {
	switch Table(s) {
	case TableTaskMetrics, TableAgentMetrics, TableSwarmMetrics, TableArchive:
		return Table(s), nil
	default:
		return "", apperrors.NewUnknownTable(s)
	}
}

// String returns the table name as persisted.
func (t Table) String() string { return string(t) }

// IsDetailed reports whether t is one of the detailed tables.
func (t Table) IsDetailed() bool {
	return t == TableTaskMetrics || t == TableAgentMetrics || t == TableSwarmMetrics
}

// TaskMetric records one completed unit of work by one agent.
// Records are append-only; retries and re-emits of the same task are all
// retained until compaction.
type TaskMetric struct {
	TaskID       string
	AgentID      string
	TimestampMs  int64 // Unix milliseconds, assigned at write time if zero
	DurationMs   int64
	Outcome      Outcome
	TokensUsed   int64
	FilesChanged int64
}

// TimestampTime returns the record timestamp as a time.Time.
func (m *TaskMetric) TimestampTime() time.Time {
	return time.UnixMilli(m.TimestampMs)
}

// AgentMetric is a derived or observed statistic about an agent at a point
// in time. Kind is an open string (duration, success_rate, error_count,
// throughput, ...); new kinds never require a schema change.
type AgentMetric struct {
	AgentID     string
	TimestampMs int64
	Kind        string
	Value       float64

	// Metadata is an opaque key-value bag. The storage layer persists it
	// as serialized JSON and never interprets individual keys.
	Metadata map[string]string
}

// TimestampTime returns the record timestamp as a time.Time.
func (m *AgentMetric) TimestampTime() time.Time {
	return time.UnixMilli(m.TimestampMs)
}

// SwarmMetric has the same shape as AgentMetric but is scoped to a swarm
// (health, throughput, latency, resource utilization).
type SwarmMetric struct {
	SwarmID     string
	TimestampMs int64
	Kind        string
	Value       float64
	Metadata    map[string]string
}

// TimestampTime returns the record timestamp as a time.Time.
func (m *SwarmMetric) TimestampTime() time.Time {
	return time.UnixMilli(m.TimestampMs)
}

// TimeRange is a half-open interval [StartMs, EndMs) in Unix milliseconds.
// A zero bound means unbounded on that side.
type TimeRange struct {
	StartMs int64
	EndMs   int64
}

// NewTimeRange builds a TimeRange from two time.Time bounds.
func NewTimeRange(start, end time.Time) TimeRange {
	tr := TimeRange{}
	if !start.IsZero() {
		tr.StartMs = start.UnixMilli()
	}
	if !end.IsZero() {
		tr.EndMs = end.UnixMilli()
	}
	return tr
}

// Contains reports whether ts falls inside the range.
func (tr TimeRange) Contains(tsMs int64) bool {
	if tr.StartMs > 0 && tsMs < tr.StartMs {
		return false
	}
	if tr.EndMs > 0 && tsMs >= tr.EndMs {
		return false
	}
	return true
}

// IsZero reports whether the range is fully unbounded.
func (tr TimeRange) IsZero() bool { return tr.StartMs == 0 && tr.EndMs == 0 }

// Clamp restricts the range to [startMs, endMs).
func (tr TimeRange) Clamp(startMs, endMs int64) TimeRange {
	out := tr
	if startMs > 0 && (out.StartMs == 0 || out.StartMs < startMs) {
		out.StartMs = startMs
	}
	if endMs > 0 && (out.EndMs == 0 || out.EndMs > endMs) {
		out.EndMs = endMs
	}
	return out
}
