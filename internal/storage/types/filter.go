package types

// Filters is an exact-match conjunction over a table's scoping columns.
// Empty fields match everything. Metadata key predicates are not part of
// this type: the storage layer treats metadata as opaque, so the query
// engine applies those after scanning.
type Filters struct {
	TaskID  string
	AgentID string
	SwarmID string
	Kind    string
	Outcome Outcome
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return f == Filters{}
}

// Record is the row envelope returned by range reads. Exactly one detailed
// record kind populates it; Table says which. It exists so that the query
// engine and exporters can stream rows from any table through one shape.
type Record struct {
	Table       Table
	TimestampMs int64

	// Task fields (TableTaskMetrics)
	TaskID       string
	Outcome      Outcome
	DurationMs   int64
	TokensUsed   int64
	FilesChanged int64

	// Scope: agent_id for task and agent rows, swarm_id for swarm rows.
	ScopeID string

	// Metric fields (TableAgentMetrics, TableSwarmMetrics)
	Kind     string
	Value    float64
	Metadata map[string]string
}

// MetricValue returns the numeric value a statistical query operates on:
// duration for task rows, the recorded value otherwise.
func (r *Record) MetricValue() float64 {
	if r.Table == TableTaskMetrics {
		return float64(r.DurationMs)
	}
	return r.Value
}

// Task converts the envelope back into a TaskMetric.
func (r *Record) Task() TaskMetric {
	return TaskMetric{
		TaskID:       r.TaskID,
		AgentID:      r.ScopeID,
		TimestampMs:  r.TimestampMs,
		DurationMs:   r.DurationMs,
		Outcome:      r.Outcome,
		TokensUsed:   r.TokensUsed,
		FilesChanged: r.FilesChanged,
	}
}

// Agent converts the envelope back into an AgentMetric.
func (r *Record) Agent() AgentMetric {
	return AgentMetric{
		AgentID:     r.ScopeID,
		TimestampMs: r.TimestampMs,
		Kind:        r.Kind,
		Value:       r.Value,
		Metadata:    r.Metadata,
	}
}

// Swarm converts the envelope back into a SwarmMetric.
func (r *Record) Swarm() SwarmMetric {
	return SwarmMetric{
		SwarmID:     r.ScopeID,
		TimestampMs: r.TimestampMs,
		Kind:        r.Kind,
		Value:       r.Value,
		Metadata:    r.Metadata,
	}
}

// FromTask builds the envelope for a task record.
func FromTask(m TaskMetric) Record {
	return Record{
		Table:        TableTaskMetrics,
		TimestampMs:  m.TimestampMs,
		TaskID:       m.TaskID,
		ScopeID:      m.AgentID,
		Outcome:      m.Outcome,
		DurationMs:   m.DurationMs,
		TokensUsed:   m.TokensUsed,
		FilesChanged: m.FilesChanged,
	}
}

// FromAgent builds the envelope for an agent metric record.
func FromAgent(m AgentMetric) Record {
	return Record{
		Table:       TableAgentMetrics,
		TimestampMs: m.TimestampMs,
		ScopeID:     m.AgentID,
		Kind:        m.Kind,
		Value:       m.Value,
		Metadata:    m.Metadata,
	}
}

// FromSwarm builds the envelope for a swarm metric record.
func FromSwarm(m SwarmMetric) Record {
	return Record{
		Table:       TableSwarmMetrics,
		TimestampMs: m.TimestampMs,
		ScopeID:     m.SwarmID,
		Kind:        m.Kind,
		Value:       m.Value,
		Metadata:    m.Metadata,
	}
}
