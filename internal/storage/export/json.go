package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/veyrok/swarmstore/internal/storage/types"
)

// JSON export produces one nested document:
//
//	{
//	  "generated_at": "...",
//	  "range": {"start_ms": ..., "end_ms": ...},
//	  "tasks": [...], "agents": [...], "swarms": [...],
//	  "archive": [...]
//	}
//
// Arrays stream element by element so a large table never lives in
// memory at once.

type jsonTask struct {
	TaskID       string        `json:"task_id"`
	AgentID      string        `json:"agent_id"`
	TimestampMs  int64         `json:"timestamp_ms"`
	DurationMs   int64         `json:"duration_ms"`
	Outcome      types.Outcome `json:"outcome"`
	TokensUsed   int64         `json:"tokens_used"`
	FilesChanged int64         `json:"files_changed"`
}

type jsonMetric struct {
	ScopeID     string            `json:"scope_id"`
	TimestampMs int64             `json:"timestamp_ms"`
	Kind        string            `json:"kind"`
	Value       float64           `json:"value"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type jsonBucket struct {
	SourceTable   types.Table `json:"source_table"`
	ScopeID       string      `json:"scope_id"`
	Kind          string      `json:"kind"`
	Level         types.Level `json:"level"`
	BucketStartMs int64       `json:"bucket_start_ms"`
	BucketEndMs   int64       `json:"bucket_end_ms"`
	Count         int64       `json:"count"`
	Sum           float64     `json:"sum"`
	Min           float64     `json:"min"`
	Max           float64     `json:"max"`
	Mean          float64     `json:"mean"`
	Stddev        float64     `json:"stddev"`
	P50           *float64    `json:"p50,omitempty"`
	P95           *float64    `json:"p95,omitempty"`
	P99           *float64    `json:"p99,omitempty"`
}

// jsonStreamer writes a document piecewise, tracking indentation when
// pretty output is requested.
type jsonStreamer struct {
	w      io.Writer
	pretty bool
	err    error
}

func (js *jsonStreamer) raw(s string) {
	if js.err != nil {
		return
	}
	_, js.err = io.WriteString(js.w, s)
}

func (js *jsonStreamer) value(v any, indent string) {
	if js.err != nil {
		return
	}
	var b []byte
	if js.pretty {
		b, js.err = json.MarshalIndent(v, indent, "  ")
	} else {
		b, js.err = json.Marshal(v)
	}
	if js.err == nil {
		_, js.err = js.w.Write(b)
	}
}

func (e *Exporter) exportJSON(ctx context.Context, w io.Writer, cfg Config, tables []types.Table) (int64, error) {
	js := &jsonStreamer{w: w, pretty: cfg.Pretty}

	nl, ind := "", ""
	if cfg.Pretty {
		nl, ind = "\n", "  "
	}

	js.raw("{" + nl)
	js.raw(ind + `"generated_at": `)
	js.value(time.Now().UTC().Format(time.RFC3339), ind)
	js.raw("," + nl + ind + `"range": `)
	js.value(map[string]int64{"start_ms": cfg.Range.StartMs, "end_ms": cfg.Range.EndMs}, ind)

	sections := []struct {
		name  string
		table types.Table
	}{
		{"tasks", types.TableTaskMetrics},
		{"agents", types.TableAgentMetrics},
		{"swarms", types.TableSwarmMetrics},
	}

	var rows int64
	selected := make(map[types.Table]bool, len(tables))
	for _, t := range tables {
		selected[t] = true
	}

	for _, sec := range sections {
		if !selected[sec.table] {
			continue
		}
		js.raw("," + nl + ind + fmt.Sprintf("%q: [", sec.name))

		first := true
		err := e.db.ForEachRange(ctx, sec.table, cfg.Range, types.Filters{}, 0, func(r types.Record) error {
			if js.err != nil {
				return js.err
			}
			if !first {
				js.raw(",")
			}
			first = false
			js.raw(nl + ind + ind)

			if sec.table == types.TableTaskMetrics {
				t := r.Task()
				js.value(jsonTask{
					TaskID: t.TaskID, AgentID: t.AgentID, TimestampMs: t.TimestampMs,
					DurationMs: t.DurationMs, Outcome: t.Outcome,
					TokensUsed: t.TokensUsed, FilesChanged: t.FilesChanged,
				}, ind+ind)
			} else {
				js.value(jsonMetric{
					ScopeID: r.ScopeID, TimestampMs: r.TimestampMs,
					Kind: r.Kind, Value: r.Value, Metadata: r.Metadata,
				}, ind+ind)
			}
			rows++
			return js.err
		})
		if err != nil {
			return rows, err
		}
		if !first {
			js.raw(nl + ind)
		}
		js.raw("]")
	}

	if selected[types.TableArchive] {
		js.raw("," + nl + ind + `"archive": [`)
		first := true
		for _, t := range types.DetailedTables() {
			buckets, err := e.db.ReadArchive(ctx, t, "", cfg.Range, "", "")
			if err != nil {
				return rows, err
			}
			for i := range buckets {
				b := &buckets[i]
				if !first {
					js.raw(",")
				}
				first = false
				js.raw(nl + ind + ind)
				js.value(jsonBucket{
					SourceTable: b.Table, ScopeID: b.ScopeID, Kind: b.Kind,
					Level: b.Level, BucketStartMs: b.BucketStartMs, BucketEndMs: b.BucketEndMs,
					Count: b.Count, Sum: b.Sum, Min: b.Min, Max: b.Max,
					Mean: b.Mean(), Stddev: b.Stddev(),
					P50: b.P50, P95: b.P95, P99: b.P99,
				}, ind+ind)
				rows++
			}
		}
		if !first {
			js.raw(nl + ind)
		}
		js.raw("]")
	}

	js.raw(nl + "}" + nl)
	return rows, js.err
}
