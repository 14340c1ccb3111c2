package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/parquet-go/parquet-go"

	apperrors "github.com/veyrok/swarmstore/internal/errors"
	"github.com/veyrok/swarmstore/internal/storage/config"
	"github.com/veyrok/swarmstore/internal/storage/db"
	"github.com/veyrok/swarmstore/internal/storage/types"
)

func setup(t *testing.T) (*db.DB, *Exporter) {
	t.Helper()
	cfg := config.DefaultConfig().Store
	cfg.Path = ""
	d, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d, New(d)
}

func seed(t *testing.T, d *db.DB) {
	t.Helper()
	ctx := context.Background()

	if err := d.InsertTaskMetrics(ctx, []types.TaskMetric{
		{TaskID: "t1", AgentID: "a1", TimestampMs: 1000, DurationMs: 412,
			Outcome: types.OutcomeSuccess, TokensUsed: 900, FilesChanged: 3},
		{TaskID: "t2", AgentID: "a2", TimestampMs: 2000, DurationMs: 250,
			Outcome: types.OutcomeTimeout},
	}); err != nil {
		t.Fatalf("seed tasks: %v", err)
	}
	if err := d.InsertAgentMetrics(ctx, []types.AgentMetric{
		{AgentID: "a1", TimestampMs: 1500, Kind: "throughput", Value: 17.5,
			Metadata: map[string]string{"model": "large"}},
	}); err != nil {
		t.Fatalf("seed agents: %v", err)
	}
	if err := d.InsertSwarmMetrics(ctx, []types.SwarmMetric{
		{SwarmID: "s1", TimestampMs: 1800, Kind: "health", Value: 0.97},
	}); err != nil {
		t.Fatalf("seed swarms: %v", err)
	}
}

func TestExportJSON(t *testing.T) {
	d, e := setup(t)
	seed(t, d)

	var buf bytes.Buffer
	if err := e.Export(context.Background(), Config{
		Format: FormatJSON, Output: &buf, Pretty: true,
	}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	var doc struct {
		GeneratedAt string `json:"generated_at"`
		Range       struct {
			StartMs int64 `json:"start_ms"`
			EndMs   int64 `json:"end_ms"`
		} `json:"range"`
		Tasks []struct {
			TaskID     string `json:"task_id"`
			DurationMs int64  `json:"duration_ms"`
			Outcome    string `json:"outcome"`
		} `json:"tasks"`
		Agents []struct {
			ScopeID  string            `json:"scope_id"`
			Value    float64           `json:"value"`
			Metadata map[string]string `json:"metadata"`
		} `json:"agents"`
		Swarms  []json.RawMessage `json:"swarms"`
		Archive []json.RawMessage `json:"archive"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}

	if doc.GeneratedAt == "" {
		t.Error("generated_at missing")
	}
	if len(doc.Tasks) != 2 || len(doc.Agents) != 1 || len(doc.Swarms) != 1 {
		t.Errorf("unexpected section sizes: tasks=%d agents=%d swarms=%d",
			len(doc.Tasks), len(doc.Agents), len(doc.Swarms))
	}
	if doc.Tasks[0].TaskID != "t1" || doc.Tasks[0].DurationMs != 412 {
		t.Errorf("task serialization wrong: %+v", doc.Tasks[0])
	}
	if doc.Agents[0].Metadata["model"] != "large" {
		t.Errorf("metadata lost: %+v", doc.Agents[0])
	}
}

func TestExportCSV(t *testing.T) {
	d, e := setup(t)
	seed(t, d)

	var buf bytes.Buffer
	if err := e.Export(context.Background(), Config{Format: FormatCSV, Output: &buf}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(records) != 5 { // header + 4 rows
		t.Fatalf("expected 5 csv rows, got %d", len(records))
	}
	if records[0][0] != "table" {
		t.Errorf("missing header: %v", records[0])
	}

	// First data row is the earliest task.
	row := records[1]
	if row[0] != "task_metrics" || row[2] != "t1" || row[5] != "412" {
		t.Errorf("unexpected first row: %v", row)
	}

	// Agent row carries kind, value and metadata JSON.
	for _, r := range records[1:] {
		if r[0] != "agent_metrics" {
			continue
		}
		if r[8] != "throughput" || r[9] != "17.5" {
			t.Errorf("agent row wrong: %v", r)
		}
		var m map[string]string
		if err := json.Unmarshal([]byte(r[10]), &m); err != nil || m["model"] != "large" {
			t.Errorf("metadata column wrong: %q", r[10])
		}
	}
}

func TestExportPromParsesBack(t *testing.T) {
	d, e := setup(t)
	seed(t, d)

	var buf bytes.Buffer
	if err := e.Export(context.Background(), Config{Format: FormatProm, Output: &buf}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 exposition lines, got %d", len(lines))
	}

	for _, line := range lines {
		name, labels, value, tsMs, err := ParsePromLine(line)
		if err != nil {
			t.Fatalf("line does not parse back: %q: %v", line, err)
		}
		if name == "" || tsMs == 0 {
			t.Errorf("incomplete parse of %q", line)
		}
		switch name {
		case "swarmstore_task_duration_ms":
			if labels["agent_id"] == "" || labels["outcome"] == "" {
				t.Errorf("task labels missing: %v", labels)
			}
		case "swarmstore_agent_metric":
			if value != 17.5 || labels["kind"] != "throughput" || labels["meta_model"] != "large" {
				t.Errorf("agent line wrong: %v %v", labels, value)
			}
		case "swarmstore_swarm_metric":
			if labels["swarm_id"] != "s1" {
				t.Errorf("swarm labels missing: %v", labels)
			}
		default:
			t.Errorf("unknown metric name %q", name)
		}
	}
}

func TestExportParquetRoundTrip(t *testing.T) {
	d, e := setup(t)
	seed(t, d)

	var buf bytes.Buffer
	if err := e.Export(context.Background(), Config{
		Format: FormatParquet, Output: &buf, Compression: CompressionZstd,
	}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	rows, err := parquet.Read[RecordRow](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("output is not valid parquet: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 parquet rows, got %d", len(rows))
	}

	var sawTask bool
	for i := range rows {
		r := FromRecordRow(&rows[i])
		if r.Table == types.TableTaskMetrics && r.TaskID == "t1" {
			sawTask = true
			if r.DurationMs != 412 || r.Outcome != types.OutcomeSuccess {
				t.Errorf("task row corrupted: %+v", r)
			}
		}
		if r.Table == types.TableAgentMetrics && r.Metadata["model"] != "large" {
			t.Errorf("metadata lost in parquet round trip: %+v", r)
		}
	}
	if !sawTask {
		t.Error("task row missing from parquet output")
	}
}

func TestExportGzipCompression(t *testing.T) {
	d, e := setup(t)
	seed(t, d)

	var buf bytes.Buffer
	if err := e.Export(context.Background(), Config{
		Format: FormatCSV, Output: &buf, Compression: CompressionGzip,
	}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	gr, err := gzip.NewReader(&buf)
	if err != nil {
		t.Fatalf("output is not gzip: %v", err)
	}
	records, err := csv.NewReader(gr).ReadAll()
	if err != nil {
		t.Fatalf("decompressed output is not CSV: %v", err)
	}
	if len(records) != 5 {
		t.Errorf("expected 5 rows after decompression, got %d", len(records))
	}
}

func TestExportTimeRange(t *testing.T) {
	d, e := setup(t)
	seed(t, d)

	var buf bytes.Buffer
	if err := e.Export(context.Background(), Config{
		Format: FormatCSV, Output: &buf,
		Range: types.TimeRange{StartMs: 1500, EndMs: 2000},
	}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	// Header + agent(1500) + swarm(1800). Task at 2000 is excluded by
	// the half-open range.
	if len(records) != 3 {
		t.Errorf("expected 3 rows in range, got %d: %v", len(records), records)
	}
}

func TestExportRejectsBadConfig(t *testing.T) {
	_, e := setup(t)
	ctx := context.Background()

	var buf bytes.Buffer
	if err := e.Export(ctx, Config{Format: "yaml", Output: &buf}); !apperrors.Is(err, apperrors.ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
	if err := e.Export(ctx, Config{Format: FormatCSV, Output: &buf, Compression: "lzma"}); !apperrors.Is(err, apperrors.ErrUnknownCompression) {
		t.Errorf("expected ErrUnknownCompression, got %v", err)
	}
	if err := e.Export(ctx, Config{Format: FormatCSV, Output: &buf,
		Tables: []types.Table{types.TableArchive}}); !apperrors.IsInvalidQuery(err) {
		t.Errorf("expected invalid-query for archive csv, got %v", err)
	}
	if err := e.Export(ctx, Config{Format: FormatJSON}); !apperrors.Is(err, apperrors.ErrMissingField) {
		t.Errorf("expected ErrMissingField for missing output, got %v", err)
	}
}
