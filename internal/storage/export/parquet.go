package export

import (
	"context"
	"encoding/json"
	"io"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/veyrok/swarmstore/internal/storage/types"
)

// RecordRow is the unified parquet row shape for detailed records.
// Metadata is embedded as compact JSON so the schema stays flat.
type RecordRow struct {
	Table        string  `parquet:"table,zstd"`
	TimestampMs  int64   `parquet:"timestamp_ms"`
	TaskID       string  `parquet:"task_id,optional,zstd"`
	ScopeID      string  `parquet:"scope_id,zstd"`
	Outcome      string  `parquet:"outcome,optional,zstd"`
	DurationMs   int64   `parquet:"duration_ms"`
	TokensUsed   int64   `parquet:"tokens_used"`
	FilesChanged int64   `parquet:"files_changed"`
	Kind         string  `parquet:"kind,optional,zstd"`
	Value        float64 `parquet:"value"`
	Metadata     string  `parquet:"metadata,optional,zstd"`
}

// ToRecordRow flattens a record envelope into its parquet shape.
func ToRecordRow(r *types.Record) RecordRow {
	row := RecordRow{
		Table:        r.Table.String(),
		TimestampMs:  r.TimestampMs,
		TaskID:       r.TaskID,
		ScopeID:      r.ScopeID,
		Outcome:      string(r.Outcome),
		DurationMs:   r.DurationMs,
		TokensUsed:   r.TokensUsed,
		FilesChanged: r.FilesChanged,
		Kind:         r.Kind,
		Value:        r.Value,
	}
	if len(r.Metadata) > 0 {
		if b, err := json.Marshal(r.Metadata); err == nil {
			row.Metadata = string(b)
		}
	}
	return row
}

// FromRecordRow rebuilds the record envelope from its parquet shape.
func FromRecordRow(row *RecordRow) types.Record {
	r := types.Record{
		Table:        types.Table(row.Table),
		TimestampMs:  row.TimestampMs,
		TaskID:       row.TaskID,
		ScopeID:      row.ScopeID,
		Outcome:      types.Outcome(row.Outcome),
		DurationMs:   row.DurationMs,
		TokensUsed:   row.TokensUsed,
		FilesChanged: row.FilesChanged,
		Kind:         row.Kind,
		Value:        row.Value,
	}
	if row.Metadata != "" {
		var m map[string]string
		if err := json.Unmarshal([]byte(row.Metadata), &m); err == nil {
			r.Metadata = m
		}
	}
	return r
}

// parquetCodec maps the export compression setting onto a parquet
// column codec.
func parquetCodec(c Compression) compress.Codec {
	switch c {
	case CompressionGzip:
		return &parquet.Gzip
	case CompressionZstd:
		return &parquet.Zstd
	default:
		return &parquet.Uncompressed
	}
}

const parquetFlushRows = 10000

func (e *Exporter) exportParquet(ctx context.Context, w io.Writer, cfg Config, tables []types.Table) (int64, error) {
	writer := parquet.NewGenericWriter[RecordRow](w,
		parquet.Compression(parquetCodec(cfg.Compression)))

	buf := make([]RecordRow, 0, parquetFlushRows)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if _, err := writer.Write(buf); err != nil {
			return err
		}
		buf = buf[:0]
		return nil
	}

	rows, err := e.forEachDetailed(ctx, tables, cfg.Range, func(r types.Record) error {
		buf = append(buf, ToRecordRow(&r))
		if len(buf) >= parquetFlushRows {
			return flush()
		}
		return nil
	})
	if err != nil {
		return rows, err
	}
	if err := flush(); err != nil {
		return rows, err
	}
	return rows, writer.Close()
}
