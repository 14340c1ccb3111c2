package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/veyrok/swarmstore/internal/storage/types"
)

// csvHeader is the unified row shape shared by all detailed tables.
// Columns that do not apply to a row's table stay empty.
var csvHeader = []string{
	"table", "timestamp_ms", "task_id", "scope_id", "outcome",
	"duration_ms", "tokens_used", "files_changed", "kind", "value", "metadata",
}

func (e *Exporter) exportCSV(ctx context.Context, w io.Writer, cfg Config, tables []types.Table) (int64, error) {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}

	rows, err := e.forEachDetailed(ctx, tables, cfg.Range, func(r types.Record) error {
		return cw.Write(csvRow(&r))
	})
	if err != nil {
		return rows, err
	}

	cw.Flush()
	return rows, cw.Error()
}

// csvRow serializes a record deterministically: integers in base 10,
// floats with strconv 'g' formatting, metadata as compact JSON.
func csvRow(r *types.Record) []string {
	row := make([]string, len(csvHeader))
	row[0] = r.Table.String()
	row[1] = strconv.FormatInt(r.TimestampMs, 10)

	switch r.Table {
	case types.TableTaskMetrics:
		row[2] = r.TaskID
		row[3] = r.ScopeID
		row[4] = string(r.Outcome)
		row[5] = strconv.FormatInt(r.DurationMs, 10)
		row[6] = strconv.FormatInt(r.TokensUsed, 10)
		row[7] = strconv.FormatInt(r.FilesChanged, 10)
	default:
		row[3] = r.ScopeID
		row[8] = r.Kind
		row[9] = strconv.FormatFloat(r.Value, 'g', -1, 64)
		if len(r.Metadata) > 0 {
			b, err := json.Marshal(r.Metadata)
			if err == nil {
				row[10] = string(b)
			}
		}
	}
	return row
}
