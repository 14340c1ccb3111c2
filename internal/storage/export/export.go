// Package export serializes stored metrics to interchange formats.
//
// Four formats are supported: json (nested document), csv (flat rows),
// prom (Prometheus exposition lines) and parquet (columnar). Rows stream
// from the database straight to the output writer; an export never
// materializes a full table in memory. Output can be wrapped in gzip or
// zstd via klauspost/compress.
package export

import (
	"context"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	apperrors "github.com/veyrok/swarmstore/internal/errors"
	"github.com/veyrok/swarmstore/internal/logging"
	"github.com/veyrok/swarmstore/internal/storage/db"
	"github.com/veyrok/swarmstore/internal/storage/types"
)

// Format names an export serialization.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatProm    Format = "prom"
	FormatParquet Format = "parquet"
)

// ParseFormat converts a format name into a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCSV, FormatProm, FormatParquet:
		return Format(s), nil
	default:
		return "", apperrors.Wrapf(apperrors.ErrUnknownFormat, "%q", s)
	}
}

// Compression names an output compression codec.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ParseCompression converts a codec name into a Compression.
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case CompressionNone, CompressionGzip, CompressionZstd, "":
		if s == "" {
			return CompressionNone, nil
		}
		return Compression(s), nil
	default:
		return "", apperrors.Wrapf(apperrors.ErrUnknownCompression, "%q", s)
	}
}

// Config describes one export.
type Config struct {
	Format Format

	// Output receives the serialized data. If nil, Path is opened
	// (created or truncated) instead.
	Output io.Writer
	Path   string

	// Range restricts the export; zero means everything retained.
	Range types.TimeRange

	// Tables lists the tables to export. Empty means the three detailed
	// tables, plus the archive for json.
	Tables []types.Table

	// Pretty indents json output.
	Pretty bool

	Compression Compression
}

// Exporter streams stored metrics to interchange formats.
type Exporter struct {
	db *db.DB

	stats Stats
}

// Stats holds export statistics.
type Stats struct {
	ExportsCompleted atomic.Int64
	ExportsFailed    atomic.Int64
	RowsExported     atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	ExportsCompleted int64
	ExportsFailed    int64
	RowsExported     int64
}

// New creates an Exporter over the given database.
func New(database *db.DB) *Exporter {
	return &Exporter{db: database}
}

// Export runs one export per cfg. The output writer is not closed;
// writers created from cfg.Path are.
func (e *Exporter) Export(ctx context.Context, cfg Config) error {
	if _, err := ParseFormat(string(cfg.Format)); err != nil {
		e.stats.ExportsFailed.Add(1)
		return err
	}
	if _, err := ParseCompression(string(cfg.Compression)); err != nil {
		e.stats.ExportsFailed.Add(1)
		return err
	}

	tables := cfg.Tables
	if len(tables) == 0 {
		tables = types.DetailedTables()
		if cfg.Format == FormatJSON {
			tables = append(tables, types.TableArchive)
		}
	}
	for _, t := range tables {
		if !t.IsDetailed() && t != types.TableArchive {
			e.stats.ExportsFailed.Add(1)
			return apperrors.NewUnknownTable(string(t))
		}
		if t == types.TableArchive && cfg.Format != FormatJSON {
			e.stats.ExportsFailed.Add(1)
			return apperrors.NewInvalidQuery("archive export requires the json format")
		}
	}

	out := cfg.Output
	if out == nil {
		if cfg.Path == "" {
			e.stats.ExportsFailed.Add(1)
			return apperrors.NewMissingField("output")
		}
		f, err := os.Create(cfg.Path)
		if err != nil {
			e.stats.ExportsFailed.Add(1)
			return apperrors.Wrap(err, "create export file")
		}
		defer f.Close()
		out = f
	}

	// Parquet compresses internally per column chunk; wrapping the
	// stream would make the file unreadable to parquet tooling.
	var closeCompressor func() error
	if cfg.Format != FormatParquet {
		var err error
		out, closeCompressor, err = wrapCompression(out, cfg.Compression)
		if err != nil {
			e.stats.ExportsFailed.Add(1)
			return err
		}
	}

	start := time.Now()
	var rows int64
	var err error

	switch cfg.Format {
	case FormatJSON:
		rows, err = e.exportJSON(ctx, out, cfg, tables)
	case FormatCSV:
		rows, err = e.exportCSV(ctx, out, cfg, tables)
	case FormatProm:
		rows, err = e.exportProm(ctx, out, cfg, tables)
	case FormatParquet:
		rows, err = e.exportParquet(ctx, out, cfg, tables)
	}

	if err == nil && closeCompressor != nil {
		err = closeCompressor()
	}
	if err != nil {
		e.stats.ExportsFailed.Add(1)
		return apperrors.Wrapf(err, "export %s", cfg.Format)
	}

	e.stats.ExportsCompleted.Add(1)
	e.stats.RowsExported.Add(rows)
	logging.Component("export").Info("export completed",
		"format", cfg.Format, "rows", rows, "duration", time.Since(start))
	return nil
}

// wrapCompression wraps w per codec and returns the writer plus a
// finalizer that flushes the codec without closing the underlying
// writer.
func wrapCompression(w io.Writer, c Compression) (io.Writer, func() error, error) {
	switch c {
	case CompressionGzip:
		gw := gzip.NewWriter(w)
		return gw, gw.Close, nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, apperrors.Wrap(err, "init zstd writer")
		}
		return zw, zw.Close, nil
	default:
		return w, nil, nil
	}
}

// Stats returns a snapshot of export statistics.
func (e *Exporter) Stats() StatsSnapshot {
	return StatsSnapshot{
		ExportsCompleted: e.stats.ExportsCompleted.Load(),
		ExportsFailed:    e.stats.ExportsFailed.Load(),
		RowsExported:     e.stats.RowsExported.Load(),
	}
}

// forEachDetailed streams every detailed table selected in tables.
func (e *Exporter) forEachDetailed(ctx context.Context, tables []types.Table,
	tr types.TimeRange, fn func(types.Record) error) (int64, error) {
	var rows int64
	for _, t := range tables {
		if !t.IsDetailed() {
			continue
		}
		err := e.db.ForEachRange(ctx, t, tr, types.Filters{}, 0, func(r types.Record) error {
			rows++
			return fn(r)
		})
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}
