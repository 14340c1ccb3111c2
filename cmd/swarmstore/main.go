// swarmstore is the metrics storage engine CLI.
//
// Usage:
//
//	swarmstore [flags] <command>
//
// Commands:
//
//	stats      print per-component statistics
//	compact    run one compaction pass
//	retention  run the retention lifecycle (-dry-run to preview)
//	vacuum     reclaim disk space
//	export     serialize stored metrics (-format -out -window -pretty -compress)
//	console    interactive query console
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veyrok/swarmstore/internal/logging"
	"github.com/veyrok/swarmstore/internal/storage"
	"github.com/veyrok/swarmstore/internal/storage/config"
	"github.com/veyrok/swarmstore/internal/storage/export"
	"github.com/veyrok/swarmstore/internal/storage/types"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "", "config file path")
	dbPath := flag.String("db", "", "database path (overrides config)")
	verbose := flag.Bool("v", false, "debug logging")
	jsonLogs := flag.Bool("log-json", false, "JSON log output")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logging.Init(level, *jsonLogs)

	cfg := config.DefaultConfig()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fatal("load config: %v", err)
		}
		cfg = loaded
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}

	cmd := flag.Arg(0)
	if cmd == "" {
		flag.Usage()
		os.Exit(2)
	}

	svc, err := storage.New(cfg)
	if err != nil {
		fatal("open storage: %v", err)
	}
	if err := svc.Start(); err != nil {
		fatal("start storage: %v", err)
	}
	defer svc.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := flag.Args()[1:]
	switch cmd {
	case "stats":
		err = runStats(ctx, svc)
	case "compact":
		err = svc.Compact(ctx)
	case "retention":
		err = runRetention(ctx, svc, args)
	case "vacuum":
		err = svc.Vacuum(ctx)
	case "export":
		err = runExport(ctx, svc, args)
	case "console":
		err = runConsole(ctx, svc)
	default:
		fatal("unknown command %q", cmd)
	}
	if err != nil {
		svc.Stop()
		fatal("%s: %v", cmd, err)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "swarmstore: "+format+"\n", args...)
	os.Exit(1)
}

func runStats(ctx context.Context, svc *storage.Service) error {
	counts, err := svc.TableCounts(ctx)
	if err != nil {
		return err
	}
	stats := svc.Stats()

	fmt.Printf("swarmstore %s\n\n", Version)
	fmt.Println("rows:")
	for _, t := range append(types.DetailedTables(), types.TableArchive) {
		fmt.Printf("  %-16s %d\n", t, counts[t])
	}
	fmt.Printf("\nbuffer: pending=%d enqueued=%d flushed=%d dropped=%d\n",
		stats.Buffer.Pending, stats.Buffer.Enqueued, stats.Buffer.Flushed, stats.Buffer.Dropped)
	fmt.Printf("compaction: passes=%d rows=%d buckets=%d\n",
		stats.Compaction.PassesCompleted, stats.Compaction.RowsCompacted, stats.Compaction.BucketsWritten)
	fmt.Printf("retention: cleanups=%d purged=%d\n",
		stats.Retention.CleanupsCompleted, stats.Retention.BucketsPurged)
	fmt.Printf("queries: executed=%d rejected=%d\n",
		stats.Query.QueriesExecuted, stats.Query.QueriesRejected)
	return nil
}

func runRetention(ctx context.Context, svc *storage.Service, args []string) error {
	fs := flag.NewFlagSet("retention", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "report without deleting")
	fs.Parse(args)

	if *dryRun {
		result, err := svc.DryRunRetention(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("would compact %d detailed rows\n", result.DetailedRows)
		fmt.Printf("would roll up %d hourly buckets\n", result.HourlyBuckets)
		fmt.Printf("would purge %d daily buckets\n", result.DailyBuckets)
		return nil
	}

	result, err := svc.RunRetention(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("purged %d daily buckets\n", result.DailyBuckets)
	return nil
}

func runExport(ctx context.Context, svc *storage.Service, args []string) error {
	defaults := svc.Config().Export

	fs := flag.NewFlagSet("export", flag.ExitOnError)
	format := fs.String("format", defaults.Format, "output format: json|csv|prom|parquet")
	out := fs.String("out", "", "output file (default stdout)")
	window := fs.Duration("window", defaults.Window, "export only the trailing window (e.g. 24h)")
	pretty := fs.Bool("pretty", false, "indent json output")
	compress := fs.String("compress", defaults.Compression, "compression: gzip|zstd")
	fs.Parse(args)

	f, err := export.ParseFormat(*format)
	if err != nil {
		return err
	}
	c, err := export.ParseCompression(*compress)
	if err != nil {
		return err
	}

	cfg := export.Config{Format: f, Pretty: *pretty, Compression: c}
	if *out != "" {
		cfg.Path = *out
	} else {
		cfg.Output = os.Stdout
	}
	if *window > 0 {
		cfg.Range = types.TimeRange{StartMs: time.Now().Add(-*window).UnixMilli()}
	}

	return svc.Export(ctx, cfg)
}
