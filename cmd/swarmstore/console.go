package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"

	"github.com/veyrok/swarmstore/internal/storage"
	"github.com/veyrok/swarmstore/internal/storage/export"
	"github.com/veyrok/swarmstore/internal/storage/query"
	"github.com/veyrok/swarmstore/internal/storage/types"
)

// console is an interactive query REPL.
//
// Grammar:
//
//	tables
//	records <table> [limit]
//	archive <table> [hourly|daily]
//	agg <fn> <table> [kind]
//	pct <p> <table> [kind]
//	top <n> <table> <kind> <fn>
//	export <format> <path>
//	sql <select statement>
//	stats
//	exit
type console struct {
	ctx context.Context
	svc *storage.Service
}

func runConsole(ctx context.Context, svc *storage.Service) error {
	c := &console{ctx: ctx, svc: svc}
	fmt.Println("swarmstore console; 'exit' to quit")

	p := prompt.New(
		c.execute,
		c.complete,
		prompt.OptionPrefix("swarmstore> "),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			in = strings.TrimSpace(in)
			return breakline && (in == "exit" || in == "quit")
		}),
	)
	p.Run()
	return nil
}

var consoleCommands = []prompt.Suggest{
	{Text: "tables", Description: "list tables and row counts"},
	{Text: "records", Description: "records <table> [limit]"},
	{Text: "archive", Description: "archive <table> [hourly|daily]"},
	{Text: "agg", Description: "agg <fn> <table> [kind]"},
	{Text: "pct", Description: "pct <p> <table> [kind]"},
	{Text: "top", Description: "top <n> <table> <kind> <fn>"},
	{Text: "export", Description: "export <format> <path>"},
	{Text: "sql", Description: "sql <select statement>"},
	{Text: "stats", Description: "component statistics"},
	{Text: "exit", Description: "leave the console"},
}

var tableSuggestions = []prompt.Suggest{
	{Text: "task_metrics"},
	{Text: "agent_metrics"},
	{Text: "swarm_metrics"},
}

var aggSuggestions = []prompt.Suggest{
	{Text: "avg"}, {Text: "sum"}, {Text: "count"},
	{Text: "min"}, {Text: "max"}, {Text: "stddev"},
}

var formatSuggestions = []prompt.Suggest{
	{Text: "json"}, {Text: "csv"}, {Text: "prom"}, {Text: "parquet"},
}

func (c *console) complete(d prompt.Document) []prompt.Suggest {
	text := d.TextBeforeCursor()
	fields := strings.Fields(text)

	// Completing the first word.
	if len(fields) == 0 || (len(fields) == 1 && !strings.HasSuffix(text, " ")) {
		return prompt.FilterHasPrefix(consoleCommands, d.GetWordBeforeCursor(), true)
	}

	word := d.GetWordBeforeCursor()
	switch fields[0] {
	case "records", "archive":
		return prompt.FilterHasPrefix(tableSuggestions, word, true)
	case "agg":
		if len(fields) <= 2 && !strings.HasSuffix(text, " ") || len(fields) == 1 {
			return prompt.FilterHasPrefix(aggSuggestions, word, true)
		}
		return prompt.FilterHasPrefix(tableSuggestions, word, true)
	case "pct", "top":
		return prompt.FilterHasPrefix(tableSuggestions, word, true)
	case "export":
		return prompt.FilterHasPrefix(formatSuggestions, word, true)
	}
	return nil
}

func (c *console) execute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()

	var err error
	switch fields[0] {
	case "exit", "quit":
		return
	case "tables":
		err = c.tables(ctx)
	case "records":
		err = c.records(ctx, fields[1:])
	case "archive":
		err = c.archive(ctx, fields[1:])
	case "agg":
		err = c.agg(ctx, fields[1:])
	case "pct":
		err = c.pct(ctx, fields[1:])
	case "top":
		err = c.top(ctx, fields[1:])
	case "export":
		err = c.export(ctx, fields[1:])
	case "sql":
		err = c.sql(ctx, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "sql")))
	case "stats":
		err = runStats(ctx, c.svc)
	default:
		err = fmt.Errorf("unknown command %q", fields[0])
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func (c *console) tables(ctx context.Context) error {
	counts, err := c.svc.TableCounts(ctx)
	if err != nil {
		return err
	}
	for _, t := range append(types.DetailedTables(), types.TableArchive) {
		fmt.Printf("%-16s %d\n", t, counts[t])
	}
	return nil
}

func (c *console) records(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: records <table> [limit]")
	}
	table, err := types.ParseTable(args[0])
	if err != nil {
		return err
	}
	limit := int64(20)
	if len(args) > 1 {
		limit, err = strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return err
		}
	}

	rows, err := c.svc.Records(ctx, query.Query{Table: table, Limit: limit})
	if err != nil {
		return err
	}
	for i := range rows {
		r := &rows[i]
		ts := time.UnixMilli(r.TimestampMs).UTC().Format(time.RFC3339)
		if table == types.TableTaskMetrics {
			fmt.Printf("%s task=%s agent=%s outcome=%s duration_ms=%d\n",
				ts, r.TaskID, r.ScopeID, r.Outcome, r.DurationMs)
		} else {
			fmt.Printf("%s scope=%s kind=%s value=%g\n", ts, r.ScopeID, r.Kind, r.Value)
		}
	}
	fmt.Printf("(%d rows)\n", len(rows))
	return nil
}

func (c *console) archive(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: archive <table> [hourly|daily]")
	}
	table, err := types.ParseTable(args[0])
	if err != nil {
		return err
	}
	var level types.Level
	if len(args) > 1 {
		level, err = types.ParseLevel(args[1])
		if err != nil {
			return err
		}
	}

	buckets, err := c.svc.ArchiveBuckets(ctx, table, level, types.TimeRange{})
	if err != nil {
		return err
	}
	for i := range buckets {
		b := &buckets[i]
		start := time.UnixMilli(b.BucketStartMs).UTC().Format(time.RFC3339)
		fmt.Printf("%s %-6s scope=%s kind=%s count=%d sum=%g\n",
			start, b.Level, b.ScopeID, b.Kind, b.Count, b.Sum)
	}
	fmt.Printf("(%d buckets)\n", len(buckets))
	return nil
}

func (c *console) agg(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: agg <fn> <table> [kind]")
	}
	fn, err := query.ParseAggFn(args[0])
	if err != nil {
		return err
	}
	table, err := types.ParseTable(args[1])
	if err != nil {
		return err
	}
	q := query.Query{Table: table}
	if len(args) > 2 {
		q.Filters.Kind = args[2]
	}

	res, err := c.svc.Aggregate(ctx, q, fn)
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

func (c *console) pct(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: pct <p> <table> [kind]")
	}
	p, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return err
	}
	table, err := types.ParseTable(args[1])
	if err != nil {
		return err
	}
	q := query.Query{Table: table}
	if len(args) > 2 {
		q.Filters.Kind = args[2]
	}

	res, err := c.svc.Percentile(ctx, q, p)
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

func (c *console) top(ctx context.Context, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: top <n> <table> <kind> <fn>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	table, err := types.ParseTable(args[1])
	if err != nil {
		return err
	}
	fn, err := query.ParseAggFn(args[3])
	if err != nil {
		return err
	}

	rankings, err := c.svc.TopN(ctx, table, args[2], fn, n, types.TimeRange{})
	if err != nil {
		return err
	}
	for i, r := range rankings {
		approx := ""
		if r.Approximate {
			approx = " ~"
		}
		fmt.Printf("%2d. %-24s %g (n=%d)%s\n", i+1, r.ScopeID, r.Value, r.Count, approx)
	}
	return nil
}

func (c *console) export(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: export <format> <path>")
	}
	f, err := export.ParseFormat(args[0])
	if err != nil {
		return err
	}
	if err := c.svc.Export(ctx, export.Config{Format: f, Path: args[1]}); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", args[1])
	return nil
}

func (c *console) sql(ctx context.Context, stmt string) error {
	if stmt == "" {
		return fmt.Errorf("usage: sql <select statement>")
	}
	cols, rows, err := c.svc.RawQuery(ctx, stmt)
	if err != nil {
		return err
	}
	fmt.Println(strings.Join(cols, "\t"))
	for _, row := range rows {
		fmt.Println(strings.Join(row, "\t"))
	}
	fmt.Printf("(%d rows)\n", len(rows))
	return nil
}

func printResult(res query.Result) {
	if res.Value == nil {
		fmt.Printf("no data (count=%d)\n", res.Count)
		return
	}
	approx := ""
	if res.Approximate {
		approx = " (approximate)"
	}
	fmt.Printf("%g over %d samples%s\n", *res.Value, res.Count, approx)
}
