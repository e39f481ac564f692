package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"codex-stream/internal/adapter/usage"
	"codex-stream/internal/domain"
	"codex-stream/internal/infra/config"
)

func runUsage(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("usage", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfgPath := fs.String("config", defaultConfigPath(), "config file")
	provider := fs.String("provider", "", "only this provider")
	limit := fs.Int("n", 20, "recent streams to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	store, err := usage.NewSQLiteStore(cfg.Usage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	return printUsage(context.Background(), store, *provider, *limit, out)
}

func printUsage(ctx context.Context, store domain.UsageStore, provider string, limit int, out io.Writer) error {
	totals, err := store.Totals(ctx, provider)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "streams: %d (failed %d)\n", totals.Streams, totals.Failed)
	fmt.Fprintf(out, "tokens:  input=%d (cached %d) output=%d (reasoning %d) total=%d\n",
		totals.InputTokens, totals.CachedInputTokens, totals.OutputTokens,
		totals.ReasoningOutputTokens, totals.TotalTokens)

	if limit <= 0 {
		return nil
	}
	records, err := store.List(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tPROVIDER\tMODEL\tTOTAL\tSTATUS")
	for _, r := range records {
		if provider != "" && r.Provider != provider {
			continue
		}
		status := "ok"
		if r.Failed() {
			status = string(r.ErrorCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			r.CreatedAt.Local().Format(time.DateTime), r.Provider, r.Model, r.Usage.TotalTokens, status)
	}
	return tw.Flush()
}
