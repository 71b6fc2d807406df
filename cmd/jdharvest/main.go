package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/partsradar/jdharvest/internal/browser"
	"github.com/partsradar/jdharvest/internal/collect"
	"github.com/partsradar/jdharvest/internal/comments"
	"github.com/partsradar/jdharvest/internal/config"
	"github.com/partsradar/jdharvest/internal/enrich"
	"github.com/partsradar/jdharvest/internal/extract"
	"github.com/partsradar/jdharvest/internal/metrics"
	"github.com/partsradar/jdharvest/internal/models"
	"github.com/partsradar/jdharvest/internal/ratelimit"
	"github.com/partsradar/jdharvest/internal/sink"
	"github.com/partsradar/jdharvest/internal/worklist"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "jdharvest",
		Usage: "storefront listing collector with comment-based enrichment",
		Commands: []*cli.Command{
			collectCommand(),
			enrichCommand(),
			commentsCommand(),
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("interrupted, progress is checkpointed")
			return
		}
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "environment file path",
		Value: ".env",
	}
}

// setup loads the environment file if present, builds the validated
// config, installs the configured slog handler and starts the metrics
// listener when one is configured.
func setup(cmd *cli.Command) (*config.Config, *metrics.Metrics, error) {
	if envFile := cmd.String("env"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Logging.Format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))

	m := metrics.New()
	m.Serve(cfg.Metrics.Addr)
	return cfg, m, nil
}

func collectCommand() *cli.Command {
	return &cli.Command{
		Name:  "collect",
		Usage: "crawl search result pages for every keyword in the work file",
		Flags: []cli.Flag{
			envFlag(),
			&cli.StringFlag{Name: "file", Usage: "keyword work file (overrides COLLECT_WORK_FILE)"},
			&cli.StringFlag{Name: "output", Usage: "output file (overrides COLLECT_OUTPUT_FILE)"},
			&cli.IntFlag{Name: "pages", Usage: "pages per keyword (overrides COLLECT_PAGES)"},
		},
		Action: collectAction,
	}
}

func collectAction(ctx context.Context, cmd *cli.Command) error {
	cfg, m, err := setup(cmd)
	if err != nil {
		return err
	}
	if v := cmd.String("file"); v != "" {
		cfg.Collect.WorkFile = v
	}
	if v := cmd.String("output"); v != "" {
		cfg.Collect.OutputFile = v
	}
	if v := int(cmd.Int("pages")); v > 0 {
		cfg.Collect.Pages = v
	}

	work, err := worklist.Load(cfg.Collect.WorkFile)
	if err != nil {
		return err
	}
	if work.Len() == 0 {
		slog.Info("work file is empty, nothing to collect", "file", cfg.Collect.WorkFile)
		return nil
	}

	b, err := browser.New(browser.OptionsFromConfig(cfg.Browser))
	if err != nil {
		return err
	}
	defer b.Close()

	page, err := b.NewPage(cfg.Browser.Timeout)
	if err != nil {
		return err
	}

	driver := browser.NewPageDriver(page, cfg.Collect.EndpointHints)
	gate := extract.StdinGate{}
	cascade := extract.NewCascade(driver, gate, cfg.Collect.EndpointHints, cfg.Collect.NodeSelector, cfg.Collect.APIWaitTimeout)
	limiter := ratelimit.NewSimpleRateLimiter(cfg.Collect.PageDelayMin, cfg.Collect.PageDelayMax)
	out := sink.New(cfg.Collect.OutputFile, models.Columns)

	orchestrator := collect.NewOrchestrator(driver, cascade, work, out, gate, limiter, m, cfg.Collect)
	return orchestrator.Run(ctx)
}

func enrichCommand() *cli.Command {
	return &cli.Command{
		Name:  "enrich",
		Usage: "fill missing rating and sales fields via the comment summary endpoint",
		Flags: []cli.Flag{
			envFlag(),
			&cli.StringFlag{Name: "input", Usage: "collected listings file", Required: true},
			&cli.StringFlag{Name: "output", Usage: "enriched output file (default: input with suffix)"},
			&cli.IntFlag{Name: "workers", Usage: "concurrent lookups (overrides ENRICH_WORKERS)"},
		},
		Action: enrichAction,
	}
}

func enrichAction(ctx context.Context, cmd *cli.Command) error {
	cfg, m, err := setup(cmd)
	if err != nil {
		return err
	}
	if v := int(cmd.Int("workers")); v > 0 {
		cfg.Enrich.Workers = v
	}

	input := cmd.String("input")
	output := cmd.String("output")
	if output == "" {
		output = suffixedPath(input, cfg.Enrich.OutputSuffix)
	}

	records, err := sink.ReadRecords(input)
	if err != nil {
		return err
	}
	ledger, err := sink.CompletedSKUs(output)
	if err != nil {
		return err
	}

	client, err := enrich.NewSummaryClient(cfg.Enrich)
	if err != nil {
		return err
	}
	out := sink.New(output, models.Columns)
	pool := enrich.NewPool(client, out, cfg.Enrich.Workers, m)

	stats, err := pool.Run(ctx, records, ledger)
	if err != nil {
		return err
	}
	slog.Info("enrichment run complete",
		"input", input, "output", output,
		"enriched", stats.Enriched, "passthrough", stats.PassedThrough, "skipped", stats.Skipped)
	return nil
}

func commentsCommand() *cli.Command {
	return &cli.Command{
		Name:  "comments",
		Usage: "collect product reviews for every SKU in a listings file",
		Flags: []cli.Flag{
			envFlag(),
			&cli.StringFlag{Name: "input", Usage: "delimited file with a sku column", Required: true},
			&cli.IntFlag{Name: "pages", Usage: "comment pages per SKU (overrides COMMENTS_PAGES_PER_SKU)"},
			&cli.BoolFlag{Name: "retry-failed", Usage: "retry SKUs that previously yielded nothing"},
		},
		Action: commentsAction,
	}
}

func commentsAction(ctx context.Context, cmd *cli.Command) error {
	cfg, m, err := setup(cmd)
	if err != nil {
		return err
	}
	if v := int(cmd.Int("pages")); v > 0 {
		cfg.Comments.PagesPerSKU = v
	}

	skus, err := comments.ReadSKUsFromCSV(cmd.String("input"))
	if err != nil {
		return err
	}
	if len(skus) == 0 {
		slog.Info("no SKUs found in input", "input", cmd.String("input"))
		return nil
	}

	out := sink.New(cfg.Comments.OutputFile, models.CommentColumns)
	crawler := comments.NewCrawler(cfg.Comments, out, m)
	return crawler.Run(ctx, skus, cmd.Bool("retry-failed"))
}

// suffixedPath inserts suffix before the file extension:
// listings.csv -> listings_enriched.csv.
func suffixedPath(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}
