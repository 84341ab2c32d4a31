package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vigil-archive/vigil/internal/cli"
	"github.com/vigil-archive/vigil/internal/metrics"
	"github.com/vigil-archive/vigil/internal/report"
)

func runProcess(args []string) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")
	limit := fs.Int("limit", 100, "Maximum pending reports to pick up")
	chunkSize := fs.Int("chunk-size", 0, "Override the configured chunk size")
	concurrency := fs.Int("concurrency", 0, "Override the configured per-chunk concurrency")
	chunkDelay := fs.Duration("delay", 0, "Override the configured delay between chunks")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "process does not accept positional arguments")
		return 2
	}
	if *limit < 1 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 1")
		return 2
	}
	if *chunkSize < 0 || *concurrency < 0 || *chunkDelay < 0 {
		fmt.Fprintln(os.Stderr, "--chunk-size, --concurrency and --delay must be >= 0")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, cfg, logger, pool, err := connectPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	if *chunkSize > 0 {
		cfg.BatchChunkSize = *chunkSize
	}
	if *concurrency > 0 {
		cfg.BatchConcurrency = *concurrency
	}
	if *chunkDelay > 0 {
		cfg.BatchChunkDelay = *chunkDelay
	}

	m := metrics.New()
	processor := report.NewProcessor(
		pool,
		buildExtractor(cfg, logger),
		buildCreator(pool, cfg, m, logger),
		cfg,
		m,
		logger,
	)

	summary, err := processor.ProcessBatch(ctx, report.BatchOptions{Limit: *limit})
	if err != nil {
		logger.Error().Err(err).Msg("batch processing failed")
		fmt.Fprintf(os.Stderr, "Batch processing failed: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(summary); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := [][]string{
		{"run_id", summary.RunID},
		{"total", fmt.Sprintf("%d", summary.Total)},
		{"processed", fmt.Sprintf("%d", summary.Processed)},
		{"ignored", fmt.Sprintf("%d", summary.Ignored)},
		{"failed", fmt.Sprintf("%d", summary.Failed)},
		{"skipped", fmt.Sprintf("%d", summary.Skipped)},
		{"violations_created", fmt.Sprintf("%d", summary.Created)},
		{"violations_merged", fmt.Sprintf("%d", summary.Merged)},
		{"elapsed", summary.Elapsed.Round(time.Millisecond).String()},
	}
	if err := writeTable([]string{"metric", "value"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render summary table: %v\n", err)
		return 1
	}

	return 0
}
