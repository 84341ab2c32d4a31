package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vigil-archive/vigil/internal/cli"
)

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "stats does not accept positional arguments")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, _, _, pool, err := connectPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	dayStart, dayEnd := utcDayBounds(defaultUTCDay())

	stats, err := pool.QueryPipelineStats(ctx, dayStart, dayEnd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query pipeline stats: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(stats); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	typeRows := make([][]string, 0, len(stats.Types)+1)
	for _, row := range stats.Types {
		typeRows = append(typeRows, []string{
			row.Type,
			fmt.Sprintf("%d", row.Violations),
			fmt.Sprintf("%d", row.Casualties),
			fmt.Sprintf("%d", row.Merges),
		})
	}
	typeRows = append(typeRows, []string{
		"TOTAL",
		fmt.Sprintf("%d", stats.Totals.Violations),
		fmt.Sprintf("%d", stats.Totals.Casualties),
		fmt.Sprintf("%d", stats.Totals.Merges),
	})

	if err := writeTable([]string{"type", "violations", "casualties", "merges"}, typeRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render type table: %v\n", err)
		return 1
	}

	fmt.Println()
	reportRows := make([][]string, 0, len(stats.Reports))
	for _, row := range stats.Reports {
		reportRows = append(reportRows, []string{row.Status, fmt.Sprintf("%d", row.Reports)})
	}
	if err := writeTable([]string{"report_status", "count"}, reportRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render report table: %v\n", err)
		return 1
	}

	fmt.Println()
	throughputRows := [][]string{
		{"reports_received_today", fmt.Sprintf("%d", stats.Throughput.ReportsReceivedToday)},
		{"violations_created_today", fmt.Sprintf("%d", stats.Throughput.ViolationsCreatedToday)},
		{"merges_today", fmt.Sprintf("%d", stats.Throughput.MergesToday)},
		{"pending_reports", fmt.Sprintf("%d", stats.Throughput.PendingReports)},
	}
	if err := writeTable([]string{"metric", "value"}, throughputRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render throughput table: %v\n", err)
		return 1
	}

	return 0
}
