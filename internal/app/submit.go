package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vigil-archive/vigil/internal/cli"
	"github.com/vigil-archive/vigil/internal/db"
)

func runSubmit(args []string) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	channel := fs.String("channel", "", "Source channel the report came from")
	messageID := fs.String("message-id", "", "Channel-unique message id")
	sourceURL := fs.String("url", "", "Optional source URL")
	language := fs.String("language", "", "Optional ISO 639-1 language of the text")
	postedAt := fs.String("posted-at", "", "Optional RFC3339 posting time")
	text := fs.String("text", "", "Report text (or use --file)")
	file := fs.String("file", "", "Read report text from this file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "submit does not accept positional arguments")
		return 2
	}
	if strings.TrimSpace(*channel) == "" || strings.TrimSpace(*messageID) == "" {
		fmt.Fprintln(os.Stderr, "--channel and --message-id are required")
		return 2
	}

	reportText := strings.TrimSpace(*text)
	if reportText == "" && strings.TrimSpace(*file) != "" {
		content, err := os.ReadFile(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read --file: %v\n", err)
			return 1
		}
		reportText = strings.TrimSpace(string(content))
	}
	if reportText == "" {
		fmt.Fprintln(os.Stderr, "--text or --file is required")
		return 2
	}

	var posted *time.Time
	if strings.TrimSpace(*postedAt) != "" {
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*postedAt))
		if err != nil {
			fmt.Fprintln(os.Stderr, "--posted-at must be RFC3339")
			return 2
		}
		utc := parsed.UTC()
		posted = &utc
	}

	ctx, cancel, _, logger, pool, err := connectPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	params := db.InsertReportParams{
		SourceChannel:   strings.TrimSpace(*channel),
		SourceMessageID: strings.TrimSpace(*messageID),
		Text:            reportText,
		Language:        *language,
		PostedAt:        posted,
	}
	if trimmedURL := strings.TrimSpace(*sourceURL); trimmedURL != "" {
		params.SourceURL = &trimmedURL
	}

	inserted, err := pool.InsertReport(ctx, params)
	if err != nil {
		logger.Error().Err(err).Msg("submit report failed")
		fmt.Fprintf(os.Stderr, "Failed to store report: %v\n", err)
		return 1
	}

	if !inserted {
		fmt.Println("Report already recorded; skipped")
		return 0
	}
	fmt.Println("Report stored")
	return 0
}
