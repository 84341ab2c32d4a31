package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-archive/vigil/internal/cli"
	"github.com/vigil-archive/vigil/internal/config"
	"github.com/vigil-archive/vigil/internal/db"
	"github.com/vigil-archive/vigil/internal/dedup"
	"github.com/vigil-archive/vigil/internal/extract"
	"github.com/vigil-archive/vigil/internal/geocode"
	"github.com/vigil-archive/vigil/internal/globaltime"
	"github.com/vigil-archive/vigil/internal/logging"
	"github.com/vigil-archive/vigil/internal/metrics"
	"github.com/vigil-archive/vigil/internal/violation"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

func defaultUTCDay() time.Time {
	now := globaltime.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func utcDayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

func parseOutputFormat(raw, defaultFormat string) (string, error) {
	format := strings.TrimSpace(strings.ToLower(raw))
	if format == "" {
		format = strings.TrimSpace(strings.ToLower(defaultFormat))
	}
	switch format {
	case outputFormatTable, outputFormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("--format must be table or json")
	}
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func writeTable(headers []string, rows [][]string) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(writer, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(writer, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return writer.Flush()
}

func loadConfigAndLogger(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, logger, nil
}

func connectPool(timeout time.Duration, envLoader *cli.EnvLoader) (context.Context, context.CancelFunc, *config.Config, zerolog.Logger, *db.Pool, error) {
	cfg, logger, err := loadConfigAndLogger(envLoader)
	if err != nil {
		return nil, nil, nil, zerolog.Logger{}, nil, err
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, zerolog.Logger{}, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return ctx, cancel, cfg, logger, pool, nil
}

func buildFinder(pool *db.Pool, cfg *config.Config, logger zerolog.Logger) *dedup.Finder {
	return dedup.NewFinder(pool, dedup.FinderOptions{
		Match: dedup.MatchOptions{
			Threshold:              cfg.DedupThreshold,
			MaxDistanceMeters:      cfg.DedupMaxDistanceMeters,
			CasualtyToleranceRatio: cfg.CasualtyToleranceRatio,
			CasualtySlack:          cfg.CasualtyToleranceAbsolute,
			PrimaryLanguage:        cfg.PrimaryLanguage,
			SecondaryLanguage:      cfg.SecondaryLanguage,
		},
		DateWindowDays: cfg.DedupDateWindowDays,
		CandidateLimit: cfg.DedupCandidateLimit,
	}, logger)
}

func buildCreator(pool *db.Pool, cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) *violation.Creator {
	var geocoder geocode.Geocoder
	if strings.TrimSpace(cfg.GeocoderURL) != "" {
		geocoder = geocode.NewClient(cfg.GeocoderURL, cfg.GeocoderTimeout, logger)
	}
	return violation.NewCreator(pool, buildFinder(pool, cfg, logger), geocoder, cfg, m, logger)
}

func buildExtractor(cfg *config.Config, logger zerolog.Logger) extract.Extractor {
	return extract.NewClient(cfg.ExtractorURL, cfg.ExtractorAPIKey, cfg.ExtractorTimeout, logger)
}
