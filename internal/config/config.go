package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"VIGIL_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"VIGIL_DB_MAX_CONNS" default:"8"`

	ExtractorURL     string        `envconfig:"EXTRACTOR_URL" default:""`
	ExtractorAPIKey  string        `envconfig:"EXTRACTOR_API_KEY" default:""`
	ExtractorTimeout time.Duration `envconfig:"EXTRACTOR_TIMEOUT" default:"30s"`
	GeocoderURL      string        `envconfig:"GEOCODER_URL" default:""`
	GeocoderTimeout  time.Duration `envconfig:"GEOCODER_TIMEOUT" default:"10s"`

	PrimaryLanguage   string `envconfig:"PRIMARY_LANGUAGE" default:"ar"`
	SecondaryLanguage string `envconfig:"SECONDARY_LANGUAGE" default:"en"`

	DedupThreshold            float64 `envconfig:"DEDUP_THRESHOLD" default:"0.75"`
	ExtractionDedupThreshold  float64 `envconfig:"EXTRACTION_DEDUP_THRESHOLD" default:"0.85"`
	DedupMaxDistanceMeters    float64 `envconfig:"DEDUP_MAX_DISTANCE_METERS" default:"100"`
	DedupDateWindowDays       int     `envconfig:"DEDUP_DATE_WINDOW_DAYS" default:"2"`
	DedupCandidateLimit       int     `envconfig:"DEDUP_CANDIDATE_LIMIT" default:"50"`
	CasualtyToleranceRatio    float64 `envconfig:"CASUALTY_TOLERANCE_RATIO" default:"0.20"`
	CasualtyToleranceAbsolute int     `envconfig:"CASUALTY_TOLERANCE_SLACK" default:"1"`

	MergeRetryAttempts int           `envconfig:"MERGE_RETRY_ATTEMPTS" default:"3"`
	MergeRetryBackoff  time.Duration `envconfig:"MERGE_RETRY_BACKOFF" default:"100ms"`

	MaxReportAttempts int           `envconfig:"MAX_REPORT_ATTEMPTS" default:"3"`
	BatchChunkSize    int           `envconfig:"BATCH_CHUNK_SIZE" default:"5"`
	BatchConcurrency  int           `envconfig:"BATCH_CONCURRENCY" default:"3"`
	BatchChunkDelay   time.Duration `envconfig:"BATCH_CHUNK_DELAY" default:"2s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("VIGIL_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("VIGIL_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("VIGIL_DB_MIN_CONNS (%d) cannot exceed VIGIL_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.DedupThreshold < 0 || c.DedupThreshold > 1 {
		return fmt.Errorf("DEDUP_THRESHOLD must be in [0,1]")
	}
	if c.ExtractionDedupThreshold < 0 || c.ExtractionDedupThreshold > 1 {
		return fmt.Errorf("EXTRACTION_DEDUP_THRESHOLD must be in [0,1]")
	}
	if c.DedupMaxDistanceMeters <= 0 {
		return fmt.Errorf("DEDUP_MAX_DISTANCE_METERS must be > 0")
	}
	if c.DedupDateWindowDays < 0 {
		return fmt.Errorf("DEDUP_DATE_WINDOW_DAYS must be >= 0")
	}
	if c.DedupCandidateLimit < 1 {
		return fmt.Errorf("DEDUP_CANDIDATE_LIMIT must be >= 1")
	}
	if c.CasualtyToleranceRatio < 0 || c.CasualtyToleranceRatio >= 1 {
		return fmt.Errorf("CASUALTY_TOLERANCE_RATIO must be in [0,1)")
	}
	if c.CasualtyToleranceAbsolute < 0 {
		return fmt.Errorf("CASUALTY_TOLERANCE_SLACK must be >= 0")
	}
	if c.MergeRetryAttempts < 1 {
		return fmt.Errorf("MERGE_RETRY_ATTEMPTS must be >= 1")
	}
	if c.MaxReportAttempts < 1 {
		return fmt.Errorf("MAX_REPORT_ATTEMPTS must be >= 1")
	}
	if c.BatchChunkSize < 1 {
		return fmt.Errorf("BATCH_CHUNK_SIZE must be >= 1")
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be >= 1")
	}
	if lang := strings.TrimSpace(c.PrimaryLanguage); len(lang) != 2 {
		return fmt.Errorf("PRIMARY_LANGUAGE must be an ISO 639-1 code")
	}
	if lang := strings.TrimSpace(c.SecondaryLanguage); len(lang) != 2 {
		return fmt.Errorf("SECONDARY_LANGUAGE must be an ISO 639-1 code")
	}
	return nil
}

// Languages returns the configured language codes in preference order.
func (c *Config) Languages() []string {
	if c == nil {
		return nil
	}
	primary := strings.ToLower(strings.TrimSpace(c.PrimaryLanguage))
	secondary := strings.ToLower(strings.TrimSpace(c.SecondaryLanguage))
	if secondary == "" || secondary == primary {
		return []string{primary}
	}
	return []string{primary, secondary}
}
