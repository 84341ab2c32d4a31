package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vigil-archive/vigil/internal/db"
)

// BatchOptions controls one batch processing run.
type BatchOptions struct {
	// Limit caps how many pending reports the run picks up.
	Limit int
}

// BatchSummary aggregates the outcomes of one run.
type BatchSummary struct {
	RunID     string        `json:"run_id"`
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Ignored   int           `json:"ignored"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Created   int           `json:"violations_created"`
	Merged    int           `json:"violations_merged"`
	Elapsed   time.Duration `json:"elapsed"`
}

// ProcessBatch picks up pending reports and processes them in fixed-size
// chunks. Inside a chunk reports run concurrently up to the configured
// worker count; between chunks the pacer enforces the configured delay so
// the extraction service is not flooded.
func (p *Processor) ProcessBatch(ctx context.Context, opts BatchOptions) (*BatchSummary, error) {
	if p == nil || p.store == nil {
		return nil, fmt.Errorf("report processor is not initialized")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	pending, err := p.store.ListPendingReports(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending reports: %w", err)
	}

	summary := &BatchSummary{
		RunID: uuid.NewString(),
		Total: len(pending),
	}
	if len(pending) == 0 {
		return summary, nil
	}

	chunkSize := p.cfg.BatchChunkSize
	if chunkSize < 1 {
		chunkSize = 1
	}
	concurrency := p.cfg.BatchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	pacer := rate.NewLimiter(rate.Inf, 1)
	if p.cfg.BatchChunkDelay > 0 {
		pacer = rate.NewLimiter(rate.Every(p.cfg.BatchChunkDelay), 1)
	}

	started := time.Now()
	logger := p.logger.With().Str("run_id", summary.RunID).Logger()
	logger.Info().
		Int("pending", len(pending)).
		Int("chunk_size", chunkSize).
		Int("concurrency", concurrency).
		Msg("batch processing started")

	var mu sync.Mutex
	for offset := 0; offset < len(pending); offset += chunkSize {
		if err := pacer.Wait(ctx); err != nil {
			return summary, err
		}

		end := offset + chunkSize
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[offset:end]

		var wg sync.WaitGroup
		sem := make(chan struct{}, concurrency)
		for _, pendingReport := range chunk {
			wg.Add(1)
			sem <- struct{}{}
			go func(reportID int64) {
				defer wg.Done()
				defer func() { <-sem }()

				outcome, err := p.ProcessReport(ctx, reportID)
				if err != nil {
					logger.Error().Int64("report_id", reportID).Err(err).Msg("report processing failed")
				}

				mu.Lock()
				defer mu.Unlock()
				summary.Created += outcome.Created
				summary.Merged += outcome.Merged
				switch {
				case outcome.Skipped:
					summary.Skipped++
				case outcome.Status == db.ReportStatusProcessed:
					summary.Processed++
				case outcome.Status == db.ReportStatusIgnored:
					summary.Ignored++
				default:
					summary.Failed++
				}
			}(pendingReport.ReportID)
		}
		wg.Wait()
	}

	summary.Elapsed = time.Since(started)
	p.metrics.ObserveBatchDuration(summary.Elapsed.Seconds())

	logger.Info().
		Int("processed", summary.Processed).
		Int("ignored", summary.Ignored).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Int("created", summary.Created).
		Int("merged", summary.Merged).
		Dur("elapsed", summary.Elapsed).
		Msg("batch processing finished")

	return summary, nil
}
