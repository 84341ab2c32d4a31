// Package report drives source reports through extraction, validation,
// and violation creation.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vigil-archive/vigil/internal/config"
	"github.com/vigil-archive/vigil/internal/db"
	"github.com/vigil-archive/vigil/internal/extract"
	"github.com/vigil-archive/vigil/internal/metrics"
	"github.com/vigil-archive/vigil/internal/violation"
	candidateschema "github.com/vigil-archive/vigil/schema"
)

// ReportStore is the persistence surface the processor needs.
type ReportStore interface {
	ListPendingReports(ctx context.Context, limit int) ([]db.ReportRecord, error)
	ClaimReportForProcessing(ctx context.Context, reportID int64) (*db.ReportRecord, error)
	MarkReportProcessed(ctx context.Context, reportID int64) error
	MarkReportIgnored(ctx context.Context, reportID int64, reason string) error
	MarkReportFailed(ctx context.Context, reportID int64, reason string, maxAttempts int) error
}

// ViolationCreator is the slice of the creation pipeline the processor uses.
type ViolationCreator interface {
	CreateBatch(ctx context.Context, candidates []*violation.Candidate, opts violation.CreateOptions) []violation.BatchItem
}

// Outcome summarizes what processing one report did.
type Outcome struct {
	ReportID   int64
	Status     string
	Candidates int
	Created    int
	Merged     int
	Invalid    int
	Skipped    bool
}

// Processor runs the per-report state machine.
type Processor struct {
	store     ReportStore
	extractor extract.Extractor
	creator   ViolationCreator
	cfg       *config.Config
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func NewProcessor(store ReportStore, extractor extract.Extractor, creator ViolationCreator, cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) *Processor {
	return &Processor{
		store:     store,
		extractor: extractor,
		creator:   creator,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
	}
}

// ProcessReport claims the report and drives it to a terminal status:
// processed when at least one violation was created or merged, ignored
// when extraction found no incident, failed otherwise. A lost claim
// returns a skipped outcome and no error.
func (p *Processor) ProcessReport(ctx context.Context, reportID int64) (outcome Outcome, err error) {
	if p == nil || p.store == nil || p.extractor == nil || p.creator == nil {
		return Outcome{}, fmt.Errorf("report processor is not initialized")
	}

	outcome = Outcome{ReportID: reportID}

	claimed, err := p.store.ClaimReportForProcessing(ctx, reportID)
	if err != nil {
		return outcome, fmt.Errorf("claim report %d: %w", reportID, err)
	}
	if claimed == nil {
		p.logger.Debug().Int64("report_id", reportID).Msg("report already claimed; skipping")
		outcome.Skipped = true
		return outcome, nil
	}

	// A panic inside extraction or creation must not leave the report
	// stuck in processing.
	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("panic: %v", r)
			p.failReport(ctx, reportID, reason)
			outcome.Status = db.ReportStatusFailed
			err = fmt.Errorf("process report %d: %s", reportID, reason)
		}
	}()

	result, err := p.extractor.Extract(ctx, extract.Request{
		Text:     claimed.Text,
		Language: claimed.Language,
		SourceID: fmt.Sprintf("%s:%s", claimed.SourceChannel, claimed.SourceMessageID),
	})
	if err != nil {
		p.metrics.ObserveCollaboratorFailure("extractor")
		if errors.Is(err, extract.ErrNotConfigured) {
			// A missing endpoint never heals with retries.
			p.failReportTerminal(ctx, reportID, err.Error())
		} else {
			p.failReport(ctx, reportID, err.Error())
		}
		outcome.Status = db.ReportStatusFailed
		return outcome, fmt.Errorf("extract report %d: %w", reportID, err)
	}

	outcome.Candidates = len(result.Candidates)
	if len(result.Candidates) == 0 {
		if markErr := p.store.MarkReportIgnored(ctx, reportID, "no violation candidates extracted"); markErr != nil {
			return outcome, fmt.Errorf("mark report %d ignored: %w", reportID, markErr)
		}
		p.metrics.ObserveReportProcessed(db.ReportStatusIgnored)
		outcome.Status = db.ReportStatusIgnored
		p.logger.Info().Int64("report_id", reportID).Msg("report ignored; nothing extracted")
		return outcome, nil
	}

	candidates, invalid := p.decodeCandidates(result.Candidates)
	outcome.Invalid = len(invalid)
	for _, itemErr := range invalid {
		p.logger.Warn().
			Int64("report_id", reportID).
			Int("candidate", itemErr.Index).
			Err(itemErr.Err).
			Msg("candidate rejected by validation")
	}

	for _, candidate := range candidates {
		attachProvenance(candidate, claimed)
	}

	if len(candidates) > 0 {
		items := p.creator.CreateBatch(ctx, candidates, violation.CreateOptions{
			MergeDuplicates: true,
			Threshold:       p.cfg.ExtractionDedupThreshold,
			ReportID:        &claimed.ReportID,
			Actor:           "pipeline",
		})
		for _, item := range items {
			switch {
			case item.Err != nil:
				outcome.Invalid++
				p.logger.Warn().
					Int64("report_id", reportID).
					Int("candidate", item.Index).
					Err(item.Err).
					Msg("candidate creation failed")
			case item.Result != nil && item.Result.Merged:
				outcome.Merged++
			case item.Result != nil && item.Result.Created:
				outcome.Created++
			}
		}
	}

	if outcome.Created+outcome.Merged == 0 {
		reason := fmt.Sprintf("no violations stored from %d candidate(s)", outcome.Candidates)
		if summary := validationFailureSummary(invalid); summary != "" {
			reason = reason + ": " + summary
		}
		p.failReport(ctx, reportID, reason)
		outcome.Status = db.ReportStatusFailed
		return outcome, nil
	}

	if err := p.store.MarkReportProcessed(ctx, reportID); err != nil {
		return outcome, fmt.Errorf("mark report %d processed: %w", reportID, err)
	}
	p.metrics.ObserveReportProcessed(db.ReportStatusProcessed)
	outcome.Status = db.ReportStatusProcessed

	p.logger.Info().
		Int64("report_id", reportID).
		Int("created", outcome.Created).
		Int("merged", outcome.Merged).
		Int("invalid", outcome.Invalid).
		Msg("report processed")

	return outcome, nil
}

// attachProvenance carries report context the extractor does not repeat:
// the posting timestamp becomes the default reported_at and the source
// channel is recorded on any violation the candidate produces.
func attachProvenance(candidate *violation.Candidate, claimed *db.ReportRecord) {
	if candidate.ReportedAt == nil {
		reportedAt := claimed.CreatedAt
		if claimed.PostedAt != nil {
			reportedAt = *claimed.PostedAt
		}
		candidate.ReportedAt = &reportedAt
	}
	if candidate.Source == "" {
		candidate.Source = claimed.SourceChannel
	}
}

func (p *Processor) decodeCandidates(payloads []json.RawMessage) ([]*violation.Candidate, []candidateschema.BatchItemError) {
	validated, invalid := candidateschema.ValidateCandidateBatch(payloads)

	candidates := make([]*violation.Candidate, 0, len(validated))
	for i, payload := range validated {
		candidate, err := violation.FromPayload(payload)
		if err != nil {
			invalid = append(invalid, candidateschema.BatchItemError{Index: i, Err: err})
			continue
		}
		candidates = append(candidates, candidate)
	}
	return candidates, invalid
}

// failReport is best-effort: a failure to record the failure is logged,
// nothing more.
func (p *Processor) failReport(ctx context.Context, reportID int64, reason string) {
	p.markFailed(ctx, reportID, reason, p.cfg.MaxReportAttempts)
}

// failReportTerminal fails the report regardless of how many attempts
// remain. Every claim increments the attempt counter, so a cap of one is
// always exhausted.
func (p *Processor) failReportTerminal(ctx context.Context, reportID int64, reason string) {
	p.markFailed(ctx, reportID, reason, 1)
}

func (p *Processor) markFailed(ctx context.Context, reportID int64, reason string, maxAttempts int) {
	if markErr := p.store.MarkReportFailed(ctx, reportID, reason, maxAttempts); markErr != nil {
		p.logger.Error().
			Int64("report_id", reportID).
			Err(markErr).
			Str("reason", strings.TrimSpace(reason)).
			Msg("failed to mark report failed")
		return
	}
	p.metrics.ObserveReportProcessed(db.ReportStatusFailed)
}

// validationFailureSummary condenses aggregated validation errors for the
// report's last_error column.
func validationFailureSummary(invalid []candidateschema.BatchItemError) string {
	if len(invalid) == 0 {
		return ""
	}
	parts := make([]string, 0, len(invalid))
	for _, item := range invalid {
		parts = append(parts, item.Error())
	}
	return strings.Join(parts, "; ")
}
