package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Report lifecycle statuses.
const (
	ReportStatusUnprocessed  = "unprocessed"
	ReportStatusProcessing   = "processing"
	ReportStatusProcessed    = "processed"
	ReportStatusFailed       = "failed"
	ReportStatusRetryPending = "retry_pending"
	ReportStatusIgnored      = "ignored"
)

// ReportRecord is the read model for a stored source report.
type ReportRecord struct {
	ReportID        int64           `json:"report_id"`
	ReportUUID      string          `json:"report_uuid"`
	SourceChannel   string          `json:"source_channel"`
	SourceMessageID string          `json:"source_message_id"`
	SourceURL       *string         `json:"source_url,omitempty"`
	Text            string          `json:"text"`
	Language        string          `json:"language"`
	PostedAt        *time.Time      `json:"posted_at,omitempty"`
	Status          string          `json:"status"`
	Attempts        int             `json:"attempts"`
	LastError       *string         `json:"last_error,omitempty"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	ExtractedAt     *time.Time      `json:"extracted_at,omitempty"`
	ProcessingMS    *int64          `json:"processing_ms,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// InsertReportParams is the write model for a new source report.
type InsertReportParams struct {
	SourceChannel   string
	SourceMessageID string
	SourceURL       *string
	Text            string
	Language        string
	PostedAt        *time.Time
	Metadata        json.RawMessage
}

const reportColumns = `
	r.report_id,
	r.report_uuid::text,
	r.source_channel,
	r.source_message_id,
	r.source_url,
	r.text,
	r.language,
	r.posted_at,
	r.status,
	r.attempts,
	r.last_error,
	r.started_at,
	r.extracted_at,
	r.processing_ms,
	r.metadata,
	r.created_at,
	r.updated_at`

// InsertReport stores one incoming source report. A report already recorded
// for the same channel and message id is skipped and (false, nil) returned.
func (p *Pool) InsertReport(ctx context.Context, params InsertReportParams) (bool, error) {
	if strings.TrimSpace(params.SourceChannel) == "" || strings.TrimSpace(params.SourceMessageID) == "" {
		return false, fmt.Errorf("source channel and message id are required")
	}
	if strings.TrimSpace(params.Text) == "" {
		return false, fmt.Errorf("report text is required")
	}

	language := strings.TrimSpace(strings.ToLower(params.Language))
	if language == "" {
		language = "und"
	}

	const q = `
INSERT INTO vigil.reports (
	source_channel,
	source_message_id,
	source_url,
	text,
	language,
	posted_at,
	metadata
) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
ON CONFLICT (source_channel, source_message_id) DO NOTHING
`

	tag, err := p.Exec(ctx, q,
		params.SourceChannel,
		params.SourceMessageID,
		params.SourceURL,
		params.Text,
		language,
		params.PostedAt,
		nilIfEmptyJSON(params.Metadata),
	)
	if err != nil {
		return false, fmt.Errorf("insert report: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetReportByUUID returns one report row by public UUID.
func (p *Pool) GetReportByUUID(ctx context.Context, reportUUID string) (*ReportRecord, error) {
	trimmed := strings.TrimSpace(reportUUID)
	if trimmed == "" {
		return nil, fmt.Errorf("report UUID is required")
	}

	q := `
SELECT` + reportColumns + `
FROM vigil.reports r
WHERE r.report_uuid = $1::uuid
`
	return p.queryReportRow(ctx, q, trimmed)
}

// ListPendingReports returns reports waiting for processing, oldest first.
func (p *Pool) ListPendingReports(ctx context.Context, limit int) ([]ReportRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	q := `
SELECT` + reportColumns + `
FROM vigil.reports r
WHERE r.status IN ($1, $2)
ORDER BY r.created_at ASC, r.report_id ASC
LIMIT $3
`

	rows, err := p.Query(ctx, q, ReportStatusUnprocessed, ReportStatusRetryPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending reports: %w", err)
	}
	defer rows.Close()

	return scanReportRecords(rows, limit)
}

// ListReportsByStatus lists reports in one status, newest first.
func (p *Pool) ListReportsByStatus(ctx context.Context, status string, limit, offset int) ([]ReportRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	if offset < 0 {
		return nil, fmt.Errorf("offset must be >= 0")
	}

	q := `
SELECT` + reportColumns + `
FROM vigil.reports r
WHERE ($1 = '' OR r.status = $1)
ORDER BY r.created_at DESC, r.report_id DESC
LIMIT $2 OFFSET $3
`

	rows, err := p.Query(ctx, q, strings.TrimSpace(strings.ToLower(status)), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query reports by status: %w", err)
	}
	defer rows.Close()

	return scanReportRecords(rows, limit)
}

// ClaimReportForProcessing moves one pending report into processing and
// increments its attempt counter. Returns (nil, nil) when another worker
// claimed the row first.
func (p *Pool) ClaimReportForProcessing(ctx context.Context, reportID int64) (*ReportRecord, error) {
	if reportID <= 0 {
		return nil, fmt.Errorf("report id is required")
	}

	q := `
UPDATE vigil.reports r
SET
	status = $2,
	attempts = r.attempts + 1,
	last_error = NULL,
	started_at = now(),
	updated_at = now()
WHERE r.report_id = $1
  AND r.status IN ($3, $4)
RETURNING` + reportColumns + `
`

	rows, err := p.Query(ctx, q, reportID, ReportStatusProcessing, ReportStatusUnprocessed, ReportStatusRetryPending)
	if err != nil {
		return nil, fmt.Errorf("claim report for processing: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("claim report for processing: %w", err)
		}
		return nil, nil
	}
	record, err := scanReportRecord(rows)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// MarkReportProcessed finalizes a successfully processed report and records
// how long the attempt ran, measured from the claim timestamp.
func (p *Pool) MarkReportProcessed(ctx context.Context, reportID int64) error {
	const q = `
UPDATE vigil.reports r
SET
	status = $2,
	last_error = NULL,
	extracted_at = now(),
	processing_ms = (EXTRACT(EPOCH FROM (now() - COALESCE(r.started_at, now()))) * 1000)::bigint,
	updated_at = now()
WHERE r.report_id = $1
`
	return p.execReportUpdate(ctx, q, reportID, ReportStatusProcessed)
}

// MarkReportIgnored finalizes a report that yielded no violation candidates.
func (p *Pool) MarkReportIgnored(ctx context.Context, reportID int64, reason string) error {
	const q = `
UPDATE vigil.reports r
SET
	status = $2,
	last_error = $3,
	extracted_at = now(),
	updated_at = now()
WHERE r.report_id = $1
`
	return p.execReportUpdate(ctx, q, reportID, ReportStatusIgnored, nullableReason(reason))
}

// MarkReportFailed records a processing failure, leaving the report in
// retry_pending until its attempts are exhausted, then failed for good.
func (p *Pool) MarkReportFailed(ctx context.Context, reportID int64, reason string, maxAttempts int) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	const q = `
UPDATE vigil.reports r
SET
	status = CASE WHEN r.attempts >= $3 THEN $4 ELSE $5 END,
	last_error = $2,
	updated_at = now()
WHERE r.report_id = $1
`
	return p.execReportUpdate(ctx, q, reportID, nullableReason(reason), maxAttempts, ReportStatusFailed, ReportStatusRetryPending)
}

// ListReportViolations returns the violations a report produced, in link order.
func (p *Pool) ListReportViolations(ctx context.Context, reportID int64) ([]ViolationRecord, error) {
	if reportID <= 0 {
		return nil, fmt.Errorf("report id is required")
	}

	q := `
SELECT` + violationColumns + `
FROM vigil.report_violations rv
JOIN vigil.violations v
	ON v.violation_id = rv.violation_id
WHERE rv.report_id = $1
  AND v.deleted_at IS NULL
ORDER BY rv.position ASC, rv.violation_id ASC
`

	rows, err := p.Query(ctx, q, reportID)
	if err != nil {
		return nil, fmt.Errorf("query report violations: %w", err)
	}
	defer rows.Close()

	items := make([]ViolationRecord, 0, 4)
	for rows.Next() {
		row, err := scanViolationRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report violation rows: %w", err)
	}
	return items, nil
}

func (p *Pool) execReportUpdate(ctx context.Context, query string, reportID int64, args ...any) error {
	if reportID <= 0 {
		return fmt.Errorf("report id is required")
	}

	tag, err := p.Exec(ctx, query, append([]any{reportID}, args...)...)
	if err != nil {
		return fmt.Errorf("update report status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

func (p *Pool) queryReportRow(ctx context.Context, query string, args ...any) (*ReportRecord, error) {
	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query report: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query report: %w", err)
		}
		return nil, ErrNoRows
	}
	return scanReportRecord(rows)
}

func scanReportRecords(rows *Rows, capacity int) ([]ReportRecord, error) {
	if capacity < 0 {
		capacity = 0
	}

	items := make([]ReportRecord, 0, capacity)
	for rows.Next() {
		record, err := scanReportRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report rows: %w", err)
	}
	return items, nil
}

func scanReportRecord(scanner rowScanner) (*ReportRecord, error) {
	var (
		record   ReportRecord
		metadata []byte
	)

	if err := scanner.Scan(
		&record.ReportID,
		&record.ReportUUID,
		&record.SourceChannel,
		&record.SourceMessageID,
		&record.SourceURL,
		&record.Text,
		&record.Language,
		&record.PostedAt,
		&record.Status,
		&record.Attempts,
		&record.LastError,
		&record.StartedAt,
		&record.ExtractedAt,
		&record.ProcessingMS,
		&metadata,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan report row: %w", err)
	}

	if len(metadata) > 0 {
		record.Metadata = json.RawMessage(metadata)
	}
	return &record, nil
}

// nullableReason caps the reason at 2000 bytes without splitting a rune,
// so Arabic failure text stays valid UTF-8 for the text column.
func nullableReason(reason string) *string {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) > 2000 {
		cut := 2000
		for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
			cut--
		}
		trimmed = trimmed[:cut]
	}
	return &trimmed
}
