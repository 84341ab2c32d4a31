package db

import (
	"context"
	"fmt"
	"time"
)

// StatsTypeCount stores per-violation-type counts.
type StatsTypeCount struct {
	Type       string `json:"type"`
	Violations int64  `json:"violations"`
	Casualties int64  `json:"casualties"`
	Merges     int64  `json:"merges"`
}

// StatsReportCount stores per-status report counts.
type StatsReportCount struct {
	Status  string `json:"status"`
	Reports int64  `json:"reports"`
}

// StatsTotals stores totals across types.
type StatsTotals struct {
	Violations int64 `json:"violations"`
	Casualties int64 `json:"casualties"`
	Merges     int64 `json:"merges"`
	Reports    int64 `json:"reports"`
}

// PipelineThroughput stores daily throughput and backlog counters.
type PipelineThroughput struct {
	ReportsReceivedToday   int64 `json:"reports_received_today"`
	ViolationsCreatedToday int64 `json:"violations_created_today"`
	MergesToday            int64 `json:"merges_today"`
	PendingReports         int64 `json:"pending_reports"`
}

// PipelineStats is the read model returned by the stats command.
type PipelineStats struct {
	Day        string             `json:"day"`
	Types      []StatsTypeCount   `json:"types"`
	Reports    []StatsReportCount `json:"reports"`
	Totals     StatsTotals        `json:"totals"`
	Throughput PipelineThroughput `json:"throughput"`
}

// QueryPipelineStats returns per-type and per-status counts plus daily throughput.
func (p *Pool) QueryPipelineStats(ctx context.Context, dayStart, dayEnd time.Time) (*PipelineStats, error) {
	startUTC := dayStart.UTC()
	endUTC := dayEnd.UTC()
	if !startUTC.Before(endUTC) {
		return nil, fmt.Errorf("dayStart must be before dayEnd")
	}

	stats := &PipelineStats{
		Day:     startUTC.Format("2006-01-02"),
		Types:   make([]StatsTypeCount, 0, 16),
		Reports: make([]StatsReportCount, 0, 8),
	}

	const typeCountsQuery = `
SELECT
	v.type,
	COUNT(*)::BIGINT AS violations,
	COALESCE(SUM(v.casualties), 0)::BIGINT AS casualties,
	COALESCE(SUM(v.merge_count), 0)::BIGINT AS merges
FROM vigil.violations v
WHERE v.deleted_at IS NULL
GROUP BY v.type
ORDER BY 1
`

	rows, err := p.Query(ctx, typeCountsQuery)
	if err != nil {
		return nil, fmt.Errorf("query stats type counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row StatsTypeCount
		if err := rows.Scan(&row.Type, &row.Violations, &row.Casualties, &row.Merges); err != nil {
			return nil, fmt.Errorf("scan stats type row: %w", err)
		}
		stats.Types = append(stats.Types, row)
		stats.Totals.Violations += row.Violations
		stats.Totals.Casualties += row.Casualties
		stats.Totals.Merges += row.Merges
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats type rows: %w", err)
	}

	const reportCountsQuery = `
SELECT r.status, COUNT(*)::BIGINT AS reports
FROM vigil.reports r
GROUP BY r.status
ORDER BY 1
`

	reportRows, err := p.Query(ctx, reportCountsQuery)
	if err != nil {
		return nil, fmt.Errorf("query stats report counts: %w", err)
	}
	defer reportRows.Close()

	for reportRows.Next() {
		var row StatsReportCount
		if err := reportRows.Scan(&row.Status, &row.Reports); err != nil {
			return nil, fmt.Errorf("scan stats report row: %w", err)
		}
		stats.Reports = append(stats.Reports, row)
		stats.Totals.Reports += row.Reports
	}
	if err := reportRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats report rows: %w", err)
	}

	const throughputQuery = `
SELECT
	(SELECT COUNT(*) FROM vigil.reports r WHERE r.created_at >= $1 AND r.created_at < $2) AS reports_received_today,
	(SELECT COUNT(*) FROM vigil.violations v WHERE v.created_at >= $1 AND v.created_at < $2 AND v.deleted_at IS NULL) AS violations_created_today,
	(SELECT COUNT(*) FROM vigil.merge_events me WHERE me.created_at >= $1 AND me.created_at < $2) AS merges_today,
	(SELECT COUNT(*) FROM vigil.reports r WHERE r.status IN ($3, $4)) AS pending_reports
`

	if err := p.QueryRow(ctx, throughputQuery, startUTC, endUTC, ReportStatusUnprocessed, ReportStatusRetryPending).Scan(
		&stats.Throughput.ReportsReceivedToday,
		&stats.Throughput.ViolationsCreatedToday,
		&stats.Throughput.MergesToday,
		&stats.Throughput.PendingReports,
	); err != nil {
		return nil, fmt.Errorf("query stats throughput: %w", err)
	}

	return stats, nil
}
