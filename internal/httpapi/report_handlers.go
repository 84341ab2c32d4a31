package httpapi

import (
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vigil-archive/vigil/internal/db"
)

type submitReportRequest struct {
	SourceChannel   string  `json:"source_channel"`
	SourceMessageID string  `json:"source_message_id"`
	SourceURL       *string `json:"source_url,omitempty"`
	Text            string  `json:"text"`
	Language        string  `json:"language,omitempty"`
	PostedAt        *string `json:"posted_at,omitempty"`
}

type reportDetail struct {
	Report     db.ReportRecord      `json:"report"`
	Violations []db.ViolationRecord `json:"violations"`
}

func (s *Server) handleReports(c echo.Context) error {
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"page": err.Error()})
	}
	pageSize, err := parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"page_size": err.Error()})
	}

	items, err := s.pool.ListReportsByStatus(c.Request().Context(), c.QueryParam("status"), pageSize, (page-1)*pageSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("query reports failed")
		return internalError(c, "Failed to load reports")
	}

	return success(c, map[string]any{
		"items": items,
		"pagination": map[string]any{
			"page":      page,
			"page_size": pageSize,
		},
	})
}

func (s *Server) handleReportDetail(c echo.Context) error {
	reportUUID := strings.TrimSpace(c.Param("report_uuid"))
	if reportUUID == "" {
		return failValidation(c, map[string]string{"report_uuid": "is required"})
	}

	record, err := s.pool.GetReportByUUID(c.Request().Context(), reportUUID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Report not found")
		}
		s.logger.Error().Err(err).Str("report_uuid", reportUUID).Msg("query report failed")
		return internalError(c, "Failed to load report")
	}

	violations, err := s.pool.ListReportViolations(c.Request().Context(), record.ReportID)
	if err != nil {
		s.logger.Error().Err(err).Int64("report_id", record.ReportID).Msg("query report violations failed")
		return internalError(c, "Failed to load report")
	}

	return success(c, reportDetail{
		Report:     *record,
		Violations: violations,
	})
}

// handleSubmitReport stores one raw source report for later processing.
// Resubmitting the same channel/message pair is a no-op.
func (s *Server) handleSubmitReport(c echo.Context) error {
	var req submitReportRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON report"})
	}

	fieldErrors := map[string]string{}
	if strings.TrimSpace(req.SourceChannel) == "" {
		fieldErrors["source_channel"] = "is required"
	}
	if strings.TrimSpace(req.SourceMessageID) == "" {
		fieldErrors["source_message_id"] = "is required"
	}
	if strings.TrimSpace(req.Text) == "" {
		fieldErrors["text"] = "is required"
	}

	var postedAt *time.Time
	if req.PostedAt != nil {
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.PostedAt))
		if err != nil {
			fieldErrors["posted_at"] = "must be RFC3339"
		} else {
			utc := parsed.UTC()
			postedAt = &utc
		}
	}
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	inserted, err := s.pool.InsertReport(c.Request().Context(), db.InsertReportParams{
		SourceChannel:   strings.TrimSpace(req.SourceChannel),
		SourceMessageID: strings.TrimSpace(req.SourceMessageID),
		SourceURL:       req.SourceURL,
		Text:            req.Text,
		Language:        req.Language,
		PostedAt:        postedAt,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("insert report failed")
		return internalError(c, "Failed to store report")
	}

	if !inserted {
		return success(c, map[string]any{
			"inserted": false,
			"reason":   "report already recorded",
		})
	}
	return successCreated(c, map[string]any{
		"inserted": true,
	})
}
