package httpapi

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vigil-archive/vigil/internal/db"
	"github.com/vigil-archive/vigil/internal/dedup"
	"github.com/vigil-archive/vigil/internal/errs"
	"github.com/vigil-archive/vigil/internal/violation"
	candidateschema "github.com/vigil-archive/vigil/schema"
)

// maxCreateBodyBytes caps POST /violations request bodies.
const maxCreateBodyBytes = 1 << 20

type duplicateMatchItem struct {
	ViolationUUID   string   `json:"violation_uuid"`
	ExactMatch      bool     `json:"exact_match"`
	Similarity      float64  `json:"similarity"`
	SameType        bool     `json:"same_type"`
	SameDate        bool     `json:"same_date"`
	SamePerpetrator bool     `json:"same_perpetrator"`
	NearbyLocation  bool     `json:"nearby_location"`
	DistanceMeters  *float64 `json:"distance_meters,omitempty"`
	SameCasualties  bool     `json:"same_casualties"`
}

type violationDetail struct {
	Violation   db.ViolationRecord    `json:"violation"`
	ReportIDs   []int64               `json:"source_report_ids"`
	MergeEvents []db.MergeEventRecord `json:"merge_events"`
}

func (s *Server) handleViolations(c echo.Context) error {
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"page": err.Error()})
	}
	pageSize, err := parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"page_size": err.Error()})
	}
	from, err := parseDateFilter(c.QueryParam("from"))
	if err != nil {
		return failValidation(c, map[string]string{"from": err.Error()})
	}
	to, err := parseDateFilter(c.QueryParam("to"))
	if err != nil {
		return failValidation(c, map[string]string{"to": err.Error()})
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return failValidation(c, map[string]string{"date_range": "from must be <= to"})
	}

	items, err := s.pool.ListViolations(c.Request().Context(), db.ViolationListOptions{
		Type:   c.QueryParam("type"),
		From:   from,
		To:     to,
		Query:  c.QueryParam("q"),
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("query violations failed")
		return internalError(c, "Failed to load violations")
	}

	return success(c, map[string]any{
		"items": items,
		"pagination": map[string]any{
			"page":      page,
			"page_size": pageSize,
		},
	})
}

func (s *Server) handleViolationDetail(c echo.Context) error {
	violationUUID := strings.TrimSpace(c.Param("violation_uuid"))
	if violationUUID == "" {
		return failValidation(c, map[string]string{"violation_uuid": "is required"})
	}

	record, err := s.pool.GetViolationByUUID(c.Request().Context(), violationUUID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Violation not found")
		}
		s.logger.Error().Err(err).Str("violation_uuid", violationUUID).Msg("query violation failed")
		return internalError(c, "Failed to load violation")
	}

	reportIDs, err := s.pool.ListViolationReportIDs(c.Request().Context(), record.ViolationID)
	if err != nil {
		s.logger.Error().Err(err).Int64("violation_id", record.ViolationID).Msg("query violation reports failed")
		return internalError(c, "Failed to load violation")
	}

	mergeEvents, err := s.pool.ListViolationMergeEvents(c.Request().Context(), record.ViolationID)
	if err != nil {
		s.logger.Error().Err(err).Int64("violation_id", record.ViolationID).Msg("query merge events failed")
		return internalError(c, "Failed to load violation")
	}

	return success(c, violationDetail{
		Violation:   *record,
		ReportIDs:   reportIDs,
		MergeEvents: mergeEvents,
	})
}

// handleCreateViolation accepts one candidate payload. The merge query
// parameter selects the duplicate policy: merge=true folds a duplicate
// into the matched violation, otherwise a duplicate is a 409 carrying the
// ranked matches. check_duplicates=false skips the duplicate query
// entirely and inserts.
func (s *Server) handleCreateViolation(c echo.Context) error {
	if s.creator == nil {
		return internalError(c, "Violation creation is not available")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCreateBodyBytes))
	if err != nil {
		return failValidation(c, map[string]string{"body": "could not read request body"})
	}

	payload, err := candidateschema.ValidateCandidatePayload(body)
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}

	candidate, err := violation.FromPayload(payload)
	if err != nil {
		return s.renderCreateError(c, err)
	}

	merge := strings.EqualFold(strings.TrimSpace(c.QueryParam("merge")), "true")
	skipCheck := strings.EqualFold(strings.TrimSpace(c.QueryParam("check_duplicates")), "false")
	result, err := s.creator.CreateSingle(c.Request().Context(), candidate, violation.CreateOptions{
		SkipDuplicateCheck: skipCheck,
		MergeDuplicates:    merge,
		Actor:              "api",
	})
	if err != nil {
		return s.renderCreateError(c, err)
	}

	if result.Merged {
		return success(c, map[string]any{
			"violation":  result.Violation,
			"merged":     true,
			"similarity": result.Similarity,
		})
	}
	return successCreated(c, map[string]any{
		"violation": result.Violation,
		"merged":    false,
	})
}

func (s *Server) renderCreateError(c echo.Context, err error) error {
	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		fieldErrors := make(map[string]string, len(ve.Fields))
		for _, field := range ve.Fields {
			fieldErrors[field.Field] = field.Message
		}
		return failValidation(c, fieldErrors)
	}

	var ce *errs.ConflictError
	if errors.As(err, &ce) {
		return failConflict(c, "Duplicate violation detected", map[string]any{
			"duplicates": duplicateItems(ce.Duplicates),
		})
	}

	var ue *errs.UpstreamError
	if errors.As(err, &ue) {
		s.logger.Error().Err(err).Msg("collaborator failed during violation creation")
		return fail(c, http.StatusBadGateway, "Upstream service failed", nil)
	}

	s.logger.Error().Err(err).Msg("violation creation failed")
	return internalError(c, "Failed to create violation")
}

// duplicateItems converts matches to the wire shape. An unknown distance
// is +Inf internally, which JSON cannot carry, so it is omitted.
func duplicateItems(matches []dedup.DuplicateMatch) []duplicateMatchItem {
	items := make([]duplicateMatchItem, 0, len(matches))
	for _, match := range matches {
		item := duplicateMatchItem{
			ViolationUUID:   match.CandidateUUID,
			ExactMatch:      match.ExactMatch,
			Similarity:      match.Similarity,
			SameType:        match.Details.SameType,
			SameDate:        match.Details.SameDate,
			SamePerpetrator: match.Details.SamePerpetrator,
			NearbyLocation:  match.Details.NearbyLocation,
			SameCasualties:  match.Details.SameCasualties,
		}
		if !math.IsInf(match.Details.DistanceMeters, 0) && !math.IsNaN(match.Details.DistanceMeters) {
			distance := match.Details.DistanceMeters
			item.DistanceMeters = &distance
		}
		items = append(items, item)
	}
	return items
}
