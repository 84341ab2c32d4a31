package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vigil-archive/vigil/internal/dedup"
)

// ViolationRecord is the read model for a stored violation.
type ViolationRecord struct {
	ViolationID    int64             `json:"violation_id"`
	ViolationUUID  string            `json:"violation_uuid"`
	Type           string            `json:"type"`
	OccurredOn     time.Time         `json:"occurred_on"`
	ReportedAt     *time.Time        `json:"reported_at,omitempty"`
	LocationName   map[string]string `json:"location_name"`
	AdminDivision  map[string]string `json:"admin_division"`
	Longitude      *float64          `json:"longitude,omitempty"`
	Latitude       *float64          `json:"latitude,omitempty"`
	GeocodeQuality *float64          `json:"geocode_quality,omitempty"`
	Description    map[string]string `json:"description"`
	Perpetrator    *string           `json:"perpetrator,omitempty"`
	Certainty      string            `json:"certainty"`
	Verified       bool              `json:"verified"`
	Casualties     int               `json:"casualties"`
	InjuredCount   int               `json:"injured_count"`
	KidnappedCount int               `json:"kidnapped_count"`
	DetainedCount  int               `json:"detained_count"`
	DisplacedCount int               `json:"displaced_count"`
	Source         *string           `json:"source,omitempty"`
	MergeCount     int               `json:"merge_count"`
	CreatedBy      string            `json:"created_by"`
	UpdatedBy      string            `json:"updated_by"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// DedupRecord converts the stored row into the similarity engine's input shape.
func (r *ViolationRecord) DedupRecord() dedup.Record {
	perpetrator := ""
	if r.Perpetrator != nil {
		perpetrator = *r.Perpetrator
	}
	return dedup.Record{
		ID:             r.ViolationID,
		UUID:           r.ViolationUUID,
		Type:           r.Type,
		OccurredOn:     r.OccurredOn,
		Longitude:      r.Longitude,
		Latitude:       r.Latitude,
		Perpetrator:    perpetrator,
		Casualties:     r.Casualties,
		InjuredCount:   r.InjuredCount,
		KidnappedCount: r.KidnappedCount,
		DetainedCount:  r.DetainedCount,
		DisplacedCount: r.DisplacedCount,
		Description:    r.Description,
	}
}

// InsertViolationParams is the write model for a new violation row.
type InsertViolationParams struct {
	Type           string
	OccurredOn     time.Time
	ReportedAt     *time.Time
	LocationName   map[string]string
	AdminDivision  map[string]string
	Longitude      *float64
	Latitude       *float64
	GeocodeQuality *float64
	Description    map[string]string
	Perpetrator    *string
	Certainty      string
	Casualties     int
	InjuredCount   int
	KidnappedCount int
	DetainedCount  int
	DisplacedCount int
	DedupKey       []byte
	Source         *string
	CreatedBy      string
}

// MergeViolationParams carries the incoming record an existing violation
// absorbs. Incoming scalar fields win when present, counts take the larger
// value, and language maps are merged with incoming entries winning.
type MergeViolationParams struct {
	ViolationID    int64
	LocationName   map[string]string
	AdminDivision  map[string]string
	Longitude      *float64
	Latitude       *float64
	GeocodeQuality *float64
	Description    map[string]string
	Perpetrator    *string
	Certainty      *string
	Casualties     int
	InjuredCount   int
	KidnappedCount int
	DetainedCount  int
	DisplacedCount int
	UpdatedBy      string
}

// InsertMergeEventParams records one absorption into the audit trail.
type InsertMergeEventParams struct {
	ViolationID  int64
	ReportID     *int64
	Similarity   *float64
	Signal       string
	ExactMatch   bool
	MatchDetails json.RawMessage
	MergedFields []string
	MergedBy     string
}

// MergeEventRecord is the read model for one merge audit row.
type MergeEventRecord struct {
	MergeEventID   int64           `json:"merge_event_id"`
	MergeEventUUID string          `json:"merge_event_uuid"`
	ViolationID    int64           `json:"violation_id"`
	ReportID       *int64          `json:"report_id,omitempty"`
	Similarity     *float64        `json:"similarity,omitempty"`
	Signal         string          `json:"signal"`
	ExactMatch     bool            `json:"exact_match"`
	MatchDetails   json.RawMessage `json:"match_details,omitempty"`
	MergedFields   []string        `json:"merged_fields,omitempty"`
	MergedBy       string          `json:"merged_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ViolationListOptions controls violation list queries.
type ViolationListOptions struct {
	Type   string
	From   time.Time
	To     time.Time
	Query  string
	Limit  int
	Offset int
}

const violationColumns = `
	v.violation_id,
	v.violation_uuid::text,
	v.type,
	v.occurred_on,
	v.reported_at,
	v.location_name,
	v.admin_division,
	v.longitude,
	v.latitude,
	v.geocode_quality,
	v.description,
	v.perpetrator,
	v.certainty,
	v.verified,
	v.casualties,
	v.injured_count,
	v.kidnapped_count,
	v.detained_count,
	v.displaced_count,
	v.source,
	v.merge_count,
	v.created_by,
	v.updated_by,
	v.created_at,
	v.updated_at`

// InsertViolation inserts one violation and returns the stored row. The
// unique index on dedup_key makes concurrent inserts of the same incident
// fail with a unique violation, which callers recover from.
func (p *Pool) InsertViolation(ctx context.Context, params InsertViolationParams) (*ViolationRecord, error) {
	if strings.TrimSpace(params.Type) == "" {
		return nil, fmt.Errorf("violation type is required")
	}
	if params.OccurredOn.IsZero() {
		return nil, fmt.Errorf("occurred_on is required")
	}

	locationJSON, err := marshalLangMap(params.LocationName)
	if err != nil {
		return nil, fmt.Errorf("marshal location name: %w", err)
	}
	adminJSON, err := marshalLangMap(params.AdminDivision)
	if err != nil {
		return nil, fmt.Errorf("marshal admin division: %w", err)
	}
	descriptionJSON, err := marshalLangMap(params.Description)
	if err != nil {
		return nil, fmt.Errorf("marshal description: %w", err)
	}

	certainty := strings.TrimSpace(params.Certainty)
	if certainty == "" {
		certainty = "possible"
	}
	createdBy := strings.TrimSpace(params.CreatedBy)
	if createdBy == "" {
		createdBy = "system"
	}

	const q = `
INSERT INTO vigil.violations (
	type,
	occurred_on,
	reported_at,
	location_name,
	admin_division,
	longitude,
	latitude,
	geocode_quality,
	description,
	perpetrator,
	certainty,
	casualties,
	injured_count,
	kidnapped_count,
	detained_count,
	displaced_count,
	dedup_key,
	source,
	created_by,
	updated_by
) VALUES (
	$1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8, $9::jsonb, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $19
)
RETURNING violation_id, violation_uuid::text, created_at, updated_at
`

	record := ViolationRecord{
		Type:           params.Type,
		OccurredOn:     params.OccurredOn,
		ReportedAt:     params.ReportedAt,
		LocationName:   cloneLangMap(params.LocationName),
		AdminDivision:  cloneLangMap(params.AdminDivision),
		Longitude:      params.Longitude,
		Latitude:       params.Latitude,
		GeocodeQuality: params.GeocodeQuality,
		Description:    cloneLangMap(params.Description),
		Perpetrator:    params.Perpetrator,
		Certainty:      certainty,
		Casualties:     params.Casualties,
		InjuredCount:   params.InjuredCount,
		KidnappedCount: params.KidnappedCount,
		DetainedCount:  params.DetainedCount,
		DisplacedCount: params.DisplacedCount,
		Source:         params.Source,
		CreatedBy:      createdBy,
		UpdatedBy:      createdBy,
	}

	if err := p.QueryRow(ctx, q,
		params.Type,
		params.OccurredOn,
		params.ReportedAt,
		locationJSON,
		adminJSON,
		params.Longitude,
		params.Latitude,
		params.GeocodeQuality,
		descriptionJSON,
		params.Perpetrator,
		certainty,
		params.Casualties,
		params.InjuredCount,
		params.KidnappedCount,
		params.DetainedCount,
		params.DisplacedCount,
		params.DedupKey,
		params.Source,
		createdBy,
	).Scan(&record.ViolationID, &record.ViolationUUID, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert violation: %w", err)
	}

	return &record, nil
}

// GetViolationByID returns one violation row by internal id.
func (p *Pool) GetViolationByID(ctx context.Context, violationID int64) (*ViolationRecord, error) {
	q := `
SELECT` + violationColumns + `
FROM vigil.violations v
WHERE v.violation_id = $1
  AND v.deleted_at IS NULL
`
	return p.queryViolationRow(ctx, q, violationID)
}

// GetViolationByUUID returns one violation row by public UUID.
func (p *Pool) GetViolationByUUID(ctx context.Context, violationUUID string) (*ViolationRecord, error) {
	trimmed := strings.TrimSpace(violationUUID)
	if trimmed == "" {
		return nil, fmt.Errorf("violation UUID is required")
	}

	q := `
SELECT` + violationColumns + `
FROM vigil.violations v
WHERE v.violation_uuid = $1::uuid
  AND v.deleted_at IS NULL
`
	return p.queryViolationRow(ctx, q, trimmed)
}

// FindViolationByDedupKey returns the violation holding the given dedup key.
func (p *Pool) FindViolationByDedupKey(ctx context.Context, key []byte) (*ViolationRecord, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("dedup key is required")
	}

	q := `
SELECT` + violationColumns + `
FROM vigil.violations v
WHERE v.dedup_key = $1
  AND v.deleted_at IS NULL
`
	return p.queryViolationRow(ctx, q, key)
}

// FindViolationCandidates returns same-type violations whose occurrence date
// falls inside the [from, to] window, ready for similarity scoring.
func (p *Pool) FindViolationCandidates(ctx context.Context, violationType string, from, to time.Time, limit int) ([]dedup.Record, error) {
	if strings.TrimSpace(violationType) == "" {
		return nil, fmt.Errorf("violation type is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	q := `
SELECT` + violationColumns + `
FROM vigil.violations v
WHERE v.type = $1
  AND v.occurred_on >= $2::date
  AND v.occurred_on <= $3::date
  AND v.deleted_at IS NULL
ORDER BY v.occurred_on DESC, v.violation_id DESC
LIMIT $4
`

	rows, err := p.Query(ctx, q, violationType, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query violation candidates: %w", err)
	}
	defer rows.Close()

	records := make([]dedup.Record, 0, limit)
	for rows.Next() {
		row, err := scanViolationRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, row.DedupRecord())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violation candidate rows: %w", err)
	}
	return records, nil
}

// ApplyViolationMerge folds an incoming record into an existing violation.
// Returns ErrNoRows when the target row vanished between read and write.
func (p *Pool) ApplyViolationMerge(ctx context.Context, params MergeViolationParams) (*ViolationRecord, error) {
	if params.ViolationID <= 0 {
		return nil, fmt.Errorf("violation id is required")
	}

	locationJSON, err := marshalLangMap(params.LocationName)
	if err != nil {
		return nil, fmt.Errorf("marshal location name: %w", err)
	}
	adminJSON, err := marshalLangMap(params.AdminDivision)
	if err != nil {
		return nil, fmt.Errorf("marshal admin division: %w", err)
	}
	descriptionJSON, err := marshalLangMap(params.Description)
	if err != nil {
		return nil, fmt.Errorf("marshal description: %w", err)
	}

	updatedBy := strings.TrimSpace(params.UpdatedBy)
	if updatedBy == "" {
		updatedBy = "system"
	}

	q := `
UPDATE vigil.violations v
SET
	location_name = v.location_name || $2::jsonb,
	admin_division = v.admin_division || $3::jsonb,
	longitude = COALESCE($4, v.longitude),
	latitude = COALESCE($5, v.latitude),
	geocode_quality = CASE WHEN $4 IS NOT NULL THEN $6 ELSE v.geocode_quality END,
	description = v.description || $7::jsonb,
	perpetrator = COALESCE(v.perpetrator, $8),
	certainty = COALESCE($9, v.certainty),
	casualties = GREATEST(v.casualties, $10),
	injured_count = GREATEST(v.injured_count, $11),
	kidnapped_count = GREATEST(v.kidnapped_count, $12),
	detained_count = GREATEST(v.detained_count, $13),
	displaced_count = GREATEST(v.displaced_count, $14),
	merge_count = v.merge_count + 1,
	updated_by = $15,
	updated_at = now()
WHERE v.violation_id = $1
  AND v.deleted_at IS NULL
RETURNING` + violationColumns + `
`

	rows, err := p.Query(ctx, q,
		params.ViolationID,
		locationJSON,
		adminJSON,
		params.Longitude,
		params.Latitude,
		params.GeocodeQuality,
		descriptionJSON,
		params.Perpetrator,
		params.Certainty,
		params.Casualties,
		params.InjuredCount,
		params.KidnappedCount,
		params.DetainedCount,
		params.DisplacedCount,
		updatedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("apply violation merge: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("apply violation merge: %w", err)
		}
		return nil, ErrNoRows
	}
	record, err := scanViolationRecord(rows)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// LinkViolationToReport records provenance between a report and a violation.
// Re-linking the same pair is a no-op.
func (p *Pool) LinkViolationToReport(ctx context.Context, violationID, reportID int64) error {
	if violationID <= 0 || reportID <= 0 {
		return fmt.Errorf("violation id and report id are required")
	}

	const q = `
INSERT INTO vigil.report_violations (report_id, violation_id, position)
SELECT
	$1,
	$2,
	COALESCE((SELECT MAX(rv.position) FROM vigil.report_violations rv WHERE rv.report_id = $1), 0) + 1
ON CONFLICT (report_id, violation_id) DO NOTHING
`

	if _, err := p.Exec(ctx, q, reportID, violationID); err != nil {
		return fmt.Errorf("link violation to report: %w", err)
	}
	return nil
}

// InsertMergeEvent appends one merge audit row.
func (p *Pool) InsertMergeEvent(ctx context.Context, params InsertMergeEventParams) error {
	if params.ViolationID <= 0 {
		return fmt.Errorf("violation id is required")
	}

	var mergedFields json.RawMessage
	if len(params.MergedFields) > 0 {
		encoded, err := json.Marshal(params.MergedFields)
		if err != nil {
			return fmt.Errorf("marshal merged fields: %w", err)
		}
		mergedFields = encoded
	}

	signal := strings.TrimSpace(params.Signal)
	if signal == "" {
		signal = "text_similarity"
	}
	mergedBy := strings.TrimSpace(params.MergedBy)
	if mergedBy == "" {
		mergedBy = "system"
	}

	const q = `
INSERT INTO vigil.merge_events (
	violation_id,
	report_id,
	similarity,
	signal,
	exact_match,
	match_details,
	merged_fields,
	merged_by
) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8)
`

	if _, err := p.Exec(ctx, q,
		params.ViolationID,
		params.ReportID,
		params.Similarity,
		signal,
		params.ExactMatch,
		nilIfEmptyJSON(params.MatchDetails),
		mergedFields,
		mergedBy,
	); err != nil {
		return fmt.Errorf("insert merge event: %w", err)
	}
	return nil
}

// ListViolationReportIDs returns the source report ids linked to one
// violation, in link order.
func (p *Pool) ListViolationReportIDs(ctx context.Context, violationID int64) ([]int64, error) {
	if violationID <= 0 {
		return nil, fmt.Errorf("violation id is required")
	}

	const q = `
SELECT rv.report_id
FROM vigil.report_violations rv
WHERE rv.violation_id = $1
ORDER BY rv.linked_at ASC, rv.report_id ASC
`

	rows, err := p.Query(ctx, q, violationID)
	if err != nil {
		return nil, fmt.Errorf("query violation report ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, 4)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan violation report id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violation report ids: %w", err)
	}
	return ids, nil
}

// ListViolationMergeEvents returns the merge audit trail for one violation,
// oldest first.
func (p *Pool) ListViolationMergeEvents(ctx context.Context, violationID int64) ([]MergeEventRecord, error) {
	if violationID <= 0 {
		return nil, fmt.Errorf("violation id is required")
	}

	const q = `
SELECT
	me.merge_event_id,
	me.merge_event_uuid::text,
	me.violation_id,
	me.report_id,
	me.similarity,
	me.signal,
	me.exact_match,
	me.match_details,
	me.merged_fields,
	me.merged_by,
	me.created_at
FROM vigil.merge_events me
WHERE me.violation_id = $1
ORDER BY me.merge_event_id ASC
`

	rows, err := p.Query(ctx, q, violationID)
	if err != nil {
		return nil, fmt.Errorf("query merge events: %w", err)
	}
	defer rows.Close()

	events := make([]MergeEventRecord, 0, 4)
	for rows.Next() {
		var (
			event       MergeEventRecord
			detailsJSON []byte
			mergedJSON  []byte
		)
		if err := rows.Scan(
			&event.MergeEventID,
			&event.MergeEventUUID,
			&event.ViolationID,
			&event.ReportID,
			&event.Similarity,
			&event.Signal,
			&event.ExactMatch,
			&detailsJSON,
			&mergedJSON,
			&event.MergedBy,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan merge event row: %w", err)
		}
		if len(detailsJSON) > 0 {
			event.MatchDetails = json.RawMessage(detailsJSON)
		}
		if len(mergedJSON) > 0 {
			if err := json.Unmarshal(mergedJSON, &event.MergedFields); err != nil {
				return nil, fmt.Errorf("decode merged fields: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate merge event rows: %w", err)
	}
	return events, nil
}

// ListViolations lists violations in reverse occurrence order, optionally
// filtered by type and date window.
func (p *Pool) ListViolations(ctx context.Context, opts ViolationListOptions) ([]ViolationRecord, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	if opts.Offset < 0 {
		return nil, fmt.Errorf("offset must be >= 0")
	}

	q := `
SELECT` + violationColumns + `
FROM vigil.violations v
WHERE v.deleted_at IS NULL
  AND ($1 = '' OR v.type = $1)
  AND ($2::date IS NULL OR v.occurred_on >= $2::date)
  AND ($3::date IS NULL OR v.occurred_on <= $3::date)
  AND ($4 = '' OR v.description::text ILIKE '%' || $4 || '%' OR v.location_name::text ILIKE '%' || $4 || '%')
ORDER BY v.occurred_on DESC, v.violation_id DESC
LIMIT $5 OFFSET $6
`

	var from, to *time.Time
	if !opts.From.IsZero() {
		f := opts.From.UTC()
		from = &f
	}
	if !opts.To.IsZero() {
		t := opts.To.UTC()
		to = &t
	}

	rows, err := p.Query(ctx, q, strings.TrimSpace(strings.ToLower(opts.Type)), from, to, strings.TrimSpace(opts.Query), opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	items := make([]ViolationRecord, 0, opts.Limit)
	for rows.Next() {
		row, err := scanViolationRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violation rows: %w", err)
	}
	return items, nil
}

func (p *Pool) queryViolationRow(ctx context.Context, query string, args ...any) (*ViolationRecord, error) {
	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query violation: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query violation: %w", err)
		}
		return nil, ErrNoRows
	}
	record, err := scanViolationRecord(rows)
	if err != nil {
		if errors.Is(err, ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, err
	}
	return record, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanViolationRecord(scanner rowScanner) (*ViolationRecord, error) {
	var (
		record          ViolationRecord
		locationJSON    []byte
		adminJSON       []byte
		descriptionJSON []byte
	)

	if err := scanner.Scan(
		&record.ViolationID,
		&record.ViolationUUID,
		&record.Type,
		&record.OccurredOn,
		&record.ReportedAt,
		&locationJSON,
		&adminJSON,
		&record.Longitude,
		&record.Latitude,
		&record.GeocodeQuality,
		&descriptionJSON,
		&record.Perpetrator,
		&record.Certainty,
		&record.Verified,
		&record.Casualties,
		&record.InjuredCount,
		&record.KidnappedCount,
		&record.DetainedCount,
		&record.DisplacedCount,
		&record.Source,
		&record.MergeCount,
		&record.CreatedBy,
		&record.UpdatedBy,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan violation row: %w", err)
	}

	var err error
	if record.LocationName, err = unmarshalLangMap(locationJSON); err != nil {
		return nil, fmt.Errorf("decode location name: %w", err)
	}
	if record.AdminDivision, err = unmarshalLangMap(adminJSON); err != nil {
		return nil, fmt.Errorf("decode admin division: %w", err)
	}
	if record.Description, err = unmarshalLangMap(descriptionJSON); err != nil {
		return nil, fmt.Errorf("decode description: %w", err)
	}

	return &record, nil
}

func marshalLangMap(values map[string]string) ([]byte, error) {
	if len(values) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(values)
}

func unmarshalLangMap(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	values := make(map[string]string)
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	return values, nil
}

func cloneLangMap(values map[string]string) map[string]string {
	cloned := make(map[string]string, len(values))
	for lang, text := range values {
		cloned[lang] = text
	}
	return cloned
}

func nilIfEmptyJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
