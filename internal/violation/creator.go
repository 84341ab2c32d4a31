package violation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-archive/vigil/internal/config"
	"github.com/vigil-archive/vigil/internal/db"
	"github.com/vigil-archive/vigil/internal/dedup"
	"github.com/vigil-archive/vigil/internal/errs"
	"github.com/vigil-archive/vigil/internal/geocode"
	"github.com/vigil-archive/vigil/internal/metrics"
)

// Store is the persistence surface the creator needs.
type Store interface {
	dedup.CandidateStore
	InsertViolation(ctx context.Context, params db.InsertViolationParams) (*db.ViolationRecord, error)
	GetViolationByID(ctx context.Context, violationID int64) (*db.ViolationRecord, error)
	FindViolationByDedupKey(ctx context.Context, key []byte) (*db.ViolationRecord, error)
	ApplyViolationMerge(ctx context.Context, params db.MergeViolationParams) (*db.ViolationRecord, error)
	LinkViolationToReport(ctx context.Context, violationID, reportID int64) error
	InsertMergeEvent(ctx context.Context, params db.InsertMergeEventParams) error
}

// CreateOptions selects the duplicate policy for one creation call.
type CreateOptions struct {
	// SkipDuplicateCheck inserts without querying for duplicates. The
	// unique index on the dedup key still rejects exact twins.
	SkipDuplicateCheck bool
	// MergeDuplicates folds the candidate into the best duplicate instead
	// of rejecting with a conflict.
	MergeDuplicates bool
	// Threshold overrides the configured similarity threshold when > 0.
	Threshold float64
	// ReportID links the resulting violation to a source report.
	ReportID *int64
	// Actor is stamped into the provenance columns. Empty means system.
	Actor string
}

// Result describes what one creation call did.
type Result struct {
	Violation  *db.ViolationRecord
	Created    bool
	Merged     bool
	ExactMatch bool
	Similarity *float64
}

// BatchItem ties one batch position to its outcome.
type BatchItem struct {
	Index  int
	Result *Result
	Err    error
}

// Creator runs the dedup-aware creation pipeline.
type Creator struct {
	store    Store
	finder   *dedup.Finder
	geocoder geocode.Geocoder
	cfg      *config.Config
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewCreator(store Store, finder *dedup.Finder, geocoder geocode.Geocoder, cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) *Creator {
	return &Creator{
		store:    store,
		finder:   finder,
		geocoder: geocoder,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
}

// CreateSingle validates the candidate, checks for duplicates, and either
// merges into the matched violation or geocodes and inserts a new one.
// Only the insert path needs coordinates, so a merge never waits on the
// geocoder. With merging disabled a duplicate yields a ConflictError
// carrying the ranked matches.
func (c *Creator) CreateSingle(ctx context.Context, candidate *Candidate, opts CreateOptions) (*Result, error) {
	if c == nil || c.store == nil || c.finder == nil {
		return nil, fmt.Errorf("violation creator is not initialized")
	}

	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	if opts.SkipDuplicateCheck {
		return c.insertNew(ctx, candidate, opts)
	}

	check, err := c.finder.CheckForDuplicates(ctx, candidate.DedupRecord(), dedup.CheckOptions{
		Threshold: opts.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	c.metrics.ObserveDedupCheck(check.HasDuplicates)

	if check.HasDuplicates {
		if !opts.MergeDuplicates {
			return nil, &errs.ConflictError{Duplicates: check.Duplicates}
		}
		return c.mergeWithRetry(ctx, candidate, *check.BestMatch, opts, matchSignal(*check.BestMatch))
	}

	return c.insertNew(ctx, candidate, opts)
}

// CreateBatch validates every candidate before creating any of them, then
// runs the per-item pipeline. Item failures never abort the batch.
func (c *Creator) CreateBatch(ctx context.Context, candidates []*Candidate, opts CreateOptions) []BatchItem {
	items := make([]BatchItem, len(candidates))

	for i, candidate := range candidates {
		items[i] = BatchItem{Index: i}
		if err := candidate.Validate(); err != nil {
			items[i].Err = err
		}
	}

	for i, candidate := range candidates {
		if items[i].Err != nil {
			continue
		}
		result, err := c.CreateSingle(ctx, candidate, opts)
		items[i].Result = result
		items[i].Err = err
	}

	return items
}

// resolveCoordinates fills missing coordinates from the geocoder, trying
// the place name in each configured language and keeping the best hit.
// Names carry their administrative division when one is known. A candidate
// without coordinates or place names passes through untouched; a named
// place the geocoder cannot resolve fails the creation.
func (c *Creator) resolveCoordinates(ctx context.Context, candidate *Candidate) error {
	if candidate.HasCoordinates() || c.geocoder == nil || len(candidate.LocationName) == 0 {
		return nil
	}

	names := make(map[string]string, len(candidate.LocationName))
	for lang, name := range candidate.LocationName {
		if admin := candidate.AdminDivision[lang]; admin != "" {
			names[lang] = name + ", " + admin
			continue
		}
		names[lang] = name
	}

	result, err := geocode.ResolveBest(ctx, c.geocoder, names, c.cfg.Languages())
	if err != nil {
		c.metrics.ObserveCollaboratorFailure("geocoder")
		c.logger.Warn().Err(err).Msg("geocoding failed")
		if errors.Is(err, geocode.ErrNoMatch) || !errs.IsUpstream(err) {
			return &errs.UpstreamError{Service: "geocoder", Err: err}
		}
		return err
	}

	candidate.Longitude = &result.Longitude
	candidate.Latitude = &result.Latitude
	candidate.GeocodeQuality = &result.Quality
	return nil
}

func (c *Creator) insertNew(ctx context.Context, candidate *Candidate, opts CreateOptions) (*Result, error) {
	if err := c.resolveCoordinates(ctx, candidate); err != nil {
		return nil, err
	}

	record, err := c.store.InsertViolation(ctx, insertParams(candidate, opts.Actor))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return c.recoverCreationRace(ctx, candidate, opts)
		}
		return nil, fmt.Errorf("insert violation: %w", err)
	}

	if err := c.linkReport(ctx, record.ViolationID, opts.ReportID); err != nil {
		return nil, err
	}

	c.metrics.ObserveViolationCreated(candidate.Type)
	c.logger.Info().
		Int64("violation_id", record.ViolationID).
		Str("type", record.Type).
		Msg("violation created")

	return &Result{Violation: record, Created: true}, nil
}

// recoverCreationRace handles a unique-index rejection: a concurrent writer
// committed the same incident first, so the candidate merges into that row.
func (c *Creator) recoverCreationRace(ctx context.Context, candidate *Candidate, opts CreateOptions) (*Result, error) {
	winner, err := c.store.FindViolationByDedupKey(ctx, candidate.DedupKey())
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, fmt.Errorf("creation race lost but winning row not found: %w", errs.ErrRaceRecovered)
		}
		return nil, fmt.Errorf("find race winner: %w", err)
	}

	c.logger.Info().
		Int64("violation_id", winner.ViolationID).
		Str("type", candidate.Type).
		Msg("creation race lost; merging into winning row")

	match := dedup.Compare(candidate.DedupRecord(), winner.DedupRecord(), c.matchOptions(opts))
	return c.mergeWithRetry(ctx, candidate, match, opts, "dedup_key_race")
}

// mergeWithRetry folds the candidate into the matched violation, retrying
// with backoff when the target row disappears mid-merge. When every target
// is gone the candidate is inserted as a new violation.
func (c *Creator) mergeWithRetry(ctx context.Context, candidate *Candidate, match dedup.DuplicateMatch, opts CreateOptions, signal string) (*Result, error) {
	attempts := c.cfg.MergeRetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := c.cfg.MergeRetryBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		target, err := c.store.GetViolationByID(ctx, match.CandidateID)
		if err != nil {
			if errors.Is(err, db.ErrNoRows) {
				next, retry := c.rematchAfterLostTarget(ctx, candidate, opts)
				if !retry {
					return c.insertNew(ctx, candidate, opts)
				}
				match = next
				signal = matchSignal(next)
				continue
			}
			return nil, fmt.Errorf("read merge target: %w", err)
		}

		merged, err := c.store.ApplyViolationMerge(ctx, mergeParams(candidate, target, opts.Actor))
		if err != nil {
			if errors.Is(err, db.ErrNoRows) {
				if attempt == attempts {
					break
				}
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(backoff):
				}
				continue
			}
			return nil, fmt.Errorf("apply violation merge: %w", err)
		}

		if err := c.recordMerge(ctx, candidate, target, merged, match, opts, signal); err != nil {
			return nil, err
		}

		similarity := match.Similarity
		return &Result{
			Violation:  merged,
			Merged:     true,
			ExactMatch: match.ExactMatch,
			Similarity: &similarity,
		}, nil
	}

	return nil, fmt.Errorf("merge into violation %d failed after %d attempts", match.CandidateID, attempts)
}

// rematchAfterLostTarget re-runs the duplicate check once the original
// target vanished. Returns retry=false when no duplicate remains.
func (c *Creator) rematchAfterLostTarget(ctx context.Context, candidate *Candidate, opts CreateOptions) (dedup.DuplicateMatch, bool) {
	check, err := c.finder.CheckForDuplicates(ctx, candidate.DedupRecord(), dedup.CheckOptions{
		Threshold: opts.Threshold,
	})
	if err != nil || !check.HasDuplicates {
		return dedup.DuplicateMatch{}, false
	}
	return *check.BestMatch, true
}

func (c *Creator) recordMerge(ctx context.Context, candidate *Candidate, before, after *db.ViolationRecord, match dedup.DuplicateMatch, opts CreateOptions, signal string) error {
	details, err := json.Marshal(match.Details)
	if err != nil {
		return fmt.Errorf("marshal match details: %w", err)
	}

	similarity := match.Similarity
	if err := c.store.InsertMergeEvent(ctx, db.InsertMergeEventParams{
		ViolationID:  after.ViolationID,
		ReportID:     opts.ReportID,
		Similarity:   &similarity,
		Signal:       signal,
		ExactMatch:   match.ExactMatch,
		MatchDetails: details,
		MergedFields: mergedFields(before, after),
		MergedBy:     opts.Actor,
	}); err != nil {
		return fmt.Errorf("insert merge event: %w", err)
	}

	if err := c.linkReport(ctx, after.ViolationID, opts.ReportID); err != nil {
		return err
	}

	c.metrics.ObserveViolationMerged(candidate.Type)
	c.logger.Info().
		Int64("violation_id", after.ViolationID).
		Float64("similarity", match.Similarity).
		Bool("exact_match", match.ExactMatch).
		Msg("violation merged")

	return nil
}

func (c *Creator) linkReport(ctx context.Context, violationID int64, reportID *int64) error {
	if reportID == nil {
		return nil
	}
	if err := c.store.LinkViolationToReport(ctx, violationID, *reportID); err != nil {
		return fmt.Errorf("link violation to report: %w", err)
	}
	return nil
}

func (c *Creator) matchOptions(opts CreateOptions) dedup.MatchOptions {
	matchOpts := dedup.MatchOptions{
		Threshold:              c.cfg.DedupThreshold,
		MaxDistanceMeters:      c.cfg.DedupMaxDistanceMeters,
		CasualtyToleranceRatio: c.cfg.CasualtyToleranceRatio,
		CasualtySlack:          c.cfg.CasualtyToleranceAbsolute,
		PrimaryLanguage:        c.cfg.PrimaryLanguage,
		SecondaryLanguage:      c.cfg.SecondaryLanguage,
	}
	if opts.Threshold > 0 {
		matchOpts.Threshold = opts.Threshold
	}
	return matchOpts
}

// matchSignal names which comparison produced the merge decision.
func matchSignal(match dedup.DuplicateMatch) string {
	if match.ExactMatch {
		return "exact_fields"
	}
	return "text_similarity"
}

func insertParams(candidate *Candidate, actor string) db.InsertViolationParams {
	return db.InsertViolationParams{
		Type:           candidate.Type,
		OccurredOn:     candidate.OccurredOn,
		ReportedAt:     candidate.ReportedAt,
		LocationName:   candidate.LocationName,
		AdminDivision:  candidate.AdminDivision,
		Longitude:      candidate.Longitude,
		Latitude:       candidate.Latitude,
		GeocodeQuality: candidate.GeocodeQuality,
		Description:    candidate.Description,
		Perpetrator:    candidate.Perpetrator,
		Certainty:      candidate.Certainty,
		Casualties:     candidate.Casualties,
		InjuredCount:   candidate.InjuredCount,
		KidnappedCount: candidate.KidnappedCount,
		DetainedCount:  candidate.DetainedCount,
		DisplacedCount: candidate.DisplacedCount,
		DedupKey:       candidate.DedupKey(),
		Source:         nullableString(candidate.Source),
		CreatedBy:      actor,
	}
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// mergeParams maps the candidate onto the update statement: incoming
// coordinates and language entries win, counts keep the larger value, and
// certainty only upgrades.
func mergeParams(candidate *Candidate, target *db.ViolationRecord, actor string) db.MergeViolationParams {
	params := db.MergeViolationParams{
		ViolationID:    target.ViolationID,
		UpdatedBy:      actor,
		LocationName:   candidate.LocationName,
		AdminDivision:  candidate.AdminDivision,
		Description:    candidate.Description,
		Casualties:     candidate.Casualties,
		InjuredCount:   candidate.InjuredCount,
		KidnappedCount: candidate.KidnappedCount,
		DetainedCount:  candidate.DetainedCount,
		DisplacedCount: candidate.DisplacedCount,
	}
	if candidate.HasCoordinates() {
		params.Longitude = candidate.Longitude
		params.Latitude = candidate.Latitude
		params.GeocodeQuality = candidate.GeocodeQuality
	}
	if candidate.Perpetrator != nil {
		params.Perpetrator = candidate.Perpetrator
	}
	if candidate.Certainty != "" && strongerCertainty(candidate.Certainty, target.Certainty) {
		certainty := candidate.Certainty
		params.Certainty = &certainty
	}
	return params
}

func mergedFields(before, after *db.ViolationRecord) []string {
	if before == nil || after == nil {
		return nil
	}

	fields := make([]string, 0, 8)
	if !sameOptionalFloat(before.Longitude, after.Longitude) || !sameOptionalFloat(before.Latitude, after.Latitude) {
		fields = append(fields, "coordinates")
	}
	if langMapChanged(before.LocationName, after.LocationName) {
		fields = append(fields, "location_name")
	}
	if langMapChanged(before.AdminDivision, after.AdminDivision) {
		fields = append(fields, "admin_division")
	}
	if langMapChanged(before.Description, after.Description) {
		fields = append(fields, "description")
	}
	if !sameOptionalString(before.Perpetrator, after.Perpetrator) {
		fields = append(fields, "perpetrator")
	}
	if before.Certainty != after.Certainty {
		fields = append(fields, "certainty")
	}
	if before.Casualties != after.Casualties ||
		before.InjuredCount != after.InjuredCount ||
		before.KidnappedCount != after.KidnappedCount ||
		before.DetainedCount != after.DetainedCount ||
		before.DisplacedCount != after.DisplacedCount {
		fields = append(fields, "counts")
	}
	return fields
}

func langMapChanged(before, after map[string]string) bool {
	if len(before) != len(after) {
		return true
	}
	for lang, text := range after {
		if before[lang] != text {
			return true
		}
	}
	return false
}

func sameOptionalFloat(a, b *float64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func sameOptionalString(a, b *string) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}
