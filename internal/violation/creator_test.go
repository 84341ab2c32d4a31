package violation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/vigil-archive/vigil/internal/config"
	"github.com/vigil-archive/vigil/internal/db"
	"github.com/vigil-archive/vigil/internal/dedup"
	"github.com/vigil-archive/vigil/internal/errs"
	"github.com/vigil-archive/vigil/internal/geocode"
)

type stubStore struct {
	findCalls       int
	candidates      []dedup.Record
	laterCandidates []dedup.Record

	insertErr    error
	insertOnce   bool
	insertCalls  []db.InsertViolationParams
	insertRecord *db.ViolationRecord

	getRecord *db.ViolationRecord
	getErr    error

	dedupKeyRecord *db.ViolationRecord
	dedupKeyErr    error

	mergeRecord *db.ViolationRecord
	mergeErr    error
	mergeCalls  []db.MergeViolationParams

	mergeEvents []db.InsertMergeEventParams
	links       [][2]int64
}

func (s *stubStore) FindViolationCandidates(_ context.Context, _ string, _, _ time.Time, _ int) ([]dedup.Record, error) {
	s.findCalls++
	if s.findCalls > 1 {
		return s.laterCandidates, nil
	}
	return s.candidates, nil
}

func (s *stubStore) InsertViolation(_ context.Context, params db.InsertViolationParams) (*db.ViolationRecord, error) {
	s.insertCalls = append(s.insertCalls, params)
	if s.insertErr != nil {
		err := s.insertErr
		if s.insertOnce {
			s.insertErr = nil
		}
		return nil, err
	}
	if s.insertRecord != nil {
		return s.insertRecord, nil
	}
	return &db.ViolationRecord{
		ViolationID:   101,
		ViolationUUID: "new-row",
		Type:          params.Type,
		OccurredOn:    params.OccurredOn,
		Certainty:     params.Certainty,
		Casualties:    params.Casualties,
		Description:   params.Description,
	}, nil
}

func (s *stubStore) GetViolationByID(_ context.Context, _ int64) (*db.ViolationRecord, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.getRecord, nil
}

func (s *stubStore) FindViolationByDedupKey(_ context.Context, _ []byte) (*db.ViolationRecord, error) {
	if s.dedupKeyErr != nil {
		return nil, s.dedupKeyErr
	}
	return s.dedupKeyRecord, nil
}

func (s *stubStore) ApplyViolationMerge(_ context.Context, params db.MergeViolationParams) (*db.ViolationRecord, error) {
	s.mergeCalls = append(s.mergeCalls, params)
	if s.mergeErr != nil {
		return nil, s.mergeErr
	}
	return s.mergeRecord, nil
}

func (s *stubStore) LinkViolationToReport(_ context.Context, violationID, reportID int64) error {
	s.links = append(s.links, [2]int64{violationID, reportID})
	return nil
}

func (s *stubStore) InsertMergeEvent(_ context.Context, params db.InsertMergeEventParams) error {
	s.mergeEvents = append(s.mergeEvents, params)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		DatabaseURL:               "postgres://stub",
		PrimaryLanguage:           "ar",
		SecondaryLanguage:         "en",
		DedupThreshold:            0.75,
		ExtractionDedupThreshold:  0.85,
		DedupMaxDistanceMeters:    100,
		DedupDateWindowDays:       2,
		DedupCandidateLimit:       50,
		CasualtyToleranceRatio:    0.20,
		CasualtyToleranceAbsolute: 1,
		MergeRetryAttempts:        3,
		MergeRetryBackoff:         time.Millisecond,
		MaxReportAttempts:         3,
		BatchChunkSize:            5,
		BatchConcurrency:          3,
	}
}

func testCandidate() *Candidate {
	longitude, latitude := 36.2765, 33.5138
	perpetrator := "regime_forces"
	return &Candidate{
		Type:        "airstrike",
		OccurredOn:  time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		Longitude:   &longitude,
		Latitude:    &latitude,
		Perpetrator: &perpetrator,
		Certainty:   "probable",
		Casualties:  3,
		Description: map[string]string{
			"ar": "قصف جوي على حي سكني في المدينة",
			"en": "airstrike on a residential neighborhood",
		},
	}
}

func storedTwin(candidate *Candidate, id int64, uuid string) *db.ViolationRecord {
	return &db.ViolationRecord{
		ViolationID:   id,
		ViolationUUID: uuid,
		Type:          candidate.Type,
		OccurredOn:    candidate.OccurredOn,
		Longitude:     candidate.Longitude,
		Latitude:      candidate.Latitude,
		Perpetrator:   candidate.Perpetrator,
		Certainty:     "possible",
		Casualties:    candidate.Casualties,
		Description:   candidate.Description,
	}
}

type staticGeocoder struct {
	result  *geocode.Result
	err     error
	queries []string
}

func (g *staticGeocoder) Geocode(_ context.Context, name, _ string) (*geocode.Result, error) {
	g.queries = append(g.queries, name)
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func newTestCreator(store *stubStore, cfg *config.Config) *Creator {
	return newGeoTestCreator(store, cfg, nil)
}

func newGeoTestCreator(store *stubStore, cfg *config.Config, geocoder geocode.Geocoder) *Creator {
	finder := dedup.NewFinder(store, dedup.FinderOptions{
		Match: dedup.MatchOptions{
			Threshold:         cfg.DedupThreshold,
			PrimaryLanguage:   cfg.PrimaryLanguage,
			SecondaryLanguage: cfg.SecondaryLanguage,
		},
		DateWindowDays: cfg.DedupDateWindowDays,
		CandidateLimit: cfg.DedupCandidateLimit,
	}, zerolog.Nop())
	return NewCreator(store, finder, geocoder, cfg, nil, zerolog.Nop())
}

func TestCreateSingle_InsertsNewViolation(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	creator := newTestCreator(store, testConfig())

	candidate := testCandidate()
	candidate.Source = "telegram:observer"
	reportID := int64(55)
	result, err := creator.CreateSingle(context.Background(), candidate, CreateOptions{ReportID: &reportID})
	if err != nil {
		t.Fatalf("create single: %v", err)
	}

	if !result.Created || result.Merged {
		t.Fatalf("expected a created result: %+v", result)
	}
	if len(store.insertCalls) != 1 {
		t.Fatalf("unexpected insert count: got %d want 1", len(store.insertCalls))
	}
	if store.insertCalls[0].DedupKey == nil {
		t.Fatalf("insert must carry the derived dedup key")
	}
	if store.insertCalls[0].Source == nil || *store.insertCalls[0].Source != "telegram:observer" {
		t.Fatalf("insert must carry the source channel: %+v", store.insertCalls[0].Source)
	}
	if len(store.links) != 1 || store.links[0] != [2]int64{101, 55} {
		t.Fatalf("violation was not linked to the report: %+v", store.links)
	}
}

func TestCreateSingle_RejectsInvalidCandidate(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	creator := newTestCreator(store, testConfig())

	candidate := testCandidate()
	candidate.Type = "meteor"
	_, err := creator.CreateSingle(context.Background(), candidate, CreateOptions{})
	if !errs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(store.insertCalls) != 0 {
		t.Fatalf("invalid candidates must never reach the store")
	}
}

func TestCreateSingle_DuplicateWithoutMergeConflicts(t *testing.T) {
	t.Parallel()

	candidate := testCandidate()
	store := &stubStore{candidates: []dedup.Record{storedTwin(candidate, 7, "dup-row").DedupRecord()}}
	creator := newTestCreator(store, testConfig())

	_, err := creator.CreateSingle(context.Background(), candidate, CreateOptions{})
	if !errs.IsConflict(err) {
		t.Fatalf("expected conflict error, got %v", err)
	}

	var ce *errs.ConflictError
	if !errors.As(err, &ce) || len(ce.Duplicates) != 1 {
		t.Fatalf("conflict must carry the ranked duplicates: %v", err)
	}
	if ce.Duplicates[0].CandidateUUID != "dup-row" {
		t.Fatalf("unexpected duplicate identity: %+v", ce.Duplicates[0])
	}
	if len(store.insertCalls) != 0 {
		t.Fatalf("a conflicting candidate must not be inserted")
	}
}

func TestCreateSingle_MergesIntoDuplicate(t *testing.T) {
	t.Parallel()

	candidate := testCandidate()
	target := storedTwin(candidate, 7, "dup-row")
	merged := storedTwin(candidate, 7, "dup-row")
	merged.Certainty = "probable"
	merged.MergeCount = 1

	store := &stubStore{
		candidates:  []dedup.Record{target.DedupRecord()},
		getRecord:   target,
		mergeRecord: merged,
	}
	creator := newTestCreator(store, testConfig())

	reportID := int64(55)
	result, err := creator.CreateSingle(context.Background(), candidate, CreateOptions{MergeDuplicates: true, ReportID: &reportID})
	if err != nil {
		t.Fatalf("create single: %v", err)
	}

	if !result.Merged || result.Created {
		t.Fatalf("expected a merged result: %+v", result)
	}
	if !result.ExactMatch {
		t.Fatalf("identical incident must merge on the exact path: %+v", result)
	}
	if result.Violation.ViolationID != 7 {
		t.Fatalf("unexpected merge target: %d", result.Violation.ViolationID)
	}
	if len(store.mergeCalls) != 1 {
		t.Fatalf("unexpected merge count: got %d want 1", len(store.mergeCalls))
	}
	if store.mergeCalls[0].Certainty == nil || *store.mergeCalls[0].Certainty != "probable" {
		t.Fatalf("stronger certainty must upgrade the target: %+v", store.mergeCalls[0].Certainty)
	}
	if len(store.mergeEvents) != 1 {
		t.Fatalf("merge must be recorded in the audit trail")
	}
	if store.mergeEvents[0].ReportID == nil || *store.mergeEvents[0].ReportID != 55 {
		t.Fatalf("merge event must reference the source report: %+v", store.mergeEvents[0].ReportID)
	}
	if store.mergeEvents[0].Signal != "exact_fields" {
		t.Fatalf("unexpected merge signal: %q", store.mergeEvents[0].Signal)
	}
	if len(store.links) != 1 || store.links[0] != [2]int64{7, 55} {
		t.Fatalf("merge must link the report to the surviving row: %+v", store.links)
	}
	if len(store.insertCalls) != 0 {
		t.Fatalf("merging must not insert a new row")
	}
}

func TestCreateSingle_RecoversFromCreationRace(t *testing.T) {
	t.Parallel()

	candidate := testCandidate()
	winner := storedTwin(candidate, 9, "race-winner")

	store := &stubStore{
		insertErr:      gorm.ErrDuplicatedKey,
		insertOnce:     true,
		dedupKeyRecord: winner,
		getRecord:      winner,
		mergeRecord:    winner,
	}
	creator := newTestCreator(store, testConfig())

	result, err := creator.CreateSingle(context.Background(), candidate, CreateOptions{MergeDuplicates: true})
	if err != nil {
		t.Fatalf("create single: %v", err)
	}

	if !result.Merged || result.Created {
		t.Fatalf("lost race must resolve as a merge: %+v", result)
	}
	if result.Violation.ViolationID != 9 {
		t.Fatalf("merge must target the winning row: %d", result.Violation.ViolationID)
	}
	if len(store.insertCalls) != 1 {
		t.Fatalf("exactly one insert attempt expected: got %d", len(store.insertCalls))
	}
	if len(store.mergeCalls) != 1 {
		t.Fatalf("exactly one merge expected: got %d", len(store.mergeCalls))
	}
	if len(store.mergeEvents) != 1 || store.mergeEvents[0].Signal != "dedup_key_race" {
		t.Fatalf("race recovery must be recorded with its own signal: %+v", store.mergeEvents)
	}
}

func TestCreateSingle_SkipsDuplicateCheck(t *testing.T) {
	t.Parallel()

	candidate := testCandidate()
	store := &stubStore{candidates: []dedup.Record{storedTwin(candidate, 7, "dup-row").DedupRecord()}}
	creator := newTestCreator(store, testConfig())

	result, err := creator.CreateSingle(context.Background(), candidate, CreateOptions{SkipDuplicateCheck: true})
	if err != nil {
		t.Fatalf("create single: %v", err)
	}

	if !result.Created || result.Merged {
		t.Fatalf("expected a created result: %+v", result)
	}
	if store.findCalls != 0 {
		t.Fatalf("skipping the check must not query for candidates: %d call(s)", store.findCalls)
	}
	if len(store.insertCalls) != 1 {
		t.Fatalf("unexpected insert count: got %d want 1", len(store.insertCalls))
	}
}

func TestCreateSingle_GeocodesMissingCoordinates(t *testing.T) {
	t.Parallel()

	candidate := testCandidate()
	candidate.Longitude, candidate.Latitude = nil, nil
	candidate.LocationName = map[string]string{"en": "Douma"}
	candidate.AdminDivision = map[string]string{"en": "Rif Dimashq"}

	geocoder := &staticGeocoder{result: &geocode.Result{Longitude: 36.4, Latitude: 33.57, Quality: 0.8}}
	store := &stubStore{}
	creator := newGeoTestCreator(store, testConfig(), geocoder)

	result, err := creator.CreateSingle(context.Background(), candidate, CreateOptions{})
	if err != nil {
		t.Fatalf("create single: %v", err)
	}
	if !result.Created {
		t.Fatalf("expected a created result: %+v", result)
	}

	if len(geocoder.queries) != 1 || geocoder.queries[0] != "Douma, Rif Dimashq" {
		t.Fatalf("geocoder must receive the name with its admin division: %v", geocoder.queries)
	}
	if len(store.insertCalls) != 1 {
		t.Fatalf("unexpected insert count: got %d want 1", len(store.insertCalls))
	}
	inserted := store.insertCalls[0]
	if inserted.Longitude == nil || *inserted.Longitude != 36.4 || inserted.Latitude == nil || *inserted.Latitude != 33.57 {
		t.Fatalf("resolved coordinates must be stored: %+v %+v", inserted.Longitude, inserted.Latitude)
	}
	if inserted.GeocodeQuality == nil || *inserted.GeocodeQuality != 0.8 {
		t.Fatalf("geocode quality must be stored: %+v", inserted.GeocodeQuality)
	}
}

func TestCreateSingle_MergesWithoutGeocoding(t *testing.T) {
	t.Parallel()

	candidate := testCandidate()
	candidate.Longitude, candidate.Latitude = nil, nil
	candidate.LocationName = map[string]string{"en": "Douma"}

	target := storedTwin(candidate, 7, "dup-row")
	merged := storedTwin(candidate, 7, "dup-row")
	merged.MergeCount = 1

	geocoder := &staticGeocoder{err: geocode.ErrNoMatch}
	store := &stubStore{
		candidates:  []dedup.Record{target.DedupRecord()},
		getRecord:   target,
		mergeRecord: merged,
	}
	creator := newGeoTestCreator(store, testConfig(), geocoder)

	result, err := creator.CreateSingle(context.Background(), candidate, CreateOptions{MergeDuplicates: true})
	if err != nil {
		t.Fatalf("create single: %v", err)
	}

	if !result.Merged || result.Created {
		t.Fatalf("expected a merged result: %+v", result)
	}
	if len(geocoder.queries) != 0 {
		t.Fatalf("a merge must never reach the geocoder: %v", geocoder.queries)
	}
	if len(store.insertCalls) != 0 {
		t.Fatalf("merging must not insert a new row")
	}
}

func TestCreateSingle_DuplicateConflictsBeforeGeocoding(t *testing.T) {
	t.Parallel()

	candidate := testCandidate()
	candidate.Longitude, candidate.Latitude = nil, nil
	candidate.LocationName = map[string]string{"en": "Douma"}

	geocoder := &staticGeocoder{err: geocode.ErrNoMatch}
	store := &stubStore{candidates: []dedup.Record{storedTwin(candidate, 7, "dup-row").DedupRecord()}}
	creator := newGeoTestCreator(store, testConfig(), geocoder)

	_, err := creator.CreateSingle(context.Background(), candidate, CreateOptions{})
	if !errs.IsConflict(err) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if errs.IsUpstream(err) {
		t.Fatalf("the duplicate must be reported before any geocoding failure: %v", err)
	}
	if len(geocoder.queries) != 0 {
		t.Fatalf("a rejected duplicate must never reach the geocoder: %v", geocoder.queries)
	}
}

func TestCreateSingle_FailsWhenGeocodingMisses(t *testing.T) {
	t.Parallel()

	candidate := testCandidate()
	candidate.Longitude, candidate.Latitude = nil, nil
	candidate.LocationName = map[string]string{"ar": "بلدة غير معروفة"}

	store := &stubStore{}
	creator := newGeoTestCreator(store, testConfig(), &staticGeocoder{err: geocode.ErrNoMatch})

	_, err := creator.CreateSingle(context.Background(), candidate, CreateOptions{})
	if !errs.IsUpstream(err) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if len(store.insertCalls) != 0 {
		t.Fatalf("an unresolvable place must not be inserted")
	}
}

func TestCreateSingle_LostTargetFallsBackToInsert(t *testing.T) {
	t.Parallel()

	candidate := testCandidate()
	vanished := storedTwin(candidate, 7, "vanished")

	store := &stubStore{
		candidates: []dedup.Record{vanished.DedupRecord()},
		getErr:     db.ErrNoRows,
	}
	creator := newTestCreator(store, testConfig())

	result, err := creator.CreateSingle(context.Background(), candidate, CreateOptions{MergeDuplicates: true})
	if err != nil {
		t.Fatalf("create single: %v", err)
	}

	if !result.Created || result.Merged {
		t.Fatalf("with no duplicate left the candidate must be inserted: %+v", result)
	}
	if len(store.insertCalls) != 1 {
		t.Fatalf("unexpected insert count: got %d want 1", len(store.insertCalls))
	}
	if len(store.mergeCalls) != 0 {
		t.Fatalf("nothing to merge into once the target is gone")
	}
}

func TestCreateBatch_ValidatesBeforeCreating(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	creator := newTestCreator(store, testConfig())

	good := testCandidate()
	bad := testCandidate()
	bad.Type = "meteor"

	items := creator.CreateBatch(context.Background(), []*Candidate{good, bad}, CreateOptions{})
	if len(items) != 2 {
		t.Fatalf("unexpected item count: got %d want 2", len(items))
	}
	if items[0].Err != nil || items[0].Result == nil || !items[0].Result.Created {
		t.Fatalf("valid candidate must be created: %+v", items[0])
	}
	if !errs.IsValidation(items[1].Err) {
		t.Fatalf("invalid candidate must carry its validation error: %+v", items[1])
	}
	if len(store.insertCalls) != 1 {
		t.Fatalf("only the valid candidate reaches the store: got %d inserts", len(store.insertCalls))
	}
}
