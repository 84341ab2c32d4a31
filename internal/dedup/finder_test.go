package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type stubCandidateStore struct {
	candidates []Record
	err        error

	gotType  string
	gotFrom  time.Time
	gotTo    time.Time
	gotLimit int
}

func (s *stubCandidateStore) FindViolationCandidates(_ context.Context, violationType string, from, to time.Time, limit int) ([]Record, error) {
	s.gotType = violationType
	s.gotFrom = from
	s.gotTo = to
	s.gotLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	return s.candidates, nil
}

func TestFindCandidates_DateWindow(t *testing.T) {
	t.Parallel()

	store := &stubCandidateStore{}
	finder := NewFinder(store, FinderOptions{DateWindowDays: 2, CandidateLimit: 50}, zerolog.Nop())

	rec := baseRecord()
	if _, err := finder.FindCandidates(context.Background(), rec, 0); err != nil {
		t.Fatalf("find candidates: %v", err)
	}

	if store.gotType != "airstrike" {
		t.Fatalf("unexpected type filter: %q", store.gotType)
	}
	if store.gotLimit != 50 {
		t.Fatalf("zero limit must fall back to the finder default: got %d", store.gotLimit)
	}
	wantFrom := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	if !store.gotFrom.Equal(wantFrom) {
		t.Fatalf("unexpected window start: got %v want %v", store.gotFrom, wantFrom)
	}
	if !store.gotTo.After(time.Date(2024, 3, 12, 23, 59, 59, 0, time.UTC)) {
		t.Fatalf("window end must cover the whole last day: got %v", store.gotTo)
	}
	if !store.gotTo.Before(time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("window end must not reach the day after: got %v", store.gotTo)
	}
}

func TestCheckForDuplicates_RankingAndBestMatch(t *testing.T) {
	t.Parallel()

	exact := baseRecord()
	exact.ID = 2
	exact.UUID = "exact"
	exact.Description = map[string]string{"ar": "قصف جوي على الحي"}

	similar := baseRecord()
	similar.ID = 3
	similar.UUID = "similar"
	similar.Casualties = 80

	unrelated := baseRecord()
	unrelated.ID = 4
	unrelated.UUID = "unrelated"
	unrelated.Casualties = 80
	unrelated.Description = map[string]string{"ar": "اعتقال شخص عند الحاجز"}

	store := &stubCandidateStore{candidates: []Record{unrelated, similar, exact}}
	finder := NewFinder(store, FinderOptions{}, zerolog.Nop())

	rec := baseRecord()
	rec.ID = 0
	result, err := finder.CheckForDuplicates(context.Background(), rec, CheckOptions{})
	if err != nil {
		t.Fatalf("check for duplicates: %v", err)
	}

	if !result.HasDuplicates {
		t.Fatalf("expected duplicates, got %+v", result)
	}
	if result.BestMatch == nil || result.BestMatch.CandidateUUID != "exact" {
		t.Fatalf("exact match must rank first: got %+v", result.BestMatch)
	}
	if len(result.Duplicates) != 3 {
		t.Fatalf("all comparisons should be reported: got %d", len(result.Duplicates))
	}
	if result.Duplicates[1].CandidateUUID != "similar" {
		t.Fatalf("remaining matches must be ordered by similarity: got %q", result.Duplicates[1].CandidateUUID)
	}
}

func TestCheckForDuplicates_ExcludesSelf(t *testing.T) {
	t.Parallel()

	self := baseRecord()
	store := &stubCandidateStore{candidates: []Record{self}}
	finder := NewFinder(store, FinderOptions{}, zerolog.Nop())

	result, err := finder.CheckForDuplicates(context.Background(), self, CheckOptions{})
	if err != nil {
		t.Fatalf("check for duplicates: %v", err)
	}
	if len(result.Duplicates) != 0 || result.HasDuplicates {
		t.Fatalf("a record must not match itself: %+v", result)
	}
}

func TestCheckForDuplicates_NoMatchBelowThreshold(t *testing.T) {
	t.Parallel()

	other := baseRecord()
	other.ID = 9
	other.Casualties = 300
	other.Description = map[string]string{"ar": "نزوح عائلات من الريف الشمالي"}

	store := &stubCandidateStore{candidates: []Record{other}}
	finder := NewFinder(store, FinderOptions{}, zerolog.Nop())

	rec := baseRecord()
	rec.ID = 0
	result, err := finder.CheckForDuplicates(context.Background(), rec, CheckOptions{})
	if err != nil {
		t.Fatalf("check for duplicates: %v", err)
	}
	if result.HasDuplicates || result.BestMatch != nil {
		t.Fatalf("low similarity with mismatched counts must not be a duplicate: %+v", result)
	}
	if len(result.Duplicates) != 1 {
		t.Fatalf("the comparison itself is still reported: got %d", len(result.Duplicates))
	}
}
