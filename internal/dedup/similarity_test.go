package dedup

import (
	"math"
	"testing"
	"time"
)

func floatPtr(v float64) *float64 {
	return &v
}

func baseRecord() Record {
	return Record{
		ID:          1,
		UUID:        "aaaa-1111",
		Type:        "airstrike",
		OccurredOn:  time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		Longitude:   floatPtr(36.2765),
		Latitude:    floatPtr(33.5138),
		Perpetrator: "regime_forces",
		Casualties:  10,
		Description: map[string]string{
			"ar": "قصف جوي على حي سكني في المدينة القديمة",
			"en": "airstrike on a residential neighborhood in the old city",
		},
	}
}

func TestCompare_IdenticalRecordsAreExactMatch(t *testing.T) {
	t.Parallel()

	incoming := baseRecord()
	incoming.ID = 0
	incoming.UUID = ""
	existing := baseRecord()

	match := Compare(incoming, existing, MatchOptions{})
	if !match.ExactMatch {
		t.Fatalf("expected exact match, got %+v", match)
	}
	if !match.IsDuplicate {
		t.Fatalf("expected duplicate, got %+v", match)
	}
	if match.CandidateID != existing.ID || match.CandidateUUID != existing.UUID {
		t.Fatalf("unexpected candidate identity: %+v", match)
	}
	if match.Similarity != 1 {
		t.Fatalf("unexpected similarity for identical descriptions: got %v want 1", match.Similarity)
	}
	if match.Details.DistanceMeters != 0 {
		t.Fatalf("unexpected distance: got %v want 0", match.Details.DistanceMeters)
	}
}

func TestCompare_UnrelatedDescriptionsBelowThreshold(t *testing.T) {
	t.Parallel()

	incoming := baseRecord()
	incoming.Description = map[string]string{"en": "shelling near the northern market stalls"}
	incoming.Casualties = 40
	existing := baseRecord()
	existing.Description = map[string]string{"en": "a convoy was detained at the western checkpoint"}

	match := Compare(incoming, existing, MatchOptions{})
	if match.ExactMatch {
		t.Fatalf("did not expect exact match: %+v", match)
	}
	if match.IsDuplicate {
		t.Fatalf("did not expect duplicate: similarity=%v", match.Similarity)
	}
	if match.Details.SameCasualties {
		t.Fatalf("expected casualty mismatch at 40 vs 10")
	}
}

func TestCompare_MissingPerpetratorMatchesUnknown(t *testing.T) {
	t.Parallel()

	incoming := baseRecord()
	incoming.Perpetrator = ""
	existing := baseRecord()
	existing.Perpetrator = "unknown"

	match := Compare(incoming, existing, MatchOptions{})
	if !match.Details.SamePerpetrator {
		t.Fatalf("missing affiliation must match the unknown default: %+v", match.Details)
	}
	if !match.ExactMatch {
		t.Fatalf("expected exact match, got %+v", match)
	}
}

func TestCompare_NearbyCloseCountsIsExactMatch(t *testing.T) {
	t.Parallel()

	incoming := baseRecord()
	incoming.Casualties = 5
	incoming.Latitude = floatPtr(33.5138 + 0.00072)
	incoming.Description = map[string]string{"en": "residential block struck from the air"}
	existing := baseRecord()
	existing.Casualties = 6
	existing.Description = map[string]string{"en": "warplanes bombed a neighborhood at dawn"}

	match := Compare(incoming, existing, MatchOptions{})
	if match.Details.DistanceMeters < 70 || match.Details.DistanceMeters > 90 {
		t.Fatalf("unexpected distance: got %v want ~80m", match.Details.DistanceMeters)
	}
	if !match.Details.NearbyLocation {
		t.Fatalf("80m must be within the 100m radius: %+v", match.Details)
	}
	if !match.ExactMatch {
		t.Fatalf("structural agreement must win regardless of descriptions: %+v", match)
	}
	if !match.IsDuplicate {
		t.Fatalf("an exact match is always a duplicate: %+v", match)
	}
}

func TestCompare_DistantLocationsAreNotDuplicates(t *testing.T) {
	t.Parallel()

	incoming := baseRecord()
	incoming.Casualties = 5
	incoming.Latitude = floatPtr(33.5138 + 0.045)
	incoming.Description = map[string]string{"en": "residential block struck from the air"}
	existing := baseRecord()
	existing.Casualties = 6
	existing.Description = map[string]string{"en": "warplanes bombed a neighborhood at dawn"}

	match := Compare(incoming, existing, MatchOptions{})
	if match.Details.NearbyLocation {
		t.Fatalf("5km apart must not count as nearby: %v meters", match.Details.DistanceMeters)
	}
	if match.ExactMatch {
		t.Fatalf("did not expect exact match: %+v", match)
	}
	if match.IsDuplicate {
		t.Fatalf("unrelated descriptions far apart must not be duplicates: similarity=%v", match.Similarity)
	}
}

func TestCompare_ThresholdBoundary(t *testing.T) {
	t.Parallel()

	incoming := baseRecord()
	incoming.Casualties = 99
	existing := baseRecord()

	match := Compare(incoming, existing, MatchOptions{Threshold: 1})
	if match.ExactMatch {
		t.Fatalf("casualty gap should break the exact match: %+v", match)
	}
	if !match.IsDuplicate {
		t.Fatalf("identical descriptions score 1.0 and must meet a 1.0 threshold")
	}
}

func TestCompare_MissingCoordinates(t *testing.T) {
	t.Parallel()

	incoming := baseRecord()
	incoming.Longitude = nil
	incoming.Latitude = nil
	existing := baseRecord()

	match := Compare(incoming, existing, MatchOptions{})
	if match.Details.NearbyLocation {
		t.Fatalf("records without coordinates can never be nearby")
	}
	if !math.IsInf(match.Details.DistanceMeters, 1) {
		t.Fatalf("expected +Inf distance, got %v", match.Details.DistanceMeters)
	}
	if match.ExactMatch {
		t.Fatalf("exact match requires a nearby location")
	}
}

func TestHaversineMeters(t *testing.T) {
	t.Parallel()

	if d := HaversineMeters(33.5138, 36.2765, 33.5138, 36.2765); d != 0 {
		t.Fatalf("distance to self: got %v want 0", d)
	}

	forward := HaversineMeters(33.5138, 36.2765, 36.2021, 37.1343)
	backward := HaversineMeters(36.2021, 37.1343, 33.5138, 36.2765)
	if math.Abs(forward-backward) > 1e-6 {
		t.Fatalf("haversine is not symmetric: %v vs %v", forward, backward)
	}

	// Damascus to Aleppo is roughly 312 km great-circle.
	if forward < 300_000 || forward > 325_000 {
		t.Fatalf("implausible Damascus-Aleppo distance: %v", forward)
	}
}

func TestSameCalendarDay(t *testing.T) {
	t.Parallel()

	tz := time.FixedZone("UTC+3", 3*60*60)
	a := time.Date(2024, 3, 11, 1, 30, 0, 0, tz)
	b := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	if !SameCalendarDay(a, b) {
		t.Fatalf("01:30 UTC+3 is 22:30 UTC the previous day")
	}

	c := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	if SameCalendarDay(b, c) {
		t.Fatalf("23:00 and next-day midnight are different calendar days")
	}
}

func TestCountsClose(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		a, b  int
		ratio float64
		slack int
		want  bool
	}{
		{"equal", 5, 5, 0.2, 1, true},
		{"both zero", 0, 0, 0.2, 1, true},
		{"within slack", 0, 1, 0.2, 1, true},
		{"beyond slack small counts", 0, 2, 0.2, 1, false},
		{"within ratio", 100, 85, 0.2, 1, true},
		{"at ratio boundary", 100, 80, 0.2, 1, true},
		{"beyond ratio", 100, 70, 0.2, 1, false},
		{"larger side sets allowance", 80, 100, 0.2, 1, true},
	}
	for _, tc := range cases {
		if got := countsClose(tc.a, tc.b, tc.ratio, tc.slack); got != tc.want {
			t.Fatalf("%s: countsClose(%d, %d) got %v want %v", tc.name, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestDescriptionSimilarity_LanguageFallback(t *testing.T) {
	t.Parallel()

	left := map[string]string{"en": "airstrike on the old city"}
	right := map[string]string{
		"ar": "قصف جوي",
		"en": "airstrike on the old city",
	}
	if score := DescriptionSimilarity(left, right, "ar", "en"); score != 1 {
		t.Fatalf("secondary-language fallback should compare the English texts: got %v", score)
	}

	if score := DescriptionSimilarity(nil, right, "ar", "en"); score != 0 {
		t.Fatalf("missing text on one side scores zero: got %v", score)
	}
}

func TestDescriptionSimilarity_PartialOverlap(t *testing.T) {
	t.Parallel()

	left := map[string]string{"en": "Airstrike hit the market in the morning"}
	right := map[string]string{"en": "airstrike hit the market before noon"}
	score := DescriptionSimilarity(left, right, "ar", "en")
	if score <= 0 || score >= 1 {
		t.Fatalf("partial overlap must score strictly between 0 and 1: got %v", score)
	}
}
