package httpapi

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-archive/vigil/internal/dedup"
)

func TestParsePositiveInt(t *testing.T) {
	t.Parallel()

	if got, err := parsePositiveInt("", 25, 1, 200); err != nil || got != 25 {
		t.Fatalf("empty input must yield the default: got %d, %v", got, err)
	}
	if got, err := parsePositiveInt(" 42 ", 25, 1, 200); err != nil || got != 42 {
		t.Fatalf("unexpected parse result: got %d, %v", got, err)
	}
	if _, err := parsePositiveInt("abc", 25, 1, 200); err == nil {
		t.Fatalf("non-numeric input must fail")
	}
	if _, err := parsePositiveInt("0", 25, 1, 200); err == nil {
		t.Fatalf("below-range input must fail")
	}
	if _, err := parsePositiveInt("201", 25, 1, 200); err == nil {
		t.Fatalf("above-range input must fail")
	}
}

func TestParseDateFilter(t *testing.T) {
	t.Parallel()

	if got, err := parseDateFilter(""); err != nil || !got.IsZero() {
		t.Fatalf("empty input must yield the zero time: got %v, %v", got, err)
	}
	got, err := parseDateFilter("2024-03-10")
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	if !got.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date: %v", got)
	}
	if _, err := parseDateFilter("10/03/2024"); err == nil {
		t.Fatalf("non-ISO dates must fail")
	}
}

func TestDuplicateItems_OmitsUnknownDistance(t *testing.T) {
	t.Parallel()

	matches := []dedup.DuplicateMatch{
		{
			CandidateUUID: "with-coords",
			Similarity:    0.9,
			Details:       dedup.MatchDetails{NearbyLocation: true, DistanceMeters: 42.5},
		},
		{
			CandidateUUID: "without-coords",
			Similarity:    0.8,
			Details:       dedup.MatchDetails{DistanceMeters: math.Inf(1)},
		},
	}

	items := duplicateItems(matches)
	if len(items) != 2 {
		t.Fatalf("unexpected item count: got %d want 2", len(items))
	}
	if items[0].DistanceMeters == nil || *items[0].DistanceMeters != 42.5 {
		t.Fatalf("finite distance must be carried: %+v", items[0])
	}
	if items[1].DistanceMeters != nil {
		t.Fatalf("infinite distance must be omitted: %+v", items[1])
	}
}

func TestNewServer_AppliesDefaults(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil, nil, zerolog.Nop(), Options{})
	if s.opts.Host != "0.0.0.0" || s.opts.Port != 8090 {
		t.Fatalf("unexpected defaults: %+v", s.opts)
	}
	if s.opts.ReadTimeout != 10*time.Second || s.opts.WriteTimeout != 30*time.Second {
		t.Fatalf("unexpected timeout defaults: %+v", s.opts)
	}
	if s.opts.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected shutdown default: %+v", s.opts)
	}
}
