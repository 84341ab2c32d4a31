package dedup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// CandidateStore serves the bounded candidate lookup: violations of the
// same type with an occurrence date inside [from, to].
type CandidateStore interface {
	FindViolationCandidates(ctx context.Context, violationType string, from, to time.Time, limit int) ([]Record, error)
}

type FinderOptions struct {
	Match          MatchOptions
	DateWindowDays int
	CandidateLimit int
}

type CheckOptions struct {
	Threshold float64
	Limit     int
}

type CheckResult struct {
	HasDuplicates bool
	Duplicates    []DuplicateMatch
	BestMatch     *DuplicateMatch
}

type Finder struct {
	store  CandidateStore
	opts   FinderOptions
	logger zerolog.Logger
}

func NewFinder(store CandidateStore, opts FinderOptions, logger zerolog.Logger) *Finder {
	if opts.DateWindowDays <= 0 {
		opts.DateWindowDays = DefaultDateWindowDays
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = DefaultCandidateLimit
	}
	return &Finder{
		store:  store,
		opts:   opts,
		logger: logger,
	}
}

// FindCandidates restricts the search to records sharing the record's type
// within the finder's date window around its occurrence date.
func (f *Finder) FindCandidates(ctx context.Context, rec Record, limit int) ([]Record, error) {
	if f == nil || f.store == nil {
		return nil, fmt.Errorf("duplicate finder is not initialized")
	}
	if limit <= 0 {
		limit = f.opts.CandidateLimit
	}

	day := rec.OccurredOn.UTC().Truncate(24 * time.Hour)
	from := day.AddDate(0, 0, -f.opts.DateWindowDays)
	to := day.AddDate(0, 0, f.opts.DateWindowDays+1).Add(-time.Nanosecond)

	candidates, err := f.store.FindViolationCandidates(ctx, rec.Type, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("find violation candidates: %w", err)
	}
	return candidates, nil
}

// CheckForDuplicates compares the record against the candidate set and
// returns the matches ranked exact-match first, then similarity descending.
// BestMatch is nil when no candidate meets the duplicate criterion.
func (f *Finder) CheckForDuplicates(ctx context.Context, rec Record, opts CheckOptions) (CheckResult, error) {
	candidates, err := f.FindCandidates(ctx, rec, opts.Limit)
	if err != nil {
		return CheckResult{}, err
	}

	matchOpts := f.opts.Match
	if opts.Threshold > 0 {
		matchOpts.Threshold = opts.Threshold
	}

	matches := make([]DuplicateMatch, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.ID != 0 && candidate.ID == rec.ID {
			continue
		}
		matches = append(matches, Compare(rec, candidate, matchOpts))
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].ExactMatch != matches[j].ExactMatch {
			return matches[i].ExactMatch
		}
		return matches[i].Similarity > matches[j].Similarity
	})

	result := CheckResult{Duplicates: matches}
	for i := range matches {
		if matches[i].IsDuplicate {
			best := matches[i]
			result.BestMatch = &best
			result.HasDuplicates = true
			break
		}
	}

	f.logger.Debug().
		Str("type", rec.Type).
		Int("candidates", len(matches)).
		Bool("has_duplicates", result.HasDuplicates).
		Msg("duplicate check completed")

	return result, nil
}
