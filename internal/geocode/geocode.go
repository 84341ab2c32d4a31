// Package geocode resolves place names to coordinates through an external
// geocoding service.
package geocode

import (
	"context"
	"errors"
)

// ErrNoMatch reports that the geocoder knows no place by the given name.
var ErrNoMatch = errors.New("no geocoding match")

// Result is one resolved place. Quality is the provider's confidence in
// [0,1], higher is better.
type Result struct {
	Longitude float64
	Latitude  float64
	Quality   float64
	PlaceName string
}

// Geocoder resolves a place name in one language to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, name, language string) (*Result, error)
}

// ResolveBest tries the place name in each language variant and returns the
// highest-quality hit. ErrNoMatch when every variant misses; any other
// error aborts the search.
func ResolveBest(ctx context.Context, geocoder Geocoder, names map[string]string, languages []string) (*Result, error) {
	if geocoder == nil || len(names) == 0 {
		return nil, ErrNoMatch
	}

	var best *Result
	for _, language := range languages {
		name := names[language]
		if name == "" {
			continue
		}

		result, err := geocoder.Geocode(ctx, name, language)
		if err != nil {
			if errors.Is(err, ErrNoMatch) {
				continue
			}
			return nil, err
		}
		if best == nil || result.Quality > best.Quality {
			best = result
		}
	}

	if best == nil {
		return nil, ErrNoMatch
	}
	return best, nil
}
