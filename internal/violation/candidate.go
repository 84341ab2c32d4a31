// Package violation implements the creation and merge pipeline for
// violation records.
package violation

import (
	"strings"
	"time"

	"github.com/vigil-archive/vigil/internal/dedup"
	"github.com/vigil-archive/vigil/internal/errs"
	"github.com/vigil-archive/vigil/internal/globaltime"
	candidateschema "github.com/vigil-archive/vigil/schema"
)

// violationTypes is the closed set of recorded incident categories.
var violationTypes = map[string]struct{}{
	"airstrike":    {},
	"shelling":     {},
	"detention":    {},
	"kidnapping":   {},
	"execution":    {},
	"torture":      {},
	"displacement": {},
	"landmine":     {},
	"other":        {},
}

// perpetratorAffiliations is the closed set of attributable parties.
// PerpetratorUnknown is the default when a report names no perpetrator.
var perpetratorAffiliations = map[string]struct{}{
	"regime_forces":           {},
	"opposition_forces":       {},
	"kurdish_forces":          {},
	"isis":                    {},
	"international_coalition": {},
	"russian_forces":          {},
	PerpetratorUnknown:        {},
}

// PerpetratorUnknown is the default perpetrator affiliation.
const PerpetratorUnknown = "unknown"

// certaintyLevels orders confidence grades from weakest to strongest.
var certaintyLevels = map[string]int{
	"possible":  1,
	"probable":  2,
	"confirmed": 3,
}

// Candidate is a normalized, not-yet-stored violation.
type Candidate struct {
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
	Source         string
}

// FromPayload converts a schema-validated wire candidate into the
// normalized domain shape.
func FromPayload(payload *candidateschema.ViolationCandidate) (*Candidate, error) {
	if payload == nil {
		ve := &errs.ValidationError{}
		ve.Add("payload", "payload is required")
		return nil, ve
	}

	occurredOn, err := time.Parse("2006-01-02", strings.TrimSpace(payload.OccurredOn))
	if err != nil {
		ve := &errs.ValidationError{}
		ve.Add("occurred_on", "must be a valid YYYY-MM-DD date")
		return nil, ve
	}

	candidate := &Candidate{
		Type:           strings.ToLower(strings.TrimSpace(payload.Type)),
		OccurredOn:     occurredOn.UTC(),
		Description:    sanitizeLangMap(payload.Description),
		Certainty:      strings.ToLower(strings.TrimSpace(derefString(payload.Certainty))),
		Casualties:     payload.Casualties,
		InjuredCount:   payload.InjuredCount,
		KidnappedCount: payload.KidnappedCount,
		DetainedCount:  payload.DetainedCount,
		DisplacedCount: payload.DisplacedCount,
	}

	if payload.ReportedAt != nil {
		reportedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(*payload.ReportedAt))
		if err == nil {
			utc := reportedAt.UTC()
			candidate.ReportedAt = &utc
		}
	}

	perpetrator := PerpetratorUnknown
	if payload.Perpetrator != nil {
		if value := strings.ToLower(strings.TrimSpace(*payload.Perpetrator)); value != "" {
			perpetrator = value
		}
	}
	candidate.Perpetrator = &perpetrator

	if payload.Location != nil {
		candidate.LocationName = sanitizeLangMap(payload.Location.Name)
		candidate.AdminDivision = sanitizeLangMap(payload.Location.AdminDivision)
		if len(payload.Location.Coordinates) == 2 {
			longitude := payload.Location.Coordinates[0]
			latitude := payload.Location.Coordinates[1]
			candidate.Longitude = &longitude
			candidate.Latitude = &latitude
		}
	}

	return candidate, nil
}

// Validate checks every constraint and reports all failures at once.
func (c *Candidate) Validate() error {
	ve := &errs.ValidationError{}

	if c == nil {
		ve.Add("candidate", "candidate is required")
		return ve
	}

	if _, ok := violationTypes[c.Type]; !ok {
		ve.Add("type", "unknown violation type")
	}

	if c.OccurredOn.IsZero() {
		ve.Add("occurred_on", "is required")
	} else {
		today := globaltime.Now().UTC().Truncate(24 * time.Hour)
		if c.OccurredOn.After(today) {
			ve.Add("occurred_on", "must not be in the future")
		}
	}

	hasDescription := false
	for _, text := range c.Description {
		if strings.TrimSpace(text) != "" {
			hasDescription = true
			break
		}
	}
	if !hasDescription {
		ve.Add("description", "at least one non-blank text is required")
	}

	if c.Certainty != "" {
		if _, ok := certaintyLevels[c.Certainty]; !ok {
			ve.Add("certainty", "must be one of possible, probable, confirmed")
		}
	}

	if c.Perpetrator != nil {
		if _, ok := perpetratorAffiliations[*c.Perpetrator]; !ok {
			ve.Add("perpetrator", "unknown perpetrator affiliation")
		}
	}

	if (c.Longitude == nil) != (c.Latitude == nil) {
		ve.Add("location.coordinates", "longitude and latitude must be set together")
	}
	if c.Longitude != nil && (*c.Longitude < -180 || *c.Longitude > 180) {
		ve.Add("location.coordinates", "longitude must be within [-180, 180]")
	}
	if c.Latitude != nil && (*c.Latitude < -90 || *c.Latitude > 90) {
		ve.Add("location.coordinates", "latitude must be within [-90, 90]")
	}

	counts := []struct {
		field string
		value int
	}{
		{"casualties", c.Casualties},
		{"injured_count", c.InjuredCount},
		{"kidnapped_count", c.KidnappedCount},
		{"detained_count", c.DetainedCount},
		{"displaced_count", c.DisplacedCount},
	}
	for _, count := range counts {
		if count.value < 0 {
			ve.Add(count.field, "must be >= 0")
		}
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}

// DedupRecord projects the candidate into the similarity engine's shape.
func (c *Candidate) DedupRecord() dedup.Record {
	return dedup.Record{
		Type:           c.Type,
		OccurredOn:     c.OccurredOn,
		Longitude:      c.Longitude,
		Latitude:       c.Latitude,
		Perpetrator:    derefString(c.Perpetrator),
		Casualties:     c.Casualties,
		InjuredCount:   c.InjuredCount,
		KidnappedCount: c.KidnappedCount,
		DetainedCount:  c.DetainedCount,
		DisplacedCount: c.DisplacedCount,
		Description:    c.Description,
	}
}

// DedupKey derives the storage-enforced dedup key, nil without coordinates.
func (c *Candidate) DedupKey() []byte {
	return dedup.Key(c.Type, c.OccurredOn, c.Longitude, c.Latitude)
}

// HasCoordinates reports whether both coordinates are present.
func (c *Candidate) HasCoordinates() bool {
	return c != nil && c.Longitude != nil && c.Latitude != nil
}

// strongerCertainty reports whether a beats b in the confidence ordering.
func strongerCertainty(a, b string) bool {
	return certaintyLevels[a] > certaintyLevels[b]
}

func sanitizeLangMap(values map[string]string) map[string]string {
	sanitized := make(map[string]string, len(values))
	for lang, text := range values {
		key := strings.ToLower(strings.TrimSpace(lang))
		trimmed := strings.TrimSpace(text)
		if len(key) != 2 || trimmed == "" {
			continue
		}
		sanitized[key] = trimmed
	}
	return sanitized
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
