package dedup

import (
	"math"
	"strings"
	"time"
	"unicode"
)

const (
	// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
	EarthRadiusMeters = 6_371_000

	DefaultThreshold         = 0.75
	DefaultMaxDistanceMeters = 100
	DefaultCasualtyTolerance = 0.20
	DefaultCasualtySlack     = 1
	DefaultPrimaryLanguage   = "ar"
	DefaultSecondaryLanguage = "en"
	DefaultDateWindowDays    = 2
	DefaultCandidateLimit    = 50
)

// Record is the comparable projection of a violation, either a stored row
// or a not-yet-committed candidate.
type Record struct {
	ID             int64
	UUID           string
	Type           string
	OccurredOn     time.Time
	Longitude      *float64
	Latitude       *float64
	Perpetrator    string
	Casualties     int
	InjuredCount   int
	KidnappedCount int
	DetainedCount  int
	DisplacedCount int
	Description    map[string]string
}

// MatchOptions carries every tunable the similarity engine needs; zero
// values fall back to the package defaults.
type MatchOptions struct {
	Threshold              float64
	MaxDistanceMeters      float64
	CasualtyToleranceRatio float64
	CasualtySlack          int
	PrimaryLanguage        string
	SecondaryLanguage      string
}

func (o MatchOptions) withDefaults() MatchOptions {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MaxDistanceMeters <= 0 {
		o.MaxDistanceMeters = DefaultMaxDistanceMeters
	}
	if o.CasualtyToleranceRatio <= 0 {
		o.CasualtyToleranceRatio = DefaultCasualtyTolerance
	}
	if o.CasualtySlack <= 0 {
		o.CasualtySlack = DefaultCasualtySlack
	}
	if strings.TrimSpace(o.PrimaryLanguage) == "" {
		o.PrimaryLanguage = DefaultPrimaryLanguage
	}
	if strings.TrimSpace(o.SecondaryLanguage) == "" {
		o.SecondaryLanguage = DefaultSecondaryLanguage
	}
	return o
}

type MatchDetails struct {
	SameType        bool    `json:"same_type"`
	SameDate        bool    `json:"same_date"`
	SamePerpetrator bool    `json:"same_perpetrator"`
	NearbyLocation  bool    `json:"nearby_location"`
	DistanceMeters  float64 `json:"distance_meters"`
	SameCasualties  bool    `json:"same_casualties"`
}

// DuplicateMatch is the structured comparison result for one candidate pair.
type DuplicateMatch struct {
	CandidateID   int64
	CandidateUUID string
	IsDuplicate   bool
	ExactMatch    bool
	Similarity    float64
	Details       MatchDetails
}

// Compare scores the incoming record against an existing one. Pure: no I/O,
// no clock access.
func Compare(incoming, existing Record, opts MatchOptions) DuplicateMatch {
	opts = opts.withDefaults()

	distance := distanceBetween(incoming, existing)
	details := MatchDetails{
		SameType:        sameEnum(incoming.Type, existing.Type),
		SameDate:        SameCalendarDay(incoming.OccurredOn, existing.OccurredOn),
		SamePerpetrator: sameEnum(perpetratorOrUnknown(incoming.Perpetrator), perpetratorOrUnknown(existing.Perpetrator)),
		NearbyLocation:  distance <= opts.MaxDistanceMeters,
		DistanceMeters:  distance,
		SameCasualties:  casualtiesWithinTolerance(incoming, existing, opts.CasualtyToleranceRatio, opts.CasualtySlack),
	}

	similarity := DescriptionSimilarity(incoming.Description, existing.Description, opts.PrimaryLanguage, opts.SecondaryLanguage)

	exact := details.SameType &&
		details.SameDate &&
		details.SamePerpetrator &&
		details.NearbyLocation &&
		details.SameCasualties

	return DuplicateMatch{
		CandidateID:   existing.ID,
		CandidateUUID: existing.UUID,
		IsDuplicate:   exact || similarity >= opts.Threshold,
		ExactMatch:    exact,
		Similarity:    similarity,
		Details:       details,
	}
}

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaPhi := (lat2 - lat1) * math.Pi / 180
	deltaLambda := (lon2 - lon1) * math.Pi / 180

	sinPhi := math.Sin(deltaPhi / 2)
	sinLambda := math.Sin(deltaLambda / 2)
	a := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// distanceBetween is +Inf when either side has no coordinates.
func distanceBetween(a, b Record) float64 {
	if a.Latitude == nil || a.Longitude == nil || b.Latitude == nil || b.Longitude == nil {
		return math.Inf(1)
	}
	return HaversineMeters(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude)
}

// SameCalendarDay compares two instants by UTC calendar date only.
func SameCalendarDay(a, b time.Time) bool {
	au := a.UTC()
	bu := b.UTC()
	ay, am, ad := au.Date()
	by, bm, bd := bu.Date()
	return ay == by && am == bm && ad == bd
}

func sameEnum(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// perpetratorOrUnknown folds a missing affiliation onto the "unknown"
// default so rows stored before attribution still match attributed-later
// twins of the same incident.
func perpetratorOrUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return "unknown"
	}
	return value
}

// casualtiesWithinTolerance applies the flexible count match: each pair of
// counts must be equal or differ by no more than
// max(slack, ratio * larger). Zero on both sides is trivially equal.
func casualtiesWithinTolerance(a, b Record, ratio float64, slack int) bool {
	pairs := [][2]int{
		{a.Casualties, b.Casualties},
		{a.InjuredCount, b.InjuredCount},
		{a.KidnappedCount, b.KidnappedCount},
		{a.DetainedCount, b.DetainedCount},
		{a.DisplacedCount, b.DisplacedCount},
	}
	for _, pair := range pairs {
		if !countsClose(pair[0], pair[1], ratio, slack) {
			return false
		}
	}
	return true
}

func countsClose(a, b int, ratio float64, slack int) bool {
	if a == b {
		return true
	}
	larger := a
	if b > larger {
		larger = b
	}
	allowed := ratio * float64(larger)
	if float64(slack) > allowed {
		allowed = float64(slack)
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) <= allowed
}

// DescriptionSimilarity scores the description maps in [0,1], preferring
// the primary language and falling back to the secondary when the primary
// text is missing on either side. Both missing yields 0.
func DescriptionSimilarity(left, right map[string]string, primaryLang, secondaryLang string) float64 {
	leftText, rightText := pickComparableTexts(left, right, primaryLang, secondaryLang)
	if leftText == "" || rightText == "" {
		return 0
	}

	token := tokenJaccard(leftText, rightText)
	trigram := trigramJaccard(leftText, rightText)
	if trigram > token {
		return trigram
	}
	return token
}

func pickComparableTexts(left, right map[string]string, primaryLang, secondaryLang string) (string, string) {
	l := strings.TrimSpace(left[primaryLang])
	r := strings.TrimSpace(right[primaryLang])
	if l != "" && r != "" {
		return l, r
	}
	l = strings.TrimSpace(left[secondaryLang])
	r = strings.TrimSpace(right[secondaryLang])
	if l != "" && r != "" {
		return l, r
	}
	return "", ""
}

func normalizeText(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

func tokenize(text string) []string {
	normalized := normalizeText(text)
	if normalized == "" {
		return nil
	}

	parts := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		tokens = append(tokens, p)
	}
	return tokens
}

func tokenSet(text string) map[string]struct{} {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

func tokenJaccard(left, right string) float64 {
	return jaccard(tokenSet(left), tokenSet(right))
}

func trigramSet(text string) map[string]struct{} {
	normalized := normalizeText(text)
	if normalized == "" {
		return nil
	}

	runes := []rune(normalized)
	if len(runes) < 3 {
		return map[string]struct{}{string(runes): {}}
	}

	set := make(map[string]struct{}, len(runes)-2)
	for i := 0; i <= len(runes)-3; i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

func trigramJaccard(left, right string) float64 {
	return jaccard(trigramSet(left), trigramSet(right))
}

func jaccard(leftSet, rightSet map[string]struct{}) float64 {
	if len(leftSet) == 0 || len(rightSet) == 0 {
		return 0
	}

	intersection := 0
	for token := range leftSet {
		if _, ok := rightSet[token]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}

	union := len(leftSet) + len(rightSet) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
