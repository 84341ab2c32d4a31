package candidateschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vigil-archive/vigil/internal/globaltime"
)

//go:embed violation_candidate.schema.json
var violationCandidateSchemaJSON string

// ViolationCandidate is the wire shape of one extracted violation candidate.
type ViolationCandidate struct {
	PayloadVersion string             `json:"payload_version"`
	Type           string             `json:"type"`
	OccurredOn     string             `json:"occurred_on"`
	ReportedAt     *string            `json:"reported_at,omitempty"`
	Location       *CandidateLocation `json:"location,omitempty"`
	Description    map[string]string  `json:"description"`
	Perpetrator    *string            `json:"perpetrator,omitempty"`
	Certainty      *string            `json:"certainty,omitempty"`
	Casualties     int                `json:"casualties,omitempty"`
	InjuredCount   int                `json:"injured_count,omitempty"`
	KidnappedCount int                `json:"kidnapped_count,omitempty"`
	DetainedCount  int                `json:"detained_count,omitempty"`
	DisplacedCount int                `json:"displaced_count,omitempty"`
}

// CandidateLocation carries the place fields of a candidate. Coordinates are
// [longitude, latitude] when present.
type CandidateLocation struct {
	Name          map[string]string `json:"name,omitempty"`
	AdminDivision map[string]string `json:"admin_division,omitempty"`
	Coordinates   []float64         `json:"coordinates,omitempty"`
}

// BatchItemError ties aggregated validation failures to a batch position.
type BatchItemError struct {
	Index int
	Err   error
}

func (e BatchItemError) Error() string {
	return fmt.Sprintf("candidate %d: %v", e.Index, e.Err)
}

func (e BatchItemError) Unwrap() error { return e.Err }

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateCandidatePayload validates one candidate payload against the
// embedded schema plus semantic rules and returns the decoded candidate.
func ValidateCandidatePayload(payload json.RawMessage) (*ViolationCandidate, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var candidate ViolationCandidate
	if err := json.Unmarshal(normalized, &candidate); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&candidate); err != nil {
		return nil, err
	}

	return &candidate, nil
}

// ValidateCandidateBatch validates every payload before any of them is
// accepted and returns the valid candidates together with per-item errors.
func ValidateCandidateBatch(payloads []json.RawMessage) ([]*ViolationCandidate, []BatchItemError) {
	valid := make([]*ViolationCandidate, 0, len(payloads))
	invalid := make([]BatchItemError, 0)

	for i, payload := range payloads {
		candidate, err := ValidateCandidatePayload(payload)
		if err != nil {
			invalid = append(invalid, BatchItemError{Index: i, Err: err})
			continue
		}
		valid = append(valid, candidate)
	}

	return valid, invalid
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("violation_candidate.schema.json", strings.NewReader(violationCandidateSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("violation_candidate.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(candidate *ViolationCandidate) error {
	if candidate == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(candidate.PayloadVersion) != "v1" {
		return fmt.Errorf("payload_version must be v1")
	}

	occurredOn, err := time.Parse("2006-01-02", strings.TrimSpace(candidate.OccurredOn))
	if err != nil {
		return fmt.Errorf("occurred_on must be a valid YYYY-MM-DD date: %w", err)
	}
	today := globaltime.Now().UTC().Truncate(24 * time.Hour)
	if occurredOn.After(today) {
		return fmt.Errorf("occurred_on must not be in the future")
	}

	if candidate.ReportedAt != nil {
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(*candidate.ReportedAt)); err != nil {
			return fmt.Errorf("reported_at must be RFC3339: %w", err)
		}
	}

	hasDescription := false
	for lang, text := range candidate.Description {
		if strings.TrimSpace(text) != "" {
			hasDescription = true
			continue
		}
		return fmt.Errorf("description[%s] must not be blank", lang)
	}
	if !hasDescription {
		return fmt.Errorf("description must contain at least one non-blank text")
	}

	if candidate.Location != nil && len(candidate.Location.Coordinates) == 2 {
		longitude := candidate.Location.Coordinates[0]
		latitude := candidate.Location.Coordinates[1]
		if longitude < -180 || longitude > 180 {
			return fmt.Errorf("longitude must be within [-180, 180]")
		}
		if latitude < -90 || latitude > 90 {
			return fmt.Errorf("latitude must be within [-90, 90]")
		}
	}

	if candidate.Perpetrator != nil && strings.TrimSpace(*candidate.Perpetrator) == "" {
		return fmt.Errorf("perpetrator must not be blank")
	}

	return nil
}
