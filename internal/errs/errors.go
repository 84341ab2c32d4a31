// Package errs defines the error taxonomy shared across the ingestion
// pipeline: schema violations, duplicate conflicts, and collaborator
// failures are distinguishable with errors.As so callers can decide
// between surfacing, retrying, and failing a report.
package errs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vigil-archive/vigil/internal/dedup"
)

// ErrRaceRecovered marks a lost creation race that was resolved by merging
// into the winning row. It is logged, never surfaced to callers.
var ErrRaceRecovered = errors.New("creation race recovered by merge")

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every violated constraint, not just the first.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

// ConflictError reports that a duplicate was found while merging was
// disabled; it carries the full ranked candidate list for the caller.
type ConflictError struct {
	Duplicates []dedup.DuplicateMatch
}

func (e *ConflictError) Error() string {
	n := 0
	if e != nil {
		n = len(e.Duplicates)
	}
	return fmt.Sprintf("duplicate violation detected (%d candidate(s)); merging disabled", n)
}

// UpstreamError wraps a failure of an external collaborator (extraction,
// geocoding) with the collaborator's name.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return "upstream error"
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
