// Package extract calls the external extraction service that turns raw
// report text into structured violation candidate payloads.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/vigil-archive/vigil/internal/langdetect"
)

// ErrNotConfigured marks a missing extractor endpoint. Retrying cannot fix
// a deployment gap, so callers treat it as terminal.
var ErrNotConfigured = errors.New("extractor endpoint is not configured")

// Request carries one report's text to the extraction service.
type Request struct {
	Text     string
	Language string
	SourceID string
}

// Result is the extraction service's answer: zero or more candidate
// payloads, ready for schema validation.
type Result struct {
	Candidates []json.RawMessage
	Language   string
	ModelName  string
}

// Extractor turns report text into violation candidate payloads. A report
// with no recognizable incident yields an empty candidate list and no error.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*Result, error)
}

// ResolveLanguage fills in the request language when the source did not
// label it, falling back to detection over the report text.
func ResolveLanguage(req Request) string {
	language := strings.ToLower(strings.TrimSpace(req.Language))
	if language != "" && language != "und" {
		return language
	}
	if detected := langdetect.DetectISO6391(req.Text); detected != "" {
		return detected
	}
	return "und"
}
