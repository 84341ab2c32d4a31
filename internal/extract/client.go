package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-archive/vigil/internal/errs"
)

const serviceName = "extractor"

// Client calls an HTTP extraction endpoint.
type Client struct {
	endpointURL string
	apiKey      string
	client      *http.Client
	logger      zerolog.Logger
}

type clientRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	SourceID string `json:"source_id,omitempty"`
}

type clientResponse struct {
	Candidates []json.RawMessage `json:"candidates"`
	Language   string            `json:"language,omitempty"`
	Model      string            `json:"model,omitempty"`
}

type clientErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient builds an extraction client. The endpoint is required; an empty
// endpoint is a deployment misconfiguration surfaced on first use.
func NewClient(endpointURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpointURL: strings.TrimRight(strings.TrimSpace(endpointURL), "/"),
		apiKey:      strings.TrimSpace(apiKey),
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (c *Client) Extract(ctx context.Context, req Request) (*Result, error) {
	if c == nil || c.endpointURL == "" {
		return nil, &errs.UpstreamError{Service: serviceName, Err: ErrNotConfigured}
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, &errs.UpstreamError{Service: serviceName, Err: fmt.Errorf("report text is required")}
	}

	body, err := json.Marshal(clientRequest{
		Text:     text,
		Language: ResolveLanguage(req),
		SourceID: strings.TrimSpace(req.SourceID),
	})
	if err != nil {
		return nil, &errs.UpstreamError{Service: serviceName, Err: fmt.Errorf("marshal extraction request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL+"/v1/extract", bytes.NewReader(body))
	if err != nil {
		return nil, &errs.UpstreamError{Service: serviceName, Err: fmt.Errorf("build extraction request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &errs.UpstreamError{Service: serviceName, Err: fmt.Errorf("send extraction request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.UpstreamError{Service: serviceName, Err: fmt.Errorf("read extraction response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errPayload clientErrorResponse
		if unmarshalErr := json.Unmarshal(respBody, &errPayload); unmarshalErr == nil {
			if msg := strings.TrimSpace(errPayload.Error.Message); msg != "" {
				return nil, &errs.UpstreamError{Service: serviceName, Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg)}
			}
		}
		return nil, &errs.UpstreamError{Service: serviceName, Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))}
	}

	var parsed clientResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &errs.UpstreamError{Service: serviceName, Err: fmt.Errorf("decode extraction response: %w", err)}
	}

	c.logger.Debug().
		Int("candidates", len(parsed.Candidates)).
		Dur("latency", time.Since(started)).
		Msg("extraction completed")

	return &Result{
		Candidates: parsed.Candidates,
		Language:   strings.ToLower(strings.TrimSpace(parsed.Language)),
		ModelName:  strings.TrimSpace(parsed.Model),
	}, nil
}
