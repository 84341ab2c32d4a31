package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-archive/vigil/internal/errs"
)

const serviceName = "geocoder"

// Client calls an HTTP geocoding endpoint.
type Client struct {
	endpointURL string
	client      *http.Client
	logger      zerolog.Logger
}

type clientResponse struct {
	Results []struct {
		Longitude float64 `json:"longitude"`
		Latitude  float64 `json:"latitude"`
		Quality   float64 `json:"quality"`
		Name      string  `json:"name"`
	} `json:"results"`
}

func NewClient(endpointURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpointURL: strings.TrimRight(strings.TrimSpace(endpointURL), "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (c *Client) Geocode(ctx context.Context, name, language string) (*Result, error) {
	if c == nil || c.endpointURL == "" {
		return nil, &errs.UpstreamError{Service: serviceName, Err: fmt.Errorf("geocoder endpoint is not configured")}
	}

	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return nil, ErrNoMatch
	}

	query := url.Values{}
	query.Set("q", trimmedName)
	if lang := strings.TrimSpace(strings.ToLower(language)); lang != "" {
		query.Set("lang", lang)
	}
	query.Set("limit", "1")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpointURL+"/v1/geocode?"+query.Encode(), nil)
	if err != nil {
		return nil, &errs.UpstreamError{Service: serviceName, Err: fmt.Errorf("build geocode request: %w", err)}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &errs.UpstreamError{Service: serviceName, Err: fmt.Errorf("send geocode request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.UpstreamError{Service: serviceName, Err: fmt.Errorf("read geocode response: %w", err)}
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoMatch
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &errs.UpstreamError{Service: serviceName, Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))}
	}

	var parsed clientResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &errs.UpstreamError{Service: serviceName, Err: fmt.Errorf("decode geocode response: %w", err)}
	}
	if len(parsed.Results) == 0 {
		return nil, ErrNoMatch
	}

	hit := parsed.Results[0]
	if hit.Longitude < -180 || hit.Longitude > 180 || hit.Latitude < -90 || hit.Latitude > 90 {
		return nil, &errs.UpstreamError{Service: serviceName, Err: fmt.Errorf("coordinates out of range: [%f, %f]", hit.Longitude, hit.Latitude)}
	}

	c.logger.Debug().
		Str("name", trimmedName).
		Float64("quality", hit.Quality).
		Msg("geocode resolved")

	return &Result{
		Longitude: hit.Longitude,
		Latitude:  hit.Latitude,
		Quality:   hit.Quality,
		PlaceName: strings.TrimSpace(hit.Name),
	}, nil
}
