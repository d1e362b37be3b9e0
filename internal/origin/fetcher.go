// Package origin fetches bars from the source of truth behind all cache tiers.
package origin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"goflare.io/tierbench/internal/models"
)

// Fetcher returns up to the last n bars of an instrument, oldest first.
type Fetcher interface {
	Fetch(ctx context.Context, instrument string, n int) ([]models.Bar, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, instrument string, n int) ([]models.Bar, error)

func (f FetcherFunc) Fetch(ctx context.Context, instrument string, n int) ([]models.Bar, error) {
	return f(ctx, instrument, n)
}

// StatusError is a non-2xx origin response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("origin returned status %d: %s", e.Code, e.Body)
}

// Temporary marks throttling and server errors as retryable.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// HTTPFetcher calls the origin's get_last_n endpoint.
type HTTPFetcher struct {
	baseURL   string
	connector *Connector
	logger    *zap.Logger
}

// NewHTTPFetcher creates a fetcher for baseURL over connector.
func NewHTTPFetcher(baseURL string, connector *Connector, logger *zap.Logger) *HTTPFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPFetcher{
		baseURL:   strings.TrimRight(baseURL, "/"),
		connector: connector,
		logger:    logger,
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, instrument string, n int) ([]models.Bar, error) {
	q := url.Values{}
	q.Set("instrument_name", instrument)
	q.Set("n", strconv.Itoa(n))
	endpoint := f.baseURL + "/get_last_n?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build origin request: %w", err)
	}

	resp, err := f.connector.Client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrOriginUnavailable, instrument, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", models.ErrOriginUnavailable, instrument, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, fmt.Errorf("%w: %s: %w", models.ErrOriginUnavailable, instrument, &StatusError{Code: resp.StatusCode, Body: snippet})
	}

	return Decode(body, f.logger), nil
}
