// Package fetch is the boundary to the external rankings source. The
// engine treats the source as a black box that returns a raw ranked list
// per category or fails; this package provides the HTTP implementation
// with rate limiting, bounded retries, and an explicit schema field map.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// RawEntry is one unvalidated row from the source, field-mapped but not
// yet normalized. All values stay as strings until normalization decides
// what is malformed.
type RawEntry struct {
	Rank    string
	Name    string
	Country string
	Points  string
}

// Result is a raw ranked list plus its retrieval timestamp.
type Result struct {
	Entries     []RawEntry
	RetrievedAt time.Time
}

// Client fetches ranked lists over HTTP. The source exposes one JSON array
// of row objects per category; the field map translates source field names
// into canonical ones.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	fieldMap   FieldMap
	limiter    *rate.Limiter
	maxRetries int
	logger     *slog.Logger
}

// NewClient creates a rankings fetch client with rate limiting.
func NewClient(baseURL, apiKey string, fieldMap FieldMap, requestsPerMinute, maxRetries int, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	rps := float64(requestsPerMinute) / 60.0
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		fieldMap:   fieldMap,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// FetchRankings retrieves the current ranked list for a category, retrying
// transient failures with exponential backoff. Client errors (4xx) are not
// retried.
func (c *Client) FetchRankings(ctx context.Context, category string) (Result, error) {
	operation := func() (Result, error) {
		res, err := c.fetchOnce(ctx, category)
		if err != nil {
			c.logger.Warn("rankings fetch attempt failed", "category", category, "error", err)
		}
		return res, err
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(c.maxRetries)),
	)
	if err != nil {
		return Result{}, fmt.Errorf("fetch rankings %s: %w", category, err)
	}
	return res, nil
}

func (c *Client) fetchOnce(ctx context.Context, category string) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, backoff.Permanent(fmt.Errorf("rate limit wait: %w", err))
	}

	params := url.Values{}
	params.Set("category", category)
	u := c.baseURL + "/rankings?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Result{}, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("rankings source returned %d: %s", resp.StatusCode, truncate(body, 200))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return Result{}, backoff.Permanent(err)
		}
		return Result{}, err
	}

	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}

	entries := make([]RawEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, RawEntry{
			Rank:    rawString(row[c.fieldMap.Rank]),
			Name:    rawString(row[c.fieldMap.Name]),
			Country: rawString(row[c.fieldMap.Country]),
			Points:  rawString(row[c.fieldMap.Points]),
		})
	}
	return Result{Entries: entries, RetrievedAt: time.Now().UTC()}, nil
}

// rawString renders a JSON value as its bare string form: strings lose
// their quotes, numbers keep their textual representation.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
