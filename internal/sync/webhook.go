package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tkdmetrics/rankwatch/internal/detect"
)

// WebhookSink delivers change events to an external HTTP endpoint as a
// JSON POST. Delivery is best-effort with bounded retries; the events stay
// recomputable from stored snapshots, so a lost delivery is not data loss.
type WebhookSink struct {
	httpClient *http.Client
	url        string
	maxRetries int
	logger     *slog.Logger
}

// NewWebhookSink creates a webhook sink. Returns nil if url is empty
// (webhook delivery disabled).
func NewWebhookSink(url string, timeout time.Duration, maxRetries int, logger *slog.Logger) *WebhookSink {
	if url == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookSink{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

type webhookPayload struct {
	Source string               `json:"source"`
	SentAt time.Time            `json:"sent_at"`
	Events []detect.ChangeEvent `json:"events"`
}

// Publish posts the events, retrying transient failures with exponential
// backoff. Client errors (4xx) are not retried.
func (s *WebhookSink) Publish(ctx context.Context, events []detect.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		Source: "rankwatch",
		SentAt: time.Now().UTC(),
		Events: events,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	operation := func() (struct{}, error) {
		return struct{}{}, s.post(ctx, body)
	}
	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(s.maxRetries)),
	)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	s.logger.Info("webhook delivered", "events", len(events))
	return nil
}

func (s *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}
