package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hperssn/palmpay/internal/interfaces"
)

// WebhookDispatcher posts duress alerts to a webhook with linear backoff.
type WebhookDispatcher struct {
	url        string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	log        *slog.Logger
}

func NewWebhookDispatcher(url string, timeout time.Duration, maxRetries int, logger *slog.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: maxRetries,
		backoff:    time.Second,
		log:        logger.With("component", "alert-webhook"),
	}
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, alert interfaces.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * d.backoff):
			case <-ctx.Done():
				return fmt.Errorf("dispatch alert %s: %w (last error: %v)", alert.ID, ctx.Err(), lastErr)
			}
			d.log.Info("retrying alert", "alert", alert.ID, "attempt", attempt)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create alert request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("alert request failed: %w", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			d.log.Info("alert delivered", "alert", alert.ID)
			return nil
		}
		lastErr = fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}

	d.log.Error("alert not delivered", "alert", alert.ID, "attempts", d.maxRetries+1, "error", lastErr)
	return lastErr
}
