package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"cascadeflow/logger"
)

// Notifier delivers a fully built alert downstream. Treated as
// fire-and-forget with respect to cooldown accounting.
type Notifier interface {
	Send(ctx context.Context, a *Alert) error
}

// WebhookNotifier POSTs alerts as JSON to a configured endpoint, rate
// limited so an alert storm cannot hammer the receiver.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Log
}

func NewWebhookNotifier(url string, requestsPerSecond float64, burst int) *WebhookNotifier {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		log:     logger.GetLogger(),
	}
}

func (n *WebhookNotifier) Send(ctx context.Context, a *Alert) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes alerts to the structured log. Used when no webhook is
// configured, keeps the dispatch path exercised in development.
type LogNotifier struct {
	log *logger.Log
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.GetLogger()}
}

func (n *LogNotifier) Send(ctx context.Context, a *Alert) error {
	n.log.WithComponent("alert_notifier").WithFields(logger.Fields{
		"id":        a.ID,
		"kind":      a.Kind,
		"symbol":    a.Symbol,
		"level":     a.Level,
		"archetype": a.Archetype,
		"score":     a.Score,
		"value_usd": a.TotalValue + a.SingleValue,
	}).Info("alert")
	return nil
}
