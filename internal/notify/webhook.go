package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dandantas/sentinel/internal/model"
)

// ErrCircuitOpen is returned while a channel's breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// NewHTTPClient creates the pooled client shared by HTTP channels
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// poster posts JSON to channel URLs behind a per-channel circuit breaker.
// Slack, Teams and generic webhooks all go through it. Each send is a single
// request: a timed-out or failed POST may still have reached the receiver,
// so it is reported and never repeated.
type poster struct {
	client   *http.Client
	breakers *breakers
	now      func() time.Time
}

func newPoster(client *http.Client, cfg BreakerConfig) *poster {
	return &poster{
		client:   client,
		breakers: newBreakers(cfg, time.Now),
		now:      time.Now,
	}
}

// send posts body once and logs the outcome
func (p *poster) send(ctx context.Context, n model.Notification, body []byte) error {
	ch := n.Channel
	if !p.breakers.allow(ch.ID) {
		slog.Warn("Circuit breaker is open, skipping delivery",
			"channel_id", ch.ID,
			"channel_type", ch.Type,
			"circuit_state", p.breakers.state(ch.ID).String(),
		)
		return ErrCircuitOpen
	}

	attempt, err := p.deliver(ctx, ch, body)
	if err != nil {
		p.breakers.failure(ch.ID)
		return fmt.Errorf("delivery to channel %s failed: %w", ch.ID, err)
	}
	p.breakers.success(ch.ID)

	slog.Debug("Notification delivered",
		"alert_id", n.Alert.AlertID,
		"channel_id", ch.ID,
		"channel_type", ch.Type,
		"status_code", attempt.StatusCode,
		"duration_ms", attempt.DurationMs,
	)
	return nil
}

// deliver performs the request
func (p *poster) deliver(ctx context.Context, ch model.NotificationChannel, body []byte) (model.DeliveryAttempt, error) {
	start := p.now()
	attempt := model.DeliveryAttempt{Timestamp: start.UTC()}
	finish := func(err error) (model.DeliveryAttempt, error) {
		if err != nil && attempt.Error == "" {
			attempt.Error = err.Error()
		}
		attempt.DurationMs = p.now().Sub(start).Milliseconds()
		return attempt, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.Config.URL, bytes.NewReader(body))
	if err != nil {
		return finish(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	for key, value := range ch.Config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return finish(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	// 1KB is enough to diagnose a rejection
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		slog.Warn("Failed to read channel response body", "channel_id", ch.ID, "error", err)
	}
	attempt.StatusCode = resp.StatusCode
	attempt.ResponseBody = string(respBody)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return finish(fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	return finish(nil)
}

// WebhookChannel posts the generic JSON payload
type WebhookChannel struct {
	poster *poster
}

// NewWebhookChannel creates a generic webhook channel
func NewWebhookChannel(client *http.Client, cfg BreakerConfig) *WebhookChannel {
	return &WebhookChannel{poster: newPoster(client, cfg)}
}

// Send implements Channel
func (c *WebhookChannel) Send(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(NewWebhookPayload(n.Alert, c.poster.now()))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.poster.send(ctx, n, body)
}
