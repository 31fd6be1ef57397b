package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"healthwatch/internal/config"
	"healthwatch/internal/domain"
)

// WebhookPublisher posts alert event JSON to one HTTP endpoint.
// Params: endpoint URL, static headers, and request timeout.
// Returns: publisher implementation for the webhook transport.
type WebhookPublisher struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// webhookPayload is the wire body posted to the endpoint.
// Params: event kind, delivery scope, and full alert.
// Returns: serialized webhook envelope.
type webhookPayload struct {
	Kind      domain.AlertEventKind `json:"kind"`
	Scope     string                `json:"scope"`
	Village   string                `json:"village,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
	Alert     domain.Alert          `json:"alert"`
}

// NewWebhookPublisher creates a webhook publisher with its own HTTP client.
// Params: webhook notifier config.
// Returns: initialized publisher.
func NewWebhookPublisher(cfg config.WebhookNotifier) *WebhookPublisher {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	headers := make(map[string]string, len(cfg.Headers))
	for name, value := range cfg.Headers {
		headers[name] = value
	}
	return &WebhookPublisher{
		url:     strings.TrimSpace(cfg.URL),
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the publisher key used by per-rule channel selection.
// Params: none.
// Returns: static transport name.
func (p *WebhookPublisher) Name() string {
	return "webhook"
}

// Publish posts one alert event to the configured endpoint.
// Params: context, scope, and event payload.
// Returns: error when the request fails or the endpoint answers non-2xx.
func (p *WebhookPublisher) Publish(ctx context.Context, scope Scope, event domain.AlertEvent) error {
	if p.url == "" {
		return errors.New("webhook url is required")
	}

	body, err := json.Marshal(webhookPayload{
		Kind:      event.Kind,
		Scope:     scope.Key(),
		Village:   scope.Village,
		Timestamp: event.Timestamp,
		Alert:     event.Alert,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for name, value := range p.headers {
		request.Header.Set(name, value)
	}

	response, err := p.client.Do(request)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint answered %d", response.StatusCode)
	}
	return nil
}

// Close releases idle HTTP connections.
// Params: none.
// Returns: nil.
func (p *WebhookPublisher) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
