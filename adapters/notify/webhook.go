package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/apimeter/apimeter/domain/alert"
	"github.com/apimeter/apimeter/ports"
)

// WebhookSink POSTs alert events as JSON to a configured URL.
type WebhookSink struct {
	cfg    Config
	client *http.Client
}

// NewWebhookSink creates a generic webhook sink.
func NewWebhookSink(cfg Config) *WebhookSink {
	return &WebhookSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the sink name.
func (s *WebhookSink) Name() string { return "webhook" }

// webhookPayload is the wire format for generic webhook deliveries.
type webhookPayload struct {
	AlertID    string  `json:"alert_id"`
	Type       string  `json:"type"`
	Level      string  `json:"level"`
	IdentityID string  `json:"identity_id"`
	Message    string  `json:"message"`
	Value      float64 `json:"value"`
	Threshold  float64 `json:"threshold"`
	CreatedAt  string  `json:"created_at"`
}

// Deliver sends one alert event.
func (s *WebhookSink) Deliver(ctx context.Context, e alert.Event) error {
	payload, err := json.Marshal(webhookPayload{
		AlertID:    e.ID,
		Type:       string(e.Type),
		Level:      string(e.Level),
		IdentityID: e.IdentityID,
		Message:    e.Message,
		Value:      e.Value,
		Threshold:  e.Threshold,
		CreatedAt:  e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery failed: status %d", resp.StatusCode)
	}
	return nil
}

// postJSON is shared by the Slack and Teams sinks.
func postJSON(ctx context.Context, client *http.Client, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("delivery failed: status %d", resp.StatusCode)
	}
	return nil
}

// Ensure interface compliance.
var _ ports.NotificationSink = (*WebhookSink)(nil)
