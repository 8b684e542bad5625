package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/apimeter/apimeter/domain/alert"
	"github.com/apimeter/apimeter/ports"
)

// SlackSink delivers alert events to a Slack incoming webhook.
type SlackSink struct {
	cfg    Config
	client *http.Client
}

// NewSlackSink creates a Slack sink.
func NewSlackSink(cfg Config) *SlackSink {
	return &SlackSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the sink name.
func (s *SlackSink) Name() string { return "slack" }

type slackMessage struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
}

// Deliver sends one alert event.
func (s *SlackSink) Deliver(ctx context.Context, e alert.Event) error {
	msg := slackMessage{
		Text: fmt.Sprintf("*%s Alert*\nLevel: %s\nMessage: %s",
			strings.ToUpper(string(e.Type)), e.Level, e.Message),
		Channel: s.cfg.Channel,
	}
	return postJSON(ctx, s.client, s.cfg.URL, msg)
}

// Ensure interface compliance.
var _ ports.NotificationSink = (*SlackSink)(nil)
