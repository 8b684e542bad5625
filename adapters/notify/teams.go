package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/apimeter/apimeter/domain/alert"
	"github.com/apimeter/apimeter/ports"
)

// TeamsSink delivers alert events to a Microsoft Teams incoming webhook
// as an Adaptive Card.
type TeamsSink struct {
	cfg    Config
	client *http.Client
}

// NewTeamsSink creates a Teams sink.
func NewTeamsSink(cfg Config) *TeamsSink {
	return &TeamsSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the sink name.
func (s *TeamsSink) Name() string { return "teams" }

type teamsTextBlock struct {
	Type   string `json:"type"`
	Size   string `json:"size,omitempty"`
	Weight string `json:"weight,omitempty"`
	Text   string `json:"text"`
}

type teamsCard struct {
	Type string           `json:"type"`
	Body []teamsTextBlock `json:"body"`
}

type teamsAttachment struct {
	ContentType string    `json:"contentType"`
	Content     teamsCard `json:"content"`
}

type teamsMessage struct {
	Type        string            `json:"type"`
	Attachments []teamsAttachment `json:"attachments"`
}

// Deliver sends one alert event.
func (s *TeamsSink) Deliver(ctx context.Context, e alert.Event) error {
	msg := teamsMessage{
		Type: "message",
		Attachments: []teamsAttachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: teamsCard{
				Type: "AdaptiveCard",
				Body: []teamsTextBlock{
					{Type: "TextBlock", Size: "Large", Weight: "Bolder",
						Text: fmt.Sprintf("%s Alert", strings.ToUpper(string(e.Type)))},
					{Type: "TextBlock", Text: fmt.Sprintf("Level: %s", e.Level)},
					{Type: "TextBlock", Text: fmt.Sprintf("Message: %s", e.Message)},
				},
			},
		}},
	}
	return postJSON(ctx, s.client, s.cfg.URL, msg)
}

// Ensure interface compliance.
var _ ports.NotificationSink = (*TeamsSink)(nil)
