// Package notify provides NotificationSink adapters for alert delivery.
//
// Delivery is fire-and-forget from the accounting pipeline's perspective:
// failures are logged by the caller and never surface on the request path.
package notify

import (
	"fmt"
	"time"

	"github.com/apimeter/apimeter/ports"
)

// Config selects and configures a sink.
type Config struct {
	Type    string            `yaml:"type"` // "email", "webhook", "slack", "teams", "none"
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url,omitempty"`     // webhook/slack/teams endpoint
	Headers map[string]string `yaml:"headers,omitempty"` // extra webhook headers

	// Email settings
	SMTPHost   string   `yaml:"smtp_host,omitempty"`
	SMTPPort   int      `yaml:"smtp_port,omitempty"`
	Username   string   `yaml:"smtp_username,omitempty"`
	Password   string   `yaml:"smtp_password,omitempty"`
	From       string   `yaml:"from,omitempty"`
	Recipients []string `yaml:"recipients,omitempty"`

	// Slack settings
	Channel string `yaml:"channel,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// NewSink creates a notification sink from config.
func NewSink(cfg Config) (ports.NotificationSink, error) {
	if !cfg.Enabled {
		return NewNoopSink(), nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	switch cfg.Type {
	case "email":
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("email sink: smtp_host is required")
		}
		if len(cfg.Recipients) == 0 {
			return nil, fmt.Errorf("email sink: at least one recipient is required")
		}
		return NewEmailSink(cfg), nil
	case "webhook":
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook sink: url is required")
		}
		return NewWebhookSink(cfg), nil
	case "slack":
		if cfg.URL == "" {
			return nil, fmt.Errorf("slack sink: url is required")
		}
		return NewSlackSink(cfg), nil
	case "teams":
		if cfg.URL == "" {
			return nil, fmt.Errorf("teams sink: url is required")
		}
		return NewTeamsSink(cfg), nil
	case "none", "":
		return NewNoopSink(), nil
	default:
		return nil, fmt.Errorf("unknown notification sink type: %s", cfg.Type)
	}
}

// NewSinks creates all enabled sinks from a config list.
func NewSinks(cfgs []Config) ([]ports.NotificationSink, error) {
	var sinks []ports.NotificationSink
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		s, err := NewSink(cfg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}
