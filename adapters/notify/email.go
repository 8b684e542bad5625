package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/apimeter/apimeter/domain/alert"
	"github.com/apimeter/apimeter/ports"
)

// EmailSink delivers alert events over SMTP.
type EmailSink struct {
	cfg Config
}

// NewEmailSink creates an SMTP-backed sink.
func NewEmailSink(cfg Config) *EmailSink {
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	return &EmailSink{cfg: cfg}
}

// Name returns the sink name.
func (s *EmailSink) Name() string { return "email" }

// Deliver sends one alert event as a plain-text email.
func (s *EmailSink) Deliver(ctx context.Context, e alert.Event) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(s.cfg.Recipients, ", "))
	fmt.Fprintf(&buf, "Subject: Alert: %s - %s\r\n", e.Type, e.Level)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	fmt.Fprintf(&buf, "Type: %s\r\n", e.Type)
	fmt.Fprintf(&buf, "Level: %s\r\n", e.Level)
	fmt.Fprintf(&buf, "Identity: %s\r\n", e.IdentityID)
	fmt.Fprintf(&buf, "Message: %s\r\n", e.Message)
	fmt.Fprintf(&buf, "Value: %g\r\n", e.Value)
	fmt.Fprintf(&buf, "Threshold: %g\r\n", e.Threshold)
	fmt.Fprintf(&buf, "Time: %s\r\n", e.CreatedAt.Format("2006-01-02 15:04:05 MST"))

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	}

	return smtp.SendMail(addr, auth, s.cfg.From, s.cfg.Recipients, buf.Bytes())
}

// Ensure interface compliance.
var _ ports.NotificationSink = (*EmailSink)(nil)
