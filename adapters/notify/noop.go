package notify

import (
	"context"

	"github.com/apimeter/apimeter/domain/alert"
	"github.com/apimeter/apimeter/ports"
)

// NoopSink discards alert events, for when notifications are disabled.
type NoopSink struct{}

// NewNoopSink creates a new no-op sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

// Name returns the sink name.
func (s *NoopSink) Name() string { return "noop" }

// Deliver does nothing.
func (s *NoopSink) Deliver(ctx context.Context, e alert.Event) error {
	return nil
}

// Ensure interface compliance.
var _ ports.NotificationSink = (*NoopSink)(nil)
