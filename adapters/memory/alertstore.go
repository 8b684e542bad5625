package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/apimeter/apimeter/domain/alert"
	"github.com/apimeter/apimeter/ports"
)

// ErrAlertNotFound is returned for lifecycle operations on unknown events.
var ErrAlertNotFound = errors.New("alert not found")

// AlertStore is an in-memory alert event store.
type AlertStore struct {
	mu     sync.RWMutex
	events map[string]alert.Event
}

// NewAlertStore creates an empty in-memory alert store.
func NewAlertStore() *AlertStore {
	return &AlertStore{events: make(map[string]alert.Event)}
}

// Create stores a new alert event.
func (s *AlertStore) Create(ctx context.Context, e alert.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e
	return nil
}

// ListActive returns active events for an identity, or all identities when
// identityID is empty.
func (s *AlertStore) ListActive(ctx context.Context, identityID string) ([]alert.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []alert.Event
	for _, e := range s.events {
		if e.Status != alert.StatusActive {
			continue
		}
		if identityID != "" && e.IdentityID != identityID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Acknowledge marks an active event acknowledged.
func (s *AlertStore) Acknowledge(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return ErrAlertNotFound
	}
	next, ok := alert.Acknowledge(e, at)
	if !ok {
		return nil
	}
	s.events[id] = next
	return nil
}

// Resolve marks an event resolved.
func (s *AlertStore) Resolve(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return ErrAlertNotFound
	}
	next, ok := alert.Resolve(e, at)
	if !ok {
		return nil
	}
	s.events[id] = next
	return nil
}

// Ensure interface compliance.
var _ ports.AlertStore = (*AlertStore)(nil)
