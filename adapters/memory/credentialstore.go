// Package memory provides in-memory implementations of storage ports,
// used in tests and as the advisory cache tier.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/apimeter/apimeter/domain/identity"
	"github.com/apimeter/apimeter/ports"
)

// CredentialStore is an in-memory credential store.
type CredentialStore struct {
	mu    sync.RWMutex
	byID  map[string]identity.Identity
	index map[string][]string // prefix -> credential IDs
}

// NewCredentialStore creates an empty in-memory credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		byID:  make(map[string]identity.Identity),
		index: make(map[string][]string),
	}
}

// Resolve maps a raw key to an identity via prefix lookup + hash compare.
func (s *CredentialStore) Resolve(ctx context.Context, rawKey string) (identity.Identity, error) {
	prefix := rawKey
	if len(prefix) > identity.PrefixLen {
		prefix = prefix[:identity.PrefixLen]
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.index[prefix] {
		cred := s.byID[id]
		if cred.Matches(rawKey) {
			return cred, nil
		}
	}
	return identity.Identity{}, identity.ErrInvalidKey
}

// Create stores a new credential.
func (s *CredentialStore) Create(ctx context.Context, id identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id.ID] = id
	s.index[id.Prefix] = append(s.index[id.Prefix], id.ID)
	return nil
}

// Deactivate marks a credential inactive.
func (s *CredentialStore) Deactivate(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.byID[id]
	if !ok {
		return identity.ErrInvalidKey
	}
	cred.Active = false
	s.byID[id] = cred
	return nil
}

// ListByOwner returns all credentials for an owner.
func (s *CredentialStore) ListByOwner(ctx context.Context, ownerID string) ([]identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []identity.Identity
	for _, cred := range s.byID {
		if cred.OwnerID == ownerID {
			out = append(out, cred)
		}
	}
	return out, nil
}

// UpdateLastUsed updates the last used timestamp.
func (s *CredentialStore) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.byID[id]
	if !ok {
		return identity.ErrInvalidKey
	}
	cred.LastUsed = &at
	s.byID[id] = cred
	return nil
}

// Ensure interface compliance.
var _ ports.CredentialStore = (*CredentialStore)(nil)
