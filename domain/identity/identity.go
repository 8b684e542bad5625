// Package identity provides API credential value types, key generation, and
// pure validation functions. This package performs no I/O.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Identity is the authenticated principal a request is attributed to
// (immutable during a request; mutated only by out-of-band management ops).
type Identity struct {
	ID        string
	OwnerID   string
	Name      string
	Hash      []byte // bcrypt hash of the full raw key
	Prefix    string // First 12 chars of the raw key, for lookup
	Active    bool
	CreatedAt time.Time
	LastUsed  *time.Time
}

// Resolve outcomes. These are the only credential errors allowed to shape an
// HTTP response.
var (
	ErrMissingKey  = errors.New("missing API key")
	ErrInvalidKey  = errors.New("invalid API key")
	ErrInactiveKey = errors.New("API key is inactive")
)

// PrefixLen is the number of leading raw-key characters stored for lookup.
const PrefixLen = 12

// Generate creates a new credential with the given key prefix (e.g. "am_").
// Returns the raw key (shown to the user once) and the Identity to store.
// The raw key is prefix + 64 hex chars.
func Generate(keyPrefix, ownerID, name string, now time.Time) (rawKey string, id Identity) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	rawKey = keyPrefix + hex.EncodeToString(randomBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("bcrypt failed: %v", err))
	}

	idBytes := make([]byte, 8)
	rand.Read(idBytes)

	id = Identity{
		ID:        "key_" + hex.EncodeToString(idBytes),
		OwnerID:   ownerID,
		Name:      name,
		Hash:      hash,
		Prefix:    rawKey[:PrefixLen],
		Active:    true,
		CreatedAt: now.UTC(),
	}
	return rawKey, id
}

// Matches reports whether the raw key matches this identity's stored hash.
func (id Identity) Matches(rawKey string) bool {
	return bcrypt.CompareHashAndPassword(id.Hash, []byte(rawKey)) == nil
}
