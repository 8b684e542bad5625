package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/apimeter/apimeter/domain/identity"
	"github.com/apimeter/apimeter/ports"
)

// CredentialStore implements ports.CredentialStore using SQLite.
type CredentialStore struct {
	db *DB
}

// NewCredentialStore creates a new SQLite credential store.
func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Resolve maps a raw key to an identity. Candidates are fetched by key
// prefix, then matched against the stored bcrypt hash. Lookups are
// side-effect-free on the credential record.
func (s *CredentialStore) Resolve(ctx context.Context, rawKey string) (identity.Identity, error) {
	prefix := rawKey
	if len(prefix) > identity.PrefixLen {
		prefix = prefix[:identity.PrefixLen]
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, hash, prefix, active, created_at, last_used
		FROM credentials
		WHERE prefix = ?
	`, prefix)
	if err != nil {
		return identity.Identity{}, err
	}
	defer rows.Close()

	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return identity.Identity{}, err
		}
		if cred.Matches(rawKey) {
			return cred, nil
		}
	}
	if err := rows.Err(); err != nil {
		return identity.Identity{}, err
	}
	return identity.Identity{}, identity.ErrInvalidKey
}

// Create stores a new credential.
func (s *CredentialStore) Create(ctx context.Context, id identity.Identity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, owner_id, name, hash, prefix, active, created_at, last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id.ID, id.OwnerID, id.Name, id.Hash, id.Prefix, boolToInt(id.Active), id.CreatedAt.UTC(), id.LastUsed)
	return err
}

// Deactivate marks a credential inactive.
func (s *CredentialStore) Deactivate(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET active = 0 WHERE id = ?
	`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrInvalidKey
	}
	return nil
}

// ListByOwner returns all credentials for an owner.
func (s *CredentialStore) ListByOwner(ctx context.Context, ownerID string) ([]identity.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, hash, prefix, active, created_at, last_used
		FROM credentials
		WHERE owner_id = ?
		ORDER BY created_at
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []identity.Identity
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

// UpdateLastUsed updates the last used timestamp.
func (s *CredentialStore) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET last_used = ? WHERE id = ?
	`, at.UTC(), id)
	return err
}

func scanCredential(rows *sql.Rows) (identity.Identity, error) {
	var cred identity.Identity
	var active int
	var lastUsed sql.NullTime

	err := rows.Scan(&cred.ID, &cred.OwnerID, &cred.Name, &cred.Hash,
		&cred.Prefix, &active, &cred.CreatedAt, &lastUsed)
	if err != nil {
		return identity.Identity{}, err
	}
	cred.Active = active != 0
	if lastUsed.Valid {
		t := lastUsed.Time
		cred.LastUsed = &t
	}
	return cred, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure interface compliance.
var _ ports.CredentialStore = (*CredentialStore)(nil)
