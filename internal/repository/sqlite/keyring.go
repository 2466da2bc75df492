package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jaakkos/peertasks/internal/domain"
)

// LoadCredential returns the credential stored under label, or nil if none.
func (s *Store) LoadCredential(ctx context.Context, label string) (*domain.Credential, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	var body string
	var key []byte
	err = db.QueryRowContext(ctx, "SELECT body, private_key FROM credentials WHERE label = ?", label).Scan(&body, &key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite credential %s: %w", label, err)
	}
	var c domain.Credential
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return nil, fmt.Errorf("sqlite credential %s: %w", label, err)
	}
	c.PrivateKey = key
	return &c, nil
}

// SaveCredential stores c under c.Label, replacing any previous one.
func (s *Store) SaveCredential(ctx context.Context, c *domain.Credential) error {
	if c == nil || c.Label == "" {
		return fmt.Errorf("sqlite credential: missing label")
	}
	db, err := s.handle()
	if err != nil {
		return err
	}
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("sqlite credential %s: %w", c.Label, err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO credentials (label, body, private_key, not_after, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(label) DO UPDATE SET body = excluded.body, private_key = excluded.private_key,
		not_after = excluded.not_after, updated_at = excluded.updated_at`,
		c.Label, string(body), c.PrivateKey, c.NotAfter.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite credential %s: %w", c.Label, err)
	}
	return nil
}

// DeleteCredential removes the credential stored under label, if any.
func (s *Store) DeleteCredential(ctx context.Context, label string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM credentials WHERE label = ?", label); err != nil {
		return fmt.Errorf("sqlite credential %s: %w", label, err)
	}
	return nil
}

// EnsureLocalPeerID returns the persisted peer id, storing gen() on first use.
func (s *Store) EnsureLocalPeerID(ctx context.Context, gen func() string) (string, error) {
	db, err := s.handle()
	if err != nil {
		return "", err
	}
	if _, err := db.ExecContext(ctx, "INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", metaLocalPeerID, gen()); err != nil {
		return "", fmt.Errorf("meta %s: %w", metaLocalPeerID, err)
	}
	var id string
	if err := db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", metaLocalPeerID).Scan(&id); err != nil {
		return "", fmt.Errorf("meta %s: %w", metaLocalPeerID, err)
	}
	return id, nil
}
