// Package slots is the client's small key/value persistence: the auth token,
// the last known role and the impersonation record survive restarts here.
package slots

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"boardline/internal/domain"
)

const (
	KeyImpersonation = "impersonation_state"
	KeyAuthToken     = "auth_token"
	KeyUserRole      = "user_role"
)

// Store is a string slot store. Get reports ok=false for a missing key.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// SQLite keeps slots in the workspace database. The client migration set must
// have been applied.
type SQLite struct {
	DB  *sqlx.DB
	Now func() time.Time
}

func NewSQLite(db *sqlx.DB) *SQLite {
	return &SQLite{DB: db, Now: time.Now}
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var values []string
	if err := s.DB.SelectContext(ctx, &values, `SELECT value FROM slots WHERE key=?`, key); err != nil {
		return "", false, fmt.Errorf("read slot %s: %w", key, err)
	}
	if len(values) == 0 {
		return "", false, nil
	}
	return values[0], true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO slots(key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, s.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("write slot %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM slots WHERE key=?`, key); err != nil {
		return fmt.Errorf("delete slot %s: %w", key, err)
	}
	return nil
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: map[string]string{}}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// ImpersonationRecord is the persisted form of an active impersonation.
type ImpersonationRecord struct {
	OriginalUser     domain.User `json:"originalUser"`
	ImpersonatedUser domain.User `json:"impersonatedUser"`
}

// LoadImpersonation returns the stored record, or nil when none is stored. A
// record that no longer parses is treated as absent and removed.
func LoadImpersonation(ctx context.Context, s Store) (*ImpersonationRecord, error) {
	raw, ok, err := s.Get(ctx, KeyImpersonation)
	if err != nil || !ok {
		return nil, err
	}
	var rec ImpersonationRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.OriginalUser.ID == 0 || rec.ImpersonatedUser.ID == 0 {
		return nil, s.Delete(ctx, KeyImpersonation)
	}
	return &rec, nil
}

func SaveImpersonation(ctx context.Context, s Store, rec ImpersonationRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.Set(ctx, KeyImpersonation, string(b))
}

func ClearImpersonation(ctx context.Context, s Store) error {
	return s.Delete(ctx, KeyImpersonation)
}
