package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no record exists for a session id
var ErrNotFound = errors.New("session not found")

// SessionRecord is the persisted form of a BuildSession. It outlives the
// process so a restart can reconnect to a still-running environment.
type SessionRecord struct {
	SessionID        string
	SandboxID        string
	WorkingDirectory string
	Status           SessionStatus
	LastActivity     time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Store persists session records keyed by session id
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	SaveSession(ctx context.Context, record SessionRecord) error
	ClearSandboxID(ctx context.Context, sessionID string) error
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// PGStore persists session records in Postgres
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Postgres-backed session store
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// EnsureSchema creates the session table if it does not exist
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS build_sessions (
			session_id        TEXT PRIMARY KEY,
			sandbox_id        TEXT NOT NULL DEFAULT '',
			working_directory TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL,
			last_activity     TIMESTAMPTZ NOT NULL,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure build_sessions schema: %w", err)
	}
	return nil
}

// GetSession loads the record for a session id
func (s *PGStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var record SessionRecord
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, sandbox_id, working_directory, status, last_activity, created_at, updated_at
		 FROM build_sessions WHERE session_id = $1`,
		sessionID,
	).Scan(
		&record.SessionID,
		&record.SandboxID,
		&record.WorkingDirectory,
		&record.Status,
		&record.LastActivity,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return &record, nil
}

// SaveSession upserts the record for a session id
func (s *PGStore) SaveSession(ctx context.Context, record SessionRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO build_sessions (session_id, sandbox_id, working_directory, status, last_activity)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id) DO UPDATE SET
			sandbox_id = EXCLUDED.sandbox_id,
			working_directory = EXCLUDED.working_directory,
			status = EXCLUDED.status,
			last_activity = EXCLUDED.last_activity,
			updated_at = now()`,
		record.SessionID, record.SandboxID, record.WorkingDirectory, record.Status, record.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", record.SessionID, err)
	}
	return nil
}

// ClearSandboxID drops a stale environment id after a failed reconnect
func (s *PGStore) ClearSandboxID(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE build_sessions SET sandbox_id = '', status = $2, updated_at = now() WHERE session_id = $1`,
		sessionID, StatusError,
	)
	if err != nil {
		return fmt.Errorf("failed to clear sandbox id for session %s: %w", sessionID, err)
	}
	return nil
}

// TouchSession records command activity for the idle sweep
func (s *PGStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE build_sessions SET last_activity = $2, updated_at = now() WHERE session_id = $1`,
		sessionID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to touch session %s: %w", sessionID, err)
	}
	return nil
}

// DeleteSession removes the record for a terminated session
func (s *PGStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM build_sessions WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}
