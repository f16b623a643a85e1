package continuity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no conversation state exists for a session id
var ErrNotFound = errors.New("conversation state not found")

// Store persists conversation states and transcripts keyed by session id
type Store interface {
	GetState(ctx context.Context, sessionID string) (*ConversationState, error)
	SaveState(ctx context.Context, state ConversationState) error
	AppendTranscript(ctx context.Context, sessionID, role, content string) error
	GetTranscript(ctx context.Context, sessionID string) ([]TranscriptEntry, error)
}

// PGStore persists conversation continuity data in Postgres
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Postgres-backed continuity store
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// EnsureSchema creates the continuity tables if they do not exist
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS conversation_states (
			session_id               TEXT PRIMARY KEY,
			started                  BOOLEAN NOT NULL DEFAULT FALSE,
			external_conversation_id TEXT NOT NULL DEFAULT '',
			restoration_method       TEXT NOT NULL DEFAULT 'none',
			updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure conversation_states schema: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS conversation_transcripts (
			id         BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure conversation_transcripts schema: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_transcripts_session
		ON conversation_transcripts (session_id, id)`)
	if err != nil {
		return fmt.Errorf("failed to ensure transcript index: %w", err)
	}
	return nil
}

// GetState loads the continuity record for a session id
func (s *PGStore) GetState(ctx context.Context, sessionID string) (*ConversationState, error) {
	var state ConversationState
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, started, external_conversation_id, restoration_method, updated_at
		 FROM conversation_states WHERE session_id = $1`,
		sessionID,
	).Scan(
		&state.SessionID,
		&state.Started,
		&state.ExternalConversationID,
		&state.RestorationMethod,
		&state.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation state %s: %w", sessionID, err)
	}
	return &state, nil
}

// SaveState upserts the continuity record for a session id
func (s *PGStore) SaveState(ctx context.Context, state ConversationState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_states (session_id, started, external_conversation_id, restoration_method)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id) DO UPDATE SET
			started = EXCLUDED.started,
			external_conversation_id = EXCLUDED.external_conversation_id,
			restoration_method = EXCLUDED.restoration_method,
			updated_at = now()`,
		state.SessionID, state.Started, state.ExternalConversationID, state.RestorationMethod,
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation state %s: %w", state.SessionID, err)
	}
	return nil
}

// AppendTranscript records one role-tagged message for later replay
func (s *PGStore) AppendTranscript(ctx context.Context, sessionID, role, content string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_transcripts (session_id, role, content) VALUES ($1, $2, $3)`,
		sessionID, role, content,
	)
	if err != nil {
		return fmt.Errorf("failed to append transcript for %s: %w", sessionID, err)
	}
	return nil
}

// GetTranscript returns the session's messages in chronological order
func (s *PGStore) GetTranscript(ctx context.Context, sessionID string) ([]TranscriptEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, content FROM conversation_transcripts WHERE session_id = $1 ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var entries []TranscriptEntry
	for rows.Next() {
		var entry TranscriptEntry
		if err := rows.Scan(&entry.Role, &entry.Content); err != nil {
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript rows: %w", err)
	}
	return entries, nil
}
