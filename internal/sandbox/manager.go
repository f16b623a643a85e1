package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Timeout classes and sweep cadence
const (
	shellTimeout  = 2 * time.Minute
	agentTimeout  = 10 * time.Minute
	idleThreshold = 30 * time.Minute
	sweepInterval = 5 * time.Minute
)

// ErrSandboxUnavailable is returned when neither reconnect nor recreate could
// produce a usable environment.
var ErrSandboxUnavailable = errors.New("sandbox unavailable")

// entry serializes all operations for one session id. Lookups for different
// ids proceed concurrently; at most one creation is live per id.
type entry struct {
	mu      sync.Mutex
	session *BuildSession
}

// Manager owns the session table: it creates, reconnects, executes in, and
// tears down remote environments, at most one per session id.
type Manager struct {
	provider ProviderInterface
	store    Store
	tracer   trace.Tracer

	mu      sync.Mutex
	entries map[string]*entry

	// injected for tests
	now func() time.Time
}

// NewManager creates a session manager over a provider and a persistence store
func NewManager(provider ProviderInterface, store Store) *Manager {
	return &Manager{
		provider: provider,
		store:    store,
		tracer:   otel.Tracer("sandbox-manager"),
		entries:  make(map[string]*entry),
		now:      time.Now,
	}
}

// entryFor returns the serialization entry for a session id, creating it if
// needed. Only the map access is guarded here; per-session work happens under
// the entry's own lock.
func (m *Manager) entryFor(sessionID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok {
		e = &entry{}
		m.entries[sessionID] = e
	}
	return e
}

// CreateOrReuse returns the live session for the id, reconnecting to a
// persisted environment when possible and creating a new one otherwise.
func (m *Manager) CreateOrReuse(ctx context.Context, sessionID string, meta Metadata) (*BuildSession, error) {
	ctx, span := m.tracer.Start(ctx, "sandbox.create_or_reuse")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	e := m.entryFor(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	// Fast path: a cached ready session.
	if e.session != nil && e.session.Status == StatusReady {
		e.session.LastActivity = m.now()
		span.SetAttributes(attribute.String("session.source", "cache"))
		return e.session, nil
	}

	// Persisted environment id: attempt a health-checked reconnect.
	record, err := m.store.GetSession(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		return nil, err
	}
	if record != nil && record.SandboxID != "" {
		if session := m.reconnect(ctx, sessionID, record); session != nil {
			e.session = session
			span.SetAttributes(attribute.String("session.source", "reconnect"))
			return session, nil
		}
		// Stale id: clear it so the recreate below starts clean.
		if err := m.store.ClearSandboxID(ctx, sessionID); err != nil {
			log.Printf(`{"level":"warn","message":"Failed to clear stale sandbox id","session_id":"%s","error":"%v"}`, sessionID, err)
		}
	}

	session, err := m.create(ctx, sessionID, meta)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	e.session = session
	span.SetAttributes(attribute.String("session.source", "create"), attribute.String("sandbox.id", session.SandboxID))
	return session, nil
}

// reconnect health-checks a persisted environment and adopts it if it is
// still running. Returns nil when the environment is dead or unreachable.
func (m *Manager) reconnect(ctx context.Context, sessionID string, record *SessionRecord) *BuildSession {
	ws, err := m.provider.Get(ctx, record.SandboxID)
	if err != nil {
		log.Printf(`{"level":"warn","message":"Sandbox reconnect failed","session_id":"%s","sandbox_id":"%s","error":"%v"}`, sessionID, record.SandboxID, err)
		return nil
	}
	if ws.State != "started" {
		log.Printf(`{"level":"warn","message":"Persisted sandbox not running","session_id":"%s","sandbox_id":"%s","state":"%s"}`, sessionID, record.SandboxID, ws.State)
		return nil
	}

	session := &BuildSession{
		SessionID:        sessionID,
		SandboxID:        ws.ID,
		WorkingDirectory: record.WorkingDirectory,
		Status:           StatusReady,
		LastActivity:     m.now(),
	}
	if session.WorkingDirectory == "" {
		session.WorkingDirectory = ws.WorkingDirectory
	}
	if err := m.store.TouchSession(ctx, sessionID, session.LastActivity); err != nil {
		log.Printf(`{"level":"warn","message":"Failed to touch session after reconnect","session_id":"%s","error":"%v"}`, sessionID, err)
	}
	return session
}

// create provisions a fresh environment and persists its identity
func (m *Manager) create(ctx context.Context, sessionID string, meta Metadata) (*BuildSession, error) {
	labels := map[string]string{"session-id": sessionID}
	if meta.WorkspaceID != "" {
		labels["workspace-id"] = meta.WorkspaceID
	}
	if meta.ProjectName != "" {
		labels["project"] = meta.ProjectName
	}

	// Record the provisioning attempt before calling out; the record is
	// upgraded to ready once the environment exists.
	if err := m.store.SaveSession(ctx, SessionRecord{
		SessionID:    sessionID,
		Status:       StatusCreating,
		LastActivity: m.now(),
	}); err != nil {
		log.Printf(`{"level":"warn","message":"Failed to persist provisioning record","session_id":"%s","error":"%v"}`, sessionID, err)
	}

	ws, err := m.provider.Create(ctx, CreateRequest{
		Labels:           labels,
		AutoStopInterval: 0, // lifecycle is owned by the idle sweep, not the provider
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSandboxUnavailable, err)
	}

	session := &BuildSession{
		SessionID:        sessionID,
		SandboxID:        ws.ID,
		WorkingDirectory: ws.WorkingDirectory,
		Status:           StatusReady,
		LastActivity:     m.now(),
	}

	if err := m.store.SaveSession(ctx, SessionRecord{
		SessionID:        sessionID,
		SandboxID:        session.SandboxID,
		WorkingDirectory: session.WorkingDirectory,
		Status:           StatusReady,
		LastActivity:     session.LastActivity,
	}); err != nil {
		log.Printf(`{"level":"warn","message":"Failed to persist session","session_id":"%s","error":"%v"}`, sessionID, err)
	}

	log.Printf(`{"level":"info","message":"Sandbox created","session_id":"%s","sandbox_id":"%s"}`, sessionID, session.SandboxID)
	return session, nil
}

// Execute runs a command inside the session's environment, creating or
// reconnecting the environment first if needed. The timeout class is chosen
// by opts.Agent.
func (m *Manager) Execute(ctx context.Context, sessionID, command string, opts ExecOptions) (*ExecResult, error) {
	ctx, span := m.tracer.Start(ctx, "sandbox.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.Bool("session.agent_command", opts.Agent),
	)

	session, err := m.CreateOrReuse(ctx, sessionID, Metadata{})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	timeout := shellTimeout
	if opts.Agent {
		timeout = agentTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cwd := opts.WorkDir
	if cwd == "" {
		cwd = session.WorkingDirectory
	}

	result, err := m.provider.Exec(execCtx, session.SandboxID, ExecRequest{
		Command:        command,
		Cwd:            cwd,
		TimeoutSeconds: int(timeout.Seconds()),
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	m.touch(ctx, sessionID)
	span.SetAttributes(attribute.Int("session.exit_code", result.ExitCode))
	return result, nil
}

// PreviewLink fetches the authenticated preview endpoint for the session's
// environment on the given port.
func (m *Manager) PreviewLink(ctx context.Context, sessionID string, port int) (*PreviewLink, error) {
	e := m.entryFor(sessionID)
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()

	if session == nil {
		record, err := m.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if record.SandboxID == "" {
			return nil, ErrSandboxUnavailable
		}
		return m.provider.PreviewLink(ctx, record.SandboxID, port)
	}
	return m.provider.PreviewLink(ctx, session.SandboxID, port)
}

// WriteFile uploads one file into the session's environment
func (m *Manager) WriteFile(ctx context.Context, sessionID, path, content string) error {
	session, err := m.CreateOrReuse(ctx, sessionID, Metadata{})
	if err != nil {
		return err
	}
	if err := m.provider.WriteFile(ctx, session.SandboxID, path, content); err != nil {
		return err
	}
	m.touch(ctx, sessionID)
	return nil
}

// Terminate tears down the session's environment and forgets the session
func (m *Manager) Terminate(ctx context.Context, sessionID string) error {
	ctx, span := m.tracer.Start(ctx, "sandbox.terminate")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	e := m.entryFor(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	sandboxID := ""
	if e.session != nil {
		sandboxID = e.session.SandboxID
	} else if record, err := m.store.GetSession(ctx, sessionID); err == nil {
		sandboxID = record.SandboxID
	}

	if sandboxID != "" {
		if err := m.provider.Delete(ctx, sandboxID); err != nil {
			log.Printf(`{"level":"warn","message":"Sandbox delete failed","session_id":"%s","sandbox_id":"%s","error":"%v"}`, sessionID, sandboxID, err)
		}
	}

	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		log.Printf(`{"level":"warn","message":"Failed to delete session record","session_id":"%s","error":"%v"}`, sessionID, err)
	}

	// Holders of the session pointer observe the terminal state.
	if e.session != nil {
		e.session.Status = StatusTerminated
	}
	e.session = nil
	m.mu.Lock()
	delete(m.entries, sessionID)
	m.mu.Unlock()

	log.Printf(`{"level":"info","message":"Session terminated","session_id":"%s"}`, sessionID)
	return nil
}

// touch records activity both in the cache and in the store
func (m *Manager) touch(ctx context.Context, sessionID string) {
	now := m.now()

	e := m.entryFor(sessionID)
	e.mu.Lock()
	if e.session != nil {
		e.session.LastActivity = now
	}
	e.mu.Unlock()

	if err := m.store.TouchSession(ctx, sessionID, now); err != nil {
		log.Printf(`{"level":"warn","message":"Failed to record session activity","session_id":"%s","error":"%v"}`, sessionID, err)
	}
}

// StartSweeper runs the idle-session sweep until the context is cancelled
func (m *Manager) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()
}

// Sweep terminates and evicts every session idle past the threshold
func (m *Manager) Sweep(ctx context.Context) {
	cutoff := m.now().Add(-idleThreshold)

	m.mu.Lock()
	candidates := make(map[string]*entry, len(m.entries))
	for sessionID, e := range m.entries {
		candidates[sessionID] = e
	}
	m.mu.Unlock()

	var idle []string
	for sessionID, e := range candidates {
		e.mu.Lock()
		if e.session != nil && e.session.LastActivity.Before(cutoff) {
			idle = append(idle, sessionID)
		}
		e.mu.Unlock()
	}

	for _, sessionID := range idle {
		log.Printf(`{"level":"info","message":"Evicting idle session","session_id":"%s"}`, sessionID)
		if err := m.Terminate(ctx, sessionID); err != nil {
			log.Printf(`{"level":"warn","message":"Idle eviction failed","session_id":"%s","error":"%v"}`, sessionID, err)
		}
	}
}
