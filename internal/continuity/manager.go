package continuity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pria-cloud/app-composer/internal/decode"
	"github.com/pria-cloud/app-composer/internal/sandbox"
)

// resumeProbePrompt is the trivial continuation sent to test whether the
// stored external conversation is still addressable.
const resumeProbePrompt = "Respond with OK."

// Executor runs commands inside a session's sandbox. *sandbox.Manager
// satisfies this.
type Executor interface {
	Execute(ctx context.Context, sessionID, command string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error)
}

// agentOutput is the structured result shape the agent CLI emits when asked
// for JSON output. session_id is the external conversation identifier.
type agentOutput struct {
	Type      string `json:"type"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
}

// Manager decides, per agent turn, whether the conversation is fresh, resumed
// by external id, or reconstructed by transcript replay, and persists every
// outcome.
type Manager struct {
	executor Executor
	store    Store
	agentBin string
	tracer   trace.Tracer
}

// NewManager creates a continuity manager over a sandbox executor and a
// continuity store. The agent binary name comes from AGENT_CLI.
func NewManager(executor Executor, store Store) *Manager {
	agentBin := os.Getenv("AGENT_CLI")
	if agentBin == "" {
		agentBin = "claude"
	}
	return &Manager{
		executor: executor,
		store:    store,
		agentBin: agentBin,
		tracer:   otel.Tracer("continuity-manager"),
	}
}

// RunTurn executes one agent turn for the session, restoring conversational
// context first when prior state exists.
func (m *Manager) RunTurn(ctx context.Context, sessionID, prompt string) (*TurnResult, error) {
	ctx, span := m.tracer.Start(ctx, "continuity.run_turn")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	state, err := m.store.GetState(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		return nil, err
	}

	var result *TurnResult
	switch {
	case state == nil || !state.Started || state.ExternalConversationID == "":
		result, err = m.freshTurn(ctx, sessionID, prompt)
	default:
		result, err = m.continuedTurn(ctx, sessionID, state, prompt)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("continuity.method", string(result.RestorationMethod)))

	// Transcript failures must not lose the turn itself.
	if err := m.store.AppendTranscript(ctx, sessionID, "user", prompt); err != nil {
		log.Printf(`{"level":"warn","message":"Failed to append user transcript","session_id":"%s","error":"%v"}`, sessionID, err)
	}
	if err := m.store.AppendTranscript(ctx, sessionID, "assistant", result.Response); err != nil {
		log.Printf(`{"level":"warn","message":"Failed to append assistant transcript","session_id":"%s","error":"%v"}`, sessionID, err)
	}

	return result, nil
}

// freshTurn starts a brand-new external conversation, capturing its id from
// the structured output.
func (m *Manager) freshTurn(ctx context.Context, sessionID, prompt string) (*TurnResult, error) {
	output, err := m.invokeAgent(ctx, sessionID, prompt, "")
	if err != nil {
		return nil, err
	}

	state := ConversationState{
		SessionID:              sessionID,
		Started:                true,
		ExternalConversationID: output.SessionID,
		RestorationMethod:      MethodNone,
	}
	if err := m.store.SaveState(ctx, state); err != nil {
		log.Printf(`{"level":"warn","message":"Failed to persist conversation state","session_id":"%s","error":"%v"}`, sessionID, err)
	}

	log.Printf(`{"level":"info","message":"Conversation started","session_id":"%s","external_id":"%s"}`, sessionID, output.SessionID)
	return &TurnResult{
		Response:               output.Result,
		RestorationMethod:      MethodNone,
		ExternalConversationID: output.SessionID,
	}, nil
}

// continuedTurn tries a resume by stored id first and falls back to
// transcript replay when the probe fails.
func (m *Manager) continuedTurn(ctx context.Context, sessionID string, state *ConversationState, prompt string) (*TurnResult, error) {
	if m.probeResume(ctx, sessionID, state.ExternalConversationID) {
		output, err := m.invokeAgent(ctx, sessionID, prompt, state.ExternalConversationID)
		if err != nil {
			return nil, err
		}

		externalID := output.SessionID
		if externalID == "" {
			externalID = state.ExternalConversationID
		}
		if err := m.store.SaveState(ctx, ConversationState{
			SessionID:              sessionID,
			Started:                true,
			ExternalConversationID: externalID,
			RestorationMethod:      MethodResume,
		}); err != nil {
			log.Printf(`{"level":"warn","message":"Failed to persist conversation state","session_id":"%s","error":"%v"}`, sessionID, err)
		}

		return &TurnResult{
			Response:               output.Result,
			RestorationMethod:      MethodResume,
			ExternalConversationID: externalID,
		}, nil
	}

	log.Printf(`{"level":"warn","message":"Resume probe failed, replaying transcript","session_id":"%s","external_id":"%s"}`, sessionID, state.ExternalConversationID)
	return m.replayTurn(ctx, sessionID, prompt)
}

// replayTurn reconstructs context by priming a new external conversation with
// the full prior transcript. With no transcript to replay, it degrades to a
// fresh first turn.
func (m *Manager) replayTurn(ctx context.Context, sessionID, prompt string) (*TurnResult, error) {
	transcript, err := m.store.GetTranscript(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(transcript) == 0 {
		return m.freshTurn(ctx, sessionID, prompt)
	}

	output, err := m.invokeAgent(ctx, sessionID, buildReplayPrompt(transcript, prompt), "")
	if err != nil {
		return nil, err
	}

	if err := m.store.SaveState(ctx, ConversationState{
		SessionID:              sessionID,
		Started:                true,
		ExternalConversationID: output.SessionID,
		RestorationMethod:      MethodReplay,
	}); err != nil {
		log.Printf(`{"level":"warn","message":"Failed to persist conversation state","session_id":"%s","error":"%v"}`, sessionID, err)
	}

	log.Printf(`{"level":"info","message":"Conversation replayed","session_id":"%s","new_external_id":"%s"}`, sessionID, output.SessionID)
	return &TurnResult{
		Response:               output.Result,
		RestorationMethod:      MethodReplay,
		ExternalConversationID: output.SessionID,
	}, nil
}

// probeResume sends a trivial continuation against the stored id. Any failure
// (exec error, non-zero exit, undecodable output) means the external
// conversation is gone.
func (m *Manager) probeResume(ctx context.Context, sessionID, externalID string) bool {
	command := m.agentCommand(resumeProbePrompt, externalID)
	result, err := m.executor.Execute(ctx, sessionID, command, sandbox.ExecOptions{Agent: true})
	if err != nil || result.ExitCode != 0 {
		return false
	}
	parsed := decode.Decode[agentOutput](result.Stdout)
	return parsed.OK() && !parsed.Value.IsError
}

// invokeAgent runs one agent command, optionally resuming an external
// conversation, and decodes its structured output.
func (m *Manager) invokeAgent(ctx context.Context, sessionID, prompt, resumeID string) (*agentOutput, error) {
	command := m.agentCommand(prompt, resumeID)
	result, err := m.executor.Execute(ctx, sessionID, command, sandbox.ExecOptions{Agent: true})
	if err != nil {
		return nil, fmt.Errorf("agent invocation failed: %w", err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("agent exited %d: %s", result.ExitCode, result.Stderr)
	}

	parsed := decode.Decode[agentOutput](result.Stdout)
	if !parsed.OK() {
		return nil, fmt.Errorf("agent output not decodable: %w", parsed.Err)
	}
	if parsed.Value.IsError {
		return nil, fmt.Errorf("agent reported error: %s", parsed.Value.Result)
	}
	return &parsed.Value, nil
}

// agentCommand builds the CLI invocation, always requesting structured output
// so the external conversation id can be captured.
func (m *Manager) agentCommand(prompt, resumeID string) string {
	var sb strings.Builder
	sb.WriteString(m.agentBin)
	if resumeID != "" {
		sb.WriteString(" --resume ")
		sb.WriteString(shellQuote(resumeID))
	}
	sb.WriteString(" --output-format json -p ")
	sb.WriteString(shellQuote(prompt))
	return sb.String()
}

// buildReplayPrompt primes a new conversation with the role-tagged transcript
// in chronological order, then appends the current request.
func buildReplayPrompt(transcript []TranscriptEntry, prompt string) string {
	var sb strings.Builder
	sb.WriteString("You are resuming work on an existing project. The conversation so far:\n\n")
	for _, entry := range transcript {
		sb.WriteString(fmt.Sprintf("[%s] %s\n", entry.Role, entry.Content))
	}
	sb.WriteString("\nContinue from that context. Current request:\n")
	sb.WriteString(prompt)
	return sb.String()
}

// shellQuote single-quotes a value for the sandbox shell
func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
