package continuity

import "time"

// RestorationMethod records how the agent conversation context for a turn was
// obtained.
type RestorationMethod string

const (
	// MethodNone is a fresh conversation with no prior context.
	MethodNone RestorationMethod = "none"
	// MethodResume continued the stored external conversation by id.
	MethodResume RestorationMethod = "resume"
	// MethodReplay reconstructed context by replaying the transcript into a
	// new external conversation.
	MethodReplay RestorationMethod = "replay"
)

// ConversationState is the persisted continuity record for a session. It
// survives process restarts alongside the session's sandbox identity.
type ConversationState struct {
	SessionID              string            `json:"session_id"`
	Started                bool              `json:"started"`
	ExternalConversationID string            `json:"external_conversation_id"`
	RestorationMethod      RestorationMethod `json:"restoration_method"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// TranscriptEntry is one role-tagged message in a session's transcript,
// stored in chronological order for replay.
type TranscriptEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnResult is the outcome of one agent turn
type TurnResult struct {
	Response               string            `json:"response"`
	RestorationMethod      RestorationMethod `json:"restoration_method"`
	ExternalConversationID string            `json:"external_conversation_id"`
}
