package models

import (
	"time"
)

// BuildPhase identifies a stage of the compose pipeline in progress events
type BuildPhase string

const (
	PhasePlan      BuildPhase = "plan"
	PhaseCodegen   BuildPhase = "codegen"
	PhaseReview    BuildPhase = "review"
	PhaseTestGen   BuildPhase = "testgen"
	PhaseScaffold  BuildPhase = "scaffold"
	PhaseSandbox   BuildPhase = "sandbox"
	PhaseCompleted BuildPhase = "completed"
	PhaseError     BuildPhase = "error"
)

// BuildStatus is the terminal or in-flight status carried by a progress event
type BuildStatus string

const (
	StatusInProgress BuildStatus = "in_progress"
	StatusCompleted  BuildStatus = "completed"
	StatusFailed     BuildStatus = "failed"
)

// ProgressEvent is pushed to the external progress listener and broadcast to
// WebSocket subscribers as a build advances through its phases.
type ProgressEvent struct {
	ConversationID string      `json:"conversation_id"`
	Phase          BuildPhase  `json:"phase"`
	Percent        int         `json:"percent"`
	Message        string      `json:"message"`
	Status         BuildStatus `json:"status"`
	Timestamp      time.Time   `json:"timestamp"`
}
