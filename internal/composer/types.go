// Package composer implements the phase-orchestration pipeline that turns a
// natural-language application request into generated source files: a
// conversational discovery loop, a planner, a codegen executor, a policy
// reviewer, and the bounded correction loop that ties codegen and review
// together.
package composer

import (
	"fmt"
)

// maxDescriptionLength caps spec description fields before storage
const maxDescriptionLength = 1000

// DefaultMaxRetries bounds the correction loop
const DefaultMaxRetries = 3

// ApplicationSpec is the mutable discovery document. Once Confirmed is true
// it is the frozen input to planning; no later phase regenerates it.
type ApplicationSpec struct {
	Description string `json:"description"`
	Domain      string `json:"domain,omitempty"`
	SchemaRef   string `json:"schemaRef,omitempty"`
	Confirmed   bool   `json:"confirmed"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
}

// ActionPlanStep is one planned file with a description of its purpose
type ActionPlanStep struct {
	FilePath    string `json:"filePath"`
	Description string `json:"description"`
}

// GeneratedFile is one file produced by the codegen executor
type GeneratedFile struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

// ReviewResult is the outcome of reviewing a single generated file against
// the review policy. Produced fresh on every reviewer invocation and never
// mutated.
type ReviewResult struct {
	FilePath string `json:"filePath"`
	Pass     bool   `json:"pass"`
	Feedback string `json:"feedback"`
}

// Plan is the planner's output: a classification of the request plus the
// ordered action plan.
type Plan struct {
	Classification string           `json:"classification"`
	Steps          []ActionPlanStep `json:"actionPlan"`
}

// PlanErrorKind distinguishes planner failure modes
type PlanErrorKind string

const (
	// PlanErrorDecode means the completion text carried no valid plan
	PlanErrorDecode PlanErrorKind = "decode_failure"
	// PlanErrorContract means the plan violated the step contract
	PlanErrorContract PlanErrorKind = "contract_violation"
)

// PlanError is a typed planning failure. The raw completion text travels in
// Raw for diagnostics instead of being disguised as a plan step.
type PlanError struct {
	Kind   PlanErrorKind
	Detail string
	Raw    string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("planning failed (%s): %s", e.Kind, e.Detail)
}

// RetryExhaustedError is the fatal outcome of the correction loop: the retry
// budget ran out with at least one file still failing review.
type RetryExhaustedError struct {
	Retries  int
	FilePath string
	Feedback string
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("review still failing after %d iterations: %s: %s", e.Retries, e.FilePath, e.Feedback)
}

// BuildOutput is the terminal payload of a successful correction loop run
type BuildOutput struct {
	Files        []GeneratedFile `json:"files"`
	Dependencies []string        `json:"dependencies"`
	Corrections  int             `json:"corrections"`
}

// truncate caps s at n bytes. Long description fields are truncated before
// being stored on the spec.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
