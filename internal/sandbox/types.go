package sandbox

import "time"

// SessionStatus is the lifecycle state of a build session
type SessionStatus string

const (
	StatusCreating   SessionStatus = "creating"
	StatusReady      SessionStatus = "ready"
	StatusError      SessionStatus = "error"
	StatusTerminated SessionStatus = "terminated"
)

// BuildSession is the live view of one remote execution environment. At most
// one exists per session id at any time.
type BuildSession struct {
	SessionID        string        `json:"session_id"`
	SandboxID        string        `json:"sandbox_id"`
	WorkingDirectory string        `json:"working_directory"`
	Status           SessionStatus `json:"status"`
	LastActivity     time.Time     `json:"last_activity"`
}

// Metadata travels with sandbox creation and ends up as provider labels
type Metadata struct {
	WorkspaceID string
	ProjectName string
}

// ExecResult is the outcome of one command execution inside a sandbox
type ExecResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// ExecOptions selects the timeout class for a command. Agent invocations are
// allowed to run much longer than ordinary shell commands.
type ExecOptions struct {
	Agent   bool
	WorkDir string
}
