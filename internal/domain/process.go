package domain

import "time"

// ExecutionProcessStatus represents the lifecycle state of an execution process.
// A process transitions from running to exactly one terminal status and is
// never resurrected.
type ExecutionProcessStatus string

const (
	ProcessStatusRunning   ExecutionProcessStatus = "running"
	ProcessStatusCompleted ExecutionProcessStatus = "completed"
	ProcessStatusFailed    ExecutionProcessStatus = "failed"
	ProcessStatusKilled    ExecutionProcessStatus = "killed"
)

// Terminal reports whether the status is a terminal state.
func (s ExecutionProcessStatus) Terminal() bool {
	return s != ProcessStatusRunning
}

// ExecutorActionKind tags the descriptor of what an execution process runs.
type ExecutorActionKind string

const (
	ActionCodingAgentInitial  ExecutorActionKind = "coding_agent_initial"
	ActionCodingAgentFollowUp ExecutorActionKind = "coding_agent_follow_up"
	ActionScript              ExecutorActionKind = "script"
	ActionDevServer           ExecutorActionKind = "dev_server"
)

// CodingAgent reports whether the kind is an agent turn (initial or follow-up).
func (k ExecutorActionKind) CodingAgent() bool {
	return k == ActionCodingAgentInitial || k == ActionCodingAgentFollowUp
}

// ScriptContext identifies where a script process runs in the attempt lifecycle.
type ScriptContext string

const (
	ScriptContextSetup   ScriptContext = "setup_script"
	ScriptContextCleanup ScriptContext = "cleanup_script"
	ScriptContextDev     ScriptContext = "dev_server"
)

// ScriptAction holds the payload of a script execution request.
type ScriptAction struct {
	Context ScriptContext `json:"context"`
	Script  string        `json:"script"`
}

// ExecutorAction describes what an execution process was asked to do.
// Prompt is set for coding-agent kinds; Script for the script kind.
type ExecutorAction struct {
	Kind   ExecutorActionKind `json:"kind"`
	Prompt string             `json:"prompt,omitempty"`
	Script *ScriptAction      `json:"script,omitempty"`
}

// ExecutionProcess is one discrete run (agent turn or script) belonging to an
// attempt. Owned by the ProcessRegistry; the aggregator holds read-only
// references plus its own derived entry cache.
type ExecutionProcess struct {
	ID             string                 `json:"id"`
	AttemptID      string                 `json:"task_attempt_id,omitempty"`
	Status         ExecutionProcessStatus `json:"status"`
	ExitCode       *int64                 `json:"exit_code,omitempty"`
	ExecutorAction ExecutorAction         `json:"executor_action"`
	CreatedAt      time.Time              `json:"created_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
}
