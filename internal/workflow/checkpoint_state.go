package workflow

import "time"

// CheckpointKind tags the four states a sequential run's checkpoint may be in.
type CheckpointKind string

const (
	CheckpointBeforeStep  CheckpointKind = "BeforeStep"
	CheckpointCompleted   CheckpointKind = "Completed"
	CheckpointFailed      CheckpointKind = "Failed"
	CheckpointInterrupted CheckpointKind = "Interrupted"
)

// CheckpointState is the tagged-union state of a WorkflowCheckpoint. Only the
// fields relevant to Kind are meaningful; others are zero.
type CheckpointState struct {
	Kind      CheckpointKind `json:"kind"`
	StepIndex int            `json:"step_index"`

	// Completed
	Output *string `json:"output,omitempty"`

	// Failed
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`

	// Interrupted
	InProgress bool `json:"in_progress,omitempty"`
}

// CompletedStepRecord records one committed step for history/skip purposes.
type CompletedStepRecord struct {
	StepIndex       int               `json:"step_index"`
	Summary         string            `json:"summary"`
	CapturedOutputs map[string]any    `json:"captured_outputs,omitempty"`
}

// WorkflowCheckpoint is the full persisted snapshot of a sequential run.
type WorkflowCheckpoint struct {
	SchemaVersion  uint32                 `json:"schema_version"`
	SessionID      string                 `json:"session_id"`
	WorkflowPath   string                 `json:"workflow_path"`
	CreatedAt      time.Time              `json:"created_at"`
	State          CheckpointState        `json:"state"`
	CompletedSteps []CompletedStepRecord  `json:"completed_steps"`
	Variables      map[string]any         `json:"variables"`
}
