package event

import (
	"fmt"

	"jobforge.io/notify/common/id"
)

// Type is the semantic type of a canonical event. Inbound transport messages
// do not carry a type field themselves; the channel name determines it.
type Type string

const (
	TypeJobSubmitted         Type = "job_submitted"
	TypeJobProgress          Type = "update_job_progress"
	TypeJobCompleted         Type = "complete_job"
	TypeJobFailed            Type = "job_failed"
	TypeJobCancelled         Type = "job_cancelled"
	TypeWorkerStatusChanged  Type = "worker_status_changed"
	TypeMachineStatusChanged Type = "machine_status_changed"
	TypeWorkflowSubmitted    Type = "workflow_submitted"
	TypeWorkflowCompleted    Type = "workflow_completed"
	TypeWorkflowFailed       Type = "workflow_failed"
	// TypeSystemStats is a catch-all carrier some registrations subscribe to
	// for workflow-level synthetic events.
	TypeSystemStats Type = "system_stats"
)

// WorkflowLevel reports whether the type describes a workflow-level
// transition. These are the events a system_stats subscription also carries.
func (t Type) WorkflowLevel() bool {
	switch t {
	case TypeWorkflowSubmitted, TypeWorkflowCompleted, TypeWorkflowFailed:
		return true
	}
	return false
}

// Event is the normalized envelope the tracker and notification engine
// operate on. Immutable once constructed; transient, never persisted except
// by reference to its ID inside delivery attempts.
type Event struct {
	ID          string
	Type        Type
	Timestamp   int64 // ms epoch
	JobID       string
	WorkerID    string
	MachineID   string
	WorkflowID  string
	StepNumber  int
	CurrentStep int
	TotalSteps  int
	Priority    int
	HasPriority bool

	// Data holds the full decoded payload, including event-specific fields
	// not promoted to typed members. Delivery bodies embed it verbatim.
	Data map[string]any
}

// NewID generates an event identifier. Synthetic events minted by the
// tracker use the same scheme as normalized transport events.
func NewID() string {
	return fmt.Sprintf("evt-%d", id.New())
}

// String returns a compact description for logging.
func (e *Event) String() string {
	return fmt.Sprintf("%s[%s]", e.Type, e.ID)
}
