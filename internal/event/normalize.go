package event

import (
	"encoding/json"
	"fmt"
	"strings"

	"jobforge.io/notify/internal/model"
)

// Transport channel names. The transport does not carry an event type field,
// so the channel a message arrives on determines its canonical type.
const (
	ChannelJobSubmitted      = "job_submitted"
	ChannelJobProgress       = "update_job_progress"
	ChannelJobCompleted      = "complete_job"
	ChannelJobFailed         = "job_failed"
	ChannelJobCancelled      = "cancel_job"
	ChannelWorkerStatus      = "worker_status"
	ChannelWorkflowSubmitted = "workflow_submitted"
	ChannelWorkflowCompleted = "workflow_completed"
	ChannelWorkflowFailed    = "workflow_failed"

	// MachineStatusPattern matches per-machine status channels,
	// e.g. machine:status:gpu-node-7.
	MachineStatusPattern = "machine:status:*"

	machineStatusPrefix = "machine:status:"
)

// Channels returns the fixed list of named channels the router subscribes to.
// The machine-status pattern is subscribed separately via PSUBSCRIBE.
func Channels() []string {
	return []string{
		ChannelJobSubmitted,
		ChannelJobProgress,
		ChannelJobCompleted,
		ChannelJobFailed,
		ChannelJobCancelled,
		ChannelWorkerStatus,
		ChannelWorkflowSubmitted,
		ChannelWorkflowCompleted,
		ChannelWorkflowFailed,
	}
}

// Normalize parses a raw transport message into a canonical event.
//
// Returns (nil, nil) for channels that map to no known event shape; callers
// count these as skipped. Returns an error for malformed JSON or payloads
// missing the fields their variant requires; callers count these as failed.
// Validation fails closed: an unknown shape is dropped, never guessed at.
func Normalize(channel, payload string) (*Event, error) {
	typ, machineID, ok := typeForChannel(channel)
	if !ok {
		return nil, nil
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, fmt.Errorf("parsing payload on %q: %w", channel, err)
	}

	ev := &Event{
		ID:        NewID(),
		Type:      typ,
		Timestamp: timestampField(data),
		Data:      data,
	}

	ev.JobID = stringField(data, "job_id")
	ev.WorkerID = stringField(data, "worker_id")
	ev.MachineID = stringField(data, "machine_id")
	ev.WorkflowID = stringField(data, "workflow_id")
	ev.StepNumber = intField(data, "step_number")
	ev.CurrentStep = intField(data, "current_step")
	ev.TotalSteps = intField(data, "total_steps")
	ev.Priority, ev.HasPriority = optionalIntField(data, "priority")

	// Per-machine channels carry the machine ID in the channel name; the
	// payload may omit it.
	if machineID != "" && ev.MachineID == "" {
		ev.MachineID = machineID
		data["machine_id"] = machineID
	}

	if err := validate(ev); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", typ, err)
	}

	return ev, nil
}

func typeForChannel(channel string) (typ Type, machineID string, ok bool) {
	switch channel {
	case ChannelJobSubmitted:
		return TypeJobSubmitted, "", true
	case ChannelJobProgress:
		return TypeJobProgress, "", true
	case ChannelJobCompleted:
		return TypeJobCompleted, "", true
	case ChannelJobFailed:
		return TypeJobFailed, "", true
	case ChannelJobCancelled:
		return TypeJobCancelled, "", true
	case ChannelWorkerStatus:
		return TypeWorkerStatusChanged, "", true
	case ChannelWorkflowSubmitted:
		return TypeWorkflowSubmitted, "", true
	case ChannelWorkflowCompleted:
		return TypeWorkflowCompleted, "", true
	case ChannelWorkflowFailed:
		return TypeWorkflowFailed, "", true
	}
	if rest, found := strings.CutPrefix(channel, machineStatusPrefix); found && rest != "" {
		return TypeMachineStatusChanged, rest, true
	}
	return "", "", false
}

// validate enforces per-variant required fields.
func validate(ev *Event) error {
	switch ev.Type {
	case TypeJobSubmitted, TypeJobProgress, TypeJobCompleted, TypeJobFailed, TypeJobCancelled:
		if ev.JobID == "" {
			return fmt.Errorf("missing job_id")
		}
	case TypeWorkerStatusChanged:
		if ev.WorkerID == "" {
			return fmt.Errorf("missing worker_id")
		}
	case TypeMachineStatusChanged:
		if ev.MachineID == "" {
			return fmt.Errorf("missing machine_id")
		}
	case TypeWorkflowSubmitted, TypeWorkflowCompleted, TypeWorkflowFailed:
		if ev.WorkflowID == "" {
			return fmt.Errorf("missing workflow_id")
		}
	}
	return nil
}

func stringField(data map[string]any, key string) string {
	raw, ok := data[key]
	if !ok || raw == nil {
		return ""
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprint(raw)
}

func intField(data map[string]any, key string) int {
	n, _ := optionalIntField(data, key)
	return n
}

func optionalIntField(data map[string]any, key string) (int, bool) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	}
	return 0, false
}

func timestampField(data map[string]any) int64 {
	if raw, ok := data["timestamp"]; ok {
		if f, ok := raw.(float64); ok && f > 0 {
			return int64(f)
		}
	}
	return model.NowMs()
}
