package notify

import (
	"fmt"

	"jobforge.io/notify/internal/event"
	"jobforge.io/notify/internal/model"
)

// Matches reports whether a registration should receive an event.
//
// A registration matches iff it is active, subscribes to the event type, and
// every defined filter dimension matches the corresponding event field.
// Filters fail closed: when a dimension is defined and the event lacks the
// field, the registration does not match.
func Matches(reg *model.WebhookRegistration, ev *event.Event) bool {
	if !reg.Active {
		return false
	}
	if !subscribed(reg, ev) {
		return false
	}

	f := reg.Filters
	if f.Empty() {
		return true
	}

	if len(f.JobTypes) > 0 {
		jobType := dataString(ev, "job_type")
		if jobType == "" || !containsString(f.JobTypes, jobType) {
			return false
		}
	}
	if len(f.Priorities) > 0 {
		if !ev.HasPriority || !containsInt(f.Priorities, ev.Priority) {
			return false
		}
	}
	if len(f.MachineIDs) > 0 {
		if ev.MachineID == "" || !containsString(f.MachineIDs, ev.MachineID) {
			return false
		}
	}
	if len(f.WorkerIDs) > 0 {
		if ev.WorkerID == "" || !containsString(f.WorkerIDs, ev.WorkerID) {
			return false
		}
	}

	return true
}

// subscribed reports whether the registration's events set covers the event
// type. system_stats doubles as a catch-all carrier: subscribing to it also
// delivers every workflow-level event.
func subscribed(reg *model.WebhookRegistration, ev *event.Event) bool {
	if reg.WantsEvent(string(ev.Type)) {
		return true
	}
	return ev.Type.WorkflowLevel() && reg.WantsEvent(string(event.TypeSystemStats))
}

func dataString(ev *event.Event, key string) string {
	raw, ok := ev.Data[key]
	if !ok || raw == nil {
		return ""
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprint(raw)
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsInt(haystack []int, needle int) bool {
	for _, n := range haystack {
		if n == needle {
			return true
		}
	}
	return false
}
