package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"jobforge.io/notify/common/logger"
	"jobforge.io/notify/core/config"
	"jobforge.io/notify/internal/event"
	"jobforge.io/notify/internal/model"
)

// StepDetail describes the terminal state of one workflow step, embedded in
// synthetic completion events.
type StepDetail struct {
	StepNumber int    `json:"step_number"`
	JobID      string `json:"job_id"`
	Completed  bool   `json:"completed"`
	Failed     bool   `json:"failed"`
	Error      string `json:"error,omitempty"`
}

// workflowState is one in-flight workflow, keyed by workflow ID. A step is
// never simultaneously completed and failed; a later event for the same step
// overrides the earlier classification.
type workflowState struct {
	steps          map[int]string // step number -> job id, last writer wins
	completedSteps map[int]struct{}
	failedSteps    map[int]struct{}
	stepErrors     map[int]string // retained only for currently-failed steps
	totalSteps     int            // 0 until known; set once, never overwritten
	currentStep    int            // high-water mark of observed step numbers
	startTime      time.Time
	lastUpdate     time.Time
}

// Tracker converts a sequence of per-step job events, arbitrarily interleaved
// across concurrently running workflows, into at most one workflow_submitted
// and at most one workflow_completed-or-failed synthetic event per workflow.
//
// It holds no durable state: a process restart loses in-flight progress, and
// workflows straddling a restart never complete-notify from here.
type Tracker struct {
	cfg config.TrackerConfig

	mu        sync.Mutex
	workflows map[string]*workflowState
	skipped   int64

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(cfg config.TrackerConfig) *Tracker {
	return &Tracker{
		cfg:       cfg,
		workflows: make(map[string]*workflowState),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Track ingests one canonical event and returns any synthetic workflow-level
// events it triggered. Events without workflow and job correlation are
// counted as skipped and dropped; they never error.
//
// In passthrough mode the tracker is inert: the platform's own
// workflow_completed / workflow_failed channels are authoritative and flow
// through the router untouched.
func (t *Tracker) Track(ev *event.Event) []*event.Event {
	if t.cfg.Mode == config.TrackerModePassthrough {
		return nil
	}
	if ev.WorkflowID == "" || ev.JobID == "" {
		t.mu.Lock()
		t.skipped++
		t.mu.Unlock()
		return nil
	}

	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.workflows[ev.WorkflowID]
	if !ok {
		state = &workflowState{
			steps:          make(map[int]string),
			completedSteps: make(map[int]struct{}),
			failedSteps:    make(map[int]struct{}),
			stepErrors:     make(map[int]string),
			startTime:      now,
		}
		t.workflows[ev.WorkflowID] = state
	}
	state.lastUpdate = now

	if ev.TotalSteps > 0 && state.totalSteps == 0 {
		state.totalSteps = ev.TotalSteps
	}

	stepNumber := ev.CurrentStep
	if stepNumber == 0 {
		stepNumber = ev.StepNumber
	}
	if stepNumber == 0 {
		stepNumber = 1
	}
	if stepNumber > state.currentStep {
		state.currentStep = stepNumber
	}
	state.steps[stepNumber] = ev.JobID

	var synthetic []*event.Event

	// First sight of step 1 with nothing else recorded signals workflow
	// submission. This is a heuristic, not a dedup flag: a workflow whose
	// first message is a progress update never gets a submitted signal.
	if ev.Type == event.TypeJobSubmitted && stepNumber == 1 && len(state.steps) == 1 {
		synthetic = append(synthetic, t.submittedEvent(ev, state))
	}

	switch ev.Type {
	case event.TypeJobCompleted:
		if _, done := state.completedSteps[stepNumber]; !done {
			state.completedSteps[stepNumber] = struct{}{}
			delete(state.failedSteps, stepNumber)
			delete(state.stepErrors, stepNumber)
		}
	case event.TypeJobFailed:
		if _, failed := state.failedSteps[stepNumber]; !failed {
			state.failedSteps[stepNumber] = struct{}{}
			delete(state.completedSteps, stepNumber)
			if msg := errorMessage(ev); msg != "" {
				state.stepErrors[stepNumber] = msg
			}
		}
	}

	if state.totalSteps > 0 && len(state.completedSteps)+len(state.failedSteps) == state.totalSteps {
		synthetic = append(synthetic, t.completionEvent(ev.WorkflowID, state, now))
		delete(t.workflows, ev.WorkflowID)
	}

	return synthetic
}

func (t *Tracker) submittedEvent(trigger *event.Event, state *workflowState) *event.Event {
	data := map[string]any{
		"workflow_id":  trigger.WorkflowID,
		"first_job_id": trigger.JobID,
	}
	if state.totalSteps > 0 {
		data["total_steps"] = state.totalSteps
	}
	for _, key := range []string{"priority", "datetime", "customer_id", "service_required"} {
		if v, ok := trigger.Data[key]; ok {
			data[key] = v
		}
	}

	ev := &event.Event{
		ID:         event.NewID(),
		Type:       event.TypeWorkflowSubmitted,
		Timestamp:  model.NowMs(),
		WorkflowID: trigger.WorkflowID,
		JobID:      trigger.JobID,
		TotalSteps: state.totalSteps,
		Data:       data,
	}
	ev.Priority, ev.HasPriority = trigger.Priority, trigger.HasPriority
	return ev
}

func (t *Tracker) completionEvent(workflowID string, state *workflowState, now time.Time) *event.Event {
	details := make([]StepDetail, 0, len(state.steps))
	for step, jobID := range state.steps {
		_, completed := state.completedSteps[step]
		_, failed := state.failedSteps[step]
		details = append(details, StepDetail{
			StepNumber: step,
			JobID:      jobID,
			Completed:  completed,
			Failed:     failed,
			Error:      state.stepErrors[step],
		})
	}

	typ := event.TypeWorkflowCompleted
	if len(state.failedSteps) > 0 {
		typ = event.TypeWorkflowFailed
	}

	data := map[string]any{
		"workflow_id":     workflowID,
		"total_steps":     state.totalSteps,
		"completed_steps": len(state.completedSteps),
		"failed_steps":    len(state.failedSteps),
		"step_details":    details,
		"duration_ms":     now.Sub(state.startTime).Milliseconds(),
	}

	return &event.Event{
		ID:         event.NewID(),
		Type:       typ,
		Timestamp:  model.NowMs(),
		WorkflowID: workflowID,
		TotalSteps: state.totalSteps,
		Data:       data,
	}
}

func errorMessage(ev *event.Event) string {
	for _, key := range []string{"error", "error_message"} {
		if v, ok := ev.Data[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// Stats reports the number of in-flight workflows and events skipped for
// missing correlation fields.
func (t *Tracker) Stats() (tracked int, skipped int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.workflows), t.skipped
}

// Run starts the staleness sweep loop. Entries idle longer than the
// configured threshold are removed without firing a synthetic event.
// Blocks until Stop() is called or the context is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "notify.tracker.sweeper"})

	defer close(t.stoppedCh)

	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "staleness sweeper started",
		"interval", t.cfg.SweepInterval,
		"threshold", t.cfg.StaleThreshold)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			slog.InfoContext(ctx, "staleness sweeper stopping")
			return
		case <-ticker.C:
			if removed := t.sweepOnce(); removed > 0 {
				slog.InfoContext(ctx, "swept stale workflows", "count", removed)
			}
		}
	}
}

// Stop signals the sweeper to stop gracefully.
func (t *Tracker) Stop() {
	close(t.stopCh)
	<-t.stoppedCh
}

func (t *Tracker) sweepOnce() int {
	cutoff := time.Now().Add(-t.cfg.StaleThreshold)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, state := range t.workflows {
		if state.lastUpdate.Before(cutoff) {
			delete(t.workflows, id)
			removed++
		}
	}
	return removed
}
