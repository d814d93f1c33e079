package router

import (
	"context"
	"log/slog"
	"sync/atomic"

	"jobforge.io/notify/common/logger"
	"jobforge.io/notify/internal/event"
)

// Tracker consumes canonical events and may synthesize workflow-level ones.
type Tracker interface {
	Track(ev *event.Event) []*event.Event
}

// Dispatcher delivers a canonical event to matching registrations.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *event.Event)
}

// Stats counts router outcomes since startup.
type Stats struct {
	Processed int64
	Skipped   int64
	Failed    int64
}

// EventRouter normalizes inbound transport messages and dispatches the
// result: tracker first, then the notification engine receives the original
// event and, separately, each synthetic event the tracker produced.
//
// Messages are processed one at a time in transport order; the engine's
// deliveries are asynchronous, so a slow webhook never backs up the router.
type EventRouter struct {
	tracker Tracker
	engine  Dispatcher

	processed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

func New(tracker Tracker, engine Dispatcher) *EventRouter {
	return &EventRouter{tracker: tracker, engine: engine}
}

// Handle processes one inbound transport message. A malformed or unknown
// message is counted and dropped; it never propagates an error or panic to
// the subscription loop.
func (r *EventRouter) Handle(ctx context.Context, channel, payload string) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "notify.router"})

	defer func() {
		if rec := recover(); rec != nil {
			r.failed.Add(1)
			slog.ErrorContext(ctx, "panic recovered in event processing", "panic", rec, "channel", channel)
		}
	}()

	ev, err := event.Normalize(channel, payload)
	if err != nil {
		r.failed.Add(1)
		slog.WarnContext(ctx, "dropping malformed message",
			"channel", channel,
			"error", err,
			"payload", logger.Truncate(payload, 200))
		return
	}
	if ev == nil {
		r.skipped.Add(1)
		slog.DebugContext(ctx, "skipping message on unknown channel", "channel", channel)
		return
	}
	r.processed.Add(1)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventID:   logger.Ptr(ev.ID),
		EventType: logger.Ptr(string(ev.Type)),
	})

	synthetic := r.tracker.Track(ev)

	r.engine.Dispatch(ctx, ev)
	for _, sev := range synthetic {
		slog.InfoContext(ctx, "dispatching synthetic workflow event",
			"synthetic_type", string(sev.Type),
			"workflow_id", sev.WorkflowID)
		r.engine.Dispatch(ctx, sev)
	}
}

func (r *EventRouter) Stats() Stats {
	return Stats{
		Processed: r.processed.Load(),
		Skipped:   r.skipped.Load(),
		Failed:    r.failed.Load(),
	}
}
