package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"jobforge.io/notify/common/logger"
	"jobforge.io/notify/core/config"
	"jobforge.io/notify/internal/event"
	"jobforge.io/notify/internal/model"
	"jobforge.io/notify/internal/store"
)

// DeliveryResult summarizes a finished delivery sequence for one
// registration and one event.
type DeliveryResult struct {
	WebhookID  string
	EventID    string
	EventType  string
	Attempts   int
	Success    bool
	LastStatus int
	LastError  string
}

// payload is the wire envelope POSTed to webhook URLs.
type payload struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	EventData map[string]any `json:"event_data"`
	Timestamp int64          `json:"timestamp"`
}

// Engine matches canonical events against active registrations and performs
// HTTP deliveries with per-registration retry and backoff.
//
// Deliveries for different registrations run independently; a slow or
// failing webhook never blocks delivery to others, nor blocks dispatch of
// subsequent events. Retry delays are timer-based, never a blocking sleep,
// and are cancelled by Shutdown.
type Engine struct {
	store  store.DeliveryStore
	client *http.Client
	cfg    config.DeliveryConfig

	mu          sync.RWMutex
	onDelivered []func(DeliveryResult)
	onFailed    []func(DeliveryResult)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an Engine. A nil client gets a default one; the
// per-attempt timeout always comes from cfg.
func NewEngine(deliveries store.DeliveryStore, client *http.Client, cfg config.DeliveryConfig) *Engine {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:  deliveries,
		client: client,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnDelivered registers a callback fired once per eventually-successful
// delivery sequence. Register before dispatching.
func (e *Engine) OnDelivered(fn func(DeliveryResult)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDelivered = append(e.onDelivered, fn)
}

// OnFailed registers a callback fired once per delivery sequence that
// exhausts its retries.
func (e *Engine) OnFailed(fn func(DeliveryResult)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFailed = append(e.onFailed, fn)
}

// Dispatch matches the event against the active registrations and launches
// one independent delivery sequence per match. It never blocks on delivery
// I/O and never returns an error: a storage failure here degrades to "no
// registrations matched".
func (e *Engine) Dispatch(ctx context.Context, ev *event.Event) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "notify.engine",
		EventID:   logger.Ptr(ev.ID),
		EventType: logger.Ptr(string(ev.Type)),
	})

	regs, err := e.store.GetActive(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load active registrations, skipping dispatch", "error", err)
		return
	}

	matched := 0
	for i := range regs {
		reg := regs[i]
		if !Matches(&reg, ev) {
			continue
		}
		matched++
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.deliver(&reg, ev)
		}()
	}

	if matched > 0 {
		slog.DebugContext(ctx, "event dispatched", "matched", matched)
	}
}

// Shutdown cancels pending retries and waits for in-flight attempts, up to
// the context deadline.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight deliveries: %w", ctx.Err())
	}
}

// deliver runs one delivery sequence: attempt, then retry with backoff until
// success, exhaustion, or engine shutdown. Every attempt is recorded;
// recording failures are swallowed so a lost history entry never interrupts
// the sequence.
func (e *Engine) deliver(reg *model.WebhookRegistration, ev *event.Event) {
	ctx := logger.WithLogFields(e.ctx, logger.LogFields{
		Component: "notify.engine",
		WebhookID: logger.Ptr(reg.ID),
		EventID:   logger.Ptr(ev.ID),
		EventType: logger.Ptr(string(ev.Type)),
	})

	body, err := json.Marshal(payload{
		EventID:   ev.ID,
		EventType: string(ev.Type),
		EventData: ev.Data,
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode delivery payload", "error", err)
		return
	}

	maxAttempts := reg.RetryConfig.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	result := DeliveryResult{
		WebhookID: reg.ID,
		EventID:   ev.ID,
		EventType: string(ev.Type),
	}

	for attemptNumber := 1; ; attemptNumber++ {
		result.Attempts = attemptNumber

		attempt := e.attempt(ctx, reg, ev, body, attemptNumber)
		result.Success = attempt.Success
		result.LastStatus = attempt.ResponseStatus
		result.LastError = attempt.ErrorMessage

		if err := e.store.RecordAttempt(ctx, attempt); err != nil {
			slog.WarnContext(ctx, "failed to record delivery attempt", "error", err, "attempt", attemptNumber)
		}

		if attempt.Success {
			slog.InfoContext(ctx, "webhook delivered", "attempt", attemptNumber, "status", attempt.ResponseStatus)
			e.fire(e.snapshotDelivered(), result)
			return
		}

		if attemptNumber >= maxAttempts {
			slog.WarnContext(ctx, "webhook delivery exhausted",
				"attempts", attemptNumber,
				"last_status", attempt.ResponseStatus,
				"last_error", attempt.ErrorMessage)
			e.fire(e.snapshotFailed(), result)
			return
		}

		delay := RetryDelay(reg.RetryConfig, attemptNumber)
		slog.DebugContext(ctx, "scheduling delivery retry", "attempt", attemptNumber, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// attempt performs one HTTP POST with the configured timeout and returns the
// attempt record. Any transport error or non-2xx status is a failure.
func (e *Engine) attempt(ctx context.Context, reg *model.WebhookRegistration, ev *event.Event, body []byte, attemptNumber int) model.WebhookDeliveryAttempt {
	sc := logger.StartSpan(ctx, "notify.deliver",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("webhook.id", reg.ID),
			attribute.String("event.id", ev.ID),
			attribute.String("event.type", string(ev.Type)),
			attribute.Int("delivery.attempt", attemptNumber),
		))
	defer sc.End()
	ctx = sc.Context()

	attempt := model.WebhookDeliveryAttempt{
		WebhookID:     reg.ID,
		EventID:       ev.ID,
		EventType:     string(ev.Type),
		AttemptNumber: attemptNumber,
		Timestamp:     model.NowMs(),
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, reg.URL, bytes.NewReader(body))
	if err != nil {
		attempt.ErrorMessage = err.Error()
		sc.RecordError(err)
		return attempt
	}
	req.Header.Set("Content-Type", "application/json")
	if reg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(reg.Secret, body))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		attempt.ErrorMessage = err.Error()
		sc.RecordError(err)
		return attempt
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, int64(e.cfg.MaxResponseBytes)))
	attempt.ResponseStatus = resp.StatusCode
	attempt.ResponseBody = string(respBody)
	sc.Span().SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		attempt.Success = true
	} else {
		attempt.ErrorMessage = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return attempt
}

func (e *Engine) snapshotDelivered() []func(DeliveryResult) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.onDelivered
}

func (e *Engine) snapshotFailed() []func(DeliveryResult) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.onFailed
}

func (e *Engine) fire(callbacks []func(DeliveryResult), result DeliveryResult) {
	for _, fn := range callbacks {
		fn(result)
	}
}

// RetryDelay returns the backoff delay before the retry following the given
// 1-based attempt number: min(initial * multiplier^(n-1), max). Delays are
// non-decreasing and capped.
func RetryDelay(cfg model.RetryConfig, attemptNumber int) time.Duration {
	initial := cfg.InitialDelayMs
	if initial <= 0 {
		initial = 1000
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delayMs := float64(initial) * math.Pow(multiplier, float64(attemptNumber-1))
	if cfg.MaxDelayMs > 0 && delayMs > float64(cfg.MaxDelayMs) {
		delayMs = float64(cfg.MaxDelayMs)
	}
	return time.Duration(delayMs) * time.Millisecond
}
