package model

import "time"

// WebhookFilters narrows which events a registration receives. All defined
// dimensions must match; an absent dimension imposes no constraint. When a
// dimension is defined and the event lacks the corresponding field, the
// filter fails closed.
type WebhookFilters struct {
	JobTypes   []string `json:"job_types,omitempty"`
	Priorities []int    `json:"priorities,omitempty"`
	MachineIDs []string `json:"machine_ids,omitempty"`
	WorkerIDs  []string `json:"worker_ids,omitempty"`
}

// Empty reports whether no filter dimension is defined.
func (f *WebhookFilters) Empty() bool {
	if f == nil {
		return true
	}
	return len(f.JobTypes) == 0 && len(f.Priorities) == 0 && len(f.MachineIDs) == 0 && len(f.WorkerIDs) == 0
}

// RetryConfig controls per-registration delivery retries.
type RetryConfig struct {
	MaxAttempts       int     `json:"max_attempts"`
	InitialDelayMs    int64   `json:"initial_delay_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
	MaxDelayMs        int64   `json:"max_delay_ms"`
}

// DefaultRetryConfig is applied to registrations created without an explicit
// retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelayMs:    1000,
		BackoffMultiplier: 2.0,
		MaxDelayMs:        30000,
	}
}

type WebhookRegistration struct {
	ID          string          `json:"id"`
	URL         string          `json:"url"`
	Events      []string        `json:"events"`
	Active      bool            `json:"active"`
	Secret      string          `json:"secret,omitempty"`
	Filters     *WebhookFilters `json:"filters,omitempty"`
	RetryConfig RetryConfig     `json:"retry_config"`
	CreatedAt   int64           `json:"created_at"` // ms epoch
	UpdatedAt   int64           `json:"updated_at"` // ms epoch
}

// WantsEvent reports whether the registration subscribes to the event type.
func (w *WebhookRegistration) WantsEvent(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// WebhookDeliveryAttempt records one HTTP try against a registration's URL.
// Attempts are append-only; they are never mutated after creation.
type WebhookDeliveryAttempt struct {
	WebhookID      string `json:"webhook_id"`
	EventID        string `json:"event_id"`
	EventType      string `json:"event_type"`
	AttemptNumber  int    `json:"attempt_number"` // 1-based
	Success        bool   `json:"success"`
	ResponseStatus int    `json:"response_status,omitempty"`
	ResponseBody   string `json:"response_body,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	Timestamp      int64  `json:"timestamp"` // ms epoch
}

// WebhookDeliveryStats aggregates attempt outcomes per registration.
type WebhookDeliveryStats struct {
	WebhookID            string `json:"webhook_id"`
	TotalDeliveries      int64  `json:"total_deliveries"`
	SuccessfulDeliveries int64  `json:"successful_deliveries"`
	FailedDeliveries     int64  `json:"failed_deliveries"`
	LastDeliveryAt       int64  `json:"last_delivery_at,omitempty"`
	LastSuccessAt        int64  `json:"last_success_at,omitempty"`
	LastFailureAt        int64  `json:"last_failure_at,omitempty"`
}

// TestReceiver is an ephemeral endpoint used to smoke-test webhook delivery.
// The receiver and its captured requests expire together after the TTL.
type TestReceiver struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// ReceivedRequest is one HTTP request captured by a test receiver.
type ReceivedRequest struct {
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	ReceivedAt int64             `json:"received_at"`
}

// NowMs returns the current time in milliseconds since the epoch, the unit
// all persisted timestamps use.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
