package store

import (
	"context"
	"errors"

	"jobforge.io/notify/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// History and log bounds. Lists are most-recent-first and trimmed on every
// append.
const (
	HistoryCap   = 100
	GlobalLogCap = 1000
)

// WebhookPatch carries the mutable fields of a registration update.
// Nil fields are left unchanged; the registration ID is immutable.
type WebhookPatch struct {
	URL         *string
	Events      *[]string
	Active      *bool
	Secret      *string
	Filters     *model.WebhookFilters
	RetryConfig *model.RetryConfig
}

// DeliveryStore persists webhook registrations, per-webhook delivery stats,
// and bounded delivery-attempt history.
type DeliveryStore interface {
	// Store upserts a registration and maintains the active-id index.
	Store(ctx context.Context, reg *model.WebhookRegistration) error
	// Get returns ErrNotFound when the registration does not exist.
	Get(ctx context.Context, id string) (*model.WebhookRegistration, error)
	// GetAll returns every registration, newest-first.
	GetAll(ctx context.Context) ([]model.WebhookRegistration, error)
	// GetActive returns only active registrations. The active-id index is
	// consulted first and each entry re-validated; stale index entries are
	// pruned as a side effect.
	GetActive(ctx context.Context) ([]model.WebhookRegistration, error)
	// Update merges patch fields and stamps updated_at.
	// Returns ErrNotFound when the registration does not exist.
	Update(ctx context.Context, id string, patch WebhookPatch) (*model.WebhookRegistration, error)
	// Delete removes the registration, its stats, and its history.
	// Returns false when nothing was deleted.
	Delete(ctx context.Context, id string) (bool, error)
	// RecordAttempt appends to the per-webhook history and the global log
	// and increments stats counters as a single unit of work.
	RecordAttempt(ctx context.Context, attempt model.WebhookDeliveryAttempt) error
	// GetStats returns ErrNotFound when the registration does not exist.
	GetStats(ctx context.Context, id string) (*model.WebhookDeliveryStats, error)
	// GetDeliveryHistory returns up to limit attempts, most-recent-first,
	// plus the total retained count.
	GetDeliveryHistory(ctx context.Context, id string, limit int) ([]model.WebhookDeliveryAttempt, int64, error)
	// GetRecentDeliveries returns attempts across all webhooks, newest-first.
	GetRecentDeliveries(ctx context.Context, limit int) ([]model.WebhookDeliveryAttempt, error)
	// CleanupOldData prunes attempts older than the cutoff. Best-effort.
	CleanupOldData(ctx context.Context, olderThanDays int) error
}

// ReceiverStore manages ephemeral test receivers used for webhook endpoint
// smoke-testing. Receivers and their captured requests expire together.
type ReceiverStore interface {
	CreateReceiver(ctx context.Context, baseURL string) (*model.TestReceiver, error)
	GetReceiver(ctx context.Context, id string) (*model.TestReceiver, error)
	AppendRequest(ctx context.Context, id string, req model.ReceivedRequest) error
	ListRequests(ctx context.Context, id string, limit int) ([]model.ReceivedRequest, error)
}
