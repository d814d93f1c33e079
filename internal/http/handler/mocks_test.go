package handler_test

import (
	"context"

	"jobforge.io/notify/internal/model"
	"jobforge.io/notify/internal/store"
)

type mockDeliveryStore struct {
	storeFn              func(ctx context.Context, reg *model.WebhookRegistration) error
	getFn                func(ctx context.Context, id string) (*model.WebhookRegistration, error)
	getAllFn             func(ctx context.Context) ([]model.WebhookRegistration, error)
	getActiveFn          func(ctx context.Context) ([]model.WebhookRegistration, error)
	updateFn             func(ctx context.Context, id string, patch store.WebhookPatch) (*model.WebhookRegistration, error)
	deleteFn             func(ctx context.Context, id string) (bool, error)
	recordAttemptFn      func(ctx context.Context, attempt model.WebhookDeliveryAttempt) error
	getStatsFn           func(ctx context.Context, id string) (*model.WebhookDeliveryStats, error)
	getDeliveryHistoryFn func(ctx context.Context, id string, limit int) ([]model.WebhookDeliveryAttempt, int64, error)
	getRecentFn          func(ctx context.Context, limit int) ([]model.WebhookDeliveryAttempt, error)
	cleanupFn            func(ctx context.Context, olderThanDays int) error
}

func (m *mockDeliveryStore) Store(ctx context.Context, reg *model.WebhookRegistration) error {
	if m.storeFn != nil {
		return m.storeFn(ctx, reg)
	}
	return nil
}

func (m *mockDeliveryStore) Get(ctx context.Context, id string) (*model.WebhookRegistration, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockDeliveryStore) GetAll(ctx context.Context) ([]model.WebhookRegistration, error) {
	if m.getAllFn != nil {
		return m.getAllFn(ctx)
	}
	return nil, nil
}

func (m *mockDeliveryStore) GetActive(ctx context.Context) ([]model.WebhookRegistration, error) {
	if m.getActiveFn != nil {
		return m.getActiveFn(ctx)
	}
	return nil, nil
}

func (m *mockDeliveryStore) Update(ctx context.Context, id string, patch store.WebhookPatch) (*model.WebhookRegistration, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, patch)
	}
	return nil, store.ErrNotFound
}

func (m *mockDeliveryStore) Delete(ctx context.Context, id string) (bool, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return false, nil
}

func (m *mockDeliveryStore) RecordAttempt(ctx context.Context, attempt model.WebhookDeliveryAttempt) error {
	if m.recordAttemptFn != nil {
		return m.recordAttemptFn(ctx, attempt)
	}
	return nil
}

func (m *mockDeliveryStore) GetStats(ctx context.Context, id string) (*model.WebhookDeliveryStats, error) {
	if m.getStatsFn != nil {
		return m.getStatsFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockDeliveryStore) GetDeliveryHistory(ctx context.Context, id string, limit int) ([]model.WebhookDeliveryAttempt, int64, error) {
	if m.getDeliveryHistoryFn != nil {
		return m.getDeliveryHistoryFn(ctx, id, limit)
	}
	return nil, 0, nil
}

func (m *mockDeliveryStore) GetRecentDeliveries(ctx context.Context, limit int) ([]model.WebhookDeliveryAttempt, error) {
	if m.getRecentFn != nil {
		return m.getRecentFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockDeliveryStore) CleanupOldData(ctx context.Context, olderThanDays int) error {
	if m.cleanupFn != nil {
		return m.cleanupFn(ctx, olderThanDays)
	}
	return nil
}

type mockReceiverStore struct {
	createReceiverFn func(ctx context.Context, baseURL string) (*model.TestReceiver, error)
	getReceiverFn    func(ctx context.Context, id string) (*model.TestReceiver, error)
	appendRequestFn  func(ctx context.Context, id string, req model.ReceivedRequest) error
	listRequestsFn   func(ctx context.Context, id string, limit int) ([]model.ReceivedRequest, error)
}

func (m *mockReceiverStore) CreateReceiver(ctx context.Context, baseURL string) (*model.TestReceiver, error) {
	if m.createReceiverFn != nil {
		return m.createReceiverFn(ctx, baseURL)
	}
	return nil, nil
}

func (m *mockReceiverStore) GetReceiver(ctx context.Context, id string) (*model.TestReceiver, error) {
	if m.getReceiverFn != nil {
		return m.getReceiverFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockReceiverStore) AppendRequest(ctx context.Context, id string, req model.ReceivedRequest) error {
	if m.appendRequestFn != nil {
		return m.appendRequestFn(ctx, id, req)
	}
	return nil
}

func (m *mockReceiverStore) ListRequests(ctx context.Context, id string, limit int) ([]model.ReceivedRequest, error) {
	if m.listRequestsFn != nil {
		return m.listRequestsFn(ctx, id, limit)
	}
	return nil, nil
}
