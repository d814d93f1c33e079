package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"jobforge.io/notify/internal/model"
)

// ReceiverTTL bounds the lifetime of a test receiver and everything it
// captured.
const ReceiverTTL = 24 * time.Hour

// receiverRequestCap bounds the number of requests retained per receiver.
const receiverRequestCap = 100

func receiverKey(id string) string         { return "webhooks:test-receiver:" + id }
func receiverRequestsKey(id string) string { return "webhooks:test-receiver:requests:" + id }

// RedisReceiverStore implements ReceiverStore with TTL-bound Redis keys, so
// expired receivers vanish without any sweeper.
type RedisReceiverStore struct {
	client *redis.Client
}

func NewRedisReceiverStore(client *redis.Client) *RedisReceiverStore {
	return &RedisReceiverStore{client: client}
}

func (s *RedisReceiverStore) CreateReceiver(ctx context.Context, baseURL string) (*model.TestReceiver, error) {
	now := model.NowMs()
	id := uuid.NewString()
	receiver := &model.TestReceiver{
		ID:        id,
		URL:       strings.TrimSuffix(baseURL, "/") + "/test-receivers/" + id + "/receive",
		CreatedAt: now,
		ExpiresAt: now + ReceiverTTL.Milliseconds(),
	}

	data, err := json.Marshal(receiver)
	if err != nil {
		return nil, fmt.Errorf("marshaling receiver: %w", err)
	}
	if err := s.client.Set(ctx, receiverKey(id), data, ReceiverTTL).Err(); err != nil {
		return nil, fmt.Errorf("storing receiver: %w", err)
	}
	return receiver, nil
}

func (s *RedisReceiverStore) GetReceiver(ctx context.Context, id string) (*model.TestReceiver, error) {
	data, err := s.client.Get(ctx, receiverKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching receiver %s: %w", id, err)
	}

	var receiver model.TestReceiver
	if err := json.Unmarshal([]byte(data), &receiver); err != nil {
		return nil, fmt.Errorf("unmarshaling receiver %s: %w", id, err)
	}
	return &receiver, nil
}

func (s *RedisReceiverStore) AppendRequest(ctx context.Context, id string, req model.ReceivedRequest) error {
	if _, err := s.GetReceiver(ctx, id); err != nil {
		return err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	rkey := receiverRequestsKey(id)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, rkey, data)
		pipe.LTrim(ctx, rkey, 0, receiverRequestCap-1)
		// Request records must not outlive the receiver itself.
		pipe.Expire(ctx, rkey, ReceiverTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("appending request for receiver %s: %w", id, err)
	}
	return nil
}

func (s *RedisReceiverStore) ListRequests(ctx context.Context, id string, limit int) ([]model.ReceivedRequest, error) {
	if _, err := s.GetReceiver(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > receiverRequestCap {
		limit = receiverRequestCap
	}

	values, err := s.client.LRange(ctx, receiverRequestsKey(id), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("fetching requests for receiver %s: %w", id, err)
	}

	requests := make([]model.ReceivedRequest, 0, len(values))
	for _, raw := range values {
		var req model.ReceivedRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			continue
		}
		requests = append(requests, req)
	}
	return requests, nil
}
