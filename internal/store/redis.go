package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"jobforge.io/notify/common/logger"
	"jobforge.io/notify/internal/model"
)

const (
	keyWebhookIDs = "webhooks:ids"
	keyActiveIDs  = "webhooks:active"
	keyGlobalLog  = "webhooks:deliveries"

	statsFieldTotal          = "total_deliveries"
	statsFieldSuccess        = "successful_deliveries"
	statsFieldFailed         = "failed_deliveries"
	statsFieldLastDeliveryAt = "last_delivery_at"
	statsFieldLastSuccessAt  = "last_success_at"
	statsFieldLastFailureAt  = "last_failure_at"
)

func regKey(id string) string     { return "webhooks:registration:" + id }
func statsKey(id string) string   { return "webhooks:stats:" + id }
func historyKey(id string) string { return "webhooks:history:" + id }

// RedisDeliveryStore implements DeliveryStore on top of Redis: registrations
// as JSON strings, id indexes as sets, stats as hashes with atomic
// increments, and history as bounded lists (LPUSH + LTRIM).
type RedisDeliveryStore struct {
	client *redis.Client
}

func NewRedisDeliveryStore(client *redis.Client) *RedisDeliveryStore {
	return &RedisDeliveryStore{client: client}
}

func (s *RedisDeliveryStore) Store(ctx context.Context, reg *model.WebhookRegistration) error {
	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshaling registration: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, regKey(reg.ID), data, 0)
		pipe.SAdd(ctx, keyWebhookIDs, reg.ID)
		if reg.Active {
			pipe.SAdd(ctx, keyActiveIDs, reg.ID)
		} else {
			pipe.SRem(ctx, keyActiveIDs, reg.ID)
		}
		// Stats start at zero on first store; increments happen per attempt.
		pipe.HSetNX(ctx, statsKey(reg.ID), statsFieldTotal, 0)
		pipe.HSetNX(ctx, statsKey(reg.ID), statsFieldSuccess, 0)
		pipe.HSetNX(ctx, statsKey(reg.ID), statsFieldFailed, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing registration %s: %w", reg.ID, err)
	}
	return nil
}

func (s *RedisDeliveryStore) Get(ctx context.Context, id string) (*model.WebhookRegistration, error) {
	data, err := s.client.Get(ctx, regKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching registration %s: %w", id, err)
	}

	var reg model.WebhookRegistration
	if err := json.Unmarshal([]byte(data), &reg); err != nil {
		return nil, fmt.Errorf("unmarshaling registration %s: %w", id, err)
	}
	return &reg, nil
}

func (s *RedisDeliveryStore) GetAll(ctx context.Context) ([]model.WebhookRegistration, error) {
	ids, err := s.client.SMembers(ctx, keyWebhookIDs).Result()
	if err != nil {
		return nil, fmt.Errorf("listing registration ids: %w", err)
	}
	regs, err := s.fetchRegistrations(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].CreatedAt != regs[j].CreatedAt {
			return regs[i].CreatedAt > regs[j].CreatedAt
		}
		return regs[i].ID < regs[j].ID
	})
	return regs, nil
}

func (s *RedisDeliveryStore) GetActive(ctx context.Context) ([]model.WebhookRegistration, error) {
	ids, err := s.client.SMembers(ctx, keyActiveIDs).Result()
	if err != nil {
		return nil, fmt.Errorf("listing active ids: %w", err)
	}

	regs, err := s.fetchRegistrations(ctx, ids)
	if err != nil {
		return nil, err
	}

	// The index can drift (e.g. a registration deleted mid-flight). Trust
	// the registration record, not the set, and prune strays as we go.
	found := make(map[string]bool, len(regs))
	active := regs[:0]
	for _, reg := range regs {
		found[reg.ID] = true
		if reg.Active {
			active = append(active, reg)
		} else {
			s.pruneActiveID(ctx, reg.ID)
		}
	}
	for _, id := range ids {
		if !found[id] {
			s.pruneActiveID(ctx, id)
		}
	}

	return active, nil
}

func (s *RedisDeliveryStore) pruneActiveID(ctx context.Context, id string) {
	if err := s.client.SRem(ctx, keyActiveIDs, id).Err(); err != nil {
		slog.WarnContext(ctx, "failed to prune stale active id", "webhook_id", id, "error", err)
	}
}

func (s *RedisDeliveryStore) fetchRegistrations(ctx context.Context, ids []string) ([]model.WebhookRegistration, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = regKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetching registrations: %w", err)
	}

	regs := make([]model.WebhookRegistration, 0, len(values))
	for i, raw := range values {
		if raw == nil {
			continue
		}
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var reg model.WebhookRegistration
		if err := json.Unmarshal([]byte(str), &reg); err != nil {
			slog.WarnContext(ctx, "skipping corrupt registration record", "webhook_id", ids[i], "error", err)
			continue
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

func (s *RedisDeliveryStore) Update(ctx context.Context, id string, patch WebhookPatch) (*model.WebhookRegistration, error) {
	reg, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.URL != nil {
		reg.URL = *patch.URL
	}
	if patch.Events != nil {
		reg.Events = *patch.Events
	}
	if patch.Active != nil {
		reg.Active = *patch.Active
	}
	if patch.Secret != nil {
		reg.Secret = *patch.Secret
	}
	if patch.Filters != nil {
		reg.Filters = patch.Filters
	}
	if patch.RetryConfig != nil {
		reg.RetryConfig = *patch.RetryConfig
	}
	reg.UpdatedAt = model.NowMs()

	if err := s.Store(ctx, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func (s *RedisDeliveryStore) Delete(ctx context.Context, id string) (bool, error) {
	var delCmd *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		delCmd = pipe.Del(ctx, regKey(id))
		pipe.Del(ctx, statsKey(id), historyKey(id))
		pipe.SRem(ctx, keyWebhookIDs, id)
		pipe.SRem(ctx, keyActiveIDs, id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("deleting registration %s: %w", id, err)
	}
	return delCmd.Val() > 0, nil
}

func (s *RedisDeliveryStore) RecordAttempt(ctx context.Context, attempt model.WebhookDeliveryAttempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshaling attempt: %w", err)
	}

	hkey := historyKey(attempt.WebhookID)
	skey := statsKey(attempt.WebhookID)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, hkey, data)
		pipe.LTrim(ctx, hkey, 0, HistoryCap-1)
		pipe.LPush(ctx, keyGlobalLog, data)
		pipe.LTrim(ctx, keyGlobalLog, 0, GlobalLogCap-1)
		pipe.HIncrBy(ctx, skey, statsFieldTotal, 1)
		pipe.HSet(ctx, skey, statsFieldLastDeliveryAt, attempt.Timestamp)
		if attempt.Success {
			pipe.HIncrBy(ctx, skey, statsFieldSuccess, 1)
			pipe.HSet(ctx, skey, statsFieldLastSuccessAt, attempt.Timestamp)
		} else {
			pipe.HIncrBy(ctx, skey, statsFieldFailed, 1)
			pipe.HSet(ctx, skey, statsFieldLastFailureAt, attempt.Timestamp)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording attempt for %s: %w", attempt.WebhookID, err)
	}
	return nil
}

func (s *RedisDeliveryStore) GetStats(ctx context.Context, id string) (*model.WebhookDeliveryStats, error) {
	fields, err := s.client.HGetAll(ctx, statsKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetching stats for %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	stats := &model.WebhookDeliveryStats{WebhookID: id}
	stats.TotalDeliveries = parseStatsInt(fields, statsFieldTotal)
	stats.SuccessfulDeliveries = parseStatsInt(fields, statsFieldSuccess)
	stats.FailedDeliveries = parseStatsInt(fields, statsFieldFailed)
	stats.LastDeliveryAt = parseStatsInt(fields, statsFieldLastDeliveryAt)
	stats.LastSuccessAt = parseStatsInt(fields, statsFieldLastSuccessAt)
	stats.LastFailureAt = parseStatsInt(fields, statsFieldLastFailureAt)
	return stats, nil
}

func (s *RedisDeliveryStore) GetDeliveryHistory(ctx context.Context, id string, limit int) ([]model.WebhookDeliveryAttempt, int64, error) {
	limit = clampLimit(limit, HistoryCap)

	hkey := historyKey(id)
	total, err := s.client.LLen(ctx, hkey).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("counting history for %s: %w", id, err)
	}

	attempts, err := s.fetchAttempts(ctx, hkey, limit)
	if err != nil {
		return nil, 0, err
	}
	return attempts, total, nil
}

func (s *RedisDeliveryStore) GetRecentDeliveries(ctx context.Context, limit int) ([]model.WebhookDeliveryAttempt, error) {
	return s.fetchAttempts(ctx, keyGlobalLog, clampLimit(limit, GlobalLogCap))
}

// clampLimit bounds a caller-supplied page size to a list's retention cap.
// Non-positive limits mean "everything retained": the underlying lists are
// trimmed to the cap on every append, so the cap is the true maximum.
func clampLimit(limit, retentionCap int) int {
	if limit <= 0 || limit > retentionCap {
		return retentionCap
	}
	return limit
}

func (s *RedisDeliveryStore) fetchAttempts(ctx context.Context, key string, limit int) ([]model.WebhookDeliveryAttempt, error) {
	values, err := s.client.LRange(ctx, key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("fetching attempts from %s: %w", key, err)
	}

	attempts := make([]model.WebhookDeliveryAttempt, 0, len(values))
	for _, raw := range values {
		var attempt model.WebhookDeliveryAttempt
		if err := json.Unmarshal([]byte(raw), &attempt); err != nil {
			slog.WarnContext(ctx, "skipping corrupt attempt record", "key", key, "error", err)
			continue
		}
		attempts = append(attempts, attempt)
	}
	return attempts, nil
}

// CleanupOldData prunes attempt records older than the cutoff from every
// per-webhook history list and the global log. Failures on individual lists
// are logged and skipped so a partial prune never blocks the next one.
func (s *RedisDeliveryStore) CleanupOldData(ctx context.Context, olderThanDays int) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "notify.store.cleanup"})
	cutoff := time.Now().AddDate(0, 0, -olderThanDays).UnixMilli()

	ids, err := s.client.SMembers(ctx, keyWebhookIDs).Result()
	if err != nil {
		return fmt.Errorf("listing registration ids: %w", err)
	}

	pruned := 0
	for _, id := range ids {
		n, err := s.pruneList(ctx, historyKey(id), cutoff)
		if err != nil {
			slog.WarnContext(ctx, "history prune failed", "webhook_id", id, "error", err)
			continue
		}
		pruned += n
	}

	n, err := s.pruneList(ctx, keyGlobalLog, cutoff)
	if err != nil {
		slog.WarnContext(ctx, "global log prune failed", "error", err)
	} else {
		pruned += n
	}

	if pruned > 0 {
		slog.InfoContext(ctx, "pruned old delivery records", "count", pruned, "older_than_days", olderThanDays)
	}
	return nil
}

// pruneList rewrites a bounded attempt list keeping only entries newer than
// the cutoff. Lists are small (trimmed on append) so a full read is cheap.
func (s *RedisDeliveryStore) pruneList(ctx context.Context, key string, cutoffMs int64) (int, error) {
	values, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}

	kept := make([]any, 0, len(values))
	for _, raw := range values {
		var attempt model.WebhookDeliveryAttempt
		if err := json.Unmarshal([]byte(raw), &attempt); err != nil {
			continue
		}
		if attempt.Timestamp >= cutoffMs {
			kept = append(kept, raw)
		}
	}
	if len(kept) == len(values) {
		return 0, nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(kept) > 0 {
			// kept is newest-first; RPush preserves that order.
			pipe.RPush(ctx, key, kept...)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(values) - len(kept), nil
}

func parseStatsInt(fields map[string]string, key string) int64 {
	raw, ok := fields[key]
	if !ok {
		return 0
	}
	var n int64
	_, _ = fmt.Sscan(raw, &n)
	return n
}
