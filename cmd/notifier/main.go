package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"jobforge.io/notify/common/id"
	"jobforge.io/notify/common/logger"
	"jobforge.io/notify/common/otel"
	"jobforge.io/notify/core/config"
	"jobforge.io/notify/internal/notify"
	"jobforge.io/notify/internal/router"
	"jobforge.io/notify/internal/store"
	"jobforge.io/notify/internal/tracker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeNotifier)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "notifier starting",
		"env", cfg.Env,
		"tracker_mode", string(cfg.Tracker.Mode))

	// Different node ID than the server so both can run side by side.
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected")

	deliveries := store.NewRedisDeliveryStore(redisClient)

	engine := notify.NewEngine(deliveries, nil, cfg.Delivery)
	engine.OnDelivered(func(r notify.DeliveryResult) {
		slog.InfoContext(ctx, "webhook.delivered",
			"webhook_id", r.WebhookID,
			"event_id", r.EventID,
			"event_type", r.EventType,
			"attempts", r.Attempts)
	})
	engine.OnFailed(func(r notify.DeliveryResult) {
		slog.WarnContext(ctx, "webhook.failed",
			"webhook_id", r.WebhookID,
			"event_id", r.EventID,
			"event_type", r.EventType,
			"attempts", r.Attempts,
			"last_status", r.LastStatus,
			"last_error", r.LastError)
	})

	progress := tracker.New(cfg.Tracker)
	eventRouter := router.New(progress, engine)
	subscriber := router.NewSubscriber(redisClient, eventRouter.Handle)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	errCh := make(chan error, 1)
	go func() {
		errCh <- subscriber.Run(runCtx)
	}()
	go progress.Run(runCtx)
	go cleanupLoop(runCtx, deliveries, cfg.Cleanup)

	slog.InfoContext(ctx, "notifier initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.InfoContext(ctx, "shutting down...")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "subscriber error", "error", err)
		}
	}

	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := engine.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "engine shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	stats := eventRouter.Stats()
	tracked, skipped := progress.Stats()
	slog.InfoContext(shutdownCtx, "shutdown complete",
		"events_processed", stats.Processed,
		"events_skipped", stats.Skipped,
		"events_failed", stats.Failed,
		"workflows_in_flight", tracked,
		"tracker_skipped", skipped)
}

// cleanupLoop periodically prunes old delivery records. Best-effort; a
// failed cycle waits for the next tick.
func cleanupLoop(ctx context.Context, deliveries store.DeliveryStore, cfg config.CleanupConfig) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "notify.cleanup"})

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := deliveries.CleanupOldData(ctx, cfg.OlderThanDays); err != nil {
				slog.ErrorContext(ctx, "cleanup cycle error", "error", err)
			}
		}
	}
}
