package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"jobforge.io/notify/common/logger"
	"jobforge.io/notify/internal/event"
)

// MessageHandler processes one inbound (channel, payload) message.
type MessageHandler func(ctx context.Context, channel, payload string)

// Subscriber feeds transport messages from Redis pub/sub into a handler, one
// message at a time. Connection retry on drop is go-redis's concern; the
// subscriber just drains the message channel until stopped.
type Subscriber struct {
	client  *redis.Client
	handler MessageHandler

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewSubscriber(client *redis.Client, handler MessageHandler) *Subscriber {
	return &Subscriber{
		client:    client,
		handler:   handler,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run subscribes to the fixed channel list plus the machine-status pattern
// and blocks until Stop() is called or the context is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "notify.subscriber"})

	defer close(s.stoppedCh)

	sub := s.client.Subscribe(ctx, event.Channels()...)
	defer sub.Close()

	if err := sub.PSubscribe(ctx, event.MachineStatusPattern); err != nil {
		return fmt.Errorf("subscribing to %s: %w", event.MachineStatusPattern, err)
	}

	// Force the subscription handshake so a dead Redis fails fast here
	// instead of on the first message.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("confirming subscription: %w", err)
	}

	slog.InfoContext(ctx, "subscribed to event channels",
		"channels", len(event.Channels()),
		"pattern", event.MachineStatusPattern)

	msgCh := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			slog.InfoContext(ctx, "subscriber stopping")
			return nil
		case msg, ok := <-msgCh:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			s.handler(ctx, msg.Channel, msg.Payload)
		}
	}
}

// Stop signals the subscriber to stop gracefully.
func (s *Subscriber) Stop() {
	close(s.stopCh)
	<-s.stoppedCh
}
