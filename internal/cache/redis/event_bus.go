package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/hyperpredict/predictd/internal/domain"
)

// eventStreamMaxLen is the approximate maximum length of the durable event
// stream, enforced via XADD MAXLEN ~.
const eventStreamMaxLen int64 = 10000

// eventChannel is the Pub/Sub channel events fan out on; per-instance
// channels are suffixed with the instance ID.
const eventChannel = "events"

// eventStream is the durable ordered copy of the event history.
const eventStream = "events:stream"

// EventBus distributes engine events over Redis: Pub/Sub for live fan-out to
// other nodes and a capped stream as a durable replay buffer. It satisfies
// domain.EventEmitter, so engines can publish into it directly.
type EventBus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		rdb:    c.Underlying(),
		logger: logger.With(slog.String("component", "event_bus")),
	}
}

// Emit publishes ev to the global channel, its instance channel, and the
// durable stream. Emit never fails the caller: delivery problems are logged
// and dropped, because event distribution must not block settlement.
func (b *EventBus) Emit(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.ErrorContext(ctx, "event marshal failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := b.rdb.Publish(ctx, eventChannel, payload).Err(); err != nil {
		b.logger.WarnContext(ctx, "event publish failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
	if ev.InstanceID != "" {
		if err := b.rdb.Publish(ctx, eventChannel+":"+ev.InstanceID, payload).Err(); err != nil {
			b.logger.WarnContext(ctx, "instance event publish failed",
				slog.String("instance", ev.InstanceID),
				slog.String("error", err.Error()),
			)
		}
	}

	args := &redis.XAddArgs{
		Stream: eventStream,
		MaxLen: eventStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		b.logger.WarnContext(ctx, "event stream append failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// Subscribe returns a channel of decoded events published on the global
// channel. The subscription closes with the context; undecodable payloads
// are logged and skipped.
func (b *EventBus) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	pubsub := b.rdb.Subscribe(ctx, eventChannel)

	// Confirm the subscription before handing out the channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", eventChannel, err)
	}

	out := make(chan domain.Event, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("event decode failed", slog.String("error", err.Error()))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// ReplayEvents reads up to count events from the durable stream after
// lastID. Use "0" to read from the beginning. It returns the decoded events
// with the stream ID of the last one, or ("", nil) when nothing is pending.
func (b *EventBus) ReplayEvents(ctx context.Context, lastID string, count int) ([]domain.Event, string, error) {
	args := &redis.XReadArgs{
		Streams: []string{eventStream, lastID},
		Count:   int64(count),
		Block:   -1,
	}
	results, err := b.rdb.XRead(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("redis: stream read %s: %w", eventStream, err)
	}

	var events []domain.Event
	newLastID := ""
	for _, s := range results {
		for _, msg := range s.Messages {
			payload, ok := msg.Values["payload"].(string)
			if !ok {
				continue
			}
			var ev domain.Event
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				b.logger.Warn("stream event decode failed", slog.String("error", err.Error()))
				continue
			}
			events = append(events, ev)
			newLastID = msg.ID
		}
	}
	return events, newLastID, nil
}

// Compile-time interface check.
var _ domain.EventEmitter = (*EventBus)(nil)
