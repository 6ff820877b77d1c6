package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stockledger/internal/core/domain"
	"github.com/rl1809/stockledger/internal/port"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	idempotencyKeyTTL    = 24 * time.Hour
	ChangeChannel        = "stockledger:items:changes"
)

// RedisAdapter carries committed changes between server instances over
// pub/sub and stores idempotency keys.
type RedisAdapter struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisAdapter(client *redis.Client, logger *slog.Logger) *RedisAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisAdapter{client: client, channel: ChangeChannel, logger: logger}
}

var (
	_ port.IdempotencyRepository = (*RedisAdapter)(nil)
	_ port.ChangePublisher       = (*RedisAdapter)(nil)
)

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

func (r *RedisAdapter) Publish(ctx context.Context, event domain.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Forward relays every change published by any instance into sink until ctx
// is cancelled. Malformed messages are logged and skipped.
func (r *RedisAdapter) Forward(ctx context.Context, sink port.ChangePublisher) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("forwarding change feed from redis", "channel", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event domain.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.logger.Warn("dropping malformed change event", "error", err)
				continue
			}
			if err := event.Validate(); err != nil {
				r.logger.Warn("dropping invalid change event", "error", err)
				continue
			}
			if err := sink.Publish(ctx, event); err != nil {
				r.logger.Warn("forward change event failed", "item", event.ItemID(), "error", err)
			}
		}
	}
}
