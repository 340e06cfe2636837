package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const wakeMessage = "wake"

// RedisWaker signals idle workers over Redis pub/sub that a job became runnable.
// Delivery is best effort: workers still poll, so a lost signal only delays a run.
type RedisWaker struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisWaker(client *redis.Client, channel string, logger *slog.Logger) *RedisWaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisWaker{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

func (w *RedisWaker) Wake(ctx context.Context) error {
	if err := w.client.Publish(ctx, w.channel, wakeMessage).Err(); err != nil {
		return fmt.Errorf("publish wake-up: %w", err)
	}
	return nil
}

// Subscribe returns a channel that receives a value after one or more
// wake-ups. Bursts collapse into a single pending signal. The subscription
// ends when ctx is cancelled.
func (w *RedisWaker) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	pubsub := w.client.Subscribe(ctx, w.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", w.channel, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					w.logger.WarnContext(ctx, "wake-up subscription closed", "channel", w.channel)
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	w.logger.InfoContext(ctx, "subscribed to wake-ups", "channel", w.channel)
	return out, nil
}

func (w *RedisWaker) Close() error {
	return w.client.Close()
}
