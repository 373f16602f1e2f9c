package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/pkg/logger"
)

// RedisTransport broadcasts signals over Redis pub/sub, one channel per collection:
// "<prefix>:order_updates" and "<prefix>:notifications_updated".
type RedisTransport struct {
	client *redis.Client
	prefix string
	logger logger.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisTransport creates a transport on client
func NewRedisTransport(client *redis.Client, prefix string, logger logger.Logger) *RedisTransport {
	return &RedisTransport{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Channel returns the pub/sub channel for a collection topic
func (t *RedisTransport) Channel(topic string) string {
	return fmt.Sprintf("%s:%s", t.prefix, topic)
}

func (t *RedisTransport) Publish(ctx context.Context, sig models.ChangeSignal) error {
	payload, err := sig.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode change signal: %w", err)
	}

	if err := t.client.Publish(ctx, t.Channel(sig.Topic), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change signal: %w", err)
	}
	return nil
}

func (t *RedisTransport) Listen(handler SignalHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pubsub != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := t.client.Subscribe(ctx, t.Channel(models.TopicOrders), t.Channel(models.TopicNotifications))

	// Wait for subscription confirmation so signals published after Listen are not missed
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to change channels: %w", err)
	}

	t.pubsub = pubsub
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				sig, err := models.UnmarshalChangeSignal([]byte(msg.Payload))
				if err != nil {
					t.logger.Warn("Failed to decode change signal", "error", err, "channel", msg.Channel)
					continue
				}
				handler(ctx, sig)
			}
		}
	}()

	t.logger.Info("Listening for change signals", "transport", "redis", "prefix", t.prefix)
	return nil
}

func (t *RedisTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pubsub == nil {
		return nil
	}

	t.cancel()
	err := t.pubsub.Close()
	t.wg.Wait()
	t.pubsub = nil
	return err
}
