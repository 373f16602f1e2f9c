package audit

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLogs(t *testing.T) {
	logs := map[string]func(t *testing.T) Log{
		"memory": func(t *testing.T) Log { return NewMemoryLog(3) },
		"redis":  func(t *testing.T) Log { return NewRedisLog(setupTestRedis(t), "test", 3) },
	}

	for name, newLog := range logs {
		t.Run(name, func(t *testing.T) {
			l := newLog(t)
			ctx := WithActor(context.Background(), "admin@shop")

			for i := 1; i <= 4; i++ {
				_, err := l.Record(ctx, "update_status", "order", map[string]interface{}{"orderId": fmt.Sprintf("ORD%d", i)})
				require.NoError(t, err)
			}

			entries, err := l.List(ctx, 0)
			require.NoError(t, err)
			require.Len(t, entries, 3)
			assert.Equal(t, "ORD4", entries[0].Details["orderId"])
			assert.Equal(t, "ORD2", entries[2].Details["orderId"])
			assert.Equal(t, "admin@shop", entries[0].User)

			top, err := l.List(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, top, 1)
		})
	}
}

func TestActorDefaultsToUnknown(t *testing.T) {
	assert.Equal(t, UnknownActor, ActorFromContext(context.Background()))
	assert.Equal(t, UnknownActor, ActorFromContext(WithActor(context.Background(), "")))
}
