// Package audit records administrative actions, newest first.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vaidashi/storefront-sync/internal/models"
)

// DefaultLimit bounds List when the caller passes no limit
const DefaultLimit = 200

// UnknownActor is recorded when the context carries no actor
const UnknownActor = "unknown"

// Entry is one recorded action
type Entry struct {
	ID      string                 `json:"id"`
	Action  string                 `json:"action"`
	Entity  string                 `json:"entity"`
	Details map[string]interface{} `json:"details,omitempty"`
	User    string                 `json:"user"`
	Time    time.Time              `json:"time"`
}

// Log stores audit entries
type Log interface {
	Record(ctx context.Context, action, entity string, details map[string]interface{}) (*Entry, error)
	List(ctx context.Context, limit int) ([]*Entry, error)
}

type actorKey struct{}

// WithActor attaches the acting user to ctx
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the acting user, or UnknownActor
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return UnknownActor
}

func newEntry(ctx context.Context, action, entity string, details map[string]interface{}) *Entry {
	now := models.GetCurrentTime()
	return &Entry{
		ID:      models.GenerateTimeID("a", now),
		Action:  action,
		Entity:  entity,
		Details: details,
		User:    ActorFromContext(ctx),
		Time:    now,
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

// MemoryLog keeps at most capacity entries in memory
type MemoryLog struct {
	mu       sync.RWMutex
	entries  []*Entry
	capacity int
}

// NewMemoryLog creates an in-memory log; capacity <= 0 keeps DefaultLimit entries
func NewMemoryLog(capacity int) *MemoryLog {
	return &MemoryLog{capacity: normalizeLimit(capacity)}
}

func (l *MemoryLog) Record(ctx context.Context, action, entity string, details map[string]interface{}) (*Entry, error) {
	entry := newEntry(ctx, action, entity, details)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append([]*Entry{entry}, l.entries...)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[:l.capacity]
	}
	return entry, nil
}

func (l *MemoryLog) List(ctx context.Context, limit int) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	limit = normalizeLimit(limit)
	if limit > len(l.entries) {
		limit = len(l.entries)
	}

	out := make([]*Entry, limit)
	copy(out, l.entries[:limit])
	return out, nil
}

// RedisLog keeps entries in a capped Redis list, newest at the head
type RedisLog struct {
	client   *redis.Client
	key      string
	capacity int
}

// NewRedisLog creates a log stored under "<prefix>:audit_logs"
func NewRedisLog(client *redis.Client, prefix string, capacity int) *RedisLog {
	return &RedisLog{
		client:   client,
		key:      prefix + ":audit_logs",
		capacity: normalizeLimit(capacity),
	}
}

func (l *RedisLog) Record(ctx context.Context, action, entity string, details map[string]interface{}) (*Entry, error) {
	entry := newEntry(ctx, action, entity, details)

	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshaling audit entry: %w", err)
	}

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, l.key, data)
		pipe.LTrim(ctx, l.key, 0, int64(l.capacity-1))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording audit entry: %w", err)
	}
	return entry, nil
}

func (l *RedisLog) List(ctx context.Context, limit int) ([]*Entry, error) {
	raw, err := l.client.LRange(ctx, l.key, 0, int64(normalizeLimit(limit)-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}

	out := make([]*Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("unmarshaling audit entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}
