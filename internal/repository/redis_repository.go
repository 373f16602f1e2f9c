package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/pkg/logger"
	"github.com/vaidashi/storefront-sync/pkg/retry"
)

// redisCollection stores one JSON document per record plus a sorted set that keeps
// creation order. Writes go through WATCH/MULTI so a concurrent writer fails the
// transaction instead of overwriting.
type redisCollection struct {
	client      *redis.Client
	prefix      string
	name        string
	revisionKey string
	logger      logger.Logger
}

func (c *redisCollection) key(id string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, c.name, id)
}

func (c *redisCollection) indexKey() string {
	return fmt.Sprintf("%s:%s:index", c.prefix, c.name)
}

func (c *redisCollection) seqKey() string {
	return fmt.Sprintf("%s:%s:seq", c.prefix, c.name)
}

func (c *redisCollection) create(ctx context.Context, id string, data []byte) error {
	key := c.key(id)

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return ErrDuplicate
		}

		seq, err := tx.Incr(ctx, c.seqKey()).Result()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, c.indexKey(), &redis.Z{Score: float64(seq), Member: id})
			pipe.Incr(ctx, c.revisionKey)
			return nil
		})
		return err
	}, key)

	return c.translate(err, "create", id)
}

func (c *redisCollection) get(ctx context.Context, id string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		return nil, c.translate(err, "get", id)
	}
	return data, nil
}

// mutate reads the current document, passes it to fn and writes the result. fn returning
// nil data means "nothing to write".
func (c *redisCollection) mutate(ctx context.Context, id string, fn func(current []byte) ([]byte, error)) error {
	key := c.key(id)

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			pipe.Incr(ctx, c.revisionKey)
			return nil
		})
		return err
	}, key)

	return c.translate(err, "update", id)
}

func (c *redisCollection) delete(ctx context.Context, id string) error {
	key := c.key(id)

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, c.indexKey(), id)
			pipe.Incr(ctx, c.revisionKey)
			return nil
		})
		return err
	}, key)

	return c.translate(err, "delete", id)
}

// all returns every document in creation order
func (c *redisCollection) all(ctx context.Context) ([][]byte, error) {
	ids, err := c.client.ZRange(ctx, c.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, c.translate(err, "list", "")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, c.translate(err, "list", "")
	}

	docs := make([][]byte, 0, len(values))
	for _, v := range values {
		// deleted between ZRANGE and MGET
		if s, ok := v.(string); ok {
			docs = append(docs, []byte(s))
		}
	}
	return docs, nil
}

func (c *redisCollection) revision(ctx context.Context) (int64, error) {
	rev, err := c.client.Get(ctx, c.revisionKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, c.translate(err, "revision", "")
	}
	return rev, nil
}

func (c *redisCollection) translate(err error, op, id string) error {
	switch {
	case err == nil:
		return nil
	case err == redis.Nil:
		return ErrNotFound
	case errors.Is(err, redis.TxFailedErr):
		return ErrVersionConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicate), errors.Is(err, ErrVersionConflict), errors.Is(err, ErrDatabase):
		return err
	default:
		c.logger.Error("Redis operation failed", "collection", c.name, "op", op, "id", id, "error", err)
		return dbError(err)
	}
}

// RedisOrderRepository stores orders in Redis
type RedisOrderRepository struct {
	col *redisCollection
}

// NewRedisOrderRepository creates an order repository whose keys start with prefix
func NewRedisOrderRepository(client *redis.Client, prefix string, logger logger.Logger) *RedisOrderRepository {
	return &RedisOrderRepository{col: &redisCollection{
		client:      client,
		prefix:      prefix,
		name:        "order",
		revisionKey: prefix + ":" + models.TopicOrders,
		logger:      logger,
	}}
}

func (r *RedisOrderRepository) Create(ctx context.Context, order *models.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshaling order: %w", err)
	}
	return r.col.create(ctx, order.ID, data)
}

func (r *RedisOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	data, err := r.col.get(ctx, id)
	if err != nil {
		return nil, err
	}

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, dbError(err)
	}
	return &order, nil
}

func (r *RedisOrderRepository) GetAll(ctx context.Context) ([]*models.Order, error) {
	docs, err := r.col.all(ctx)
	if err != nil {
		return nil, err
	}

	orders := make([]*models.Order, 0, len(docs))
	for _, doc := range docs {
		var order models.Order
		if err := json.Unmarshal(doc, &order); err != nil {
			return nil, dbError(err)
		}
		orders = append(orders, &order)
	}
	return orders, nil
}

func (r *RedisOrderRepository) GetByUserEmail(ctx context.Context, email string) ([]*models.Order, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterOrdersByEmail(all, email), nil
}

func (r *RedisOrderRepository) Update(ctx context.Context, order *models.Order, expectedVersion int64) error {
	return r.col.mutate(ctx, order.ID, func(current []byte) ([]byte, error) {
		var stored models.Order
		if err := json.Unmarshal(current, &stored); err != nil {
			return nil, dbError(err)
		}
		if stored.Version != expectedVersion {
			return nil, ErrVersionConflict
		}

		next := order.Clone()
		next.Version = expectedVersion + 1
		data, err := json.Marshal(next)
		if err != nil {
			return nil, err
		}
		order.Version = next.Version
		return data, nil
	})
}

func (r *RedisOrderRepository) Delete(ctx context.Context, id string) error {
	return r.col.delete(ctx, id)
}

func (r *RedisOrderRepository) Revision(ctx context.Context) (int64, error) {
	return r.col.revision(ctx)
}

// RedisNotificationRepository stores notifications in Redis
type RedisNotificationRepository struct {
	col           *redisCollection
	markReadRetry *retry.RetryConfig
}

// NewRedisNotificationRepository creates a notification repository whose keys start with prefix
func NewRedisNotificationRepository(client *redis.Client, prefix string, logger logger.Logger) *RedisNotificationRepository {
	return &RedisNotificationRepository{
		col: &redisCollection{
			client:      client,
			prefix:      prefix,
			name:        "notification",
			revisionKey: prefix + ":" + models.TopicNotifications,
			logger:      logger,
		},
		markReadRetry: &retry.RetryConfig{
			MaxAttempts:     3,
			Logger:          logger,
			RetryableErrors: []error{ErrVersionConflict},
		},
	}
}

func (r *RedisNotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}
	return r.col.create(ctx, n.ID, data)
}

func (r *RedisNotificationRepository) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	data, err := r.col.get(ctx, id)
	if err != nil {
		return nil, err
	}

	var n models.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, dbError(err)
	}
	return &n, nil
}

func (r *RedisNotificationRepository) GetAll(ctx context.Context) ([]*models.Notification, error) {
	docs, err := r.col.all(ctx)
	if err != nil {
		return nil, err
	}

	list := make([]*models.Notification, 0, len(docs))
	for _, doc := range docs {
		var n models.Notification
		if err := json.Unmarshal(doc, &n); err != nil {
			return nil, dbError(err)
		}
		list = append(list, &n)
	}
	return list, nil
}

func (r *RedisNotificationRepository) GetByUserEmail(ctx context.Context, email string) ([]*models.Notification, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return newestFirst(all, email), nil
}

// MarkRead retries when another context wrote the notification between WATCH and EXEC;
// the retry then sees Read already set and reports no change.
func (r *RedisNotificationRepository) MarkRead(ctx context.Context, id string) (bool, error) {
	changed := false

	err := retry.Retry(ctx, func() error {
		changed = false
		return r.col.mutate(ctx, id, func(current []byte) ([]byte, error) {
			var n models.Notification
			if err := json.Unmarshal(current, &n); err != nil {
				return nil, dbError(err)
			}
			if n.Read {
				return nil, nil
			}

			n.Read = true
			changed = true
			return json.Marshal(n)
		})
	}, r.markReadRetry)
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (r *RedisNotificationRepository) Revision(ctx context.Context) (int64, error) {
	return r.col.revision(ctx)
}
