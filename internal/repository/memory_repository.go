package repository

import (
	"context"
	"sync"

	"github.com/vaidashi/storefront-sync/internal/models"
)

// MemoryOrderRepository keeps orders in process memory. Records are cloned on the way in
// and out so callers never share state with the store.
type MemoryOrderRepository struct {
	mu       sync.RWMutex
	orders   map[string]*models.Order
	sequence []string
	revision int64
}

// NewMemoryOrderRepository creates an empty in-memory order repository
func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]*models.Order)}
}

func (r *MemoryOrderRepository) Create(ctx context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return ErrDuplicate
	}

	r.orders[order.ID] = order.Clone()
	r.sequence = append(r.sequence, order.ID)
	r.revision++
	return nil
}

func (r *MemoryOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return order.Clone(), nil
}

func (r *MemoryOrderRepository) GetAll(ctx context.Context) ([]*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Order, 0, len(r.sequence))
	for _, id := range r.sequence {
		out = append(out, r.orders[id].Clone())
	}
	return out, nil
}

func (r *MemoryOrderRepository) GetByUserEmail(ctx context.Context, email string) ([]*models.Order, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterOrdersByEmail(all, email), nil
}

func (r *MemoryOrderRepository) Update(ctx context.Context, order *models.Order, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[order.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}

	order.Version = expectedVersion + 1
	r.orders[order.ID] = order.Clone()
	r.revision++
	return nil
}

func (r *MemoryOrderRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[id]; !ok {
		return ErrNotFound
	}

	delete(r.orders, id)
	for i, seqID := range r.sequence {
		if seqID == id {
			r.sequence = append(r.sequence[:i], r.sequence[i+1:]...)
			break
		}
	}
	r.revision++
	return nil
}

func (r *MemoryOrderRepository) Revision(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision, nil
}

// MemoryNotificationRepository keeps notifications in process memory
type MemoryNotificationRepository struct {
	mu            sync.RWMutex
	notifications map[string]*models.Notification
	sequence      []string
	revision      int64
}

// NewMemoryNotificationRepository creates an empty in-memory notification repository
func NewMemoryNotificationRepository() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{notifications: make(map[string]*models.Notification)}
}

func (r *MemoryNotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.notifications[n.ID]; exists {
		return ErrDuplicate
	}

	r.notifications[n.ID] = n.Clone()
	r.sequence = append(r.sequence, n.ID)
	r.revision++
	return nil
}

func (r *MemoryNotificationRepository) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n.Clone(), nil
}

func (r *MemoryNotificationRepository) GetAll(ctx context.Context) ([]*models.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Notification, 0, len(r.sequence))
	for _, id := range r.sequence {
		out = append(out, r.notifications[id].Clone())
	}
	return out, nil
}

func (r *MemoryNotificationRepository) GetByUserEmail(ctx context.Context, email string) ([]*models.Notification, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return newestFirst(all, email), nil
}

func (r *MemoryNotificationRepository) MarkRead(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok {
		return false, ErrNotFound
	}
	if n.Read {
		return false, nil
	}

	n.Read = true
	r.revision++
	return true, nil
}

func (r *MemoryNotificationRepository) Revision(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision, nil
}
