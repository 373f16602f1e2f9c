package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/vaidashi/storefront-sync/internal/models"
	apperrors "github.com/vaidashi/storefront-sync/pkg/errors"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("record already exists")
	ErrVersionConflict = errors.New("record was modified concurrently")
	// ErrDatabase marks storage-level failures; it is a persistence failure
	ErrDatabase = fmt.Errorf("database error: %w", apperrors.ErrPersistence)
)

// OrderRepository stores orders as individual records. GetAll returns orders in creation order.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetAll(ctx context.Context) ([]*models.Order, error)
	GetByUserEmail(ctx context.Context, email string) ([]*models.Order, error)
	// Update replaces the stored order if its version still equals expectedVersion and
	// sets order.Version to expectedVersion+1. A mismatch returns ErrVersionConflict.
	Update(ctx context.Context, order *models.Order, expectedVersion int64) error
	Delete(ctx context.Context, id string) error
	// Revision is a counter bumped on every successful write to the collection
	Revision(ctx context.Context) (int64, error)
}

// NotificationRepository stores notifications. GetByUserEmail returns newest first.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	GetByID(ctx context.Context, id string) (*models.Notification, error)
	GetAll(ctx context.Context) ([]*models.Notification, error)
	GetByUserEmail(ctx context.Context, email string) ([]*models.Notification, error)
	// MarkRead flips Read to true and reports whether this call changed it
	MarkRead(ctx context.Context, id string) (bool, error)
	Revision(ctx context.Context) (int64, error)
}

func dbError(err error) error {
	return fmt.Errorf("%w: %v", ErrDatabase, err)
}

// classifyTxError keeps repository sentinels and wraps everything else as ErrDatabase
func classifyTxError(err error) error {
	switch {
	case err == nil,
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrDatabase):
		return err
	default:
		return dbError(err)
	}
}

func filterOrdersByEmail(orders []*models.Order, email string) []*models.Order {
	out := make([]*models.Order, 0)
	for _, o := range orders {
		if o.UserEmail == email {
			out = append(out, o)
		}
	}
	return out
}

// newestFirst filters list (given in creation order) to email and reverses it
func newestFirst(list []*models.Notification, email string) []*models.Notification {
	out := make([]*models.Notification, 0)
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].UserEmail == email {
			out = append(out, list[i])
		}
	}
	return out
}
