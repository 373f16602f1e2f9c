package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vaidashi/storefront-sync/internal/audit"
	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/internal/repository"
	apperrors "github.com/vaidashi/storefront-sync/pkg/errors"
	"github.com/vaidashi/storefront-sync/pkg/logger"
	"github.com/vaidashi/storefront-sync/pkg/retry"
)

// DeliveryMessageFormat is the text of the notification sent when an order is delivered
const DeliveryMessageFormat = "Your order %s has been delivered. Please rate your item."

// OrderService handles order-related operations
type OrderService struct {
	orders        repository.OrderRepository
	notifications *NotificationService
	publisher     ChangePublisher
	audit         audit.Log
	logger        logger.Logger
	now           func() time.Time
	conflictRetry *retry.RetryConfig
}

// NewOrderService creates a new OrderService. publisher and auditLog may be nil.
func NewOrderService(
	orders repository.OrderRepository,
	notifications *NotificationService,
	publisher ChangePublisher,
	auditLog audit.Log,
	logger logger.Logger,
) *OrderService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if auditLog == nil {
		auditLog = audit.NewMemoryLog(audit.DefaultLimit)
	}

	return &OrderService{
		orders:        orders,
		notifications: notifications,
		publisher:     publisher,
		audit:         auditLog,
		logger:        logger,
		now:           models.GetCurrentTime,
		conflictRetry: &retry.RetryConfig{
			MaxAttempts:     3,
			BackoffStrategy: &retry.ConstantBackoff{Interval: 10 * time.Millisecond},
			Logger:          logger,
			RetryableErrors: []error{repository.ErrVersionConflict},
		},
	}
}

// CreateOrder stores a new Pending order built from draft
func (s *OrderService) CreateOrder(ctx context.Context, draft models.OrderDraft) (order *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.CreateOrder")
	defer func() { finishSpan(span, err) }()

	if draft.UserEmail == "" {
		draft.UserEmail = models.GuestEmail
	}

	order = models.NewOrder(draft, s.now())
	span.SetAttributes(attribute.String("order.id", order.ID))

	firstOrder := false
	if order.UserEmail != models.GuestEmail {
		previous, err := s.orders.GetByUserEmail(ctx, order.UserEmail)
		if err != nil {
			return nil, storeError(err, "order", order.ID)
		}
		firstOrder = len(previous) == 0
	}

	if err := s.orders.Create(ctx, order); err != nil {
		s.logger.Error("Failed to create order", "error", err, "orderID", order.ID)
		return nil, storeError(err, "order", order.ID)
	}

	s.publisher.OrdersChanged(ctx, models.ChangeOrderCreated, order.ID)
	s.logger.Info("Order created", "orderID", order.ID, "userEmail", order.UserEmail, "total", order.Total)

	if firstOrder {
		if _, err := s.notifications.NotifyNewCustomer(ctx, order.UserEmail, draft.Customer); err != nil {
			s.logger.Warn("Failed to record new customer", "error", err, "userEmail", order.UserEmail)
		}
	}

	return order, nil
}

// UpdateOrderStatus sets an order's status. Moving into Delivered emits one delivery
// notification; setting the status it already has writes nothing.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) (order *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.UpdateOrderStatus")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.String("order.id", id), attribute.String("order.status", string(status)))

	if !status.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown order status %q", status)).WithContext("id", id)
	}

	var before *models.Order

	err = retry.Retry(ctx, func() error {
		current, err := s.orders.GetByID(ctx, id)
		if err != nil {
			return err
		}

		before = current
		if current.Status == status {
			order = current
			return nil
		}

		next := current.Clone()
		next.Status = status
		next.UpdatedAt = s.now()

		if err := s.orders.Update(ctx, next, current.Version); err != nil {
			return err
		}
		order = next
		return nil
	}, s.conflictRetry)

	if err != nil {
		return nil, storeError(err, "order", id)
	}

	if order.Status == before.Status && order.Version == before.Version {
		return order, nil
	}

	if status == models.OrderStatusDelivered {
		if err := s.notifyDelivered(ctx, order); err != nil {
			s.compensate(ctx, before, order)
			return nil, err
		}
	}

	s.publisher.OrdersChanged(ctx, models.ChangeOrderStatusChanged, id)
	s.record(ctx, "update_status", id, map[string]interface{}{
		"orderId": id,
		"from":    string(before.Status),
		"to":      string(status),
	})

	s.logger.Info("Order status updated", "orderID", id, "oldStatus", before.Status, "newStatus", status)
	return order, nil
}

// UpdateOrder merges patch into an order. With ExpectedVersion set the write only happens
// if the stored version still matches; otherwise concurrent edits are retried on fresh state.
func (s *OrderService) UpdateOrder(ctx context.Context, id string, patch models.OrderPatch) (order *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.UpdateOrder")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.String("order.id", id))

	if patch.Status != nil && !patch.Status.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown order status %q", *patch.Status)).WithContext("id", id)
	}

	cfg := s.conflictRetry
	if patch.ExpectedVersion != nil {
		cfg = &retry.RetryConfig{MaxAttempts: 1, Logger: s.logger}
	}

	var before *models.Order
	statusChanged := false

	err = retry.Retry(ctx, func() error {
		current, err := s.orders.GetByID(ctx, id)
		if err != nil {
			return err
		}

		if patch.ExpectedVersion != nil && *patch.ExpectedVersion != current.Version {
			return repository.ErrVersionConflict
		}

		before = current
		next := current.Clone()
		statusChanged = next.Apply(patch)
		next.UpdatedAt = s.now()

		if err := s.orders.Update(ctx, next, current.Version); err != nil {
			return err
		}
		order = next
		return nil
	}, cfg)

	if err != nil {
		return nil, storeError(err, "order", id)
	}

	kind := models.ChangeOrderUpdated
	if statusChanged {
		kind = models.ChangeOrderStatusChanged

		if order.Status == models.OrderStatusDelivered {
			if err := s.notifyDelivered(ctx, order); err != nil {
				s.compensate(ctx, before, order)
				return nil, err
			}
		}
	}

	s.publisher.OrdersChanged(ctx, kind, id)
	s.record(ctx, "update_order", id, map[string]interface{}{"orderId": id, "version": order.Version})

	s.logger.Info("Order updated", "orderID", id, "version", order.Version)
	return order, nil
}

// DeleteOrder removes an order permanently
func (s *OrderService) DeleteOrder(ctx context.Context, id string) (err error) {
	ctx, span := tracer.Start(ctx, "OrderService.DeleteOrder")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.String("order.id", id))

	if err := s.orders.Delete(ctx, id); err != nil {
		return storeError(err, "order", id)
	}

	s.publisher.OrdersChanged(ctx, models.ChangeOrderDeleted, id)
	s.record(ctx, "delete_order", id, map[string]interface{}{"orderId": id})

	s.logger.Info("Order deleted", "orderID", id)
	return nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "order", id)
	}
	return order, nil
}

// GetAllOrders returns every order in creation order
func (s *OrderService) GetAllOrders(ctx context.Context) ([]*models.Order, error) {
	orders, err := s.orders.GetAll(ctx)
	if err != nil {
		return nil, storeError(err, "orders", "all")
	}
	return orders, nil
}

// GetUserOrders returns the orders placed by email
func (s *OrderService) GetUserOrders(ctx context.Context, email string) ([]*models.Order, error) {
	orders, err := s.orders.GetByUserEmail(ctx, email)
	if err != nil {
		return nil, storeError(err, "orders for", email)
	}
	return orders, nil
}

// AuditLog returns the log admin mutations are recorded in
func (s *OrderService) AuditLog() audit.Log {
	return s.audit
}

func (s *OrderService) notifyDelivered(ctx context.Context, order *models.Order) error {
	if order.UserEmail == "" {
		return nil
	}

	_, err := s.notifications.Add(ctx, models.NotificationDraft{
		UserEmail: order.UserEmail,
		Type:      models.NotificationTypeDelivery,
		Message:   fmt.Sprintf(DeliveryMessageFormat, order.ID),
		OrderID:   order.ID,
		ProductID: order.FirstItemID(),
	})
	return err
}

// compensate undoes a write whose follow-up side effect failed, so the delivery transition
// can be retried and notify then. If nobody wrote since, before is restored whole; otherwise
// only the status is reverted on the fresh state. Nothing is reverted once another writer
// has moved the status away from the one written.
func (s *OrderService) compensate(ctx context.Context, before, written *models.Order) {
	ctx = context.WithoutCancel(ctx)
	reverted := false

	err := retry.Retry(ctx, func() error {
		current, err := s.orders.GetByID(ctx, written.ID)
		if err != nil {
			return err
		}
		if current.Status != written.Status {
			return nil
		}

		restore := before.Clone()
		if current.Version != written.Version {
			restore = current.Clone()
			restore.Status = before.Status
		}
		restore.UpdatedAt = s.now()

		if err := s.orders.Update(ctx, restore, current.Version); err != nil {
			return err
		}
		reverted = true
		return nil
	}, s.conflictRetry)

	if err != nil {
		s.logger.Error("Failed to revert order after notification failure",
			"error", err,
			"orderID", written.ID,
			"status", written.Status)
		return
	}

	if reverted {
		s.publisher.OrdersChanged(ctx, models.ChangeOrderUpdated, written.ID)
		s.logger.Warn("Reverted order after notification failure", "orderID", written.ID, "status", before.Status)
	}
}

func (s *OrderService) record(ctx context.Context, action, id string, details map[string]interface{}) {
	if _, err := s.audit.Record(ctx, action, "order", details); err != nil {
		s.logger.Warn("Failed to record audit entry", "error", err, "action", action, "orderID", id)
	}
}
