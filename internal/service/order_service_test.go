package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/storefront-sync/internal/audit"
	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/internal/repository"
	apperrors "github.com/vaidashi/storefront-sync/pkg/errors"
	"github.com/vaidashi/storefront-sync/pkg/logger"
)

type recordingPublisher struct {
	mu            sync.Mutex
	orders        []models.ChangeKind
	notifications []models.ChangeKind
}

func (p *recordingPublisher) OrdersChanged(_ context.Context, kind models.ChangeKind, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, kind)
}

func (p *recordingPublisher) NotificationsChanged(_ context.Context, kind models.ChangeKind, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, kind)
}

// failingNotifications fails Create while fail is set, running onFail first
type failingNotifications struct {
	repository.NotificationRepository
	fail   bool
	onFail func()
}

func (f *failingNotifications) Create(ctx context.Context, n *models.Notification) error {
	if f.fail {
		if f.onFail != nil {
			f.onFail()
		}
		return fmt.Errorf("%w: disk full", repository.ErrDatabase)
	}
	return f.NotificationRepository.Create(ctx, n)
}

// failingOrders fails every write while fail is set
type failingOrders struct {
	repository.OrderRepository
	fail bool
}

func (f *failingOrders) Create(ctx context.Context, order *models.Order) error {
	if f.fail {
		return fmt.Errorf("%w: connection reset", repository.ErrDatabase)
	}
	return f.OrderRepository.Create(ctx, order)
}

func (f *failingOrders) Update(ctx context.Context, order *models.Order, expectedVersion int64) error {
	if f.fail {
		return fmt.Errorf("%w: connection reset", repository.ErrDatabase)
	}
	return f.OrderRepository.Update(ctx, order, expectedVersion)
}

func (f *failingOrders) Delete(ctx context.Context, id string) error {
	if f.fail {
		return fmt.Errorf("%w: connection reset", repository.ErrDatabase)
	}
	return f.OrderRepository.Delete(ctx, id)
}

type fixture struct {
	orders        *repository.MemoryOrderRepository
	notifications *failingNotifications
	publisher     *recordingPublisher
	audit         *audit.MemoryLog
	notify        *NotificationService
	svc           *OrderService
}

func newFixture() *fixture {
	f := &fixture{
		orders:        repository.NewMemoryOrderRepository(),
		notifications: &failingNotifications{NotificationRepository: repository.NewMemoryNotificationRepository()},
		publisher:     &recordingPublisher{},
		audit:         audit.NewMemoryLog(audit.DefaultLimit),
	}
	f.notify = NewNotificationService(f.notifications, f.publisher, nil, logger.Nop())
	f.svc = NewOrderService(f.orders, f.notify, f.publisher, f.audit, logger.Nop())
	return f
}

func sampleDraft(email string) models.OrderDraft {
	return models.OrderDraft{
		UserEmail: email,
		Customer:  "Ada",
		Items: []models.OrderItem{
			{ID: "p1", Title: "Lamp", Price: 40, Qty: 2},
			{ID: "p2", Title: "Rug", Price: 20},
		},
		Subtotal: 100,
		Tax:      8,
		Total:    108,
		Address:  models.Snapshot{"zip": "10001", "city": "New York"},
		Payment:  models.Snapshot{"method": "card"},
	}
}

func deliveryNotifications(t *testing.T, f *fixture, email string) []*models.Notification {
	t.Helper()
	list, err := f.notify.ListForUser(context.Background(), email)
	require.NoError(t, err)

	out := make([]*models.Notification, 0)
	for _, n := range list {
		if n.Type == models.NotificationTypeDelivery {
			out = append(out, n)
		}
	}
	return out
}

func TestCreateOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	draft := sampleDraft("a@b.com")
	order, err := f.svc.CreateOrder(ctx, draft)
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, int64(1), order.Version)
	assert.NotEmpty(t, order.Date)
	assert.Equal(t, order.CreatedAt, order.UpdatedAt)

	// the stored order does not share the draft's maps or slices
	draft.Items[0].Price = 1
	draft.Address["zip"] = "99999"

	stored, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 40.0, stored.Items[0].Price)
	assert.Equal(t, "10001", stored.Address.String("zip"))

	assert.Equal(t, []models.ChangeKind{models.ChangeOrderCreated}, f.publisher.orders)
}

func TestCreateOrderDefaultsToGuest(t *testing.T) {
	f := newFixture()

	order, err := f.svc.CreateOrder(context.Background(), sampleDraft(""))
	require.NoError(t, err)
	assert.Equal(t, models.GuestEmail, order.UserEmail)

	admin, err := f.notify.ListForUser(context.Background(), models.AdminRecipient)
	require.NoError(t, err)
	assert.Empty(t, admin)
}

func TestCreateOrderDuplicateID(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	draft := sampleDraft("a@b.com")
	draft.ID = "ORD-fixed"

	_, err := f.svc.CreateOrder(ctx, draft)
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(ctx, draft)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
}

func TestCreateOrderNotifiesAdminOfNewCustomerOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, sampleDraft("a@b.com"))
	require.NoError(t, err)
	_, err = f.svc.CreateOrder(ctx, sampleDraft("a@b.com"))
	require.NoError(t, err)

	admin, err := f.notify.ListForUser(ctx, models.AdminRecipient)
	require.NoError(t, err)
	require.Len(t, admin, 1)
	assert.Equal(t, models.NotificationTypeNewCustomer, admin[0].Type)
	assert.Equal(t, "New customer registered: Ada", admin[0].Message)
}

func TestStatusLifecycleEmitsOneDeliveryNotification(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, sampleDraft("a@b.com"))
	require.NoError(t, err)

	shipped, err := f.svc.UpdateOrderStatus(ctx, order.ID, models.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, shipped.Status)
	assert.Empty(t, deliveryNotifications(t, f, "a@b.com"))

	delivered, err := f.svc.UpdateOrderStatus(ctx, order.ID, models.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, delivered.Status)

	// repeating the same status writes nothing and notifies nobody
	again, err := f.svc.UpdateOrderStatus(ctx, order.ID, models.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, delivered.Version, again.Version)

	notes := deliveryNotifications(t, f, "a@b.com")
	require.Len(t, notes, 1)
	assert.Equal(t, order.ID, notes[0].OrderID)
	assert.Equal(t, "p1", notes[0].ProductID)
	assert.False(t, notes[0].Read)
	assert.Equal(t, fmt.Sprintf("Your order %s has been delivered. Please rate your item.", order.ID), notes[0].Message)

	mine, err := f.svc.GetUserOrders(ctx, "a@b.com")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, models.OrderStatusDelivered, mine[0].Status)
}

func TestUpdateOrderStatusReadYourWrites(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, sampleDraft("a@b.com"))
	require.NoError(t, err)

	_, err = f.svc.UpdateOrderStatus(ctx, order.ID, models.OrderStatusProcessing)
	require.NoError(t, err)

	got, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestUpdateOrderStatusRejectsUnknownStatus(t *testing.T) {
	f := newFixture()

	order, err := f.svc.CreateOrder(context.Background(), sampleDraft("a@b.com"))
	require.NoError(t, err)

	_, err = f.svc.UpdateOrderStatus(context.Background(), order.ID, models.OrderStatus("Lost"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestUpdateOrderStatusNotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.UpdateOrderStatus(context.Background(), "missing", models.OrderStatusShipped)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestDeliveryNotificationFailureRevertsStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, sampleDraft("a@b.com"))
	require.NoError(t, err)
	_, err = f.svc.UpdateOrderStatus(ctx, order.ID, models.OrderStatusShipped)
	require.NoError(t, err)

	f.notifications.fail = true
	_, err = f.svc.UpdateOrderStatus(ctx, order.ID, models.OrderStatusDelivered)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPersistence))

	got, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, got.Status)

	// once storage recovers the transition can be retried and notifies exactly once
	f.notifications.fail = false
	_, err = f.svc.UpdateOrderStatus(ctx, order.ID, models.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Len(t, deliveryNotifications(t, f, "a@b.com"), 1)
}

func TestDeliveryNotificationFailureRevertsAfterConcurrentEdit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, sampleDraft("a@b.com"))
	require.NoError(t, err)
	_, err = f.svc.UpdateOrderStatus(ctx, order.ID, models.OrderStatusShipped)
	require.NoError(t, err)

	// another context edits the order between the status write and the failed notification
	f.notifications.fail = true
	f.notifications.onFail = func() {
		f.notifications.onFail = nil
		current, err := f.orders.GetByID(ctx, order.ID)
		require.NoError(t, err)
		current.Customer = "Grace"
		require.NoError(t, f.orders.Update(ctx, current, current.Version))
	}

	_, err = f.svc.UpdateOrderStatus(ctx, order.ID, models.OrderStatusDelivered)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPersistence))

	got, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, got.Status)
	assert.Equal(t, "Grace", got.Customer)

	f.notifications.fail = false
	delivered, err := f.svc.UpdateOrderStatus(ctx, order.ID, models.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, delivered.Status)
	assert.Len(t, deliveryNotifications(t, f, "a@b.com"), 1)
}

func TestOrderWriteFailureLeavesCollectionUnchanged(t *testing.T) {
	ctx := context.Background()
	orders := &failingOrders{OrderRepository: repository.NewMemoryOrderRepository()}
	publisher := &recordingPublisher{}
	notify := NewNotificationService(repository.NewMemoryNotificationRepository(), publisher, nil, logger.Nop())
	svc := NewOrderService(orders, notify, publisher, nil, logger.Nop())

	order, err := svc.CreateOrder(ctx, sampleDraft("a@b.com"))
	require.NoError(t, err)

	before, err := svc.GetAllOrders(ctx)
	require.NoError(t, err)

	publisher.orders = nil
	orders.fail = true

	customer := "Grace"
	tests := []struct {
		name string
		call func() error
	}{
		{"create", func() error {
			_, err := svc.CreateOrder(ctx, sampleDraft("c@d.com"))
			return err
		}},
		{"update status", func() error {
			_, err := svc.UpdateOrderStatus(ctx, order.ID, models.OrderStatusShipped)
			return err
		}},
		{"update", func() error {
			_, err := svc.UpdateOrder(ctx, order.ID, models.OrderPatch{Customer: &customer})
			return err
		}},
		{"delete", func() error {
			return svc.DeleteOrder(ctx, order.ID)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrPersistence))

			after, err := svc.GetAllOrders(ctx)
			require.NoError(t, err)
			assert.Equal(t, before, after)
			assert.Empty(t, publisher.orders)
		})
	}
}

func TestUpdateOrderMergesPatch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, sampleDraft("a@b.com"))
	require.NoError(t, err)

	customer := "Ada Lovelace"
	updated, err := f.svc.UpdateOrder(ctx, order.ID, models.OrderPatch{Customer: &customer})
	require.NoError(t, err)

	assert.Equal(t, "Ada Lovelace", updated.Customer)
	assert.Equal(t, order.Total, updated.Total)
	assert.Equal(t, models.OrderStatusPending, updated.Status)
	assert.Equal(t, int64(2), updated.Version)
	assert.Contains(t, f.publisher.orders, models.ChangeOrderUpdated)
}

func TestUpdateOrderStatusPatchDelivers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, sampleDraft("a@b.com"))
	require.NoError(t, err)

	delivered := models.OrderStatusDelivered
	_, err = f.svc.UpdateOrder(ctx, order.ID, models.OrderPatch{Status: &delivered})
	require.NoError(t, err)
	_, err = f.svc.UpdateOrder(ctx, order.ID, models.OrderPatch{Status: &delivered})
	require.NoError(t, err)

	assert.Len(t, deliveryNotifications(t, f, "a@b.com"), 1)
}

func TestUpdateOrderExpectedVersionConflict(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, sampleDraft("a@b.com"))
	require.NoError(t, err)

	stale := order.Version
	_, err = f.svc.UpdateOrderStatus(ctx, order.ID, models.OrderStatusProcessing)
	require.NoError(t, err)

	customer := "Someone Else"
	_, err = f.svc.UpdateOrder(ctx, order.ID, models.OrderPatch{Customer: &customer, ExpectedVersion: &stale})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))

	got, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Customer)

	current := got.Version
	_, err = f.svc.UpdateOrder(ctx, order.ID, models.OrderPatch{Customer: &customer, ExpectedVersion: &current})
	require.NoError(t, err)
}

func TestDeleteOrderRemovesFromAllLists(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, sampleDraft("a@b.com"))
	require.NoError(t, err)
	other, err := f.svc.CreateOrder(ctx, sampleDraft("c@d.com"))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteOrder(ctx, order.ID))

	all, err := f.svc.GetAllOrders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, other.ID, all[0].ID)

	mine, err := f.svc.GetUserOrders(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Empty(t, mine)

	_, err = f.svc.GetOrder(ctx, order.ID)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	err = f.svc.DeleteOrder(ctx, order.ID)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestAdminMutationsAreAudited(t *testing.T) {
	f := newFixture()
	ctx := audit.WithActor(context.Background(), "admin@shop")

	order, err := f.svc.CreateOrder(ctx, sampleDraft("a@b.com"))
	require.NoError(t, err)
	_, err = f.svc.UpdateOrderStatus(ctx, order.ID, models.OrderStatusShipped)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteOrder(ctx, order.ID))

	entries, err := f.svc.AuditLog().List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "delete_order", entries[0].Action)
	assert.Equal(t, "update_status", entries[1].Action)
	assert.Equal(t, "admin@shop", entries[1].User)
}

func TestConcurrentStatusUpdatesAreRetried(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, sampleDraft("a@b.com"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, status := range []models.OrderStatus{models.OrderStatusProcessing, models.OrderStatusShipped} {
		wg.Add(1)
		go func(status models.OrderStatus) {
			defer wg.Done()
			_, err := f.svc.UpdateOrderStatus(ctx, order.ID, status)
			assert.NoError(t, err)
		}(status)
	}
	wg.Wait()

	got, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
}
