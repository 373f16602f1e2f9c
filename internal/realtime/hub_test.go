package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/internal/repository"
	"github.com/vaidashi/storefront-sync/pkg/logger"
)

type snapshots struct {
	mu   sync.Mutex
	last []*models.Order
	hits int
}

func (s *snapshots) listener(orders []*models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = orders
	s.hits++
}

func (s *snapshots) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits
}

func (s *snapshots) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.last))
	for _, o := range s.last {
		out = append(out, o.ID)
	}
	return out
}

func newOrder(t *testing.T, repo repository.OrderRepository, id, email string) *models.Order {
	t.Helper()
	o := models.NewOrder(models.OrderDraft{ID: id, UserEmail: email}, time.Now())
	require.NoError(t, repo.Create(context.Background(), o))
	return o
}

func TestOrdersChangedDeliversFullSnapshotSynchronously(t *testing.T) {
	orders := repository.NewMemoryOrderRepository()
	hub := NewHub(orders, repository.NewMemoryNotificationRepository(), nil, logger.Nop())

	first, second := &snapshots{}, &snapshots{}
	hub.Subscribe(first.listener)
	unsubscribe := hub.Subscribe(second.listener)

	newOrder(t, orders, "ORD-1", "a@b.com")
	hub.OrdersChanged(context.Background(), models.ChangeOrderCreated, "ORD-1")

	assert.Equal(t, []string{"ORD-1"}, first.ids())
	assert.Equal(t, []string{"ORD-1"}, second.ids())

	unsubscribe()
	newOrder(t, orders, "ORD-2", "a@b.com")
	hub.OrdersChanged(context.Background(), models.ChangeOrderCreated, "ORD-2")

	assert.Equal(t, []string{"ORD-1", "ORD-2"}, first.ids())
	assert.Equal(t, 1, second.count())
}

func TestSubscriberPanicDoesNotStopOthers(t *testing.T) {
	orders := repository.NewMemoryOrderRepository()
	hub := NewHub(orders, repository.NewMemoryNotificationRepository(), nil, logger.Nop())

	hub.Subscribe(func([]*models.Order) { panic("boom") })
	healthy := &snapshots{}
	hub.Subscribe(healthy.listener)

	newOrder(t, orders, "ORD-1", "a@b.com")
	hub.OrdersChanged(context.Background(), models.ChangeOrderCreated, "ORD-1")

	assert.Equal(t, 1, healthy.count())
}

func TestSubscribersGetIndependentCopies(t *testing.T) {
	orders := repository.NewMemoryOrderRepository()
	hub := NewHub(orders, repository.NewMemoryNotificationRepository(), nil, logger.Nop())

	hub.Subscribe(func(list []*models.Order) { list[0].Status = models.OrderStatusCancelled })
	observer := &snapshots{}
	hub.Subscribe(observer.listener)

	newOrder(t, orders, "ORD-1", "a@b.com")
	hub.OrdersChanged(context.Background(), models.ChangeOrderCreated, "ORD-1")

	stored, err := orders.GetByID(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
}

func TestNotificationSubscriberFiltersByRecipient(t *testing.T) {
	notifications := repository.NewMemoryNotificationRepository()
	hub := NewHub(repository.NewMemoryOrderRepository(), notifications, nil, logger.Nop())

	var mine, all []*models.Notification
	hub.SubscribeNotifications("a@b.com", func(list []*models.Notification) { mine = list })
	hub.SubscribeNotifications("", func(list []*models.Notification) { all = list })

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, email := range []string{"a@b.com", "c@d.com", "a@b.com"} {
		n := models.NewNotification(models.NotificationDraft{UserEmail: email, Message: email}, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, notifications.Create(context.Background(), n))
	}
	hub.NotificationsChanged(context.Background(), models.ChangeNotificationAdded, "")

	require.Len(t, mine, 2)
	assert.True(t, mine[0].CreatedAt.After(mine[1].CreatedAt))
	assert.Len(t, all, 3)
}

func TestHubIgnoresItsOwnRemoteSignal(t *testing.T) {
	orders := repository.NewMemoryOrderRepository()
	hub := NewHub(orders, repository.NewMemoryNotificationRepository(), nil, logger.Nop())

	seen := &snapshots{}
	hub.Subscribe(seen.listener)

	hub.handleRemote(context.Background(), models.NewChangeSignal(hub.Origin(), models.ChangeOrderCreated, "ORD-1"))
	assert.Equal(t, 0, seen.count())

	hub.handleRemote(context.Background(), models.NewChangeSignal("someone-else", models.ChangeOrderCreated, "ORD-1"))
	assert.Equal(t, 1, seen.count())
}

func TestMemoryBusPropagatesAcrossContexts(t *testing.T) {
	orders := repository.NewMemoryOrderRepository()
	notifications := repository.NewMemoryNotificationRepository()
	bus := NewMemoryBus(logger.Nop())

	writer := NewHub(orders, notifications, bus.Connect(), logger.Nop())
	reader := NewHub(orders, notifications, bus.Connect(), logger.Nop())
	require.NoError(t, writer.Start(context.Background()))
	require.NoError(t, reader.Start(context.Background()))
	defer writer.Stop()
	defer reader.Stop()

	local, remote := &snapshots{}, &snapshots{}
	writer.Subscribe(local.listener)
	reader.Subscribe(remote.listener)

	newOrder(t, orders, "ORD-1", "a@b.com")
	writer.OrdersChanged(context.Background(), models.ChangeOrderCreated, "ORD-1")

	// the writer is updated before OrdersChanged returns
	assert.Equal(t, []string{"ORD-1"}, local.ids())

	assert.Eventually(t, func() bool {
		return remote.count() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"ORD-1"}, remote.ids())
}

func TestPollRefreshesWhenSignalIsLost(t *testing.T) {
	orders := repository.NewMemoryOrderRepository()
	notifications := repository.NewMemoryNotificationRepository()

	// no transport: the reader only learns about changes by polling
	reader := NewHub(orders, notifications, nil, logger.Nop())
	require.NoError(t, reader.Start(context.Background()))

	seen := &snapshots{}
	reader.Subscribe(seen.listener)

	require.NoError(t, reader.Poll(context.Background()))
	assert.Equal(t, 0, seen.count())

	newOrder(t, orders, "ORD-1", "a@b.com")

	require.NoError(t, reader.Poll(context.Background()))
	assert.Equal(t, []string{"ORD-1"}, seen.ids())

	// nothing moved since the last delivery
	require.NoError(t, reader.Poll(context.Background()))
	assert.Equal(t, 1, seen.count())
}

func TestPollerTicksHub(t *testing.T) {
	orders := repository.NewMemoryOrderRepository()
	reader := NewHub(orders, repository.NewMemoryNotificationRepository(), nil, logger.Nop())
	require.NoError(t, reader.Start(context.Background()))

	seen := &snapshots{}
	reader.Subscribe(seen.listener)

	poller := NewPoller(reader, 10*time.Millisecond, logger.Nop())
	poller.Start()
	defer poller.Stop()

	newOrder(t, orders, "ORD-1", "a@b.com")

	assert.Eventually(t, func() bool {
		return seen.count() >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestRefreshUnknownTopic(t *testing.T) {
	hub := NewHub(repository.NewMemoryOrderRepository(), repository.NewMemoryNotificationRepository(), nil, logger.Nop())
	assert.Error(t, hub.Refresh(context.Background(), "carts"))
}

// gatedOrders holds the result of the first GetAll until release is closed
type gatedOrders struct {
	repository.OrderRepository
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedOrders) GetAll(ctx context.Context) ([]*models.Order, error) {
	first := false
	g.once.Do(func() { first = true })

	list, err := g.OrderRepository.GetAll(ctx)
	if first {
		close(g.entered)
		<-g.release
	}
	return list, err
}

func TestRefreshJoiningOlderLoadReloads(t *testing.T) {
	base := repository.NewMemoryOrderRepository()
	orders := &gatedOrders{
		OrderRepository: base,
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	hub := NewHub(orders, repository.NewMemoryNotificationRepository(), nil, logger.Nop())

	seen := &snapshots{}
	hub.Subscribe(seen.listener)

	ctx := context.Background()
	firstDone := make(chan error, 1)
	go func() { firstDone <- hub.Refresh(ctx, models.TopicOrders) }()
	<-orders.entered

	// written after the in-flight load read its revision
	newOrder(t, base, "ORD-1", "a@b.com")

	secondDone := make(chan error, 1)
	go func() { secondDone <- hub.Refresh(ctx, models.TopicOrders) }()

	time.Sleep(50 * time.Millisecond)
	close(orders.release)

	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)
	assert.Equal(t, []string{"ORD-1"}, seen.ids())
}
