package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/internal/repository"
	"github.com/vaidashi/storefront-sync/pkg/logger"
)

// OrderListener receives the full order collection after every change
type OrderListener func(orders []*models.Order)

// NotificationListener receives a notification list after every change
type NotificationListener func(notifications []*models.Notification)

type notificationSub struct {
	email    string
	listener NotificationListener
}

// Hub delivers full snapshots to the subscribers of one context. Local mutations are
// delivered synchronously before the mutating call returns; mutations from other contexts
// arrive through the transport or, if a signal is lost, the poller.
type Hub struct {
	origin        string
	orders        repository.OrderRepository
	notifications repository.NotificationRepository
	transport     Transport
	logger        logger.Logger

	mu        sync.RWMutex
	nextID    int
	orderSubs map[int]OrderListener
	notifSubs map[int]notificationSub

	group singleflight.Group

	revMu sync.Mutex
	seen  map[string]int64
}

// NewHub creates a hub for one context. transport may be nil.
func NewHub(
	orders repository.OrderRepository,
	notifications repository.NotificationRepository,
	transport Transport,
	logger logger.Logger,
) *Hub {
	if transport == nil {
		transport = NopTransport{}
	}

	origin := uuid.NewString()

	return &Hub{
		origin:        origin,
		orders:        orders,
		notifications: notifications,
		transport:     transport,
		logger:        logger.With("origin", origin),
		orderSubs:     make(map[int]OrderListener),
		notifSubs:     make(map[int]notificationSub),
		seen:          make(map[string]int64),
	}
}

// Origin identifies this context on the transport
func (h *Hub) Origin() string {
	return h.origin
}

// Start records the current revisions and begins listening for remote signals
func (h *Hub) Start(ctx context.Context) error {
	for _, topic := range []string{models.TopicOrders, models.TopicNotifications} {
		rev, err := h.revision(ctx, topic)
		if err != nil {
			return fmt.Errorf("failed to read %s revision: %w", topic, err)
		}
		h.markSeen(topic, rev)
	}

	if err := h.transport.Listen(h.handleRemote); err != nil {
		return fmt.Errorf("failed to listen for change signals: %w", err)
	}

	h.logger.Info("Sync hub started")
	return nil
}

// Stop detaches from the transport
func (h *Hub) Stop() error {
	err := h.transport.Close()
	h.logger.Info("Sync hub stopped")
	return err
}

// Subscribe registers listener for order snapshots and returns its unsubscribe func
func (h *Hub) Subscribe(listener OrderListener) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.orderSubs[id] = listener

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.orderSubs, id)
	}
}

// SubscribeNotifications registers listener for notification snapshots. With email set
// the listener gets that recipient's notifications, newest first; otherwise all of them
// in creation order.
func (h *Hub) SubscribeNotifications(email string, listener NotificationListener) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.notifSubs[id] = notificationSub{email: email, listener: listener}

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.notifSubs, id)
	}
}

// OrdersChanged delivers the current orders to local subscribers, then signals other contexts
func (h *Hub) OrdersChanged(ctx context.Context, kind models.ChangeKind, entityID string) {
	if err := h.refreshOrders(ctx); err != nil {
		h.logger.Error("Failed to load orders for subscribers", "error", err, "kind", kind, "entityID", entityID)
	}
	h.publish(ctx, kind, entityID)
}

// NotificationsChanged delivers the current notifications to local subscribers, then
// signals other contexts
func (h *Hub) NotificationsChanged(ctx context.Context, kind models.ChangeKind, entityID string) {
	if err := h.refreshNotifications(ctx); err != nil {
		h.logger.Error("Failed to load notifications for subscribers", "error", err, "kind", kind, "entityID", entityID)
	}
	h.publish(ctx, kind, entityID)
}

// Refresh reloads topic and notifies subscribers. Concurrent refreshes of the same topic
// share one load; a caller that joined a load started before its change was written
// loads again.
func (h *Hub) Refresh(ctx context.Context, topic string) error {
	_, err, shared := h.group.Do(topic, func() (interface{}, error) {
		return nil, h.load(ctx, topic)
	})
	if err != nil || !shared {
		return err
	}

	rev, err := h.revision(ctx, topic)
	if err != nil {
		return fmt.Errorf("failed to read %s revision: %w", topic, err)
	}
	if rev == h.lastSeen(topic) {
		h.logger.Debug("Coalesced refresh", "topic", topic)
		return nil
	}

	h.logger.Debug("Revision moved during shared refresh", "topic", topic, "revision", rev)
	return h.load(ctx, topic)
}

func (h *Hub) load(ctx context.Context, topic string) error {
	switch topic {
	case models.TopicOrders:
		return h.refreshOrders(ctx)
	case models.TopicNotifications:
		return h.refreshNotifications(ctx)
	default:
		return fmt.Errorf("unknown topic %q", topic)
	}
}

// Poll refreshes every collection whose revision moved since it was last delivered
func (h *Hub) Poll(ctx context.Context) error {
	for _, topic := range []string{models.TopicOrders, models.TopicNotifications} {
		rev, err := h.revision(ctx, topic)
		if err != nil {
			return fmt.Errorf("failed to read %s revision: %w", topic, err)
		}

		if rev == h.lastSeen(topic) {
			continue
		}

		h.logger.Debug("Revision moved without a signal", "topic", topic, "revision", rev)
		if err := h.Refresh(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

// handleRemote reacts to a signal from the transport. The writer already updated its own
// subscribers synchronously, so signals carrying this hub's origin are ignored.
func (h *Hub) handleRemote(ctx context.Context, sig models.ChangeSignal) {
	if sig.Origin == h.origin {
		return
	}

	h.logger.Debug("Remote change received", "topic", sig.Topic, "kind", sig.Kind, "from", sig.Origin)

	if err := h.Refresh(ctx, sig.Topic); err != nil {
		h.logger.Error("Failed to refresh after remote change", "error", err, "topic", sig.Topic)
	}
}

func (h *Hub) publish(ctx context.Context, kind models.ChangeKind, entityID string) {
	sig := models.NewChangeSignal(h.origin, kind, entityID)
	if err := h.transport.Publish(ctx, sig); err != nil {
		h.logger.Warn("Failed to publish change signal", "error", err, "topic", sig.Topic, "kind", kind)
	}
}

func (h *Hub) refreshOrders(ctx context.Context) error {
	rev, err := h.orders.Revision(ctx)
	if err != nil {
		return err
	}

	orders, err := h.orders.GetAll(ctx)
	if err != nil {
		return err
	}
	h.markSeen(models.TopicOrders, rev)

	h.mu.RLock()
	listeners := make([]OrderListener, 0, len(h.orderSubs))
	for _, l := range h.orderSubs {
		listeners = append(listeners, l)
	}
	h.mu.RUnlock()

	for _, l := range listeners {
		h.deliver(func() { l(models.CloneOrders(orders)) })
	}
	return nil
}

func (h *Hub) refreshNotifications(ctx context.Context) error {
	rev, err := h.notifications.Revision(ctx)
	if err != nil {
		return err
	}

	all, err := h.notifications.GetAll(ctx)
	if err != nil {
		return err
	}
	h.markSeen(models.TopicNotifications, rev)

	h.mu.RLock()
	subs := make([]notificationSub, 0, len(h.notifSubs))
	for _, s := range h.notifSubs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		list := models.CloneNotifications(all)
		if s.email != "" {
			list = forRecipient(list, s.email)
		}
		l := s.listener
		h.deliver(func() { l(list) })
	}
	return nil
}

// deliver runs one listener, keeping a panicking subscriber from affecting the others
func (h *Hub) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Subscriber panicked", "panic", r)
		}
	}()
	fn()
}

func (h *Hub) revision(ctx context.Context, topic string) (int64, error) {
	if topic == models.TopicNotifications {
		return h.notifications.Revision(ctx)
	}
	return h.orders.Revision(ctx)
}

func (h *Hub) markSeen(topic string, rev int64) {
	h.revMu.Lock()
	defer h.revMu.Unlock()
	h.seen[topic] = rev
}

func (h *Hub) lastSeen(topic string) int64 {
	h.revMu.Lock()
	defer h.revMu.Unlock()
	return h.seen[topic]
}

// forRecipient filters list (creation order) to email, newest first
func forRecipient(list []*models.Notification, email string) []*models.Notification {
	out := make([]*models.Notification, 0)
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].UserEmail == email {
			out = append(out, list[i])
		}
	}
	return out
}
