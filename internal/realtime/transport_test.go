package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/internal/repository"
	"github.com/vaidashi/storefront-sync/pkg/kafka"
	"github.com/vaidashi/storefront-sync/pkg/logger"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return mr, client
}

type signalLog struct {
	mu      sync.Mutex
	signals []models.ChangeSignal
}

func (l *signalLog) handle(_ context.Context, sig models.ChangeSignal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signals = append(l.signals, sig)
}

func (l *signalLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.signals)
}

func TestMemoryTransportDeliversToEveryListener(t *testing.T) {
	bus := NewMemoryBus(logger.Nop())
	a, b := bus.Connect(), bus.Connect()

	logA, logB := &signalLog{}, &signalLog{}
	require.NoError(t, a.Listen(logA.handle))
	require.NoError(t, b.Listen(logB.handle))

	require.NoError(t, a.Publish(context.Background(), models.NewChangeSignal("a", models.ChangeOrderCreated, "ORD-1")))

	assert.Eventually(t, func() bool { return logA.len() == 1 && logB.len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Close())
	require.NoError(t, a.Publish(context.Background(), models.NewChangeSignal("a", models.ChangeOrderDeleted, "ORD-1")))

	assert.Eventually(t, func() bool { return logA.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, logB.len())
	require.NoError(t, a.Close())
}

func TestRedisTransportRoundTrip(t *testing.T) {
	_, client := setupTestRedis(t)

	sender := NewRedisTransport(client, "shop", logger.Nop())
	receiver := NewRedisTransport(client, "shop", logger.Nop())

	got := &signalLog{}
	require.NoError(t, receiver.Listen(got.handle))
	defer receiver.Close()

	sig := models.NewChangeSignal("ctx-a", models.ChangeNotificationAdded, "NTF1")
	require.NoError(t, sender.Publish(context.Background(), sig))

	assert.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 10*time.Millisecond)

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, sig.EventID, got.signals[0].EventID)
	assert.Equal(t, models.TopicNotifications, got.signals[0].Topic)
	assert.Equal(t, "shop:notifications_updated", sender.Channel(sig.Topic))
}

func TestRedisTransportPropagatesBetweenHubs(t *testing.T) {
	_, client := setupTestRedis(t)
	orders := repository.NewRedisOrderRepository(client, "shop", logger.Nop())
	notifications := repository.NewRedisNotificationRepository(client, "shop", logger.Nop())

	writer := NewHub(orders, notifications, NewRedisTransport(client, "shop", logger.Nop()), logger.Nop())
	reader := NewHub(orders, notifications, NewRedisTransport(client, "shop", logger.Nop()), logger.Nop())
	require.NoError(t, writer.Start(context.Background()))
	require.NoError(t, reader.Start(context.Background()))
	defer writer.Stop()
	defer reader.Stop()

	remote := &snapshots{}
	reader.Subscribe(remote.listener)

	newOrder(t, orders, "ORD-1", "a@b.com")
	writer.OrdersChanged(context.Background(), models.ChangeOrderCreated, "ORD-1")

	assert.Eventually(t, func() bool { return remote.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"ORD-1"}, remote.ids())
}

func TestKafkaTransportPublishesKeyedByTopic(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "storefront.changes" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != models.TopicOrders {
			return errors.New("unexpected key " + string(key))
		}
		return nil
	})

	transport := newKafkaTransport("storefront.changes", kafka.NewProducerFromSarama(mock, logger.Nop()), nil, logger.Nop())

	err := transport.Publish(context.Background(), models.NewChangeSignal("ctx-a", models.ChangeOrderStatusChanged, "ORD-1"))
	require.NoError(t, err)
	require.NoError(t, transport.Close())
}

func TestSignalMessageHandler(t *testing.T) {
	got := &signalLog{}
	h := &signalMessageHandler{handle: got.handle, logger: logger.Nop()}

	sig := models.NewChangeSignal("ctx-a", models.ChangeOrderDeleted, "ORD-1")
	payload, err := sig.Marshal()
	require.NoError(t, err)

	require.NoError(t, h.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: payload}))
	assert.Equal(t, 1, got.len())

	assert.Error(t, h.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte("not json")}))

	unknown := `{"topic":"carts","origin":"ctx-a"}`
	require.NoError(t, h.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte(unknown)}))
	assert.Equal(t, 1, got.len())
}
