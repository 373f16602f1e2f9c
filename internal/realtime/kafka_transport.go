package realtime

import (
	"context"
	"fmt"

	"github.com/Shopify/sarama"

	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/pkg/kafka"
	"github.com/vaidashi/storefront-sync/pkg/logger"
)

// KafkaConfig configures a KafkaTransport
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// Group must be unique per context so every context sees every signal
	Group string
}

// signalConsumer is the part of kafka.Consumer the transport drives
type signalConsumer interface {
	RegisterHandler(topic string, handler kafka.MessageHandler)
	Start() error
	Stop() error
}

// KafkaTransport broadcasts signals through a Kafka topic keyed by collection
type KafkaTransport struct {
	topic    string
	producer *kafka.Producer
	consumer signalConsumer
	logger   logger.Logger
}

// NewKafkaTransport connects a producer and a consumer group to cfg.Brokers
func NewKafkaTransport(cfg KafkaConfig, logger logger.Logger) (*KafkaTransport, error) {
	producer, err := kafka.NewProducer(cfg.Brokers, cfg.Group, logger)
	if err != nil {
		return nil, err
	}

	consumer, err := kafka.NewConsumer(&kafka.ConsumerConfig{
		Brokers:         cfg.Brokers,
		Topics:          []string{cfg.Topic},
		ConsumerGroup:   cfg.Group,
		StartFromNewest: true,
	}, logger)
	if err != nil {
		producer.Close()
		return nil, err
	}

	return newKafkaTransport(cfg.Topic, producer, consumer, logger), nil
}

func newKafkaTransport(topic string, producer *kafka.Producer, consumer signalConsumer, logger logger.Logger) *KafkaTransport {
	return &KafkaTransport{
		topic:    topic,
		producer: producer,
		consumer: consumer,
		logger:   logger,
	}
}

func (t *KafkaTransport) Publish(ctx context.Context, sig models.ChangeSignal) error {
	payload, err := sig.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode change signal: %w", err)
	}

	return t.producer.SendMessage(ctx, t.topic, sig.Topic, payload, map[string]string{
		"origin": sig.Origin,
		"kind":   string(sig.Kind),
	})
}

func (t *KafkaTransport) Listen(handler SignalHandler) error {
	if t.consumer == nil {
		return nil
	}
	t.consumer.RegisterHandler(t.topic, &signalMessageHandler{handle: handler, logger: t.logger})
	return t.consumer.Start()
}

func (t *KafkaTransport) Close() error {
	var consumerErr error
	if t.consumer != nil {
		consumerErr = t.consumer.Stop()
	}
	if err := t.producer.Close(); err != nil {
		return err
	}
	return consumerErr
}

// signalMessageHandler decodes change signals from Kafka messages
type signalMessageHandler struct {
	handle SignalHandler
	logger logger.Logger
}

// HandleMessage handles an incoming change signal
func (h *signalMessageHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	sig, err := models.UnmarshalChangeSignal(msg.Value)
	if err != nil {
		h.logger.Error("failed to unmarshal change signal", "error", err, "offset", msg.Offset)
		return fmt.Errorf("failed to unmarshal change signal: %w", err)
	}

	switch sig.Topic {
	case models.TopicOrders, models.TopicNotifications:
	default:
		h.logger.Warn("unknown change topic", "topic", sig.Topic, "eventID", sig.EventID)
		return nil
	}

	h.logger.Debug("Handling change signal",
		"topic", sig.Topic,
		"kind", sig.Kind,
		"origin", sig.Origin,
		"eventID", sig.EventID)

	h.handle(ctx, sig)
	return nil
}
