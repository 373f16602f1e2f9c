package api

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/vaidashi/storefront-sync/internal/audit"
	"github.com/vaidashi/storefront-sync/internal/config"
	"github.com/vaidashi/storefront-sync/internal/database"
	"github.com/vaidashi/storefront-sync/internal/mailer"
	"github.com/vaidashi/storefront-sync/internal/pricing"
	"github.com/vaidashi/storefront-sync/internal/realtime"
	"github.com/vaidashi/storefront-sync/internal/repository"
	"github.com/vaidashi/storefront-sync/internal/service"
	"github.com/vaidashi/storefront-sync/internal/shipping"
	"github.com/vaidashi/storefront-sync/pkg/logger"
	"github.com/vaidashi/storefront-sync/pkg/ratelimit"
)

// shippingSessionTTL is how long an idle checkout keeps its stale-response guard
const shippingSessionTTL = 30 * time.Minute

type storage struct {
	orders        repository.OrderRepository
	notifications repository.NotificationRepository
	audit         audit.Log
	redis         *redis.Client
	closers       []func() error
}

// NewServer builds every component selected by cfg and returns a server ready to Start
func NewServer(cfg *config.Config, logger logger.Logger) (*Server, error) {
	store, err := openStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	transport, err := openTransport(cfg, store, logger)
	if err != nil {
		closeAll(store.closers, logger)
		return nil, err
	}

	hub := realtime.NewHub(store.orders, store.notifications, transport, logger.With("component", "hub"))

	var dispatcher mailer.Dispatcher = mailer.Nop{}
	if cfg.Mail.SendGridAPIKey != "" {
		dispatcher = mailer.NewSendGrid(cfg.Mail.SendGridAPIKey, cfg.Mail.From, logger)
	}

	notifications := service.NewNotificationService(store.notifications, hub, dispatcher, logger)
	orders := service.NewOrderService(store.orders, notifications, hub, store.audit, logger)

	deps := Dependencies{
		Orders:        orders,
		Notifications: notifications,
		Hub:           hub,
		Poller:        realtime.NewPoller(hub, cfg.Sync.PollInterval, logger),
		Audit:         store.audit,
		PromoLimiter:  ratelimit.NewKeyedLimiter(cfg.PromoLimit.Burst, cfg.PromoLimit.Refill, time.Minute),
		Closers:       store.closers,
	}

	var estimator *shipping.Estimator
	if cfg.Shipping.CarrierAPIURL != "" {
		carrier := shipping.NewCarrierClient(cfg.Shipping.CarrierAPIURL, logger)
		deps.CarrierBreaker = carrier.Breaker()
		estimator = shipping.NewEstimator(cfg.Shipping.Latency, carrier, logger)
	} else {
		estimator = shipping.NewEstimator(cfg.Shipping.Latency, nil, logger)
	}

	deps.Sessions = shipping.NewSessions(estimator, shippingSessionTTL)
	deps.Checkout = service.NewCheckoutService(
		orders,
		pricing.NewCalculator(cfg.Checkout.TaxRate, cfg.Checkout.ClampDiscount),
		estimator,
		logger,
	)

	logger.Info("Server wired",
		"storage", cfg.StorageDriver,
		"transport", cfg.Sync.Transport,
		"pollInterval", cfg.Sync.PollInterval,
		"carrierAPI", cfg.Shipping.CarrierAPIURL != "")

	return newServer(cfg, deps, logger), nil
}

func openStorage(cfg *config.Config, logger logger.Logger) (*storage, error) {
	switch cfg.StorageDriver {
	case config.StorageRedis:
		client, err := openRedis(cfg)
		if err != nil {
			return nil, err
		}
		return &storage{
			orders:        repository.NewRedisOrderRepository(client, cfg.Redis.KeyPrefix, logger),
			notifications: repository.NewRedisNotificationRepository(client, cfg.Redis.KeyPrefix, logger),
			audit:         audit.NewRedisLog(client, cfg.Redis.KeyPrefix, audit.DefaultLimit),
			redis:         client,
			closers:       []func() error{client.Close},
		}, nil

	case config.StoragePostgres:
		db, err := database.New(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.RunMigrations(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		return &storage{
			orders:        repository.NewPostgresOrderRepository(db, logger),
			notifications: repository.NewPostgresNotificationRepository(db, logger),
			audit:         audit.NewMemoryLog(audit.DefaultLimit),
			closers:       []func() error{db.Close},
		}, nil

	default:
		return &storage{
			orders:        repository.NewMemoryOrderRepository(),
			notifications: repository.NewMemoryNotificationRepository(),
			audit:         audit.NewMemoryLog(audit.DefaultLimit),
		}, nil
	}
}

func openTransport(cfg *config.Config, store *storage, logger logger.Logger) (realtime.Transport, error) {
	switch cfg.Sync.Transport {
	case config.TransportRedis:
		client := store.redis
		if client == nil {
			var err error
			if client, err = openRedis(cfg); err != nil {
				return nil, err
			}
			store.closers = append(store.closers, client.Close)
		}
		return realtime.NewRedisTransport(client, cfg.Redis.KeyPrefix, logger), nil

	case config.TransportKafka:
		// every process needs its own group so each one receives every signal
		group := fmt.Sprintf("%s-%s", cfg.Kafka.GroupPrefix, uuid.NewString())
		transport, err := realtime.NewKafkaTransport(realtime.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Group:   group,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka transport: %w", err)
		}
		return transport, nil

	default:
		return realtime.NopTransport{}, nil
	}
}

func openRedis(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	return client, nil
}

func closeAll(closers []func() error, logger logger.Logger) {
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("Error closing connection", "error", err)
		}
	}
}
