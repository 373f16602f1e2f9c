package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Sync transports
const (
	TransportNone  = "none"
	TransportRedis = "redis"
	TransportKafka = "kafka"
)

type Config struct {
	Port          int
	LogLevel      string
	Env           string
	StorageDriver string
	DB            DBConfig
	Redis         RedisConfig
	Sync          SyncConfig
	Kafka         KafkaConfig
	Checkout      CheckoutConfig
	Shipping      ShippingConfig
	Mail          MailConfig
	PromoLimit    RateLimitConfig
	Tracing       bool
}

// DBConfig holds the database configuration
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig holds the Redis connection used for storage, audit and pub/sub
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// SyncConfig controls how contexts learn about each other's writes
type SyncConfig struct {
	Transport    string
	PollInterval time.Duration
}

// KafkaConfig holds the broker settings for the Kafka sync transport
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	GroupPrefix string
}

// CheckoutConfig holds pricing knobs
type CheckoutConfig struct {
	TaxRate       float64
	ClampDiscount bool
}

// ShippingConfig holds rate-estimation settings
type ShippingConfig struct {
	Latency       time.Duration
	CarrierAPIURL string
}

// MailConfig holds e-mail dispatch settings; an empty key disables e-mail
type MailConfig struct {
	SendGridAPIKey string
	From           string
}

// RateLimitConfig holds token-bucket parameters
type RateLimitConfig struct {
	Burst  float64
	Refill float64
}

// getEnv retrieves the value of an environment variable or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}

	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	v, err := strconv.ParseFloat(getEnv(key, strconv.FormatFloat(defaultValue, 'f', -1, 64)), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v, err := time.ParseDuration(getEnv(key, defaultValue.String()))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

// Load reads .env (when present) and then the environment. Variables already set in the
// environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	return fromEnv()
}

func fromEnv() (*Config, error) {
	cfg := &Config{
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Env:           getEnv("APP_ENV", "development"),
		StorageDriver: strings.ToLower(getEnv("STORAGE_DRIVER", StorageMemory)),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "storefront"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "storefront"),
		},
		Kafka: KafkaConfig{
			Brokers:     splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			Topic:       getEnv("KAFKA_SYNC_TOPIC", "storefront.changes"),
			GroupPrefix: getEnv("KAFKA_GROUP_PREFIX", "storefront-sync"),
		},
		Shipping: ShippingConfig{
			CarrierAPIURL: getEnv("CARRIER_API_URL", ""),
		},
		Mail: MailConfig{
			SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
			From:           getEnv("MAIL_FROM", "orders@storefront.local"),
		},
	}

	var err error

	if cfg.Port, err = getInt("PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.DB.Port, err = getInt("DB_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.Sync.PollInterval, err = getDuration("SYNC_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Checkout.TaxRate, err = getFloat("TAX_RATE", 0.08); err != nil {
		return nil, err
	}
	if cfg.Checkout.ClampDiscount, err = getBool("CLAMP_DISCOUNT", true); err != nil {
		return nil, err
	}
	if cfg.Shipping.Latency, err = getDuration("SHIPPING_LATENCY", 400*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.Tracing, err = getBool("TRACING_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.PromoLimit.Burst, err = getFloat("PROMO_RATE_BURST", 10); err != nil {
		return nil, err
	}
	if cfg.PromoLimit.Refill, err = getFloat("PROMO_RATE_REFILL", 1); err != nil {
		return nil, err
	}

	cfg.Sync.Transport = strings.ToLower(getEnv("SYNC_TRANSPORT", TransportNone))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case StorageMemory, StorageRedis, StoragePostgres:
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER %q", c.StorageDriver)
	}

	switch c.Sync.Transport {
	case TransportNone, TransportRedis, TransportKafka:
	default:
		return fmt.Errorf("invalid SYNC_TRANSPORT %q", c.Sync.Transport)
	}

	if c.Checkout.TaxRate < 0 {
		return fmt.Errorf("invalid TAX_RATE: must not be negative")
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetDBConnString returns the database connection string
func (c *Config) GetDBConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}
