package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort int    `envconfig:"PAYMENTS_HTTP_PORT" default:"8082"`

	StorageDriver  string `envconfig:"PAYMENTS_STORAGE_DRIVER" default:"postgres"`
	MigrationsPath string `envconfig:"PAYMENTS_MIGRATIONS_PATH" default:"file://migrations"`

	DBConfig struct {
		Host     string `envconfig:"PAYMENTS_DB_HOST" default:"localhost"`
		Port     int    `envconfig:"PAYMENTS_DB_PORT" default:"5432"`
		User     string `envconfig:"PAYMENTS_DB_USER" default:"user"`
		Password string `envconfig:"PAYMENTS_DB_PASSWORD" default:"password"`
		Name     string `envconfig:"PAYMENTS_DB_NAME" default:"payments_db"`
		SSLMode  string `envconfig:"PAYMENTS_DB_SSLMODE" default:"disable"`
	}

	KafkaBrokerURL          string `envconfig:"KAFKA_BROKER_URL" default:"localhost:9092"`
	KafkaPaymentsTopic      string `envconfig:"KAFKA_PAYMENTS_TOPIC" default:"payments_exchange"`
	KafkaOrderCanceledTopic string `envconfig:"KAFKA_ORDER_CANCELED_TOPIC" default:"order_canceled"`
	KafkaAuthTopic          string `envconfig:"KAFKA_AUTH_TOPIC" default:"auth"`
	KafkaConsumerGroup      string `envconfig:"KAFKA_CONSUMER_GROUP" default:"payments-service-group"`

	RedisURL string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`

	OrdersServiceURL   string        `envconfig:"ORDERS_URL" default:"http://localhost:3004/v1"`
	OrdersDeriveTotals bool          `envconfig:"ORDERS_DERIVE_TOTALS" default:"true"`
	AuthServiceURL     string        `envconfig:"AUTH_URL" default:"http://localhost:3000/v1"`
	IdentityCacheTTL   time.Duration `envconfig:"IDENTITY_CACHE_TTL" default:"1h"`

	BankSettlementDelay time.Duration `envconfig:"BANK_SETTLEMENT_DELAY" default:"5s"`
	RefundBaseDelay     time.Duration `envconfig:"REFUND_BASE_DELAY" default:"1s"`
}

func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs error
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("PAYMENTS_HTTP_PORT must be a valid port, got %d", c.HTTPPort))
	}
	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.DBConfig.Host == "" || c.DBConfig.Name == "" {
			errs = multierr.Append(errs, errors.New("PAYMENTS_DB_HOST and PAYMENTS_DB_NAME are required for the postgres driver"))
		}
	case StorageDriverMemory:
	default:
		errs = multierr.Append(errs, fmt.Errorf("PAYMENTS_STORAGE_DRIVER must be %q or %q, got %q",
			StorageDriverPostgres, StorageDriverMemory, c.StorageDriver))
	}
	if len(c.GetKafkaBrokers()) == 0 {
		errs = multierr.Append(errs, errors.New("KAFKA_BROKER_URL is required"))
	}
	if c.KafkaPaymentsTopic == "" || c.KafkaOrderCanceledTopic == "" || c.KafkaAuthTopic == "" {
		errs = multierr.Append(errs, errors.New("kafka topics must not be empty"))
	}
	for name, raw := range map[string]string{"ORDERS_URL": c.OrdersServiceURL, "AUTH_URL": c.AuthServiceURL, "REDIS_URL": c.RedisURL} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = multierr.Append(errs, fmt.Errorf("%s must be an absolute URL, got %q", name, raw))
		}
	}
	if c.BankSettlementDelay <= 0 {
		errs = multierr.Append(errs, errors.New("BANK_SETTLEMENT_DELAY must be positive"))
	}
	if c.RefundBaseDelay <= 0 {
		errs = multierr.Append(errs, errors.New("REFUND_BASE_DELAY must be positive"))
	}
	return errs
}

func (c *Config) GetDBMigrationConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBConfig.User), url.QueryEscape(c.DBConfig.Password),
		c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetKafkaBrokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokerURL, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
