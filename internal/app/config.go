package app

import "time"

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Поддерживаемые драйверы сессий посетителей.
const (
	SessionDriverMemory = "memory"
	SessionDriverRedis  = "redis"
)

// Config описывает настройки запуска сервиса магазина.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	SessionDriver string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration

	KafkaBrokers string
	KafkaTopic   string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	OrderEmailTo string

	AdminToken string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
	IdempotencyStaleAfter       time.Duration
}

// DefaultConfig возвращает настройки для локального запуска без внешних сервисов.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		SessionDriver: SessionDriverMemory,
		RedisAddr:     "localhost:6379",
		SessionTTL:    14 * 24 * time.Hour,

		KafkaTopic: "shop.order.events",

		SMTPPort:     587,
		OrderEmailTo: "orders@localhost",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		IdempotencyStaleAfter:       2 * time.Minute,
	}
}
