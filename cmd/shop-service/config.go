package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/shop/internal/app"
)

// Ключи конфигурации. В окружении читаются с префиксом SHOP_ в верхнем регистре.
const (
	keyConfigFile = "config_file"
	keyLogLevel   = "log_level"

	keyHTTPAddr    = "http_addr"
	keyMetricsAddr = "metrics_addr"

	keyStorageDriver       = "storage_driver"
	keyPostgresDSN         = "postgres_dsn"
	keyPostgresAutoMigrate = "postgres_auto_migrate"

	keySessionDriver = "session_driver"
	keyRedisAddr     = "redis_addr"
	keyRedisPassword = "redis_password"
	keyRedisDB       = "redis_db"
	keySessionTTL    = "session_ttl"

	keyKafkaBrokers = "kafka_brokers"
	keyKafkaTopic   = "kafka_topic"

	keySMTPHost     = "smtp_host"
	keySMTPPort     = "smtp_port"
	keySMTPUser     = "smtp_user"
	keySMTPPassword = "smtp_password"
	keySMTPFrom     = "smtp_from"
	keyOrderEmailTo = "order_email_to"

	keyAdminToken = "admin_token"

	keyOutboxPollInterval = "outbox_poll_interval"
	keyOutboxBatchSize    = "outbox_batch_size"
	keyOutboxMaxAttempts  = "outbox_max_attempts"
	keyOutboxRetryDelay   = "outbox_retry_delay"

	keyIdempotencyTTL              = "idempotency_ttl"
	keyIdempotencyCleanupInterval  = "idempotency_cleanup_interval"
	keyIdempotencyCleanupBatchSize = "idempotency_cleanup_batch_size"
	keyIdempotencyStaleAfter       = "idempotency_stale_after"
)

// newViper создаёт viper с переменными окружения SHOP_* поверх значений по умолчанию.
func newViper() *viper.Viper {
	cfg := app.DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("SHOP")
	v.AutomaticEnv()

	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyHTTPAddr, cfg.HTTPAddr)
	v.SetDefault(keyMetricsAddr, cfg.MetricsAddr)
	v.SetDefault(keyStorageDriver, cfg.StorageDriver)
	v.SetDefault(keyPostgresDSN, cfg.PostgresDSN)
	v.SetDefault(keyPostgresAutoMigrate, strconv.FormatBool(cfg.PostgresAutoMigrate))
	v.SetDefault(keySessionDriver, cfg.SessionDriver)
	v.SetDefault(keyRedisAddr, cfg.RedisAddr)
	v.SetDefault(keyRedisDB, strconv.Itoa(cfg.RedisDB))
	v.SetDefault(keySessionTTL, cfg.SessionTTL.String())
	v.SetDefault(keyKafkaTopic, cfg.KafkaTopic)
	v.SetDefault(keySMTPPort, strconv.Itoa(cfg.SMTPPort))
	v.SetDefault(keyOrderEmailTo, cfg.OrderEmailTo)
	v.SetDefault(keyOutboxPollInterval, cfg.OutboxPollInterval.String())
	v.SetDefault(keyOutboxBatchSize, strconv.Itoa(cfg.OutboxBatchSize))
	v.SetDefault(keyOutboxMaxAttempts, strconv.Itoa(cfg.OutboxMaxAttempts))
	v.SetDefault(keyOutboxRetryDelay, cfg.OutboxRetryDelay.String())
	v.SetDefault(keyIdempotencyTTL, cfg.IdempotencyTTL.String())
	v.SetDefault(keyIdempotencyCleanupInterval, cfg.IdempotencyCleanupInterval.String())
	v.SetDefault(keyIdempotencyCleanupBatchSize, strconv.Itoa(cfg.IdempotencyCleanupBatchSize))
	v.SetDefault(keyIdempotencyStaleAfter, cfg.IdempotencyStaleAfter.String())

	return v
}

// loadConfigFile читает файл из SHOP_CONFIG_FILE, если он задан.
// Переменные окружения имеют приоритет над значениями из файла.
func loadConfigFile(v *viper.Viper) error {
	path := strings.TrimSpace(v.GetString(keyConfigFile))
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// readConfig собирает app.Config. Некорректные значения заменяются дефолтными,
// а описание проблемы попадает в warnings.
func readConfig(v *viper.Viper) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("invalid %s=%q, using default: %v", envName(key), raw, err))
	}
	positiveInt := func(key string, dst *int) {
		raw := v.GetString(key)
		value, err := parseInt(raw, func(v int) bool { return v > 0 }, "must be > 0")
		if err != nil {
			warn(key, raw, err)
			return
		}
		*dst = value
	}
	nonNegativeInt := func(key string, dst *int) {
		raw := v.GetString(key)
		value, err := parseInt(raw, func(v int) bool { return v >= 0 }, "must be >= 0")
		if err != nil {
			warn(key, raw, err)
			return
		}
		*dst = value
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		raw := v.GetString(key)
		value, err := parseDuration(raw, valid, rule)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*dst = value
	}
	positive := func(d time.Duration) bool { return d > 0 }

	cfg.HTTPAddr = strings.TrimSpace(v.GetString(keyHTTPAddr))
	cfg.MetricsAddr = strings.TrimSpace(v.GetString(keyMetricsAddr))

	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v.GetString(keyStorageDriver)))
	cfg.PostgresDSN = strings.TrimSpace(v.GetString(keyPostgresDSN))
	if raw := v.GetString(keyPostgresAutoMigrate); raw != "" {
		if value, err := parseBool(raw); err != nil {
			warn(keyPostgresAutoMigrate, raw, err)
		} else {
			cfg.PostgresAutoMigrate = value
		}
	}

	cfg.SessionDriver = strings.ToLower(strings.TrimSpace(v.GetString(keySessionDriver)))
	cfg.RedisAddr = strings.TrimSpace(v.GetString(keyRedisAddr))
	cfg.RedisPassword = v.GetString(keyRedisPassword)
	nonNegativeInt(keyRedisDB, &cfg.RedisDB)
	duration(keySessionTTL, &cfg.SessionTTL, positive, "must be > 0")

	cfg.KafkaBrokers = strings.TrimSpace(v.GetString(keyKafkaBrokers))
	cfg.KafkaTopic = strings.TrimSpace(v.GetString(keyKafkaTopic))

	cfg.SMTPHost = strings.TrimSpace(v.GetString(keySMTPHost))
	positiveInt(keySMTPPort, &cfg.SMTPPort)
	cfg.SMTPUser = strings.TrimSpace(v.GetString(keySMTPUser))
	cfg.SMTPPassword = v.GetString(keySMTPPassword)
	cfg.SMTPFrom = strings.TrimSpace(v.GetString(keySMTPFrom))
	cfg.OrderEmailTo = strings.TrimSpace(v.GetString(keyOrderEmailTo))

	cfg.AdminToken = strings.TrimSpace(v.GetString(keyAdminToken))

	duration(keyOutboxPollInterval, &cfg.OutboxPollInterval, positive, "must be > 0")
	positiveInt(keyOutboxBatchSize, &cfg.OutboxBatchSize)
	positiveInt(keyOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(keyOutboxRetryDelay, &cfg.OutboxRetryDelay, func(d time.Duration) bool { return d >= 0 }, "must be >= 0")

	duration(keyIdempotencyTTL, &cfg.IdempotencyTTL, positive, "must be > 0")
	duration(keyIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positive, "must be > 0")
	positiveInt(keyIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)
	duration(keyIdempotencyStaleAfter, &cfg.IdempotencyStaleAfter, positive, "must be > 0")

	return cfg, warnings
}

func envName(key string) string {
	return "SHOP_" + strings.ToUpper(key)
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("unsupported bool value")
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, fmt.Errorf("%s", rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, fmt.Errorf("%s", rule)
	}
	return value, nil
}
