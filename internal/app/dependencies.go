package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/shop/internal/health"
	"github.com/vladislavdragonenkov/shop/internal/notify"
	"github.com/vladislavdragonenkov/shop/internal/session"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
	"github.com/vladislavdragonenkov/shop/internal/storage/postgres"
)

const checkTimeout = 2 * time.Second

// runtimeDependencies: инфраструктура, выбранная конфигурацией.
type runtimeDependencies struct {
	tx              domain.TxManager
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	sessions        domain.SessionStore
	storageChecker  healthcheck.Checker
	sessionChecker  healthcheck.Checker
	closeFn         func() error
}

// initRuntimeDependencies поднимает хранилище и сессии.
// При ошибке уже открытые подключения закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{}
	var closers []func() error

	if err := initStorage(ctx, cfg, logger, deps, &closers); err != nil {
		_ = closeAll(closers)
		return nil, err
	}
	if err := initSessions(ctx, cfg, logger, deps, &closers); err != nil {
		_ = closeAll(closers)
		return nil, err
	}

	deps.closeFn = func() error { return closeAll(closers) }
	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, logger *log.Entry, deps *runtimeDependencies, closers *[]func() error) error {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		store := memory.NewStore()
		deps.tx = store
		deps.outboxRepo = store.Outbox()
		deps.timelineRepo = store.Timeline()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		deps.storageChecker = healthcheck.NewPingChecker("storage", checkTimeout, true, store.Ping)
		logger.Info("using in-memory storage")
		return nil

	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return errors.New("postgres storage requires SHOP_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return err
		}
		*closers = append(*closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("apply postgres migrations: %w", err)
			}
		}

		deps.tx = store
		deps.outboxRepo = store.Outbox()
		deps.timelineRepo = store.Timeline()
		deps.idempotencyRepo = store.Idempotency()
		deps.storageChecker = healthcheck.NewPingChecker("postgres", checkTimeout, true, store.Ping)
		logger.Info("using postgres storage")
		return nil

	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initSessions(ctx context.Context, cfg Config, logger *log.Entry, deps *runtimeDependencies, closers *[]func() error) error {
	driver := strings.ToLower(strings.TrimSpace(cfg.SessionDriver))
	if driver == "" {
		driver = SessionDriverMemory
	}

	switch driver {
	case SessionDriverMemory:
		deps.sessions = memory.NewSessionStore()
		return nil

	case SessionDriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		*closers = append(*closers, client.Close)

		store := session.NewRedisStore(client, cfg.SessionTTL)
		pingCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}

		deps.sessions = store
		deps.sessionChecker = healthcheck.NewPingChecker("redis", checkTimeout, false, store.Ping)
		logger.WithField("addr", cfg.RedisAddr).Info("using redis session store")
		return nil

	default:
		return fmt.Errorf("unsupported session driver %q", cfg.SessionDriver)
	}
}

// initNotifier выбирает SMTP-отправителя или пишет письма в лог, если SMTP не настроен.
func initNotifier(cfg Config, logger *log.Entry) (domain.Notifier, error) {
	notifierLogger := logger.WithField("layer", "notify")
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		return notify.NewLogNotifier(notifierLogger), nil
	}
	mailer, err := notify.NewMailNotifier(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, notifierLogger)
	if err != nil {
		return nil, fmt.Errorf("init smtp notifier: %w", err)
	}
	return mailer, nil
}

// closeAll закрывает ресурсы в обратном порядке открытия.
func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
