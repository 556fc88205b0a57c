package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/shop/internal/health"
	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/service/cart"
	"github.com/vladislavdragonenkov/shop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shop/internal/service/order"
	"github.com/vladislavdragonenkov/shop/internal/service/outbox"
	"github.com/vladislavdragonenkov/shop/internal/service/stock"
	"github.com/vladislavdragonenkov/shop/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/shop/internal/version"
)

const (
	shutdownTimeout     = 5 * time.Second
	outboxBacklogMaxAge = 5 * time.Minute
)

// Run поднимает HTTP API, метрики и фоновые воркеры и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	logger.Info(version.String())

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close dependencies")
		}
	}()

	notifier, err := initNotifier(cfg, logger)
	if err != nil {
		return err
	}

	shopMetrics := metrics.NewShopMetrics()
	workerMetrics := metrics.NewWorkerMetrics()

	ledger := stock.NewLedger(
		stock.WithLogger(logger.WithField("layer", "ledger")),
		stock.WithMetrics(shopMetrics),
	)
	catalog := stock.NewCatalog(deps.tx, ledger, logger.WithField("layer", "catalog"))
	carts := cart.NewService(deps.tx, deps.sessions,
		cart.WithLogger(logger.WithField("layer", "cart")),
		cart.WithMetrics(shopMetrics),
	)
	orders := order.NewService(deps.tx, carts, ledger,
		order.WithLogger(logger.WithField("layer", "order")),
		order.WithMetrics(shopMetrics),
		order.WithNotifier(notifier, cfg.OrderEmailTo),
	)
	guard := idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("layer", "idempotency"))

	api := httpapi.NewServer(carts, orders, catalog,
		httpapi.WithLogger(logger.WithField("layer", "http")),
		httpapi.WithMetrics(metrics.NewHTTPMetrics()),
		httpapi.WithIdempotency(guard),
		httpapi.WithSessionTTL(cfg.SessionTTL),
		httpapi.WithAdminToken(cfg.AdminToken),
	)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if deps.sessionChecker != nil {
		healthHandler.RegisterChecker("sessions", deps.sessionChecker)
	}

	// Без брокера заказы продолжают приниматься, события копятся в outbox.
	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafkaProducer(producer, logger)
	if producer != nil {
		healthHandler.RegisterChecker("order-events", healthcheck.NewOutboxBacklogChecker(deps.outboxRepo.Stats, outboxBacklogMaxAge))
	}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	outboxCancel, outboxDone := startOutboxWorker(ctx, cfg, deps.outboxRepo, producer, workerMetrics, logger)
	cleanupCancel, cleanupDone := startCheckoutKeySweeper(ctx, cfg, deps.idempotencyRepo, workerMetrics, logger)
	stopWorkers := func() {
		shutdownWorker(outboxCancel, outboxDone, logger)
		shutdownWorker(cleanupCancel, cleanupDone, logger)
	}

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		stopWorkers()
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	e := api.Echo()
	e.Listener = lis

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", lis.Addr().String())
		errCh <- e.Start(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("HTTP API shutdown with error")
		}
		cancel()
		stopWorkers()
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		stopWorkers()
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startOutboxWorker запускает публикацию outbox, только если Kafka доступна.
func startOutboxWorker(
	ctx context.Context,
	cfg Config,
	repo domain.OutboxRepository,
	producer *kafka.Producer,
	workerMetrics *metrics.WorkerMetrics,
	logger *log.Entry,
) (context.CancelFunc, <-chan struct{}) {
	if producer == nil {
		logger.Info("kafka is not configured, order events stay in outbox")
		return nil, nil
	}

	worker := outbox.NewWorker(repo, kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithMetrics(workerMetrics),
		outbox.WithDLQPublisher(kafka.NewDLQPublisher(producer, cfg.KafkaTopic)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	return runWorker(ctx, worker.Run)
}

// startCheckoutKeySweeper запускает обслуживание ключей оформления заказа.
func startCheckoutKeySweeper(
	ctx context.Context,
	cfg Config,
	repo domain.IdempotencyRepository,
	workerMetrics *metrics.WorkerMetrics,
	logger *log.Entry,
) (context.CancelFunc, <-chan struct{}) {
	sweeper := idempotency.NewSweeper(repo,
		idempotency.WithLogger(logger.WithField("layer", "checkout-key-sweeper")),
		idempotency.WithMetrics(workerMetrics),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithStaleAfter(cfg.IdempotencyStaleAfter),
	)
	return runWorker(ctx, sweeper.Run)
}

func runWorker(ctx context.Context, run func(ctx context.Context)) (context.CancelFunc, <-chan struct{}) {
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(workerCtx)
	}()
	return cancel, done
}

// shutdownWorker останавливает воркер и ждёт его завершения не дольше shutdownTimeout.
func shutdownWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("worker did not stop in time")
	}
}

// startMetricsServer запускает HTTP-обработчики /metrics и health checks.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
