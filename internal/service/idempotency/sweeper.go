package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
)

const (
	defaultSweepInterval  = 10 * time.Minute
	defaultSweepBatchSize = 500
	defaultStaleAfter     = 2 * time.Minute
)

// SweepResult: сколько ключей убрано за один проход.
type SweepResult struct {
	// Released: pending-ключи брошенных оформлений (процесс упал между Claim и Settle).
	Released int
	// Expired: ключи с истёкшим сроком хранения ответа.
	Expired int
}

type sweeperOptions struct {
	logger     *log.Entry
	metrics    *metrics.WorkerMetrics
	interval   time.Duration
	batchSize  int
	staleAfter time.Duration
}

// SweeperOption настраивает Sweeper.
type SweeperOption func(*sweeperOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) SweeperOption {
	return func(opts *sweeperOptions) { opts.logger = logger }
}

// WithMetrics задаёт метрики проходов.
func WithMetrics(m *metrics.WorkerMetrics) SweeperOption {
	return func(opts *sweeperOptions) { opts.metrics = m }
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) SweeperOption {
	return func(opts *sweeperOptions) { opts.interval = interval }
}

// WithBatchSize задаёт размер одной порции удаления.
func WithBatchSize(batchSize int) SweeperOption {
	return func(opts *sweeperOptions) { opts.batchSize = batchSize }
}

// WithStaleAfter задаёт, через сколько pending-ключ считается брошенным.
// Значение должно быть больше самого долгого оформления заказа.
func WithStaleAfter(d time.Duration) SweeperOption {
	return func(opts *sweeperOptions) { opts.staleAfter = d }
}

// Sweeper обслуживает ключи оформления заказа: освобождает брошенные и удаляет истёкшие.
type Sweeper struct {
	repo       domain.IdempotencyRepository
	logger     *log.Entry
	metrics    *metrics.WorkerMetrics
	interval   time.Duration
	batchSize  int
	staleAfter time.Duration
	now        func() time.Time
}

// NewSweeper создаёт Sweeper. Неположительные параметры заменяются значениями по умолчанию.
func NewSweeper(repo domain.IdempotencyRepository, options ...SweeperOption) *Sweeper {
	opts := sweeperOptions{}
	for _, option := range options {
		option(&opts)
	}
	if opts.logger == nil {
		opts.logger = log.WithField("component", "checkout-key-sweeper")
	}
	if opts.interval <= 0 {
		opts.interval = defaultSweepInterval
	}
	if opts.batchSize <= 0 {
		opts.batchSize = defaultSweepBatchSize
	}
	if opts.staleAfter <= 0 {
		opts.staleAfter = defaultStaleAfter
	}

	return &Sweeper{
		repo:       repo,
		logger:     opts.logger,
		metrics:    opts.metrics,
		interval:   opts.interval,
		batchSize:  opts.batchSize,
		staleAfter: opts.staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run выполняет проходы до отмены ctx. Первый проход сразу после старта.
func (s *Sweeper) Run(ctx context.Context) {
	if s.repo == nil {
		s.logger.Warn("checkout key sweeper is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		result, err := s.Sweep(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			s.logger.WithError(err).Warn("checkout key sweep failed")
		case result.Released > 0 || result.Expired > 0:
			s.logger.WithFields(log.Fields{
				"released": result.Released,
				"expired":  result.Expired,
			}).Info("checkout keys swept")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep делает один проход: сначала освобождает брошенные ключи, затем удаляет истёкшие.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now()

	var result SweepResult
	released, err := s.drain(ctx, func(ctx context.Context) (int, error) {
		return s.repo.ReleaseStale(ctx, now.Add(-s.staleAfter), s.batchSize)
	})
	result.Released = released
	if err != nil {
		s.metrics.RecordKeySweep(err, result.Released, result.Expired)
		return result, fmt.Errorf("release stale checkout keys: %w", err)
	}

	expired, err := s.drain(ctx, func(ctx context.Context) (int, error) {
		return s.repo.DeleteExpired(ctx, now, s.batchSize)
	})
	result.Expired = expired
	if err != nil {
		s.metrics.RecordKeySweep(err, result.Released, result.Expired)
		return result, fmt.Errorf("delete expired checkout keys: %w", err)
	}

	s.metrics.RecordKeySweep(nil, result.Released, result.Expired)
	return result, nil
}

// drain повторяет batch, пока порция заполняется целиком.
func (s *Sweeper) drain(ctx context.Context, batch func(ctx context.Context) (int, error)) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := batch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.batchSize {
			return total, nil
		}
	}
}
