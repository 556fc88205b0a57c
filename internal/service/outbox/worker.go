package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// Результаты публикации для метрик.
const (
	resultSent       = "sent"
	resultRetryError = "retry_error"
	resultFailed     = "failed"
	resultRejected   = "rejected"
	resultDeferred   = "deferred"
	resultDLQFailed  = "dlq_failed"
)

var errUnknownEvent = errors.New("event is not an order lifecycle event")

type workerOptions struct {
	logger         *log.Entry
	metrics        *metrics.WorkerMetrics
	dlq            domain.OutboxPublisher
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*workerOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *workerOptions) { opts.logger = logger }
}

// WithMetrics задаёт метрики публикации.
func WithMetrics(m *metrics.WorkerMetrics) Option {
	return func(opts *workerOptions) { opts.metrics = m }
}

// WithDLQPublisher задаёт, куда уходят события, которые не удалось опубликовать.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(opts *workerOptions) { opts.dlq = publisher }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *workerOptions) { opts.pollInterval = interval }
}

// WithBatchSize задаёт, сколько событий берётся за один цикл.
func WithBatchSize(batchSize int) Option {
	return func(opts *workerOptions) { opts.batchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток публикации одного события.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *workerOptions) { opts.maxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт первую паузу экспоненциального backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *workerOptions) { opts.retryBaseDelay = delay }
}

// Cycle: итог одного цикла публикации.
type Cycle struct {
	Sent int
	// Failed: события, ушедшие в DLQ (брокер не принял или тип события не заказный).
	Failed int
	// Deferred: события заказа, у которого в этом цикле уже упала публикация.
	// Они остаются pending, чтобы потребитель не получил их раньше предыдущего события.
	Deferred int
}

// Worker публикует события заказов из outbox в брокер.
// События одного заказа уходят строго в порядке постановки: после сбоя публикации
// остальные события этого заказа откладываются до следующего цикла.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlq            domain.OutboxPublisher
	logger         *log.Entry
	metrics        *metrics.WorkerMetrics
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	now            func() time.Time
}

// NewWorker создаёт Worker. Неположительные параметры заменяются значениями по умолчанию.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := workerOptions{}
	for _, option := range options {
		option(&opts)
	}
	if opts.logger == nil {
		opts.logger = log.WithField("component", "order-events-publisher")
	}
	if opts.pollInterval <= 0 {
		opts.pollInterval = defaultPollInterval
	}
	if opts.batchSize <= 0 {
		opts.batchSize = defaultBatchSize
	}
	if opts.maxAttempts <= 0 {
		opts.maxAttempts = defaultMaxAttempts
	}
	if opts.retryBaseDelay < 0 {
		opts.retryBaseDelay = 0
	}

	return &Worker{
		repo:           repo,
		publisher:      publisher,
		dlq:            opts.dlq,
		logger:         opts.logger,
		metrics:        opts.metrics,
		pollInterval:   opts.pollInterval,
		batchSize:      opts.batchSize,
		maxAttempts:    opts.maxAttempts,
		retryBaseDelay: opts.retryBaseDelay,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Run публикует события до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("order events publisher is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует одну порцию pending-событий.
func (w *Worker) ProcessOnce(ctx context.Context) Cycle {
	var cycle Cycle
	if ctx.Err() != nil {
		return cycle
	}
	defer w.refreshBacklog(ctx)

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending order events")
		return cycle
	}

	blocked := make(map[string]struct{})
	for _, event := range events {
		if ctx.Err() != nil {
			return cycle
		}

		logger := w.logger.WithFields(log.Fields{
			"outbox_id":  event.ID,
			"order_id":   event.AggregateID,
			"event_type": event.EventType,
		})

		if _, ok := blocked[event.AggregateID]; ok {
			cycle.Deferred++
			w.metrics.RecordPublish(resultDeferred)
			continue
		}

		if !domain.IsOrderEvent(event.EventType) || event.AggregateType != domain.AggregateOrder {
			logger.Error("unknown event in order outbox, moving to DLQ")
			w.metrics.RecordPublish(resultRejected)
			w.deadLetter(ctx, logger, event, errUnknownEvent)
			cycle.Failed++
			continue
		}

		if err := w.publishWithRetry(ctx, event); err != nil {
			if ctx.Err() != nil {
				return cycle
			}
			logger.WithError(err).Error("order event publish failed after retries")
			w.metrics.RecordPublish(resultFailed)
			w.deadLetter(ctx, logger, event, err)
			blocked[event.AggregateID] = struct{}{}
			cycle.Failed++
			continue
		}

		if err := w.repo.MarkSent(ctx, event.ID); err != nil {
			logger.WithError(err).Warn("failed to mark order event as sent")
		}
		cycle.Sent++
	}
	return cycle
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.publisher.Publish(event)
		if err == nil {
			w.metrics.RecordPublish(resultSent)
			return nil
		}
		lastErr = err
		w.metrics.RecordPublish(resultRetryError)

		if attempt == w.maxAttempts {
			break
		}
		if delay := w.retryBackoff(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

// retryBackoff удваивает паузу с каждой попыткой, не переполняя time.Duration.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	const maxDelay = time.Duration(1<<63 - 1)
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	return delay
}

// deadLetterMessage: тело события в DLQ.
type deadLetterMessage struct {
	OutboxID  string          `json:"outbox_id"`
	OrderID   string          `json:"order_id"`
	Aggregate string          `json:"aggregate_type"`
	EventType string          `json:"event_type"`
	Event     json.RawMessage `json:"event"`
	Error     string          `json:"error"`
	FailedAt  time.Time       `json:"failed_at"`
}

// deadLetter отправляет событие в DLQ и помечает его failed, чтобы оно не блокировало outbox.
func (w *Worker) deadLetter(ctx context.Context, logger *log.Entry, event domain.OutboxMessage, cause error) {
	if w.dlq != nil {
		if err := w.publishDeadLetter(event, cause); err != nil {
			logger.WithError(err).Warn("failed to publish order event to DLQ")
			w.metrics.RecordPublish(resultDLQFailed)
		}
	}
	if err := w.repo.MarkFailed(ctx, event.ID); err != nil {
		logger.WithError(err).Warn("failed to mark order event as failed")
	}
}

func (w *Worker) publishDeadLetter(event domain.OutboxMessage, cause error) error {
	raw := json.RawMessage(event.Payload)
	if !json.Valid(raw) {
		raw = json.RawMessage("null")
	}
	payload, err := json.Marshal(deadLetterMessage{
		OutboxID:  event.ID,
		OrderID:   event.AggregateID,
		Aggregate: event.AggregateType,
		EventType: event.EventType,
		Event:     raw,
		Error:     cause.Error(),
		FailedAt:  w.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	dead := event
	dead.Payload = payload
	if err := w.dlq.Publish(dead); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect order events backlog")
		return
	}
	w.metrics.SetBacklog(stats.PendingCount, stats.OldestPendingAt, w.now())
}
