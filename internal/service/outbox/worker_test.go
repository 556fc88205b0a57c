package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

func orderEvent(id, orderID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateOrder,
		AggregateID:   orderID,
		EventType:     domain.EventOrderPlaced,
		Payload:       []byte(`{"order_id":"` + orderID + `"}`),
	}
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderEvent("msg-1", "order-1")}}
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	cycle := worker.ProcessOnce(context.Background())

	assert.Equal(t, Cycle{Sent: 1}, cycle)
	assert.Equal(t, []string{"msg-1"}, repo.sentIDs)
	assert.Empty(t, repo.failedIDs)
	assert.Equal(t, 1, publisher.calls())
}

func TestWorker_ProcessOnce_DeadLetterAfterRetries(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderEvent("msg-2", "order-2")}}
	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	dlqPublisher := &stubPublisher{}

	worker := NewWorker(
		repo,
		publisher,
		WithDLQPublisher(dlqPublisher),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
		WithMetrics(metrics.NewWorkerMetricsWithRegisterer(prometheus.NewRegistry())),
	)
	cycle := worker.ProcessOnce(context.Background())

	assert.Equal(t, Cycle{Failed: 1}, cycle)
	assert.Equal(t, 3, publisher.calls())
	assert.Empty(t, repo.sentIDs)
	assert.Equal(t, []string{"msg-2"}, repo.failedIDs)
	require.Equal(t, 1, dlqPublisher.calls())
	assert.Equal(t, "order-2", dlqPublisher.last.AggregateID, "dead letters keep the order partition key")

	var dead struct {
		OutboxID  string          `json:"outbox_id"`
		OrderID   string          `json:"order_id"`
		EventType string          `json:"event_type"`
		Event     json.RawMessage `json:"event"`
		Error     string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(dlqPublisher.last.Payload, &dead))
	assert.Equal(t, "msg-2", dead.OutboxID)
	assert.Equal(t, "order-2", dead.OrderID)
	assert.Equal(t, domain.EventOrderPlaced, dead.EventType)
	assert.JSONEq(t, `{"order_id":"order-2"}`, string(dead.Event))
	assert.Contains(t, dead.Error, "broker unavailable")
}

func TestWorker_ProcessOnce_DefersLaterEventsOfFailedOrder(t *testing.T) {
	t.Parallel()

	canceled := orderEvent("msg-3b", "order-3")
	canceled.EventType = domain.EventOrderCanceled
	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{
		orderEvent("msg-3a", "order-3"),
		orderEvent("msg-4", "order-4"),
		canceled,
	}}
	publisher := &stubPublisher{failFor: map[string]bool{"order-3": true}}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(2))
	cycle := worker.ProcessOnce(context.Background())

	assert.Equal(t, Cycle{Sent: 1, Failed: 1, Deferred: 1}, cycle)
	assert.Equal(t, []string{"msg-4"}, repo.sentIDs)
	assert.Equal(t, []string{"msg-3a"}, repo.failedIDs)
	assert.Equal(t, []string{"order-4"}, publisher.published())
}

func TestWorker_ProcessOnce_RejectsForeignEvents(t *testing.T) {
	t.Parallel()

	foreign := orderEvent("msg-5", "order-5")
	foreign.EventType = "cart.updated"
	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{foreign, orderEvent("msg-6", "order-5")}}
	publisher := &stubPublisher{}
	dlqPublisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithDLQPublisher(dlqPublisher), WithRetryBaseDelay(0))
	cycle := worker.ProcessOnce(context.Background())

	assert.Equal(t, Cycle{Sent: 1, Failed: 1}, cycle)
	assert.Equal(t, []string{"msg-5"}, repo.failedIDs)
	assert.Equal(t, []string{"msg-6"}, repo.sentIDs)
	assert.Equal(t, 1, publisher.calls(), "foreign event never reaches the order topic")
	assert.Equal(t, 1, dlqPublisher.calls())
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderEvent("msg-7", "order-7")}}
	publisher := &stubPublisher{
		sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil},
	}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	assert.Equal(t, 3, publisher.calls())
	assert.Equal(t, []string{"msg-7"}, repo.sentIDs)
	assert.Empty(t, repo.failedIDs)
}

func TestWorker_ProcessOnce_MemoryOutboxDrainsInOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	for _, id := range []string{"a", "b", "c"} {
		_, err := store.Outbox().Enqueue(ctx, orderEvent(id, "order-"+id))
		require.NoError(t, err)
	}
	publisher := &stubPublisher{}

	worker := NewWorker(store.Outbox(), publisher, WithBatchSize(2), WithRetryBaseDelay(0))
	worker.ProcessOnce(ctx)

	pending, err := store.Outbox().PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c", pending[0].ID)

	worker.ProcessOnce(ctx)
	stats, err := store.Outbox().Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
	assert.Equal(t, []string{"order-a", "order-b", "order-c"}, publisher.published())
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithPollInterval(5*time.Millisecond), WithRetryBaseDelay(0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_RetryBackoff(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithRetryBaseDelay(10*time.Millisecond))
	assert.Equal(t, 10*time.Millisecond, worker.retryBackoff(1))
	assert.Equal(t, 20*time.Millisecond, worker.retryBackoff(2))
	assert.Equal(t, 40*time.Millisecond, worker.retryBackoff(3))
}

type stubOutboxRepo struct {
	pending   []domain.OutboxMessage
	sentIDs   []string
	failedIDs []string
}

func (s *stubOutboxRepo) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (s *stubOutboxRepo) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 || limit >= len(s.pending) {
		return append([]domain.OutboxMessage(nil), s.pending...), nil
	}
	return append([]domain.OutboxMessage(nil), s.pending[:limit]...), nil
}

func (s *stubOutboxRepo) Stats(_ context.Context) (domain.OutboxStats, error) {
	stats := domain.OutboxStats{PendingCount: len(s.pending)}
	if len(s.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

func (s *stubOutboxRepo) MarkSent(_ context.Context, id string) error {
	s.sentIDs = append(s.sentIDs, id)
	return nil
}

func (s *stubOutboxRepo) MarkFailed(_ context.Context, id string) error {
	s.failedIDs = append(s.failedIDs, id)
	return nil
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	failFor        map[string]bool
	sequenceErrors []error
	callCount      int
	last           domain.OutboxMessage
	aggregates     []string
}

func (s *stubPublisher) Publish(event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	s.last = event
	var err error
	if len(s.sequenceErrors) > 0 {
		err = s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
	} else {
		err = s.err
	}
	if s.failFor[event.AggregateID] {
		err = errors.New("partition unavailable")
	}
	if err == nil {
		s.aggregates = append(s.aggregates, event.AggregateID)
	}
	return err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubPublisher) published() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.aggregates...)
}

var (
	_ domain.OutboxRepository = (*stubOutboxRepo)(nil)
	_ domain.OutboxPublisher  = (*stubPublisher)(nil)
)
