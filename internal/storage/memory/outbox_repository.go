package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	seq        int64
	createdAt  time.Time
	updatedAt  time.Time
}

type outboxRepository struct {
	st *state
}

// Enqueue сохраняет событие со статусом `pending`.
func (r *outboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	now := time.Now().UTC()
	r.st.outboxSeq++
	r.st.outbox[msg.ID] = outboxRecord{
		msg:       msg,
		status:    outboxStatusPending,
		seq:       r.st.outboxSeq,
		createdAt: now,
		updatedAt: now,
	}
	return msg, nil
}

// PullPending возвращает до limit pending-сообщений в порядке постановки.
func (r *outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	pending := make([]outboxRecord, 0)
	for _, rec := range r.st.outbox {
		if rec.status == outboxStatusPending {
			pending = append(pending, rec)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	if len(pending) > limit {
		pending = pending[:limit]
	}
	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result, nil
}

func (r *outboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	for _, rec := range r.st.outbox {
		if rec.status != outboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepository) MarkSent(_ context.Context, id string) error {
	return r.mark(id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *outboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.mark(id, outboxStatusFailed)
}

func (r *outboxRepository) mark(id, status string) error {
	record, ok := r.st.outbox[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = time.Now().UTC()
	r.st.outbox[id] = record
	return nil
}

// lockedOutbox: outbox поверх текущего состояния Store, вне транзакций.
type lockedOutbox struct {
	store *Store
}

func (o *lockedOutbox) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	var out domain.OutboxMessage
	err := o.store.locked(func(st *state) error {
		var err error
		out, err = (&outboxRepository{st: st}).Enqueue(ctx, msg)
		return err
	})
	return out, err
}

func (o *lockedOutbox) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	var out []domain.OutboxMessage
	err := o.store.locked(func(st *state) error {
		var err error
		out, err = (&outboxRepository{st: st}).PullPending(ctx, limit)
		return err
	})
	return out, err
}

func (o *lockedOutbox) Stats(ctx context.Context) (domain.OutboxStats, error) {
	var out domain.OutboxStats
	err := o.store.locked(func(st *state) error {
		var err error
		out, err = (&outboxRepository{st: st}).Stats(ctx)
		return err
	})
	return out, err
}

func (o *lockedOutbox) MarkSent(ctx context.Context, id string) error {
	return o.store.locked(func(st *state) error {
		return (&outboxRepository{st: st}).MarkSent(ctx, id)
	})
}

func (o *lockedOutbox) MarkFailed(ctx context.Context, id string) error {
	return o.store.locked(func(st *state) error {
		return (&outboxRepository{st: st}).MarkFailed(ctx, id)
	})
}

var (
	_ domain.OutboxRepository = (*outboxRepository)(nil)
	_ domain.OutboxRepository = (*lockedOutbox)(nil)
)
