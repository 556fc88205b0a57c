package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type timelineRepository struct {
	st *state
}

// Append добавляет событие, сохраняя хронологический порядок.
func (r *timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	events := append(r.st.timeline[event.OrderID], event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
	r.st.timeline[event.OrderID] = events
	return nil
}

// List возвращает события заказа в хронологическом порядке.
func (r *timelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	events := r.st.timeline[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

type lockedTimeline struct {
	store *Store
}

func (t *lockedTimeline) Append(ctx context.Context, event domain.TimelineEvent) error {
	return t.store.locked(func(st *state) error {
		return (&timelineRepository{st: st}).Append(ctx, event)
	})
}

func (t *lockedTimeline) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	var out []domain.TimelineEvent
	err := t.store.locked(func(st *state) error {
		var err error
		out, err = (&timelineRepository{st: st}).List(ctx, orderID)
		return err
	})
	return out, err
}

var (
	_ domain.TimelineRepository = (*timelineRepository)(nil)
	_ domain.TimelineRepository = (*lockedTimeline)(nil)
)
