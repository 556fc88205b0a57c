package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Store: in-memory хранилище для локальной разработки и тестов.
// Транзакции сериализуются мьютексом: fn работает над копией состояния,
// копия подменяет текущее состояние только при успешном завершении.
type Store struct {
	mu    sync.Mutex
	state *state
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{state: newState()}
}

// InTx выполняет fn атомарно: при ошибке все изменения отбрасываются.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.state.clone()
	if err := fn(ctx, draft.repositories()); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = draft
	return nil
}

// Outbox возвращает outbox-репозиторий вне транзакций (для воркера публикации).
func (s *Store) Outbox() domain.OutboxRepository {
	return &lockedOutbox{store: s}
}

// Timeline возвращает timeline-репозиторий вне транзакций.
func (s *Store) Timeline() domain.TimelineRepository {
	return &lockedTimeline{store: s}
}

// Ping всегда успешен: хранилище живёт в процессе.
func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) locked(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

type state struct {
	products map[int64]domain.Product
	sizes    map[int64]domain.Size
	carts    map[int64]domain.Cart
	lines    map[int64]map[domain.LineKey]domain.CartLine
	orders   map[string]domain.Order
	outbox   map[string]outboxRecord
	timeline map[string][]domain.TimelineEvent

	productSeq int64
	sizeSeq    int64
	cartSeq    int64
	lineSeq    int64
	outboxSeq  int64
}

func newState() *state {
	return &state{
		products: make(map[int64]domain.Product),
		sizes:    make(map[int64]domain.Size),
		carts:    make(map[int64]domain.Cart),
		lines:    make(map[int64]map[domain.LineKey]domain.CartLine),
		orders:   make(map[string]domain.Order),
		outbox:   make(map[string]outboxRecord),
		timeline: make(map[string][]domain.TimelineEvent),
	}
}

// clone делает глубокую копию; все значения в картах хранятся по значению,
// поэтому достаточно скопировать карты и срезы.
func (s *state) clone() *state {
	c := &state{
		products:   make(map[int64]domain.Product, len(s.products)),
		sizes:      make(map[int64]domain.Size, len(s.sizes)),
		carts:      make(map[int64]domain.Cart, len(s.carts)),
		lines:      make(map[int64]map[domain.LineKey]domain.CartLine, len(s.lines)),
		orders:     make(map[string]domain.Order, len(s.orders)),
		outbox:     make(map[string]outboxRecord, len(s.outbox)),
		timeline:   make(map[string][]domain.TimelineEvent, len(s.timeline)),
		productSeq: s.productSeq,
		sizeSeq:    s.sizeSeq,
		cartSeq:    s.cartSeq,
		lineSeq:    s.lineSeq,
		outboxSeq:  s.outboxSeq,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.sizes {
		c.sizes[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for cartID, lines := range s.lines {
		copied := make(map[domain.LineKey]domain.CartLine, len(lines))
		for k, v := range lines {
			copied[k] = v
		}
		c.lines[cartID] = copied
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.outbox {
		c.outbox[k] = v
	}
	for k, v := range s.timeline {
		c.timeline[k] = append([]domain.TimelineEvent(nil), v...)
	}
	return c
}

func (s *state) repositories() domain.Repositories {
	return domain.Repositories{
		Products: &productRepository{st: s},
		Carts:    &cartRepository{st: s},
		Orders:   &orderRepository{st: s},
		Outbox:   &outboxRepository{st: s},
		Timeline: &timelineRepository{st: s},
	}
}

var _ domain.TxManager = (*Store)(nil)
