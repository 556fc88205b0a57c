package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repositories: набор репозиториев, привязанных к одной транзакции.
type Repositories struct {
	Products ProductRepository
	Carts    CartRepository
	Orders   OrderRepository
	Outbox   OutboxRepository
	Timeline TimelineRepository
}

// TxManager выполняет единицу работы целиком или не выполняет её вовсе.
// Ошибка из fn откатывает все изменения, сделанные через переданные repos.
type TxManager interface {
	InTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// ProductRepository хранит товары, размеры и их остатки.
type ProductRepository interface {
	Create(ctx context.Context, product Product) (Product, error)
	// Get возвращает товар вместе с размерами, отсортированными по значению.
	Get(ctx context.Context, id int64) (Product, error)
	// GetMany загружает товары с размерами за один запрос; отсутствующие id в результат не попадают.
	GetMany(ctx context.Context, ids []int64) (map[int64]Product, error)
	UpdatePrice(ctx context.Context, id int64, price decimal.Decimal) error
	SetQty(ctx context.Context, id int64, qty int) error
	CreateSize(ctx context.Context, size Size) (Size, error)
	GetSize(ctx context.Context, id int64) (Size, error)
	SetSizeQty(ctx context.Context, id int64, qty int) error
	DeleteSize(ctx context.Context, id int64) error
	// TakeStock атомарно списывает qty, если остатка хватает. false: остатка не хватило.
	// Списание с уровня товара не проходит, если у товара есть размеры.
	TakeStock(ctx context.Context, ref StockRef, qty int) (bool, error)
	ReturnStock(ctx context.Context, ref StockRef, qty int) error
	Available(ctx context.Context, ref StockRef) (int, error)
	// SumSizes возвращает сумму остатков и число размеров товара.
	SumSizes(ctx context.Context, productID int64) (sum int, count int, err error)
}

// CartRepository хранит сохранённые корзины и их позиции.
type CartRepository interface {
	Create(ctx context.Context, cart Cart) (Cart, error)
	Get(ctx context.Context, id int64) (Cart, error)
	FindOpenByCustomer(ctx context.Context, customerID string) (Cart, error)
	// Lock переводит корзину в in_order=true. false: корзина уже заблокирована.
	Lock(ctx context.Context, id int64) (bool, error)
	Delete(ctx context.Context, id int64) error
	// Lines возвращает позиции, отсортированные по ключу.
	Lines(ctx context.Context, cartID int64) ([]CartLine, error)
	UpsertLine(ctx context.Context, line CartLine) (CartLine, error)
	// DeleteLine идемпотентен: отсутствующая позиция не ошибка.
	DeleteLine(ctx context.Context, cartID int64, key LineKey) error
	DeleteLines(ctx context.Context, cartID int64) error
	// RecomputeTotals пересчитывает total_product и final_price по живым позициям.
	RecomputeTotals(ctx context.Context, cartID int64) (Cart, error)
	// OpenLinesByProduct возвращает позиции товара в незаблокированных корзинах.
	OpenLinesByProduct(ctx context.Context, productID int64) ([]CartLine, error)
}

// OrderRepository хранит заказы.
type OrderRepository interface {
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id string) (Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
	// Save перезаписывает заказ с проверкой версии и увеличивает её.
	Save(ctx context.Context, order Order) error
	Delete(ctx context.Context, id string) error
}

// SessionStore: key-value хранилище сессии посетителя.
type SessionStore interface {
	// Get возвращает значение и признак его наличия.
	Get(ctx context.Context, sessionID, key string) ([]byte, bool, error)
	Set(ctx context.Context, sessionID, key string, value []byte) error
	Delete(ctx context.Context, sessionID, key string) error
}

// Notifier отправляет уведомление получателю.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит ключи оформления заказа в пределах корзины.
// Claim занимает ключ; занятый ключ возвращается вместе с ErrIdempotencyKeyAlreadyExists
// или ErrIdempotencyHashMismatch. Release освобождает незавершённый ключ для повторной попытки.
// ReleaseStale освобождает pending-ключи, занятые раньше claimedBefore: их оформление оборвалось.
type IdempotencyRepository interface {
	Claim(ctx context.Context, scope CheckoutScope, key, requestHash string, expiresAt time.Time) (CheckoutKey, error)
	Settle(ctx context.Context, scope CheckoutScope, key string, outcome CheckoutOutcome) error
	Release(ctx context.Context, scope CheckoutScope, key string) error
	ReleaseStale(ctx context.Context, claimedBefore time.Time, limit int) (int, error)
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
