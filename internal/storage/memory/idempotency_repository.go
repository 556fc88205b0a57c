package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type checkoutKeyID struct {
	scope domain.CheckoutScope
	key   string
}

// checkoutKeysInMemory держит ключи оформления заказа в памяти процесса.
type checkoutKeysInMemory struct {
	mu   sync.Mutex
	keys map[checkoutKeyID]domain.CheckoutKey
	now  func() time.Time
}

// NewIdempotencyRepository создаёт in-memory хранилище ключей оформления заказа.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &checkoutKeysInMemory{
		keys: make(map[checkoutKeyID]domain.CheckoutKey),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *checkoutKeysInMemory) Claim(_ context.Context, scope domain.CheckoutScope, key, requestHash string, expiresAt time.Time) (domain.CheckoutKey, error) {
	id, err := newCheckoutKeyID(scope, key)
	if err != nil {
		return domain.CheckoutKey{}, err
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return domain.CheckoutKey{}, domain.ErrIdempotencyRequestHashRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.keys[id]; ok && existing.ExpiresAt.After(now) {
		if existing.RequestHash != requestHash {
			return cloneCheckoutKey(existing), domain.ErrIdempotencyHashMismatch
		}
		return cloneCheckoutKey(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	claimed := domain.CheckoutKey{
		Scope:       id.scope,
		Key:         id.key,
		RequestHash: requestHash,
		State:       domain.CheckoutKeyPending,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.keys[id] = claimed
	return cloneCheckoutKey(claimed), nil
}

// Settle сохраняет окончательный ответ. Повторно закрыть ключ нельзя.
func (r *checkoutKeysInMemory) Settle(_ context.Context, scope domain.CheckoutScope, key string, outcome domain.CheckoutOutcome) error {
	id, err := newCheckoutKeyID(scope, key)
	if err != nil {
		return err
	}
	if !outcome.State.Settled() {
		return domain.ErrValidation
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.keys[id]
	if !ok || current.State != domain.CheckoutKeyPending {
		return domain.ErrIdempotencyKeyNotFound
	}
	current.State = outcome.State
	current.OrderID = outcome.OrderID
	current.HTTPStatus = outcome.HTTPStatus
	current.Response = append([]byte(nil), outcome.Response...)
	current.UpdatedAt = r.now()
	r.keys[id] = current
	return nil
}

// Release удаляет ключ, пока он не закрыт. Закрытые ключи не трогает.
func (r *checkoutKeysInMemory) Release(_ context.Context, scope domain.CheckoutScope, key string) error {
	id, err := newCheckoutKeyID(scope, key)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.keys[id]; ok && current.State == domain.CheckoutKeyPending {
		delete(r.keys, id)
	}
	return nil
}

// ReleaseStale удаляет pending-ключи, занятые раньше claimedBefore, начиная с самых старых.
func (r *checkoutKeysInMemory) ReleaseStale(ctx context.Context, claimedBefore time.Time, limit int) (int, error) {
	return r.deleteWhere(ctx, limit,
		func(k domain.CheckoutKey) bool {
			return k.State == domain.CheckoutKeyPending && k.CreatedAt.Before(claimedBefore)
		},
		func(k domain.CheckoutKey) time.Time { return k.CreatedAt },
	)
}

// DeleteExpired удаляет ключи, истёкшие к before, начиная с самых старых.
func (r *checkoutKeysInMemory) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}
	return r.deleteWhere(ctx, limit,
		func(k domain.CheckoutKey) bool { return !k.ExpiresAt.After(before) },
		func(k domain.CheckoutKey) time.Time { return k.ExpiresAt },
	)
}

func (r *checkoutKeysInMemory) deleteWhere(ctx context.Context, limit int, match func(domain.CheckoutKey) bool, age func(domain.CheckoutKey) time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]checkoutKeyID, 0)
	for id, k := range r.keys {
		if match(k) {
			matched = append(matched, id)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return age(r.keys[matched[i]]).Before(age(r.keys[matched[j]]))
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	for i, id := range matched {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		delete(r.keys, id)
	}
	return len(matched), nil
}

func newCheckoutKeyID(scope domain.CheckoutScope, key string) (checkoutKeyID, error) {
	scope = domain.NewCheckoutScope(scope.CartKind, scope.Subject)
	if scope.Empty() {
		return checkoutKeyID{}, domain.ErrCheckoutScopeRequired
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return checkoutKeyID{}, domain.ErrIdempotencyKeyRequired
	}
	return checkoutKeyID{scope: scope, key: key}, nil
}

func cloneCheckoutKey(src domain.CheckoutKey) domain.CheckoutKey {
	dst := src
	dst.Response = append([]byte(nil), src.Response...)
	return dst
}

var _ domain.IdempotencyRepository = (*checkoutKeysInMemory)(nil)
