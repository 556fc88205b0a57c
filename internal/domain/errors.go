package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfStock: на складе не осталось ни одной единицы товара/размера.
	ErrOutOfStock = errors.New("out of stock")
	// ErrInsufficientStock: остаток есть, но его меньше запрошенного.
	// Конкретный остаток передаётся через InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStockDerived: остаток товара с размерами вычисляется, прямую запись запрещаем.
	ErrStockDerived = errors.New("product stock is derived from sizes")
	// ErrSizeRequired: у товара есть размеры, а размер не передан.
	ErrSizeRequired = errors.New("size is required for this product")

	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrSizeNotFound возвращается, если размер товара не найден.
	ErrSizeNotFound = errors.New("size not found")
	// ErrCartNotFound возвращается, если корзина не найдена.
	ErrCartNotFound = errors.New("cart not found")
	// ErrCartLineNotFound возвращается, если позиции с таким ключом нет в корзине.
	ErrCartLineNotFound = errors.New("cart line not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")

	// ErrValidation: некорректные данные заказа (черновик оформления).
	ErrValidation = errors.New("validation failed")
	// ErrItemQtyInvalid: количество должно быть больше нуля.
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// ErrPriceNegative: цена не может быть отрицательной.
	ErrPriceNegative = errors.New("price must be non-negative")
	// ErrLineKeyInvalid: ключ позиции корзины не разбирается.
	ErrLineKeyInvalid = errors.New("invalid cart line key")

	// ErrTransactionAborted: сборка заказа откатилась целиком, заказ не создан.
	ErrTransactionAborted = errors.New("order not placed, try again")
	// ErrCartLocked: корзина уже оформлена в заказ и больше не меняется.
	ErrCartLocked = errors.New("cart is locked by an order")
	// ErrCartEmpty: в корзине нет позиций для оформления.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrOpenCartExists: у покупателя уже есть открытая корзина.
	ErrOpenCartExists = errors.New("customer already has an open cart")
	// ErrNeedsRecheck: сверка корзины со складом изменила корзину, нужна повторная проверка.
	ErrNeedsRecheck = errors.New("cart changed during reconciliation, re-check required")

	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderStatusTransition: недопустимый переход статуса заказа.
	ErrOrderStatusTransition = errors.New("order status transition is not allowed")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrCheckoutScopeRequired: у ключа оформления не указана корзина.
	ErrCheckoutScopeRequired = errors.New("checkout scope is required")
	// ErrIdempotencyKeyRequired: пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: не передан хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound: запись по ключу не найдена.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists: ключ уже занят тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
)

// InsufficientStockError несёт фактический остаток, до которого вызывающий может урезать количество.
type InsufficientStockError struct {
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: only %d available", e.Available)
}

// Is позволяет сравнивать через errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// StockError собирает ошибку нехватки по фактическому остатку.
func StockError(available int) error {
	if available <= 0 {
		return ErrOutOfStock
	}
	return &InsufficientStockError{Available: available}
}

// AvailableFrom достаёт остаток из ошибки склада. ok=false, если это не ошибка склада.
func AvailableFrom(err error) (int, bool) {
	var insufficient *InsufficientStockError
	if errors.As(err, &insufficient) {
		return insufficient.Available, true
	}
	if errors.Is(err, ErrOutOfStock) {
		return 0, true
	}
	return 0, false
}

// IsStockError проверяет, что ошибка относится к нехватке товара.
func IsStockError(err error) bool {
	return errors.Is(err, ErrOutOfStock) || errors.Is(err, ErrInsufficientStock)
}

// IsNotFound проверяет, что ошибка означает отсутствие сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrSizeNotFound) ||
		errors.Is(err, ErrCartNotFound) ||
		errors.Is(err, ErrCartLineNotFound) ||
		errors.Is(err, ErrOrderNotFound)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
