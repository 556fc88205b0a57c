package domain

import (
	"strings"
	"time"
)

// CheckoutKeyState описывает, чем закончилось оформление заказа под Idempotency-Key.
type CheckoutKeyState string

const (
	// CheckoutKeyPending: оформление идёт, повтор получит ErrRequestInProgress.
	CheckoutKeyPending CheckoutKeyState = "pending"
	// CheckoutKeyPlaced: заказ создан, OrderID заполнен.
	CheckoutKeyPlaced CheckoutKeyState = "placed"
	// CheckoutKeyRejected: черновик заказа отклонён, повтор с тем же телом отклонится так же.
	CheckoutKeyRejected CheckoutKeyState = "rejected"
)

// Valid проверяет, что состояние относится к поддерживаемым значениям.
func (s CheckoutKeyState) Valid() bool {
	switch s {
	case CheckoutKeyPending, CheckoutKeyPlaced, CheckoutKeyRejected:
		return true
	default:
		return false
	}
}

// Settled сообщает, что под ключом сохранён окончательный ответ.
func (s CheckoutKeyState) Settled() bool {
	return s == CheckoutKeyPlaced || s == CheckoutKeyRejected
}

// CheckoutScope задаёт корзину, в пределах которой уникален ключ.
// Один и тот же Idempotency-Key у разных покупателей не пересекается.
type CheckoutScope struct {
	CartKind string
	Subject  string
}

// NewCheckoutScope нормализует вид корзины и её владельца.
func NewCheckoutScope(cartKind, subject string) CheckoutScope {
	return CheckoutScope{
		CartKind: strings.TrimSpace(cartKind),
		Subject:  strings.TrimSpace(subject),
	}
}

// Empty сообщает, что владелец корзины неизвестен.
func (s CheckoutScope) Empty() bool {
	return s.CartKind == "" || s.Subject == ""
}

func (s CheckoutScope) String() string {
	return s.CartKind + ":" + s.Subject
}

// CheckoutKey хранит попытку оформления заказа по ключу клиента.
type CheckoutKey struct {
	Scope       CheckoutScope
	Key         string
	RequestHash string
	State       CheckoutKeyState
	OrderID     string
	HTTPStatus  int
	Response    []byte
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CheckoutOutcome: окончательный итог оформления, который сохраняется под ключом.
type CheckoutOutcome struct {
	State      CheckoutKeyState
	OrderID    string
	HTTPStatus int
	Response   []byte
}
