package cart

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Виды корзин для логов и метрик.
const (
	KindGuest    = "guest"
	KindCustomer = "customer"
)

// Handle указывает, с какой корзиной работать. Реализаций ровно две: GuestHandle и CustomerHandle.
type Handle interface {
	Kind() string
	validate() error
}

// GuestHandle: корзина гостя в сессии посетителя.
type GuestHandle struct {
	SessionID string
}

// CustomerHandle: сохранённая корзина покупателя.
type CustomerHandle struct {
	CustomerID string
}

// Guest возвращает handle гостевой корзины.
func Guest(sessionID string) Handle {
	return GuestHandle{SessionID: strings.TrimSpace(sessionID)}
}

// Customer возвращает handle корзины покупателя.
func Customer(customerID string) Handle {
	return CustomerHandle{CustomerID: strings.TrimSpace(customerID)}
}

func (h GuestHandle) Kind() string { return KindGuest }

func (h GuestHandle) validate() error {
	if h.SessionID == "" {
		return fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	return nil
}

func (h CustomerHandle) Kind() string { return KindCustomer }

func (h CustomerHandle) validate() error {
	if h.CustomerID == "" {
		return fmt.Errorf("%w: customer id is required", domain.ErrValidation)
	}
	return nil
}
