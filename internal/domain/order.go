package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusNew: заказ оформлен, остатки списаны.
	OrderStatusNew OrderStatus = "new"
	// OrderStatusInProgress: заказ взят в обработку.
	OrderStatusInProgress OrderStatus = "in_progress"
	// OrderStatusReady: заказ собран и готов к выдаче.
	OrderStatusReady OrderStatus = "is_ready"
	// OrderStatusCompleted: заказ выдан.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCanceled: заказ отменён, остатки возвращены.
	OrderStatusCanceled OrderStatus = "cancel"
)

var statusRank = map[OrderStatus]int{
	OrderStatusNew:        0,
	OrderStatusInProgress: 1,
	OrderStatusReady:      2,
	OrderStatusCompleted:  3,
}

// Valid проверяет, что статус известен.
func (s OrderStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == OrderStatusCanceled
}

// Terminal: из этих статусов переходов нет.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCanceled
}

// CanAdvanceTo разрешает только движение вперёд по цепочке new -> in_progress -> is_ready -> completed.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// BuyingType: способ получения заказа.
type BuyingType string

const (
	BuyingTypeSelf     BuyingType = "self"
	BuyingTypeDelivery BuyingType = "delivery"
)

// PaymentType: способ оплаты.
type PaymentType string

const (
	PaymentTypeCash PaymentType = "cash"
	PaymentTypeCard PaymentType = "card"
)

// Order хранит снимок контактов покупателя и ссылку на заблокированную корзину.
type Order struct {
	ID          string
	CustomerID  *string
	FirstName   string
	LastName    string
	Phone       string
	Email       string
	Address     string
	Comment     string
	CartID      *int64
	Status      OrderStatus
	BuyingType  BuyingType
	PaymentType PaymentType
	FinalPrice  decimal.Decimal
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OwnedBy проверяет, что заказ принадлежит покупателю.
func (o Order) OwnedBy(customerID string) bool {
	return o.CustomerID != nil && *o.CustomerID == customerID
}

// OrderDraft: данные формы оформления заказа.
type OrderDraft struct {
	FirstName   string      `json:"first_name" validate:"required,max=255"`
	LastName    string      `json:"last_name" validate:"required,max=255"`
	Phone       string      `json:"phone" validate:"required,max=20"`
	Email       string      `json:"email" validate:"omitempty,email,max=255"`
	Address     string      `json:"address" validate:"required_if=BuyingType delivery,max=1024"`
	Comment     string      `json:"comment" validate:"max=1024"`
	BuyingType  BuyingType  `json:"buying_type" validate:"required,oneof=self delivery"`
	PaymentType PaymentType `json:"payment_type" validate:"required,oneof=cash card"`
}

var draftValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate проверяет черновик и заворачивает замечания в ErrValidation.
func (d OrderDraft) Validate() error {
	err := draftValidator.Struct(d)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		first := fieldErrs[0]
		return fmt.Errorf("%w: field %s failed on %q", ErrValidation, first.Field(), first.Tag())
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

// NewOrder собирает заказ из черновика.
func NewOrder(id string, customerID *string, draft OrderDraft, cartID int64, finalPrice decimal.Decimal, now time.Time) Order {
	cid := cartID
	return Order{
		ID:          id,
		CustomerID:  customerID,
		FirstName:   draft.FirstName,
		LastName:    draft.LastName,
		Phone:       draft.Phone,
		Email:       draft.Email,
		Address:     draft.Address,
		Comment:     draft.Comment,
		CartID:      &cid,
		Status:      OrderStatusNew,
		BuyingType:  draft.BuyingType,
		PaymentType: draft.PaymentType,
		FinalPrice:  finalPrice,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
