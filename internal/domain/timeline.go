package domain

import "time"

// Типы событий заказа: одни и те же значения пишутся в timeline и в outbox.
const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderCanceled      = "order.canceled"
	EventOrderDeleted       = "order.deleted"
)

// AggregateOrder: тип агрегата событий заказа в outbox.
const AggregateOrder = "order"

// IsOrderEvent сообщает, что тип события относится к жизненному циклу заказа.
func IsOrderEvent(eventType string) bool {
	switch eventType {
	case EventOrderPlaced, EventOrderStatusChanged, EventOrderCanceled, EventOrderDeleted:
		return true
	default:
		return false
	}
}

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// OrderEventPayload: тело событий заказа в outbox.
type OrderEventPayload struct {
	OrderID    string           `json:"order_id"`
	CustomerID *string          `json:"customer_id,omitempty"`
	Status     OrderStatus      `json:"status"`
	FinalPrice string           `json:"final_price"`
	Reason     string           `json:"reason,omitempty"`
	Lines      []OrderEventLine `json:"lines,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// OrderEventLine: снимок позиции корзины заказа.
type OrderEventLine struct {
	Key       LineKey `json:"key"`
	ProductID int64   `json:"product_id"`
	SizeID    *int64  `json:"size_id,omitempty"`
	Qty       int     `json:"qty"`
	UnitPrice string  `json:"unit_price"`
}
