package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type orderRepository struct {
	st *state
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepository) Create(_ context.Context, order domain.Order) error {
	if _, exists := r.st.orders[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	r.st.orders[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound.
func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	order, ok := r.st.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListByCustomer возвращает заказы клиента от новых к старым, не больше limit (если >0).
func (r *orderRepository) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	result := make([]domain.Order, 0)
	for _, order := range r.st.orders {
		if !order.OwnedBy(customerID) {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Save перезаписывает заказ, проверяя версию.
func (r *orderRepository) Save(_ context.Context, order domain.Order) error {
	current, ok := r.st.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	order.Version++
	r.st.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *orderRepository) Delete(_ context.Context, id string) error {
	if _, ok := r.st.orders[id]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(r.st.orders, id)
	return nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	if src.CustomerID != nil {
		customer := *src.CustomerID
		dst.CustomerID = &customer
	}
	if src.CartID != nil {
		cartID := *src.CartID
		dst.CartID = &cartID
	}
	return dst
}

var _ domain.OrderRepository = (*orderRepository)(nil)
