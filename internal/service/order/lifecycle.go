package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Get возвращает заказ по id.
func (s *Service) Get(ctx context.Context, orderID string) (domain.Order, error) {
	var found domain.Order
	err := s.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		found, err = repos.Orders.Get(ctx, orderID)
		return err
	})
	return found, err
}

// ListByCustomer возвращает заказы покупателя от новых к старым.
func (s *Service) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		orders, err = repos.Orders.ListByCustomer(ctx, customerID, limit)
		return err
	})
	return orders, err
}

// Timeline возвращает историю заказа.
func (s *Service) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	var events []domain.TimelineEvent
	err := s.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		events, err = repos.Timeline.List(ctx, orderID)
		return err
	})
	return events, err
}

// Lines возвращает позиции корзины заказа. У отменённого заказа корзины уже нет.
func (s *Service) Lines(ctx context.Context, orderID string) ([]domain.CartLine, error) {
	var lines []domain.CartLine
	err := s.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		found, err := repos.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if found.CartID == nil {
			return nil
		}
		lines, err = repos.Carts.Lines(ctx, *found.CartID)
		return err
	})
	return lines, err
}

// AdvanceStatus двигает заказ вперёд по цепочке new -> in_progress -> is_ready -> completed.
func (s *Service) AdvanceStatus(ctx context.Context, orderID string, next domain.OrderStatus) (domain.Order, error) {
	var updated domain.Order
	err := s.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		current, err := repos.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if !current.Status.CanAdvanceTo(next) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrOrderStatusTransition, current.Status, next)
		}

		current.Status = next
		current.UpdatedAt = s.now()
		if err := repos.Orders.Save(ctx, current); err != nil {
			return err
		}
		current.Version++
		updated = current
		return s.recordEvent(ctx, repos, updated, domain.EventOrderStatusChanged, string(next), nil)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.eventCommitted()
	s.logger.WithFields(log.Fields{"order_id": orderID, "status": next}).Info("order status changed")
	return updated, nil
}

// Cancel отменяет незавершённый заказ: возвращает остатки по всем позициям,
// удаляет корзину и отвязывает её от заказа. Всё в одной транзакции.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (domain.Order, error) {
	var canceled domain.Order
	err := s.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		current, err := repos.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return fmt.Errorf("%w: %s -> %s", domain.ErrOrderStatusTransition, current.Status, domain.OrderStatusCanceled)
		}

		lines, err := s.releaseCart(ctx, repos, current)
		if err != nil {
			return err
		}

		current.CartID = nil
		current.Status = domain.OrderStatusCanceled
		current.UpdatedAt = s.now()
		if err := repos.Orders.Save(ctx, current); err != nil {
			return err
		}
		current.Version++
		canceled = current
		return s.recordEvent(ctx, repos, canceled, domain.EventOrderCanceled, reason, lines)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.eventCommitted()
	s.metrics.RecordOrderCanceled()
	s.logger.WithFields(log.Fields{"order_id": orderID, "reason": reason}).Info("order canceled")
	return canceled, nil
}

// Delete удаляет заказ. Если заказ не был отменён, остатки возвращаются в той же транзакции.
func (s *Service) Delete(ctx context.Context, orderID string) error {
	err := s.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		current, err := repos.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		return s.deleteOrder(ctx, repos, current)
	})
	if err != nil {
		return err
	}

	s.eventCommitted()
	s.metrics.RecordOrderDeleted()
	s.logger.WithField("order_id", orderID).Info("order deleted")
	return nil
}

// DeleteForCustomer удаляет заказ из личного кабинета: только свой и только в статусе new.
func (s *Service) DeleteForCustomer(ctx context.Context, customerID, orderID string) error {
	err := s.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		current, err := repos.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if !current.OwnedBy(customerID) {
			return domain.ErrOrderNotFound
		}
		if current.Status != domain.OrderStatusNew {
			return fmt.Errorf("%w: only new orders can be deleted", domain.ErrOrderStatusTransition)
		}
		return s.deleteOrder(ctx, repos, current)
	})
	if err != nil {
		return err
	}

	s.eventCommitted()
	s.metrics.RecordOrderDeleted()
	s.logger.WithFields(log.Fields{"order_id": orderID, "customer_id": customerID}).Info("order deleted by customer")
	return nil
}

func (s *Service) deleteOrder(ctx context.Context, repos domain.Repositories, current domain.Order) error {
	var lines []domain.CartLine
	if current.Status != domain.OrderStatusCanceled {
		var err error
		lines, err = s.releaseCart(ctx, repos, current)
		if err != nil {
			return err
		}
	}
	if err := repos.Orders.Delete(ctx, current.ID); err != nil {
		return err
	}
	return s.recordEvent(ctx, repos, current, domain.EventOrderDeleted, "", lines)
}

// releaseCart возвращает на склад всё, что списала сборка заказа, и удаляет корзину.
// Возвращает снимок позиций для события.
func (s *Service) releaseCart(ctx context.Context, repos domain.Repositories, current domain.Order) ([]domain.CartLine, error) {
	if current.CartID == nil {
		return nil, nil
	}

	lines, err := repos.Carts.Lines(ctx, *current.CartID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		err := s.ledger.Release(ctx, repos, line.Ref(), line.Qty)
		if errors.Is(err, domain.ErrSizeNotFound) || errors.Is(err, domain.ErrProductNotFound) {
			s.logger.WithFields(log.Fields{"order_id": current.ID, "line": line.Key}).Warn("stock item vanished, release skipped")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("release line %s: %w", line.Key, err)
		}
	}

	if err := repos.Carts.Delete(ctx, *current.CartID); err != nil {
		return nil, fmt.Errorf("delete cart %d: %w", *current.CartID, err)
	}
	return lines, nil
}

// recordEvent пишет событие в timeline и outbox в транзакции операции.
func (s *Service) recordEvent(ctx context.Context, repos domain.Repositories, o domain.Order, eventType, reason string, lines []domain.CartLine) error {
	now := s.now()
	if err := repos.Timeline.Append(ctx, domain.TimelineEvent{
		OrderID:  o.ID,
		Type:     eventType,
		Reason:   reason,
		Occurred: now,
	}); err != nil {
		return fmt.Errorf("append timeline: %w", err)
	}

	payload := domain.OrderEventPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Status:     o.Status,
		FinalPrice: o.FinalPrice.StringFixed(2),
		Reason:     reason,
		OccurredAt: now,
	}
	for _, line := range lines {
		payload.Lines = append(payload.Lines, domain.OrderEventLine{
			Key:       line.Key,
			ProductID: line.ProductID,
			SizeID:    line.SizeID,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice.StringFixed(2),
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	if _, err := repos.Outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   o.ID,
		EventType:     eventType,
		Payload:       body,
	}); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}

	return nil
}

// eventCommitted учитывает событие после фиксации транзакции.
func (s *Service) eventCommitted() {
	s.metrics.RecordTimelineEvent()
	s.metrics.RecordOutboxEvent()
}
