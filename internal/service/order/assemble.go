package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/cart"
)

// Checkout проверяет черновик, сверяет корзину со складом и оформляет заказ.
// Если сверка изменила корзину, возвращается ErrNeedsRecheck вместе с отчётом.
func (s *Service) Checkout(ctx context.Context, h cart.Handle, draft domain.OrderDraft) (domain.Order, cart.Report, error) {
	if err := draft.Validate(); err != nil {
		return domain.Order{}, cart.Report{}, err
	}

	report, err := s.carts.ReconcileBeforeCheckout(ctx, h)
	if err != nil {
		return domain.Order{}, cart.Report{}, err
	}
	if report.NeedsRecheck {
		return domain.Order{}, report, domain.ErrNeedsRecheck
	}

	var placed domain.Order
	switch h := h.(type) {
	case cart.GuestHandle:
		placed, err = s.AssembleForGuest(ctx, h.SessionID, draft)
	case cart.CustomerHandle:
		placed, err = s.AssembleForCustomer(ctx, h.CustomerID, draft)
	default:
		err = errors.New("unknown cart handle")
	}
	return placed, report, err
}

// AssembleForCustomer блокирует открытую корзину покупателя, списывает остатки по всем позициям
// и создаёт заказ. Всё происходит в одной транзакции: при любой ошибке корзина остаётся открытой,
// а остатки не меняются.
func (s *Service) AssembleForCustomer(ctx context.Context, customerID string, draft domain.OrderDraft) (domain.Order, error) {
	if err := draft.Validate(); err != nil {
		return domain.Order{}, err
	}

	s.metrics.CheckoutStarted()
	defer s.metrics.CheckoutFinished()
	started := s.now()

	var (
		placed domain.Order
		items  []domain.LineItem
	)
	err := s.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		openCart, err := repos.Carts.FindOpenByCustomer(ctx, customerID)
		if errors.Is(err, domain.ErrCartNotFound) {
			return domain.ErrCartEmpty
		}
		if err != nil {
			return err
		}

		lines, err := repos.Carts.Lines(ctx, openCart.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return domain.ErrCartEmpty
		}

		locked, err := repos.Carts.Lock(ctx, openCart.ID)
		if err != nil {
			return err
		}
		if !locked {
			return domain.ErrCartLocked
		}

		owner := customerID
		placed, items, err = s.place(ctx, repos, openCart.ID, &owner, lines, draft)
		return err
	})
	if err != nil {
		return domain.Order{}, s.aborted(cart.KindCustomer, err)
	}

	s.placed(ctx, cart.KindCustomer, placed, items, started)
	return placed, nil
}

// AssembleForGuest переносит гостевую корзину в новую заблокированную корзину,
// списывает остатки и создаёт заказ в одной транзакции. Сессия очищается только после фиксации.
func (s *Service) AssembleForGuest(ctx context.Context, sessionID string, draft domain.OrderDraft) (domain.Order, error) {
	if err := draft.Validate(); err != nil {
		return domain.Order{}, err
	}

	handle := cart.Guest(sessionID)
	guestLines, err := s.carts.LineItems(ctx, handle)
	if err != nil {
		return domain.Order{}, err
	}
	if len(guestLines) == 0 {
		return domain.Order{}, domain.ErrCartEmpty
	}

	s.metrics.CheckoutStarted()
	defer s.metrics.CheckoutFinished()
	started := s.now()

	var (
		placed domain.Order
		items  []domain.LineItem
	)
	err = s.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		materialized, err := repos.Carts.Create(ctx, domain.Cart{CreatedAt: s.now()})
		if err != nil {
			return fmt.Errorf("create cart: %w", err)
		}

		lines := make([]domain.CartLine, 0, len(guestLines))
		for _, item := range guestLines {
			line := domain.CartLine{
				CartID:    materialized.ID,
				Key:       item.Key,
				ProductID: item.Product.ID,
				Qty:       item.Qty,
				UnitPrice: item.UnitPrice,
			}
			if item.Size != nil {
				sizeID := item.Size.ID
				line.SizeID = &sizeID
			}
			saved, err := repos.Carts.UpsertLine(ctx, line)
			if err != nil {
				return fmt.Errorf("copy line %s: %w", item.Key, err)
			}
			lines = append(lines, saved)
		}

		if _, err := repos.Carts.Lock(ctx, materialized.ID); err != nil {
			return err
		}

		placed, items, err = s.place(ctx, repos, materialized.ID, nil, lines, draft)
		return err
	})
	if err != nil {
		return domain.Order{}, s.aborted(cart.KindGuest, err)
	}

	if err := s.carts.Clear(ctx, handle); err != nil {
		s.logger.WithError(err).WithField("order_id", placed.ID).Warn("failed to clear guest cart after checkout")
	}

	s.placed(ctx, cart.KindGuest, placed, items, started)
	return placed, nil
}

// place списывает остатки по позициям уже заблокированной корзины и создаёт заказ.
func (s *Service) place(
	ctx context.Context,
	repos domain.Repositories,
	cartID int64,
	customerID *string,
	lines []domain.CartLine,
	draft domain.OrderDraft,
) (domain.Order, []domain.LineItem, error) {
	for _, line := range lines {
		if err := s.ledger.Reserve(ctx, repos, line.Ref(), line.Qty); err != nil {
			return domain.Order{}, nil, fmt.Errorf("line %s: %w", line.Key, err)
		}
	}

	totals, err := repos.Carts.RecomputeTotals(ctx, cartID)
	if err != nil {
		return domain.Order{}, nil, fmt.Errorf("recompute cart %d: %w", cartID, err)
	}

	now := s.now()
	placed := domain.NewOrder(s.newID(), customerID, draft, cartID, totals.FinalPrice, now)
	if err := repos.Orders.Create(ctx, placed); err != nil {
		return domain.Order{}, nil, fmt.Errorf("create order: %w", err)
	}
	if err := s.recordEvent(ctx, repos, placed, domain.EventOrderPlaced, "", lines); err != nil {
		return domain.Order{}, nil, err
	}

	items, err := s.snapshot(ctx, repos, lines)
	if err != nil {
		return domain.Order{}, nil, err
	}
	return placed, items, nil
}

// snapshot собирает позиции с товарами для письма-подтверждения.
func (s *Service) snapshot(ctx context.Context, repos domain.Repositories, lines []domain.CartLine) ([]domain.LineItem, error) {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := repos.Products.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load order products: %w", err)
	}

	items := make([]domain.LineItem, 0, len(lines))
	for _, line := range lines {
		product := products[line.ProductID]
		item := domain.LineItem{
			Key:        line.Key,
			Product:    product,
			Qty:        line.Qty,
			UnitPrice:  line.UnitPrice,
			FinalPrice: domain.LinePrice(line.UnitPrice, line.Qty),
		}
		if line.SizeID != nil {
			for i := range product.Sizes {
				if product.Sizes[i].ID == *line.SizeID {
					size := product.Sizes[i]
					item.Size = &size
				}
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) aborted(kind string, err error) error {
	s.metrics.RecordOrderAborted()
	s.logger.WithError(err).WithField("cart", kind).Warn("order assembly rolled back")
	if errors.Is(err, domain.ErrCartEmpty) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransactionAborted, err)
}

func (s *Service) placed(ctx context.Context, kind string, placed domain.Order, items []domain.LineItem, started time.Time) {
	s.eventCommitted()
	s.metrics.RecordOrderPlaced(kind, s.now().Sub(started))
	s.logger.WithFields(log.Fields{
		"order_id":    placed.ID,
		"cart":        kind,
		"cart_id":     *placed.CartID,
		"final_price": placed.FinalPrice.StringFixed(2),
	}).Info("order placed")

	s.sendConfirmation(ctx, placed, items)
}
