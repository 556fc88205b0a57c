package cart

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
)

// View объединяет позиции корзины и её агрегаты.
type View struct {
	Lines      []domain.LineItem
	TotalItems int
	TotalPrice decimal.Decimal
}

type backend interface {
	// update загружает позиции, даёт fn изменить их и сохраняет изменения.
	// create разрешает завести сохранённую корзину, если её ещё нет.
	update(ctx context.Context, create bool, fn func(ctx context.Context, ws *workingSet) error) (View, error)
}

// Service держит корзину согласованной со складом для гостей и покупателей.
type Service struct {
	tx       domain.TxManager
	sessions domain.SessionStore
	logger   *log.Entry
	metrics  *metrics.ShopMetrics
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService создаёт сервис корзины.
func NewService(tx domain.TxManager, sessions domain.SessionStore, options ...Option) *Service {
	s := &Service{tx: tx, sessions: sessions}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "cart-service")
	}
	return s
}

func (s *Service) backend(h Handle) (backend, error) {
	if h == nil {
		return nil, errors.New("cart handle is nil")
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	switch h := h.(type) {
	case GuestHandle:
		return &guestBackend{tx: s.tx, sessions: s.sessions, sessionID: h.SessionID}, nil
	case CustomerHandle:
		return &customerBackend{tx: s.tx, customerID: h.CustomerID}, nil
	default:
		return nil, errors.New("unknown cart handle")
	}
}

// View возвращает позиции и агрегаты корзины.
func (s *Service) View(ctx context.Context, h Handle) (View, error) {
	b, err := s.backend(h)
	if err != nil {
		return View{}, err
	}
	return b.update(ctx, false, func(context.Context, *workingSet) error { return nil })
}

// LineItems возвращает позиции корзины в порядке ключей.
func (s *Service) LineItems(ctx context.Context, h Handle) ([]domain.LineItem, error) {
	view, err := s.View(ctx, h)
	return view.Lines, err
}

// TotalItems возвращает общее количество единиц в корзине.
func (s *Service) TotalItems(ctx context.Context, h Handle) (int, error) {
	view, err := s.View(ctx, h)
	return view.TotalItems, err
}

// TotalPrice возвращает итоговую стоимость корзины.
func (s *Service) TotalPrice(ctx context.Context, h Handle) (decimal.Decimal, error) {
	view, err := s.View(ctx, h)
	if err != nil {
		return decimal.Zero, err
	}
	return view.TotalPrice, nil
}

// AddItem добавляет quantity единиц товара (или его размера). quantity=0 трактуется как 1.
// Если итоговое количество превышает остаток, корзина не меняется.
func (s *Service) AddItem(ctx context.Context, h Handle, productID int64, size *decimal.Decimal, quantity int) (View, error) {
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return View{}, domain.ErrItemQtyInvalid
	}
	b, err := s.backend(h)
	if err != nil {
		return View{}, err
	}

	view, err := b.update(ctx, true, func(ctx context.Context, ws *workingSet) error {
		product, err := ws.product(ctx, productID)
		if err != nil {
			return err
		}

		var picked *domain.Size
		switch {
		case size == nil && product.HasSizes():
			return domain.ErrSizeRequired
		case size != nil:
			found, ok := product.SizeByValue(*size)
			if !ok {
				return domain.ErrSizeNotFound
			}
			picked = &found
		}

		item := domain.LineItem{Product: product, Size: picked, UnitPrice: product.Price}
		if picked != nil {
			item.Key = domain.NewLineKey(product.ID, &picked.Value)
		} else {
			item.Key = domain.NewLineKey(product.ID, nil)
		}

		if existing, ok := ws.get(item.Key); ok {
			item.Qty = existing.Qty
			item.UnitPrice = existing.UnitPrice
		}

		available := item.Available()
		if item.Qty+quantity > available {
			return domain.StockError(available)
		}
		item.Qty += quantity
		ws.set(item)
		return nil
	})
	s.record("add", h, err)
	if err != nil {
		return View{}, err
	}

	s.logger.WithFields(log.Fields{"cart": h.Kind(), "product_id": productID, "qty": quantity}).Debug("cart item added")
	return view, nil
}

// ChangeQuantity выставляет новое количество позиции. Превышение остатка отклоняется
// одинаково для гостевой и сохранённой корзины.
func (s *Service) ChangeQuantity(ctx context.Context, h Handle, key domain.LineKey, newQty int) (View, error) {
	if newQty <= 0 {
		return View{}, domain.ErrItemQtyInvalid
	}
	b, err := s.backend(h)
	if err != nil {
		return View{}, err
	}

	view, err := b.update(ctx, false, func(_ context.Context, ws *workingSet) error {
		item, ok := ws.get(key)
		if !ok {
			if ws.isDangling(key) {
				return domain.ErrProductNotFound
			}
			return domain.ErrCartLineNotFound
		}

		available := item.Available()
		if newQty > available {
			return domain.StockError(available)
		}
		item.Qty = newQty
		ws.set(item)
		return nil
	})
	s.record("change", h, err)
	return view, err
}

// RemoveItem удаляет позицию. Отсутствующий ключ: не ошибка.
func (s *Service) RemoveItem(ctx context.Context, h Handle, key domain.LineKey) (View, error) {
	b, err := s.backend(h)
	if err != nil {
		return View{}, err
	}

	view, err := b.update(ctx, false, func(_ context.Context, ws *workingSet) error {
		ws.remove(key)
		return nil
	})
	s.record("remove", h, err)
	return view, err
}

// Clear удаляет все позиции открытой корзины.
func (s *Service) Clear(ctx context.Context, h Handle) error {
	b, err := s.backend(h)
	if err != nil {
		return err
	}

	_, err = b.update(ctx, false, func(_ context.Context, ws *workingSet) error {
		for _, key := range ws.keys() {
			ws.remove(key)
		}
		return nil
	})
	s.record("clear", h, err)
	return err
}

func (s *Service) record(op string, h Handle, err error) {
	s.metrics.RecordCartMutation(op, h.Kind(), resultOf(err))
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, domain.ErrOutOfStock):
		return metrics.ResultOutOfStock
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.ResultInsufficient
	default:
		return metrics.ResultError
	}
}
