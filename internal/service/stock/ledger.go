package stock

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
)

// Ledger: единственный, кто меняет счётчики остатков вне прямых правок каталога.
// Методы работают внутри транзакции вызывающего через переданные repos.
type Ledger struct {
	logger  *log.Entry
	metrics *metrics.ShopMetrics
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// NewLedger создаёт Ledger.
func NewLedger(options ...Option) *Ledger {
	l := &Ledger{}
	for _, option := range options {
		option(l)
	}
	if l.logger == nil {
		l.logger = log.WithField("component", "stock-ledger")
	}
	return l
}

// Reserve списывает quantity единиц одним условным обновлением.
// Нехватка возвращается как ErrOutOfStock или *InsufficientStockError с фактическим остатком.
func (l *Ledger) Reserve(ctx context.Context, repos domain.Repositories, ref domain.StockRef, quantity int) error {
	if quantity <= 0 {
		return domain.ErrItemQtyInvalid
	}
	if err := l.ensureWritable(ctx, repos, ref); err != nil {
		return err
	}

	ok, err := repos.Products.TakeStock(ctx, ref, quantity)
	if err != nil {
		l.metrics.RecordReservation(metrics.ResultError)
		return fmt.Errorf("reserve %s: %w", ref, err)
	}
	if !ok {
		available, err := repos.Products.Available(ctx, ref)
		if err != nil {
			return fmt.Errorf("read available %s: %w", ref, err)
		}
		stockErr := domain.StockError(available)
		if errors.Is(stockErr, domain.ErrOutOfStock) {
			l.metrics.RecordReservation(metrics.ResultOutOfStock)
		} else {
			l.metrics.RecordReservation(metrics.ResultInsufficient)
		}
		return stockErr
	}

	if ref.Sized() {
		if err := l.RecomputeAggregate(ctx, repos, ref.ProductID); err != nil {
			return err
		}
	}

	l.metrics.RecordReservation(metrics.ResultOK)
	l.logger.WithFields(log.Fields{"ref": ref.String(), "qty": quantity}).Debug("stock reserved")
	return nil
}

// Release возвращает quantity единиц. Верхняя граница не проверяется.
func (l *Ledger) Release(ctx context.Context, repos domain.Repositories, ref domain.StockRef, quantity int) error {
	if quantity <= 0 {
		return domain.ErrItemQtyInvalid
	}
	if err := l.ensureWritable(ctx, repos, ref); err != nil {
		return err
	}

	if err := repos.Products.ReturnStock(ctx, ref, quantity); err != nil {
		return fmt.Errorf("release %s: %w", ref, err)
	}
	if ref.Sized() {
		if err := l.RecomputeAggregate(ctx, repos, ref.ProductID); err != nil {
			return err
		}
	}

	l.metrics.RecordReleased(quantity)
	l.logger.WithFields(log.Fields{"ref": ref.String(), "qty": quantity}).Debug("stock released")
	return nil
}

// RecomputeAggregate выставляет остаток товара равным сумме остатков размеров.
// Без размеров остаток товара первичен и не трогается.
func (l *Ledger) RecomputeAggregate(ctx context.Context, repos domain.Repositories, productID int64) error {
	sum, count, err := repos.Products.SumSizes(ctx, productID)
	if err != nil {
		return fmt.Errorf("sum sizes of product %d: %w", productID, err)
	}
	if count == 0 {
		return nil
	}
	if err := repos.Products.SetQty(ctx, productID, sum); err != nil {
		return fmt.Errorf("recompute product %d: %w", productID, err)
	}
	return nil
}

// ensureWritable не даёт писать в остаток товара напрямую, если он производный от размеров.
func (l *Ledger) ensureWritable(ctx context.Context, repos domain.Repositories, ref domain.StockRef) error {
	if ref.Sized() {
		return nil
	}
	_, count, err := repos.Products.SumSizes(ctx, ref.ProductID)
	if err != nil {
		return fmt.Errorf("sum sizes of product %d: %w", ref.ProductID, err)
	}
	if count > 0 {
		return domain.ErrStockDerived
	}
	return nil
}
