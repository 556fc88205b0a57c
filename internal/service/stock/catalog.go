package stock

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Catalog выполняет правки каталога из админки. Каждая операция идёт в одной транзакции,
// изменения размеров заканчиваются явным пересчётом остатка товара.
type Catalog struct {
	tx     domain.TxManager
	ledger *Ledger
	logger *log.Entry
}

// NewCatalog создаёт сервис каталога.
func NewCatalog(tx domain.TxManager, ledger *Ledger, logger *log.Entry) *Catalog {
	if ledger == nil {
		ledger = NewLedger()
	}
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	return &Catalog{tx: tx, ledger: ledger, logger: logger}
}

// CreateProduct создаёт товар; переданные размеры создаются в той же транзакции.
func (c *Catalog) CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}

	var created domain.Product
	err := c.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		created, err = repos.Products.Create(ctx, product)
		if err != nil {
			return fmt.Errorf("create product: %w", err)
		}
		for _, size := range product.Sizes {
			size.ProductID = created.ID
			if _, err := repos.Products.CreateSize(ctx, size); err != nil {
				return fmt.Errorf("create size %s: %w", domain.NormalizeSize(size.Value), err)
			}
		}
		if err := c.ledger.RecomputeAggregate(ctx, repos, created.ID); err != nil {
			return err
		}
		created, err = repos.Products.Get(ctx, created.ID)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}

	c.logger.WithFields(log.Fields{"product_id": created.ID, "sizes": len(created.Sizes)}).Info("product created")
	return created, nil
}

// GetProduct возвращает товар с размерами.
func (c *Catalog) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	var product domain.Product
	err := c.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		product, err = repos.Products.Get(ctx, id)
		return err
	})
	return product, err
}

// SetProductQty задаёт остаток товара без размеров. Для товара с размерами: ErrStockDerived.
func (c *Catalog) SetProductQty(ctx context.Context, id int64, qty int) error {
	if qty < 0 {
		return domain.ErrItemQtyInvalid
	}
	return c.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		if _, err := repos.Products.Get(ctx, id); err != nil {
			return err
		}
		_, count, err := repos.Products.SumSizes(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return domain.ErrStockDerived
		}
		return repos.Products.SetQty(ctx, id, qty)
	})
}

// UpdateProductPrice меняет цену и переоценивает позиции незаблокированных корзин с этим товаром.
func (c *Catalog) UpdateProductPrice(ctx context.Context, id int64, price decimal.Decimal) error {
	if price.IsNegative() {
		return domain.ErrPriceNegative
	}

	repriced := 0
	err := c.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		if err := repos.Products.UpdatePrice(ctx, id, price); err != nil {
			return err
		}

		lines, err := repos.Carts.OpenLinesByProduct(ctx, id)
		if err != nil {
			return fmt.Errorf("open lines of product %d: %w", id, err)
		}

		touched := make(map[int64]struct{})
		for _, line := range lines {
			line.UnitPrice = price
			if _, err := repos.Carts.UpsertLine(ctx, line); err != nil {
				return fmt.Errorf("reprice line %s: %w", line.Key, err)
			}
			touched[line.CartID] = struct{}{}
		}
		for cartID := range touched {
			if _, err := repos.Carts.RecomputeTotals(ctx, cartID); err != nil {
				return fmt.Errorf("recompute cart %d: %w", cartID, err)
			}
		}
		repriced = len(lines)
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.WithFields(log.Fields{"product_id": id, "price": price.StringFixed(2), "lines": repriced}).Info("product repriced")
	return nil
}

// CreateSize добавляет размер и пересчитывает остаток товара.
func (c *Catalog) CreateSize(ctx context.Context, productID int64, value decimal.Decimal, qty int) (domain.Size, error) {
	if qty < 0 {
		return domain.Size{}, domain.ErrItemQtyInvalid
	}

	var size domain.Size
	err := c.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		size, err = repos.Products.CreateSize(ctx, domain.Size{ProductID: productID, Value: value.Round(1), Qty: qty})
		if err != nil {
			return err
		}
		// У товара с размерами позиция без размера не может быть оформлена.
		if err := dropOpenLines(ctx, repos, productID, func(line domain.CartLine) bool { return line.SizeID == nil }); err != nil {
			return err
		}
		return c.ledger.RecomputeAggregate(ctx, repos, productID)
	})
	return size, err
}

// SetSizeQty задаёт остаток размера и пересчитывает остаток товара.
func (c *Catalog) SetSizeQty(ctx context.Context, sizeID int64, qty int) error {
	if qty < 0 {
		return domain.ErrItemQtyInvalid
	}
	return c.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		size, err := repos.Products.GetSize(ctx, sizeID)
		if err != nil {
			return err
		}
		if err := repos.Products.SetSizeQty(ctx, sizeID, qty); err != nil {
			return err
		}
		return c.ledger.RecomputeAggregate(ctx, repos, size.ProductID)
	})
}

// DeleteSize удаляет размер вместе с его позициями в открытых корзинах.
// Если размеров не осталось, остаток товара обнуляется и дальше снова ведётся напрямую.
func (c *Catalog) DeleteSize(ctx context.Context, sizeID int64) error {
	return c.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		size, err := repos.Products.GetSize(ctx, sizeID)
		if err != nil {
			return err
		}
		sized := func(line domain.CartLine) bool { return line.SizeID != nil && *line.SizeID == size.ID }
		if err := dropOpenLines(ctx, repos, size.ProductID, sized); err != nil {
			return err
		}
		if err := repos.Products.DeleteSize(ctx, sizeID); err != nil {
			return err
		}

		_, count, err := repos.Products.SumSizes(ctx, size.ProductID)
		if err != nil {
			return err
		}
		if count == 0 {
			return repos.Products.SetQty(ctx, size.ProductID, 0)
		}
		return c.ledger.RecomputeAggregate(ctx, repos, size.ProductID)
	})
}

// dropOpenLines удаляет подходящие позиции товара из открытых корзин и пересчитывает их итоги.
func dropOpenLines(ctx context.Context, repos domain.Repositories, productID int64, match func(domain.CartLine) bool) error {
	lines, err := repos.Carts.OpenLinesByProduct(ctx, productID)
	if err != nil {
		return fmt.Errorf("open lines of product %d: %w", productID, err)
	}

	touched := make(map[int64]struct{})
	for _, line := range lines {
		if !match(line) {
			continue
		}
		if err := repos.Carts.DeleteLine(ctx, line.CartID, line.Key); err != nil {
			return fmt.Errorf("drop line %s: %w", line.Key, err)
		}
		touched[line.CartID] = struct{}{}
	}
	for cartID := range touched {
		if _, err := repos.Carts.RecomputeTotals(ctx, cartID); err != nil {
			return fmt.Errorf("recompute cart %d: %w", cartID, err)
		}
	}
	return nil
}
