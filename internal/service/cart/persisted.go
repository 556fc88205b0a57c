package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// customerBackend работает с единственной открытой корзиной покупателя.
type customerBackend struct {
	tx         domain.TxManager
	customerID string
}

func (b *customerBackend) update(ctx context.Context, create bool, fn func(ctx context.Context, ws *workingSet) error) (View, error) {
	var view View
	err := b.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		cart, err := repos.Carts.FindOpenByCustomer(ctx, b.customerID)
		if errors.Is(err, domain.ErrCartNotFound) {
			if !create {
				view = View{TotalPrice: decimal.Zero}
				return fn(ctx, newWorkingSet(nil, nil, repos.Products))
			}
			customerID := b.customerID
			cart, err = repos.Carts.Create(ctx, domain.Cart{CustomerID: &customerID})
			if errors.Is(err, domain.ErrOpenCartExists) {
				// Параллельный первый запрос уже создал корзину.
				cart, err = repos.Carts.FindOpenByCustomer(ctx, b.customerID)
			}
		}
		if err != nil {
			return fmt.Errorf("open cart of customer %s: %w", b.customerID, err)
		}
		if cart.InOrder {
			return domain.ErrCartLocked
		}

		lines, err := repos.Carts.Lines(ctx, cart.ID)
		if err != nil {
			return fmt.Errorf("cart %d lines: %w", cart.ID, err)
		}
		items, dangling, err := resolveLines(ctx, repos.Products, lines)
		if err != nil {
			return err
		}

		ws := newWorkingSet(items, dangling, repos.Products)
		if err := fn(ctx, ws); err != nil {
			return err
		}

		if ws.changed() {
			for key := range ws.removed {
				if err := repos.Carts.DeleteLine(ctx, cart.ID, key); err != nil {
					return fmt.Errorf("delete line %s: %w", key, err)
				}
			}
			for _, key := range ws.dirtyKeys() {
				item := ws.items[key]
				line := domain.CartLine{
					CartID:    cart.ID,
					Key:       key,
					ProductID: item.Product.ID,
					Qty:       item.Qty,
					UnitPrice: item.UnitPrice,
				}
				if item.Size != nil {
					sizeID := item.Size.ID
					line.SizeID = &sizeID
				}
				if _, err := repos.Carts.UpsertLine(ctx, line); err != nil {
					return fmt.Errorf("save line %s: %w", key, err)
				}
			}
			recomputed, err := repos.Carts.RecomputeTotals(ctx, cart.ID)
			if err != nil {
				return fmt.Errorf("recompute cart %d: %w", cart.ID, err)
			}
			cart = recomputed
		}

		total, price := ws.totals()
		view = View{Lines: ws.lineItems(), TotalItems: total, TotalPrice: price}
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return view, nil
}

// resolveLines подтягивает товары позиций одним запросом GetMany.
func resolveLines(ctx context.Context, products domain.ProductRepository, lines []domain.CartLine) ([]domain.LineItem, []domain.LineKey, error) {
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; !ok {
			seen[line.ProductID] = struct{}{}
			ids = append(ids, line.ProductID)
		}
	}

	found, err := products.GetMany(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve cart products: %w", err)
	}

	var (
		items    = make([]domain.LineItem, 0, len(lines))
		dangling []domain.LineKey
	)
	for _, line := range lines {
		product, ok := found[line.ProductID]
		if !ok {
			dangling = append(dangling, line.Key)
			continue
		}

		var size *domain.Size
		if line.SizeID != nil {
			for i := range product.Sizes {
				if product.Sizes[i].ID == *line.SizeID {
					s := product.Sizes[i]
					size = &s
					break
				}
			}
			if size == nil {
				dangling = append(dangling, line.Key)
				continue
			}
		} else if product.HasSizes() {
			dangling = append(dangling, line.Key)
			continue
		}

		items = append(items, domain.LineItem{
			Key:        line.Key,
			Product:    product,
			Size:       size,
			Qty:        line.Qty,
			UnitPrice:  line.UnitPrice,
			FinalPrice: domain.LinePrice(line.UnitPrice, line.Qty),
		})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, dangling, nil
}
