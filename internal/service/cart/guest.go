package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// guestBackend хранит корзину в сессии посетителя под ключом domain.GuestCartSessionKey.
type guestBackend struct {
	tx        domain.TxManager
	sessions  domain.SessionStore
	sessionID string
}

func (b *guestBackend) update(ctx context.Context, _ bool, fn func(ctx context.Context, ws *workingSet) error) (View, error) {
	guestCart, err := b.load(ctx)
	if err != nil {
		return View{}, err
	}

	var ws *workingSet
	err = b.tx.InTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		items, dangling, err := resolveGuest(ctx, repos.Products, guestCart)
		if err != nil {
			return err
		}
		ws = newWorkingSet(items, dangling, repos.Products)
		return fn(ctx, ws)
	})
	if err != nil {
		return View{}, err
	}

	if ws.changed() {
		for key := range ws.removed {
			delete(guestCart, key)
		}
		for _, key := range ws.dirtyKeys() {
			item := ws.items[key]
			line := domain.GuestLine{Qty: item.Qty, Price: item.UnitPrice.StringFixed(2)}
			if item.Size != nil {
				line.Size = domain.NormalizeSize(item.Size.Value)
			}
			guestCart[key] = line
		}
		if err := b.save(ctx, guestCart); err != nil {
			return View{}, err
		}
	}

	total, price := ws.totals()
	return View{Lines: ws.lineItems(), TotalItems: total, TotalPrice: price}, nil
}

func (b *guestBackend) load(ctx context.Context) (domain.GuestCart, error) {
	raw, ok, err := b.sessions.Get(ctx, b.sessionID, domain.GuestCartSessionKey)
	if err != nil {
		return nil, fmt.Errorf("load guest cart: %w", err)
	}
	guestCart := make(domain.GuestCart)
	if !ok || len(raw) == 0 {
		return guestCart, nil
	}
	if err := json.Unmarshal(raw, &guestCart); err != nil {
		return nil, fmt.Errorf("decode guest cart: %w", err)
	}
	return guestCart, nil
}

func (b *guestBackend) save(ctx context.Context, guestCart domain.GuestCart) error {
	if len(guestCart) == 0 {
		if err := b.sessions.Delete(ctx, b.sessionID, domain.GuestCartSessionKey); err != nil {
			return fmt.Errorf("clear guest cart: %w", err)
		}
		return nil
	}

	raw, err := json.Marshal(guestCart)
	if err != nil {
		return fmt.Errorf("encode guest cart: %w", err)
	}
	if err := b.sessions.Set(ctx, b.sessionID, domain.GuestCartSessionKey, raw); err != nil {
		return fmt.Errorf("save guest cart: %w", err)
	}
	return nil
}

// resolveGuest подтягивает товары и размеры всех позиций одним запросом GetMany.
// Позиции, чей товар или размер исчез, возвращаются как висячие ключи.
func resolveGuest(ctx context.Context, products domain.ProductRepository, guestCart domain.GuestCart) ([]domain.LineItem, []domain.LineKey, error) {
	type parsed struct {
		productID int64
		size      *decimal.Decimal
	}

	var dangling []domain.LineKey
	keys := make(map[domain.LineKey]parsed, len(guestCart))
	ids := make([]int64, 0, len(guestCart))
	seen := make(map[int64]struct{}, len(guestCart))
	for key := range guestCart {
		productID, size, err := key.Parse()
		if err != nil {
			dangling = append(dangling, key)
			continue
		}
		keys[key] = parsed{productID: productID, size: size}
		if _, ok := seen[productID]; !ok {
			seen[productID] = struct{}{}
			ids = append(ids, productID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	found, err := products.GetMany(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve guest cart products: %w", err)
	}

	items := make([]domain.LineItem, 0, len(keys))
	for key, ref := range keys {
		product, ok := found[ref.productID]
		if !ok {
			dangling = append(dangling, key)
			continue
		}

		var size *domain.Size
		if ref.size != nil {
			s, ok := product.SizeByValue(*ref.size)
			if !ok {
				dangling = append(dangling, key)
				continue
			}
			size = &s
		} else if product.HasSizes() {
			dangling = append(dangling, key)
			continue
		}

		line := guestCart[key]
		unit, err := decimal.NewFromString(line.Price)
		if err != nil {
			unit = product.Price
		}
		items = append(items, domain.LineItem{
			Key:        key,
			Product:    product,
			Size:       size,
			Qty:        line.Qty,
			UnitPrice:  unit,
			FinalPrice: domain.LinePrice(unit, line.Qty),
		})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, dangling, nil
}
