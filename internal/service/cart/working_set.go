package cart

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// workingSet: позиции корзины, загруженные для одной операции.
// Операции правят набор, а backend потом сохраняет только изменённые ключи.
type workingSet struct {
	items    map[domain.LineKey]domain.LineItem
	dangling map[domain.LineKey]struct{}
	dirty    map[domain.LineKey]struct{}
	removed  map[domain.LineKey]struct{}
	products domain.ProductRepository
}

func newWorkingSet(items []domain.LineItem, dangling []domain.LineKey, products domain.ProductRepository) *workingSet {
	ws := &workingSet{
		items:    make(map[domain.LineKey]domain.LineItem, len(items)),
		dangling: make(map[domain.LineKey]struct{}, len(dangling)),
		dirty:    make(map[domain.LineKey]struct{}),
		removed:  make(map[domain.LineKey]struct{}),
		products: products,
	}
	for _, item := range items {
		ws.items[item.Key] = item
	}
	for _, key := range dangling {
		ws.dangling[key] = struct{}{}
	}
	return ws
}

// keys возвращает ключи всех позиций, включая висячие, в порядке сортировки.
func (ws *workingSet) keys() []domain.LineKey {
	keys := make([]domain.LineKey, 0, len(ws.items)+len(ws.dangling))
	for key := range ws.items {
		keys = append(keys, key)
	}
	for key := range ws.dangling {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// lineItems: разрешённые позиции в порядке ключей.
func (ws *workingSet) lineItems() []domain.LineItem {
	result := make([]domain.LineItem, 0, len(ws.items))
	for _, key := range ws.keys() {
		if item, ok := ws.items[key]; ok {
			result = append(result, item)
		}
	}
	return result
}

func (ws *workingSet) get(key domain.LineKey) (domain.LineItem, bool) {
	item, ok := ws.items[key]
	return item, ok
}

func (ws *workingSet) isDangling(key domain.LineKey) bool {
	_, ok := ws.dangling[key]
	return ok
}

func (ws *workingSet) has(key domain.LineKey) bool {
	_, ok := ws.items[key]
	return ok || ws.isDangling(key)
}

func (ws *workingSet) set(item domain.LineItem) {
	item.FinalPrice = domain.LinePrice(item.UnitPrice, item.Qty)
	ws.items[item.Key] = item
	delete(ws.removed, item.Key)
	ws.dirty[item.Key] = struct{}{}
}

func (ws *workingSet) remove(key domain.LineKey) {
	if !ws.has(key) {
		return
	}
	delete(ws.items, key)
	delete(ws.dangling, key)
	delete(ws.dirty, key)
	ws.removed[key] = struct{}{}
}

func (ws *workingSet) changed() bool {
	return len(ws.dirty) > 0 || len(ws.removed) > 0
}

func (ws *workingSet) product(ctx context.Context, id int64) (domain.Product, error) {
	return ws.products.Get(ctx, id)
}

func (ws *workingSet) totals() (int, decimal.Decimal) {
	total := 0
	price := decimal.Zero
	for _, item := range ws.items {
		total += item.Qty
		price = price.Add(item.FinalPrice)
	}
	return total, price
}

func (ws *workingSet) dirtyKeys() []domain.LineKey {
	keys := make([]domain.LineKey, 0, len(ws.dirty))
	for key := range ws.dirty {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
