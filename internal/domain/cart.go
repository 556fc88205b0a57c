package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GuestCartSessionKey: ключ, под которым гостевая корзина лежит в сессии.
const GuestCartSessionKey = "cart"

// Cart: сохранённая корзина. InOrder=true означает, что корзина заблокирована заказом.
type Cart struct {
	ID           int64
	CustomerID   *string
	TotalProduct int
	FinalPrice   decimal.Decimal
	InOrder      bool
	CreatedAt    time.Time
}

// CartLine: позиция сохранённой корзины.
type CartLine struct {
	ID         int64
	CartID     int64
	Key        LineKey
	ProductID  int64
	SizeID     *int64
	Qty        int
	UnitPrice  decimal.Decimal
	FinalPrice decimal.Decimal
}

// Ref возвращает ссылку на счётчик остатка, который расходует позиция.
func (l CartLine) Ref() StockRef {
	if l.SizeID != nil {
		return SizeStock(l.ProductID, *l.SizeID)
	}
	return ProductStock(l.ProductID)
}

// Reprice пересчитывает итог позиции: qty * unit_price.
func (l *CartLine) Reprice() {
	l.FinalPrice = LinePrice(l.UnitPrice, l.Qty)
}

// LinePrice: стоимость позиции.
func LinePrice(unit decimal.Decimal, qty int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(qty)))
}

// Totals считает агрегаты корзины по позициям.
func Totals(lines []CartLine) (int, decimal.Decimal) {
	total := 0
	price := decimal.Zero
	for _, l := range lines {
		total += l.Qty
		price = price.Add(LinePrice(l.UnitPrice, l.Qty))
	}
	return total, price
}

// LineItem: позиция корзины в едином виде для гостевой и сохранённой корзины.
type LineItem struct {
	Key        LineKey
	Product    Product
	Size       *Size
	Qty        int
	UnitPrice  decimal.Decimal
	FinalPrice decimal.Decimal
}

// Ref возвращает ссылку на счётчик остатка позиции.
func (i LineItem) Ref() StockRef {
	if i.Size != nil {
		return SizeStock(i.Product.ID, i.Size.ID)
	}
	return ProductStock(i.Product.ID)
}

// Available: текущий остаток по позиции.
func (i LineItem) Available() int {
	if i.Size != nil {
		return i.Size.Qty
	}
	return i.Product.Qty
}

// GuestLine: позиция гостевой корзины в сессии.
type GuestLine struct {
	Qty   int    `json:"qty"`
	Price string `json:"price"`
	Size  string `json:"size,omitempty"`
}

// GuestCart: содержимое гостевой корзины по ключам позиций.
type GuestCart map[LineKey]GuestLine
