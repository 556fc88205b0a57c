package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Product: товар каталога. Если у товара есть размеры, Qty считается суммой их остатков.
type Product struct {
	ID         int64
	CategoryID int64
	Name       string
	Slug       string
	Price      decimal.Decimal
	Qty        int
	Sizes      []Size
}

// Size: размерный вариант товара со своим остатком.
type Size struct {
	ID        int64
	ProductID int64
	Value     decimal.Decimal
	Qty       int
}

// HasSizes сообщает, что остаток товара производный.
func (p Product) HasSizes() bool {
	return len(p.Sizes) > 0
}

// SizeByValue ищет размер по нормализованному значению.
func (p Product) SizeByValue(value decimal.Decimal) (Size, bool) {
	for _, s := range p.Sizes {
		if s.Value.Equal(value) {
			return s, true
		}
	}
	return Size{}, false
}

// Validate проверяет базовые инварианты товара.
func (p Product) Validate() error {
	if p.Price.IsNegative() {
		return ErrPriceNegative
	}
	if p.Qty < 0 {
		return ErrItemQtyInvalid
	}
	for _, s := range p.Sizes {
		if s.Qty < 0 {
			return ErrItemQtyInvalid
		}
	}
	return nil
}

// StockRef адресует счётчик остатка: товар целиком или конкретный размер.
type StockRef struct {
	ProductID int64
	SizeID    *int64
}

// ProductStock: ссылка на остаток товара без размеров.
func ProductStock(productID int64) StockRef {
	return StockRef{ProductID: productID}
}

// SizeStock: ссылка на остаток размера.
func SizeStock(productID, sizeID int64) StockRef {
	id := sizeID
	return StockRef{ProductID: productID, SizeID: &id}
}

// Sized сообщает, что ссылка указывает на размер.
func (r StockRef) Sized() bool {
	return r.SizeID != nil
}

func (r StockRef) String() string {
	if r.SizeID != nil {
		return fmt.Sprintf("product=%d size=%d", r.ProductID, *r.SizeID)
	}
	return fmt.Sprintf("product=%d", r.ProductID)
}

// LineKey это ключ позиции корзины, "{product_id}" или "{product_id}-{size}".
// Размер берётся по значению, а не по id строки, чтобы гостевой ключ переживал пересоздание размеров.
type LineKey string

// NormalizeSize приводит значение размера к каноничной строке: 38.0 -> "38", 38.50 -> "38.5".
func NormalizeSize(value decimal.Decimal) string {
	return value.String()
}

// NewLineKey строит ключ позиции.
func NewLineKey(productID int64, size *decimal.Decimal) LineKey {
	if size == nil {
		return LineKey(strconv.FormatInt(productID, 10))
	}
	return LineKey(strconv.FormatInt(productID, 10) + "-" + NormalizeSize(*size))
}

// Parse разбирает ключ обратно в id товара и размер.
func (k LineKey) Parse() (int64, *decimal.Decimal, error) {
	raw := strings.TrimSpace(string(k))
	idPart, sizePart, sized := strings.Cut(raw, "-")

	productID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || productID <= 0 {
		return 0, nil, fmt.Errorf("%w: %q", ErrLineKeyInvalid, raw)
	}
	if !sized {
		return productID, nil, nil
	}

	size, err := decimal.NewFromString(sizePart)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %q", ErrLineKeyInvalid, raw)
	}
	return productID, &size, nil
}
