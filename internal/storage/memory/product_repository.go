package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type productRepository struct {
	st *state
}

func (r *productRepository) Create(_ context.Context, product domain.Product) (domain.Product, error) {
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}

	if product.ID == 0 {
		r.st.productSeq++
		product.ID = r.st.productSeq
	} else if _, exists := r.st.products[product.ID]; exists {
		return domain.Product{}, fmt.Errorf("%w: product %d already exists", domain.ErrValidation, product.ID)
	} else if product.ID > r.st.productSeq {
		r.st.productSeq = product.ID
	}

	product.Sizes = nil
	r.st.products[product.ID] = product
	return product, nil
}

func (r *productRepository) Get(_ context.Context, id int64) (domain.Product, error) {
	product, ok := r.st.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	product.Sizes = r.sizesOf(id)
	return product, nil
}

func (r *productRepository) GetMany(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		product, ok := r.st.products[id]
		if !ok {
			continue
		}
		product.Sizes = r.sizesOf(id)
		result[id] = product
	}
	return result, nil
}

func (r *productRepository) UpdatePrice(_ context.Context, id int64, price decimal.Decimal) error {
	if price.IsNegative() {
		return domain.ErrPriceNegative
	}
	product, ok := r.st.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	product.Price = price
	r.st.products[id] = product
	return nil
}

func (r *productRepository) SetQty(_ context.Context, id int64, qty int) error {
	if qty < 0 {
		return domain.ErrItemQtyInvalid
	}
	product, ok := r.st.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	product.Qty = qty
	r.st.products[id] = product
	return nil
}

func (r *productRepository) CreateSize(_ context.Context, size domain.Size) (domain.Size, error) {
	if size.Qty < 0 {
		return domain.Size{}, domain.ErrItemQtyInvalid
	}
	if _, ok := r.st.products[size.ProductID]; !ok {
		return domain.Size{}, domain.ErrProductNotFound
	}
	for _, existing := range r.st.sizes {
		if existing.ProductID == size.ProductID && existing.Value.Equal(size.Value) {
			return domain.Size{}, fmt.Errorf("%w: size %s already exists", domain.ErrValidation, domain.NormalizeSize(size.Value))
		}
	}

	r.st.sizeSeq++
	size.ID = r.st.sizeSeq
	r.st.sizes[size.ID] = size
	return size, nil
}

func (r *productRepository) GetSize(_ context.Context, id int64) (domain.Size, error) {
	size, ok := r.st.sizes[id]
	if !ok {
		return domain.Size{}, domain.ErrSizeNotFound
	}
	return size, nil
}

func (r *productRepository) SetSizeQty(_ context.Context, id int64, qty int) error {
	if qty < 0 {
		return domain.ErrItemQtyInvalid
	}
	size, ok := r.st.sizes[id]
	if !ok {
		return domain.ErrSizeNotFound
	}
	size.Qty = qty
	r.st.sizes[id] = size
	return nil
}

func (r *productRepository) DeleteSize(_ context.Context, id int64) error {
	if _, ok := r.st.sizes[id]; !ok {
		return domain.ErrSizeNotFound
	}
	delete(r.st.sizes, id)
	return nil
}

func (r *productRepository) TakeStock(_ context.Context, ref domain.StockRef, qty int) (bool, error) {
	if qty <= 0 {
		return false, domain.ErrItemQtyInvalid
	}

	if ref.Sized() {
		size, err := r.sizeFor(ref)
		if err != nil {
			return false, err
		}
		if size.Qty < qty {
			return false, nil
		}
		size.Qty -= qty
		r.st.sizes[size.ID] = size
		return true, nil
	}

	product, ok := r.st.products[ref.ProductID]
	if !ok {
		return false, domain.ErrProductNotFound
	}
	if len(r.sizesOf(ref.ProductID)) > 0 || product.Qty < qty {
		return false, nil
	}
	product.Qty -= qty
	r.st.products[product.ID] = product
	return true, nil
}

func (r *productRepository) ReturnStock(_ context.Context, ref domain.StockRef, qty int) error {
	if qty <= 0 {
		return domain.ErrItemQtyInvalid
	}

	if ref.Sized() {
		size, err := r.sizeFor(ref)
		if err != nil {
			return err
		}
		size.Qty += qty
		r.st.sizes[size.ID] = size
		return nil
	}

	product, ok := r.st.products[ref.ProductID]
	if !ok {
		return domain.ErrProductNotFound
	}
	product.Qty += qty
	r.st.products[product.ID] = product
	return nil
}

func (r *productRepository) Available(_ context.Context, ref domain.StockRef) (int, error) {
	if ref.Sized() {
		size, err := r.sizeFor(ref)
		if err != nil {
			return 0, err
		}
		return size.Qty, nil
	}
	product, ok := r.st.products[ref.ProductID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	return product.Qty, nil
}

func (r *productRepository) SumSizes(_ context.Context, productID int64) (int, int, error) {
	sum, count := 0, 0
	for _, size := range r.st.sizes {
		if size.ProductID != productID {
			continue
		}
		sum += size.Qty
		count++
	}
	return sum, count, nil
}

func (r *productRepository) sizeFor(ref domain.StockRef) (domain.Size, error) {
	size, ok := r.st.sizes[*ref.SizeID]
	if !ok || size.ProductID != ref.ProductID {
		return domain.Size{}, domain.ErrSizeNotFound
	}
	return size, nil
}

func (r *productRepository) sizesOf(productID int64) []domain.Size {
	var sizes []domain.Size
	for _, size := range r.st.sizes {
		if size.ProductID == productID {
			sizes = append(sizes, size)
		}
	}
	sort.Slice(sizes, func(i, j int) bool {
		return sizes[i].Value.LessThan(sizes[j].Value)
	})
	return sizes
}

var _ domain.ProductRepository = (*productRepository)(nil)
