package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type cartRepository struct {
	st *state
}

func (r *cartRepository) Create(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	if cart.CustomerID != nil && !cart.InOrder {
		for _, existing := range r.st.carts {
			if !existing.InOrder && existing.CustomerID != nil && *existing.CustomerID == *cart.CustomerID {
				return domain.Cart{}, domain.ErrOpenCartExists
			}
		}
	}
	r.st.cartSeq++
	cart.ID = r.st.cartSeq
	if cart.CustomerID != nil {
		customer := *cart.CustomerID
		cart.CustomerID = &customer
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = time.Now().UTC()
	}
	cart.TotalProduct = 0
	cart.FinalPrice = decimal.Zero

	r.st.carts[cart.ID] = cart
	r.st.lines[cart.ID] = make(map[domain.LineKey]domain.CartLine)
	return cart, nil
}

func (r *cartRepository) Get(_ context.Context, id int64) (domain.Cart, error) {
	cart, ok := r.st.carts[id]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return cart, nil
}

func (r *cartRepository) FindOpenByCustomer(_ context.Context, customerID string) (domain.Cart, error) {
	var (
		found domain.Cart
		ok    bool
	)
	for _, cart := range r.st.carts {
		if cart.InOrder || cart.CustomerID == nil || *cart.CustomerID != customerID {
			continue
		}
		if !ok || cart.ID > found.ID {
			found, ok = cart, true
		}
	}
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return found, nil
}

func (r *cartRepository) Lock(_ context.Context, id int64) (bool, error) {
	cart, ok := r.st.carts[id]
	if !ok {
		return false, domain.ErrCartNotFound
	}
	if cart.InOrder {
		return false, nil
	}
	cart.InOrder = true
	r.st.carts[id] = cart
	return true, nil
}

func (r *cartRepository) Delete(_ context.Context, id int64) error {
	if _, ok := r.st.carts[id]; !ok {
		return domain.ErrCartNotFound
	}
	delete(r.st.carts, id)
	delete(r.st.lines, id)
	return nil
}

func (r *cartRepository) Lines(_ context.Context, cartID int64) ([]domain.CartLine, error) {
	if _, ok := r.st.carts[cartID]; !ok {
		return nil, domain.ErrCartNotFound
	}
	lines := make([]domain.CartLine, 0, len(r.st.lines[cartID]))
	for _, line := range r.st.lines[cartID] {
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Key < lines[j].Key })
	return lines, nil
}

func (r *cartRepository) UpsertLine(_ context.Context, line domain.CartLine) (domain.CartLine, error) {
	if line.Qty <= 0 {
		return domain.CartLine{}, domain.ErrItemQtyInvalid
	}
	if _, ok := r.st.carts[line.CartID]; !ok {
		return domain.CartLine{}, domain.ErrCartNotFound
	}

	lines := r.st.lines[line.CartID]
	if existing, ok := lines[line.Key]; ok {
		line.ID = existing.ID
	} else {
		r.st.lineSeq++
		line.ID = r.st.lineSeq
	}
	if line.SizeID != nil {
		sizeID := *line.SizeID
		line.SizeID = &sizeID
	}
	line.Reprice()
	lines[line.Key] = line
	return line, nil
}

func (r *cartRepository) DeleteLine(_ context.Context, cartID int64, key domain.LineKey) error {
	if lines, ok := r.st.lines[cartID]; ok {
		delete(lines, key)
	}
	return nil
}

func (r *cartRepository) DeleteLines(_ context.Context, cartID int64) error {
	if _, ok := r.st.carts[cartID]; !ok {
		return domain.ErrCartNotFound
	}
	r.st.lines[cartID] = make(map[domain.LineKey]domain.CartLine)
	return nil
}

func (r *cartRepository) RecomputeTotals(ctx context.Context, cartID int64) (domain.Cart, error) {
	cart, ok := r.st.carts[cartID]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	lines, err := r.Lines(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	cart.TotalProduct, cart.FinalPrice = domain.Totals(lines)
	r.st.carts[cartID] = cart
	return cart, nil
}

func (r *cartRepository) OpenLinesByProduct(_ context.Context, productID int64) ([]domain.CartLine, error) {
	var result []domain.CartLine
	for cartID, lines := range r.st.lines {
		if r.st.carts[cartID].InOrder {
			continue
		}
		for _, line := range lines {
			if line.ProductID == productID {
				result = append(result, line)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
