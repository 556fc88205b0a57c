package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const cartColumns = `id, customer_id, total_product, final_price, in_order, created_at`

type cartRepository struct {
	db dbtx
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCart(row rowScanner) (domain.Cart, error) {
	var c domain.Cart
	err := row.Scan(&c.ID, &c.CustomerID, &c.TotalProduct, &c.FinalPrice, &c.InOrder, &c.CreatedAt)
	return c, err
}

func (r *cartRepository) Create(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = time.Now().UTC()
	}

	// ON CONFLICT не обрывает транзакцию: проигравший может перечитать корзину победителя.
	created, err := scanCart(r.db.QueryRowContext(ctx, `
		INSERT INTO carts (customer_id, total_product, final_price, in_order, created_at)
		VALUES ($1, 0, 0, $2, $3)
		ON CONFLICT DO NOTHING
		RETURNING `+cartColumns,
		cart.CustomerID, cart.InOrder, cart.CreatedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Cart{}, domain.ErrOpenCartExists
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("insert cart: %w", err)
	}
	return created, nil
}

func (r *cartRepository) Get(ctx context.Context, id int64) (domain.Cart, error) {
	c, err := scanCart(r.db.QueryRowContext(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("select cart: %w", err)
	}
	return c, nil
}

// FindOpenByCustomer блокирует найденную корзину до конца транзакции.
func (r *cartRepository) FindOpenByCustomer(ctx context.Context, customerID string) (domain.Cart, error) {
	c, err := scanCart(r.db.QueryRowContext(ctx, `
		SELECT `+cartColumns+`
		FROM carts
		WHERE customer_id = $1 AND in_order = FALSE
		ORDER BY id DESC
		LIMIT 1
		FOR UPDATE
	`, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("select open cart: %w", err)
	}
	return c, nil
}

func (r *cartRepository) Lock(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE carts SET in_order = TRUE WHERE id = $1 AND in_order = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("lock cart: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *cartRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return expectAffected(res, domain.ErrCartNotFound)
}

func (r *cartRepository) Lines(ctx context.Context, cartID int64) ([]domain.CartLine, error) {
	if err := r.ensureExists(ctx, cartID); err != nil {
		return nil, err
	}
	return r.queryLines(ctx, `
		SELECT id, cart_id, line_key, product_id, size_id, qty, unit_price, final_price
		FROM cart_lines
		WHERE cart_id = $1
		ORDER BY line_key
	`, cartID)
}

func (r *cartRepository) UpsertLine(ctx context.Context, line domain.CartLine) (domain.CartLine, error) {
	if line.Qty <= 0 {
		return domain.CartLine{}, domain.ErrItemQtyInvalid
	}
	line.Reprice()

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO cart_lines (cart_id, line_key, product_id, size_id, qty, unit_price, final_price)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (cart_id, line_key) DO UPDATE
		SET product_id = EXCLUDED.product_id,
		    size_id = EXCLUDED.size_id,
		    qty = EXCLUDED.qty,
		    unit_price = EXCLUDED.unit_price,
		    final_price = EXCLUDED.final_price
		RETURNING id
	`,
		line.CartID, string(line.Key), line.ProductID, line.SizeID, line.Qty, line.UnitPrice, line.FinalPrice,
	).Scan(&line.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.CartLine{}, fmt.Errorf("upsert line %s: %w", line.Key, domain.ErrCartNotFound)
		}
		return domain.CartLine{}, fmt.Errorf("upsert line %s: %w", line.Key, err)
	}
	return line, nil
}

func (r *cartRepository) DeleteLine(ctx context.Context, cartID int64, key domain.LineKey) error {
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM cart_lines WHERE cart_id = $1 AND line_key = $2
	`, cartID, string(key)); err != nil {
		return fmt.Errorf("delete line %s: %w", key, err)
	}
	return nil
}

func (r *cartRepository) DeleteLines(ctx context.Context, cartID int64) error {
	if err := r.ensureExists(ctx, cartID); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("delete lines of cart %d: %w", cartID, err)
	}
	return nil
}

// RecomputeTotals пересчитывает агрегаты корзины в SQL по живым позициям.
func (r *cartRepository) RecomputeTotals(ctx context.Context, cartID int64) (domain.Cart, error) {
	c, err := scanCart(r.db.QueryRowContext(ctx, `
		UPDATE carts
		SET total_product = t.total_product,
		    final_price = t.final_price
		FROM (
			SELECT COALESCE(SUM(qty), 0) AS total_product,
			       COALESCE(SUM(qty * unit_price), 0) AS final_price
			FROM cart_lines
			WHERE cart_id = $1
		) AS t
		WHERE carts.id = $1
		RETURNING carts.id, carts.customer_id, carts.total_product, carts.final_price, carts.in_order, carts.created_at
	`, cartID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("recompute cart %d: %w", cartID, err)
	}
	return c, nil
}

func (r *cartRepository) OpenLinesByProduct(ctx context.Context, productID int64) ([]domain.CartLine, error) {
	return r.queryLines(ctx, `
		SELECT l.id, l.cart_id, l.line_key, l.product_id, l.size_id, l.qty, l.unit_price, l.final_price
		FROM cart_lines l
		JOIN carts c ON c.id = l.cart_id
		WHERE l.product_id = $1 AND c.in_order = FALSE
		ORDER BY l.id
		FOR UPDATE OF l
	`, productID)
}

func (r *cartRepository) queryLines(ctx context.Context, query string, args ...any) ([]domain.CartLine, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select cart lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.CartLine, 0)
	for rows.Next() {
		var (
			line domain.CartLine
			key  string
		)
		if err := rows.Scan(
			&line.ID, &line.CartID, &key, &line.ProductID, &line.SizeID,
			&line.Qty, &line.UnitPrice, &line.FinalPrice,
		); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		line.Key = domain.LineKey(key)
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart lines: %w", err)
	}
	return lines, nil
}

func (r *cartRepository) ensureExists(ctx context.Context, cartID int64) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM carts WHERE id = $1)`, cartID).Scan(&exists); err != nil {
		return fmt.Errorf("check cart %d: %w", cartID, err)
	}
	if !exists {
		return domain.ErrCartNotFound
	}
	return nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
