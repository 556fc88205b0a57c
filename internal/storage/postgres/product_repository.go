package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type productRepository struct {
	db dbtx
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}

	var err error
	if product.ID == 0 {
		err = r.db.QueryRowContext(ctx, `
			INSERT INTO products (category_id, name, slug, price, qty)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id
		`, product.CategoryID, product.Name, product.Slug, product.Price, product.Qty).Scan(&product.ID)
	} else {
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO products (id, category_id, name, slug, price, qty)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, product.ID, product.CategoryID, product.Name, product.Slug, product.Price, product.Qty)
		if err == nil {
			_, err = r.db.ExecContext(ctx, `
				SELECT setval(pg_get_serial_sequence('products', 'id'), GREATEST($1, (SELECT MAX(id) FROM products)))
			`, product.ID)
		}
	}
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, fmt.Errorf("%w: product %d already exists", domain.ErrValidation, product.ID)
		}
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}

	product.Sizes = nil
	return product, nil
}

func (r *productRepository) Get(ctx context.Context, id int64) (domain.Product, error) {
	products, err := r.GetMany(ctx, []int64{id})
	if err != nil {
		return domain.Product{}, err
	}
	product, ok := products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// GetMany загружает товары одним запросом и их размеры вторым.
func (r *productRepository) GetMany(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, category_id, name, slug, price, qty
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Slug, &p.Price, &p.Qty); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	if len(result) == 0 {
		return result, nil
	}

	sizeRows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, value, qty
		FROM sizes
		WHERE product_id = ANY($1)
		ORDER BY product_id, value
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("select sizes: %w", err)
	}
	defer sizeRows.Close()

	for sizeRows.Next() {
		var s domain.Size
		if err := sizeRows.Scan(&s.ID, &s.ProductID, &s.Value, &s.Qty); err != nil {
			return nil, fmt.Errorf("scan size: %w", err)
		}
		p := result[s.ProductID]
		p.Sizes = append(p.Sizes, s)
		result[s.ProductID] = p
	}
	if err := sizeRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sizes: %w", err)
	}

	return result, nil
}

func (r *productRepository) UpdatePrice(ctx context.Context, id int64, price decimal.Decimal) error {
	if price.IsNegative() {
		return domain.ErrPriceNegative
	}
	res, err := r.db.ExecContext(ctx, `UPDATE products SET price = $2 WHERE id = $1`, id, price)
	if err != nil {
		return fmt.Errorf("update product price: %w", err)
	}
	return expectAffected(res, domain.ErrProductNotFound)
}

func (r *productRepository) SetQty(ctx context.Context, id int64, qty int) error {
	if qty < 0 {
		return domain.ErrItemQtyInvalid
	}
	res, err := r.db.ExecContext(ctx, `UPDATE products SET qty = $2 WHERE id = $1`, id, qty)
	if err != nil {
		return fmt.Errorf("update product qty: %w", err)
	}
	return expectAffected(res, domain.ErrProductNotFound)
}

// lockProduct блокирует строку товара до конца транзакции.
// Изменения размеров и пересчёт их суммы выполняются под этой блокировкой.
func (r *productRepository) lockProduct(ctx context.Context, productID int64) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrProductNotFound
	}
	if err != nil {
		return fmt.Errorf("lock product %d: %w", productID, err)
	}
	return nil
}

// lockProductOfSize блокирует товар, которому принадлежит размер.
func (r *productRepository) lockProductOfSize(ctx context.Context, sizeID int64) error {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM products
		WHERE id = (SELECT product_id FROM sizes WHERE id = $1)
		FOR UPDATE
	`, sizeID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrSizeNotFound
	}
	if err != nil {
		return fmt.Errorf("lock product of size %d: %w", sizeID, err)
	}
	return nil
}

func (r *productRepository) CreateSize(ctx context.Context, size domain.Size) (domain.Size, error) {
	if size.Qty < 0 {
		return domain.Size{}, domain.ErrItemQtyInvalid
	}
	if err := r.lockProduct(ctx, size.ProductID); err != nil {
		return domain.Size{}, err
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sizes (product_id, value, qty)
		VALUES ($1,$2,$3)
		RETURNING id
	`, size.ProductID, size.Value, size.Qty).Scan(&size.ID)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return domain.Size{}, fmt.Errorf("%w: size %s already exists", domain.ErrValidation, domain.NormalizeSize(size.Value))
		case isForeignKeyViolation(err):
			return domain.Size{}, domain.ErrProductNotFound
		}
		return domain.Size{}, fmt.Errorf("insert size: %w", err)
	}
	return size, nil
}

func (r *productRepository) GetSize(ctx context.Context, id int64) (domain.Size, error) {
	var s domain.Size
	err := r.db.QueryRowContext(ctx, `
		SELECT id, product_id, value, qty FROM sizes WHERE id = $1
	`, id).Scan(&s.ID, &s.ProductID, &s.Value, &s.Qty)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Size{}, domain.ErrSizeNotFound
	}
	if err != nil {
		return domain.Size{}, fmt.Errorf("select size: %w", err)
	}
	return s, nil
}

func (r *productRepository) SetSizeQty(ctx context.Context, id int64, qty int) error {
	if qty < 0 {
		return domain.ErrItemQtyInvalid
	}
	if err := r.lockProductOfSize(ctx, id); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE sizes SET qty = $2 WHERE id = $1`, id, qty)
	if err != nil {
		return fmt.Errorf("update size qty: %w", err)
	}
	return expectAffected(res, domain.ErrSizeNotFound)
}

func (r *productRepository) DeleteSize(ctx context.Context, id int64) error {
	if err := r.lockProductOfSize(ctx, id); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM sizes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete size: %w", err)
	}
	return expectAffected(res, domain.ErrSizeNotFound)
}

// TakeStock списывает остаток одним условным UPDATE: проверка и уменьшение атомарны.
// Списание с размера сначала блокирует товар.
func (r *productRepository) TakeStock(ctx context.Context, ref domain.StockRef, qty int) (bool, error) {
	if qty <= 0 {
		return false, domain.ErrItemQtyInvalid
	}
	if ref.Sized() {
		if err := r.lockProduct(ctx, ref.ProductID); err != nil {
			return false, err
		}
	}

	var (
		res sql.Result
		err error
	)
	if ref.Sized() {
		res, err = r.db.ExecContext(ctx, `
			UPDATE sizes
			SET qty = qty - $3
			WHERE id = $1 AND product_id = $2 AND qty >= $3
		`, *ref.SizeID, ref.ProductID, qty)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE products
			SET qty = qty - $2
			WHERE id = $1
			  AND qty >= $2
			  AND NOT EXISTS (SELECT 1 FROM sizes WHERE product_id = $1)
		`, ref.ProductID, qty)
	}
	if err != nil {
		return false, fmt.Errorf("take stock %s: %w", ref, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return true, nil
	}

	// Остатка не хватило или строки нет: различаем по наличию.
	if _, err := r.Available(ctx, ref); err != nil {
		return false, err
	}
	return false, nil
}

func (r *productRepository) ReturnStock(ctx context.Context, ref domain.StockRef, qty int) error {
	if qty <= 0 {
		return domain.ErrItemQtyInvalid
	}

	if ref.Sized() {
		if err := r.lockProduct(ctx, ref.ProductID); err != nil {
			return err
		}
		res, err := r.db.ExecContext(ctx, `
			UPDATE sizes SET qty = qty + $3 WHERE id = $1 AND product_id = $2
		`, *ref.SizeID, ref.ProductID, qty)
		if err != nil {
			return fmt.Errorf("return stock %s: %w", ref, err)
		}
		return expectAffected(res, domain.ErrSizeNotFound)
	}

	res, err := r.db.ExecContext(ctx, `UPDATE products SET qty = qty + $2 WHERE id = $1`, ref.ProductID, qty)
	if err != nil {
		return fmt.Errorf("return stock %s: %w", ref, err)
	}
	return expectAffected(res, domain.ErrProductNotFound)
}

func (r *productRepository) Available(ctx context.Context, ref domain.StockRef) (int, error) {
	var (
		qty int
		err error
	)
	if ref.Sized() {
		err = r.db.QueryRowContext(ctx, `
			SELECT qty FROM sizes WHERE id = $1 AND product_id = $2
		`, *ref.SizeID, ref.ProductID).Scan(&qty)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrSizeNotFound
		}
	} else {
		err = r.db.QueryRowContext(ctx, `SELECT qty FROM products WHERE id = $1`, ref.ProductID).Scan(&qty)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrProductNotFound
		}
	}
	if err != nil {
		return 0, fmt.Errorf("select available %s: %w", ref, err)
	}
	return qty, nil
}

func (r *productRepository) SumSizes(ctx context.Context, productID int64) (int, int, error) {
	var sum, count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(qty), 0), COUNT(*) FROM sizes WHERE product_id = $1
	`, productID).Scan(&sum, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("sum sizes of product %d: %w", productID, err)
	}
	return sum, count, nil
}

func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
