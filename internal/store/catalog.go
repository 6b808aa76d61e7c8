package store

import (
	"context"
	"fmt"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"

	"github.com/jmoiron/sqlx"
)

const productColumns = `id, sku, name, seller_id, price, sale_price, stock_quantity,
	reserved_quantity, sold_quantity, weight_kg, free_shipping, is_active, created_at, updated_at`

func (q *queries) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (sku, name, seller_id, price, sale_price, stock_quantity,
			weight_kg, free_shipping, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, reserved_quantity, sold_quantity, created_at, updated_at`

	err := q.ext.QueryRowxContext(ctx, query,
		p.SKU, p.Name, p.SellerID, p.Price, p.SalePrice, p.StockQuantity,
		p.WeightKg, p.FreeShipping, p.IsActive,
	).Scan(&p.ID, &p.ReservedQuantity, &p.SoldQuantity, &p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.Conflict(fmt.Sprintf("sku already exists: %s", p.SKU))
	}
	return err
}

func (q *queries) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	found, err := q.getOne(ctx, &p, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound("product", id)
	}
	return &p, nil
}

// GetProductsByIDs returns the products that exist among ids; missing ids are
// simply absent from the result.
func (q *queries) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	products := []models.Product{}
	if len(ids) == 0 {
		return products, nil
	}
	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	err = q.selectAll(ctx, &products, q.ext.Rebind(query), args...)
	return products, err
}

func (q *queries) ListProducts(ctx context.Context) ([]models.Product, error) {
	products := []models.Product{}
	err := q.selectAll(ctx, &products,
		"SELECT "+productColumns+" FROM products WHERE is_active ORDER BY id")
	return products, err
}

// SetStockQuantity overwrites on-hand stock. Stock may not drop below what is
// currently reserved.
func (q *queries) SetStockQuantity(ctx context.Context, productID int64, stock int) error {
	n, err := rowsAffected(q.ext.ExecContext(ctx, `
		UPDATE products SET stock_quantity = $1, updated_at = NOW()
		WHERE id = $2 AND reserved_quantity <= $1`, stock, productID))
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := q.GetProductByID(ctx, productID); err != nil {
			return err
		}
		return apperr.Conflict("stock cannot be lower than reserved quantity")
	}
	return nil
}

func (q *queries) DeactivateProduct(ctx context.Context, productID int64) error {
	n, err := rowsAffected(q.ext.ExecContext(ctx,
		"UPDATE products SET is_active = FALSE, updated_at = NOW() WHERE id = $1", productID))
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("product", productID)
	}
	return nil
}

func (q *queries) ReserveStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	n, err := rowsAffected(q.ext.ExecContext(ctx, `
		UPDATE products
		SET reserved_quantity = reserved_quantity + $1,
			sold_quantity = sold_quantity + $1,
			updated_at = NOW()
		WHERE id = $2 AND is_active AND stock_quantity - reserved_quantity >= $1`,
		quantity, productID))
	return n == 1, err
}

func (q *queries) ReleaseStock(ctx context.Context, productID int64, quantity int) error {
	_, err := q.ext.ExecContext(ctx, `
		UPDATE products
		SET reserved_quantity = GREATEST(reserved_quantity - $1, 0),
			sold_quantity = GREATEST(sold_quantity - $1, 0),
			updated_at = NOW()
		WHERE id = $2`, quantity, productID)
	return err
}

// CommitStock turns a reservation into a shipped-from-stock deduction.
func (q *queries) CommitStock(ctx context.Context, productID int64, quantity int) error {
	n, err := rowsAffected(q.ext.ExecContext(ctx, `
		UPDATE products
		SET reserved_quantity = reserved_quantity - $1,
			stock_quantity = stock_quantity - $1,
			updated_at = NOW()
		WHERE id = $2 AND reserved_quantity >= $1`, quantity, productID))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("commit stock: product %d has fewer than %d reserved units", productID, quantity)
	}
	return nil
}

func (q *queries) RestockCommitted(ctx context.Context, productID int64, quantity int) error {
	_, err := q.ext.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $1,
			sold_quantity = GREATEST(sold_quantity - $1, 0),
			updated_at = NOW()
		WHERE id = $2`, quantity, productID)
	return err
}
