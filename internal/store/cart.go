package store

import (
	"context"

	"marketplace-orders/internal/models"
)

func (q *queries) GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	err := q.selectAll(ctx, &lines, `
		SELECT user_id, product_id, quantity, unit_price, added_at
		FROM cart_lines WHERE user_id = $1 ORDER BY added_at, product_id`, userID)
	return lines, err
}

// UpsertCartLine inserts the line or replaces quantity and price snapshot of
// an existing one.
func (q *queries) UpsertCartLine(ctx context.Context, line *models.CartLine) error {
	return q.ext.QueryRowxContext(ctx, `
		INSERT INTO cart_lines (user_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, unit_price = EXCLUDED.unit_price
		RETURNING added_at`,
		line.UserID, line.ProductID, line.Quantity, line.UnitPrice).Scan(&line.AddedAt)
}

func (q *queries) DeleteCartLine(ctx context.Context, userID, productID int64) (bool, error) {
	n, err := rowsAffected(q.ext.ExecContext(ctx,
		"DELETE FROM cart_lines WHERE user_id = $1 AND product_id = $2", userID, productID))
	return n > 0, err
}

func (q *queries) ClearCart(ctx context.Context, userID int64) error {
	_, err := q.ext.ExecContext(ctx, "DELETE FROM cart_lines WHERE user_id = $1", userID)
	return err
}

func (q *queries) CreateAddress(ctx context.Context, a *models.Address) error {
	return q.ext.QueryRowxContext(ctx, `
		INSERT INTO addresses (user_id, line1, city, state, postal_code, country)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		a.UserID, a.Line1, a.City, a.State, a.PostalCode, a.Country).Scan(&a.ID, &a.CreatedAt)
}

func (q *queries) GetAddressByID(ctx context.Context, id int64) (*models.Address, error) {
	var a models.Address
	found, err := q.getOne(ctx, &a, `
		SELECT id, user_id, line1, city, state, postal_code, country, created_at
		FROM addresses WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound("address", id)
	}
	return &a, nil
}

func (q *queries) ListAddressesByUser(ctx context.Context, userID int64) ([]models.Address, error) {
	addrs := []models.Address{}
	err := q.selectAll(ctx, &addrs, `
		SELECT id, user_id, line1, city, state, postal_code, country, created_at
		FROM addresses WHERE user_id = $1 ORDER BY id`, userID)
	return addrs, err
}
