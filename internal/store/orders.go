package store

import (
	"context"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"
)

const orderColumns = `id, user_id, order_number, status, payment_status, payment_method,
	inventory_state, subtotal, discount, tax, shipping, total, coupon_id, affiliate_id,
	shipping_address_id, billing_address_id, idempotency_key, created_at, updated_at`

// CreateOrder creates a new order
func (q *queries) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, order_number, status, payment_status, payment_method,
			inventory_state, subtotal, discount, tax, shipping, total, coupon_id, affiliate_id,
			shipping_address_id, billing_address_id, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at, updated_at`

	row := q.ext.QueryRowxContext(ctx, query,
		order.UserID, order.OrderNumber, order.Status, order.PaymentStatus, order.PaymentMethod,
		order.InventoryState, order.Subtotal, order.Discount, order.Tax, order.Shipping, order.Total,
		order.CouponID, order.AffiliateID, order.ShippingAddressID, order.BillingAddressID,
		order.IdempotencyKey)
	if err := row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("order already exists for this idempotency key")
		}
		return err
	}
	return nil
}

// CreateOrderItem creates a new order item
func (q *queries) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, seller_id, quantity, unit_price,
			subtotal, discount_share, tax_share, shipping_share)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	return q.ext.QueryRowxContext(ctx, query,
		item.OrderID, item.ProductID, item.SellerID, item.Quantity, item.UnitPrice,
		item.Subtotal, item.DiscountShare, item.TaxShare, item.ShippingShare).Scan(&item.ID)
}

// GetOrderByID retrieves an order by ID
func (q *queries) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	found, err := q.getOne(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound("order", id)
	}
	return &order, nil
}

func (q *queries) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE id = $1"
	if q.inTx {
		query += " FOR UPDATE"
	}
	var order models.Order
	found, err := q.getOne(ctx, &order, query, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound("order", id)
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves a user's order by idempotency key
func (q *queries) GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	var order models.Order
	found, err := q.getOne(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 AND idempotency_key = $2", userID, key)
	if err != nil || !found {
		return nil, err
	}
	return &order, nil
}

// ListOrdersByUser retrieves orders for a user, newest first
func (q *queries) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := q.selectAll(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	return orders, err
}

// GetOrderItemsByOrderID retrieves all items for an order
func (q *queries) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := q.selectAll(ctx, &items, `
		SELECT id, order_id, product_id, seller_id, quantity, unit_price,
			subtotal, discount_share, tax_share, shipping_share
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	return items, err
}

func (q *queries) UpdateOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) (bool, error) {
	n, err := rowsAffected(q.ext.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, orderID, from))
	return n == 1, err
}

func (q *queries) UpdatePaymentStatus(ctx context.Context, orderID int64, status models.PaymentStatus) error {
	_, err := q.ext.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE id = $2", status, orderID)
	return err
}

func (q *queries) SetInventoryState(ctx context.Context, orderID int64, state models.InventoryState) error {
	_, err := q.ext.ExecContext(ctx,
		"UPDATE orders SET inventory_state = $1, updated_at = NOW() WHERE id = $2", state, orderID)
	return err
}
