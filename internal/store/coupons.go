package store

import (
	"context"
	"fmt"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"
)

const couponColumns = `id, code, type, value, min_order_amount, max_discount, usage_limit,
	used_count, is_active, expires_at, created_at`

func (q *queries) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	err := q.ext.QueryRowxContext(ctx, `
		INSERT INTO coupons (code, type, value, min_order_amount, max_discount, usage_limit,
			is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, used_count, created_at`,
		c.Code, c.Type, c.Value, c.MinOrderAmount, c.MaxDiscount, c.UsageLimit,
		c.IsActive, c.ExpiresAt,
	).Scan(&c.ID, &c.UsedCount, &c.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.Conflict(fmt.Sprintf("coupon code already exists: %s", c.Code))
	}
	return err
}

func (q *queries) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var c models.Coupon
	found, err := q.getOne(ctx, &c, "SELECT "+couponColumns+" FROM coupons WHERE code = $1", code)
	if err != nil || !found {
		return nil, err
	}
	return &c, nil
}

func (q *queries) IncrementCouponUsage(ctx context.Context, couponID int64) (bool, error) {
	n, err := rowsAffected(q.ext.ExecContext(ctx, `
		UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`, couponID))
	return n == 1, err
}

func (q *queries) RecordCouponUsage(ctx context.Context, u *models.CouponUsage) error {
	return q.ext.QueryRowxContext(ctx, `
		INSERT INTO coupon_usages (coupon_id, user_id, order_id, discount)
		VALUES ($1, $2, $3, $4)
		RETURNING id, used_at`,
		u.CouponID, u.UserID, u.OrderID, u.Discount).Scan(&u.ID, &u.UsedAt)
}
