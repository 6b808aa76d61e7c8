package store

import (
	"context"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"
)

const affiliateColumns = `id, user_id, code, commission_rate, pending_commission, approved_commission`

func (q *queries) CreateAffiliate(ctx context.Context, a *models.Affiliate) error {
	err := q.ext.QueryRowxContext(ctx, `
		INSERT INTO affiliates (user_id, code, commission_rate)
		VALUES ($1, $2, $3)
		RETURNING id, pending_commission, approved_commission`,
		a.UserID, a.Code, a.CommissionRate,
	).Scan(&a.ID, &a.PendingCommission, &a.ApprovedCommission)
	if isUniqueViolation(err) {
		return apperr.Conflict("affiliate code already exists")
	}
	return err
}

func (q *queries) GetAffiliateByCode(ctx context.Context, code string) (*models.Affiliate, error) {
	var a models.Affiliate
	found, err := q.getOne(ctx, &a, "SELECT "+affiliateColumns+" FROM affiliates WHERE code = $1", code)
	if err != nil || !found {
		return nil, err
	}
	return &a, nil
}

func (q *queries) GetAffiliateByID(ctx context.Context, id int64) (*models.Affiliate, error) {
	var a models.Affiliate
	found, err := q.getOne(ctx, &a, "SELECT "+affiliateColumns+" FROM affiliates WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound("affiliate", id)
	}
	return &a, nil
}

func (q *queries) CreateCommission(ctx context.Context, c *models.AffiliateCommission) error {
	if c.Status == "" {
		c.Status = models.CommissionStatusPending
	}
	err := q.ext.QueryRowxContext(ctx, `
		INSERT INTO affiliate_commissions (order_id, affiliate_id, amount, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		c.OrderID, c.AffiliateID, c.Amount, c.Status).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return err
	}
	_, err = q.ext.ExecContext(ctx,
		"UPDATE affiliates SET pending_commission = pending_commission + $1 WHERE id = $2",
		c.Amount, c.AffiliateID)
	return err
}

func (q *queries) ApproveCommissions(ctx context.Context, orderID int64) (int, error) {
	var approved []models.AffiliateCommission
	err := q.selectAll(ctx, &approved, `
		UPDATE affiliate_commissions SET status = $1
		WHERE order_id = $2 AND status = $3
		RETURNING id, order_id, affiliate_id, amount, status, created_at`,
		models.CommissionStatusApproved, orderID, models.CommissionStatusPending)
	if err != nil {
		return 0, err
	}
	for _, c := range approved {
		if _, err := q.ext.ExecContext(ctx, `
			UPDATE affiliates
			SET pending_commission = pending_commission - $1,
				approved_commission = approved_commission + $1
			WHERE id = $2`, c.Amount, c.AffiliateID); err != nil {
			return 0, err
		}
	}
	return len(approved), nil
}

func (q *queries) ListCommissionsByOrder(ctx context.Context, orderID int64) ([]models.AffiliateCommission, error) {
	commissions := []models.AffiliateCommission{}
	err := q.selectAll(ctx, &commissions, `
		SELECT id, order_id, affiliate_id, amount, status, created_at
		FROM affiliate_commissions WHERE order_id = $1 ORDER BY id`, orderID)
	return commissions, err
}
