package store

import (
	"context"

	"marketplace-orders/internal/models"
)

const paymentColumns = `id, order_id, method, amount, status, provider_tx_id, created_at, updated_at`

// CreatePayment records a new gateway attempt
func (q *queries) CreatePayment(ctx context.Context, p *models.Payment) error {
	return q.ext.QueryRowxContext(ctx, `
		INSERT INTO payments (order_id, method, amount, status, provider_tx_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		p.OrderID, p.Method, p.Amount, p.Status, p.ProviderTxID,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// UpdatePaymentAttempt stores the gateway outcome; a nil providerTxID keeps the old value.
func (q *queries) UpdatePaymentAttempt(ctx context.Context, paymentID int64, status string, providerTxID *string) error {
	_, err := q.ext.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, provider_tx_id = COALESCE($2, provider_tx_id), updated_at = NOW()
		WHERE id = $3`, status, providerTxID, paymentID)
	return err
}

func (q *queries) GetPaymentByTxID(ctx context.Context, txID string) (*models.Payment, error) {
	var p models.Payment
	found, err := q.getOne(ctx, &p, "SELECT "+paymentColumns+" FROM payments WHERE provider_tx_id = $1", txID)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

func (q *queries) ListPaymentsByOrder(ctx context.Context, orderID int64) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := q.selectAll(ctx, &payments,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 ORDER BY id", orderID)
	return payments, err
}

func (q *queries) MarkSettlementProcessed(ctx context.Context, s *models.ProcessedSettlement) (bool, error) {
	n, err := rowsAffected(q.ext.ExecContext(ctx, `
		INSERT INTO processed_settlements (transaction_id, order_id, outcome)
		VALUES ($1, $2, $3)
		ON CONFLICT (transaction_id) DO NOTHING`,
		s.TransactionID, s.OrderID, s.Outcome))
	return n == 1, err
}
