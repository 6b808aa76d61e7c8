package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type erroringGateway struct{}

func (erroringGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	return nil, errors.New("gateway unreachable")
}

func paymentEvent(order *OrderDetails) *models.PaymentRequestedEvent {
	return &models.PaymentRequestedEvent{
		BaseEvent:   newBaseEvent(models.EventTypePaymentRequested),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      order.Total,
		Method:      order.PaymentMethod,
	}
}

func TestProcessPaymentSuccessConfirmsOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	seller := f.user(t, models.RoleSeller)
	_, p, order := f.placeOrder(t, seller, 2, 10)

	require.NoError(t, f.payments.ProcessPayment(ctx, paymentEvent(order)))

	got, err := f.repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, got.Status)
	assert.Equal(t, models.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, models.InventoryCommitted, got.InventoryState)

	prod := f.reload(t, p.ID)
	assert.Equal(t, 8, prod.StockQuantity)
	assert.Equal(t, 0, prod.ReservedQuantity)
	assert.Equal(t, 8, prod.Available())

	payments, err := f.repo.ListPaymentsByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentAttemptSucceeded, payments[0].Status)
	require.NotNil(t, payments[0].ProviderTxID)
	assert.Contains(t, f.pendingEventTypes(t), models.EventTypeOrderConfirmed)

	// a redelivered request for a confirmed order does not charge again
	require.NoError(t, f.payments.ProcessPayment(ctx, paymentEvent(order)))
	assert.Equal(t, 1, f.gateway.calls)
}

func TestProcessPaymentFailureCancelsAndReleases(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.gateway.status = OutcomeFailed
	seller := f.user(t, models.RoleSeller)
	_, p, order := f.placeOrder(t, seller, 4, 4)
	assert.Equal(t, 0, f.reload(t, p.ID).Available())

	require.NoError(t, f.payments.ProcessPayment(ctx, paymentEvent(order)))

	got, err := f.repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
	assert.Equal(t, models.PaymentStatusFailed, got.PaymentStatus)
	assert.Equal(t, 4, f.reload(t, p.ID).Available())
}

func TestProcessPaymentPendingWaitsForCallback(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.gateway.status = OutcomePending
	seller := f.user(t, models.RoleSeller)
	_, _, order := f.placeOrder(t, seller, 1, 3)

	require.NoError(t, f.payments.ProcessPayment(ctx, paymentEvent(order)))

	got, err := f.repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)

	payments, err := f.repo.ListPaymentsByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	txID := *payments[0].ProviderTxID

	body, _ := json.Marshal(map[string]interface{}{"transaction_id": txID, "order_id": order.ID, "status": "success"})
	req, err := ParseCallback(body)
	require.NoError(t, err)
	res, err := f.payments.Settle(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, models.OrderStatusConfirmed, res.Order.Status)

	payments, err = f.repo.ListPaymentsByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentAttemptSucceeded, payments[0].Status)
}

func TestSettlementReplayIsNoOp(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	seller := f.user(t, models.RoleSeller)
	_, p, order := f.placeOrder(t, seller, 2, 5)
	req := &SettlementRequest{TransactionID: "TX-9", OrderID: order.ID, Outcome: OutcomeSucceeded}

	first, err := f.payments.Settle(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	eventsAfterFirst := len(f.pendingEventTypes(t))

	second, err := f.payments.Settle(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.True(t, second.Duplicate)

	// the same transaction reported as failed later changes nothing either
	third, err := f.payments.Settle(ctx, &SettlementRequest{TransactionID: "TX-9", OrderID: order.ID, Outcome: OutcomeFailed})
	require.NoError(t, err)
	assert.True(t, third.Duplicate)

	got, err := f.repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, got.Status)
	assert.Equal(t, models.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, 3, f.reload(t, p.ID).StockQuantity)
	assert.Len(t, f.pendingEventTypes(t), eventsAfterFirst)
}

func TestSettlementAfterCustomerCancelLeavesOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	seller := f.user(t, models.RoleSeller)
	customer, p, order := f.placeOrder(t, seller, 1, 2)

	_, err := f.lifecycle.Transition(ctx, customer, order.ID, models.OrderStatusCancelled, "")
	require.NoError(t, err)

	res, err := f.payments.Settle(ctx, &SettlementRequest{TransactionID: "TX-LATE", OrderID: order.ID, Outcome: OutcomeSucceeded})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.False(t, res.Duplicate)
	assert.True(t, res.RefundRequired)
	assert.Contains(t, f.pendingEventTypes(t), models.EventTypeRefundRequired)

	got, err := f.repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
	assert.Equal(t, models.PaymentStatusPending, got.PaymentStatus)
	assert.Equal(t, 2, f.reload(t, p.ID).Available())

	again, err := f.payments.Settle(ctx, &SettlementRequest{TransactionID: "TX-LATE", OrderID: order.ID, Outcome: OutcomeSucceeded})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.False(t, again.RefundRequired)
}

func TestLateFailedSettlementNeedsNoRefund(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	seller := f.user(t, models.RoleSeller)
	customer, _, order := f.placeOrder(t, seller, 1, 2)

	_, err := f.lifecycle.Transition(ctx, customer, order.ID, models.OrderStatusCancelled, "")
	require.NoError(t, err)

	res, err := f.payments.Settle(ctx, &SettlementRequest{TransactionID: "TX-NO", OrderID: order.ID, Outcome: OutcomeFailed})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.False(t, res.RefundRequired)
	assert.NotContains(t, f.pendingEventTypes(t), models.EventTypeRefundRequired)
}

func TestRedeliveredPaymentRequestWhilePendingChargesOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.gateway.status = OutcomePending
	seller := f.user(t, models.RoleSeller)
	_, _, order := f.placeOrder(t, seller, 1, 3)

	evt := paymentEvent(order)
	require.NoError(t, f.payments.ProcessPayment(ctx, evt))
	require.NoError(t, f.payments.ProcessPayment(ctx, evt))
	require.NoError(t, f.payments.ProcessPayment(ctx, paymentEvent(order)))

	assert.Equal(t, 1, f.gateway.calls)
	payments, err := f.repo.ListPaymentsByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentAttemptPending, payments[0].Status)
}

func TestRetryAllowedAfterGatewayError(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	seller := f.user(t, models.RoleSeller)
	_, _, order := f.placeOrder(t, seller, 1, 3)
	f.payments.gateway = erroringGateway{}

	require.Error(t, f.payments.ProcessPayment(ctx, paymentEvent(order)))

	f.payments.gateway = f.gateway
	require.NoError(t, f.payments.ProcessPayment(ctx, paymentEvent(order)))
	assert.Equal(t, 1, f.gateway.calls)

	payments, err := f.repo.ListPaymentsByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	got, err := f.repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, got.Status)
}

func TestSettleValidatesRequest(t *testing.T) {
	f := newFixture()
	_, err := f.payments.Settle(context.Background(), &SettlementRequest{OrderID: 1, Outcome: OutcomeSucceeded})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.payments.Settle(context.Background(), &SettlementRequest{TransactionID: "x", OrderID: 1, Outcome: OutcomePending})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.payments.Settle(context.Background(), &SettlementRequest{TransactionID: "x", OrderID: 404, Outcome: OutcomeFailed})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestInitiatePayment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	seller := f.user(t, models.RoleSeller)
	stranger := f.user(t, models.RoleCustomer)
	customer, _, order := f.placeOrder(t, seller, 1, 2)

	_, err := f.payments.Initiate(ctx, stranger, order.ID)
	assert.True(t, apperr.Is(err, apperr.KindPermissionDenied))

	before := len(f.pendingEventTypes(t))
	_, err = f.payments.Initiate(ctx, customer, order.ID)
	require.NoError(t, err)
	types := f.pendingEventTypes(t)
	assert.Len(t, types, before+1)
	assert.Equal(t, models.EventTypePaymentRequested, types[len(types)-1])

	f.gateway.status = OutcomePending
	require.NoError(t, f.payments.ProcessPayment(ctx, paymentEvent(order)))
	_, err = f.payments.Initiate(ctx, customer, order.ID)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.KindConflict, ae.Kind)
	assert.Contains(t, ae.Details, "payment_id")

	_, err = f.payments.Settle(ctx, &SettlementRequest{TransactionID: "TX-P", OrderID: order.ID, Outcome: OutcomeSucceeded})
	require.NoError(t, err)
	_, err = f.payments.Initiate(ctx, customer, order.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestParseCallback(t *testing.T) {
	req, err := ParseCallback([]byte(`{"transaction_id":"T1","order_id":42,"status":"declined","extra":{"a":1}}`))
	require.NoError(t, err)
	assert.Equal(t, "T1", req.TransactionID)
	assert.Equal(t, int64(42), req.OrderID)
	assert.Equal(t, OutcomeFailed, req.Outcome)

	_, err = ParseCallback([]byte(`{"transaction_id":"T1","status":"paid"}`))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = ParseCallback([]byte(`{"transaction_id":"T1","order_id":1,"status":"weird"}`))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = ParseCallback([]byte(`{oops`))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
