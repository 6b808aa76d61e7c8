package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentService charges orders through the gateway and settles the outcome
type PaymentService struct {
	repo      store.Repository
	lifecycle *OrderLifecycle
	gateway   Gateway
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(repo store.Repository, lifecycle *OrderLifecycle, gateway Gateway) *PaymentService {
	return &PaymentService{
		repo:      repo,
		lifecycle: lifecycle,
		gateway:   gateway,
		logger:    util.GetLogger(),
	}
}

// SettlementRequest is a final gateway outcome for one transaction
type SettlementRequest struct {
	TransactionID string `json:"transaction_id" validate:"required,max=128"`
	OrderID       int64  `json:"order_id" validate:"required,gt=0"`
	Outcome       string `json:"status" validate:"required,oneof=succeeded failed"`
}

// SettlementResult tells whether a settlement changed the order.
type SettlementResult struct {
	Applied        bool          `json:"applied"`
	Duplicate      bool          `json:"duplicate"`
	RefundRequired bool          `json:"refund_required,omitempty"`
	Order          *models.Order `json:"order,omitempty"`
}

// ProcessPayment charges the gateway for a payment.requested event and
// settles terminal outcomes right away. A redelivered or repeated request does
// not charge again while the order has a pending or succeeded attempt.
func (s *PaymentService) ProcessPayment(ctx context.Context, evt *models.PaymentRequestedEvent) (err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ProcessPayment", attribute.Int64("order_id", evt.OrderID))
	defer func() { util.EndSpan(span, err) }()

	order, payment, err := s.openAttempt(ctx, evt)
	if err != nil || payment == nil {
		return err
	}
	method := payment.Method

	util.PaymentAttemptsTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	s.logger.Info("Processing payment",
		zap.Int64("order_id", order.ID),
		zap.String("amount", order.Total.StringFixed(2)))

	res, err := s.gateway.Charge(ctx, ChargeRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      order.Total,
		Method:      method,
	})
	if err != nil {
		if updErr := s.repo.UpdatePaymentAttempt(ctx, payment.ID, models.PaymentAttemptFailed, nil); updErr != nil {
			s.logger.Error("Failed to record gateway error", zap.Error(updErr))
		}
		return fmt.Errorf("gateway charge failed: %w", err)
	}

	attemptStatus := models.PaymentAttemptPending
	switch res.Status {
	case OutcomeSucceeded:
		attemptStatus = models.PaymentAttemptSucceeded
	case OutcomeFailed:
		attemptStatus = models.PaymentAttemptFailed
	}
	txID := res.TransactionID
	if err = s.repo.UpdatePaymentAttempt(ctx, payment.ID, attemptStatus, &txID); err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}

	if res.Status == OutcomePending {
		s.logger.Info("Payment pending, awaiting gateway callback",
			zap.Int64("order_id", order.ID),
			zap.String("tx_id", txID))
		return nil
	}

	_, err = s.Settle(ctx, &SettlementRequest{TransactionID: txID, OrderID: order.ID, Outcome: res.Status})
	return err
}

// openAttempt records a pending attempt under the order lock. It returns a nil
// payment when the order should not be charged.
func (s *PaymentService) openAttempt(ctx context.Context, evt *models.PaymentRequestedEvent) (*models.Order, *models.Payment, error) {
	var (
		order   *models.Order
		payment *models.Payment
	)
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		o, err := q.LockOrder(ctx, evt.OrderID)
		if err != nil {
			return err
		}
		if o.Status != models.OrderStatusPending || o.PaymentStatus != models.PaymentStatusPending {
			s.logger.Info("Skipping payment, order no longer awaiting payment",
				zap.Int64("order_id", o.ID),
				zap.String("status", string(o.Status)),
				zap.String("payment_status", string(o.PaymentStatus)))
			return nil
		}

		attempts, err := q.ListPaymentsByOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		if open := openAttemptOf(attempts); open != nil {
			util.PaymentAttemptsSkippedTotal.Inc()
			s.logger.Info("Skipping payment, attempt already in flight",
				zap.Int64("order_id", o.ID),
				zap.Int64("payment_id", open.ID),
				zap.String("event_id", evt.EventID))
			return nil
		}

		method := evt.Method
		if method == "" {
			method = o.PaymentMethod
		}
		p := &models.Payment{
			OrderID: o.ID,
			Method:  method,
			Amount:  o.Total,
			Status:  models.PaymentAttemptPending,
		}
		if err := q.CreatePayment(ctx, p); err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}
		order, payment = o, p
		return nil
	})
	if apperr.Is(err, apperr.KindNotFound) {
		s.logger.Warn("Payment requested for unknown order", zap.Int64("order_id", evt.OrderID))
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return order, payment, nil
}

// openAttemptOf returns an attempt that is still pending or already succeeded.
func openAttemptOf(attempts []models.Payment) *models.Payment {
	for i := range attempts {
		switch attempts[i].Status {
		case models.PaymentAttemptPending, models.PaymentAttemptSucceeded:
			return &attempts[i]
		}
	}
	return nil
}

// Settle applies a gateway outcome exactly once per transaction id. A replay
// or a settlement for an order that already left pending leaves it untouched.
func (s *PaymentService) Settle(ctx context.Context, req *SettlementRequest) (result *SettlementResult, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Settle",
		attribute.Int64("order_id", req.OrderID),
		attribute.String("outcome", req.Outcome))
	defer func() { util.EndSpan(span, err) }()

	if err = validateRequest(req); err != nil {
		return nil, err
	}

	result = &SettlementResult{}
	var items []models.OrderItem
	err = s.repo.WithTx(ctx, func(q store.Queries) error {
		order, err := q.LockOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}

		payment, err := q.GetPaymentByTxID(ctx, req.TransactionID)
		if err != nil {
			return err
		}
		if payment != nil && payment.OrderID != order.ID {
			return apperr.Validation("transaction belongs to another order")
		}

		fresh, err := q.MarkSettlementProcessed(ctx, &models.ProcessedSettlement{
			TransactionID: req.TransactionID,
			OrderID:       order.ID,
			Outcome:       req.Outcome,
		})
		if err != nil {
			return fmt.Errorf("failed to record settlement: %w", err)
		}
		result.Order = order
		if !fresh {
			result.Duplicate = true
			return nil
		}

		if payment != nil {
			attempt := models.PaymentAttemptFailed
			if req.Outcome == OutcomeSucceeded {
				attempt = models.PaymentAttemptSucceeded
			}
			if err := q.UpdatePaymentAttempt(ctx, payment.ID, attempt, nil); err != nil {
				return err
			}
		}

		if order.Status != models.OrderStatusPending || order.PaymentStatus != models.PaymentStatusPending {
			if req.Outcome != OutcomeSucceeded {
				return nil
			}
			amount := order.Total
			if payment != nil {
				amount = payment.Amount
			}
			result.RefundRequired = true
			return enqueueEvent(ctx, q, order.ID, models.EventTypeRefundRequired, &models.RefundRequiredEvent{
				BaseEvent:     newBaseEvent(models.EventTypeRefundRequired),
				OrderID:       order.ID,
				TransactionID: req.TransactionID,
				Amount:        amount,
				OrderStatus:   order.Status,
			})
		}

		if items, err = q.GetOrderItemsByOrderID(ctx, order.ID); err != nil {
			return err
		}

		meta := transitionMeta{TransactionID: req.TransactionID}
		if req.Outcome == OutcomeSucceeded {
			if err := q.UpdatePaymentStatus(ctx, order.ID, models.PaymentStatusPaid); err != nil {
				return err
			}
			order.PaymentStatus = models.PaymentStatusPaid
			if err := s.lifecycle.apply(ctx, q, order, items, models.OrderStatusConfirmed, meta); err != nil {
				return err
			}
		} else {
			if err := q.UpdatePaymentStatus(ctx, order.ID, models.PaymentStatusFailed); err != nil {
				return err
			}
			order.PaymentStatus = models.PaymentStatusFailed
			meta.Reason = ReasonPaymentFailed
			if err := s.lifecycle.apply(ctx, q, order, items, models.OrderStatusCancelled, meta); err != nil {
				return err
			}
		}
		result.Applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case result.Duplicate:
		util.SettlementDuplicatesTotal.Inc()
		s.logger.Info("Duplicate settlement ignored",
			zap.String("tx_id", req.TransactionID),
			zap.Int64("order_id", req.OrderID))
	case result.RefundRequired:
		util.PaymentRefundsRequiredTotal.Inc()
		s.logger.Warn("Payment captured for order no longer awaiting payment, refund required",
			zap.String("tx_id", req.TransactionID),
			zap.Int64("order_id", req.OrderID),
			zap.String("status", string(result.Order.Status)))
	case !result.Applied:
		s.logger.Info("Settlement recorded for order no longer awaiting payment",
			zap.String("tx_id", req.TransactionID),
			zap.Int64("order_id", req.OrderID),
			zap.String("status", string(result.Order.Status)))
	case req.Outcome == OutcomeSucceeded:
		util.PaymentSuccessTotal.Inc()
		s.lifecycle.afterCommit(ctx, result.Order, items, models.OrderStatusPending, ReasonAdminRequest)
	default:
		util.PaymentFailedTotal.Inc()
		s.lifecycle.afterCommit(ctx, result.Order, items, models.OrderStatusPending, ReasonPaymentFailed)
	}
	return result, nil
}

// Initiate requests a new gateway attempt for an order still awaiting payment.
func (s *PaymentService) Initiate(ctx context.Context, actor Actor, orderID int64) (*models.Order, error) {
	var order *models.Order
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		o, err := q.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && o.UserID != actor.UserID {
			return apperr.PermissionDenied("order belongs to another user")
		}
		if o.Status != models.OrderStatusPending || o.PaymentStatus != models.PaymentStatusPending {
			return apperr.Conflict("order is not awaiting payment").
				WithDetail("status", o.Status).
				WithDetail("payment_status", o.PaymentStatus)
		}
		attempts, err := q.ListPaymentsByOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		if open := openAttemptOf(attempts); open != nil {
			return apperr.Conflict("a payment attempt for this order is still pending").
				WithDetail("payment_id", open.ID)
		}
		order = o
		return enqueueEvent(ctx, q, o.ID, models.EventTypePaymentRequested, &models.PaymentRequestedEvent{
			BaseEvent:   newBaseEvent(models.EventTypePaymentRequested),
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			Amount:      o.Total,
			Method:      o.PaymentMethod,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Payment initiated", zap.Int64("order_id", orderID))
	return order, nil
}

// ListPayments returns the gateway attempts of an order visible to actor.
func (s *PaymentService) ListPayments(ctx context.Context, actor Actor, orderID int64) ([]models.Payment, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, order, items) {
		return nil, apperr.PermissionDenied("not allowed to view this order")
	}
	return s.repo.ListPaymentsByOrder(ctx, orderID)
}

// ParseCallback extracts a settlement from a gateway webhook body. Gateways
// differ in how they spell success, so a few aliases are accepted.
func ParseCallback(body []byte) (*SettlementRequest, error) {
	if !gjson.ValidBytes(body) {
		return nil, apperr.Validation("callback body is not valid JSON")
	}
	fields := gjson.GetManyBytes(body, "transaction_id", "order_id", "status")
	if !fields[0].Exists() || !fields[1].Exists() || !fields[2].Exists() {
		return nil, apperr.Validation("callback requires transaction_id, order_id and status")
	}

	req := &SettlementRequest{
		TransactionID: fields[0].String(),
		OrderID:       fields[1].Int(),
	}
	switch fields[2].String() {
	case "succeeded", "success", "paid":
		req.Outcome = OutcomeSucceeded
	case "failed", "failure", "declined":
		req.Outcome = OutcomeFailed
	case "pending":
		req.Outcome = OutcomePending
	default:
		return nil, apperr.Validation(fmt.Sprintf("unknown payment status %q", fields[2].String()))
	}
	return req, nil
}
