package service

import (
	"context"
	"fmt"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Cancellation reasons
const (
	ReasonPaymentFailed   = "payment_failed"
	ReasonCustomerRequest = "customer_request"
	ReasonSellerRequest   = "seller_request"
	ReasonAdminRequest    = "admin_request"
)

// OrderLifecycle moves orders through the status state machine and runs the
// inventory and commission effects of each transition.
type OrderLifecycle struct {
	repo      store.Repository
	inventory *InventoryService
	logger    *zap.Logger
}

// NewOrderLifecycle creates a new lifecycle manager
func NewOrderLifecycle(repo store.Repository, inventory *InventoryService) *OrderLifecycle {
	return &OrderLifecycle{
		repo:      repo,
		inventory: inventory,
		logger:    util.GetLogger(),
	}
}

// TransitionRequest is the body of PUT /orders/:id.
type TransitionRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
	Reason string             `json:"reason" binding:"max=255"`
}

// transitionMeta is carried into the events a transition emits.
type transitionMeta struct {
	ActorID       int64
	Reason        string
	TransactionID string
}

// Transition applies one status change requested by actor.
func (l *OrderLifecycle) Transition(ctx context.Context, actor Actor, orderID int64, to models.OrderStatus, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderLifecycle.Transition",
		attribute.Int64("order_id", orderID),
		attribute.String("to", string(to)))
	var err error
	defer func() { util.EndSpan(span, err) }()

	if !to.Valid() {
		err = apperr.Validation(fmt.Sprintf("unknown order status %q", to))
		return nil, err
	}
	if reason == "" {
		reason = defaultReason(actor)
	}

	var (
		order *models.Order
		items []models.OrderItem
		from  models.OrderStatus
	)
	err = l.repo.WithTx(ctx, func(q store.Queries) error {
		o, err := q.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		its, err := q.GetOrderItemsByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := authorizeTransition(actor, o, its, to); err != nil {
			return err
		}
		from = o.Status
		if err := l.apply(ctx, q, o, its, to, transitionMeta{ActorID: actor.UserID, Reason: reason}); err != nil {
			return err
		}
		order, items = o, its
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.afterCommit(ctx, order, items, from, defaultReason(actor))
	return order, nil
}

// apply performs a guarded status update plus its effects inside q's transaction.
func (l *OrderLifecycle) apply(ctx context.Context, q store.Queries, order *models.Order, items []models.OrderItem, to models.OrderStatus, meta transitionMeta) error {
	from := order.Status
	if !models.CanTransition(from, to) {
		return apperr.InvalidStatusTransition(string(from), string(to))
	}
	if to == models.OrderStatusConfirmed && order.PaymentStatus != models.PaymentStatusPaid {
		return apperr.Conflict("order cannot be confirmed before it is paid").
			WithDetail("payment_status", order.PaymentStatus)
	}

	ok, err := q.UpdateOrderStatus(ctx, order.ID, from, to)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if !ok {
		return apperr.Conflict("order status changed concurrently, retry")
	}
	order.Status = to

	switch to {
	case models.OrderStatusConfirmed:
		if err := l.inventory.Commit(ctx, q, order, items); err != nil {
			return fmt.Errorf("failed to commit inventory: %w", err)
		}
	case models.OrderStatusCancelled, models.OrderStatusReturned:
		if err := l.inventory.Compensate(ctx, q, order, items); err != nil {
			return fmt.Errorf("failed to compensate inventory: %w", err)
		}
	case models.OrderStatusDelivered:
		if _, err := q.ApproveCommissions(ctx, order.ID); err != nil {
			return fmt.Errorf("failed to approve commissions: %w", err)
		}
	}

	if err := enqueueEvent(ctx, q, order.ID, models.EventTypeOrderStatusChanged, &models.OrderStatusChangedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   order.ID,
		From:      from,
		To:        to,
		ActorID:   meta.ActorID,
	}); err != nil {
		return err
	}

	switch to {
	case models.OrderStatusConfirmed:
		return enqueueEvent(ctx, q, order.ID, models.EventTypeOrderConfirmed, &models.OrderConfirmedEvent{
			BaseEvent:     newBaseEvent(models.EventTypeOrderConfirmed),
			OrderID:       order.ID,
			UserID:        order.UserID,
			SellerIDs:     sellerIDsOf(items),
			TransactionID: meta.TransactionID,
		})
	case models.OrderStatusCancelled:
		return enqueueEvent(ctx, q, order.ID, models.EventTypeOrderCancelled, &models.OrderCancelledEvent{
			BaseEvent: newBaseEvent(models.EventTypeOrderCancelled),
			OrderID:   order.ID,
			UserID:    order.UserID,
			SellerIDs: sellerIDsOf(items),
			Reason:    meta.Reason,
		})
	}
	return nil
}

// afterCommit runs the non-transactional follow-ups of a transition. cause is
// a low-cardinality metric label.
func (l *OrderLifecycle) afterCommit(ctx context.Context, order *models.Order, items []models.OrderItem, from models.OrderStatus, cause string) {
	util.OrderTransitionsTotal.WithLabelValues(string(from), string(order.Status)).Inc()
	if order.Status == models.OrderStatusCancelled {
		util.OrdersCancelledTotal.WithLabelValues(cause).Inc()
	}

	switch order.Status {
	case models.OrderStatusConfirmed, models.OrderStatusCancelled, models.OrderStatusReturned:
		l.inventory.RefreshMirror(ctx, productIDsOf(items))
	}

	l.logger.Info("Order status changed",
		zap.Int64("order_id", order.ID),
		zap.String("from", string(from)),
		zap.String("to", string(order.Status)))
}

// authorizeTransition: admins may do anything; sellers may advance or cancel
// orders that contain their items; customers may only cancel their own orders.
func authorizeTransition(actor Actor, order *models.Order, items []models.OrderItem, to models.OrderStatus) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleSeller:
		if !sellsIn(actor.UserID, items) {
			return apperr.PermissionDenied("order has no items from this seller")
		}
		switch to {
		case models.OrderStatusProcessing, models.OrderStatusShipped,
			models.OrderStatusDelivered, models.OrderStatusCancelled:
			return nil
		}
		return apperr.PermissionDenied(fmt.Sprintf("sellers cannot set status %s", to))
	default:
		if order.UserID != actor.UserID {
			return apperr.PermissionDenied("order belongs to another user")
		}
		if to != models.OrderStatusCancelled {
			return apperr.PermissionDenied("customers may only cancel their orders")
		}
		return nil
	}
}

func sellsIn(sellerID int64, items []models.OrderItem) bool {
	for _, it := range items {
		if it.SellerID == sellerID {
			return true
		}
	}
	return false
}

func defaultReason(actor Actor) string {
	switch actor.Role {
	case models.RoleAdmin:
		return ReasonAdminRequest
	case models.RoleSeller:
		return ReasonSellerRequest
	}
	return ReasonCustomerRequest
}
