package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated       = "order.created"
	EventTypeOrderConfirmed     = "order.confirmed"
	EventTypeOrderCancelled     = "order.cancelled"
	EventTypeOrderStatusChanged = "order.status_changed"
	EventTypePaymentRequested   = "payment.requested"
	EventTypeRefundRequired     = "payment.refund_required"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order and its reservations are committed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      int64           `json:"user_id"`
	Total       decimal.Decimal `json:"total"`
	SellerIDs   []int64         `json:"seller_ids"`
	Items       []OrderItemData `json:"items"`
}

// PaymentRequestedEvent asks the payment worker to charge the gateway
type PaymentRequestedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
}

// RefundRequiredEvent published when a gateway captured money for an order
// that can no longer be confirmed
type RefundRequiredEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	OrderStatus   OrderStatus     `json:"order_status"`
}

// OrderConfirmedEvent published when payment succeeds
type OrderConfirmedEvent struct {
	BaseEvent
	OrderID       int64   `json:"order_id"`
	UserID        int64   `json:"user_id"`
	SellerIDs     []int64 `json:"seller_ids"`
	TransactionID string  `json:"transaction_id"`
}

// OrderCancelledEvent published when an order is cancelled (compensation ran)
type OrderCancelledEvent struct {
	BaseEvent
	OrderID   int64   `json:"order_id"`
	UserID    int64   `json:"user_id"`
	SellerIDs []int64 `json:"seller_ids"`
	Reason    string  `json:"reason"`
}

// OrderStatusChangedEvent published on every explicit status transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID int64       `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
	ActorID int64       `json:"actor_id"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	SellerID  int64           `json:"seller_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
