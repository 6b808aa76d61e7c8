package notify

import (
	"context"
	"time"

	"marketplace-orders/internal/util"

	"go.uber.org/zap"
)

// Notification kinds
const (
	KindOrderConfirmed = "order_confirmed"
	KindOrderCancelled = "order_cancelled"
	KindSellerNotified = "seller_notified"
)

// Recipient types
const (
	RecipientCustomer = "customer"
	RecipientSeller   = "seller"
)

// Notification is one message for one recipient.
type Notification struct {
	Kind          string    `json:"kind"`
	RecipientType string    `json:"recipient_type"`
	RecipientID   int64     `json:"recipient_id"`
	OrderID       int64     `json:"order_id"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Notifier delivers notifications. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the application log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger().Named("notify")}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.Info("Notification",
		zap.String("kind", n.Kind),
		zap.String("recipient_type", n.RecipientType),
		zap.Int64("recipient_id", n.RecipientID),
		zap.Int64("order_id", n.OrderID),
		zap.String("reason", n.Reason))
	return nil
}
