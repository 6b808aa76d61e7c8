package service

import (
	"context"
	"time"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/notify"
	"marketplace-orders/internal/util"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// NotificationService fans order events out to customers and sellers.
// Delivery is best effort; failures are logged and counted.
type NotificationService struct {
	notifier    notify.Notifier
	parallelism int
	logger      *zap.Logger
}

func NewNotificationService(notifier notify.Notifier, parallelism int) *NotificationService {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &NotificationService{
		notifier:    notifier,
		parallelism: parallelism,
		logger:      util.GetLogger(),
	}
}

// OrderConfirmed tells the customer and every seller in the order.
func (s *NotificationService) OrderConfirmed(ctx context.Context, evt *models.OrderConfirmedEvent) int {
	return s.fanOut(ctx, notify.KindOrderConfirmed, evt.OrderID, evt.UserID, evt.SellerIDs, "")
}

// OrderCancelled tells the customer and every seller the order is off.
func (s *NotificationService) OrderCancelled(ctx context.Context, evt *models.OrderCancelledEvent) int {
	return s.fanOut(ctx, notify.KindOrderCancelled, evt.OrderID, evt.UserID, evt.SellerIDs, evt.Reason)
}

// fanOut sends one customer notification plus one per seller and returns
// how many were delivered.
func (s *NotificationService) fanOut(ctx context.Context, kind string, orderID, userID int64, sellerIDs []int64, reason string) int {
	now := time.Now().UTC()
	batch := make([]notify.Notification, 0, len(sellerIDs)+1)
	batch = append(batch, notify.Notification{
		Kind:          kind,
		RecipientType: notify.RecipientCustomer,
		RecipientID:   userID,
		OrderID:       orderID,
		Reason:        reason,
		CreatedAt:     now,
	})
	for _, sellerID := range sellerIDs {
		batch = append(batch, notify.Notification{
			Kind:          notify.KindSellerNotified,
			RecipientType: notify.RecipientSeller,
			RecipientID:   sellerID,
			OrderID:       orderID,
			Reason:        reason,
			CreatedAt:     now,
		})
	}

	results := make([]bool, len(batch))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(s.parallelism)
	for i, n := range batch {
		i, n := i, n
		p.Go(func(ctx context.Context) error {
			if err := s.notifier.Notify(ctx, n); err != nil {
				util.NotificationsSentTotal.WithLabelValues(n.Kind, "failed").Inc()
				s.logger.Warn("Failed to send notification",
					zap.String("kind", n.Kind),
					zap.Int64("recipient_id", n.RecipientID),
					zap.Int64("order_id", n.OrderID),
					zap.Error(err))
				return err
			}
			util.NotificationsSentTotal.WithLabelValues(n.Kind, "sent").Inc()
			results[i] = true
			return nil
		})
	}
	_ = p.Wait()

	sent := 0
	for _, ok := range results {
		if ok {
			sent++
		}
	}
	return sent
}
