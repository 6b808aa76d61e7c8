package worker

import (
	"context"
	"encoding/json"

	"marketplace-orders/internal/broker"
	"marketplace-orders/internal/models"
	"marketplace-orders/internal/service"
	"marketplace-orders/internal/util"

	"go.uber.org/zap"
)

// PaymentWorker charges orders announced by payment.requested events
type PaymentWorker struct {
	source         broker.Source
	eventHandler   *broker.EventHandler
	paymentService *service.PaymentService
	logger         *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(source broker.Source, paymentService *service.PaymentService) *PaymentWorker {
	w := &PaymentWorker{
		source:         source,
		paymentService: paymentService,
		logger:         util.GetLogger().Named("payment-worker"),
	}
	w.eventHandler = broker.NewEventHandler().
		On(models.EventTypePaymentRequested, w.handlePaymentRequested)
	return w
}

func (w *PaymentWorker) handlePaymentRequested(ctx context.Context, payload []byte) error {
	var event models.PaymentRequestedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		// redelivery cannot fix a malformed payload
		w.logger.Error("Failed to unmarshal payment.requested event", zap.Error(err))
		return nil
	}

	w.logger.Info("Processing payment for order", zap.Int64("order_id", event.OrderID))
	return w.paymentService.ProcessPayment(ctx, &event)
}

// Start consumes until ctx is cancelled
func (w *PaymentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment worker")
	return w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the payment worker
func (w *PaymentWorker) Stop() error {
	w.logger.Info("Stopping payment worker")
	return w.source.Close()
}

// NotificationWorker turns order.confirmed and order.cancelled events into
// customer and seller notifications. Failures never block the stream.
type NotificationWorker struct {
	source       broker.Source
	eventHandler *broker.EventHandler
	notifier     *service.NotificationService
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(source broker.Source, notifier *service.NotificationService) *NotificationWorker {
	w := &NotificationWorker{
		source:   source,
		notifier: notifier,
		logger:   util.GetLogger().Named("notification-worker"),
	}
	w.eventHandler = broker.NewEventHandler().
		On(models.EventTypeOrderConfirmed, w.handleConfirmed).
		On(models.EventTypeOrderCancelled, w.handleCancelled)
	return w
}

func (w *NotificationWorker) handleConfirmed(ctx context.Context, payload []byte) error {
	var event models.OrderConfirmedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		w.logger.Error("Failed to unmarshal order.confirmed event", zap.Error(err))
		return nil
	}
	sent := w.notifier.OrderConfirmed(ctx, &event)
	w.logger.Debug("Confirmation notifications sent", zap.Int64("order_id", event.OrderID), zap.Int("sent", sent))
	return nil
}

func (w *NotificationWorker) handleCancelled(ctx context.Context, payload []byte) error {
	var event models.OrderCancelledEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		w.logger.Error("Failed to unmarshal order.cancelled event", zap.Error(err))
		return nil
	}
	sent := w.notifier.OrderCancelled(ctx, &event)
	w.logger.Debug("Cancellation notifications sent", zap.Int64("order_id", event.OrderID), zap.Int("sent", sent))
	return nil
}

// Start consumes until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the notification worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.source.Close()
}
