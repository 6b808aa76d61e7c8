package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-orders/internal/broker"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"

	"go.uber.org/zap"
)

// OutboxRelay publishes committed outbox events to the broker. Delivery is
// at-least-once: a crash between publish and mark re-sends the batch.
type OutboxRelay struct {
	repo      store.Repository
	publisher broker.Publisher
	batchSize int
	interval  time.Duration
	logger    *zap.Logger
}

// NewOutboxRelay creates a relay polling every interval
func NewOutboxRelay(repo store.Repository, publisher broker.Publisher, batchSize int, interval time.Duration) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &OutboxRelay{
		repo:      repo,
		publisher: publisher,
		batchSize: batchSize,
		interval:  interval,
		logger:    util.GetLogger().Named("outbox"),
	}
}

// RelayOnce publishes one batch and returns how many events went out.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	sent := 0
	err := r.repo.WithTx(ctx, func(q store.Queries) error {
		events, err := q.FetchPendingOutbox(ctx, r.batchSize)
		if err != nil {
			return fmt.Errorf("failed to fetch outbox: %w", err)
		}

		ids := make([]int64, 0, len(events))
		for _, e := range events {
			key := fmt.Sprintf("order-%d", e.AggregateID)
			if err := r.publisher.Publish(ctx, key, e.EventType, e.Payload); err != nil {
				// keep what was already published marked so it is not re-sent
				sent = len(ids)
				if len(ids) > 0 {
					if markErr := q.MarkOutboxDispatched(ctx, ids); markErr != nil {
						return markErr
					}
				}
				r.logger.Error("Failed to publish outbox event",
					zap.Int64("outbox_id", e.ID),
					zap.String("event_type", e.EventType),
					zap.Error(err))
				return nil
			}
			ids = append(ids, e.ID)
			util.OutboxDispatchedTotal.WithLabelValues(e.EventType).Inc()
		}
		sent = len(ids)
		return q.MarkOutboxDispatched(ctx, ids)
	})
	return sent, err
}

// Run relays until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) error {
	r.logger.Info("Outbox relay started", zap.Duration("interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
			for {
				n, err := r.RelayOnce(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					r.logger.Error("Outbox relay failed", zap.Error(err))
					break
				}
				if n < r.batchSize {
					break
				}
			}
		}
	}
}
