package store

import (
	"context"

	"marketplace-orders/internal/models"

	"github.com/lib/pq"
)

// EnqueueOutbox stores an event to be relayed after the surrounding transaction commits.
func (q *queries) EnqueueOutbox(ctx context.Context, e *models.OutboxEvent) error {
	return q.ext.QueryRowxContext(ctx, `
		INSERT INTO outbox_events (aggregate_id, event_type, payload)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		e.AggregateID, e.EventType, string(e.Payload)).Scan(&e.ID, &e.CreatedAt)
}

// FetchPendingOutbox returns undispatched events in insertion order. Inside a
// transaction the rows are locked so concurrent relays skip each other's batch.
func (q *queries) FetchPendingOutbox(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	query := `
		SELECT id, aggregate_id, event_type, payload, created_at, dispatched_at
		FROM outbox_events
		WHERE dispatched_at IS NULL
		ORDER BY id
		LIMIT $1`
	if q.inTx {
		query += " FOR UPDATE SKIP LOCKED"
	}
	events := []models.OutboxEvent{}
	err := q.selectAll(ctx, &events, query, limit)
	return events, err
}

func (q *queries) MarkOutboxDispatched(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.ext.ExecContext(ctx,
		"UPDATE outbox_events SET dispatched_at = NOW() WHERE id = ANY($1)", pq.Array(ids))
	return err
}
