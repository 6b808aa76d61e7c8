package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/store"

	"github.com/google/uuid"
)

// Locker is a distributed mutex keyed by name.
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, name, token string) error
}

// IdempotencyCache remembers which order an idempotency key produced.
type IdempotencyCache interface {
	RememberOrder(ctx context.Context, userID int64, key string, orderID int64, ttl time.Duration) error
	LookupOrder(ctx context.Context, userID int64, key string) (int64, bool, error)
}

// InventoryMirror receives availability snapshots after stock changes.
type InventoryMirror interface {
	SyncInventory(ctx context.Context, productID int64, available, reserved int) error
}

// StockReader reads availability back from the inventory mirror.
type StockReader interface {
	GetInventory(ctx context.Context, productID int64) (available, reserved int, err error)
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID int64
	Role   string
}

// SystemActor performs transitions triggered by settlement.
var SystemActor = Actor{Role: models.RoleAdmin}

func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// enqueueEvent stores event in the outbox of the transaction q belongs to.
func enqueueEvent(ctx context.Context, q store.Queries, orderID int64, eventType string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	return q.EnqueueOutbox(ctx, &models.OutboxEvent{
		AggregateID: orderID,
		EventType:   eventType,
		Payload:     payload,
	})
}

func sellerIDsOf(items []models.OrderItem) []int64 {
	seen := make(map[int64]bool)
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if !seen[it.SellerID] {
			seen[it.SellerID] = true
			ids = append(ids, it.SellerID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
