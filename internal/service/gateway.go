package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Charge outcomes reported by a gateway
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomePending   = "pending"
)

// ChargeRequest asks a gateway to collect an order total
type ChargeRequest struct {
	OrderID     int64
	OrderNumber string
	Amount      decimal.Decimal
	Method      string
}

// ChargeResult is the gateway's synchronous answer. A pending result is
// settled later through the callback endpoint.
type ChargeResult struct {
	Status        string
	TransactionID string
}

// Gateway is the external payment provider.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// StubGateway simulates a provider with configurable outcome rates.
type StubGateway struct {
	SuccessRate float64
	PendingRate float64
	MaxLatency  time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewStubGateway creates a simulated gateway
func NewStubGateway(successRate float64) *StubGateway {
	return &StubGateway{
		SuccessRate: successRate,
		MaxLatency:  400 * time.Millisecond,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *StubGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	g.mu.Lock()
	roll := g.rnd.Float64()
	var delay time.Duration
	if g.MaxLatency > 0 {
		delay = time.Duration(g.rnd.Int63n(int64(g.MaxLatency)))
	}
	g.mu.Unlock()

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	status := OutcomeFailed
	switch {
	case roll < g.SuccessRate:
		status = OutcomeSucceeded
	case roll < g.SuccessRate+g.PendingRate:
		status = OutcomePending
	}
	return &ChargeResult{
		Status:        status,
		TransactionID: fmt.Sprintf("TXN-%s", uuid.New().String()[:8]),
	}, nil
}
