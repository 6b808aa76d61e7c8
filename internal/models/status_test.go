package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanTransitionHappyPath(t *testing.T) {
	path := []OrderStatus{
		OrderStatusPending,
		OrderStatusConfirmed,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestCanTransitionRejectsSkipsAndReversals(t *testing.T) {
	assert.False(t, CanTransition(OrderStatusDelivered, OrderStatusPending))
	assert.False(t, CanTransition(OrderStatusPending, OrderStatusShipped))
	assert.False(t, CanTransition(OrderStatusShipped, OrderStatusCancelled))
	assert.False(t, CanTransition(OrderStatusCancelled, OrderStatusConfirmed))
	assert.False(t, CanTransition(OrderStatusPending, OrderStatusPending))
	assert.False(t, CanTransition("bogus", OrderStatusConfirmed))
}

func TestCancellationReachability(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing} {
		assert.True(t, CanTransition(s, OrderStatusCancelled), string(s))
	}
	assert.True(t, CanTransition(OrderStatusDelivered, OrderStatusRefunded))
	assert.True(t, CanTransition(OrderStatusDelivered, OrderStatusReturned))
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, OrderStatusCancelled.Terminal())
	assert.True(t, OrderStatusRefunded.Terminal())
	assert.True(t, OrderStatusReturned.Terminal())
	assert.False(t, OrderStatusDelivered.Terminal())
	assert.False(t, OrderStatus("unknown").Valid())
}

func TestEffectivePrice(t *testing.T) {
	p := Product{Price: decimal.RequireFromString("10.00")}
	assert.True(t, p.EffectivePrice().Equal(decimal.RequireFromString("10.00")))

	p.SalePrice = decimal.NewNullDecimal(decimal.RequireFromString("7.50"))
	assert.True(t, p.EffectivePrice().Equal(decimal.RequireFromString("7.50")))

	p.SalePrice = decimal.NewNullDecimal(decimal.RequireFromString("12.00"))
	assert.True(t, p.EffectivePrice().Equal(decimal.RequireFromString("10.00")))
}
