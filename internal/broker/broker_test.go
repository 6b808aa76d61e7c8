package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEventHandlerRoutesByType(t *testing.T) {
	var got string
	h := NewEventHandler().
		On("order.confirmed", func(ctx context.Context, payload []byte) error {
			got = string(payload)
			return nil
		})

	msg := kafka.Message{Value: []byte(`{"event_type":"order.confirmed","order_id":5}`)}
	require.NoError(t, h.HandleMessage(context.Background(), msg))
	assert.JSONEq(t, `{"event_type":"order.confirmed","order_id":5}`, got)
}

func TestEventHandlerPrefersHeader(t *testing.T) {
	msg := kafka.Message{
		Value:   []byte(`{"event_type":"order.created"}`),
		Headers: []kafka.Header{{Key: "event_type", Value: []byte("payment.requested")}},
	}
	assert.Equal(t, "payment.requested", EventType(msg))
}

func TestEventHandlerSkipsUnknownAndMalformed(t *testing.T) {
	h := NewEventHandler().On("order.created", func(ctx context.Context, payload []byte) error {
		return errors.New("should not run")
	})

	assert.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: []byte(`{"event_type":"other"}`)}))
	assert.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: []byte(`not json`)}))
}

func TestEventHandlerWrapsHandlerError(t *testing.T) {
	boom := errors.New("boom")
	h := NewEventHandler().On("order.created", func(ctx context.Context, payload []byte) error { return boom })

	err := h.HandleMessage(context.Background(), kafka.Message{Value: []byte(`{"event_type":"order.created"}`)})
	assert.ErrorIs(t, err, boom)
}

func TestLocalBusFansOutPerGroup(t *testing.T) {
	bus := NewLocalBus()
	a := bus.Subscribe("payments")
	b := bus.Subscribe("notifications")
	assert.Same(t, a, bus.Subscribe("payments"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Publish(ctx, "order-1", "order.created", []byte(`{"order_id":1}`)))

	for _, src := range []Source{a, b} {
		got := make(chan kafka.Message, 1)
		runCtx, stop := context.WithCancel(ctx)
		go src.StartConsuming(runCtx, func(ctx context.Context, msg kafka.Message) error {
			got <- msg
			return nil
		})
		select {
		case msg := <-got:
			assert.Equal(t, "order-1", string(msg.Key))
			assert.Equal(t, "order.created", EventType(msg))
		case <-ctx.Done():
			t.Fatal("message not delivered")
		}
		stop()
	}
}

func TestFailingMessageIsRetriedNotSkipped(t *testing.T) {
	base, maxDelay := retryBaseDelay, retryMaxDelay
	retryBaseDelay, retryMaxDelay = time.Millisecond, 4*time.Millisecond
	defer func() { retryBaseDelay, retryMaxDelay = base, maxDelay }()

	bus := NewLocalBus()
	src := bus.Subscribe("payments")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Publish(ctx, "order-1", "payment.requested", []byte(`{"order_id":1}`)))
	require.NoError(t, bus.Publish(ctx, "order-2", "payment.requested", []byte(`{"order_id":2}`)))

	var seen []string
	done := make(chan struct{})
	go src.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		seen = append(seen, string(msg.Key))
		if string(msg.Key) == "order-1" && len(seen) < 3 {
			return errors.New("database unavailable")
		}
		if string(msg.Key) == "order-2" {
			close(done)
		}
		return nil
	})

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("second message not delivered")
	}
	assert.Equal(t, []string{"order-1", "order-1", "order-1", "order-2"}, seen)
}

func TestHandleUntilDoneStopsWithContext(t *testing.T) {
	base := retryBaseDelay
	retryBaseDelay = time.Millisecond
	defer func() { retryBaseDelay = base }()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := handleUntilDone(ctx, func(ctx context.Context, msg kafka.Message) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("still failing")
	}, kafka.Message{Key: []byte("order-9")}, zap.NewNop())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
}
