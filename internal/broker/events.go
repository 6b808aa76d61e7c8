package broker

import (
	"context"
	"fmt"

	"marketplace-orders/internal/util"

	"github.com/segmentio/kafka-go"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// EventFunc handles the raw JSON payload of one event type.
type EventFunc func(ctx context.Context, payload []byte) error

// EventHandler routes messages to the handler registered for their event type.
type EventHandler struct {
	handlers map[string]EventFunc
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{handlers: make(map[string]EventFunc)}
}

// On registers fn for eventType, replacing any previous registration.
func (eh *EventHandler) On(eventType string, fn EventFunc) *EventHandler {
	eh.handlers[eventType] = fn
	return eh
}

// EventType reads the event type from the message header, falling back to the
// event_type field of the payload.
func EventType(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == eventTypeHeader {
			return string(h.Value)
		}
	}
	return gjson.GetBytes(msg.Value, "event_type").String()
}

// HandleMessage routes messages to appropriate handlers. Event types nobody
// registered for are acknowledged and skipped.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	if !gjson.ValidBytes(msg.Value) {
		util.GetLogger().Warn("Dropping malformed event", zap.String("key", string(msg.Key)))
		return nil
	}

	eventType := EventType(msg)
	fn, ok := eh.handlers[eventType]
	if !ok {
		return nil
	}

	util.GetLogger().Debug("Handling event",
		zap.String("event_type", eventType),
		zap.String("event_id", gjson.GetBytes(msg.Value, "event_id").String()))

	if err := fn(ctx, msg.Value); err != nil {
		return fmt.Errorf("handle %s: %w", eventType, err)
	}
	return nil
}
