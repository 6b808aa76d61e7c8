package broker

import (
	"context"
	"sync"
	"time"

	"marketplace-orders/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// LocalBus is an in-process Publisher used when no Kafka brokers are
// configured. Every subscribed group receives its own copy of each event.
// Queues are unbounded so Publish never blocks on a slow consumer.
type LocalBus struct {
	mu     sync.RWMutex
	groups map[string]*localSource
}

func NewLocalBus() *LocalBus {
	return &LocalBus{groups: make(map[string]*localSource)}
}

// Subscribe returns the Source for group, creating it on first use.
func (b *LocalBus) Subscribe(group string) Source {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.groups[group]; ok {
		return s
	}
	s := &localSource{wake: make(chan struct{}, 1)}
	b.groups[group] = s
	return s
}

func (b *LocalBus) Publish(ctx context.Context, key, eventType string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := kafka.Message{
		Key:     []byte(key),
		Value:   append([]byte(nil), payload...),
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: eventTypeHeader, Value: []byte(eventType)}},
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.groups {
		s.push(msg)
	}
	return nil
}

type localSource struct {
	mu    sync.Mutex
	queue []kafka.Message
	wake  chan struct{}
}

func (s *localSource) push(msg kafka.Message) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *localSource) pop() (kafka.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return kafka.Message{}, false
	}
	msg := s.queue[0]
	s.queue = s.queue[1:]
	return msg, true
}

// StartConsuming drains the group's queue in order. A failed message is
// retried with backoff and blocks the queue until it succeeds.
func (s *localSource) StartConsuming(ctx context.Context, handler MessageHandler) error {
	logger := util.GetLogger().With(zap.String("source", "local"))
	for {
		msg, ok := s.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
			}
			continue
		}
		if err := handleUntilDone(ctx, handler, msg, logger); err != nil {
			return err
		}
	}
}

func (s *localSource) Close() error { return nil }
