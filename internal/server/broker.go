package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/zeus-ia/zeus/internal/events"
)

// Broker fans activity events out to SSE subscribers. It implements
// events.Publisher, so the activity service feeds it next to Kafka.
// Subscribers only receive events of their own company.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]string
	closed      bool
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[chan []byte]string),
	}
}

// Publish formats e as an SSE message and broadcasts it.
func (b *Broker) Publish(_ context.Context, e events.ActivityEvent) {
	data, err := json.Marshal(e)
	if err != nil {
		b.logger.Warn("broker: encode event", "activity_id", e.ActivityID, "error", err)
		return
	}
	b.broadcast(e.CompanyID, formatSSE("activity", string(data)))
}

// Close disconnects every subscriber.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
	return nil
}

// Subscribe returns a channel that receives SSE-formatted events for
// companyID. The caller must call Unsubscribe when done. A closed broker
// returns an already closed channel.
func (b *Broker) Subscribe(companyID string) chan []byte {
	ch := make(chan []byte, 64) // Buffer to avoid blocking the broadcast loop.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = companyID
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// broadcast sends an event to the company's subscribers. Slow subscribers
// that have a full buffer are skipped (their event is dropped) so one slow
// client cannot block the activity service.
func (b *Broker) broadcast(companyID string, event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, company := range b.subscribers {
		if company != companyID {
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
}

// formatSSE formats one Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
