// Package events publishes activity lifecycle events.
//
// Publishing is fire-and-forget from the caller's point of view: a failed
// publish is logged and never changes the outcome of the transition that
// produced it.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/zeus-ia/zeus/internal/model"
)

// ActivityEvent is emitted on every activity status change.
type ActivityEvent struct {
	ActivityID int64                `json:"activity_id"`
	Agent      string               `json:"agent"`
	ActionType string               `json:"action_type"`
	Status     model.ActivityStatus `json:"status"`
	CompanyID  string               `json:"company_id"`
	At         time.Time            `json:"at"`
}

// EventFor builds the event describing a's current state.
func EventFor(a model.Activity, at time.Time) ActivityEvent {
	return ActivityEvent{
		ActivityID: a.ID,
		Agent:      a.AgentName,
		ActionType: a.ActionType,
		Status:     a.Status,
		CompanyID:  a.CompanyID(),
		At:         at.UTC(),
	}
}

// Publisher delivers activity events.
type Publisher interface {
	Publish(ctx context.Context, e ActivityEvent)
	Close() error
}

// New returns a Kafka publisher when brokers are configured and a Noop
// otherwise.
func New(brokers []string, topic string, logger *slog.Logger) Publisher {
	if len(brokers) == 0 {
		return Noop{}
	}
	return NewKafka(brokers, topic, logger)
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, ActivityEvent) {}
func (Noop) Close() error                          { return nil }

// Multi delivers every event to each of its publishers in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e ActivityEvent) {
	for _, p := range m {
		p.Publish(ctx, e)
	}
}

// Close closes every publisher and returns the first error.
func (m Multi) Close() error {
	var first error
	for _, p := range m {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

const publishTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes events to one topic, keyed by activity id so every event of
// an activity lands on the same partition.
type Kafka struct {
	w      messageWriter
	topic  string
	logger *slog.Logger
}

// NewKafka builds a synchronous writer against brokers.
func NewKafka(brokers []string, topic string, logger *slog.Logger) *Kafka {
	return &Kafka{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           50 * time.Millisecond,
			WriteTimeout:           publishTimeout,
			AllowAutoTopicCreation: true,
		},
		topic:  topic,
		logger: logger,
	}
}

func (k *Kafka) Publish(ctx context.Context, e ActivityEvent) {
	value, err := json.Marshal(e)
	if err != nil {
		k.logger.Warn("events: encode failed", "activity_id", e.ActivityID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	err = k.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(strconv.FormatInt(e.ActivityID, 10)),
		Value:   value,
		Time:    e.At,
		Headers: []kafka.Header{{Key: "status", Value: []byte(e.Status)}},
	})
	if err != nil {
		k.logger.Warn("events: publish failed",
			"topic", k.topic, "activity_id", e.ActivityID, "status", e.Status, "error", err)
	}
}

func (k *Kafka) Close() error {
	return k.w.Close()
}
