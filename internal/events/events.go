// Package events publishes token lifecycle events over watermill.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/and161185/gt-lab/internal/model"
)

// Topics.
const (
	TopicTokenIssued        = "token.issued"
	TopicTokenRevoked       = "token.revoked"
	TopicTokenExpired       = "token.expired"
	TopicRegistrationIssued = "registration.issued"
)

// Event is the payload of every lifecycle message. It never carries a token value.
type Event struct {
	Kind       model.PrincipalKind `json:"kind"`
	Identifier string              `json:"identifier"`
	At         time.Time           `json:"at"`
	TTLMillis  int64               `json:"ttl_ms,omitempty"`
}

// Publisher is what the lifecycle engine needs from an event sink.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) {}

// WatermillPublisher marshals events to JSON and publishes them; failures are logged, not returned.
type WatermillPublisher struct {
	pub message.Publisher
	log *zap.Logger
}

// NewWatermillPublisher wraps a watermill publisher.
func NewWatermillPublisher(pub message.Publisher, log *zap.Logger) *WatermillPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &WatermillPublisher{pub: pub, log: log}
}

func (p *WatermillPublisher) Publish(ctx context.Context, topic string, ev Event) {
	if err := p.publish(ctx, topic, ev); err != nil {
		p.log.Warn("event publish failed",
			zap.String("topic", topic),
			zap.String("kind", ev.Kind.String()),
			zap.String("identifier", ev.Identifier),
			zap.Error(err),
		)
	}
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("kind", ev.Kind.String())
	if err := p.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close closes the underlying publisher.
func (p *WatermillPublisher) Close() error { return p.pub.Close() }
