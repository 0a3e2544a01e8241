package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/star-cafe/api/internal/platform/textutil"
	"github.com/star-cafe/api/internal/services"
)

// PubSubOrderEventPublisher fans order lifecycle events out to a Pub/Sub topic.
// The realtime streamer and kitchen display consumers subscribe downstream.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	return &PubSubOrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

var _ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)

type orderEventMessage struct {
	OrderID    string         `json:"order_id"`
	Status     string         `json:"status"`
	OccurredAt time.Time      `json:"occurred_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// PublishOrderEvent enqueues an order event message on the configured topic.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}

	data, err := p.marshal(orderEventMessage{
		OrderID:    event.OrderID,
		Status:     string(event.Status),
		OccurredAt: event.OccurredAt,
		Metadata:   event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := textutil.NormalizeStringMap(map[string]string{
		"orderId": event.OrderID,
		"status":  string(event.Status),
	})

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}
