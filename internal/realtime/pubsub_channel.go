package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/star-cafe/api/internal/domain"
)

// EventFunc receives decoded order events from a live channel.
type EventFunc func(event domain.OrderEvent)

// PubSubChannelDeps configures a Pub/Sub backed order-event channel factory.
type PubSubChannelDeps struct {
	Subscription *pubsub.Subscription
	OnEvent      EventFunc
	// OrderID filters delivery to a single order; empty receives all events.
	OrderID    string
	AckTimeout time.Duration
	Logger     func(context.Context, string, map[string]any)
}

// NewPubSubChannelFactory returns a ChannelFactory whose channels stream
// order events from the subscription. Each open spawns one Receive loop; the
// returned Channel's Close cancels it.
func NewPubSubChannelFactory(deps PubSubChannelDeps) (ChannelFactory, error) {
	if deps.Subscription == nil {
		return nil, errors.New("realtime: pubsub subscription is required")
	}
	if deps.OnEvent == nil {
		return nil, errors.New("realtime: event callback is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return func(ctx context.Context, notify SignalFunc) (Channel, error) {
		recvCtx, cancel := context.WithCancel(ctx)
		ch := &pubsubChannel{cancel: cancel}

		go func() {
			// Receive blocks until cancellation or a terminal error. The
			// subscribed signal is sent up front: Pub/Sub has no subscription
			// acknowledgment, so a successfully started Receive is treated as
			// one.
			notify(SignalSubscribed, nil)

			err := deps.Subscription.Receive(recvCtx, func(msgCtx context.Context, msg *pubsub.Message) {
				event, decodeErr := decodeOrderEvent(msg)
				if decodeErr != nil {
					logger(msgCtx, "realtime_event_decode_failed", map[string]any{"error": decodeErr.Error()})
					msg.Ack()
					return
				}
				if deps.OrderID != "" && event.OrderID != deps.OrderID {
					msg.Ack()
					return
				}
				deps.OnEvent(event)
				msg.Ack()
			})

			// An owner-initiated close is the controller replacing or
			// releasing this channel; it must stay silent so the signal
			// cannot disturb a successor channel.
			if ch.closedByOwner() {
				return
			}
			switch {
			case err == nil:
				notify(SignalClosed, nil)
			case errors.Is(err, context.DeadlineExceeded):
				notify(SignalTimedOut, nil)
			case errors.Is(err, context.Canceled):
				notify(SignalClosed, nil)
			default:
				notify(SignalError, err)
			}
		}()

		return ch, nil
	}, nil
}

type pubsubChannel struct {
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
}

func (c *pubsubChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return nil
}

func (c *pubsubChannel) closedByOwner() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func decodeOrderEvent(msg *pubsub.Message) (domain.OrderEvent, error) {
	var payload struct {
		OrderID    string         `json:"order_id"`
		Status     string         `json:"status"`
		OccurredAt time.Time      `json:"occurred_at"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return domain.OrderEvent{}, fmt.Errorf("decode order event: %w", err)
	}
	if strings.TrimSpace(payload.OrderID) == "" {
		return domain.OrderEvent{}, errors.New("decode order event: missing order id")
	}
	return domain.OrderEvent{
		OrderID:    payload.OrderID,
		Status:     domain.OrderStatus(payload.Status),
		OccurredAt: payload.OccurredAt,
		Metadata:   payload.Metadata,
	}, nil
}
