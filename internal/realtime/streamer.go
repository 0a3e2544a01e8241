package realtime

import (
	"context"
	"errors"
	"io"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/star-cafe/api/internal/domain"
)

// StreamerDeps configures a Streamer.
type StreamerDeps struct {
	Subscription   *pubsub.Subscription
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxAttempts    int
	HealthInterval time.Duration
	Logger         func(context.Context, string, map[string]any)
}

// Streamer opens per-order event feeds backed by a shared Pub/Sub
// subscription. Each feed runs its own reconnect controller so one flaky
// consumer never disturbs another.
type Streamer struct {
	subscription   *pubsub.Subscription
	baseDelay      time.Duration
	maxDelay       time.Duration
	maxAttempts    int
	healthInterval time.Duration
	logger         func(context.Context, string, map[string]any)
}

// NewStreamer validates dependencies and returns a Streamer.
func NewStreamer(deps StreamerDeps) (*Streamer, error) {
	if deps.Subscription == nil {
		return nil, errors.New("realtime: pubsub subscription is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Streamer{
		subscription:   deps.Subscription,
		baseDelay:      deps.BaseDelay,
		maxDelay:       deps.MaxDelay,
		maxAttempts:    deps.MaxAttempts,
		healthInterval: deps.HealthInterval,
		logger:         logger,
	}, nil
}

// StreamOrderEvents subscribes to lifecycle events for one order. onEvent
// fires for every matching event, onState for controller transitions (used to
// tell consumers when live delivery has degraded). The returned closer tears
// the feed down.
func (s *Streamer) StreamOrderEvents(ctx context.Context, orderID string, onEvent func(domain.OrderEvent), onState func(State, int)) (io.Closer, error) {
	if s == nil || s.subscription == nil {
		return nil, errors.New("realtime: streamer not initialised")
	}
	if onEvent == nil {
		return nil, errors.New("realtime: event callback is required")
	}

	factory, err := NewPubSubChannelFactory(PubSubChannelDeps{
		Subscription: s.subscription,
		OnEvent:      onEvent,
		OrderID:      orderID,
		Logger:       s.logger,
	})
	if err != nil {
		return nil, err
	}

	controller, err := NewController(ControllerDeps{
		Factory:        factory,
		OnStateChange:  onState,
		BaseDelay:      s.baseDelay,
		MaxDelay:       s.maxDelay,
		MaxAttempts:    s.maxAttempts,
		HealthInterval: s.healthInterval,
		Logger:         s.logger,
	})
	if err != nil {
		return nil, err
	}

	controller.Start(ctx)
	return controller, nil
}
