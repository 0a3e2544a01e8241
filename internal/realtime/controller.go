package realtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	defaultBaseDelay      = time.Second
	defaultMaxDelay       = 30 * time.Second
	defaultMaxAttempts    = 5
	defaultHealthInterval = 30 * time.Minute
)

// Timer abstracts a one-shot timer so tests can drive the controller with a
// fake clock.
type Timer interface {
	Stop() bool
}

// TimerFactory schedules fn after d and returns a handle to cancel it.
type TimerFactory func(d time.Duration, fn func()) Timer

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }

func stdTimerFactory(d time.Duration, fn func()) Timer {
	return realTimer{t: time.AfterFunc(d, fn)}
}

// StateFunc observes controller state transitions. attempt is the reconnect
// attempt that produced the transition, 0 outside a retry cycle. The callback
// runs with controller internals held and must not call back into the
// controller.
type StateFunc func(state State, attempt int)

// ControllerDeps configures a Controller.
type ControllerDeps struct {
	Factory        ChannelFactory
	OnStateChange  StateFunc
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxAttempts    int
	HealthInterval time.Duration
	NewTimer       TimerFactory
	Logger         func(context.Context, string, map[string]any)
}

// Controller owns a single channel handle and keeps it subscribed. On a
// recoverable failure signal it retries with geometric backoff up to a bound;
// an independent health timer recycles silently dead connections. All failure
// is represented as state, never as an error escaping a callback.
type Controller struct {
	factory        ChannelFactory
	onState        StateFunc
	baseDelay      time.Duration
	maxDelay       time.Duration
	maxAttempts    int
	healthInterval time.Duration
	newTimer       TimerFactory
	logger         func(context.Context, string, map[string]any)

	mu          sync.Mutex
	state       State
	attempt     int
	channel     Channel
	generation  uint64
	retryTimer  Timer
	healthTimer Timer
	disposed    bool
	ctx         context.Context
}

// NewController validates dependencies and returns an idle controller.
func NewController(deps ControllerDeps) (*Controller, error) {
	if deps.Factory == nil {
		return nil, errors.New("realtime: channel factory is required")
	}
	if deps.BaseDelay <= 0 {
		deps.BaseDelay = defaultBaseDelay
	}
	if deps.MaxDelay <= 0 {
		deps.MaxDelay = defaultMaxDelay
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = defaultMaxAttempts
	}
	if deps.HealthInterval <= 0 {
		deps.HealthInterval = defaultHealthInterval
	}
	if deps.NewTimer == nil {
		deps.NewTimer = stdTimerFactory
	}
	onState := deps.OnStateChange
	if onState == nil {
		onState = func(State, int) {}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Controller{
		factory:        deps.Factory,
		onState:        onState,
		baseDelay:      deps.BaseDelay,
		maxDelay:       deps.MaxDelay,
		maxAttempts:    deps.MaxAttempts,
		healthInterval: deps.HealthInterval,
		newTimer:       deps.NewTimer,
		logger:         logger,
		state:          StateIdle,
	}, nil
}

// Start opens the first subscription and arms the health timer.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.disposed || c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	c.ctx = ctx
	c.armHealthTimerLocked()
	c.mu.Unlock()

	c.connect(0)
}

// State reports the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reconnect forces a fresh cycle with the attempt counter reset, regardless
// of the current state. A no-op after Close.
func (c *Controller) Reconnect() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.attempt = 0
	c.stopRetryTimerLocked()
	c.closeChannelLocked()
	c.mu.Unlock()

	c.connect(0)
}

// Close tears the controller down: both timers stopped, channel released, no
// callback fires afterwards. Unconditional and idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	c.stopRetryTimerLocked()
	if c.healthTimer != nil {
		c.healthTimer.Stop()
		c.healthTimer = nil
	}
	channel := c.channel
	c.channel = nil
	c.state = StateIdle
	c.mu.Unlock()

	if channel != nil {
		return channel.Close()
	}
	return nil
}

// BackoffDelay reports the delay before attempt k (1-based):
// min(base * 2^(k-1), cap).
func (c *Controller) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func (c *Controller) connect(attempt int) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.closeChannelLocked()
	c.setStateLocked(StateConnecting, attempt)
	c.generation++
	gen := c.generation
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Unlock()

	channel, err := c.factory(ctx, func(signal Signal, err error) {
		c.handleSignal(gen, signal, err)
	})
	if err != nil {
		c.logger(ctx, "realtime_connect_failed", map[string]any{"attempt": attempt, "error": err.Error()})
		c.scheduleRetry()
		return
	}

	c.mu.Lock()
	if c.disposed || gen != c.generation {
		// The controller was closed or recycled while the factory ran.
		c.mu.Unlock()
		channel.Close()
		return
	}
	c.channel = channel
	c.mu.Unlock()
}

// handleSignal reacts to notifications from the channel generation gen. A
// signal from any other generation belongs to a channel the controller has
// already replaced and is dropped, so a late close from a recycled channel
// cannot tear down its successor.
func (c *Controller) handleSignal(gen uint64, signal Signal, err error) {
	c.mu.Lock()
	if c.disposed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	switch signal {
	case SignalSubscribed:
		c.attempt = 0
		c.setStateLocked(StateConnected, 0)
		c.mu.Unlock()
		return
	case SignalTimedOut, SignalClosed, SignalError:
		if err != nil {
			c.logger(ctx, "realtime_channel_signal", map[string]any{"signal": signal.String(), "error": err.Error()})
		} else {
			c.logger(ctx, "realtime_channel_signal", map[string]any{"signal": signal.String()})
		}
		c.mu.Unlock()
		c.scheduleRetry()
	default:
		c.mu.Unlock()
	}
}

func (c *Controller) scheduleRetry() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	if c.retryTimer != nil {
		// A retry is already pending; never two timers.
		c.mu.Unlock()
		return
	}
	c.closeChannelLocked()

	c.attempt++
	if c.attempt > c.maxAttempts {
		c.setStateLocked(StateFailed, c.attempt-1)
		c.mu.Unlock()
		return
	}

	attempt := c.attempt
	delay := c.BackoffDelay(attempt)
	c.setStateLocked(StateBackingOff, attempt)
	c.retryTimer = c.newTimer(delay, func() {
		c.mu.Lock()
		if c.disposed {
			c.mu.Unlock()
			return
		}
		c.retryTimer = nil
		c.mu.Unlock()
		c.connect(attempt)
	})
	c.mu.Unlock()
}

// onHealthTick recycles connections that died without surfacing a close
// signal. Anything other than connected/connecting forces a fresh cycle with
// the attempt counter reset.
func (c *Controller) onHealthTick() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.armHealthTimerLocked()
	stale := c.state != StateConnected && c.state != StateConnecting
	if stale {
		c.attempt = 0
		c.stopRetryTimerLocked()
		c.closeChannelLocked()
	}
	c.mu.Unlock()

	if stale {
		c.connect(0)
	}
}

func (c *Controller) armHealthTimerLocked() {
	c.healthTimer = c.newTimer(c.healthInterval, c.onHealthTick)
}

func (c *Controller) stopRetryTimerLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// closeChannelLocked releases the current channel and invalidates its
// generation so any signal it still emits is ignored.
func (c *Controller) closeChannelLocked() {
	c.generation++
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
}

func (c *Controller) setStateLocked(state State, attempt int) {
	if c.state == state && state != StateBackingOff {
		return
	}
	c.state = state
	c.onState(state, attempt)
}
