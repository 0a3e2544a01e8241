package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeTimer records its delay and fires only when the fake clock advances far
// enough.
type fakeTimer struct {
	deadline time.Duration
	fn       func()
	stopped  bool
	fired    bool
}

func (t *fakeTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock drives TimerFactory-scheduled callbacks deterministically.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

func (c *fakeClock) factory(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{deadline: c.now + d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// advance moves the clock forward and fires due timers in deadline order.
func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.deadline > c.now {
				continue
			}
			if next == nil || t.deadline < next.deadline {
				next = t
			}
		}
		if next != nil {
			next.fired = true
		}
		c.mu.Unlock()
		if next == nil {
			return
		}
		next.fn()
	}
}

// pendingRetries counts live timers excluding the health timer deadline class.
func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			count++
		}
	}
	return count
}

type fakeChannel struct {
	notify SignalFunc
	closed bool
	mu     sync.Mutex
}

func (ch *fakeChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closed = true
	return nil
}

// scriptedFactory opens fake channels and lets the test decide whether each
// connect succeeds.
type scriptedFactory struct {
	mu       sync.Mutex
	channels []*fakeChannel
	failAll  bool
	succeed  bool
}

func (f *scriptedFactory) open(ctx context.Context, notify SignalFunc) (Channel, error) {
	f.mu.Lock()
	ch := &fakeChannel{notify: notify}
	f.channels = append(f.channels, ch)
	failAll := f.failAll
	succeed := f.succeed
	f.mu.Unlock()

	if failAll {
		notify(SignalTimedOut, nil)
	} else if succeed {
		notify(SignalSubscribed, nil)
	}
	return ch, nil
}

func (f *scriptedFactory) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

func (f *scriptedFactory) last() *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.channels) == 0 {
		return nil
	}
	return f.channels[len(f.channels)-1]
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(state State, attempt int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.states))
	copy(out, r.states)
	return out
}

func newTestController(t *testing.T, clock *fakeClock, factory *scriptedFactory, rec *stateRecorder) *Controller {
	t.Helper()
	deps := ControllerDeps{
		Factory:        factory.open,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		MaxAttempts:    5,
		HealthInterval: 30 * time.Minute,
		NewTimer:       clock.factory,
	}
	if rec != nil {
		deps.OnStateChange = rec.record
	}
	ctrl, err := NewController(deps)
	if err != nil {
		t.Fatalf("NewController error: %v", err)
	}
	return ctrl
}

func TestControllerBackoffDelaySequence(t *testing.T) {
	ctrl, err := NewController(ControllerDeps{Factory: func(context.Context, SignalFunc) (Channel, error) { return &fakeChannel{}, nil }})
	if err != nil {
		t.Fatalf("NewController error: %v", err)
	}

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	for i, expected := range want {
		if got := ctrl.BackoffDelay(i + 1); got != expected {
			t.Fatalf("attempt %d: want %v, got %v", i+1, expected, got)
		}
	}
}

func TestControllerConnectsAndReportsState(t *testing.T) {
	clock := &fakeClock{}
	factory := &scriptedFactory{succeed: true}
	rec := &stateRecorder{}
	ctrl := newTestController(t, clock, factory, rec)
	defer ctrl.Close()

	ctrl.Start(context.Background())

	if got := ctrl.State(); got != StateConnected {
		t.Fatalf("want connected, got %s", got)
	}
	states := rec.snapshot()
	if len(states) < 2 || states[0] != StateConnecting || states[1] != StateConnected {
		t.Fatalf("unexpected transition sequence: %v", states)
	}
}

func TestControllerRetriesWithBackoffThenFails(t *testing.T) {
	clock := &fakeClock{}
	factory := &scriptedFactory{failAll: true}
	rec := &stateRecorder{}
	ctrl := newTestController(t, clock, factory, rec)
	defer ctrl.Close()

	ctrl.Start(context.Background())

	// Initial connect fails immediately, scheduling attempt 1 after 1s, then
	// each retry fails again: 1s, 2s, 4s, 8s, 16s.
	delays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, d := range delays {
		if got := ctrl.State(); got != StateBackingOff {
			t.Fatalf("before retry %d: want backing_off, got %s", i+1, got)
		}
		clock.advance(d)
	}

	if got := ctrl.State(); got != StateFailed {
		t.Fatalf("after exhausting retries: want failed, got %s", got)
	}
	// Initial connect plus five retries.
	if got := factory.connects(); got != 6 {
		t.Fatalf("want 6 connect attempts, got %d", got)
	}

	// No further retry timer may be pending (only the health timer remains).
	before := factory.connects()
	clock.advance(10 * time.Minute)
	if factory.connects() != before {
		t.Fatalf("no automatic retry may follow the failed state")
	}
}

func TestControllerResetsAttemptsAfterSuccess(t *testing.T) {
	clock := &fakeClock{}
	factory := &scriptedFactory{failAll: true}
	ctrl := newTestController(t, clock, factory, nil)
	defer ctrl.Close()

	ctrl.Start(context.Background())
	clock.advance(time.Second)
	clock.advance(2 * time.Second)

	// Third attempt succeeds.
	factory.mu.Lock()
	factory.failAll = false
	factory.succeed = true
	factory.mu.Unlock()
	clock.advance(4 * time.Second)

	if got := ctrl.State(); got != StateConnected {
		t.Fatalf("want connected after successful retry, got %s", got)
	}

	// A new failure must restart the backoff ladder at the base delay.
	factory.mu.Lock()
	factory.failAll = true
	factory.succeed = false
	factory.mu.Unlock()
	factory.last().notify(SignalClosed, nil)

	if got := ctrl.State(); got != StateBackingOff {
		t.Fatalf("want backing_off after fresh failure, got %s", got)
	}
	connectsBefore := factory.connects()
	clock.advance(time.Second)
	if factory.connects() != connectsBefore+1 {
		t.Fatalf("retry after reset must fire at base delay")
	}
}

func TestControllerSingleRetryTimer(t *testing.T) {
	clock := &fakeClock{}
	factory := &scriptedFactory{succeed: true}
	ctrl := newTestController(t, clock, factory, nil)
	defer ctrl.Close()

	ctrl.Start(context.Background())
	ch := factory.last()

	factory.mu.Lock()
	factory.succeed = false
	factory.failAll = false
	factory.mu.Unlock()

	// A burst of failure signals schedules exactly one retry.
	ch.notify(SignalError, errors.New("broken pipe"))
	ch.notify(SignalClosed, nil)
	ch.notify(SignalTimedOut, nil)

	// One retry timer plus the health timer.
	if got := clock.pendingTimers(); got != 2 {
		t.Fatalf("want 1 retry timer + 1 health timer pending, got %d", got)
	}
}

func TestControllerHealthCheckRecyclesStaleConnection(t *testing.T) {
	clock := &fakeClock{}
	factory := &scriptedFactory{failAll: true}
	ctrl := newTestController(t, clock, factory, nil)
	defer ctrl.Close()

	ctrl.Start(context.Background())
	for _, d := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second} {
		clock.advance(d)
	}
	if got := ctrl.State(); got != StateFailed {
		t.Fatalf("precondition: want failed, got %s", got)
	}

	factory.mu.Lock()
	factory.failAll = false
	factory.succeed = true
	factory.mu.Unlock()

	// The 30-minute health tick must force a fresh cycle with attempts reset.
	clock.advance(30 * time.Minute)

	if got := ctrl.State(); got != StateConnected {
		t.Fatalf("health check should have reconnected, got %s", got)
	}
}

func TestControllerHealthCheckLeavesHealthyConnectionAlone(t *testing.T) {
	clock := &fakeClock{}
	factory := &scriptedFactory{succeed: true}
	ctrl := newTestController(t, clock, factory, nil)
	defer ctrl.Close()

	ctrl.Start(context.Background())
	connects := factory.connects()

	clock.advance(30 * time.Minute)
	if factory.connects() != connects {
		t.Fatalf("health check must not recycle a connected channel")
	}
}

func TestControllerCloseIsIdempotentAndSilencesTimers(t *testing.T) {
	clock := &fakeClock{}
	factory := &scriptedFactory{failAll: true}
	rec := &stateRecorder{}
	ctrl := newTestController(t, clock, factory, rec)

	ctrl.Start(context.Background())
	if err := ctrl.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := ctrl.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}

	observed := len(rec.snapshot())
	connects := factory.connects()

	// Any timer still buried in the fake clock must find the disposed flag.
	clock.advance(24 * time.Hour)

	if len(rec.snapshot()) != observed {
		t.Fatalf("no state callback may fire after Close")
	}
	if factory.connects() != connects {
		t.Fatalf("no reconnect may fire after Close")
	}
	if ch := factory.last(); ch != nil && !ch.closed {
		t.Fatalf("Close must release the channel handle")
	}
}

func TestControllerIgnoresSignalsFromReplacedChannel(t *testing.T) {
	clock := &fakeClock{}
	factory := &scriptedFactory{succeed: true}
	rec := &stateRecorder{}
	ctrl := newTestController(t, clock, factory, rec)
	defer ctrl.Close()

	ctrl.Start(context.Background())
	factory.mu.Lock()
	replaced := factory.channels[0]
	factory.mu.Unlock()

	ctrl.Reconnect()
	if got := ctrl.State(); got != StateConnected {
		t.Fatalf("precondition: want connected after reconnect, got %s", got)
	}
	connects := factory.connects()
	states := len(rec.snapshot())

	// The recycled channel delivers its close notification late. It must not
	// reach the live channel's retry path.
	replaced.notify(SignalClosed, nil)
	replaced.notify(SignalError, errors.New("stream reset"))

	if got := ctrl.State(); got != StateConnected {
		t.Fatalf("stale signal tore down the live channel: state %s", got)
	}
	if live := factory.last(); live.closed {
		t.Fatalf("stale signal closed the live channel")
	}
	if factory.connects() != connects {
		t.Fatalf("stale signal scheduled a reconnect")
	}
	if len(rec.snapshot()) != states {
		t.Fatalf("stale signal produced state transitions: %v", rec.snapshot())
	}
}

func TestControllerHealthRecycleSurvivesLateClose(t *testing.T) {
	clock := &fakeClock{}
	factory := &scriptedFactory{succeed: true}
	ctrl := newTestController(t, clock, factory, nil)
	defer ctrl.Close()

	ctrl.Start(context.Background())
	ch := factory.last()

	// Drive the controller into backing_off so the health tick recycles it.
	factory.mu.Lock()
	factory.succeed = false
	factory.mu.Unlock()
	ch.notify(SignalTimedOut, nil)
	if got := ctrl.State(); got != StateBackingOff {
		t.Fatalf("precondition: want backing_off, got %s", got)
	}

	factory.mu.Lock()
	factory.succeed = true
	factory.mu.Unlock()
	clock.advance(time.Second)
	if got := ctrl.State(); got != StateConnected {
		t.Fatalf("precondition: want connected after retry, got %s", got)
	}

	// The channel torn down before the retry reports its close afterwards.
	ch.notify(SignalClosed, nil)
	if got := ctrl.State(); got != StateConnected {
		t.Fatalf("late close from recycled channel disturbed the new one: %s", got)
	}
}

func TestControllerReconnectResetsAttempts(t *testing.T) {
	clock := &fakeClock{}
	factory := &scriptedFactory{failAll: true}
	ctrl := newTestController(t, clock, factory, nil)
	defer ctrl.Close()

	ctrl.Start(context.Background())
	for _, d := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second} {
		clock.advance(d)
	}
	if got := ctrl.State(); got != StateFailed {
		t.Fatalf("precondition: want failed, got %s", got)
	}

	factory.mu.Lock()
	factory.failAll = false
	factory.succeed = true
	factory.mu.Unlock()

	ctrl.Reconnect()
	if got := ctrl.State(); got != StateConnected {
		t.Fatalf("manual reconnect should recover, got %s", got)
	}
}
