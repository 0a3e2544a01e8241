// Package realtime maintains push subscriptions to order-event channels and
// keeps them alive across transient failures with bounded, capped backoff.
package realtime

import "context"

// Signal enumerates the four channel notifications the controller reacts to.
type Signal int

const (
	// SignalSubscribed reports a successful subscription acknowledgment.
	SignalSubscribed Signal = iota
	// SignalTimedOut reports the transport gave up waiting for the broker.
	SignalTimedOut
	// SignalClosed reports the channel was closed by the remote end.
	SignalClosed
	// SignalError reports a channel-level error.
	SignalError
)

func (s Signal) String() string {
	switch s {
	case SignalSubscribed:
		return "subscribed"
	case SignalTimedOut:
		return "timed_out"
	case SignalClosed:
		return "closed"
	case SignalError:
		return "error"
	default:
		return "unknown"
	}
}

// State describes the controller's view of the subscription.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateBackingOff State = "backing_off"
	StateFailed     State = "failed"
)

// Channel is one live subscription handle. The controller owns at most one at
// a time and replaces it on reconnect.
type Channel interface {
	Close() error
}

// SignalFunc receives channel notifications. The error is non-nil only for
// SignalError.
type SignalFunc func(signal Signal, err error)

// ChannelFactory opens a fresh channel. Implementations must deliver a
// SignalSubscribed through notify once the subscription is acknowledged and
// report all later lifecycle trouble through the same callback.
type ChannelFactory func(ctx context.Context, notify SignalFunc) (Channel, error)
