package connection

import (
	"time"
)

// EventKind identifies what changed in a Manager.
type EventKind string

const (
	// EventStateChanged is emitted on every ConnectionState transition.
	EventStateChanged EventKind = "state_changed"

	// EventError is emitted whenever the last error is recorded.
	EventError EventKind = "error"

	// EventReconnectScheduled is emitted when a reconnect timer is armed.
	EventReconnectScheduled EventKind = "reconnect_scheduled"

	// EventReconnectExhausted is emitted once the attempt cap is reached.
	EventReconnectExhausted EventKind = "reconnect_exhausted"

	// EventSubscriptionsChanged is emitted when the registry gains or loses topics.
	EventSubscriptionsChanged EventKind = "subscriptions_changed"
)

// Event is a single change notification.
//
// Only the fields relevant to Kind are set: Previous for state changes, Err
// for errors and exhaustion, Attempt and Delay for scheduled reconnects, and
// Topics (the full sorted registry) for subscription changes.
type Event struct {
	Kind     EventKind
	Time     time.Time
	State    State
	Previous State
	Err      error
	Attempt  int
	Delay    time.Duration
	Topics   []string
}

// Observer receives events from a Manager.
//
// Events are delivered in the order they happened, one at a time. OnEvent
// may call back into the Manager; events raised by such calls are delivered
// after the current one returns.
type Observer interface {
	OnEvent(ev Event)
}

// ObserverFunc adapts an ordinary function to the Observer interface.
type ObserverFunc func(ev Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(ev Event) {
	f(ev)
}

// Snapshot is a read-only view of a Manager at one instant.
type Snapshot struct {
	State         State
	Subscriptions []string
	LastError     error
	Attempts      int
}

// chanObserver forwards events to a buffered channel, dropping them when the
// reader falls behind.
type chanObserver struct {
	ch chan Event
}

func (o *chanObserver) OnEvent(ev Event) {
	select {
	case o.ch <- ev:
	default:
	}
}
