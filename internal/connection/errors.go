package connection

import "errors"

// Domain-specific errors for connection lifecycle operations.
// None of these are returned from the Manager's public methods; they are
// recorded as the manager's last error. Use errors.Is() to classify them.
var (
	// ErrInvalidConfig is returned by New when the broker URL or dialer is missing.
	ErrInvalidConfig = errors.New("connection: invalid configuration")

	// ErrConnectionFailed wraps transport errors raised while opening a session.
	ErrConnectionFailed = errors.New("connection: connection failed")

	// ErrConnectionLost wraps the cause of an unexpected close.
	ErrConnectionLost = errors.New("connection: connection lost")

	// ErrReconnectExhausted is recorded once the configured maximum number of
	// reconnect attempts has been scheduled without a successful connection.
	ErrReconnectExhausted = errors.New("connection: max reconnect attempts reached")

	// ErrPublishFailed wraps failures reported by the session for a publish.
	ErrPublishFailed = errors.New("connection: publish failed")

	// ErrSubscribeFailed wraps failures reported by the session for a subscribe.
	ErrSubscribeFailed = errors.New("connection: subscribe failed")

	// ErrUnsubscribeFailed wraps failures reported by the session for an unsubscribe.
	ErrUnsubscribeFailed = errors.New("connection: unsubscribe failed")

	// ErrInvalidTopic is recorded for empty or malformed topics and topic filters.
	ErrInvalidTopic = errors.New("connection: invalid topic")

	// ErrInvalidQoS is recorded when a QoS level other than 0, 1 or 2 is requested.
	ErrInvalidQoS = errors.New("connection: invalid QoS level (must be 0, 1, or 2)")

	// ErrClosed is recorded when an operation is attempted after Close.
	ErrClosed = errors.New("connection: manager closed")
)
