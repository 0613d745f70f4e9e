package mqtt

import "errors"

// Domain-specific errors for MQTT sessions.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidBrokerURL is returned by Open when the broker URL cannot be used.
	ErrInvalidBrokerURL = errors.New("mqtt: invalid broker URL")

	// ErrConnectionFailed is reported when a connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is reported when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is reported when a subscribe operation fails or the
	// broker rejects a filter.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is reported when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrTimeout is reported when an operation is not acknowledged in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
