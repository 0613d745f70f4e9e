package connection

import (
	"fmt"
)

// MaxPayloadSize is the largest payload Publish accepts (1 MiB).
const MaxPayloadSize = 1 << 20

// Publish sends payload to topic at the given QoS.
//
// Publishing only happens while a session is connected; otherwise the call is
// silently dropped. Messages are never queued. Validation and delivery
// failures are recorded as the last error.
func (m *Manager) Publish(topic string, payload []byte, qos byte) {
	m.publish(topic, payload, PublishOptions{QoS: qos})
}

// PublishRetained is Publish with the retained flag set.
func (m *Manager) PublishRetained(topic string, payload []byte, qos byte) {
	m.publish(topic, payload, PublishOptions{QoS: qos, Retained: true})
}

func (m *Manager) publish(topic string, payload []byte, opts PublishOptions) {
	session, gen, ok := m.liveSession()
	if !ok {
		return
	}

	if err := ValidateTopic(topic); err != nil {
		m.recordError(err)
		return
	}
	if opts.QoS > maxQoS {
		m.recordError(fmt.Errorf("%w: got %d", ErrInvalidQoS, opts.QoS))
		return
	}
	if len(payload) > MaxPayloadSize {
		m.recordError(fmt.Errorf("%w: payload size %d exceeds maximum %d",
			ErrPublishFailed, len(payload), MaxPayloadSize))
		return
	}

	session.Publish(topic, payload, opts, func(err error) {
		if err != nil {
			m.recordErrorFor(gen, fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err))
		}
	})
}

// liveSession returns the current session if it reports itself connected.
// Calls after Close record ErrClosed.
func (m *Manager) liveSession() (Session, uint64, bool) {
	m.mu.Lock()
	if m.closed {
		m.setErrorLocked(ErrClosed)
		m.mu.Unlock()
		m.flush()
		return nil, 0, false
	}
	defer m.mu.Unlock()

	if m.session == nil || !m.session.IsConnected() {
		return nil, 0, false
	}
	return m.session, m.gen, true
}
