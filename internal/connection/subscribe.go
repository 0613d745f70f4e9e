package connection

import (
	"fmt"
)

// Subscribe adds topics to the registry at the default QoS.
//
// The registry is updated first; if a session is connected the topics are
// then subscribed on it. A failed live subscribe is recorded as the last
// error but the topics stay registered and are retried on the next connect.
// Invalid filters are recorded and skipped.
func (m *Manager) Subscribe(topics ...string) {
	filters := make(map[string]SubscribeOptions, len(topics))
	for _, topic := range topics {
		filters[topic] = SubscribeOptions{QoS: m.opts.DefaultQoS}
	}
	m.SubscribeFilters(filters)
}

// SubscribeFilters is Subscribe with per-topic options. Subscribing to a
// registered topic again keeps it registered and updates its QoS.
func (m *Manager) SubscribeFilters(filters map[string]SubscribeOptions) {
	valid := make(map[string]byte, len(filters))
	for topic, o := range filters {
		if err := ValidateFilter(topic); err != nil {
			m.recordError(err)
			continue
		}
		if o.QoS > maxQoS {
			m.recordError(fmt.Errorf("%w: %s: got %d", ErrInvalidQoS, topic, o.QoS))
			continue
		}
		valid[topic] = o.QoS
	}
	if len(valid) == 0 {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.setErrorLocked(ErrClosed)
		m.mu.Unlock()
		m.flush()
		return
	}

	if added := m.registry.Add(valid); len(added) > 0 {
		m.emitLocked(Event{Kind: EventSubscriptionsChanged, Topics: m.registry.Topics()})
		m.logger.Debug("subscriptions added", "topics", added)
	}

	session, gen := m.session, m.gen
	live := session != nil && session.IsConnected()
	m.mu.Unlock()
	m.flush()

	if !live {
		return
	}
	session.Subscribe(valid, func(err error) {
		if err != nil {
			m.recordErrorFor(gen, fmt.Errorf("%w: %w", ErrSubscribeFailed, err))
		}
	})
}

// Unsubscribe removes topics from the registry and, if a session is
// connected, unsubscribes them on it. A failed live unsubscribe is recorded
// as the last error; the registry removal stands.
func (m *Manager) Unsubscribe(topics ...string) {
	unique := make([]string, 0, len(topics))
	seen := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		if _, dup := seen[topic]; dup {
			continue
		}
		seen[topic] = struct{}{}
		unique = append(unique, topic)
	}
	if len(unique) == 0 {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.setErrorLocked(ErrClosed)
		m.mu.Unlock()
		m.flush()
		return
	}

	if removed := m.registry.Remove(unique...); len(removed) > 0 {
		m.emitLocked(Event{Kind: EventSubscriptionsChanged, Topics: m.registry.Topics()})
		m.logger.Debug("subscriptions removed", "topics", removed)
	}

	session, gen := m.session, m.gen
	live := session != nil && session.IsConnected()
	m.mu.Unlock()
	m.flush()

	if !live {
		return
	}
	session.Unsubscribe(unique, func(err error) {
		if err != nil {
			m.recordErrorFor(gen, fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err))
		}
	})
}
