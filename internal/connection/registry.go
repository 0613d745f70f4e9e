package connection

import (
	"sort"
	"sync"
)

// Registry is the set of topic filters the caller wants subscribed.
//
// It holds desired state, independent of the connection: disconnects never
// clear it and failed subscribe requests never remove from it. Each filter
// keeps the QoS it was last requested with so replays use it.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Registry struct {
	mu      sync.RWMutex
	filters map[string]byte
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{filters: make(map[string]byte)}
}

// Add inserts every filter, returning those that were not already present.
// Adding a present filter keeps it registered and updates its QoS.
func (r *Registry) Add(filters map[string]byte) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var added []string
	for topic, qos := range filters {
		if _, exists := r.filters[topic]; !exists {
			added = append(added, topic)
		}
		r.filters[topic] = qos
	}
	sort.Strings(added)
	return added
}

// Remove deletes every topic, returning those that were present.
func (r *Registry) Remove(topics ...string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for _, topic := range topics {
		if _, exists := r.filters[topic]; exists {
			delete(r.filters, topic)
			removed = append(removed, topic)
		}
	}
	sort.Strings(removed)
	return removed
}

// Has reports whether topic is registered.
func (r *Registry) Has(topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.filters[topic]
	return exists
}

// Len returns the number of registered filters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.filters)
}

// Topics returns the registered filters in sorted order.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.filters))
	for topic := range r.filters {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Filters returns a copy of the registered filters and their QoS.
func (r *Registry) Filters() map[string]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]byte, len(r.filters))
	for topic, qos := range r.filters {
		out[topic] = qos
	}
	return out
}

// Match returns the registered filters that match topic, sorted.
func (r *Registry) Match(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []string
	for filter := range r.filters {
		if MatchFilter(filter, topic) {
			matched = append(matched, filter)
		}
	}
	sort.Strings(matched)
	return matched
}
