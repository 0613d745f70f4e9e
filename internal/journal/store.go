package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/mqttlink/internal/connection"
	"github.com/nerrad567/mqttlink/internal/infrastructure/database"
)

const (
	// queueSize is the number of events buffered ahead of the writer.
	queueSize = 256

	// writeTimeout bounds a single insert.
	writeTimeout = 5 * time.Second

	// maxRecent caps the number of rows Recent returns.
	maxRecent = 1000
)

// Logger is the logging surface the store needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Entry is one recorded event.
type Entry struct {
	ID         string               `json:"id"`
	Broker     string               `json:"broker"`
	Kind       connection.EventKind `json:"kind"`
	State      connection.State     `json:"state"`
	Previous   connection.State     `json:"previous"`
	Error      string               `json:"error,omitempty"`
	Attempt    int                  `json:"attempt,omitempty"`
	Delay      time.Duration        `json:"delay,omitempty"`
	Topics     []string             `json:"topics,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// Store writes connection events to the connection_events table.
type Store struct {
	db     *database.DB
	broker string
	logger Logger

	queue   chan Entry
	done    chan struct{}
	dropped atomic.Int64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewStore starts a Store writing events for broker into db. The schema
// must already be migrated. logger may be nil.
func NewStore(db *database.DB, broker string, logger Logger) *Store {
	if logger == nil {
		logger = nopLogger{}
	}
	s := &Store{
		db:     db,
		broker: broker,
		logger: logger,
		queue:  make(chan Entry, queueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// OnEvent implements connection.Observer.
func (s *Store) OnEvent(ev connection.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- s.entryFor(ev):
	default:
		s.dropped.Add(1)
	}
}

func (s *Store) entryFor(ev connection.Event) Entry {
	e := Entry{
		ID:         uuid.NewString(),
		Broker:     s.broker,
		Kind:       ev.Kind,
		State:      ev.State,
		Attempt:    ev.Attempt,
		Delay:      ev.Delay,
		Topics:     ev.Topics,
		OccurredAt: ev.Time,
	}
	if ev.Kind == connection.EventStateChanged {
		e.Previous = ev.Previous
	}
	if ev.Err != nil {
		e.Error = ev.Err.Error()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	return e
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Store) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be written.
// It does not close the database.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})
	<-s.done
}

func (s *Store) run() {
	defer close(s.done)
	for e := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := s.insert(ctx, e); err != nil {
			s.logger.Warn("journal write failed", "kind", e.Kind, "error", err)
		}
		cancel()
	}
}

func (s *Store) insert(ctx context.Context, e Entry) error {
	topics, err := encodeTopics(e.Topics)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connection_events
			(id, broker, kind, state, previous, error, attempt, delay_ms, topics, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Broker, string(e.Kind), e.State.String(), previousText(e),
		e.Error, e.Attempt, e.Delay.Milliseconds(), topics, e.OccurredAt.UnixNano(),
	)
	return err
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > maxRecent {
		limit = maxRecent
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, broker, kind, state, previous, error, attempt, delay_ms, topics, occurred_at
		FROM connection_events
		ORDER BY occurred_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: querying events: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e                     Entry
			kind, state, previous string
			topics                string
			delayMs, occurred     int64
		)
		if err := rows.Scan(&e.ID, &e.Broker, &kind, &state, &previous, &e.Error,
			&e.Attempt, &delayMs, &topics, &occurred); err != nil {
			return nil, fmt.Errorf("journal: scanning event: %w", err)
		}

		e.Kind = connection.EventKind(kind)
		var ok bool
		if e.State, ok = connection.ParseState(state); !ok {
			return nil, fmt.Errorf("journal: event %s: unknown state %q", e.ID, state)
		}
		if previous != "" {
			if e.Previous, ok = connection.ParseState(previous); !ok {
				return nil, fmt.Errorf("journal: event %s: unknown state %q", e.ID, previous)
			}
		}
		if e.Topics, err = decodeTopics(topics); err != nil {
			return nil, fmt.Errorf("journal: event %s: %w", e.ID, err)
		}
		e.Delay = time.Duration(delayMs) * time.Millisecond
		e.OccurredAt = time.Unix(0, occurred)

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating events: %w", err)
	}
	return entries, nil
}

// Prune deletes entries recorded before olderThan and reports how many
// were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM connection_events WHERE occurred_at < ?", olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("journal: pruning events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("journal: pruning events: %w", err)
	}
	if n > 0 {
		s.logger.Debug("journal pruned", "removed", n, "older_than", olderThan)
	}
	return n, nil
}

// PruneLoop prunes entries older than retention every interval until ctx
// is done.
func (s *Store) PruneLoop(ctx context.Context, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Prune(ctx, time.Now().Add(-retention)); err != nil && ctx.Err() == nil {
			s.logger.Warn("journal prune failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func previousText(e Entry) string {
	if e.Kind != connection.EventStateChanged {
		return ""
	}
	return e.Previous.String()
}

func encodeTopics(topics []string) (string, error) {
	if len(topics) == 0 {
		return "", nil
	}
	b, err := json.Marshal(topics)
	if err != nil {
		return "", fmt.Errorf("journal: encoding topics: %w", err)
	}
	return string(b), nil
}

func decodeTopics(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var topics []string
	if err := json.Unmarshal([]byte(s), &topics); err != nil {
		return nil, fmt.Errorf("decoding topics: %w", err)
	}
	return topics, nil
}
