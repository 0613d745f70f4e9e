package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/mqttlink/internal/connection"
	"github.com/nerrad567/mqttlink/internal/infrastructure/database"
	"github.com/nerrad567/mqttlink/migrations"
)

const testBroker = "tcp://broker.local:1883"

func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	require.NoError(t, db.Migrate(ctx, migrations.FS))
	return db
}

func TestStore_RecordsEvents(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db, testBroker, nil)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.OnEvent(connection.Event{
		Kind:     connection.EventStateChanged,
		Time:     base,
		State:    connection.StateConnecting,
		Previous: connection.StateDisconnected,
	})
	store.OnEvent(connection.Event{
		Kind:  connection.EventError,
		Time:  base.Add(time.Second),
		State: connection.StateConnecting,
		Err:   errors.New("connection refused"),
	})
	store.OnEvent(connection.Event{
		Kind:    connection.EventReconnectScheduled,
		Time:    base.Add(2 * time.Second),
		State:   connection.StateReconnecting,
		Attempt: 1,
		Delay:   5 * time.Second,
	})
	store.OnEvent(connection.Event{
		Kind:   connection.EventSubscriptionsChanged,
		Time:   base.Add(3 * time.Second),
		State:  connection.StateReconnecting,
		Topics: []string{"a/b", "c/d,with,commas"},
	})
	store.Close()

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	// newest first
	subs, sched, errEv, state := entries[0], entries[1], entries[2], entries[3]

	assert.Equal(t, connection.EventSubscriptionsChanged, subs.Kind)
	assert.Equal(t, []string{"a/b", "c/d,with,commas"}, subs.Topics)

	assert.Equal(t, connection.EventReconnectScheduled, sched.Kind)
	assert.Equal(t, connection.StateReconnecting, sched.State)
	assert.Equal(t, 1, sched.Attempt)
	assert.Equal(t, 5*time.Second, sched.Delay)

	assert.Equal(t, connection.EventError, errEv.Kind)
	assert.Equal(t, "connection refused", errEv.Error)
	assert.Nil(t, errEv.Topics)

	assert.Equal(t, connection.EventStateChanged, state.Kind)
	assert.Equal(t, connection.StateConnecting, state.State)
	assert.Equal(t, connection.StateDisconnected, state.Previous)
	assert.Equal(t, testBroker, state.Broker)
	assert.True(t, base.Equal(state.OccurredAt))
	assert.NotEmpty(t, state.ID)
	assert.NotEqual(t, state.ID, errEv.ID)
}

func TestStore_RecentLimit(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db, testBroker, nil)

	base := time.Now().Add(-time.Hour)
	for i := range 5 {
		store.OnEvent(connection.Event{
			Kind:    connection.EventReconnectScheduled,
			Time:    base.Add(time.Duration(i) * time.Second),
			State:   connection.StateReconnecting,
			Attempt: i + 1,
		})
	}
	store.Close()

	entries, err := store.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 5, entries[0].Attempt)
	assert.Equal(t, 4, entries[1].Attempt)

	all, err := store.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestStore_RecentEmpty(t *testing.T) {
	store := NewStore(openTestDB(t), testBroker, nil)
	store.Close()

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestStore_Prune(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db, testBroker, nil)

	now := time.Now()
	store.OnEvent(connection.Event{Kind: connection.EventError, Time: now.Add(-48 * time.Hour), Err: errors.New("old")})
	store.OnEvent(connection.Event{Kind: connection.EventError, Time: now.Add(-47 * time.Hour), Err: errors.New("old")})
	store.OnEvent(connection.Event{Kind: connection.EventError, Time: now, Err: errors.New("new")})
	store.Close()

	removed, err := store.Prune(context.Background(), now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].Error)
}

func TestStore_PruneLoopStopsOnCancel(t *testing.T) {
	store := NewStore(openTestDB(t), testBroker, nil)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.PruneLoop(ctx, time.Hour, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PruneLoop did not return after cancel")
	}
}

func TestStore_CloseIsIdempotentAndIgnoresLateEvents(t *testing.T) {
	store := NewStore(openTestDB(t), testBroker, nil)
	store.Close()
	store.Close()

	store.OnEvent(connection.Event{Kind: connection.EventError, Err: errors.New("late")})

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_ZeroTimeUsesNow(t *testing.T) {
	store := NewStore(openTestDB(t), testBroker, nil)
	before := time.Now()
	store.OnEvent(connection.Event{Kind: connection.EventReconnectExhausted, State: connection.StateDisconnected})
	store.Close()

	entries, err := store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].OccurredAt.Before(before))
}

// TestStore_WithManager journals a real manager's connect and subscribe events.
func TestStore_WithManager(t *testing.T) {
	store := NewStore(openTestDB(t), testBroker, nil)

	dialer := connection.DialerFunc(func(string, connection.Options, connection.Handlers) (connection.Session, error) {
		return nil, errors.New("dial refused")
	})
	opts := connection.DefaultOptions()
	opts.DisableAutoReconnect = true

	m, err := connection.New(testBroker, opts, dialer, nil)
	require.NoError(t, err)
	remove := m.AddObserver(store)

	m.Subscribe("sensors/#")
	m.Connect()
	remove()
	m.Close()
	store.Close()

	entries, err := store.Recent(context.Background(), 50)
	require.NoError(t, err)

	kinds := make(map[connection.EventKind]int)
	for _, e := range entries {
		kinds[e.Kind]++
	}
	assert.Equal(t, 1, kinds[connection.EventSubscriptionsChanged])
	assert.Equal(t, 1, kinds[connection.EventError])
	assert.GreaterOrEqual(t, kinds[connection.EventStateChanged], 2, "connecting and back to disconnected")
}
