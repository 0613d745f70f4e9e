// Package journal records connection lifecycle events in SQLite.
//
// A Store is a connection.Observer. Events are queued and written by a
// single background goroutine, so a slow disk never stalls event delivery
// to other observers. When the queue is full the event is dropped and
// counted.
//
// Usage:
//
//	store := journal.NewStore(db, mgr.BrokerURL(), logger)
//	defer store.Close()
//	remove := mgr.AddObserver(store)
//	defer remove()
//
//	recent, err := store.Recent(ctx, 50)
package journal
