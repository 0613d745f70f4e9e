// Package statusfeed serves a read-only view of a connection manager over
// HTTP and WebSocket.
//
// Routes:
//
//	GET /api/v1/status   current snapshot
//	GET /api/v1/health   200 when connected, 503 otherwise
//	GET /api/v1/events   recent journal entries (when a journal is attached)
//	GET /ws              snapshot, then one message per lifecycle event
//
// The Server is a connection.Observer; attach it with Manager.AddObserver.
//
//	feed, err := statusfeed.New(statusfeed.Deps{...})
//	remove := mgr.AddObserver(feed)
//	defer remove()
//	feed.Start(ctx)
//	defer feed.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package statusfeed
