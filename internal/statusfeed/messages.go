package statusfeed

import (
	"time"

	"github.com/nerrad567/mqttlink/internal/connection"
)

// WebSocket message types.
const (
	WSTypeSnapshot = "snapshot"
	WSTypeEvent    = "event"
	WSTypePing     = "ping"
	WSTypePong     = "pong"
	WSTypeError    = "error"
)

// WSMessage is a message sent to or received from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// StatusView is the JSON form of a connection snapshot.
type StatusView struct {
	Broker        string   `json:"broker"`
	State         string   `json:"state"`
	Connected     bool     `json:"connected"`
	Subscriptions []string `json:"subscriptions"`
	LastError     string   `json:"last_error,omitempty"`
	Attempts      int      `json:"attempts"`
}

// EventView is the JSON form of a lifecycle event.
type EventView struct {
	Kind     string   `json:"kind"`
	Time     string   `json:"time"`
	State    string   `json:"state"`
	Previous string   `json:"previous,omitempty"`
	Error    string   `json:"error,omitempty"`
	Attempt  int      `json:"attempt,omitempty"`
	DelayMs  int64    `json:"delay_ms,omitempty"`
	Topics   []string `json:"topics,omitempty"`
}

func statusView(broker string, s connection.Snapshot) StatusView {
	v := StatusView{
		Broker:        broker,
		State:         s.State.String(),
		Connected:     s.State == connection.StateConnected,
		Subscriptions: s.Subscriptions,
		Attempts:      s.Attempts,
	}
	if v.Subscriptions == nil {
		v.Subscriptions = []string{}
	}
	if s.LastError != nil {
		v.LastError = s.LastError.Error()
	}
	return v
}

func eventView(ev connection.Event) EventView {
	v := EventView{
		Kind:    string(ev.Kind),
		Time:    ev.Time.UTC().Format(time.RFC3339Nano),
		State:   ev.State.String(),
		Attempt: ev.Attempt,
		DelayMs: ev.Delay.Milliseconds(),
		Topics:  ev.Topics,
	}
	if ev.Kind == connection.EventStateChanged {
		v.Previous = ev.Previous.String()
	}
	if ev.Err != nil {
		v.Error = ev.Err.Error()
	}
	return v
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
