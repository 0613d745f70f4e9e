// Package connection keeps a single logical connection to a publish/subscribe
// broker alive across network interruptions.
//
// This package manages:
//   - The connection lifecycle state machine (disconnected, connecting,
//     connected, reconnecting)
//   - Reconnect scheduling with exponential backoff or a fixed interval
//   - The subscription registry, replayed on every successful (re)connect
//   - Change notification for observers such as status pages and journals
//
// # Architecture
//
// The Manager does not speak the wire protocol. It drives a Dialer, which
// opens Sessions and reports open, message, error and close events back
// through Handlers. The paho-backed Dialer lives in
// internal/infrastructure/mqtt.
//
//	caller → Manager → Dialer/Session → broker
//	            ↓
//	        Observers
//
// # Error Handling
//
// No operation returns an error. Transport errors, operation errors and
// reconnect exhaustion are recorded as the last error and emitted as events.
// Use errors.Is with the sentinels in errors.go to classify them.
//
// # Usage
//
//	m, err := connection.New("tcp://localhost:1883", connection.DefaultOptions(),
//	    mqtt.NewDialer(logger), handler)
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	m.Subscribe("sensors/+/temperature")
//	m.Connect()
package connection
