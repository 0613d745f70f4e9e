// Package mqtt is the paho-backed protocol client behind connection.Manager.
//
// This package provides:
//   - Dialer, an implementation of connection.Dialer that opens one paho
//     client per session
//   - Mapping from the mqtt configuration section to connection.Options
//   - Random client ID generation (mqttlink_xxxxxxxx)
//
// # Architecture
//
// paho's own reconnect and connect-retry loops are switched off. A session
// that fails or drops reports it once through its handlers and stays down;
// the Manager decides whether and when to open the next one.
//
//	connection.Manager → Dialer.Open → session (paho client) ↔ broker
//
// All subscriptions are made without a per-topic callback so every message
// arrives through paho's default publish handler and is forwarded to the
// Manager's OnMessage handler unfiltered.
//
// # Security Considerations
//
//   - ssl://, tls://, mqtts:// and wss:// brokers get TLS 1.2+ by default
//   - A custom *tls.Config can be supplied through connection.TransportOptions
//   - Credentials are never logged; broker URLs are logged redacted
//
// # Usage
//
//	dialer := mqtt.NewDialer(logger)
//	m, err := connection.New(cfg.MQTT.BrokerURL(), mqtt.OptionsFromConfig(cfg.MQTT), dialer, handler)
package mqtt
