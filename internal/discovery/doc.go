// Package discovery finds MQTT brokers on the local network via mDNS.
//
// Brokers that advertise the "_mqtt._tcp" service (Mosquitto with Avahi,
// EMQX, HiveMQ edge) are collected for a bounded window and returned as
// [Broker] values whose URL can be handed straight to the connection manager.
package discovery
