// Package telemetry turns connection lifecycle events into log lines and
// InfluxDB points.
package telemetry
