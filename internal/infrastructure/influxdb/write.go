package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// connectionMeasurement is the measurement connection telemetry is written to.
const connectionMeasurement = "mqtt_connection"

// ConnectionPoint is one connection telemetry sample.
type ConnectionPoint struct {
	Broker        string
	Kind          string
	State         string
	Connected     bool
	Attempt       int
	Delay         time.Duration
	Subscriptions int
	Error         string
	Time          time.Time
}

// WriteConnectionPoint writes p to the mqtt_connection measurement.
//
// Broker, Kind and State are tags; everything else is a field. The write is
// non-blocking.
func (c *Client) WriteConnectionPoint(p ConnectionPoint) {
	fields := map[string]any{
		"connected":     p.Connected,
		"attempt":       p.Attempt,
		"delay_ms":      p.Delay.Milliseconds(),
		"subscriptions": p.Subscriptions,
	}
	if p.Error != "" {
		fields["error"] = p.Error
	}

	ts := p.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	c.WritePointWithTime(connectionMeasurement, map[string]string{
		"broker": p.Broker,
		"kind":   p.Kind,
		"state":  p.State,
	}, fields, ts)
}

// WritePoint writes a custom point timestamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
