package telemetry

import (
	"sync"

	"github.com/nerrad567/mqttlink/internal/connection"
	"github.com/nerrad567/mqttlink/internal/infrastructure/influxdb"
)

// PointWriter accepts connection telemetry points. *influxdb.Client
// satisfies it.
type PointWriter interface {
	WriteConnectionPoint(p influxdb.ConnectionPoint)
}

// InfluxObserver writes one mqtt_connection point per lifecycle event.
type InfluxObserver struct {
	writer PointWriter
	broker string

	mu            sync.Mutex
	subscriptions int
}

// NewInfluxObserver creates an InfluxObserver for broker. initialSubs is the
// registry size at the time the observer is attached.
func NewInfluxObserver(writer PointWriter, broker string, initialSubs int) *InfluxObserver {
	return &InfluxObserver{writer: writer, broker: broker, subscriptions: initialSubs}
}

// OnEvent implements connection.Observer.
func (o *InfluxObserver) OnEvent(ev connection.Event) {
	o.mu.Lock()
	if ev.Kind == connection.EventSubscriptionsChanged {
		o.subscriptions = len(ev.Topics)
	}
	subs := o.subscriptions
	o.mu.Unlock()

	p := influxdb.ConnectionPoint{
		Broker:        o.broker,
		Kind:          string(ev.Kind),
		State:         ev.State.String(),
		Connected:     ev.State == connection.StateConnected,
		Attempt:       ev.Attempt,
		Delay:         ev.Delay,
		Subscriptions: subs,
		Time:          ev.Time,
	}
	if ev.Err != nil {
		p.Error = ev.Err.Error()
	}
	o.writer.WriteConnectionPoint(p)
}
