package telemetry

import (
	"github.com/nerrad567/mqttlink/internal/connection"
)

// Logger is the structured logging surface LogObserver writes to.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LogObserver logs every lifecycle event at a level matching its kind.
type LogObserver struct {
	logger Logger
	broker string
}

// NewLogObserver creates a LogObserver that tags lines with broker.
func NewLogObserver(logger Logger, broker string) *LogObserver {
	return &LogObserver{logger: logger, broker: broker}
}

// OnEvent implements connection.Observer.
func (o *LogObserver) OnEvent(ev connection.Event) {
	switch ev.Kind {
	case connection.EventStateChanged:
		o.logger.Info("connection state changed",
			"broker", o.broker, "state", ev.State.String(), "previous", ev.Previous.String())
	case connection.EventError:
		o.logger.Warn("connection error",
			"broker", o.broker, "state", ev.State.String(), "error", ev.Err)
	case connection.EventReconnectScheduled:
		o.logger.Info("reconnect scheduled",
			"broker", o.broker, "attempt", ev.Attempt, "delay", ev.Delay)
	case connection.EventReconnectExhausted:
		o.logger.Error("reconnect attempts exhausted",
			"broker", o.broker, "attempts", ev.Attempt, "error", ev.Err)
	case connection.EventSubscriptionsChanged:
		o.logger.Debug("subscriptions changed",
			"broker", o.broker, "count", len(ev.Topics), "topics", ev.Topics)
	default:
		o.logger.Debug("connection event", "broker", o.broker, "kind", string(ev.Kind))
	}
}
