// Package influxdb writes connection telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library: a ping on connect,
// a non-blocking batched write API, and asynchronous error reporting.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteConnectionPoint(influxdb.ConnectionPoint{
//	    Broker: "tcp://broker:1883",
//	    Kind:   "state_changed",
//	    State:  "connected",
//	    Time:   time.Now(),
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are batched according to
// batch_size and flush_interval; batch errors arrive through SetOnError.
package influxdb
