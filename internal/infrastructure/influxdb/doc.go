// Package influxdb records identityd's authentication outcomes as
// time-series data in InfluxDB v2.
//
// Every orchestrator event becomes one point in the auth_events
// measurement, tagged by operation, outcome and failure reason. Dashboards
// use it for login success rates, refresh volume and latency; user ids are
// kept out of the series.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // optional: run without time-series
//	}
//	defer client.Close()
//
//	sink := influxdb.NewRecorder(client)
//	// pass sink to auth.WithEventSink
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval);
// asynchronous failures reach the SetOnError callback. Connection and
// health check errors are returned directly.
package influxdb
