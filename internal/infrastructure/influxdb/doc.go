// Package influxdb exports access and uplink metrics to InfluxDB v2.
//
// Metrics are optional. When influxdb.enabled is false, Connect returns
// ErrDisabled and the controller runs without them.
//
// Measurements:
//   - access_attempts: one point per door cycle (tags outcome, credential)
//   - uplink: periodic network/session/queue snapshot
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Device.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { log.Warn("metrics write failed", "error", err) })
package influxdb
