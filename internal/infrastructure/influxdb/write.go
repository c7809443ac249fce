package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-access/internal/orchestrator"
)

// Measurement names.
const (
	MeasurementAttempts = "access_attempts"
	MeasurementUplink   = "uplink"
)

// RecordAttempt writes one access_attempts point for a finished cycle. It
// satisfies orchestrator.Recorder and never blocks on the network.
//
// Tags: device, outcome, credential. Fields: duration_ms, granted.
func (c *Client) RecordAttempt(_ context.Context, a orchestrator.Attempt) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ts := a.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	c.WritePoint(MeasurementAttempts,
		map[string]string{
			"outcome":    a.Outcome.String(),
			"credential": a.Credential,
		},
		map[string]any{
			"duration_ms": a.Duration.Milliseconds(),
			"granted":     a.Outcome == orchestrator.Granted,
		},
		ts,
	)
	return nil
}

// RecordUplink writes the connectivity snapshot: network link, messaging
// session, queued and dropped events.
func (c *Client) RecordUplink(network, session bool, queued int, dropped uint64) {
	c.WritePoint(MeasurementUplink, nil,
		map[string]any{
			"network":        network,
			"session":        session,
			"events_queued":  queued,
			"events_dropped": int64(dropped), //nolint:gosec // counter stays far below MaxInt64
		},
		time.Now(),
	)
}

// WritePoint queues a point with the device tag added. Dropped silently
// when the client is closed.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	all := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		all[k] = v
	}
	if c.device != "" {
		all["device"] = c.device
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, all, fields, ts))
}
