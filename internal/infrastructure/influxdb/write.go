package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

// MeasurementAuthEvents is the measurement auth outcomes are written to.
const MeasurementAuthEvents = "auth_events"

// PointWriter accepts points for asynchronous, batched delivery.
// *Client implements it.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// WritePoint queues a point. The write is non-blocking; points are batched
// and sent in the background. Dropped silently while disconnected.
func (c *Client) WritePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

// AuthEventPoint converts an orchestrator event into an auth_events point.
//
// Tags (low cardinality): operation, outcome and, for failures, reason
// (the error kind). Fields: duration_ms and count=1 so sum(count) gives
// the number of operations in a window. User ids are deliberately left out
// of the tags.
func AuthEventPoint(ev auth.Event) *write.Point {
	tags := map[string]string{
		"operation": ev.Type,
		"outcome":   ev.Outcome,
	}
	if ev.Reason != "" {
		tags["reason"] = ev.Reason
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	return write.NewPoint(
		MeasurementAuthEvents,
		tags,
		map[string]any{
			"duration_ms": float64(ev.Duration) / float64(time.Millisecond),
			"count":       int64(1),
		},
		at,
	)
}

// Recorder is an auth.EventSink writing every event as an auth_events point.
type Recorder struct {
	w PointWriter
}

// NewRecorder returns a Recorder writing to w.
func NewRecorder(w PointWriter) *Recorder {
	return &Recorder{w: w}
}

// Emit implements auth.EventSink.
func (r *Recorder) Emit(_ context.Context, ev auth.Event) {
	r.w.WritePoint(AuthEventPoint(ev))
}
