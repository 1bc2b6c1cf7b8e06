// Package metrics holds the prometheus collectors of the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "airboard"

type Metrics struct {
	EventsPublished  *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	HandEmissions    prometheus.Counter
	HandThrottled    prometheus.Counter
	FrameReadFails   prometheus.Counter
	DetectionFails   prometheus.Counter
	Rooms            prometheus.Gauge
	Sessions         prometheus.Gauge
	CaptureResources prometheus.Gauge
}

// New creates the collectors and registers them on reg.
// Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events enqueued to subscribers, by event name.",
		}, []string{"event"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events not delivered to a subscriber (backpressure or closed), by event name.",
		}, []string{"event"}),
		HandEmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hand_emissions_total",
			Help:      "Landmark results forwarded by the broadcast throttle.",
		}),
		HandThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hand_throttled_total",
			Help:      "Landmark results discarded by the broadcast throttle.",
		}),
		FrameReadFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_read_failures_total",
			Help:      "Ingest loops terminated by a device read failure.",
		}),
		DetectionFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_failures_total",
			Help:      "Detector calls or single hands that failed and were skipped.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Connected participants.",
		}),
		CaptureResources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_resources",
			Help:      "Open capture resources.",
		}),
	}
	reg.MustRegister(
		m.EventsPublished,
		m.EventsDropped,
		m.HandEmissions,
		m.HandThrottled,
		m.FrameReadFails,
		m.DetectionFails,
		m.Rooms,
		m.Sessions,
		m.CaptureResources,
	)
	return m
}
