// Package metrics exposes Prometheus counters for the session layer.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wasock",
			Subsystem: "transport",
			Name:      "frames_total",
			Help:      "Frames written and read, by direction and payload kind.",
		},
		[]string{"direction", "kind"},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wasock",
			Subsystem: "transport",
			Name:      "frame_errors_total",
			Help:      "Inbound frames dropped or failed, by reason.",
		},
		[]string{"reason"},
	)
	pushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wasock",
			Subsystem: "transport",
			Name:      "pushes_total",
			Help:      "Unsolicited frames, by tag classification.",
		},
		[]string{"kind"},
	)
	pending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wasock",
			Subsystem: "transport",
			Name:      "pending_requests",
			Help:      "Requests awaiting a reply.",
		},
	)
	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wasock",
			Subsystem: "watchdog",
			Name:      "probes_total",
			Help:      "Liveness probes sent, by outcome.",
		},
		[]string{"result"},
	)
	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wasock",
			Subsystem: "session",
			Name:      "handshakes_total",
			Help:      "Connect attempts, by outcome.",
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(frames, frameErrors, pushes, pending, probes, handshakes)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordFrame(direction, kind string) {
	RegisterMetrics()
	frames.WithLabelValues(direction, kind).Inc()
}

func RecordFrameError(reason string) {
	RegisterMetrics()
	frameErrors.WithLabelValues(reason).Inc()
}

func RecordPush(kind string) {
	RegisterMetrics()
	pushes.WithLabelValues(kind).Inc()
}

func AddPending(delta float64) {
	RegisterMetrics()
	pending.Add(delta)
}

func RecordProbe(ok bool) {
	RegisterMetrics()
	result := "ok"
	if !ok {
		result = "failed"
	}
	probes.WithLabelValues(result).Inc()
}

func RecordHandshake(result string) {
	RegisterMetrics()
	handshakes.WithLabelValues(result).Inc()
}
