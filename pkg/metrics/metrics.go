// Package metrics exposes bridge counters to Prometheus.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/robotalks/canbridge/pkg/command"
)

var (
	registerOnce sync.Once

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canbridge",
			Subsystem: "dispatch",
			Name:      "commands_total",
			Help:      "Payloads dispatched by command id.",
		},
		[]string{"command"},
	)
	routesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canbridge",
			Subsystem: "dispatch",
			Name:      "routes_total",
			Help:      "Reply routes registered for forwarded commands.",
		},
		[]string{"target", "replaced"},
	)
	responsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canbridge",
			Subsystem: "dispatch",
			Name:      "responses_total",
			Help:      "Responses received from the bus.",
		},
		[]string{"source", "delivered"},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canbridge",
			Subsystem: "can",
			Name:      "frames_total",
			Help:      "Observed bus frames by packet type.",
		},
		[]string{"type"},
	)
	reassemblyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canbridge",
			Subsystem: "can",
			Name:      "reassembly_errors_total",
			Help:      "Discarded reassembly buffers.",
		},
		[]string{"reason"},
	)
	codecDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canbridge",
			Subsystem: "codec",
			Name:      "drops_total",
			Help:      "Malformed frames dropped by endpoint codecs.",
		},
		[]string{"endpoint", "reason"},
	)
	sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "canbridge",
			Subsystem: "endpoint",
			Name:      "sessions",
			Help:      "Open endpoint sessions.",
		},
		[]string{"endpoint"},
	)
)

// Register registers all collectors with the default registry.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(commandsTotal, routesTotal, responsesTotal,
			framesTotal, reassemblyErrors, codecDrops, sessionsActive)
	})
}

// Dispatch implements command.Observer.
type Dispatch struct{}

var _ command.Observer = Dispatch{}

// CommandReceived implements command.Observer.
func (Dispatch) CommandReceived(id command.ID) {
	Register()
	commandsTotal.WithLabelValues(id.String()).Inc()
}

// RouteAdded implements command.Observer.
func (Dispatch) RouteAdded(target uint8, replaced bool) {
	Register()
	routesTotal.WithLabelValues(strconv.Itoa(int(target)), strconv.FormatBool(replaced)).Inc()
}

// ResponseRouted implements command.Observer.
func (Dispatch) ResponseRouted(source uint8, delivered bool) {
	Register()
	responsesTotal.WithLabelValues(strconv.Itoa(int(source)), strconv.FormatBool(delivered)).Inc()
}

// RecordFrame counts a bus frame of the named packet type.
func RecordFrame(packetType string) {
	Register()
	framesTotal.WithLabelValues(packetType).Inc()
}

// RecordReassemblyError counts a discarded reassembly buffer.
func RecordReassemblyError(reason string) {
	Register()
	reassemblyErrors.WithLabelValues(reason).Inc()
}

// RecordCodecDrop counts a frame dropped by an endpoint codec.
func RecordCodecDrop(endpoint, reason string) {
	Register()
	codecDrops.WithLabelValues(endpoint, reason).Inc()
}

// SessionOpened tracks an endpoint session until the returned func is
// called.
func SessionOpened(endpoint string) (closed func()) {
	Register()
	g := sessionsActive.WithLabelValues(endpoint)
	g.Inc()
	var once sync.Once
	return func() {
		once.Do(g.Dec)
	}
}
