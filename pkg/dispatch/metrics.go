package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the dispatcher's Prometheus counters (§4.9 "Supplemented").
// All methods tolerate a nil receiver so a dispatcher built without metrics
// wiring is zero-overhead rather than crashing.
type Metrics struct {
	FramesRouted    prometheus.Counter
	RejectsEmitted  *prometheus.CounterVec
	UnknownServices prometheus.Counter
}

// NewMetrics builds and registers the dispatcher's counters against reg. If
// reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		FramesRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bacstack_dispatch_frames_routed_total",
			Help: "Frames successfully routed past NPDU/APDU decode.",
		}),
		RejectsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bacstack_dispatch_rejects_emitted_total",
			Help: "Reject PDUs emitted by the dispatcher, by reason.",
		}, []string{"reason"}),
		UnknownServices: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bacstack_dispatch_unknown_services_total",
			Help: "Requests for a service choice with no registered handler.",
		}),
	}
	reg.MustRegister(m.FramesRouted, m.RejectsEmitted, m.UnknownServices)
	return m
}

func (m *Metrics) routed() {
	if m == nil {
		return
	}
	m.FramesRouted.Inc()
}

func (m *Metrics) reject(reason string) {
	if m == nil {
		return
	}
	m.RejectsEmitted.WithLabelValues(reason).Inc()
}

func (m *Metrics) unknownService() {
	if m == nil {
		return
	}
	m.UnknownServices.Inc()
}
