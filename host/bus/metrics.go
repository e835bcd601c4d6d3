package bus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the dispatcher's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	FramesSent      prometheus.Counter
	FramesReceived  *prometheus.CounterVec
	FrameErrors     *prometheus.CounterVec
	Requests        *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	LinkState       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "can29",
			Subsystem: "bus",
			Name:      "frames_sent_total",
			Help:      "Frames written to the link",
		}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "can29",
			Subsystem: "bus",
			Name:      "frames_received_total",
			Help:      "Decoded inbound frames by route (pending, component, dropped)",
		}, []string{"route"}),
		FrameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "can29",
			Subsystem: "bus",
			Name:      "frame_errors_total",
			Help:      "Inbound byte runs rejected by the decoder, by kind",
		}, []string{"kind"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "can29",
			Subsystem: "bus",
			Name:      "requests_total",
			Help:      "Synchronous requests by result",
		}, []string{"result"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "can29",
			Subsystem: "bus",
			Name:      "request_duration_seconds",
			Help:      "Time from write to reply for successful requests",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		LinkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "can29",
			Subsystem: "bus",
			Name:      "link_state",
			Help:      "Link state (0=closed, 1=open, 2=draining)",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.FramesSent, m.FramesReceived, m.FrameErrors, m.Requests, m.RequestDuration, m.LinkState,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) frameSent() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

func (m *Metrics) frameReceived(route string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(route).Inc()
}

func (m *Metrics) frameError(kind string) {
	if m == nil {
		return
	}
	m.FrameErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) request(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(result).Inc()
	if result == "ok" {
		m.RequestDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) linkState(s State) {
	if m == nil {
		return
	}
	m.LinkState.Set(float64(s))
}
