package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "labtrack"

// Results used as label values
const (
	ResultOK      = "ok"
	ResultFailure = "failure"
	ResultError   = "error"
)

// Auth metrics on a dedicated registry, so tests may create as many as they want
type Metrics struct {
	registry *prometheus.Registry

	logins         *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	gateRejections *prometheus.CounterVec
	swept          prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refreshes_total",
			Help:      "Refresh token exchanges by result.",
		}, []string{"result"}),
		gateRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "gate_rejections_total",
			Help:      "Requests rejected by the authorization gate by error kind.",
		}, []string{"kind"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_tokens_swept_total",
			Help:      "Expired refresh tokens deleted by the sweeper.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.logins,
		m.refreshes,
		m.gateRejections,
		m.swept,
	)

	return m
}

func (m *Metrics) Login(result string) {
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) Refresh(result string) {
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) GateRejected(kind string) {
	m.gateRejections.WithLabelValues(kind).Inc()
}

func (m *Metrics) Swept(count int64) {
	m.swept.Add(float64(count))
}

// Handler exposing metrics in Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
