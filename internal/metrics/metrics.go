package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kis"

// Metrics holds all collectors for one gateway process.
type Metrics struct {
	tokenRefreshes  *prometheus.CounterVec
	apiRequests     *prometheus.CounterVec
	apiLatency      *prometheus.HistogramVec
	streamFrames    *prometheus.CounterVec
	streamDataErrs  prometheus.Counter
	streamSessions  *prometheus.CounterVec
	streamConnected prometheus.Gauge
	writerRows      prometheus.Counter
	writerErrors    prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "token_refresh_total",
			Help:      "Access token refresh attempts by result.",
		}, []string{"result"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Upstream REST calls by transaction id and HTTP status (0 = transport failure).",
		}, []string{"tr_id", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Upstream REST call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tr_id"}),
		streamFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Inbound websocket frames by kind.",
		}, []string{"kind"}),
		streamDataErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "data_errors_total",
			Help:      "Inbound frames that were malformed or reported a failure result code.",
		}),
		streamSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "sessions_total",
			Help:      "Stream session attempts by outcome.",
		}, []string{"outcome"}),
		streamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connected",
			Help:      "1 while a stream session is subscribed.",
		}),
		writerRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "rows_total",
			Help:      "Trade rows inserted.",
		}),
		writerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "errors_total",
			Help:      "Failed trade batch inserts.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.tokenRefreshes,
			m.apiRequests,
			m.apiLatency,
			m.streamFrames,
			m.streamDataErrs,
			m.streamSessions,
			m.streamConnected,
			m.writerRows,
			m.writerErrors,
		)
	}

	return m
}

// Handler serves the collectors gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// TokenRefresh records the outcome of one token refresh.
func (m *Metrics) TokenRefresh(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.tokenRefreshes.WithLabelValues(result).Inc()
}

// APIRequest records one upstream REST call.
func (m *Metrics) APIRequest(trID string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(trID, strconv.Itoa(status)).Inc()
	m.apiLatency.WithLabelValues(trID).Observe(elapsed.Seconds())
}

// StreamFrame records one inbound frame of the given kind.
func (m *Metrics) StreamFrame(kind string) {
	if m == nil {
		return
	}
	m.streamFrames.WithLabelValues(kind).Inc()
}

// StreamDataError records one non-fatal frame error.
func (m *Metrics) StreamDataError() {
	if m == nil {
		return
	}
	m.streamDataErrs.Inc()
}

// StreamSession records how a session attempt ended.
func (m *Metrics) StreamSession(outcome string) {
	if m == nil {
		return
	}
	m.streamSessions.WithLabelValues(outcome).Inc()
}

// StreamConnected sets the connection gauge.
func (m *Metrics) StreamConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.streamConnected.Set(1)
	} else {
		m.streamConnected.Set(0)
	}
}

// WriterFlush records one batch insert.
func (m *Metrics) WriterFlush(rows int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.writerErrors.Inc()
		return
	}
	m.writerRows.Add(float64(rows))
}
