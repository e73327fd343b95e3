// Package metrics provides Prometheus metrics for the HTTP surface and the
// session orchestration domain.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lewisedginton/group_tagger/pkg/logger"
)

const (
	namespace = "group_tagger"
	subsystem = "app"
)

// Command and fan-out outcome labels.
const (
	OutcomeOK           = "ok"
	OutcomeDenied       = "denied"
	OutcomeUnknown      = "unknown"
	OutcomeFailed       = "failed"
	OutcomeNotAdmin     = "not_admin"
	OutcomeNoOp         = "no_op"
	OutcomeInvalidIndex = "invalid_index"
)

// Metrics holds the registry and every collector. A nil *Metrics is valid and
// records nothing, so components can be built without instrumentation.
type Metrics struct {
	reg *prometheus.Registry

	TotalHTTPRequestsCounter prometheus.Counter
	HTTPRequestsCounters     map[int]prometheus.Counter
	HTTPDurationHistogram    prometheus.Histogram
	httpMu                   sync.Mutex

	SessionsByState      *prometheus.GaugeVec
	SessionTransitions   *prometheus.CounterVec
	SessionRecoveries    *prometheus.CounterVec
	CommandsHandled      *prometheus.CounterVec
	FanOutGroups         *prometheus.CounterVec
	MentionsSent         prometheus.Counter
	CacheRefreshDuration prometheus.Histogram

	log logger.Logger
}

// NewMetrics creates a Metrics instance with the requested collector groups.
func NewMetrics(httpCounters, domainMetrics bool, l logger.Logger) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		log: l,
	}
	if httpCounters {
		m.TotalHTTPRequestsCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "total_http_requests",
			Help:      "Total HTTP requests",
		})
		m.HTTPRequestsCounters = make(map[int]prometheus.Counter)
		m.HTTPDurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.1, 0.3, 0.5, 0.7, 1.0, 3.0, 5.0, 7.0, 10.0},
		})
		m.reg.MustRegister(m.TotalHTTPRequestsCounter, m.HTTPDurationHistogram)
	}
	if domainMetrics {
		m.registerDomainCollectors()
	}
	return m
}

func (m *Metrics) registerDomainCollectors() {
	m.SessionsByState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Sessions currently registered, by lifecycle state",
	}, []string{"state"})
	m.SessionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_transitions_total",
		Help:      "Session lifecycle transitions",
	}, []string{"from", "to"})
	m.SessionRecoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_recoveries_total",
		Help:      "Sessions scheduled for automatic recreation, by reason",
	}, []string{"reason"})
	m.CommandsHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Operator commands handled, by command and outcome",
	}, []string{"command", "outcome"})
	m.FanOutGroups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fanout_groups_total",
		Help:      "Groups processed by fan-out tagging, by outcome",
	}, []string{"outcome"})
	m.MentionsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mentions_sent_total",
		Help:      "Participants mentioned by fan-out tagging",
	})
	m.CacheRefreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "group_cache_refresh_duration_seconds",
		Help:      "Time taken to rebuild a session's admin group directory",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
	m.reg.MustRegister(
		m.SessionsByState,
		m.SessionTransitions,
		m.SessionRecoveries,
		m.CommandsHandled,
		m.FanOutGroups,
		m.MentionsSent,
		m.CacheRefreshDuration,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// AddCustomMetric registers a custom Prometheus collector.
func (m *Metrics) AddCustomMetric(c prometheus.Collector) {
	m.reg.MustRegister(c)
}

// SetSessionStates replaces the per-state session gauge with counts.
func (m *Metrics) SetSessionStates(counts map[string]int) {
	if m == nil || m.SessionsByState == nil {
		return
	}
	m.SessionsByState.Reset()
	for state, n := range counts {
		m.SessionsByState.WithLabelValues(state).Set(float64(n))
	}
}

// ObserveTransition counts one lifecycle transition.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil || m.SessionTransitions == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(from, to).Inc()
}

// ObserveRecovery counts one scheduled recreation.
func (m *Metrics) ObserveRecovery(reason string) {
	if m == nil || m.SessionRecoveries == nil {
		return
	}
	m.SessionRecoveries.WithLabelValues(reason).Inc()
}

// ObserveCommand counts one handled command.
func (m *Metrics) ObserveCommand(command, outcome string) {
	if m == nil || m.CommandsHandled == nil {
		return
	}
	m.CommandsHandled.WithLabelValues(command, outcome).Inc()
}

// ObserveFanOut counts one processed group and the mentions it carried.
func (m *Metrics) ObserveFanOut(outcome string, mentions int) {
	if m == nil || m.FanOutGroups == nil {
		return
	}
	m.FanOutGroups.WithLabelValues(outcome).Inc()
	if mentions > 0 {
		m.MentionsSent.Add(float64(mentions))
	}
}

// ObserveCacheRefresh records one directory rebuild.
func (m *Metrics) ObserveCacheRefresh(d time.Duration) {
	if m == nil || m.CacheRefreshDuration == nil {
		return
	}
	m.CacheRefreshDuration.Observe(d.Seconds())
}

// IncrementHTTPResponseCounter increments the counter for the given HTTP status code.
func (m *Metrics) IncrementHTTPResponseCounter(code int) {
	m.httpMu.Lock()
	counter, ok := m.HTTPRequestsCounters[code]
	if !ok {
		counter = newTotalHTTPReqMetric(code)
		m.HTTPRequestsCounters[code] = counter
		m.reg.MustRegister(counter)
	}
	m.httpMu.Unlock()
	counter.Inc()
}

func newTotalHTTPReqMetric(code int) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      fmt.Sprintf("total_%d_http_responses", code),
		Help:      fmt.Sprintf("Total %s HTTP responses returned", http.StatusText(code)),
	})
}

// HTTPMiddleware returns a chi-compatible middleware that tracks HTTP metrics.
func (m *Metrics) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.TotalHTTPRequestsCounter.Inc()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			m.HTTPDurationHistogram.Observe(time.Since(start).Seconds())
			m.IncrementHTTPResponseCounter(rw.statusCode)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
