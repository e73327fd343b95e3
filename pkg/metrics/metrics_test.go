package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/group_tagger/pkg/logger"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_HTTPResponseCounters(t *testing.T) {
	m := NewMetrics(true, false, logger.NewNop())
	for i := 0; i < 5; i++ {
		m.IncrementHTTPResponseCounter(200)
		m.IncrementHTTPResponseCounter(404)
	}

	expected := `# HELP app_total_200_http_responses Total OK HTTP responses returned
# TYPE app_total_200_http_responses counter
app_total_200_http_responses 5
# HELP app_total_404_http_responses Total Not Found HTTP responses returned
# TYPE app_total_404_http_responses counter
app_total_404_http_responses 5
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"app_total_200_http_responses", "app_total_404_http_responses"))
}

func TestMetrics_SetCustomMetrics(t *testing.T) {
	m := NewMetrics(false, false, logger.NewNop())
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: "test",
		Name:      "foo1",
		Help:      "foo 1 help",
	})
	m.AddCustomMetric(counter)
	counter.Inc()

	assert.Contains(t, scrape(t, m), "test_foo1 1")
}

func TestMetrics_DomainCollectors(t *testing.T) {
	m := NewMetrics(false, true, logger.NewNop())

	m.SetSessionStates(map[string]int{"READY": 3, "PAIRING_PENDING": 1})
	m.SetSessionStates(map[string]int{"READY": 2})
	m.ObserveTransition("AUTHENTICATED", "READY")
	m.ObserveRecovery("CONNECTION_LOST")
	m.ObserveCommand("tagall", OutcomeOK)
	m.ObserveCommand("tagall", OutcomeDenied)
	m.ObserveFanOut(OutcomeOK, 12)
	m.ObserveFanOut(OutcomeNoOp, 0)
	m.ObserveCacheRefresh(2 * time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsByState.WithLabelValues("READY")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SessionsByState), "reset drops states no longer present")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionTransitions.WithLabelValues("AUTHENTICATED", "READY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionRecoveries.WithLabelValues("CONNECTION_LOST")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsHandled.WithLabelValues("tagall", OutcomeDenied)))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.MentionsSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FanOutGroups.WithLabelValues(OutcomeNoOp)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.CacheRefreshDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetSessionStates(map[string]int{"READY": 1})
		m.ObserveTransition("a", "b")
		m.ObserveRecovery("x")
		m.ObserveCommand("ping", OutcomeOK)
		m.ObserveFanOut(OutcomeOK, 3)
		m.ObserveCacheRefresh(time.Second)
	})
}

func TestHTTPMiddleware(t *testing.T) {
	m := NewMetrics(true, false, logger.NewNop())
	handler := m.HTTPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/error" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("success"))
	}))

	for _, path := range []string{"/ok", "/ok", "/error"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.TotalHTTPRequestsCounter))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsCounters[http.StatusOK]))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsCounters[http.StatusInternalServerError]))
}

func TestResponseWriter(t *testing.T) {
	recorder := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: recorder, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)
	assert.Equal(t, http.StatusNotFound, rw.statusCode)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	_, _, err := rw.Hijack()
	assert.Error(t, err, "recorder cannot be hijacked")
}
