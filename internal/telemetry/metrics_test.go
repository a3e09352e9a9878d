package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.FeedEvents.WithLabelValues("depth").Add(3)
	m.FeedEvents.WithLabelValues("trade").Inc()
	m.Decisions.WithLabelValues("accepted").Inc()
	m.StagingOutcomes.WithLabelValues("SymbolCooldown").Inc()
	m.JournalDrops.Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.FeedEvents.WithLabelValues("depth")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedEvents.WithLabelValues("trade")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JournalDrops))
}

func TestMetricsEndpointExposition(t *testing.T) {
	m := NewMetrics()
	m.Cancellations.WithLabelValues("BTC-USD").Inc()

	srv := NewServer("127.0.0.1:0", m, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "tapewatch_cancellations_total"))
}

func TestHealthEndpoint(t *testing.T) {
	m := NewMetrics()
	srv := NewServer("127.0.0.1:0", m, func() map[string]any {
		return map[string]any{"tracked_signals": 2}
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"tracked_signals":2`)
}
