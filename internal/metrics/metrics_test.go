package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/specialistvlad/privacyflow/internal/node"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsNodeOutcomes(t *testing.T) {
	m := New()
	users := nodeid.New("app", "users")

	m.Finished(users, node.StatusComplete)
	m.Finished(users, node.StatusComplete)
	m.Finished(users, node.StatusSkipped)
	m.Retried(users, 1, &privacyerr.RateLimitTimeout{Backend: "db", Wait: time.Second})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.nodesFinished.WithLabelValues("app", "complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodesFinished.WithLabelValues("app", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodeRetries.WithLabelValues("app", "rate_limit")))
}

func TestErrorType(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "none"},
		{"rate limit", &privacyerr.RateLimitTimeout{}, "rate_limit"},
		{"per-call timeout", &privacyerr.ConnectorError{Err: context.DeadlineExceeded}, "timeout"},
		{"connector", &privacyerr.ConnectorError{Err: errors.New("refused")}, "connector"},
		{"other", errors.New("x"), "other"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errorType(tc.err))
		})
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Finished(nodeid.Root, node.StatusComplete)
		m.RecordCall("db", "query", time.Second, nil)
		m.RequestStarted()
		m.RequestFinished("access", "complete", time.Second)
		m.RecordCheckpointHits(3)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordCall("app_db", "query", 10*time.Millisecond, nil)
	m.RequestStarted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `privacyflow_connector_calls_total{connection="app_db",op="query",outcome="ok"} 1`)
	assert.Contains(t, body, "privacyflow_requests_active 1")
}
