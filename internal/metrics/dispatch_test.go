package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_Counters(t *testing.T) {
	m := NewDispatch("edit_hooks")

	m.RecordRequest()
	m.RecordRequest()
	m.RecordDelivered("s1", "order_edited", 2*time.Millisecond)
	m.RecordHookFault("s1")
	m.RecordSlowHook("s2")
	m.SetQueueDepth("s1", 4)
	m.SetPending(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.requests))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.delivered.WithLabelValues("s1", "order_edited")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.hookFaults.WithLabelValues("s1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.slowHooks.WithLabelValues("s2")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.queueDepth.WithLabelValues("s1")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.pending))
}

func TestDispatch_NilReceiverIsSafe(t *testing.T) {
	var m *Dispatch
	assert.NotPanics(t, func() {
		m.RecordRequest()
		m.RecordDelivered("s1", "order_edited", time.Millisecond)
		m.RecordHookFault("s1")
		m.RecordSlowHook("s1")
		m.SetQueueDepth("s1", 1)
		m.SetPending(1)
	})
	assert.Nil(t, m.Registry())
}

func TestDispatch_HandlerExposesMetrics(t *testing.T) {
	m := NewDispatch("edit_hooks")
	m.RecordRequest()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "edit_hooks_edit_requests_total 1"))
}
