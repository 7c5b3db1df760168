// ABOUTME: Tests for the Prometheus instruments and exposition handler
// ABOUTME: Uses testutil to read counter values directly from the registry

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.TurnFinished("completed")
	m.TurnFinished("completed")
	m.TurnFinished("error")
	m.MalformedFrames(3)
	m.MalformedFrames(0)
	m.StreamError("timeout")
	m.ItemAppended("user")
	m.BroadcastDropped()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turnsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turnsTotal.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.malformedFrames))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamErrors.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.itemsAppended.WithLabelValues("user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcastsDropped))
}

func TestMetrics_StreamGauge(t *testing.T) {
	m := New()

	done := m.StreamStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeStreams))

	done("completed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeStreams))
	assert.Equal(t, 1, testutil.CollectAndCount(m.streamDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.TurnFinished("completed")
		m.StreamStarted()("completed")
		m.FirstDelta(0)
		m.MalformedFrames(1)
		m.StreamError("store")
		m.ItemAppended("assistant")
		m.BroadcastDropped()
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ItemAppended("assistant")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `endobot_items_appended_total{role="assistant"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
