package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstancesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.IncShardReadFailure("body")
	b.IncShardReadFailure("body")
	b.IncShardReadFailure("body")

	assert.Equal(t, 1.0, counterValue(t, a.ShardReadFailures.WithLabelValues("body")))
	assert.Equal(t, 2.0, counterValue(t, b.ShardReadFailures.WithLabelValues("body")))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, c.Write(&out))
	return out.GetCounter().GetValue()
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTermFetch("body", "ok", time.Millisecond)
		m.IncPartialResult("body")
		m.ObserveShardRead("body", "ok", time.Millisecond)
		m.IncCache(true)
		m.SetActiveShards("body", 3)
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.SetActiveShards("title", 4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `active_shards{index="title"} 4`))
}

func TestServeExposesRegistryUntilCancelled(t *testing.T) {
	m := New()
	m.IncShardReadFailure("title")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `index="title"`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
