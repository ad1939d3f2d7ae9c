// internal/metrics/sink_test.go
package metrics

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink_Counter(t *testing.T) {
	sink := NewSink()
	counter := sink.Counter("probe_requests", "probe requests", "scenario", "target_rps")

	t.Run("declaring twice returns the same counter", func(t *testing.T) {
		assert.Same(t, counter, sink.Counter("probe_requests", "ignored"))
	})

	t.Run("adds per series and mirrors into prometheus", func(t *testing.T) {
		counter.Inc(Labels{"scenario": "probe_10", "target_rps": "10"})
		counter.Inc(Labels{"scenario": "probe_10", "target_rps": "10"})
		counter.Add(3, Labels{"scenario": "probe_20", "target_rps": "20"})

		assert.Equal(t, float64(2), counter.Value(Labels{"scenario": "probe_10", "target_rps": "10"}))
		assert.Equal(t, float64(2), testutil.ToFloat64(counter.Vec().WithLabelValues("probe_10", "10")))
		assert.Equal(t, float64(3), testutil.ToFloat64(counter.Vec().WithLabelValues("probe_20", "20")))
	})

	t.Run("ignores undeclared labels and negative values", func(t *testing.T) {
		counter.Add(-1, Labels{"scenario": "probe_20", "target_rps": "20"})
		counter.Inc(Labels{"scenario": "probe_20", "target_rps": "20", "status": "500"})

		assert.Equal(t, float64(4), counter.Value(Labels{"scenario": "probe_20", "target_rps": "20"}))
	})
}

func TestSnapshot_FindAndTotal(t *testing.T) {
	// Arrange
	sink := NewSink()
	requests := sink.Counter("progress_requests", "", "scenario", "target_rps")
	failures := sink.Counter("progress_write_failures", "", "scenario", "target_rps", "status")
	requests.Add(100, Labels{"scenario": "probe_100", "target_rps": "100"})
	requests.Add(40, Labels{"scenario": "probe_200", "target_rps": "200"})
	failures.Inc(Labels{"scenario": "progress_write", "target_rps": "500", "status": "500"})
	failures.Add(2, Labels{"scenario": "progress_write", "target_rps": "500", "status": "error"})

	// Act
	snap := sink.Snapshot()

	// Assert
	t.Run("bare name aggregates every series", func(t *testing.T) {
		v, ok := snap.Get("progress_requests")
		require.True(t, ok)
		assert.Equal(t, int64(140), v.Count)
	})

	t.Run("find by scenario tag", func(t *testing.T) {
		v, ok := snap.Find("progress_requests", "probe_200")
		require.True(t, ok)
		assert.Equal(t, int64(40), v.Count)
	})

	t.Run("find merges series split by status", func(t *testing.T) {
		v, ok := snap.Find("progress_write_failures", "progress_write")
		require.True(t, ok)
		assert.Equal(t, int64(3), v.Count)
	})

	t.Run("unknown scenario is not found", func(t *testing.T) {
		_, ok := snap.Find("progress_requests", "probe_999")
		assert.False(t, ok)
	})

	t.Run("total with filter", func(t *testing.T) {
		v, ok := snap.Total("progress_write_failures", map[string]string{"status": "error"})
		require.True(t, ok)
		assert.Equal(t, int64(2), v.Count)
	})

	t.Run("type is recorded", func(t *testing.T) {
		assert.Equal(t, TypeCounter, snap.Type("progress_requests"))
	})
}

func TestRate(t *testing.T) {
	sink := NewSink()
	failed := sink.Rate(HTTPReqFailed, "", "stage")

	for i := 0; i < 9; i++ {
		failed.Add(false, Labels{"stage": "probe"})
	}
	failed.Add(true, Labels{"stage": "probe"})
	failed.Add(true, Labels{"stage": "warmup"})

	snap := sink.Snapshot()

	probe, ok := snap.Total(HTTPReqFailed, map[string]string{"stage": "probe"})
	require.True(t, ok)
	assert.Equal(t, int64(10), probe.Count)
	assert.InDelta(t, 0.1, probe.Rate, 1e-9)

	all, _ := snap.Get(HTTPReqFailed)
	assert.Equal(t, int64(11), all.Count)
	assert.InDelta(t, 2.0/11.0, all.Rate, 1e-9)
}

func TestTrend(t *testing.T) {
	sink := NewSink()
	trend := sink.Trend(EndpointDuration, "", nil, "endpoint")

	for i := 1; i <= 100; i++ {
		trend.Observe(float64(i), Labels{"endpoint": "GET /trails/"})
	}

	v, ok := sink.Snapshot().Get("endpoint_duration_ms{endpoint:GET /trails/}")
	require.True(t, ok)
	assert.Equal(t, int64(100), v.Count)
	assert.Equal(t, float64(1), v.Min)
	assert.Equal(t, float64(100), v.Max)
	assert.InDelta(t, 50.5, v.Avg, 1e-9)
	assert.InDelta(t, 95.05, v.P95, 1e-9)
	assert.InDelta(t, 99.01, v.P99, 1e-9)
}

func TestSink_SnapshotOf(t *testing.T) {
	// Arrange
	sink := NewSink()
	failed := sink.Rate(HTTPReqFailed, "", "stage")
	duration := sink.Trend(HTTPReqDuration, "", nil, "stage")
	failed.Add(true, Labels{"stage": "probe"})
	failed.Add(false, Labels{"stage": "probe"})
	duration.Observe(12, Labels{"stage": "probe"})

	// Act
	snap := sink.SnapshotOf(HTTPReqFailed, HTTPReqFailed, "undeclared")

	// Assert
	probe, ok := snap.Total(HTTPReqFailed, map[string]string{"stage": "probe"})
	require.True(t, ok)
	assert.InDelta(t, 0.5, probe.Rate, 1e-9)
	assert.Equal(t, TypeRate, snap.Type(HTTPReqFailed))
	assert.Empty(t, snap.Type(HTTPReqDuration))
	_, ok = snap.Get(HTTPReqDuration)
	assert.False(t, ok, "trends not named are not aggregated")
}

func TestTrend_ObserveDuringSnapshot(t *testing.T) {
	sink := NewSink()
	trend := sink.Trend(HTTPReqDuration, "", nil, "stage")
	for i := 0; i < 10000; i++ {
		trend.Observe(float64(i), Labels{"stage": "probe"})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			trend.Observe(1, Labels{"stage": "probe"})
		}
	}()
	for i := 0; i < 20; i++ {
		_ = sink.Snapshot()
	}
	<-done

	v, ok := sink.Snapshot().Get(HTTPReqDuration)
	require.True(t, ok)
	assert.Equal(t, int64(11000), v.Count)
}

func TestSnapshot_MarshalJSON(t *testing.T) {
	sink := NewSink()
	sink.Counter(DataReceived, "", "scenario").Add(2048, Labels{"scenario": "trails_list"})

	data, err := json.Marshal(sink.Snapshot())
	require.NoError(t, err)

	var decoded map[string]Values
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(2048), decoded["data_received"].Sum)
	assert.Contains(t, decoded, "data_received{scenario:trails_list}")
}

func TestSink_Handler(t *testing.T) {
	sink := NewSink()
	NewHTTP(sink).Reqs.Inc(Labels{"scenario": "trails_list", "stage": "load", "class": "read", "endpoint": "GET /trails/"})

	srv := httptest.NewServer(sink.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `http_reqs{class="read",endpoint="GET /trails/",scenario="trails_list",stage="load"} 1`)
}
