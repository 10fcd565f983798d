package collector

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightflo/perfmon/pkg/alert"
	"github.com/insightflo/perfmon/pkg/types"
)

type fakeTransport struct {
	mu      sync.Mutex
	events  []types.AnalyticsEvent
	flushes int
	panics  bool
}

func (f *fakeTransport) Enqueue(e types.AnalyticsEvent) {
	if f.panics {
		panic("transport exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeTransport) FlushAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func (f *fakeTransport) Events() []types.AnalyticsEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.AnalyticsEvent(nil), f.events...)
}

type staticMemory struct {
	detail types.MemoryDetail
	err    error
}

func (m staticMemory) ReadMemory(context.Context) (types.MemoryDetail, error) {
	return m.detail, m.err
}

func fullSampling() types.CollectorConfig {
	cfg := types.DefaultCollectorConfig()
	cfg.SampleRate = 1
	cfg.AggregationInterval = time.Hour
	cfg.TransmissionInterval = time.Hour
	cfg.MemoryInterval = 0
	return cfg
}

func newInitialized(t *testing.T, cfg types.CollectorConfig, deps Deps) *Collector {
	t.Helper()
	c := New(cfg, deps)
	require.NoError(t, c.Initialize(context.Background()))
	t.Cleanup(c.Dispose)
	return c
}

func TestSamplingRateConverges(t *testing.T) {
	cfg := types.DefaultCollectorConfig()
	rng := rand.New(rand.NewSource(7))
	c := newInitialized(t, cfg, Deps{Rand: rng.Float64})

	const n = 20000
	for i := 0; i < n; i++ {
		c.RecordCustomMetric(context.Background(), "tick", 1, types.MetricUI, nil)
	}

	accepted := testutil.ToFloat64(c.metrics.points.WithLabelValues("accepted"))
	sampledOut := testutil.ToFloat64(c.metrics.points.WithLabelValues("sampled_out"))
	assert.Equal(t, float64(n), accepted+sampledOut)
	assert.InDelta(t, 0.1, accepted/n, 0.01)
	assert.Equal(t, cfg.BufferCapacity, len(c.Snapshot()))
}

func TestNonFinitePointsAreDropped(t *testing.T) {
	transport := &fakeTransport{}
	c := newInitialized(t, fullSampling(), Deps{Transport: transport})

	c.RecordCustomMetric(context.Background(), "GET /feed", 12, types.MetricAPI, nil)
	c.RecordCustomMetric(context.Background(), "GET /feed", math.NaN(), types.MetricAPI, nil)
	c.RecordCustomMetric(context.Background(), "GET /feed", math.Inf(1), types.MetricAPI, nil)
	c.RecordMetricData(context.Background(), types.NewDataPoint(types.MetricUI, "frame", math.Inf(-1), nil))

	assert.Equal(t, 3.0, testutil.ToFloat64(c.metrics.points.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.points.WithLabelValues("accepted")))
	require.Len(t, c.Snapshot(), 1)

	stats, err := c.SeriesStatistics("api", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 12.0, stats.Max)

	c.Transmit(context.Background())
	events := transport.Events()
	require.Len(t, events, 1)
	assert.Equal(t, 12.0, events[0].Value())
}

func TestSlowQueryRaisesOneCriticalAlert(t *testing.T) {
	alerter := alert.NewAlerter(types.DefaultAlertConfig())
	alerts, cancel := alerter.Subscribe(4)
	defer cancel()
	c := newInitialized(t, fullSampling(), Deps{Alerter: alerter})

	point := types.NewDatabasePoint("SELECT * FROM articles", 600*time.Millisecond,
		types.DatabaseDetail{Table: "articles", Rows: 20})
	c.RecordMetricData(context.Background(), point)
	c.RecordMetricData(context.Background(), point)

	select {
	case event := <-alerts:
		assert.Equal(t, types.SeverityCritical, event.Severity)
		assert.Equal(t, "database", event.Metric)
		assert.Contains(t, event.Message, "500")
		assert.Contains(t, event.Message, "database")
	case <-time.After(time.Second):
		t.Fatal("no alert emitted")
	}
	assert.Len(t, alerter.Recent(), 1)

	s, ok := c.Series("database")
	require.True(t, ok)
	assert.Equal(t, 2, s.Len())
}

func TestInitializeIsIdempotent(t *testing.T) {
	c := New(fullSampling(), Deps{})
	require.NoError(t, c.Initialize(context.Background()))
	require.NoError(t, c.Initialize(context.Background()))

	assert.Equal(t, StateCollecting, c.State())
	assert.Equal(t, []string{"api", "database", "memory", "startup", "ui"}, c.SeriesNames())

	c.Dispose()
	assert.ErrorIs(t, c.Initialize(context.Background()), types.ErrCollectorDisposed)
}

func TestPointsIgnoredUnlessCollecting(t *testing.T) {
	c := New(fullSampling(), Deps{})
	c.RecordCustomMetric(context.Background(), "early", 1, types.MetricAPI, nil)
	assert.Empty(t, c.Snapshot())

	require.NoError(t, c.Initialize(context.Background()))
	defer c.Dispose()

	c.Pause()
	assert.Equal(t, StatePaused, c.State())
	c.RecordCustomMetric(context.Background(), "paused", 1, types.MetricAPI, nil)
	assert.Empty(t, c.Snapshot())

	c.Resume()
	c.RecordCustomMetric(context.Background(), "resumed", 1, types.MetricAPI, map[string]any{"endpoint": "/feed"})
	snapshot := c.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "resumed", snapshot[0].Name)
	assert.Equal(t, "/feed", snapshot[0].Metadata["endpoint"])
	assert.Equal(t, 2.0, testutil.ToFloat64(c.metrics.points.WithLabelValues("rejected")))
}

func TestTransmitDrainsBuffer(t *testing.T) {
	transport := &fakeTransport{}
	c := newInitialized(t, fullSampling(), Deps{Transport: transport})

	for _, v := range []float64{10, 20, 30} {
		c.RecordCustomMetric(context.Background(), "GET /feed", v, types.MetricAPI, nil)
	}
	c.Transmit(context.Background())

	events := transport.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "performance_metric", events[0].Name)
	assert.Equal(t, "api", events[0].Properties["metric_type"])
	assert.Equal(t, 30.0, events[2].Value())
	assert.Equal(t, 1, transport.flushes)
	assert.Empty(t, c.Snapshot())

	c.Transmit(context.Background())
	assert.Equal(t, 1, transport.flushes)
}

func TestAggregateEmitsSummaries(t *testing.T) {
	transport := &fakeTransport{}
	c := newInitialized(t, fullSampling(), Deps{Transport: transport})

	c.RecordCustomMetric(context.Background(), "q", 10, types.MetricDatabase, nil)
	c.RecordCustomMetric(context.Background(), "q", 30, types.MetricDatabase, nil)
	c.Aggregate(context.Background())

	events := transport.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "performance_summary", events[0].Name)
	assert.Equal(t, "database", events[0].Properties["metric_type"])
	assert.Equal(t, 2, events[0].Properties["count"])
	assert.Equal(t, 20.0, events[0].Value())
}

func TestFailuresAreContained(t *testing.T) {
	transport := &fakeTransport{panics: true}
	c := newInitialized(t, fullSampling(), Deps{Transport: transport})

	c.RecordCustomMetric(context.Background(), "q", 10, types.MetricDatabase, nil)
	assert.NotPanics(t, func() { c.Transmit(context.Background()) })
	assert.NotPanics(t, func() { c.Aggregate(context.Background()) })

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.taskFailures.WithLabelValues("transmit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.taskFailures.WithLabelValues("aggregate")))
}

func TestMemorySampling(t *testing.T) {
	cfg := fullSampling()
	cfg.MemoryInterval = 10 * time.Millisecond
	reader := staticMemory{detail: types.MemoryDetail{RSSBytes: 300 * 1024 * 1024, SystemUsedPercent: 42}}
	c := newInitialized(t, cfg, Deps{MemoryReader: reader})

	s, ok := c.Series("memory")
	require.True(t, ok)
	require.Eventually(t, func() bool { return s.Len() > 0 }, 2*time.Second, 5*time.Millisecond)

	point := s.History()[0]
	assert.Equal(t, 300.0, point.Value)
	assert.Equal(t, types.MemoryDetail{RSSBytes: 300 * 1024 * 1024, SystemUsedPercent: 42}, point.Detail)
}

func TestMemorySampleFailureIsLogged(t *testing.T) {
	c := newInitialized(t, fullSampling(), Deps{MemoryReader: staticMemory{err: errors.New("permission denied")}})

	assert.NotPanics(t, func() { c.sampleMemory(context.Background()) })
	assert.Empty(t, c.Snapshot())
}

func TestDisposeClosesStreams(t *testing.T) {
	c := New(fullSampling(), Deps{})
	var states []State
	c.OnStateChange(func(s State) { states = append(states, s) })
	require.NoError(t, c.Initialize(context.Background()))

	points, _ := c.Subscribe(1)
	c.Dispose()
	c.Dispose()

	_, open := <-points
	assert.False(t, open)
	assert.Equal(t, StateDisposed, c.State())
	assert.Equal(t, []State{StateCollecting, StateDisposed}, states)

	c.RecordCustomMetric(context.Background(), "late", 1, types.MetricUI, nil)
	assert.Empty(t, c.Snapshot())
}

func TestSeriesStatistics(t *testing.T) {
	c := newInitialized(t, fullSampling(), Deps{})

	for _, v := range []float64{10, 20, 30, 40} {
		c.RecordCustomMetric(context.Background(), "frame", v, types.MetricUI, nil)
	}
	stats, err := c.SeriesStatistics("ui", 0)
	require.NoError(t, err)
	assert.Equal(t, 25.0, stats.Median)
	assert.Equal(t, 4, stats.Count)

	_, err = c.SeriesStatistics("gpu", 0)
	assert.ErrorIs(t, err, types.ErrUnknownSeries)
}

func TestCollectorMetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newInitialized(t, fullSampling(), Deps{Registerer: reg})
	c.RecordCustomMetric(context.Background(), "x", 1, types.MetricAPI, nil)

	count, err := testutil.GatherAndCount(reg, "perfmon_collector_points_total", "perfmon_collector_state")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, float64(StateCollecting), testutil.ToFloat64(c.metrics.state))
}

func TestSampler(t *testing.T) {
	always := NewSampler(1, func() float64 { return 0.999 })
	never := NewSampler(0, func() float64 { return 0 })
	half := NewSampler(0.5, func() float64 { return 0.25 })

	assert.True(t, always.Sample())
	assert.False(t, never.Sample())
	assert.True(t, half.Sample())
	assert.False(t, NewSampler(0.5, func() float64 { return 0.75 }).Sample())
}

func TestSamplerSerializesRandomSource(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	calls := 0
	sampler := NewSampler(0.5, func() float64 {
		calls++
		return rng.Float64()
	})

	const workers, perWorker = 8, 500
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := 0
			for j := 0; j < perWorker; j++ {
				if sampler.Sample() {
					n++
				}
			}
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*perWorker, calls)
	assert.InDelta(t, 0.5, float64(total)/float64(workers*perWorker), 0.05)
}
