package series

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightflo/perfmon/pkg/types"
)

type alertCall struct {
	metric    string
	value     float64
	threshold string
	severity  types.Severity
}

type recordingAlerter struct {
	mu    sync.Mutex
	calls []alertCall
}

func (r *recordingAlerter) TriggerAlert(_ context.Context, metric string, data types.MetricDataPoint, threshold types.Threshold, severity types.Severity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, alertCall{metric, data.Value, threshold.Name, severity})
	return true
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func point(value float64) types.MetricDataPoint {
	return types.MetricDataPoint{Type: types.MetricDatabase, Name: "select_articles", Value: value}
}

func TestStatisticsEmpty(t *testing.T) {
	s := New("database")
	assert.Equal(t, Statistics{}, s.Statistics(0))
	assert.Equal(t, Statistics{}, Calculate(nil))
}

func TestStatisticsMedian(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		median float64
	}{
		{"even", []float64{10, 20, 30, 40}, 25},
		{"odd", []float64{10, 20, 30}, 20},
		{"unsorted", []float64{40, 10, 30, 20}, 25},
		{"single", []float64{7}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("database")
			for _, v := range tt.values {
				s.RecordData(context.Background(), point(v))
			}
			stats := s.Statistics(0)
			assert.Equal(t, tt.median, stats.Median)
			assert.Equal(t, len(tt.values), stats.Count)
		})
	}
}

func TestStatisticsSummary(t *testing.T) {
	stats := Calculate([]float64{5, 1, 3, 2, 4})

	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 5.0, stats.Max)
	assert.Equal(t, 3.0, stats.Avg)
	assert.Equal(t, 5.0, stats.P95)
	assert.Equal(t, 5, stats.Count)
}

func TestStatisticsPeriod(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := New("api", WithClock(clock.Now))

	s.RecordData(context.Background(), point(100))
	clock.Advance(10 * time.Minute)
	s.RecordData(context.Background(), point(10))
	s.RecordData(context.Background(), point(30))

	recent := s.Statistics(5 * time.Minute)
	assert.Equal(t, 2, recent.Count)
	assert.Equal(t, 20.0, recent.Avg)

	all := s.Statistics(0)
	assert.Equal(t, 3, all.Count)
	assert.Equal(t, 100.0, all.Max)
}

func TestHistoryIsBounded(t *testing.T) {
	s := New("ui", WithMaxHistory(3))
	for i := 1; i <= 5; i++ {
		s.RecordData(context.Background(), point(float64(i)))
	}

	require.Equal(t, 3, s.Len())
	history := s.History()
	assert.Equal(t, 3.0, history[0].Value)
	assert.Equal(t, 5.0, history[2].Value)
}

func TestThresholdCriticalTakesPrecedence(t *testing.T) {
	alerter := &recordingAlerter{}
	s := New("database",
		WithAlerter(alerter),
		WithThresholds(types.Threshold{Name: "query_duration", WarningLevel: 100, CriticalLevel: 500, Enabled: true}),
	)

	breaches := s.RecordData(context.Background(), point(600))
	require.Len(t, breaches, 1)
	assert.Equal(t, types.SeverityCritical, breaches[0].Severity)
	assert.True(t, breaches[0].Alerted)

	s.RecordData(context.Background(), point(200))
	s.RecordData(context.Background(), point(50))

	require.Len(t, alerter.calls, 2)
	assert.Equal(t, alertCall{"database", 600, "query_duration", types.SeverityCritical}, alerter.calls[0])
	assert.Equal(t, alertCall{"database", 200, "query_duration", types.SeverityWarning}, alerter.calls[1])
}

func TestDisabledThresholdNeverFires(t *testing.T) {
	alerter := &recordingAlerter{}
	s := New("database",
		WithAlerter(alerter),
		WithThresholds(types.Threshold{Name: "query_duration", WarningLevel: 100, CriticalLevel: 500, Enabled: false}),
	)

	assert.Empty(t, s.RecordData(context.Background(), point(10000)))

	require.True(t, s.SetThresholdEnabled("query_duration", true))
	assert.Len(t, s.RecordData(context.Background(), point(10000)), 1)
	assert.Len(t, alerter.calls, 1)
}

func TestThresholdCheckInterval(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := New("ui",
		WithClock(clock.Now),
		WithThresholds(types.Threshold{Name: "frame_time", WarningLevel: 16, CriticalLevel: 32, CheckInterval: time.Second, Enabled: true}),
	)

	assert.Len(t, s.RecordData(context.Background(), point(40)), 1)
	clock.Advance(500 * time.Millisecond)
	assert.Empty(t, s.RecordData(context.Background(), point(40)))
	clock.Advance(600 * time.Millisecond)
	assert.Len(t, s.RecordData(context.Background(), point(40)), 1)
}

func TestThresholdManagement(t *testing.T) {
	s := New("api",
		WithThresholds(
			types.Threshold{Name: "a", WarningLevel: 1, CriticalLevel: 2, Enabled: true},
			types.Threshold{Name: "b", WarningLevel: 1, CriticalLevel: 2, Enabled: true},
		),
	)
	s.AddThreshold(types.Threshold{Name: "a", WarningLevel: 5, CriticalLevel: 6, Enabled: true})

	thresholds := s.Thresholds()
	require.Len(t, thresholds, 2)
	assert.Equal(t, "a", thresholds[0].Name)
	assert.Equal(t, 5.0, thresholds[0].WarningLevel)

	assert.True(t, s.RemoveThreshold("a"))
	assert.False(t, s.RemoveThreshold("a"))
	assert.Len(t, s.Thresholds(), 1)
}

func TestSubscribeReceivesRecordedPoints(t *testing.T) {
	s := New("memory")
	ch, cancel := s.Subscribe(2)
	defer cancel()

	s.RecordData(context.Background(), point(42))

	got := <-ch
	assert.Equal(t, 42.0, got.Value)
	assert.False(t, got.Timestamp.IsZero())

	s.Close()
	_, ok := <-ch
	assert.False(t, ok)
}
