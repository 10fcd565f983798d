package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightflo/perfmon/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingForwarder struct {
	mu     sync.Mutex
	events []types.AnalyticsEvent
}

func (f *recordingForwarder) Enqueue(event types.AnalyticsEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

type failingStore struct{}

func (failingStore) Acquire(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingStore) Reset(context.Context) error { return nil }

var queryThreshold = types.Threshold{Name: "query_duration", WarningLevel: 100, CriticalLevel: 500, Enabled: true}

func slowQuery(ms float64) types.MetricDataPoint {
	return types.MetricDataPoint{Type: types.MetricDatabase, Name: "SELECT * FROM articles", Value: ms}
}

func TestTriggerAlertRespectsCooldown(t *testing.T) {
	clock := newFakeClock()
	a := NewAlerter(types.AlertConfig{Cooldown: 5 * time.Minute}, WithClock(clock.Now))
	ctx := context.Background()

	assert.True(t, a.TriggerAlert(ctx, "database", slowQuery(600), queryThreshold, types.SeverityCritical))
	assert.False(t, a.TriggerAlert(ctx, "database", slowQuery(700), queryThreshold, types.SeverityCritical))
	require.Len(t, a.Recent(), 1)

	clock.Advance(5*time.Minute + time.Second)
	assert.True(t, a.TriggerAlert(ctx, "database", slowQuery(800), queryThreshold, types.SeverityCritical))

	recent := a.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, 600.0, recent[0].Data.Value)
	assert.Equal(t, 800.0, recent[1].Data.Value)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.suppressedTotal))
}

func TestCooldownIsPerMetricAndThreshold(t *testing.T) {
	a := NewAlerter(types.AlertConfig{Cooldown: time.Hour})
	ctx := context.Background()
	other := types.Threshold{Name: "rows_scanned", WarningLevel: 1, CriticalLevel: 2, Enabled: true}

	assert.True(t, a.TriggerAlert(ctx, "database", slowQuery(600), queryThreshold, types.SeverityCritical))
	assert.True(t, a.TriggerAlert(ctx, "database", slowQuery(600), other, types.SeverityCritical))
	assert.True(t, a.TriggerAlert(ctx, "api", slowQuery(600), queryThreshold, types.SeverityCritical))
	assert.False(t, a.TriggerAlert(ctx, "api", slowQuery(600), queryThreshold, types.SeverityWarning))
}

func TestAlertEventContent(t *testing.T) {
	clock := newFakeClock()
	a := NewAlerter(types.DefaultAlertConfig(), WithClock(clock.Now))
	events, cancel := a.Subscribe(1)
	defer cancel()

	a.TriggerAlert(context.Background(), "database", slowQuery(600), queryThreshold, types.SeverityCritical)

	event := <-events
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "database", event.Metric)
	assert.Equal(t, types.SeverityCritical, event.Severity)
	assert.Equal(t, clock.Now(), event.Timestamp)
	assert.Contains(t, event.Message, "database")
	assert.Contains(t, event.Message, "500")
	assert.Contains(t, event.Message, "critical")
}

func TestTriggerAlertForwardsSummary(t *testing.T) {
	forwarder := &recordingForwarder{}
	a := NewAlerter(types.DefaultAlertConfig(), WithForwarder(forwarder))

	a.TriggerAlert(context.Background(), "database", slowQuery(250), queryThreshold, types.SeverityWarning)

	require.Len(t, forwarder.events, 1)
	event := forwarder.events[0]
	assert.Equal(t, "performance_alert", event.Name)
	assert.Equal(t, types.EventAlert, event.Type)
	assert.Equal(t, "warning", event.Properties["severity"])
	assert.Equal(t, 250.0, event.Value())
	assert.Equal(t, 100.0, event.Properties["level"])
}

func TestSinkFailureDoesNotStopOtherSinks(t *testing.T) {
	var handled []string
	failing := SinkFunc(func(context.Context, types.AlertEvent) error {
		return errors.New("sink down")
	})
	recording := SinkFunc(func(_ context.Context, e types.AlertEvent) error {
		handled = append(handled, e.ID)
		return nil
	})
	a := NewAlerter(types.DefaultAlertConfig(), WithSinks(failing, recording))

	assert.True(t, a.TriggerAlert(context.Background(), "database", slowQuery(600), queryThreshold, types.SeverityCritical))
	assert.Len(t, handled, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.sinkErrors.WithLabelValues("custom")))
}

func TestCooldownStoreFailureStillAlerts(t *testing.T) {
	a := NewAlerter(types.DefaultAlertConfig(), WithCooldownStore(failingStore{}))

	assert.True(t, a.TriggerAlert(context.Background(), "database", slowQuery(600), queryThreshold, types.SeverityCritical))
	assert.Len(t, a.Recent(), 1)
}

func TestResetCooldowns(t *testing.T) {
	a := NewAlerter(types.AlertConfig{Cooldown: time.Hour})
	ctx := context.Background()

	assert.True(t, a.TriggerAlert(ctx, "database", slowQuery(600), queryThreshold, types.SeverityCritical))
	require.NoError(t, a.ResetCooldowns(ctx))
	assert.True(t, a.TriggerAlert(ctx, "database", slowQuery(600), queryThreshold, types.SeverityCritical))
}

func TestRecentIsBounded(t *testing.T) {
	a := NewAlerter(types.AlertConfig{HistorySize: 2})
	ctx := context.Background()

	for i, name := range []string{"a", "b", "c"} {
		th := types.Threshold{Name: name, WarningLevel: 1, CriticalLevel: 2, Enabled: true}
		a.TriggerAlert(ctx, "api", slowQuery(float64(i)), th, types.SeverityWarning)
	}

	recent := a.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Threshold.Name)
	assert.Equal(t, "c", recent[1].Threshold.Name)
}

func TestAlerterMetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewAlerter(types.DefaultAlertConfig(), WithRegisterer(reg))

	a.TriggerAlert(context.Background(), "database", slowQuery(600), queryThreshold, types.SeverityCritical)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.alertsTotal.WithLabelValues("critical")))
	count, err := testutil.GatherAndCount(reg, "perfmon_alerts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
