// Package alert turns threshold breaches into alert events, suppressing
// repeats of the same metric and threshold within a cooldown window.
package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/insightflo/perfmon/pkg/ringbuffer"
	"github.com/insightflo/perfmon/pkg/stream"
	"github.com/insightflo/perfmon/pkg/types"
)

// Forwarder accepts the analytics summary of an alert
type Forwarder interface {
	Enqueue(event types.AnalyticsEvent)
}

// ThresholdAlerter emits alert events with per-key cooldown
type ThresholdAlerter struct {
	cfg       types.AlertConfig
	cooldowns CooldownStore
	forwarder Forwarder
	sinks     []Sink
	recent    *ringbuffer.RingBuffer[types.AlertEvent]
	stream    *stream.Broadcaster[types.AlertEvent]
	clock     func() time.Time

	alertsTotal     *prometheus.CounterVec
	suppressedTotal prometheus.Counter
	sinkErrors      *prometheus.CounterVec

	logger *log.Entry
}

// Option configures a ThresholdAlerter
type Option func(*ThresholdAlerter)

// WithCooldownStore replaces the in-memory cooldown store
func WithCooldownStore(store CooldownStore) Option {
	return func(a *ThresholdAlerter) {
		a.cooldowns = store
	}
}

// WithForwarder sends alert summaries to analytics
func WithForwarder(f Forwarder) Option {
	return func(a *ThresholdAlerter) {
		a.forwarder = f
	}
}

// WithSinks adds alert sinks
func WithSinks(sinks ...Sink) Option {
	return func(a *ThresholdAlerter) {
		a.sinks = append(a.sinks, sinks...)
	}
}

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(a *ThresholdAlerter) {
		a.clock = clock
	}
}

// WithRegisterer registers the alerter metrics
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *ThresholdAlerter) {
		if reg != nil {
			reg.MustRegister(a.alertsTotal, a.suppressedTotal, a.sinkErrors)
		}
	}
}

// NewAlerter creates a threshold alerter
func NewAlerter(cfg types.AlertConfig, opts ...Option) *ThresholdAlerter {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = types.DefaultAlertConfig().HistorySize
	}

	a := &ThresholdAlerter{
		cfg:    cfg,
		recent: ringbuffer.New[types.AlertEvent](cfg.HistorySize),
		stream: stream.NewBroadcaster[types.AlertEvent](),
		clock:  time.Now,
		alertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfmon_alerts_total",
				Help: "Alerts emitted by severity",
			},
			[]string{"severity"},
		),
		suppressedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perfmon_alerts_suppressed_total",
			Help: "Breaches suppressed by the cooldown window",
		}),
		sinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfmon_alert_sink_errors_total",
				Help: "Alert sink failures",
			},
			[]string{"sink"},
		),
		logger: log.WithField("component", "alert"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cooldowns == nil {
		a.cooldowns = NewMemoryCooldownStore(a.clock)
	}
	return a
}

// TriggerAlert emits an alert unless the metric and threshold pair is
// inside its cooldown window. It reports whether an alert was emitted.
func (a *ThresholdAlerter) TriggerAlert(ctx context.Context, metric string, data types.MetricDataPoint, threshold types.Threshold, severity types.Severity) bool {
	key := CooldownKey(metric, threshold.Name)

	ok, err := a.cooldowns.Acquire(ctx, key, a.cfg.Cooldown)
	if err != nil {
		// Store unavailable, alert rather than lose the breach
		a.logger.WithError(err).WithField("key", key).Warn("Cooldown store failed")
		ok = true
	}
	if !ok {
		a.suppressedTotal.Inc()
		return false
	}

	event := types.AlertEvent{
		ID:        uuid.NewString(),
		Metric:    metric,
		Data:      data,
		Threshold: threshold,
		Severity:  severity,
		Timestamp: a.clock(),
		Message:   types.AlertMessage(metric, data, threshold, severity),
	}

	a.recent.Add(event)
	a.stream.Publish(event)
	a.alertsTotal.WithLabelValues(string(severity)).Inc()

	for _, sink := range a.sinks {
		if err := sink.Handle(ctx, event); err != nil {
			a.sinkErrors.WithLabelValues(sinkName(sink)).Inc()
			a.logger.WithError(err).WithField("alert_id", event.ID).Error("Alert sink failed")
		}
	}

	if a.forwarder != nil {
		a.forwarder.Enqueue(types.AnalyticsEvent{
			Name: "performance_alert",
			Type: types.EventAlert,
			Properties: map[string]any{
				"metric":    metric,
				"threshold": threshold.Name,
				"severity":  string(severity),
				"value":     data.Value,
				"level":     threshold.Level(severity),
				"message":   event.Message,
			},
			Timestamp: event.Timestamp,
		})
	}
	return true
}

// Subscribe streams emitted alerts
func (a *ThresholdAlerter) Subscribe(buffer int) (<-chan types.AlertEvent, func()) {
	return a.stream.Subscribe(buffer)
}

// Recent returns the retained alerts from oldest to newest
func (a *ThresholdAlerter) Recent() []types.AlertEvent {
	return a.recent.Items()
}

// ResetCooldowns lets every key fire again
func (a *ThresholdAlerter) ResetCooldowns(ctx context.Context) error {
	return a.cooldowns.Reset(ctx)
}

// Close closes alert subscriber streams
func (a *ThresholdAlerter) Close() {
	a.stream.Close()
}

func sinkName(s Sink) string {
	switch s.(type) {
	case *AuditSink:
		return "audit"
	case *SentrySink:
		return "sentry"
	case *LogSink:
		return "log"
	}
	return "custom"
}
