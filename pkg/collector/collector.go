// Package collector samples performance data points, routes them to their
// metric series and periodically aggregates and transmits them.
package collector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/insightflo/perfmon/pkg/ringbuffer"
	"github.com/insightflo/perfmon/pkg/series"
	"github.com/insightflo/perfmon/pkg/stream"
	"github.com/insightflo/perfmon/pkg/types"
)

// State is the lifecycle state of a Collector
type State int

const (
	StateUninitialized State = iota
	StateCollecting
	StatePaused
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCollecting:
		return "collecting"
	case StatePaused:
		return "paused"
	case StateDisposed:
		return "disposed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Transport receives analytics events produced by the collector
type Transport interface {
	Enqueue(event types.AnalyticsEvent)
	FlushAll(ctx context.Context) error
}

// Deps are the collaborators of a Collector. Every field is optional.
type Deps struct {
	Alerter      series.Alerter
	Transport    Transport
	Registerer   prometheus.Registerer
	MemoryReader MemoryReader
	// Rand feeds the sampler. Calls are serialized by the sampler, so a
	// non thread-safe source such as rand.New(...).Float64 is fine.
	Rand         func() float64
	Clock        func() time.Time
}

// Collector is the entry point producers record into
type Collector struct {
	cfg     types.CollectorConfig
	deps    Deps
	sampler *Sampler
	clock   func() time.Time

	mu        sync.RWMutex
	state     State
	series    map[string]*series.MetricSeries
	listeners []func(State)

	buffer *ringbuffer.RingBuffer[types.MetricDataPoint]
	stream *stream.Broadcaster[types.MetricDataPoint]

	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics *telemetry
	logger  *log.Entry
}

// New creates a collector. Nothing runs until Initialize.
func New(cfg types.CollectorConfig, deps Deps) *Collector {
	defaults := types.DefaultCollectorConfig()
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = defaults.BufferCapacity
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaults.HistorySize
	}
	if cfg.AggregationInterval <= 0 {
		cfg.AggregationInterval = defaults.AggregationInterval
	}
	if cfg.TransmissionInterval <= 0 {
		cfg.TransmissionInterval = defaults.TransmissionInterval
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = types.DefaultThresholds()
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	c := &Collector{
		cfg:     cfg,
		deps:    deps,
		sampler: NewSampler(cfg.SampleRate, deps.Rand),
		clock:   clock,
		series:  make(map[string]*series.MetricSeries),
		buffer:  ringbuffer.New[types.MetricDataPoint](cfg.BufferCapacity),
		stream:  stream.NewBroadcaster[types.MetricDataPoint](),
		metrics: newTelemetry(),
		logger:  log.WithField("component", "collector"),
	}
	c.metrics.register(deps.Registerer)
	return c
}

// Initialize registers the built-in series and starts the periodic
// aggregation, transmission and memory tasks. Calling it again is a no-op.
func (c *Collector) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateDisposed:
		return types.ErrCollectorDisposed
	case StateCollecting, StatePaused:
		return nil
	}

	for _, metricType := range types.MetricTypes {
		name := string(metricType)
		if _, exists := c.series[name]; exists {
			continue
		}
		c.series[name] = c.newSeries(name, c.cfg.Thresholds[metricType])
	}

	taskCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.startTask(taskCtx, "aggregate", c.cfg.AggregationInterval, c.Aggregate)
	c.startTask(taskCtx, "transmit", c.cfg.TransmissionInterval, c.Transmit)
	if c.cfg.MemoryInterval > 0 && c.deps.MemoryReader != nil {
		c.startTask(taskCtx, "memory", c.cfg.MemoryInterval, c.sampleMemory)
	}

	c.setStateLocked(StateCollecting)
	c.logger.WithFields(log.Fields{
		"sample_rate":     c.cfg.SampleRate,
		"buffer_capacity": c.cfg.BufferCapacity,
		"series":          len(c.series),
	}).Info("Collector initialized")
	return nil
}

func (c *Collector) newSeries(name string, thresholds []types.Threshold) *series.MetricSeries {
	opts := []series.Option{
		series.WithMaxHistory(c.cfg.HistorySize),
		series.WithThresholds(thresholds...),
		series.WithClock(c.clock),
	}
	if c.deps.Alerter != nil {
		opts = append(opts, series.WithAlerter(c.deps.Alerter))
	}
	return series.New(name, opts...)
}

func (c *Collector) startTask(ctx context.Context, op string, interval time.Duration, fn func(context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.runGuarded(op, func() { fn(ctx) })
			}
		}
	}()
}

// runGuarded keeps a failing task from taking the host down
func (c *Collector) runGuarded(op string, fn func()) {
	defer c.recoverAndLog(op)
	fn()
}

func (c *Collector) recoverAndLog(op string) {
	if r := recover(); r != nil {
		c.metrics.taskFailures.WithLabelValues(op).Inc()
		c.logger.WithFields(log.Fields{
			"op":    op,
			"panic": r,
		}).Error("Recovered from collector failure")
	}
}

// RecordMetricData samples a point and, if kept, buffers it, streams it
// and records it in its series. Points are ignored unless collecting and
// points with a NaN or infinite value are dropped.
func (c *Collector) RecordMetricData(ctx context.Context, point types.MetricDataPoint) {
	defer c.recoverAndLog("record")

	c.mu.RLock()
	state := c.state
	s := c.series[string(point.Type)]
	c.mu.RUnlock()

	if state != StateCollecting {
		c.metrics.points.WithLabelValues("rejected").Inc()
		return
	}
	if math.IsNaN(point.Value) || math.IsInf(point.Value, 0) {
		c.metrics.points.WithLabelValues("invalid").Inc()
		c.logger.WithFields(log.Fields{
			"metric_type": point.Type,
			"name":        point.Name,
		}).Warn("Dropping point with non-finite value")
		return
	}
	if !c.sampler.Sample() {
		c.metrics.points.WithLabelValues("sampled_out").Inc()
		return
	}

	if point.Timestamp.IsZero() {
		point.Timestamp = c.clock()
	}
	c.buffer.Add(point)
	c.metrics.bufferSize.Set(float64(c.buffer.Len()))
	c.stream.Publish(point)

	if s != nil {
		s.RecordData(ctx, point)
	}
	c.metrics.points.WithLabelValues("accepted").Inc()
}

// RecordCustomMetric records a named value in the given family
func (c *Collector) RecordCustomMetric(ctx context.Context, name string, value float64, metricType types.MetricType, metadata map[string]any) {
	c.RecordMetricData(ctx, types.NewDataPoint(metricType, name, value, metadata))
}

// RegisterSeries adds or replaces a series. Points are routed to the
// series whose name equals their metric type.
func (c *Collector) RegisterSeries(s *series.MetricSeries) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series[s.Name()] = s
}

// Series looks up a series by name
func (c *Collector) Series(name string) (*series.MetricSeries, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.series[name]
	return s, ok
}

// SeriesNames returns the registered series names in sorted order
func (c *Collector) SeriesNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.series))
	for name := range c.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SeriesStatistics summarizes a series over the look-back period
func (c *Collector) SeriesStatistics(name string, period time.Duration) (series.Statistics, error) {
	s, ok := c.Series(name)
	if !ok {
		return series.Statistics{}, fmt.Errorf("%w: %s", types.ErrUnknownSeries, name)
	}
	return s.Statistics(period), nil
}

// Snapshot returns the buffered points from oldest to newest
func (c *Collector) Snapshot() []types.MetricDataPoint {
	return c.buffer.Items()
}

// Subscribe streams every accepted point
func (c *Collector) Subscribe(buffer int) (<-chan types.MetricDataPoint, func()) {
	return c.stream.Subscribe(buffer)
}

// OnStateChange registers a callback run after every state transition.
// Callbacks run under the collector lock and must not call back into it.
func (c *Collector) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// State returns the current lifecycle state
func (c *Collector) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Collector) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.metrics.state.Set(float64(s))
	for _, fn := range c.listeners {
		fn(s)
	}
}

// Pause stops accepting points until Resume
func (c *Collector) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCollecting {
		c.setStateLocked(StatePaused)
		c.logger.Info("Collector paused")
	}
}

// Resume accepts points again after Pause
func (c *Collector) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePaused {
		c.setStateLocked(StateCollecting)
		c.logger.Info("Collector resumed")
	}
}

// Dispose stops the periodic tasks and closes every stream. The collector
// cannot be used afterwards; further calls are no-ops.
func (c *Collector) Dispose() {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateDisposed)
	cancel := c.cancel
	all := make([]*series.MetricSeries, 0, len(c.series))
	for _, s := range c.series {
		all = append(all, s)
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.stream.Close()
	for _, s := range all {
		s.Close()
	}
	c.logger.Info("Collector disposed")
}

// Aggregate computes statistics for the last aggregation interval of every
// series and forwards a summary event for each non-empty one.
func (c *Collector) Aggregate(ctx context.Context) {
	defer c.recoverAndLog("aggregate")

	for _, name := range c.SeriesNames() {
		s, ok := c.Series(name)
		if !ok {
			continue
		}
		stats := s.Statistics(c.cfg.AggregationInterval)
		if stats.Count == 0 {
			continue
		}

		c.logger.WithFields(log.Fields{
			"series": name,
			"count":  stats.Count,
			"avg":    stats.Avg,
			"p95":    stats.P95,
			"max":    stats.Max,
		}).Debug("Aggregated series")

		if c.deps.Transport == nil {
			continue
		}
		c.deps.Transport.Enqueue(types.AnalyticsEvent{
			Name: "performance_summary",
			Type: types.EventPerformance,
			Properties: map[string]any{
				"metric_type":    name,
				"count":          stats.Count,
				"min":            stats.Min,
				"max":            stats.Max,
				"avg":            stats.Avg,
				"median":         stats.Median,
				"p95":            stats.P95,
				"p99":            stats.P99,
				"value":          stats.Avg,
				"period_seconds": c.cfg.AggregationInterval.Seconds(),
			},
			Timestamp: c.clock(),
		})
	}
}

// Transmit drains the ring buffer into analytics events and flushes them
func (c *Collector) Transmit(ctx context.Context) {
	defer c.recoverAndLog("transmit")

	if c.deps.Transport == nil {
		return
	}
	points := c.buffer.Drain()
	c.metrics.bufferSize.Set(0)
	if len(points) == 0 {
		return
	}

	for _, p := range points {
		c.deps.Transport.Enqueue(types.PointEvent(p))
	}
	if err := c.deps.Transport.FlushAll(ctx); err != nil {
		c.logger.WithError(err).WithField("points", len(points)).Warn("Transmission incomplete")
		return
	}
	c.logger.WithField("points", len(points)).Debug("Transmitted buffered points")
}

func (c *Collector) sampleMemory(ctx context.Context) {
	detail, err := c.deps.MemoryReader.ReadMemory(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Memory sample failed")
		return
	}
	c.RecordMetricData(ctx, types.NewMemoryPoint(detail))
}
