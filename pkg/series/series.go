// Package series keeps the bounded history of one metric family and checks
// every recorded value against the family's thresholds.
package series

import (
	"context"
	"sync"
	"time"

	"github.com/insightflo/perfmon/pkg/ringbuffer"
	"github.com/insightflo/perfmon/pkg/stream"
	"github.com/insightflo/perfmon/pkg/types"
)

// DefaultMaxHistory is the history bound used when none is configured
const DefaultMaxHistory = 1000

// Alerter receives threshold breaches
type Alerter interface {
	TriggerAlert(ctx context.Context, metric string, data types.MetricDataPoint, threshold types.Threshold, severity types.Severity) bool
}

// Breach is a threshold exceeded by a recorded value
type Breach struct {
	Threshold types.Threshold
	Severity  types.Severity
	Alerted   bool
}

type thresholdState struct {
	threshold   types.Threshold
	lastChecked time.Time
}

// MetricSeries is the history and threshold set of one metric family
type MetricSeries struct {
	name       string
	history    *ringbuffer.RingBuffer[types.MetricDataPoint]
	thresholds map[string]*thresholdState
	order      []string
	alerter    Alerter
	clock      func() time.Time
	stream     *stream.Broadcaster[types.MetricDataPoint]
	mu         sync.RWMutex
}

// Option configures a MetricSeries
type Option func(*MetricSeries)

// WithMaxHistory bounds the retained history
func WithMaxHistory(n int) Option {
	return func(s *MetricSeries) {
		if n > 0 {
			s.history = ringbuffer.New[types.MetricDataPoint](n)
		}
	}
}

// WithThresholds registers thresholds at construction
func WithThresholds(thresholds ...types.Threshold) Option {
	return func(s *MetricSeries) {
		for _, t := range thresholds {
			s.addThreshold(t)
		}
	}
}

// WithAlerter sets the receiver of threshold breaches
func WithAlerter(a Alerter) Option {
	return func(s *MetricSeries) {
		s.alerter = a
	}
}

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(s *MetricSeries) {
		s.clock = clock
	}
}

// New creates a metric series
func New(name string, opts ...Option) *MetricSeries {
	s := &MetricSeries{
		name:       name,
		history:    ringbuffer.New[types.MetricDataPoint](DefaultMaxHistory),
		thresholds: make(map[string]*thresholdState),
		clock:      time.Now,
		stream:     stream.NewBroadcaster[types.MetricDataPoint](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the series name
func (s *MetricSeries) Name() string {
	return s.name
}

// RecordData appends a point, notifies subscribers and evaluates thresholds
func (s *MetricSeries) RecordData(ctx context.Context, point types.MetricDataPoint) []Breach {
	now := s.clock()
	if point.Timestamp.IsZero() {
		point.Timestamp = now
	}

	s.history.Add(point)
	s.stream.Publish(point)

	breaches := s.evaluate(point.Value, now)
	if len(breaches) == 0 {
		return nil
	}

	// Alert outside the lock, the alerter may call back into the series
	s.mu.RLock()
	alerter := s.alerter
	s.mu.RUnlock()

	if alerter != nil {
		for i := range breaches {
			breaches[i].Alerted = alerter.TriggerAlert(ctx, s.name, point, breaches[i].Threshold, breaches[i].Severity)
		}
	}
	return breaches
}

// evaluate checks all due thresholds in registration order
func (s *MetricSeries) evaluate(value float64, now time.Time) []Breach {
	s.mu.Lock()
	defer s.mu.Unlock()

	var breaches []Breach
	for _, name := range s.order {
		state := s.thresholds[name]
		if !state.threshold.Enabled {
			continue
		}
		if state.threshold.CheckInterval > 0 && !state.lastChecked.IsZero() &&
			now.Sub(state.lastChecked) < state.threshold.CheckInterval {
			continue
		}
		state.lastChecked = now

		if severity, exceeded := state.threshold.Evaluate(value); exceeded {
			breaches = append(breaches, Breach{Threshold: state.threshold, Severity: severity})
		}
	}
	return breaches
}

// AddThreshold registers or replaces a threshold
func (s *MetricSeries) AddThreshold(t types.Threshold) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addThreshold(t)
}

func (s *MetricSeries) addThreshold(t types.Threshold) {
	if _, exists := s.thresholds[t.Name]; !exists {
		s.order = append(s.order, t.Name)
	}
	s.thresholds[t.Name] = &thresholdState{threshold: t}
}

// RemoveThreshold unregisters a threshold
func (s *MetricSeries) RemoveThreshold(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.thresholds[name]; !exists {
		return false
	}
	delete(s.thresholds, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// SetThresholdEnabled toggles a threshold
func (s *MetricSeries) SetThresholdEnabled(name string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, exists := s.thresholds[name]
	if !exists {
		return false
	}
	state.threshold.Enabled = enabled
	return true
}

// Thresholds returns the registered thresholds in registration order
func (s *MetricSeries) Thresholds() []types.Threshold {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Threshold, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.thresholds[name].threshold)
	}
	return out
}

// Statistics summarizes the history within the look-back period.
// A non-positive period covers the whole history.
func (s *MetricSeries) Statistics(period time.Duration) Statistics {
	history := s.history.Items()
	cutoff := s.clock().Add(-period)

	values := make([]float64, 0, len(history))
	for _, p := range history {
		if period > 0 && p.Timestamp.Before(cutoff) {
			continue
		}
		values = append(values, p.Value)
	}
	return Calculate(values)
}

// History returns the retained points from oldest to newest
func (s *MetricSeries) History() []types.MetricDataPoint {
	return s.history.Items()
}

// Len returns the number of retained points
func (s *MetricSeries) Len() int {
	return s.history.Len()
}

// Subscribe streams every recorded point
func (s *MetricSeries) Subscribe(buffer int) (<-chan types.MetricDataPoint, func()) {
	return s.stream.Subscribe(buffer)
}

// Close closes subscriber streams
func (s *MetricSeries) Close() {
	s.stream.Close()
}
