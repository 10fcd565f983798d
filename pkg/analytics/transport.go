// Package analytics batches analytics events and delivers them to a remote
// endpoint with retry, backoff and connectivity awareness.
package analytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/insightflo/perfmon/pkg/types"
)

// Transport queues analytics events and flushes them in batches.
// A full queue drops its oldest quarter. Reaching the batch size starts a
// flush immediately; otherwise a delayed flush is scheduled.
type Transport struct {
	cfg          types.TransportConfig
	sender       Sender
	connectivity *ConnectivityMonitor
	sleep        SleepFunc
	jitter       JitterFunc
	clock        func() time.Time

	mu        sync.Mutex
	queue     []types.AnalyticsEvent
	timer     *time.Timer
	flushing  bool
	closed    bool
	userID    string
	sessionID string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sentTotal    prometheus.Counter
	droppedTotal *prometheus.CounterVec
	retriesTotal prometheus.Counter
	queueSize    prometheus.Gauge

	logger *log.Entry
}

// Option configures a Transport
type Option func(*Transport)

// WithConnectivity pauses flushing while the monitor reports offline and
// forces a flush when it comes back online
func WithConnectivity(m *ConnectivityMonitor) Option {
	return func(t *Transport) {
		t.connectivity = m
	}
}

// WithSleep overrides how retry delays are waited out
func WithSleep(fn SleepFunc) Option {
	return func(t *Transport) {
		t.sleep = fn
	}
}

// WithJitter overrides the random part of retry delays
func WithJitter(fn JitterFunc) Option {
	return func(t *Transport) {
		t.jitter = fn
	}
}

// WithClock overrides the time source used to stamp events
func WithClock(clock func() time.Time) Option {
	return func(t *Transport) {
		t.clock = clock
	}
}

// WithRegisterer registers the transport metrics
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(t *Transport) {
		if reg != nil {
			reg.MustRegister(t.sentTotal, t.droppedTotal, t.retriesTotal, t.queueSize)
		}
	}
}

// NewTransport creates a transport delivering through sender
func NewTransport(cfg types.TransportConfig, sender Sender, opts ...Option) *Transport {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = types.DefaultTransportConfig().BatchSize
	}
	if cfg.MaxQueueSize < cfg.BatchSize {
		cfg.MaxQueueSize = cfg.BatchSize
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = types.DefaultTransportConfig().FlushDelay
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		cfg:       cfg,
		sender:    sender,
		sleep:     sleepContext,
		jitter:    randomJitter(cfg.Retry.MaxJitter),
		clock:     time.Now,
		queue:     make([]types.AnalyticsEvent, 0, cfg.BatchSize),
		sessionID: uuid.NewString(),
		ctx:       ctx,
		cancel:    cancel,
		sentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perfmon_analytics_events_sent_total",
			Help: "Analytics events delivered",
		}),
		droppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfmon_analytics_events_dropped_total",
				Help: "Analytics events dropped by reason",
			},
			[]string{"reason"},
		),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perfmon_analytics_retries_total",
			Help: "Retried analytics sends",
		}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perfmon_analytics_queue_size",
			Help: "Analytics events waiting for delivery",
		}),
		logger: log.WithField("component", "analytics"),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.connectivity != nil {
		t.connectivity.OnRestore(func() { t.flushAsync(true) })
	}
	return t
}

// SessionID identifies this transport's session in every event
func (t *Transport) SessionID() string {
	return t.sessionID
}

// SetUserID stamps later events with a user id
func (t *Transport) SetUserID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userID = id
}

// Enqueue adds an event to the queue. Events enqueued after Close are ignored.
func (t *Transport) Enqueue(event types.AnalyticsEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	if event.SessionID == "" {
		event.SessionID = t.sessionID
	}
	if event.UserID == "" {
		event.UserID = t.userID
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = t.clock()
	}
	if event.Type == "" {
		event.Type = types.EventCustom
	}

	if len(t.queue) >= t.cfg.MaxQueueSize {
		drop := t.cfg.MaxQueueSize / 4
		if drop < 1 {
			drop = 1
		}
		t.queue = append(t.queue[:0], t.queue[drop:]...)
		t.droppedTotal.WithLabelValues("overflow").Add(float64(drop))
		t.logger.WithFields(log.Fields{
			"dropped":  drop,
			"capacity": t.cfg.MaxQueueSize,
		}).Warn("Analytics queue full, dropped oldest events")
	}
	t.queue = append(t.queue, event)
	t.queueSize.Set(float64(len(t.queue)))

	if len(t.queue) >= t.cfg.BatchSize {
		t.stopTimerLocked()
		t.flushAsyncLocked(false)
		return
	}
	t.scheduleLocked()
}

// Flush sends up to one batch. It is a no-op while another flush runs and
// returns types.ErrConnectivityOffline while the endpoint is unreachable.
func (t *Transport) Flush(ctx context.Context) error {
	_, err := t.flushOnce(ctx)
	return err
}

// FlushAll sends batches until the queue is empty or a flush fails
func (t *Transport) FlushAll(ctx context.Context) error {
	for {
		sent, err := t.flushOnce(ctx)
		if err != nil || sent == 0 {
			return err
		}
	}
}

func (t *Transport) flushOnce(ctx context.Context) (int, error) {
	// Without a polling monitor nothing else would bring us back online
	if c := t.connectivity; c != nil && !c.Online() && !c.Polling() && t.Len() > 0 {
		c.Recheck(ctx)
	}

	t.mu.Lock()
	if t.flushing || len(t.queue) == 0 {
		t.mu.Unlock()
		return 0, nil
	}
	if t.connectivity != nil && !t.connectivity.Online() {
		t.mu.Unlock()
		t.logger.Debug("Skipping flush while offline")
		return 0, types.ErrConnectivityOffline
	}

	n := len(t.queue)
	if n > t.cfg.BatchSize {
		n = t.cfg.BatchSize
	}
	batch := make([]types.AnalyticsEvent, n)
	copy(batch, t.queue[:n])
	t.queue = append(t.queue[:0], t.queue[n:]...)
	t.queueSize.Set(float64(len(t.queue)))
	t.flushing = true
	t.mu.Unlock()

	res, err := retry(ctx, t.cfg.Retry, t.sleep, t.jitter, func(ctx context.Context) error {
		sendCtx := ctx
		if t.cfg.SendTimeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, t.cfg.SendTimeout)
			defer cancel()
		}
		return t.sender.Send(sendCtx, batch)
	})
	t.retriesTotal.Add(float64(len(res.delays)))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushing = false

	if err == nil {
		t.sentTotal.Add(float64(len(batch)))
		t.logger.WithFields(log.Fields{
			"events":   len(batch),
			"attempts": res.attempts,
		}).Debug("Analytics batch delivered")
		if !t.closed && len(t.queue) > 0 {
			t.scheduleLocked()
		}
		return len(batch), nil
	}

	if IsNetworkError(err) && t.connectivity != nil {
		t.connectivity.MarkOffline()
	}

	fields := log.Fields{
		"events":   len(batch),
		"attempts": res.attempts,
	}
	if IsTransient(err) {
		critical := make([]types.AnalyticsEvent, 0, len(batch))
		for _, e := range batch {
			if e.IsCritical() {
				critical = append(critical, e)
			}
		}
		if len(critical) > 0 {
			t.queue = append(critical, t.queue...)
			t.queueSize.Set(float64(len(t.queue)))
		}
		fields["requeued"] = len(critical)
		t.droppedTotal.WithLabelValues("exhausted").Add(float64(len(batch) - len(critical)))
		t.logger.WithFields(fields).WithError(err).Warn("Analytics delivery failed after retries")
	} else {
		t.droppedTotal.WithLabelValues("permanent").Add(float64(len(batch)))
		t.logger.WithFields(fields).WithError(err).Error("Analytics delivery rejected, batch dropped")
	}

	if !t.closed && len(t.queue) > 0 {
		t.scheduleLocked()
	}
	return 0, err
}

func (t *Transport) scheduleLocked() {
	t.stopTimerLocked()
	t.timer = time.AfterFunc(t.cfg.FlushDelay, func() { t.flushAsync(false) })
}

func (t *Transport) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Transport) flushAsync(all bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushAsyncLocked(all)
}

func (t *Transport) flushAsyncLocked(all bool) {
	if t.closed {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		var (
			sent int
			err  error
		)
		if all {
			err = t.FlushAll(t.ctx)
		} else {
			sent, err = t.flushOnce(t.ctx)
		}
		if err != nil && !errors.Is(err, types.ErrConnectivityOffline) {
			t.logger.WithError(err).Debug("Background flush failed")
		}

		// Keep draining a backlog that built up during the send
		if sent > 0 {
			t.mu.Lock()
			if len(t.queue) >= t.cfg.BatchSize {
				t.stopTimerLocked()
				t.flushAsyncLocked(false)
			}
			t.mu.Unlock()
		}
	}()
}

// Len returns the number of queued events
func (t *Transport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Pending returns a copy of the queued events in delivery order
func (t *Transport) Pending() []types.AnalyticsEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.AnalyticsEvent, len(t.queue))
	copy(out, t.queue)
	return out
}

// Close stops scheduled flushes, waits for in-flight ones and flushes what
// is left. In-flight sends are cancelled if ctx ends first.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.stopTimerLocked()
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.cancel()
		<-done
	}

	err := t.FlushAll(ctx)
	t.cancel()
	if err != nil {
		t.logger.WithError(err).WithField("pending", t.Len()).Warn("Final analytics flush failed")
	}
	return err
}
