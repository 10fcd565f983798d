package analytics

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Prober checks whether the analytics endpoint is reachable
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to a Prober
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// TCPProber dials an address
type TCPProber struct {
	Addr    string
	Timeout time.Duration
}

func (p TCPProber) Probe(ctx context.Context) error {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// EndpointProber builds a TCP prober for the host of an HTTP endpoint
func EndpointProber(endpoint string, timeout time.Duration) (TCPProber, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return TCPProber{}, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	if u.Hostname() == "" {
		return TCPProber{}, fmt.Errorf("endpoint %q has no host", endpoint)
	}

	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return TCPProber{Addr: net.JoinHostPort(u.Hostname(), port), Timeout: timeout}, nil
}

// ConnectivityMonitor tracks whether the analytics endpoint is reachable
// and runs restore callbacks when it comes back.
type ConnectivityMonitor struct {
	prober   Prober
	interval time.Duration
	online   atomic.Bool
	polling  atomic.Bool

	mu        sync.Mutex
	onRestore []func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *log.Entry
}

// NewConnectivityMonitor creates a monitor that starts online
func NewConnectivityMonitor(prober Prober, interval time.Duration) *ConnectivityMonitor {
	m := &ConnectivityMonitor{
		prober:   prober,
		interval: interval,
		logger:   log.WithField("component", "connectivity"),
	}
	m.online.Store(true)
	return m
}

// Online reports the last known state
func (m *ConnectivityMonitor) Online() bool {
	return m.online.Load()
}

// MarkOffline records a failed delivery
func (m *ConnectivityMonitor) MarkOffline() {
	if m.online.CompareAndSwap(true, false) {
		m.logger.Warn("Analytics endpoint unreachable, pausing delivery")
	}
}

// OnRestore registers a callback run on every offline to online transition
func (m *ConnectivityMonitor) OnRestore(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRestore = append(m.onRestore, fn)
}

// Polling reports whether a Start loop is probing in the background
func (m *ConnectivityMonitor) Polling() bool {
	return m.polling.Load()
}

// Check probes once and updates the state
func (m *ConnectivityMonitor) Check(ctx context.Context) bool {
	return m.check(ctx, true)
}

// Recheck probes once like Check but skips the restore callbacks. Callers
// use it when they are about to deliver themselves.
func (m *ConnectivityMonitor) Recheck(ctx context.Context) bool {
	return m.check(ctx, false)
}

func (m *ConnectivityMonitor) check(ctx context.Context, notify bool) bool {
	if err := m.prober.Probe(ctx); err != nil {
		if m.online.CompareAndSwap(true, false) {
			m.logger.WithError(err).Warn("Analytics endpoint unreachable")
		}
		return false
	}

	if m.online.CompareAndSwap(false, true) {
		m.logger.Info("Analytics endpoint reachable again")
		if !notify {
			return true
		}
		m.mu.Lock()
		callbacks := append([]func(){}, m.onRestore...)
		m.mu.Unlock()
		for _, fn := range callbacks {
			fn()
		}
	}
	return true
}

// Start polls the prober every interval until Stop or ctx is done. A
// non-positive interval disables polling.
func (m *ConnectivityMonitor) Start(ctx context.Context) {
	if m.interval <= 0 {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)

	m.polling.Store(true)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.polling.Store(false)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, m.interval)
				m.Check(probeCtx)
				cancel()
			}
		}
	}()
}

// Stop ends polling
func (m *ConnectivityMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
