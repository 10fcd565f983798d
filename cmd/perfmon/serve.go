package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/insightflo/perfmon/internal/api"
	"github.com/insightflo/perfmon/internal/health"
	"github.com/insightflo/perfmon/pkg/alert"
	"github.com/insightflo/perfmon/pkg/analytics"
	"github.com/insightflo/perfmon/pkg/collector"
	"github.com/insightflo/perfmon/pkg/config"
	"github.com/insightflo/perfmon/pkg/instrument"
	"github.com/insightflo/perfmon/pkg/types"
)

const probeTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collector service",
	RunE:  runServe,
}

// service owns every long-lived component of a running collector
type service struct {
	cfg       *types.Config
	logger    *log.Logger
	startup   *instrument.StartupTimer
	monitor   *analytics.ConnectivityMonitor
	transport *analytics.Transport
	alerter   *alert.ThresholdAlerter
	collector *collector.Collector
	handler   *api.Handler
	health    *health.Server
	sentry    *alert.SentrySink
	closers   []func() error
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	logger.WithFields(log.Fields{
		"http_addr":   cfg.Server.HTTPAddr,
		"grpc_addr":   cfg.Server.GRPCAddr,
		"sender":      cfg.Transport.Sender,
		"sample_rate": cfg.Collector.SampleRate,
	}).Info("Starting perfmon")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	svc, err := newService(ctx, cfg, logger, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if err != nil {
		return err
	}
	if err := svc.start(ctx); err != nil {
		svc.close(context.Background())
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      svc.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 2)

	go func() {
		logger.WithField("addr", server.Addr).Info("Starting HTTP server")
		serverErrors <- server.ListenAndServe()
	}()

	if cfg.Server.GRPCAddr != "" {
		go func() {
			if err := svc.health.Start(); err != nil {
				serverErrors <- err
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server error")
			runErr = err
		}
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shutdown server gracefully")
	}
	svc.close(shutdownCtx)

	logger.Info("Perfmon stopped")
	return runErr
}

// newService wires the sender, transport, alerter and collector. Nothing
// runs until start.
func newService(ctx context.Context, cfg *types.Config, logger *log.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) (_ *service, err error) {
	svc := &service{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			svc.runClosers()
		}
	}()

	sender, prober, err := svc.newSender()
	if err != nil {
		return nil, err
	}

	svc.monitor = analytics.NewConnectivityMonitor(prober, cfg.Transport.ConnectivityInterval)
	svc.transport = analytics.NewTransport(cfg.Transport, sender,
		analytics.WithConnectivity(svc.monitor),
		analytics.WithRegisterer(reg),
	)

	store, err := svc.newCooldownStore(ctx)
	if err != nil {
		return nil, err
	}
	sinks, err := svc.newSinks(ctx)
	if err != nil {
		return nil, err
	}

	svc.alerter = alert.NewAlerter(cfg.Alert,
		alert.WithCooldownStore(store),
		alert.WithForwarder(svc.transport),
		alert.WithSinks(sinks...),
		alert.WithRegisterer(reg),
	)

	svc.collector = collector.New(cfg.Collector, collector.Deps{
		Alerter:      svc.alerter,
		Transport:    svc.transport,
		Registerer:   reg,
		MemoryReader: collector.NewProcessMemoryReader(),
	})
	svc.startup = instrument.NewStartupTimer(svc.collector, true)

	svc.handler = api.NewHandler(svc.collector, svc.transport, svc.alerter, logger, reg, gatherer)
	svc.health = health.NewServer(cfg.Server.GRPCAddr, logger)
	svc.health.Watch(svc.collector)

	return svc, nil
}

func (s *service) newSender() (analytics.Sender, analytics.Prober, error) {
	tc := s.cfg.Transport
	if tc.Sender == "kafka" {
		ks := analytics.NewKafkaSender(tc)
		s.closers = append(s.closers, ks.Close)
		return ks, analytics.TCPProber{Addr: tc.KafkaBrokers[0], Timeout: probeTimeout}, nil
	}

	prober, err := analytics.EndpointProber(tc.Endpoint, probeTimeout)
	if err != nil {
		return nil, nil, err
	}
	return analytics.NewHTTPSender(tc, nil), prober, nil
}

func (s *service) newCooldownStore(ctx context.Context) (alert.CooldownStore, error) {
	ac := s.cfg.Alert
	if ac.CooldownStore != "redis" {
		return alert.NewMemoryCooldownStore(time.Now), nil
	}

	store, err := alert.DialRedisCooldownStore(ctx, ac.RedisAddr, ac.RedisPrefix)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, store.Close)
	return store, nil
}

func (s *service) newSinks(ctx context.Context) ([]alert.Sink, error) {
	ac := s.cfg.Alert
	sinks := []alert.Sink{alert.NewLogSink(s.logger)}

	if ac.PostgresDSN != "" {
		audit, err := alert.OpenAuditSink(ctx, ac.PostgresDSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, audit.Close)
		sinks = append(sinks, audit)
	}

	if ac.SentryDSN != "" {
		sentrySink, err := alert.NewSentrySink(ac.SentryDSN, ac.Environment)
		if err != nil {
			return nil, err
		}
		s.sentry = sentrySink
		sinks = append(sinks, sentrySink)
	}
	return sinks, nil
}

// start begins collecting and connectivity polling
func (s *service) start(ctx context.Context) error {
	s.monitor.Start(ctx)
	if err := s.collector.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize collector: %w", err)
	}
	s.startup.Mark(ctx, "ready")
	return nil
}

// close stops collecting, ships whatever is buffered and releases every
// external connection
func (s *service) close(ctx context.Context) {
	s.collector.Dispose()
	s.collector.Transmit(ctx)

	if err := s.transport.Close(ctx); err != nil {
		s.logger.WithError(err).Warn("Analytics transport closed with pending events")
	}
	s.monitor.Stop()
	s.health.Stop()
	s.alerter.Close()

	if s.sentry != nil {
		s.sentry.Flush(2 * time.Second)
	}
	s.runClosers()
}

func (s *service) runClosers() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.WithError(err).Warn("Failed to release resource")
		}
	}
	s.closers = nil
}
