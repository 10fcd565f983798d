package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"github.com/insightflo/perfmon/pkg/types"
)

// Sink receives every alert that passes the cooldown
type Sink interface {
	Handle(ctx context.Context, event types.AlertEvent) error
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(ctx context.Context, event types.AlertEvent) error

func (f SinkFunc) Handle(ctx context.Context, event types.AlertEvent) error {
	return f(ctx, event)
}

// AuditSink persists alerts to Postgres
type AuditSink struct {
	db *sql.DB
}

const createAlertsTable = `
	CREATE TABLE IF NOT EXISTS perf_alerts (
		id          TEXT PRIMARY KEY,
		metric      TEXT NOT NULL,
		point_name  TEXT NOT NULL,
		threshold   TEXT NOT NULL,
		severity    TEXT NOT NULL,
		value       DOUBLE PRECISION NOT NULL,
		level       DOUBLE PRECISION NOT NULL,
		message     TEXT NOT NULL,
		metadata    JSONB,
		created_at  TIMESTAMPTZ NOT NULL
	)`

// NewAuditSink wraps an open database handle
func NewAuditSink(db *sql.DB) *AuditSink {
	return &AuditSink{db: db}
}

// OpenAuditSink opens a Postgres connection and creates the alerts table
func OpenAuditSink(ctx context.Context, dsn string) (*AuditSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	sink, err := PrepareAuditSink(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

// PrepareAuditSink wraps db and creates the alerts table. The returned sink
// is ready for Handle.
func PrepareAuditSink(ctx context.Context, db *sql.DB) (*AuditSink, error) {
	sink := NewAuditSink(db)
	if err := sink.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

// EnsureSchema creates the alerts table if missing
func (s *AuditSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createAlertsTable); err != nil {
		return fmt.Errorf("create perf_alerts: %w", err)
	}
	return nil
}

func (s *AuditSink) Handle(ctx context.Context, event types.AlertEvent) error {
	var metadata any
	if raw, err := json.Marshal(event.Data.Metadata); err != nil {
		log.WithFields(log.Fields{
			"alert_id": event.ID,
			"metric":   event.Metric,
		}).WithError(err).Warn("Alert metadata is not valid JSON, storing without it")
	} else {
		metadata = raw
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO perf_alerts (
			id, metric, point_name, threshold, severity,
			value, level, message, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID,
		event.Metric,
		event.Data.Name,
		event.Threshold.Name,
		string(event.Severity),
		event.Data.Value,
		event.Threshold.Level(event.Severity),
		event.Message,
		metadata,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("write alert %s: %w", event.ID, err)
	}
	return nil
}

// Close closes the database handle
func (s *AuditSink) Close() error {
	return s.db.Close()
}

// SentrySink reports critical alerts to Sentry
type SentrySink struct {
	hub *sentry.Hub
}

// NewSentrySink creates a sink with its own Sentry client
func NewSentrySink(dsn, environment string) (*SentrySink, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry client: %w", err)
	}
	return NewSentrySinkWithHub(sentry.NewHub(client, sentry.NewScope())), nil
}

// NewSentrySinkWithHub reports through an existing hub
func NewSentrySinkWithHub(hub *sentry.Hub) *SentrySink {
	return &SentrySink{hub: hub}
}

func (s *SentrySink) Handle(_ context.Context, event types.AlertEvent) error {
	if event.Severity != types.SeverityCritical {
		return nil
	}

	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTags(map[string]string{
			"metric":    event.Metric,
			"threshold": event.Threshold.Name,
			"severity":  string(event.Severity),
		})
		scope.SetContext("alert", sentry.Context{
			"id":        event.ID,
			"value":     event.Data.Value,
			"level":     event.Threshold.Level(event.Severity),
			"point":     event.Data.Name,
			"timestamp": event.Timestamp,
		})
		s.hub.CaptureMessage(event.Message)
	})
	return nil
}

// Flush waits for buffered Sentry events
func (s *SentrySink) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}

// LogSink writes alerts to the structured log
type LogSink struct {
	logger *log.Logger
}

// NewLogSink logs through logger, or the standard logger when nil
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Handle(_ context.Context, event types.AlertEvent) error {
	entry := s.logger.WithFields(log.Fields{
		"component": "alert",
		"alert_id":  event.ID,
		"metric":    event.Metric,
		"threshold": event.Threshold.Name,
		"severity":  event.Severity,
		"value":     event.Data.Value,
	})
	if event.Severity == types.SeverityCritical {
		entry.Error(event.Message)
	} else {
		entry.Warn(event.Message)
	}
	return nil
}
