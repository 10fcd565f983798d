package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/insightflo/perfmon/pkg/collector"
	"github.com/insightflo/perfmon/pkg/series"
	"github.com/insightflo/perfmon/pkg/types"
)

// Collector is the part of the collector exposed over HTTP
type Collector interface {
	RecordMetricData(ctx context.Context, point types.MetricDataPoint)
	SeriesNames() []string
	SeriesStatistics(name string, period time.Duration) (series.Statistics, error)
	State() collector.State
	Pause()
	Resume()
}

// EventQueue accepts custom analytics events
type EventQueue interface {
	Enqueue(event types.AnalyticsEvent)
}

// AlertHistory exposes recently emitted alerts
type AlertHistory interface {
	Recent() []types.AlertEvent
}

// Handler handles HTTP requests for the perfmon service
type Handler struct {
	collector Collector
	events    EventQueue
	alerts    AlertHistory
	gatherer  prometheus.Gatherer
	logger    *logrus.Logger
	router    *mux.Router

	// Metrics
	requestDuration *prometheus.HistogramVec
	requestCount    *prometheus.CounterVec
}

// NewHandler creates a new API handler. Request metrics are registered
// with reg and /metrics serves gatherer; both may be nil.
func NewHandler(c Collector, events EventQueue, alerts AlertHistory, logger *logrus.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Handler {
	h := &Handler{
		collector: c,
		events:    events,
		alerts:    alerts,
		gatherer:  gatherer,
		logger:    logger,
		router:    mux.NewRouter(),
	}

	h.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perfmon_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	h.requestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perfmon_api_request_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	if reg != nil {
		reg.MustRegister(h.requestDuration, h.requestCount)
	}

	h.setupRoutes()

	return h
}

// setupRoutes configures all API routes
func (h *Handler) setupRoutes() {
	// Health endpoints
	h.router.HandleFunc("/health", h.handleHealth).Methods("GET")
	h.router.HandleFunc("/ready", h.handleReady).Methods("GET")

	// Ingest endpoints
	h.router.HandleFunc("/v1/metrics", h.handleIngestMetrics).Methods("POST")
	h.router.HandleFunc("/v1/events", h.handleIngestEvent).Methods("POST")

	// Query endpoints
	h.router.HandleFunc("/v1/series", h.handleListSeries).Methods("GET")
	h.router.HandleFunc("/v1/series/{type}/stats", h.handleSeriesStats).Methods("GET")
	h.router.HandleFunc("/v1/alerts", h.handleGetAlerts).Methods("GET")

	// Collector lifecycle
	h.router.HandleFunc("/v1/collector", h.handleGetCollector).Methods("GET")
	h.router.HandleFunc("/v1/collector/pause", h.handlePause).Methods("POST")
	h.router.HandleFunc("/v1/collector/resume", h.handleResume).Methods("POST")

	if h.gatherer != nil {
		h.router.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	h.router.Use(h.loggingMiddleware)
	h.router.Use(h.metricsMiddleware)
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// loggingMiddleware logs all requests
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		h.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.statusCode,
			"duration": time.Since(start).Milliseconds(),
			"remote":   r.RemoteAddr,
		}).Debug("Request handled")
	})
}

// metricsMiddleware tracks metrics for all requests
func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Label by route template so path variables do not explode cardinality
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		status := statusClass(wrapped.statusCode)

		h.requestDuration.WithLabelValues(r.Method, endpoint, status).Observe(time.Since(start).Seconds())
		h.requestCount.WithLabelValues(r.Method, endpoint, status).Inc()
	})
}

// handleHealth reports healthy until the collector is disposed
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := h.collector.State()
	status := http.StatusOK
	health := "healthy"
	if state == collector.StateDisposed {
		status = http.StatusServiceUnavailable
		health = "disposed"
	}

	h.writeJSON(w, status, map[string]string{
		"status": health,
		"state":  state.String(),
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleReady reports ready only while points are accepted
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	state := h.collector.State()
	if state != collector.StateCollecting {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"state": state.String()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"state": state.String()})
}

// handleIngestMetrics records a batch (or a single) metric data point
func (h *Handler) handleIngestMetrics(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}

	points, err := parsePoints(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	for _, p := range points {
		h.collector.RecordMetricData(r.Context(), p)
	}

	h.writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(points)})
}

type eventRequest struct {
	Name       string          `json:"name"`
	Type       types.EventType `json:"type"`
	Properties map[string]any  `json:"properties"`
}

// handleIngestEvent queues a custom analytics event
func (h *Handler) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	switch req.Type {
	case "":
		req.Type = types.EventCustom
	case types.EventCustom, types.EventPerformance, types.EventAlert, types.EventError, types.EventCrash:
	default:
		h.writeError(w, http.StatusBadRequest, "unknown event type "+string(req.Type))
		return
	}

	h.events.Enqueue(types.AnalyticsEvent{
		Name:       req.Name,
		Type:       req.Type,
		Properties: req.Properties,
		Timestamp:  time.Now(),
	})

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
	})
}

// handleListSeries returns the registered series names
func (h *Handler) handleListSeries(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string][]string{
		"series": h.collector.SeriesNames(),
	})
}

// handleSeriesStats returns statistics of one series over ?period
func (h *Handler) handleSeriesStats(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["type"]

	var period time.Duration
	if raw := r.URL.Query().Get("period"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid period "+raw)
			return
		}
		period = d
	}

	stats, err := h.collector.SeriesStatistics(name, period)
	if errors.Is(err, types.ErrUnknownSeries) {
		h.writeError(w, http.StatusNotFound, "series not found")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"series":     name,
		"period":     period.String(),
		"statistics": stats,
	})
}

// handleGetAlerts returns recent alerts, optionally filtered by ?severity
func (h *Handler) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := h.alerts.Recent()

	if severity := r.URL.Query().Get("severity"); severity != "" {
		filtered := []types.AlertEvent{}
		for _, a := range alerts {
			if string(a.Severity) == severity {
				filtered = append(filtered, a)
			}
		}
		alerts = filtered
	}
	if alerts == nil {
		alerts = []types.AlertEvent{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (h *Handler) handleGetCollector(w http.ResponseWriter, r *http.Request) {
	h.writeState(w)
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	h.collector.Pause()
	h.writeState(w)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	h.collector.Resume()
	h.writeState(w)
}

// Helper functions

func (h *Handler) writeState(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"state": h.collector.State().String(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{
		"error":     message,
		"status":    http.StatusText(status),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.ResponseWriter.WriteHeader(code)
		rw.written = true
	}
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(data)
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
