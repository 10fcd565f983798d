package types

import (
	"fmt"
	"time"
)

// MetricType identifies the metric family a data point belongs to
type MetricType string

const (
	MetricDatabase MetricType = "database"
	MetricAPI      MetricType = "api"
	MetricUI       MetricType = "ui"
	MetricMemory   MetricType = "memory"
	MetricStartup  MetricType = "startup"
)

// MetricTypes lists every known family in registration order
var MetricTypes = []MetricType{MetricDatabase, MetricAPI, MetricUI, MetricMemory, MetricStartup}

// ParseMetricType converts a wire value into a MetricType
func ParseMetricType(s string) (MetricType, error) {
	switch MetricType(s) {
	case MetricDatabase, MetricAPI, MetricUI, MetricMemory, MetricStartup:
		return MetricType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMetricType, s)
	}
}

// Detail is the category specific payload of a data point.
// The interface is sealed; the variants below are the only implementations.
type Detail interface {
	MetricType() MetricType
	fields() map[string]any
}

// DatabaseDetail describes a single database query
type DatabaseDetail struct {
	Query string
	Table string
	Rows  int64
	Err   bool
}

// APIDetail describes a single outbound HTTP call
type APIDetail struct {
	Method     string
	Endpoint   string
	StatusCode int
	Err        bool
}

// UIDetail describes rendered frames on a screen
type UIDetail struct {
	Screen        string
	Frames        int
	DroppedFrames int
}

// MemoryDetail describes a memory sample
type MemoryDetail struct {
	RSSBytes          uint64
	SystemUsedPercent float64
}

// StartupDetail describes an application startup phase
type StartupDetail struct {
	Phase string
	Cold  bool
}

func (DatabaseDetail) MetricType() MetricType { return MetricDatabase }
func (APIDetail) MetricType() MetricType      { return MetricAPI }
func (UIDetail) MetricType() MetricType       { return MetricUI }
func (MemoryDetail) MetricType() MetricType   { return MetricMemory }
func (StartupDetail) MetricType() MetricType  { return MetricStartup }

func (d DatabaseDetail) fields() map[string]any {
	return map[string]any{"query": d.Query, "table": d.Table, "rows": d.Rows, "error": d.Err}
}

func (d APIDetail) fields() map[string]any {
	return map[string]any{"method": d.Method, "endpoint": d.Endpoint, "status_code": d.StatusCode, "error": d.Err}
}

func (d UIDetail) fields() map[string]any {
	return map[string]any{"screen": d.Screen, "frames": d.Frames, "dropped_frames": d.DroppedFrames}
}

func (d MemoryDetail) fields() map[string]any {
	return map[string]any{"rss_bytes": d.RSSBytes, "system_used_percent": d.SystemUsedPercent}
}

func (d StartupDetail) fields() map[string]any {
	return map[string]any{"phase": d.Phase, "cold": d.Cold}
}

// MetricDataPoint is a single recorded measurement
type MetricDataPoint struct {
	Type      MetricType     `json:"type"`
	Name      string         `json:"name"`
	Value     float64        `json:"value"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Detail    Detail         `json:"-"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewDataPoint creates a point for a custom metric
func NewDataPoint(metricType MetricType, name string, value float64, metadata map[string]any) MetricDataPoint {
	return MetricDataPoint{
		Type:      metricType,
		Name:      name,
		Value:     value,
		Metadata:  copyMetadata(metadata),
		Timestamp: time.Now(),
	}
}

// NewDetailPoint creates a point whose type and metadata are taken from the detail
func NewDetailPoint(name string, value float64, detail Detail) MetricDataPoint {
	return MetricDataPoint{
		Type:      MetricTypeOf(detail),
		Name:      name,
		Value:     value,
		Metadata:  detail.fields(),
		Detail:    detail,
		Timestamp: time.Now(),
	}
}

// NewDatabasePoint records a query duration in milliseconds
func NewDatabasePoint(query string, duration time.Duration, detail DatabaseDetail) MetricDataPoint {
	if detail.Query == "" {
		detail.Query = query
	}
	return NewDetailPoint(query, Millis(duration), detail)
}

// NewAPIPoint records an HTTP call duration in milliseconds
func NewAPIPoint(endpoint string, duration time.Duration, detail APIDetail) MetricDataPoint {
	if detail.Endpoint == "" {
		detail.Endpoint = endpoint
	}
	return NewDetailPoint(endpoint, Millis(duration), detail)
}

// NewUIPoint records a frame build time in milliseconds
func NewUIPoint(screen string, frameTime time.Duration, detail UIDetail) MetricDataPoint {
	if detail.Screen == "" {
		detail.Screen = screen
	}
	return NewDetailPoint("frame_time", Millis(frameTime), detail)
}

// NewMemoryPoint records resident memory in megabytes
func NewMemoryPoint(detail MemoryDetail) MetricDataPoint {
	return NewDetailPoint("process_rss_mb", float64(detail.RSSBytes)/(1024*1024), detail)
}

// NewStartupPoint records a startup phase duration in milliseconds
func NewStartupPoint(duration time.Duration, detail StartupDetail) MetricDataPoint {
	return NewDetailPoint("startup_"+detail.Phase, Millis(duration), detail)
}

// MetricTypeOf resolves the family of a detail variant
func MetricTypeOf(detail Detail) MetricType {
	switch detail.(type) {
	case DatabaseDetail, *DatabaseDetail:
		return MetricDatabase
	case APIDetail, *APIDetail:
		return MetricAPI
	case UIDetail, *UIDetail:
		return MetricUI
	case MemoryDetail, *MemoryDetail:
		return MetricMemory
	case StartupDetail, *StartupDetail:
		return MetricStartup
	default:
		panic(fmt.Sprintf("unhandled metric detail %T", detail))
	}
}

// Millis converts a duration to fractional milliseconds
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func copyMetadata(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
