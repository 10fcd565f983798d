package types

import "time"

// EventType classifies analytics events
type EventType string

const (
	EventCustom      EventType = "custom"
	EventPerformance EventType = "performance"
	EventAlert       EventType = "alert"
	EventError       EventType = "error"
	EventCrash       EventType = "crash"
)

// AnalyticsEvent is a single event queued for the analytics endpoint
type AnalyticsEvent struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	UserID     string         `json:"user_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Type       EventType      `json:"type"`
}

// IsCritical reports whether the event must survive exhausted retries
func (e AnalyticsEvent) IsCritical() bool {
	return e.Type == EventError || e.Type == EventCrash
}

// Value extracts the numeric value carried in the properties, defaulting to 1
func (e AnalyticsEvent) Value() float64 {
	switch v := e.Properties["value"].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	}
	return 1
}

// PointEvent converts a recorded data point into an analytics event
func PointEvent(p MetricDataPoint) AnalyticsEvent {
	props := make(map[string]any, len(p.Metadata)+3)
	for k, v := range p.Metadata {
		props[k] = v
	}
	props["metric_type"] = string(p.Type)
	props["metric_name"] = p.Name
	props["value"] = p.Value
	return AnalyticsEvent{
		Name:       "performance_metric",
		Properties: props,
		Timestamp:  p.Timestamp,
		Type:       EventPerformance,
	}
}
