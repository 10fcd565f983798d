package types

import (
	"fmt"
	"time"
)

// Severity is the level of a threshold breach
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Threshold defines warning and critical levels for a metric series
type Threshold struct {
	Name          string        `json:"name" yaml:"name"`
	WarningLevel  float64       `json:"warning_level" yaml:"warning"`
	CriticalLevel float64       `json:"critical_level" yaml:"critical"`
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`
	Enabled       bool          `json:"enabled" yaml:"enabled"`
}

// Evaluate checks a value against the threshold.
// Critical wins over warning when both levels are exceeded.
func (t Threshold) Evaluate(value float64) (Severity, bool) {
	if !t.Enabled {
		return "", false
	}
	if value > t.CriticalLevel {
		return SeverityCritical, true
	}
	if value > t.WarningLevel {
		return SeverityWarning, true
	}
	return "", false
}

// Level returns the configured level for a severity
func (t Threshold) Level(severity Severity) float64 {
	if severity == SeverityCritical {
		return t.CriticalLevel
	}
	return t.WarningLevel
}

// Validate checks if the threshold is usable
func (t Threshold) Validate() error {
	if t.Name == "" {
		return ErrInvalidConfig("threshold name is required")
	}
	if t.CriticalLevel < t.WarningLevel {
		return ErrInvalidConfig("threshold %s: critical level %.2f is below warning level %.2f",
			t.Name, t.CriticalLevel, t.WarningLevel)
	}
	if t.CheckInterval < 0 {
		return ErrInvalidConfig("threshold %s: check_interval cannot be negative", t.Name)
	}
	return nil
}

// AlertEvent is emitted when a threshold is exceeded outside its cooldown window
type AlertEvent struct {
	ID        string          `json:"id"`
	Metric    string          `json:"metric"`
	Data      MetricDataPoint `json:"data"`
	Threshold Threshold       `json:"threshold"`
	Severity  Severity        `json:"severity"`
	Timestamp time.Time       `json:"timestamp"`
	Message   string          `json:"message"`
}

// AlertMessage renders the human readable alert text
func AlertMessage(metric string, data MetricDataPoint, threshold Threshold, severity Severity) string {
	return fmt.Sprintf("%s: %s value %.2f exceeded %s threshold %.2f (%s)",
		metric, data.Name, data.Value, severity, threshold.Level(severity), threshold.Name)
}
