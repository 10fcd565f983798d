package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/insightflo/perfmon/pkg/types"
)

type rawThreshold struct {
	Name          string  `yaml:"name"`
	Warning       float64 `yaml:"warning"`
	Critical      float64 `yaml:"critical"`
	CheckInterval string  `yaml:"check_interval"`
	Enabled       *bool   `yaml:"enabled"`
}

type rawThresholdFile struct {
	Thresholds map[string][]rawThreshold `yaml:"thresholds"`
}

// LoadThresholds reads per-family thresholds from a YAML file
func LoadThresholds(path string) (map[types.MetricType][]types.Threshold, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read thresholds file: %w", err)
	}
	return ParseThresholds(data)
}

// ParseThresholds parses a thresholds document:
//
//	thresholds:
//	  database:
//	    - name: query_duration
//	      warning: 100
//	      critical: 500
//	      check_interval: 1s
func ParseThresholds(data []byte) (map[types.MetricType][]types.Threshold, error) {
	var raw rawThresholdFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	out := make(map[types.MetricType][]types.Threshold, len(raw.Thresholds))
	for family, list := range raw.Thresholds {
		metricType, err := types.ParseMetricType(family)
		if err != nil {
			return nil, err
		}

		for _, r := range list {
			t := types.Threshold{
				Name:          r.Name,
				WarningLevel:  r.Warning,
				CriticalLevel: r.Critical,
				Enabled:       r.Enabled == nil || *r.Enabled,
			}
			// Parse durations manually for better error handling
			if r.CheckInterval != "" {
				d, err := time.ParseDuration(r.CheckInterval)
				if err != nil {
					return nil, fmt.Errorf("invalid %s.%s.check_interval: %w", family, r.Name, err)
				}
				t.CheckInterval = d
			}
			if err := t.Validate(); err != nil {
				return nil, fmt.Errorf("%s: %w", family, err)
			}
			out[metricType] = append(out[metricType], t)
		}
	}
	return out, nil
}
