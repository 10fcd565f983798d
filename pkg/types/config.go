package types

import (
	"strings"
	"time"
)

// Config is the root configuration
type Config struct {
	LogLevel       string          `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogFormat      string          `json:"log_format" yaml:"log_format" mapstructure:"log_format"`
	Server         ServerConfig    `json:"server" yaml:"server" mapstructure:"server"`
	Collector      CollectorConfig `json:"collector" yaml:"collector" mapstructure:"collector"`
	Alert          AlertConfig     `json:"alert" yaml:"alert" mapstructure:"alert"`
	Transport      TransportConfig `json:"transport" yaml:"transport" mapstructure:"transport"`
	ThresholdsFile string          `json:"thresholds_file,omitempty" yaml:"thresholds_file,omitempty" mapstructure:"thresholds_file"`
}

// ServerConfig defines listen addresses of the service
type ServerConfig struct {
	HTTPAddr        string        `json:"http_addr" yaml:"http_addr" mapstructure:"http_addr"`
	GRPCAddr        string        `json:"grpc_addr" yaml:"grpc_addr" mapstructure:"grpc_addr"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// CollectorConfig defines sampling, buffering and scheduling of the collector
type CollectorConfig struct {
	SampleRate           float64                    `json:"sample_rate" yaml:"sample_rate" mapstructure:"sample_rate"`
	BufferCapacity       int                        `json:"buffer_capacity" yaml:"buffer_capacity" mapstructure:"buffer_capacity"`
	HistorySize          int                        `json:"history_size" yaml:"history_size" mapstructure:"history_size"`
	AggregationInterval  time.Duration              `json:"aggregation_interval" yaml:"aggregation_interval" mapstructure:"aggregation_interval"`
	TransmissionInterval time.Duration              `json:"transmission_interval" yaml:"transmission_interval" mapstructure:"transmission_interval"`
	MemoryInterval       time.Duration              `json:"memory_interval" yaml:"memory_interval" mapstructure:"memory_interval"`
	Thresholds           map[MetricType][]Threshold `json:"thresholds,omitempty" yaml:"thresholds,omitempty" mapstructure:"-"`
}

// AlertConfig defines cooldown and sinks of the threshold alerter
type AlertConfig struct {
	Cooldown      time.Duration `json:"cooldown" yaml:"cooldown" mapstructure:"cooldown"`
	HistorySize   int           `json:"history_size" yaml:"history_size" mapstructure:"history_size"`
	CooldownStore string        `json:"cooldown_store" yaml:"cooldown_store" mapstructure:"cooldown_store"` // memory or redis
	RedisAddr     string        `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty" mapstructure:"redis_addr"`
	RedisPrefix   string        `json:"redis_prefix,omitempty" yaml:"redis_prefix,omitempty" mapstructure:"redis_prefix"`
	PostgresDSN   string        `json:"postgres_dsn,omitempty" yaml:"postgres_dsn,omitempty" mapstructure:"postgres_dsn"`
	SentryDSN     string        `json:"sentry_dsn,omitempty" yaml:"sentry_dsn,omitempty" mapstructure:"sentry_dsn"`
	Environment   string        `json:"environment,omitempty" yaml:"environment,omitempty" mapstructure:"environment"`
}

// RetryConfig defines the backoff policy for analytics sends
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay     time.Duration `json:"base_delay" yaml:"base_delay" mapstructure:"base_delay"`
	MaxJitter     time.Duration `json:"max_jitter" yaml:"max_jitter" mapstructure:"max_jitter"`
	MaxTotalDelay time.Duration `json:"max_total_delay" yaml:"max_total_delay" mapstructure:"max_total_delay"`
}

// TransportConfig defines batching and delivery of analytics events
type TransportConfig struct {
	Sender               string        `json:"sender" yaml:"sender" mapstructure:"sender"` // http or kafka
	Endpoint             string        `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	DSN                  string        `json:"dsn,omitempty" yaml:"dsn,omitempty" mapstructure:"dsn"`
	ProjectID            string        `json:"project_id,omitempty" yaml:"project_id,omitempty" mapstructure:"project_id"`
	UserAgent            string        `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
	KafkaBrokers         []string      `json:"kafka_brokers,omitempty" yaml:"kafka_brokers,omitempty" mapstructure:"kafka_brokers"`
	KafkaTopic           string        `json:"kafka_topic,omitempty" yaml:"kafka_topic,omitempty" mapstructure:"kafka_topic"`
	BatchSize            int           `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
	MaxQueueSize         int           `json:"max_queue_size" yaml:"max_queue_size" mapstructure:"max_queue_size"`
	FlushDelay           time.Duration `json:"flush_delay" yaml:"flush_delay" mapstructure:"flush_delay"`
	SendTimeout          time.Duration `json:"send_timeout" yaml:"send_timeout" mapstructure:"send_timeout"`
	ConnectivityInterval time.Duration `json:"connectivity_interval" yaml:"connectivity_interval" mapstructure:"connectivity_interval"`
	Retry                RetryConfig   `json:"retry" yaml:"retry" mapstructure:"retry"`
}

// DefaultThresholds returns the built-in thresholds per metric family.
// Levels are milliseconds except memory, which is megabytes.
func DefaultThresholds() map[MetricType][]Threshold {
	return map[MetricType][]Threshold{
		MetricDatabase: {
			{Name: "query_duration", WarningLevel: 100, CriticalLevel: 500, Enabled: true},
		},
		MetricAPI: {
			{Name: "response_time", WarningLevel: 1000, CriticalLevel: 3000, Enabled: true},
		},
		MetricUI: {
			{Name: "frame_time", WarningLevel: 16.67, CriticalLevel: 33.34, CheckInterval: time.Second, Enabled: true},
		},
		MetricMemory: {
			{Name: "memory_usage", WarningLevel: 256, CriticalLevel: 512, Enabled: true},
		},
		MetricStartup: {
			{Name: "startup_time", WarningLevel: 2000, CriticalLevel: 5000, Enabled: true},
		},
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Server: ServerConfig{
			HTTPAddr:        ":8095",
			GRPCAddr:        ":9095",
			ShutdownTimeout: 10 * time.Second,
		},
		Collector: DefaultCollectorConfig(),
		Alert:     DefaultAlertConfig(),
		Transport: DefaultTransportConfig(),
	}
}

// DefaultCollectorConfig returns default collector configuration
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		SampleRate:           0.1,
		BufferCapacity:       1000,
		HistorySize:          1000,
		AggregationInterval:  time.Minute,
		TransmissionInterval: 5 * time.Minute,
		MemoryInterval:       30 * time.Second,
		Thresholds:           DefaultThresholds(),
	}
}

// DefaultAlertConfig returns default alerter configuration
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		Cooldown:      5 * time.Minute,
		HistorySize:   100,
		CooldownStore: "memory",
		RedisPrefix:   "perfmon:alert:",
	}
}

// DefaultRetryConfig returns the default backoff policy
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxJitter:     time.Second,
		MaxTotalDelay: 5 * time.Minute,
	}
}

// DefaultTransportConfig returns default transport configuration
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Sender:               "http",
		Endpoint:             "http://localhost:8080/api/v1/events",
		UserAgent:            "InsightFlo-Perfmon/1.0",
		KafkaTopic:           "perfmon.analytics",
		BatchSize:            50,
		MaxQueueSize:         1000,
		FlushDelay:           30 * time.Second,
		SendTimeout:          30 * time.Second,
		ConnectivityInterval: 30 * time.Second,
		Retry:                DefaultRetryConfig(),
	}
}

// Validate checks the collector configuration and fills defaults
func (c *CollectorConfig) Validate() error {
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return ErrInvalidConfig("sample_rate must be within [0,1], got %v", c.SampleRate)
	}
	if c.BufferCapacity <= 0 {
		return ErrInvalidConfig("buffer_capacity must be greater than 0, got %d", c.BufferCapacity)
	}
	if c.AggregationInterval <= 0 {
		return ErrInvalidConfig("aggregation_interval must be greater than 0")
	}
	if c.TransmissionInterval <= 0 {
		return ErrInvalidConfig("transmission_interval must be greater than 0")
	}
	if c.MemoryInterval < 0 {
		return ErrInvalidConfig("memory_interval cannot be negative")
	}
	if c.HistorySize == 0 {
		c.HistorySize = 1000
	}
	if c.Thresholds == nil {
		c.Thresholds = DefaultThresholds()
	}
	for metricType, thresholds := range c.Thresholds {
		if _, err := ParseMetricType(string(metricType)); err != nil {
			return ErrInvalidConfig("thresholds: %v", err)
		}
		for _, t := range thresholds {
			if err := t.Validate(); err != nil {
				return ErrInvalidConfig("%s: %v", metricType, err)
			}
		}
	}
	return nil
}

// Validate checks the alerter configuration and fills defaults
func (c *AlertConfig) Validate() error {
	if c.Cooldown < 0 {
		return ErrInvalidConfig("alert cooldown cannot be negative")
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	switch strings.ToLower(c.CooldownStore) {
	case "", "memory":
		c.CooldownStore = "memory"
	case "redis":
		if c.RedisAddr == "" {
			return ErrInvalidConfig("alert.redis_addr is required for the redis cooldown store")
		}
	default:
		return ErrInvalidConfig("unknown cooldown store %q", c.CooldownStore)
	}
	return nil
}

// Validate checks the transport configuration and fills defaults
func (c *TransportConfig) Validate() error {
	switch c.Sender {
	case "", "http":
		c.Sender = "http"
		if c.Endpoint == "" {
			return ErrInvalidConfig("transport.endpoint is required for the http sender")
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return ErrInvalidConfig("transport.kafka_brokers is required for the kafka sender")
		}
		if c.KafkaTopic == "" {
			return ErrInvalidConfig("transport.kafka_topic is required for the kafka sender")
		}
	default:
		return ErrInvalidConfig("unknown analytics sender %q", c.Sender)
	}
	if c.BatchSize <= 0 {
		return ErrInvalidConfig("batch_size must be greater than 0")
	}
	if c.MaxQueueSize < c.BatchSize {
		return ErrInvalidConfig("max_queue_size %d cannot be less than batch_size %d", c.MaxQueueSize, c.BatchSize)
	}
	if c.FlushDelay <= 0 {
		c.FlushDelay = 30 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "InsightFlo-Perfmon/1.0"
	}
	if c.ConnectivityInterval <= 0 {
		c.ConnectivityInterval = 30 * time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 1
	}
	if c.Retry.MaxTotalDelay == 0 {
		c.Retry.MaxTotalDelay = 5 * time.Minute
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Collector.Validate(); err != nil {
		return err
	}
	if err := c.Alert.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}

	// Set defaults
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8095"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	return nil
}
