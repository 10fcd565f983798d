// Package config loads the service configuration from defaults, an optional
// YAML file and PERFMON_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/insightflo/perfmon/pkg/types"
)

// EnvPrefix prefixes every environment override, e.g. PERFMON_COLLECTOR_SAMPLE_RATE
const EnvPrefix = "PERFMON"

// Load builds the configuration. An empty path searches ./config and the
// working directory for perfmon.yaml and falls back to defaults.
func Load(path string) (*types.Config, error) {
	v := viper.New()
	setDefaults(v, types.DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("perfmon")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := types.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.ThresholdsFile != "" {
		thresholds, err := LoadThresholds(cfg.ThresholdsFile)
		if err != nil {
			return nil, err
		}
		for metricType, list := range thresholds {
			cfg.Collector.Thresholds[metricType] = list
		}
	}

	// Set defaults and validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *types.Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("thresholds_file", d.ThresholdsFile)

	v.SetDefault("server.http_addr", d.Server.HTTPAddr)
	v.SetDefault("server.grpc_addr", d.Server.GRPCAddr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("collector.sample_rate", d.Collector.SampleRate)
	v.SetDefault("collector.buffer_capacity", d.Collector.BufferCapacity)
	v.SetDefault("collector.history_size", d.Collector.HistorySize)
	v.SetDefault("collector.aggregation_interval", d.Collector.AggregationInterval)
	v.SetDefault("collector.transmission_interval", d.Collector.TransmissionInterval)
	v.SetDefault("collector.memory_interval", d.Collector.MemoryInterval)

	v.SetDefault("alert.cooldown", d.Alert.Cooldown)
	v.SetDefault("alert.history_size", d.Alert.HistorySize)
	v.SetDefault("alert.cooldown_store", d.Alert.CooldownStore)
	v.SetDefault("alert.redis_addr", d.Alert.RedisAddr)
	v.SetDefault("alert.redis_prefix", d.Alert.RedisPrefix)
	v.SetDefault("alert.postgres_dsn", d.Alert.PostgresDSN)
	v.SetDefault("alert.sentry_dsn", d.Alert.SentryDSN)
	v.SetDefault("alert.environment", d.Alert.Environment)

	v.SetDefault("transport.sender", d.Transport.Sender)
	v.SetDefault("transport.endpoint", d.Transport.Endpoint)
	v.SetDefault("transport.dsn", d.Transport.DSN)
	v.SetDefault("transport.project_id", d.Transport.ProjectID)
	v.SetDefault("transport.user_agent", d.Transport.UserAgent)
	v.SetDefault("transport.kafka_brokers", d.Transport.KafkaBrokers)
	v.SetDefault("transport.kafka_topic", d.Transport.KafkaTopic)
	v.SetDefault("transport.batch_size", d.Transport.BatchSize)
	v.SetDefault("transport.max_queue_size", d.Transport.MaxQueueSize)
	v.SetDefault("transport.flush_delay", d.Transport.FlushDelay)
	v.SetDefault("transport.send_timeout", d.Transport.SendTimeout)
	v.SetDefault("transport.connectivity_interval", d.Transport.ConnectivityInterval)
	v.SetDefault("transport.retry.max_attempts", d.Transport.Retry.MaxAttempts)
	v.SetDefault("transport.retry.base_delay", d.Transport.Retry.BaseDelay)
	v.SetDefault("transport.retry.max_jitter", d.Transport.Retry.MaxJitter)
	v.SetDefault("transport.retry.max_total_delay", d.Transport.Retry.MaxTotalDelay)
}
