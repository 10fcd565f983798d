package main

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "perfmon",
	Short: "Performance metrics collector",
	Long: `perfmon samples performance data points, raises threshold alerts and
ships batched analytics events.

COMMANDS
  serve             Run the collector with its HTTP and gRPC health endpoints
  validate-config   Load and validate the configuration, then print it

CONFIGURATION
  --config <file>   YAML file; without it ./config/perfmon.yaml and ./perfmon.yaml
                    are tried. Every key can be overridden with PERFMON_<KEY>,
                    e.g. PERFMON_COLLECTOR_SAMPLE_RATE=1`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to perfmon.yaml")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
}

func setupLogger(level, format string) *log.Logger {
	logger := log.StandardLogger()

	// Set format
	if format == "text" {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	}

	// Set level
	logLevel, err := log.ParseLevel(level)
	if err != nil {
		logLevel = log.InfoLevel
	}
	logger.SetLevel(logLevel)

	return logger
}
