package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/insightflo/perfmon/pkg/config"
	"github.com/insightflo/perfmon/pkg/types"
)

const redacted = "****"

var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate the configuration and print the effective values",
	Long: `Loads the configuration the same way serve does (defaults, file,
PERFMON_ environment overrides, thresholds file) and prints the result as JSON.
DSNs are masked in the output.

Exit codes:
  0 = configuration is valid
  1 = configuration could not be loaded or failed validation`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(redactSecrets(*cfg), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// redactSecrets masks credentials carried by DSNs
func redactSecrets(cfg types.Config) types.Config {
	for _, dsn := range []*string{&cfg.Alert.PostgresDSN, &cfg.Alert.SentryDSN, &cfg.Transport.DSN} {
		if *dsn != "" {
			*dsn = redacted
		}
	}
	return cfg
}
