package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opas200/zonewatch/internal/config"
	"github.com/opas200/zonewatch/internal/service/gateway"
	"github.com/opas200/zonewatch/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string

	// rootCmd represents the base command running the zone gateway.
	rootCmd = &cobra.Command{
		Use:   "zonewatch",
		Short: "Watch camera zones, record events and drive the pulse output.",
		Long: `Gateway service for camera occupancy and dwell-alarm monitoring.

Subscribes to each configured camera's statistics and event streams over
HTTP with digest authentication, derives occupancy deltas and stay alarms,
records them in a local SQLite database, and fires a shared GPIO pulse
output according to per-zone policy. Dead stream subscriptions are probed
and restarted automatically; old records are purged daily.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return gateway.Run(ctx, &gateway.Options{
				ConfigPath: configPath,
			})
		},
	}
)

// Execute runs the zonewatch CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
}
