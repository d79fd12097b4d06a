// Command livescore serves the live-score API.
//
// Usage:
//
//	livescore serve -c livescore.yaml   # start the API (default)
//	livescore migrate -c livescore.yaml # apply SQL migrations
//	livescore version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zoravur/livescore/internal/config"
	"github.com/zoravur/livescore/internal/logutil"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "livescore",
	Short: "Live-score publishing API",
	Long: `livescore stores match score documents and pushes every update to
subscribed clients over WebSocket or Server-Sent Events.

Without a subcommand it runs serve.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "livescore %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to YAML config (default $LIVESCORE_CONFIG)")
	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration and installs the global logger.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cmd.Context(), configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logutil.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	zap.ReplaceGlobals(log)
	return cfg, log, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
