// Package cmd provides the hrrscan CLI: importing heart-rate sessions,
// running the recovery-extraction pipeline and validating configuration.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/strydelabs/hrrscan/core/config"
)

var (
	dbPath     string
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "hrrscan",
	Short: "hrrscan - heart-rate-recovery extraction",
	Long: `hrrscan extracts heart-rate-recovery events from recorded exercise
sessions, fitting exponential decay curves to each recovery and classifying
every interval as pass, flagged or rejected.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "hrrscan.db", "path to the session database")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config (built-in defaults when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig loads the configured threshold set, or the built-in defaults
// when no --config was given. Configuration errors are fatal before any
// session is touched.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func Execute() error {
	return rootCmd.Execute()
}
