package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strydelabs/hrrscan/core/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate the config file given with --config. Every threshold is
checked for presence and range; a config that fails here would be rejected at
startup before any session is processed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			return fmt.Errorf("config validate requires --config")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config %s is valid (version %s, fingerprint %.12s)\n",
			configPath, cfg.Version, cfg.Fingerprint())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version: %s\nfingerprint: %s\n", cfg.Version, cfg.Fingerprint())
		fmt.Fprintf(cmd.OutOrStdout(), "peak: prominence=%.1f min_distance=%.0fs\n",
			cfg.Peak.Prominence, cfg.Peak.MinDistanceS)
		fmt.Fprintf(cmd.OutOrStdout(), "valley: prominence=%.1f lookback=%.0fs min_drop=%.1f\n",
			cfg.Valley.Prominence, cfg.Valley.LookbackS, cfg.Valley.MinDrop)
		fmt.Fprintf(cmd.OutOrStdout(), "tau bounds: %.0f-%.0fs\n", cfg.Tau.MinS, cfg.Tau.MaxS)
		for _, w := range cfg.Windows {
			req := "optional"
			if w.Required {
				req = "required"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "window %s: %.0f-%.0fs min_r2=%.2f min_samples=%d (%s)\n",
				w.Name, w.StartS, w.EndS, w.MinR2, w.MinSamples, req)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
