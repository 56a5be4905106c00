package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/irctrakz/wildprobe/pkg/config"
	"github.com/irctrakz/wildprobe/pkg/logging"
)

var (
	configPath string
	logLevel   string
	Version    = "dev"
	Commit     = "none"
)

var rootCmd = &cobra.Command{
	Use:   "wildprobe",
	Short: "Passive WiFi probe request and BLE advertisement sensor",
	Long: `wildprobe captures WiFi probe requests and BLE advertisements in
alternating scan windows, filters out unwanted addresses, and stores every
accepted record as CSV.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "wildprobe %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (.yaml, .yml or .json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd, replayCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config named by --config and applies logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		if _, err := logging.ParseLevel(logLevel); err != nil {
			return nil, err
		}
		cfg.Logging.Level = logLevel
	}
	if err := cfg.ApplyLogging(); err != nil {
		return nil, err
	}
	return cfg, nil
}
