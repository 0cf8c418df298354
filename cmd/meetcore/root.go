package main

import (
	"meetcore/pkg/config"

	"github.com/spf13/cobra"
)

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:          "meetcore",
		Short:        "meetcore tracks peers, producers and network quality of a meeting",
		Long:         `meetcore joins a meeting session, follows its signaling events and grades transport packet loss.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "configs/config.yaml", "config file")
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig falls back to defaults when the config file does not exist.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}
