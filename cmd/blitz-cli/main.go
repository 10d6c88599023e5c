// cmd/blitz-cli/main.go
package main

import (
	"fmt"
	"os"

	"blitz-workers/internal/common/config"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "blitz-cli",
	Short:        "Operate the Blitz sports answer pipeline",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !needsConfig(cmd) {
			return nil
		}
		var err error
		if configPath != "" {
			cfg, err = config.LoadFromFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(examplesCmd)
}

// needsConfig is false for commands that take every input from flags.
func needsConfig(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "ask", "help", "version":
		return false
	}
	return true
}
