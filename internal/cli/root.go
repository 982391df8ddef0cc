// Package cli provides the command-line interface for vmbundle.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/javanstorm/vmbundle/internal/config"
)

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "vmbundle",
	Short: "vmbundle - provision and size macOS VM bundles",
	Long: `vmbundle creates macOS virtual machine bundles on Apple silicon.

A bundle is a directory holding the guest's disk image, platform files and
launch configuration. vmbundle downloads or copies a restore image, creates
the disk, installs the guest and keeps a record of every bundle so it can be
found again after it moves.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it
		switch cmd.Name() {
		case "version", "completion", "help":
			return nil
		}
		if err := config.Load(configFile); err != nil {
			return err
		}
		if verbose {
			config.Global.LogLevel = "debug"
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ~/.vmbundle/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(relinkCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(unlockCmd)
}
