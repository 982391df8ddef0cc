package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/javanstorm/vmbundle/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the version, commit hash, and build date of vmbundle.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "vmbundle %s\n", version.Version)
		fmt.Fprintf(out, "  Commit:     %s\n", version.Commit)
		fmt.Fprintf(out, "  Build Date: %s\n", version.BuildDate)

		engine, err := newEngine()
		if err != nil {
			return err
		}
		info := engine.Info()
		fmt.Fprintf(out, "  Engine:     %s (%s)\n", info.Name, info.Arch)
		return nil
	},
}
