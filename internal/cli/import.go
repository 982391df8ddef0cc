package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import PATH",
	Short: "Register an existing bundle",
	Long: `Register a .bundle directory that was created elsewhere or whose record
was deleted. Importing a bundle that is already registered prints its
existing record.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.manager.Import(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered %s as %s (%s)\n", rec.Name, rec.ID, rec.BundlePath)
		return nil
	},
}
