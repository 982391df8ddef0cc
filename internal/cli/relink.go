package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var relinkCmd = &cobra.Command{
	Use:   "relink NAME|ID PATH",
	Short: "Point an instance at a bundle that has moved",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		rec, err := a.manager.Lookup(ctx, args[0])
		if err != nil {
			return err
		}
		rec, err = a.manager.Relink(ctx, rec.ID, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Relinked %s to %s\n", rec.Name, rec.BundlePath)
		return nil
	},
}
