package cli

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	deleteData bool
	deleteYes  bool
)

var deleteCmd = &cobra.Command{
	Use:     "delete NAME|ID",
	Aliases: []string{"rm"},
	Short:   "Forget an instance, optionally deleting its bundle",
	Long: `Remove the instance record. With --data the bundle directory is deleted
as well, after confirmation unless --yes is given. A bundle that was
replaced since it was registered is never deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteData, "data", false, "also delete the bundle directory")
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "do not ask for confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	rec, err := a.manager.Lookup(ctx, args[0])
	if err != nil {
		return err
	}

	if deleteData && !deleteYes {
		reader := bufio.NewReader(cmd.InOrStdin())
		if !confirm(reader, out, fmt.Sprintf("Delete %s and everything in it?", rec.BundlePath)) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if err := a.manager.Delete(ctx, rec.ID, deleteData); err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted %s\n", rec.Name)
	return nil
}
