package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock NAME|ID",
	Short: "Release locks left on an instance's bundle",
	Long: `Release the create, edit and run locks held on the instance's bundle.

Locks left by a process that has exited are reclaimed automatically. Use
this when a bundle still reports being busy, for example because the
database was copied from another machine. Releasing a lock whose holder is
still running lets a second process use the bundle at the same time.`,
	Args: cobra.ExactArgs(1),
	RunE: runUnlock,
}

func runUnlock(cmd *cobra.Command, args []string) error {
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

	released, err := a.manager.Unlock(ctx, rec.ID)
	if err != nil {
		return err
	}
	if len(released) == 0 {
		fmt.Fprintf(out, "%s is not locked.\n", rec.Name)
		return nil
	}
	for _, l := range released {
		state := "exited"
		if l.Alive() {
			state = "still running"
		}
		fmt.Fprintf(out, "Released %s (pid %d, %s, acquired %s)\n", l.Name, l.PID, state, humanize.Time(l.AcquiredAt))
	}
	return nil
}
