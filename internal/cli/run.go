package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/javanstorm/vmbundle/internal/instance"
)

var (
	runRecovery bool
	runSave     bool
)

var runCmd = &cobra.Command{
	Use:   "run NAME|ID",
	Short: "Boot an instance",
	Long: `Boot the instance and wait until the guest shuts down.

If the bundle holds a saved state from an earlier run it is resumed, and
the saved state is removed either way.

The first interrupt shuts the guest down, or with --save writes its state
into the bundle so the next run resumes where it left off. A second
interrupt stops the guest immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runRecovery, "recovery", false, "boot into macOS Recovery")
	runCmd.Flags().BoolVar(&runSave, "save", false, "save the guest state on interrupt instead of shutting down")
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	rec, err := a.manager.Lookup(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	kill := make(chan struct{})
	go forwardSignals(sigCh, cancel, kill, cmd.ErrOrStderr())

	err = a.manager.Run(ctx, rec.ID, instance.RunOptions{
		Recovery:    runRecovery,
		SaveOnStop:  runSave,
		StopTimeout: a.cfg.StopTimeout,
		Kill:        kill,
		Started: func(restored bool) {
			if restored {
				fmt.Fprintf(out, "Resumed %s from saved state.\n", rec.Name)
			} else {
				fmt.Fprintf(out, "Started %s.\n", rec.Name)
			}
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s stopped.\n", rec.Name)
	return nil
}

// forwardSignals cancels the run on the first signal and closes kill on
// the second. It returns when sigCh is closed or after the second signal.
func forwardSignals(sigCh <-chan os.Signal, cancel context.CancelFunc, kill chan<- struct{}, w io.Writer) {
	first := true
	for range sigCh {
		if first {
			first = false
			fmt.Fprintln(w, "Stopping guest, interrupt again to force.")
			cancel()
			continue
		}
		close(kill)
		return
	}
}
