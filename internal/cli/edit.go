package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/javanstorm/vmbundle/internal/instance"
)

var (
	editCPUs    uint64
	editMemory  uint64
	editStorage uint64
)

var editCmd = &cobra.Command{
	Use:   "edit NAME|ID",
	Short: "Change the CPU, memory or storage of an instance",
	Long: `Change the launch configuration of an instance.

With no flags the current values are shown and each one is prompted for;
pressing enter keeps the current value. Changing storage resizes the disk
image in place, which may take a while.`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

func init() {
	editCmd.Flags().Uint64Var(&editCPUs, "cpus", 0, "CPU cores")
	editCmd.Flags().Uint64Var(&editMemory, "memory", 0, "memory in GiB")
	editCmd.Flags().Uint64Var(&editStorage, "storage", 0, "disk size in GiB")
}

func runEdit(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	rec, err := a.manager.Lookup(ctx, args[0])
	if err != nil {
		return err
	}

	cur, err := a.manager.Inspect(ctx, rec.ID)
	if errors.Is(err, instance.ErrStale) {
		fmt.Fprintf(out, "Bundle at %s was replaced, relinking.\n", rec.BundlePath)
		if _, err := a.manager.Remint(ctx, rec.ID, ""); err != nil {
			return err
		}
		cur, err = a.manager.Inspect(ctx, rec.ID)
	}
	if err != nil {
		return err
	}
	if !cur.Persisted {
		fmt.Fprintln(out, "Launch configuration could not be read; starting from recommended values.")
	}

	next := cur.Config
	b := cur.Bounds
	flags := cmd.Flags()
	if flags.Changed("cpus") || flags.Changed("memory") || flags.Changed("storage") {
		if flags.Changed("cpus") {
			next.CPUCores = editCPUs
		}
		if flags.Changed("memory") {
			next.MemoryGiB = editMemory
		}
		if flags.Changed("storage") {
			next.StorageGiB = editStorage
		}
	} else {
		fmt.Fprintf(out, "%s (%s)\n", rec.Name, cur.Layout.Root())
		reader := bufio.NewReader(cmd.InOrStdin())
		next.CPUCores = editUint(reader, out, "CPU cores", next.CPUCores, b.MinCPUs, b.MaxCPUs)
		next.MemoryGiB = editUint(reader, out, "Memory (GiB)", next.MemoryGiB, b.MinMemoryGiB, b.MaxMemoryGiB)
		next.StorageGiB = editUint(reader, out, "Storage (GiB)", next.StorageGiB, b.MinStorageGiB, b.MaxStorageGiB)
	}

	if cur.Persisted && next == cur.Config {
		fmt.Fprintln(out, "No changes.")
		return nil
	}

	printer := newProgressPrinter(out)
	if err := a.manager.Edit(ctx, rec.ID, next, printer.edit); err != nil {
		printer.finishLine()
		return err
	}
	printer.finishLine()
	fmt.Fprintf(out, "Updated %s: %s\n", rec.Name, next)
	return nil
}
