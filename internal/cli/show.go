package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/javanstorm/vmbundle/internal/capability"
	"github.com/javanstorm/vmbundle/internal/instance"
)

var showCmd = &cobra.Command{
	Use:   "show NAME|ID",
	Short: "Show one instance and its launch configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
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

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", rec.ID)
	fmt.Fprintf(w, "Name:\t%s\n", rec.Name)
	fmt.Fprintf(w, "Bundle:\t%s\n", rec.BundlePath)
	fmt.Fprintf(w, "Created:\t%s (%s)\n", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(rec.CreatedAt))
	fmt.Fprintf(w, "Updated:\t%s\n", humanize.Time(rec.UpdatedAt))
	if rec.LastRunAt.IsZero() {
		fmt.Fprintf(w, "Last run:\tnever\n")
	} else {
		fmt.Fprintf(w, "Last run:\t%s\n", humanize.Time(rec.LastRunAt))
	}

	res, err := a.manager.Resolve(ctx, rec.ID)
	switch {
	case errors.Is(err, capability.ErrNotFound):
		fmt.Fprintf(w, "Status:\tmissing (use 'vmbundle relink')\n")
		return w.Flush()
	case err != nil:
		return err
	case res.Stale:
		fmt.Fprintf(w, "Status:\treplaced since it was registered\n")
		return w.Flush()
	}
	fmt.Fprintf(w, "Status:\tok\n")

	cur, err := a.manager.Inspect(ctx, rec.ID)
	if err != nil && !errors.Is(err, instance.ErrStale) {
		return err
	}
	if cur != nil {
		source := ""
		if !cur.Persisted {
			source = " (recommended, not saved)"
		}
		fmt.Fprintf(w, "CPU cores:\t%d%s\n", cur.Config.CPUCores, source)
		fmt.Fprintf(w, "Memory:\t%d GiB%s\n", cur.Config.MemoryGiB, source)
		fmt.Fprintf(w, "Storage:\t%d GiB%s\n", cur.Config.StorageGiB, source)
		b := cur.Bounds
		fmt.Fprintf(w, "Editable:\tcpus %d-%d, memory %d-%d GiB, storage %d-%d GiB\n",
			b.MinCPUs, b.MaxCPUs, b.MinMemoryGiB, b.MaxMemoryGiB, b.MinStorageGiB, b.MaxStorageGiB)
		if _, err := os.Stat(cur.Layout.SaveFile()); err == nil {
			fmt.Fprintf(w, "Saved state:\tyes, the next run resumes it\n")
		}
	}
	return w.Flush()
}
