package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/javanstorm/vmbundle/internal/bundle"
	"github.com/javanstorm/vmbundle/internal/instance"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered instances",
	Long: `List every registered instance. Each bundle is looked up again first,
so instances whose bundle was moved or deleted are shown as missing.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.manager.RefreshLinks(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No instances. Create one with 'vmbundle create NAME'.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tDISK\tCREATED\tPATH")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Name, linkStatus(r), diskUsage(r), humanize.Time(r.CreatedAt), r.BundlePath)
	}
	return w.Flush()
}

func linkStatus(r *instance.Record) string {
	if r.Linked {
		return "ok"
	}
	return "missing"
}

// diskUsage reports the allocated size of the bundle's disk image.
func diskUsage(r *instance.Record) string {
	if !r.Linked {
		return "-"
	}
	layout, err := bundle.Open(r.BundlePath)
	if err != nil {
		return "-"
	}
	info, err := os.Stat(layout.DiskImage())
	if err != nil {
		return "-"
	}
	return humanize.IBytes(allocated(info))
}
