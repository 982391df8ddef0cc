package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/javanstorm/vmbundle/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging defaults, the config file and
VMBUNDLE_* environment variables, and check it against this host.

Values of zero for cpus, memory_gib and storage_gib mean the size is derived
from the host when an instance is created.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg := config.Global
	out := cmd.OutOrStdout()

	file := cfg.File
	if file == "" {
		file = "(none, using defaults)"
	}
	fmt.Fprintf(out, "Config file: %s\n\n", file)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, kv := range cfg.Settings() {
		fmt.Fprintf(w, "%s\t%s\n", kv[0], kv[1])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}
	host, err := probeHost(existingDir(cfg.BundleDir))
	if err != nil {
		return fmt.Errorf("probe host: %w", err)
	}

	errs := config.ValidateConfig(cfg, engine.Limits(), host)
	fmt.Fprintln(out)
	if len(errs) == 0 {
		fmt.Fprintln(out, "Configuration is valid.")
		return nil
	}
	fmt.Fprint(out, config.FormatValidationErrors(errs))
	if config.HasFatal(errs) {
		return fmt.Errorf("configuration has errors")
	}
	return nil
}
