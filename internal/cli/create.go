package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/javanstorm/vmbundle/internal/bundle"
	"github.com/javanstorm/vmbundle/internal/config"
	"github.com/javanstorm/vmbundle/internal/instance"
	"github.com/javanstorm/vmbundle/internal/provision"
)

var (
	createDir     string
	createImage   string
	createCPUs    uint64
	createMemory  uint64
	createStorage uint64
	createTiming  bool
)

var createCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Provision a new macOS bundle",
	Long: `Create NAME.bundle in the bundle directory and install macOS into it.

The restore image is downloaded unless --image names a local .ipsw file.
CPU, memory and storage default to the config file values, and values left
at zero there are derived from this host.

Interrupting the command stops it at the next step boundary; the partial
bundle is left on disk.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVarP(&createDir, "dir", "d", "", "container directory (default: bundle_dir from config)")
	createCmd.Flags().StringVarP(&createImage, "image", "i", "", "local restore image to copy instead of downloading")
	createCmd.Flags().Uint64Var(&createCPUs, "cpus", 0, "CPU cores")
	createCmd.Flags().Uint64Var(&createMemory, "memory", 0, "memory in GiB")
	createCmd.Flags().Uint64Var(&createStorage, "storage", 0, "disk size in GiB")
	createCmd.Flags().BoolVar(&createTiming, "timing", false, "print per-stage timing when done")
}

func runCreate(cmd *cobra.Command, args []string) error {
	name := args[0]

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	container := createDir
	if container == "" {
		container = a.cfg.BundleDir
	}
	container, err = filepath.Abs(container)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(container, 0755); err != nil {
		return fmt.Errorf("create container: %w", err)
	}

	layout := bundle.New(container, name)
	if layout.Exists() {
		return fmt.Errorf("bundle %s already exists", layout.Root())
	}

	host, err := probeHost(container)
	if err != nil {
		return fmt.Errorf("probe host: %w", err)
	}

	// Flags override the file, and the result is checked like a config.
	sized := *a.cfg
	if cmd.Flags().Changed("cpus") {
		sized.CPUs = createCPUs
	}
	if cmd.Flags().Changed("memory") {
		sized.MemoryGiB = createMemory
	}
	if cmd.Flags().Changed("storage") {
		sized.StorageGiB = createStorage
	}
	limits := a.engine.Limits()
	if errs := config.ValidateConfig(&sized, limits, host); len(errs) > 0 {
		fmt.Fprint(cmd.ErrOrStderr(), config.FormatValidationErrors(errs))
		if config.HasFatal(errs) {
			return fmt.Errorf("invalid instance size")
		}
	}
	lc := sized.Launch(limits, host)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lock := instance.CreateLock(layout.Root())
	ok, err := a.store.TryLock(ctx, lock)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is being created by another process", instance.ErrBusy, layout.Root())
	}
	defer a.store.ReleaseLock(context.WithoutCancel(ctx), lock)

	var report io.Writer
	if createTiming {
		report = cmd.ErrOrStderr()
	}
	pipeline, err := provision.New(provision.Options{
		Engine:          a.engine,
		Disks:           a.disks,
		Broker:          a.broker,
		RestoreImageURL: a.cfg.RestoreImageURL,
		TimingReport:    report,
		Logger:          a.log,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Creating %s (%s)\n", layout.Root(), lc)

	printer := newProgressPrinter(out)
	tok, runErr := pipeline.Start(ctx, provision.Request{
		Name:       name,
		Container:  container,
		LocalImage: createImage,
		Launch:     lc,
	}, printer.provision)

	// A bundle that installed but failed to clean up is still usable.
	if tok != nil {
		rec, err := a.manager.Register(context.WithoutCancel(ctx), name, layout.Root(), tok)
		if err != nil {
			return fmt.Errorf("register %s: %w", layout.Root(), err)
		}
		fmt.Fprintf(out, "Registered %s as %s\n", rec.Name, rec.ID)
	}
	return runErr
}
