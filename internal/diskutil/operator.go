// Package diskutil drives the external helper that creates and resizes
// raw disk images, parsing its textual progress output.
package diskutil

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/sirupsen/logrus"

	"github.com/javanstorm/vmbundle/internal/logging"
)

const (
	// DefaultBinary is the helper used when Options.Binary is empty.
	DefaultBinary = "/usr/sbin/diskutil"

	// DefaultFormat is the sparse image format requested on create.
	DefaultFormat = "ASIF"
)

// Generic diagnostics used when the helper printed nothing.
const (
	createFailed = "failed to create disk image"
	resizeFailed = "failed to resize disk image"
)

// Options configure an Operator.
type Options struct {
	// Binary is the helper executable.
	Binary string

	// Sudo runs the helper through "sudo -n".
	Sudo bool

	// Format is the image format passed to create.
	Format string

	Logger logrus.FieldLogger
}

// Operator runs the disk helper. It holds no per-image state; callers must
// not run two operations against the same image concurrently.
type Operator struct {
	binary string
	sudo   bool
	format string
	log    logrus.FieldLogger
}

// New returns an Operator, filling unset options with defaults.
func New(opts Options) *Operator {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if opts.Format == "" {
		opts.Format = DefaultFormat
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Operator{
		binary: opts.Binary,
		sudo:   opts.Sudo,
		format: opts.Format,
		log:    opts.Logger.WithField("component", "diskutil"),
	}
}

// CreateArgs returns the helper arguments for a blank image of sizeGiB.
func (o *Operator) CreateArgs(path string, sizeGiB uint64) []string {
	return []string{
		"image", "create", "blank",
		"--fs", "none",
		"--format", o.format,
		"--size", sizeArg(sizeGiB),
		path,
	}
}

// ResizeArgs returns the helper arguments for resizing to sizeGiB.
func (o *Operator) ResizeArgs(path string, sizeGiB uint64) []string {
	return []string{
		"image", "resize",
		"--size", sizeArg(sizeGiB),
		path,
	}
}

func sizeArg(gib uint64) string {
	return fmt.Sprintf("%dGiB", gib)
}

// Create makes a sparse, filesystem-less image of sizeGiB at path and waits
// for the helper to exit.
func (o *Operator) Create(ctx context.Context, path string, sizeGiB uint64) error {
	return o.run(ctx, "create", path, o.CreateArgs(path, sizeGiB), nil, createFailed)
}

// Resize grows or shrinks the image at path to sizeGiB. Every
// "[N% completed]" marker the helper prints is passed to sink, in order,
// before Resize returns.
func (o *Operator) Resize(ctx context.Context, path string, sizeGiB uint64, sink Sink) error {
	return o.run(ctx, "resize", path, o.ResizeArgs(path, sizeGiB), sink, resizeFailed)
}

// run starts the helper and waits for it. Once started the helper is not
// killed when ctx is cancelled; ctx only gates the spawn.
func (o *Operator) run(ctx context.Context, op, path string, args []string, sink Sink, generic string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	log := o.log.WithFields(logrus.Fields{"op": op, "path": path})

	cmd := o.command(args)
	scanner := newLineScanner(sink, func(line string) {
		log.Debug(line)
	})
	// Same writer for both streams: exec uses one pipe and one copier.
	cmd.Stdout = scanner
	cmd.Stderr = scanner

	log.WithField("args", cmd.Args).Info("starting disk helper")
	if err := cmd.Start(); err != nil {
		return &SpawnError{Op: op, Binary: cmd.Path, Err: err}
	}

	err := cmd.Wait()
	scanner.Flush()
	if err == nil {
		log.Info("disk helper finished")
		return nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("diskutil: %s %s: wait: %w", op, path, err)
	}

	diag := scanner.LastLine()
	if diag == "" {
		diag = generic
	}
	log.WithField("exit_code", exitErr.ExitCode()).Warn(diag)
	return &ExitError{Op: op, Path: path, Code: exitErr.ExitCode(), Diagnostic: diag}
}

func (o *Operator) command(args []string) *exec.Cmd {
	if o.sudo {
		return exec.Command("sudo", append([]string{"-n", o.binary}, args...)...)
	}
	return exec.Command(o.binary, args...)
}
