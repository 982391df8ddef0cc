// Package hypervisor is the boundary to the host virtualization engine
// (macOS Virtualization.framework). The engine is treated as an opaque
// collaborator: it fetches restore images, builds a machine from a bundle's
// files, runs the guest installer and boots installed guests.
package hypervisor

import "context"

// ProgressFunc receives fractional completion in [0, 1].
type ProgressFunc func(fraction float64)

// Engine is the interface the provisioning pipeline drives.
// Platform-specific implementations satisfy it.
type Engine interface {
	Info() Info

	// Limits reports the CPU and memory bounds the engine accepts.
	Limits() Limits

	// FetchRestoreImage downloads the latest supported restore image to
	// dest, reporting fractional progress while it runs.
	FetchRestoreImage(ctx context.Context, dest string, progress ProgressFunc) error

	// Install creates the platform files named in req and installs the
	// guest from req.RestoreImage onto req.DiskImage.
	Install(ctx context.Context, req *InstallRequest, progress ProgressFunc) error

	// Start boots an installed bundle, or resumes it from
	// req.RestoreFrom. The returned Machine runs until stopped.
	Start(ctx context.Context, req *StartRequest) (Machine, error)
}

// Info contains engine metadata.
type Info struct {
	Name string // "vz" or "unsupported"
	Arch string
}

// Limits are the inclusive CPU and memory bounds of the engine.
type Limits struct {
	MinCPUs        uint64
	MaxCPUs        uint64
	MinMemoryBytes uint64
	MaxMemoryBytes uint64
}
