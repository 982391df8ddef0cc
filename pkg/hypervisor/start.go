package hypervisor

import "context"

// StartRequest names an installed bundle's files and the sizing to boot
// it with.
type StartRequest struct {
	DiskImage         string
	AuxiliaryStorage  string
	HardwareModel     string
	MachineIdentifier string

	CPUs        uint64
	MemoryBytes uint64

	// RestoreFrom, if set, is a saved machine state to resume from. A
	// state that cannot be restored falls back to a cold boot.
	RestoreFrom string

	// Recovery boots into macOS Recovery. Ignored when the state is
	// restored.
	Recovery bool
}

// Validate performs basic validation of the request.
func (r *StartRequest) Validate() error {
	if r.CPUs < 1 {
		return ErrInvalidCPUCount
	}
	if r.MemoryBytes < 128*1024*1024 {
		return ErrInsufficientMemory
	}
	if r.DiskImage == "" {
		return ErrMissingDisk
	}
	if r.AuxiliaryStorage == "" || r.HardwareModel == "" || r.MachineIdentifier == "" {
		return ErrMissingPlatformFiles
	}
	return nil
}

// Machine is a guest started by Engine.Start.
type Machine interface {
	// Restored reports whether the guest resumed from a saved state.
	Restored() bool

	// Done is closed once the guest has stopped. Err is valid after that.
	Done() <-chan struct{}
	Err() error

	// Stop asks the guest to shut down.
	Stop(ctx context.Context) error

	// Kill stops the guest immediately.
	Kill(ctx context.Context) error

	// Save pauses the guest, writes its state to path and stops it.
	Save(ctx context.Context, path string) error
}
