package hypervisor

// InstallRequest names the bundle files and sizing used to install a guest.
type InstallRequest struct {
	// RestoreImage is the installer image to boot from.
	RestoreImage string

	// DiskImage is the pre-allocated raw disk the guest installs onto.
	DiskImage string

	// AuxiliaryStorage, HardwareModel and MachineIdentifier are created
	// by Install.
	AuxiliaryStorage  string
	HardwareModel     string
	MachineIdentifier string

	CPUs        uint64
	MemoryBytes uint64
}

// Validate performs basic validation of the request.
func (r *InstallRequest) Validate() error {
	if r.CPUs < 1 {
		return ErrInvalidCPUCount
	}
	if r.MemoryBytes < 128*1024*1024 {
		return ErrInsufficientMemory
	}
	if r.RestoreImage == "" {
		return ErrMissingRestoreImage
	}
	if r.DiskImage == "" {
		return ErrMissingDisk
	}
	if r.AuxiliaryStorage == "" || r.HardwareModel == "" || r.MachineIdentifier == "" {
		return ErrMissingPlatformFiles
	}
	return nil
}
