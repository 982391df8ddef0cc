package hypervisor

import "errors"

// Request errors
var (
	ErrInvalidCPUCount      = errors.New("hypervisor: CPU count must be at least 1")
	ErrInsufficientMemory   = errors.New("hypervisor: memory must be at least 128MB")
	ErrMissingRestoreImage  = errors.New("hypervisor: restore image path is required")
	ErrMissingDisk          = errors.New("hypervisor: disk image path is required")
	ErrMissingPlatformFiles = errors.New("hypervisor: platform file paths are required")
)

// Engine errors
var (
	ErrUnsupportedImage = errors.New("hypervisor: restore image is not supported on this host")
	ErrInvalidMachine   = errors.New("hypervisor: machine configuration is invalid")
	ErrUnsupportedModel = errors.New("hypervisor: hardware model is not supported on this host")
	ErrMachineFailed    = errors.New("hypervisor: guest stopped with an error")
	ErrNotRunning       = errors.New("hypervisor: guest is not running")
)

// Platform errors
var (
	ErrUnsupportedPlatform = errors.New("hypervisor: platform not supported")
)
