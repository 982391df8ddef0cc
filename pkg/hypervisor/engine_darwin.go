//go:build darwin && arm64

package hypervisor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/Code-Hex/vz/v3"
)

const pollInterval = 500 * time.Millisecond

// vzEngine implements Engine using macOS Virtualization.framework.
type vzEngine struct{}

// NewEngine creates a vz-based engine.
func NewEngine() (Engine, error) {
	return vzEngine{}, nil
}

func (vzEngine) Info() Info {
	return Info{Name: "vz", Arch: runtime.GOARCH}
}

func (vzEngine) Limits() Limits {
	return Limits{
		MinCPUs:        uint64(vz.VirtualMachineConfigurationMinimumAllowedCPUCount()),
		MaxCPUs:        uint64(vz.VirtualMachineConfigurationMaximumAllowedCPUCount()),
		MinMemoryBytes: vz.VirtualMachineConfigurationMinimumAllowedMemorySize(),
		MaxMemoryBytes: vz.VirtualMachineConfigurationMaximumAllowedMemorySize(),
	}
}

func (vzEngine) FetchRestoreImage(ctx context.Context, dest string, progress ProgressFunc) error {
	reader, err := vz.FetchLatestSupportedMacOSRestoreImage(ctx, dest)
	if err != nil {
		return fmt.Errorf("vzEngine: fetch restore image: %w", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-reader.Finished():
			if err := reader.Err(); err != nil {
				return fmt.Errorf("vzEngine: fetch restore image: %w", err)
			}
			report(progress, 1)
			return nil
		case <-ticker.C:
			report(progress, reader.FractionCompleted())
		}
	}
}

func (vzEngine) Install(ctx context.Context, req *InstallRequest, progress ProgressFunc) error {
	if err := req.Validate(); err != nil {
		return err
	}

	image, err := vz.LoadMacOSRestoreImageFromPath(req.RestoreImage)
	if err != nil {
		return fmt.Errorf("vzEngine: load restore image: %w", err)
	}
	requirements := image.MostFeaturefulSupportedConfiguration()
	if requirements == nil {
		return ErrUnsupportedImage
	}

	if floor := uint64(requirements.MinimumSupportedCPUCount()); req.CPUs < floor {
		return fmt.Errorf("%w: image needs at least %d CPUs, got %d", ErrInvalidMachine, floor, req.CPUs)
	}
	if floor := requirements.MinimumSupportedMemorySize(); req.MemoryBytes < floor {
		return fmt.Errorf("%w: image needs at least %d bytes of memory, got %d", ErrInvalidMachine, floor, req.MemoryBytes)
	}

	platform, err := createPlatform(req, requirements.HardwareModel())
	if err != nil {
		return err
	}
	cfg, err := machineConfiguration(req.DiskImage, platform, req.CPUs, req.MemoryBytes)
	if err != nil {
		return err
	}

	vm, err := vz.NewVirtualMachine(cfg)
	if err != nil {
		return fmt.Errorf("vzEngine: create VM: %w", err)
	}
	installer, err := vz.NewMacOSInstaller(vm, req.RestoreImage)
	if err != nil {
		return fmt.Errorf("vzEngine: create installer: %w", err)
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-installer.Done():
				return
			case <-ticker.C:
				report(progress, installer.FractionCompleted())
			}
		}
	}()

	err = installer.Install(ctx)
	close(done)
	if err != nil {
		return fmt.Errorf("vzEngine: install: %w", err)
	}
	report(progress, 1)
	return nil
}

// createPlatform writes the hardware model and a fresh machine identifier
// into the bundle and creates the auxiliary storage.
func createPlatform(req *InstallRequest, hw *vz.MacHardwareModel) (*vz.MacPlatformConfiguration, error) {
	if err := os.WriteFile(req.HardwareModel, hw.DataRepresentation(), 0644); err != nil {
		return nil, fmt.Errorf("vzEngine: write hardware model: %w", err)
	}

	id, err := vz.NewMacMachineIdentifier()
	if err != nil {
		return nil, fmt.Errorf("vzEngine: create machine identifier: %w", err)
	}
	if err := os.WriteFile(req.MachineIdentifier, id.DataRepresentation(), 0644); err != nil {
		return nil, fmt.Errorf("vzEngine: write machine identifier: %w", err)
	}

	aux, err := vz.NewMacAuxiliaryStorage(req.AuxiliaryStorage, vz.WithCreatingMacAuxiliaryStorage(hw))
	if err != nil {
		return nil, fmt.Errorf("vzEngine: create auxiliary storage: %w", err)
	}

	platform, err := vz.NewMacPlatformConfiguration(
		vz.WithMacAuxiliaryStorage(aux),
		vz.WithMacHardwareModel(hw),
		vz.WithMacMachineIdentifier(id),
	)
	if err != nil {
		return nil, fmt.Errorf("vzEngine: create platform config: %w", err)
	}
	return platform, nil
}

func machineConfiguration(disk string, platform vz.PlatformConfiguration, cpus, memory uint64) (*vz.VirtualMachineConfiguration, error) {
	boot, err := vz.NewMacOSBootLoader()
	if err != nil {
		return nil, fmt.Errorf("vzEngine: create boot loader: %w", err)
	}
	cfg, err := vz.NewVirtualMachineConfiguration(boot, uint(cpus), memory)
	if err != nil {
		return nil, fmt.Errorf("vzEngine: create VM config: %w", err)
	}
	cfg.SetPlatformVirtualMachineConfiguration(platform)

	graphics, err := vz.NewMacGraphicsDeviceConfiguration()
	if err != nil {
		return nil, fmt.Errorf("vzEngine: create graphics device: %w", err)
	}
	display, err := vz.NewMacGraphicsDisplayConfiguration(1920, 1200, 80)
	if err != nil {
		return nil, fmt.Errorf("vzEngine: create display: %w", err)
	}
	graphics.SetDisplays(display)
	cfg.SetGraphicsDevicesVirtualMachineConfiguration([]vz.GraphicsDeviceConfiguration{graphics})

	attachment, err := vz.NewDiskImageStorageDeviceAttachment(disk, false)
	if err != nil {
		return nil, fmt.Errorf("vzEngine: attach disk: %w", err)
	}
	block, err := vz.NewVirtioBlockDeviceConfiguration(attachment)
	if err != nil {
		return nil, fmt.Errorf("vzEngine: create block device: %w", err)
	}
	cfg.SetStorageDevicesVirtualMachineConfiguration([]vz.StorageDeviceConfiguration{block})

	nat, err := vz.NewNATNetworkDeviceAttachment()
	if err != nil {
		return nil, fmt.Errorf("vzEngine: create NAT attachment: %w", err)
	}
	network, err := vz.NewVirtioNetworkDeviceConfiguration(nat)
	if err != nil {
		return nil, fmt.Errorf("vzEngine: create network device: %w", err)
	}
	mac, err := vz.NewRandomLocallyAdministeredMACAddress()
	if err != nil {
		return nil, fmt.Errorf("vzEngine: generate MAC: %w", err)
	}
	network.SetMACAddress(mac)
	cfg.SetNetworkDevicesVirtualMachineConfiguration([]*vz.VirtioNetworkDeviceConfiguration{network})

	pointer, err := vz.NewUSBScreenCoordinatePointingDeviceConfiguration()
	if err != nil {
		return nil, fmt.Errorf("vzEngine: create pointing device: %w", err)
	}
	cfg.SetPointingDevicesVirtualMachineConfiguration([]vz.PointingDeviceConfiguration{pointer})

	keyboard, err := vz.NewUSBKeyboardConfiguration()
	if err != nil {
		return nil, fmt.Errorf("vzEngine: create keyboard: %w", err)
	}
	cfg.SetKeyboardsVirtualMachineConfiguration([]vz.KeyboardConfiguration{keyboard})

	sound, err := vz.NewVirtioSoundDeviceConfiguration()
	if err != nil {
		return nil, fmt.Errorf("vzEngine: create sound device: %w", err)
	}
	output, err := vz.NewVirtioSoundDeviceHostOutputStreamConfiguration()
	if err != nil {
		return nil, fmt.Errorf("vzEngine: create sound output: %w", err)
	}
	sound.SetStreams(output)
	cfg.SetAudioDevicesVirtualMachineConfiguration([]vz.AudioDeviceConfiguration{sound})

	if ok, err := cfg.Validate(); !ok || err != nil {
		return nil, fmt.Errorf("vzEngine: validate config: %w", orInvalid(err))
	}
	if ok, err := cfg.ValidateSaveRestoreSupport(); !ok || err != nil {
		return nil, fmt.Errorf("vzEngine: validate save/restore: %w", orInvalid(err))
	}
	return cfg, nil
}

func orInvalid(err error) error {
	if err == nil {
		return ErrInvalidMachine
	}
	return err
}

func report(progress ProgressFunc, fraction float64) {
	if progress != nil {
		progress(fraction)
	}
}
