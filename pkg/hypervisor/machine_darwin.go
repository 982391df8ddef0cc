//go:build darwin && arm64

package hypervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/Code-Hex/vz/v3"
)

func (vzEngine) Start(ctx context.Context, req *StartRequest) (Machine, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.RestoreFrom != "" {
		vm, err := newMachine(req)
		if err != nil {
			return nil, err
		}
		if err := vm.RestoreMachineStateFromURL(req.RestoreFrom); err == nil {
			if err := vm.Resume(); err != nil {
				return nil, fmt.Errorf("vzEngine: resume VM: %w", err)
			}
			return watch(vm, true), nil
		}
		// The state did not match this machine; boot it fresh instead.
	}

	vm, err := newMachine(req)
	if err != nil {
		return nil, err
	}
	var opts []vz.VirtualMachineStartOption
	if req.Recovery {
		opts = append(opts, vz.WithStartUpFromMacOSRecovery(true))
	}
	if err := vm.Start(opts...); err != nil {
		return nil, fmt.Errorf("vzEngine: start VM: %w", err)
	}
	return watch(vm, false), nil
}

// newMachine builds a VM from the platform files written at install time.
func newMachine(req *StartRequest) (*vz.VirtualMachine, error) {
	hw, err := vz.NewMacHardwareModelWithDataPath(req.HardwareModel)
	if err != nil {
		return nil, fmt.Errorf("vzEngine: load hardware model: %w", err)
	}
	if !hw.Supported() {
		return nil, ErrUnsupportedModel
	}
	id, err := vz.NewMacMachineIdentifierWithDataPath(req.MachineIdentifier)
	if err != nil {
		return nil, fmt.Errorf("vzEngine: load machine identifier: %w", err)
	}
	aux, err := vz.NewMacAuxiliaryStorage(req.AuxiliaryStorage)
	if err != nil {
		return nil, fmt.Errorf("vzEngine: open auxiliary storage: %w", err)
	}
	platform, err := vz.NewMacPlatformConfiguration(
		vz.WithMacAuxiliaryStorage(aux),
		vz.WithMacHardwareModel(hw),
		vz.WithMacMachineIdentifier(id),
	)
	if err != nil {
		return nil, fmt.Errorf("vzEngine: create platform config: %w", err)
	}

	cfg, err := machineConfiguration(req.DiskImage, platform, req.CPUs, req.MemoryBytes)
	if err != nil {
		return nil, err
	}
	vm, err := vz.NewVirtualMachine(cfg)
	if err != nil {
		return nil, fmt.Errorf("vzEngine: create VM: %w", err)
	}
	return vm, nil
}

// vzMachine is a running vz guest.
type vzMachine struct {
	vm       *vz.VirtualMachine
	restored bool
	done     chan struct{}

	mu  sync.Mutex
	err error
}

func watch(vm *vz.VirtualMachine, restored bool) *vzMachine {
	m := &vzMachine{vm: vm, restored: restored, done: make(chan struct{})}

	// Monitor VM state in background
	go func() {
		defer close(m.done)
		for state := range vm.StateChangedNotify() {
			switch state {
			case vz.VirtualMachineStateStopped:
				return
			case vz.VirtualMachineStateError:
				m.mu.Lock()
				m.err = ErrMachineFailed
				m.mu.Unlock()
				return
			}
		}
	}()
	return m
}

func (m *vzMachine) Restored() bool { return m.restored }

func (m *vzMachine) Done() <-chan struct{} { return m.done }

func (m *vzMachine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *vzMachine) running() bool {
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

func (m *vzMachine) Stop(ctx context.Context) error {
	if !m.running() {
		return ErrNotRunning
	}
	ok, err := m.vm.RequestStop()
	if err != nil {
		return fmt.Errorf("vzEngine: request stop: %w", err)
	}
	if !ok {
		return fmt.Errorf("vzEngine: request stop: %w", ErrNotRunning)
	}
	return nil
}

func (m *vzMachine) Kill(ctx context.Context) error {
	if !m.running() {
		return ErrNotRunning
	}
	if err := m.vm.Stop(); err != nil {
		return fmt.Errorf("vzEngine: force stop: %w", err)
	}
	return nil
}

func (m *vzMachine) Save(ctx context.Context, path string) error {
	if !m.running() {
		return ErrNotRunning
	}
	if err := m.vm.Pause(); err != nil {
		return fmt.Errorf("vzEngine: pause VM: %w", err)
	}
	if err := m.vm.SaveMachineStateToPath(path); err != nil {
		if rerr := m.vm.Resume(); rerr != nil {
			return fmt.Errorf("vzEngine: save state: %w (resume: %v)", err, rerr)
		}
		return fmt.Errorf("vzEngine: save state: %w", err)
	}
	if err := m.vm.Stop(); err != nil {
		return fmt.Errorf("vzEngine: stop after save: %w", err)
	}
	return nil
}
