package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/javanstorm/vmbundle/pkg/hypervisor"
)

// FakeRestoreImage is the content FakeEngine writes for a fetched image.
const FakeRestoreImage = "fake restore image"

// FakeEngine is an in-memory hypervisor.Engine. It writes placeholder
// files where the real engine would produce them and reports progress in
// quarter steps.
type FakeEngine struct {
	FetchErr   error
	InstallErr error
	StartErr   error

	// ConsumeRestoreImage makes Install delete the restore image it was
	// given.
	ConsumeRestoreImage bool

	// OnStart, if set, is called with every machine Start returns.
	OnStart func(*FakeMachine)

	// Entered, if non-nil, receives a value when a fetch starts.
	Entered chan struct{}
	// Gate, if non-nil, blocks a fetch until it is closed.
	Gate chan struct{}

	EngineLimits hypervisor.Limits

	mu       sync.Mutex
	fetches  int
	installs []hypervisor.InstallRequest
	starts   []hypervisor.StartRequest
}

var _ hypervisor.Engine = (*FakeEngine)(nil)

// NewFakeEngine returns a FakeEngine with permissive limits.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		EngineLimits: hypervisor.Limits{
			MinCPUs:        1,
			MaxCPUs:        16,
			MinMemoryBytes: 1 << 30,
			MaxMemoryBytes: 64 << 30,
		},
	}
}

func (f *FakeEngine) Info() hypervisor.Info {
	return hypervisor.Info{Name: "fake", Arch: "test"}
}

func (f *FakeEngine) Limits() hypervisor.Limits {
	return f.EngineLimits
}

func (f *FakeEngine) FetchRestoreImage(ctx context.Context, dest string, progress hypervisor.ProgressFunc) error {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()

	if f.Entered != nil {
		f.Entered <- struct{}{}
	}
	if f.Gate != nil {
		<-f.Gate
	}
	if f.FetchErr != nil {
		return f.FetchErr
	}

	steps(progress)
	return os.WriteFile(dest, []byte(FakeRestoreImage), 0644)
}

func (f *FakeEngine) Install(ctx context.Context, req *hypervisor.InstallRequest, progress hypervisor.ProgressFunc) error {
	f.mu.Lock()
	f.installs = append(f.installs, *req)
	f.mu.Unlock()

	if err := req.Validate(); err != nil {
		return err
	}
	for _, p := range []string{req.RestoreImage, req.DiskImage} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("fake engine: %w", err)
		}
	}
	if f.InstallErr != nil {
		return f.InstallErr
	}

	for _, p := range []string{req.AuxiliaryStorage, req.HardwareModel, req.MachineIdentifier} {
		if err := os.WriteFile(p, []byte("fake"), 0644); err != nil {
			return err
		}
	}
	steps(progress)
	if f.ConsumeRestoreImage {
		return os.Remove(req.RestoreImage)
	}
	return nil
}

// Start returns a FakeMachine. A RestoreFrom file holding
// FakeSavedState is resumed; anything else boots cold.
func (f *FakeEngine) Start(ctx context.Context, req *hypervisor.StartRequest) (hypervisor.Machine, error) {
	f.mu.Lock()
	f.starts = append(f.starts, *req)
	f.mu.Unlock()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	for _, p := range []string{req.DiskImage, req.AuxiliaryStorage, req.HardwareModel, req.MachineIdentifier} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("fake engine: %w", err)
		}
	}
	if f.StartErr != nil {
		return nil, f.StartErr
	}

	m := &FakeMachine{done: make(chan struct{})}
	if req.RestoreFrom != "" {
		data, err := os.ReadFile(req.RestoreFrom)
		m.restored = err == nil && string(data) == FakeSavedState
	}
	if f.OnStart != nil {
		f.OnStart(m)
	}
	return m, nil
}

// Starts returns the requests passed to Start.
func (f *FakeEngine) Starts() []hypervisor.StartRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hypervisor.StartRequest(nil), f.starts...)
}

// FakeSavedState is the content FakeMachine.Save writes.
const FakeSavedState = "fake saved state"

// FakeMachine is a guest that runs until one of its stop methods, or
// PowerOff, is called.
type FakeMachine struct {
	restored bool
	done     chan struct{}

	// IgnoreStop makes Stop return without stopping the guest.
	IgnoreStop bool
	// SaveErr, if set, is returned by Save.
	SaveErr    error

	mu     sync.Mutex
	err    error
	calls  []string
	closed bool
}

var _ hypervisor.Machine = (*FakeMachine)(nil)

func (m *FakeMachine) Restored() bool { return m.restored }

func (m *FakeMachine) Done() <-chan struct{} { return m.done }

func (m *FakeMachine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// PowerOff stops the guest as if it shut itself down. A non-nil err
// marks the stop as a failure.
func (m *FakeMachine) PowerOff(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halt(err)
}

func (m *FakeMachine) halt(err error) {
	if m.closed {
		return
	}
	m.closed = true
	m.err = err
	close(m.done)
}

func (m *FakeMachine) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "stop")
	if m.closed {
		return hypervisor.ErrNotRunning
	}
	if !m.IgnoreStop {
		m.halt(nil)
	}
	return nil
}

func (m *FakeMachine) Kill(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "kill")
	if m.closed {
		return hypervisor.ErrNotRunning
	}
	m.halt(nil)
	return nil
}

func (m *FakeMachine) Save(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "save")
	if m.closed {
		return hypervisor.ErrNotRunning
	}
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if err := os.WriteFile(path, []byte(FakeSavedState), 0644); err != nil {
		return err
	}
	m.halt(nil)
	return nil
}

// Calls returns the stop methods called, in order.
func (m *FakeMachine) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Fetches returns how many fetches were started.
func (f *FakeEngine) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// Installs returns the requests passed to Install.
func (f *FakeEngine) Installs() []hypervisor.InstallRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hypervisor.InstallRequest(nil), f.installs...)
}

func steps(progress hypervisor.ProgressFunc) {
	if progress == nil {
		return
	}
	for _, v := range []float64{0, 0.25, 0.5, 0.75, 1} {
		progress(v)
	}
}
