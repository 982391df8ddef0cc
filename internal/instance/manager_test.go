package instance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanstorm/vmbundle/internal/bundle"
	"github.com/javanstorm/vmbundle/internal/capability"
	"github.com/javanstorm/vmbundle/internal/diskutil"
	"github.com/javanstorm/vmbundle/internal/launch"
	"github.com/javanstorm/vmbundle/internal/testutil"
	"github.com/javanstorm/vmbundle/pkg/hypervisor"
)

var (
	testLimits = hypervisor.Limits{MinCPUs: 1, MaxCPUs: 16, MinMemoryBytes: 1 << 30, MaxMemoryBytes: 64 << 30}
	testHost   = hypervisor.Host{CPUs: 8, MemoryBytes: 16 << 30, AvailableBytes: 500 << 30}
	testConfig = launch.Config{CPUCores: 4, MemoryGiB: 8, StorageGiB: 64}
)

type fixture struct {
	m      *Manager
	engine *testutil.FakeEngine
	store  *SQLiteStore
	broker *capability.Broker
	log    string
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	broker, err := capability.NewBroker(nil)
	require.NoError(t, err)
	script, log := testutil.FakeDiskutil(t)
	store := openStore(t)
	engine := testutil.NewFakeEngine()

	m, err := NewManager(Options{
		Store:  store,
		Broker: broker,
		Disks:  diskutil.New(diskutil.Options{Binary: script}),
		Limits: testLimits,
		Engine: engine,
		Host:   func(string) (hypervisor.Host, error) { return testHost, nil },
	})
	require.NoError(t, err)

	return &fixture{m: m, engine: engine, store: store, broker: broker, log: log, dir: t.TempDir()}
}

// makeBundle creates a bundle directory with metadata and a sparse disk.
func (f *fixture) makeBundle(t *testing.T, name string, cfg launch.Config) bundle.Layout {
	t.Helper()
	layout := bundle.New(f.dir, name)
	require.NoError(t, layout.Create())
	testutil.CreateTestDisk(t, layout.DiskImage(), 1)
	require.NoError(t, launch.WriteFile(layout.Metadata(), cfg))
	return layout
}

func (f *fixture) helperCalls(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.log)
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "TestVM", testConfig)

	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)
	assert.Equal(t, "TestVM", r.Name)
	assert.Equal(t, layout.Root(), r.BundlePath)
	assert.True(t, r.Linked)

	again, err := f.m.Import(ctx, layout.Root()+"/")
	require.NoError(t, err)
	assert.Equal(t, r.ID, again.ID)

	all, err := f.m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestImportRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.m.Import(ctx, f.dir)
	assert.ErrorIs(t, err, bundle.ErrUnsupportedExtension)

	_, err = f.m.Import(ctx, filepath.Join(f.dir, "Missing.bundle"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a, err := f.m.Import(ctx, f.makeBundle(t, "alpha", testConfig).Root())
	require.NoError(t, err)

	got, err := f.m.Lookup(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	got, err = f.m.Lookup(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = f.m.Lookup(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	other := t.TempDir()
	dup := bundle.New(other, "alpha")
	require.NoError(t, dup.Create())
	_, err = f.m.Import(ctx, dup.Root())
	require.NoError(t, err)
	_, err = f.m.Lookup(ctx, "alpha")
	assert.ErrorIs(t, err, ErrAmbiguous)
}

func TestResolveStaleAndRemint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)

	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	require.NoError(t, os.Rename(layout.Root(), layout.Root()+".bak"))
	require.NoError(t, layout.Create())

	res, err := f.m.Resolve(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, res.Stale)

	// Resolve never rewrites the token.
	stored, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Token, stored.Token)

	_, err = f.m.Inspect(ctx, r.ID)
	assert.ErrorIs(t, err, ErrStale)

	_, err = f.m.Remint(ctx, r.ID, "")
	require.NoError(t, err)
	res, err = f.m.Resolve(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, res.Stale)
}

func TestRelinkAndRefreshLinks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)

	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	moved := filepath.Join(t.TempDir(), "vm.bundle")
	require.NoError(t, os.Rename(layout.Root(), moved))

	all, err := f.m.RefreshLinks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Linked)

	_, err = f.m.Relink(ctx, r.ID, filepath.Join(t.TempDir(), "elsewhere"))
	assert.ErrorIs(t, err, bundle.ErrUnsupportedExtension)

	relinked, err := f.m.Relink(ctx, r.ID, moved)
	require.NoError(t, err)
	assert.Equal(t, moved, relinked.BundlePath)
	assert.True(t, relinked.Linked)

	res, err := f.m.Resolve(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, moved, res.Path)

	all, err = f.m.RefreshLinks(ctx)
	require.NoError(t, err)
	assert.True(t, all[0].Linked)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	keep := f.makeBundle(t, "keep", testConfig)
	drop := f.makeBundle(t, "drop", testConfig)
	rk, err := f.m.Import(ctx, keep.Root())
	require.NoError(t, err)
	rd, err := f.m.Import(ctx, drop.Root())
	require.NoError(t, err)

	require.NoError(t, f.m.Delete(ctx, rk.ID, false))
	assert.DirExists(t, keep.Root())

	require.NoError(t, f.m.Delete(ctx, rd.ID, true))
	assert.NoDirExists(t, drop.Root())

	all, err := f.m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	assert.ErrorIs(t, f.m.Delete(ctx, rd.ID, false), ErrNotFound)
}

func TestInspect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	cur, err := f.m.Inspect(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, cur.Persisted)
	assert.Equal(t, testConfig, cur.Config)
	assert.Equal(t, uint64(8), cur.Bounds.MaxCPUs)
	assert.Equal(t, uint64(500), cur.Bounds.MaxStorageGiB)

	require.NoError(t, os.WriteFile(layout.Metadata(), []byte("garbage"), 0644))
	cur, err = f.m.Inspect(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, cur.Persisted)
	assert.Equal(t, launch.Recommended(testLimits, testHost), cur.Config)
}

func TestEditResizesAndSaves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	next := testConfig
	next.StorageGiB = 80

	var events []EditProgress
	require.NoError(t, f.m.Edit(ctx, r.ID, next, func(p EditProgress) {
		events = append(events, p)
	}))

	assert.Equal(t, []EditProgress{
		{Stage: Resizing},
		{Stage: Resizing, Percent: 10},
		{Stage: Resizing, Percent: 60},
		{Stage: Resizing, Percent: 100},
		{Stage: SavingMetadata},
	}, events)
	assert.Contains(t, f.helperCalls(t), "image resize --size 80GiB "+layout.DiskImage())

	got, err := launch.ReadFile(layout.Metadata())
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func TestEditWithoutStorageChangeSkipsResize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	next := testConfig
	next.CPUCores = 6

	var events []EditProgress
	require.NoError(t, f.m.Edit(ctx, r.ID, next, func(p EditProgress) {
		events = append(events, p)
	}))

	assert.Equal(t, []EditProgress{{Stage: SavingMetadata}}, events)
	assert.Empty(t, f.helperCalls(t))

	got, err := launch.ReadFile(layout.Metadata())
	require.NoError(t, err)
	assert.Equal(t, uint64(6), got.CPUCores)
}

func TestEditUnchangedIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	before, err := os.Stat(layout.Metadata())
	require.NoError(t, err)

	var events []EditProgress
	require.NoError(t, f.m.Edit(ctx, r.ID, testConfig, func(p EditProgress) {
		events = append(events, p)
	}))
	assert.Empty(t, events)

	after, err := os.Stat(layout.Metadata())
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestEditRewritesUnreadableMetadata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(layout.Metadata(), []byte{9, 9, 9}, 0644))

	require.NoError(t, f.m.Edit(ctx, r.ID, testConfig, nil))
	got, err := launch.ReadFile(layout.Metadata())
	require.NoError(t, err)
	assert.Equal(t, testConfig, got)
}

func TestEditOutOfBounds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	for _, next := range []launch.Config{
		{CPUCores: 12, MemoryGiB: 8, StorageGiB: 64},
		{CPUCores: 4, MemoryGiB: 32, StorageGiB: 64},
		{CPUCores: 4, MemoryGiB: 8, StorageGiB: 16},
	} {
		assert.ErrorIs(t, f.m.Edit(ctx, r.ID, next, nil), launch.ErrOutOfBounds)
	}
	assert.Empty(t, f.helperCalls(t))
}

func TestEditBusy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	ok, err := f.store.TryLock(ctx, BundleLock(layout.Root()))
	require.NoError(t, err)
	require.True(t, ok)

	next := testConfig
	next.CPUCores = 2
	assert.ErrorIs(t, f.m.Edit(ctx, r.ID, next, nil), ErrBusy)

	require.NoError(t, f.store.ReleaseLock(ctx, BundleLock(layout.Root())))
	assert.NoError(t, f.m.Edit(ctx, r.ID, next, nil))
}

func TestEditResizeFailureKeepsMetadata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.m.disks = diskutil.New(diskutil.Options{Binary: testutil.WriteScript(t, `echo "image is in use" >&2
exit 1`)})
	layout := f.makeBundle(t, "vm", testConfig)
	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	next := testConfig
	next.StorageGiB = 100
	err = f.m.Edit(ctx, r.ID, next, nil)

	var exitErr *diskutil.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, "image is in use", exitErr.Diagnostic)

	got, err := launch.ReadFile(layout.Metadata())
	require.NoError(t, err)
	assert.Equal(t, testConfig, got)

	// The lock is released after a failed edit.
	ok, err := f.store.TryLock(ctx, BundleLock(layout.Root()))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "fresh", testConfig)

	tok, err := f.broker.Mint(layout.Root())
	require.NoError(t, err)
	r, err := f.m.Register(ctx, "fresh", layout.Root(), tok)
	require.NoError(t, err)

	got, err := f.m.Lookup(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestInspectUnreadableMetadataUsesDiskSize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	testutil.CreateTestDisk(t, layout.DiskImage(), 640*1024)
	require.NoError(t, os.Remove(layout.Metadata()))
	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	cur, err := f.m.Inspect(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, cur.Persisted)
	assert.Equal(t, uint64(640), cur.Config.StorageGiB)
	// Larger than the host has free, but already allocated.
	assert.Equal(t, uint64(640), cur.Bounds.MaxStorageGiB)

	// Saving the recommended sizing leaves the disk alone.
	require.NoError(t, f.m.Edit(ctx, r.ID, cur.Config, nil))
	assert.Empty(t, f.helperCalls(t))
	got, err := launch.ReadFile(layout.Metadata())
	require.NoError(t, err)
	assert.Equal(t, cur.Config, got)
}

func TestEditAfterHolderExited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	holdLock(t, f.store, BundleLock(layout.Root()), exitedPID(t))

	next := testConfig
	next.CPUCores = 2
	require.NoError(t, f.m.Edit(ctx, r.ID, next, nil))

	_, err = f.store.LockHolder(ctx, BundleLock(layout.Root()))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	released, err := f.m.Unlock(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, released)

	holdLock(t, f.store, BundleLock(layout.Root()), os.Getppid())
	holdLock(t, f.store, CreateLock(layout.Root()), exitedPID(t))

	next := testConfig
	next.CPUCores = 2
	assert.ErrorIs(t, f.m.Edit(ctx, r.ID, next, nil), ErrBusy)

	released, err = f.m.Unlock(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, released, 2)
	assert.Equal(t, BundleLock(layout.Root()), released[0].Name)
	assert.Equal(t, os.Getppid(), released[0].PID)
	assert.Equal(t, CreateLock(layout.Root()), released[1].Name)
	assert.False(t, released[1].Alive())

	assert.NoError(t, f.m.Edit(ctx, r.ID, next, nil))
}

// installed creates the platform files an install leaves in a bundle.
func installed(t *testing.T, layout bundle.Layout) {
	t.Helper()
	for _, p := range []string{layout.AuxiliaryStorage(), layout.HardwareModel(), layout.MachineIdentifier()} {
		require.NoError(t, os.WriteFile(p, []byte("fake"), 0644))
	}
}

func TestRunUntilGuestStops(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	installed(t, layout)
	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	f.engine.OnStart = func(m *testutil.FakeMachine) { m.PowerOff(nil) }

	var restored []bool
	require.NoError(t, f.m.Run(ctx, r.ID, RunOptions{
		Recovery: true,
		Started:  func(ok bool) { restored = append(restored, ok) },
	}))
	assert.Equal(t, []bool{false}, restored)

	starts := f.engine.Starts()
	require.Len(t, starts, 1)
	assert.Equal(t, uint64(4), starts[0].CPUs)
	assert.Equal(t, uint64(8)*launch.GiB, starts[0].MemoryBytes)
	assert.Equal(t, layout.DiskImage(), starts[0].DiskImage)
	assert.True(t, starts[0].Recovery)
	assert.Empty(t, starts[0].RestoreFrom)

	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), got.LastRunAt, time.Minute)

	_, err = f.store.LockHolder(ctx, BundleLock(layout.Root()))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunGuestFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	installed(t, layout)
	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	f.engine.OnStart = func(m *testutil.FakeMachine) { m.PowerOff(hypervisor.ErrMachineFailed) }
	assert.ErrorIs(t, f.m.Run(ctx, r.ID, RunOptions{}), hypervisor.ErrMachineFailed)
}

func TestRunStartFailureKeepsSavedState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	installed(t, layout)
	require.NoError(t, os.WriteFile(layout.SaveFile(), []byte(testutil.FakeSavedState), 0644))
	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	f.engine.StartErr = errors.New("no hypervisor")
	assert.ErrorIs(t, f.m.Run(ctx, r.ID, RunOptions{}), f.engine.StartErr)
	assert.FileExists(t, layout.SaveFile())
}

// runInBackground starts Run and returns the running machine once the
// guest is up, plus the channel Run's result arrives on.
func runInBackground(t *testing.T, f *fixture, ctx context.Context, id string, opts RunOptions) (*testutil.FakeMachine, <-chan error) {
	t.Helper()
	machines := make(chan *testutil.FakeMachine, 1)
	f.engine.OnStart = func(m *testutil.FakeMachine) { machines <- m }

	done := make(chan error, 1)
	go func() { done <- f.m.Run(ctx, id, opts) }()

	select {
	case m := <-machines:
		return m, done
	case err := <-done:
		t.Fatalf("run returned before the guest started: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("guest did not start")
	}
	return nil, nil
}

func TestRunSaveAndResume(t *testing.T) {
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	installed(t, layout)
	r, err := f.m.Import(context.Background(), layout.Root())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m, done := runInBackground(t, f, ctx, r.ID, RunOptions{SaveOnStop: true})

	// A running guest holds the bundle.
	next := testConfig
	next.CPUCores = 2
	assert.ErrorIs(t, f.m.Edit(context.Background(), r.ID, next, nil), ErrBusy)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"save"}, m.Calls())
	assert.FileExists(t, layout.SaveFile())

	var restored bool
	f.engine.OnStart = func(m *testutil.FakeMachine) { m.PowerOff(nil) }
	require.NoError(t, f.m.Run(context.Background(), r.ID, RunOptions{
		Started: func(ok bool) { restored = ok },
	}))
	assert.True(t, restored)
	assert.NoFileExists(t, layout.SaveFile())

	starts := f.engine.Starts()
	require.Len(t, starts, 2)
	assert.Equal(t, layout.SaveFile(), starts[1].RestoreFrom)
}

func TestRunUnusableSavedStateBootsCold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	installed(t, layout)
	require.NoError(t, os.WriteFile(layout.SaveFile(), []byte("from another machine"), 0644))
	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	restored := true
	f.engine.OnStart = func(m *testutil.FakeMachine) { m.PowerOff(nil) }
	require.NoError(t, f.m.Run(ctx, r.ID, RunOptions{Started: func(ok bool) { restored = ok }}))
	assert.False(t, restored)
	assert.NoFileExists(t, layout.SaveFile())
}

func TestRunSaveFailureShutsDown(t *testing.T) {
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	installed(t, layout)
	r, err := f.m.Import(context.Background(), layout.Root())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	machines := make(chan *testutil.FakeMachine, 1)
	f.engine.OnStart = func(m *testutil.FakeMachine) {
		m.SaveErr = errors.New("save/restore unsupported")
		machines <- m
	}
	done := make(chan error, 1)
	go func() { done <- f.m.Run(ctx, r.ID, RunOptions{SaveOnStop: true}) }()
	m := <-machines
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, []string{"save", "stop"}, m.Calls())
	assert.NoFileExists(t, layout.SaveFile())
}

func TestRunKillsAfterStopTimeout(t *testing.T) {
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	installed(t, layout)
	r, err := f.m.Import(context.Background(), layout.Root())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	machines := make(chan *testutil.FakeMachine, 1)
	f.engine.OnStart = func(m *testutil.FakeMachine) {
		m.IgnoreStop = true
		machines <- m
	}
	done := make(chan error, 1)
	go func() { done <- f.m.Run(ctx, r.ID, RunOptions{StopTimeout: 50 * time.Millisecond}) }()
	m := <-machines
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, []string{"stop", "kill"}, m.Calls())
}

func TestRunKillChannel(t *testing.T) {
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	installed(t, layout)
	r, err := f.m.Import(context.Background(), layout.Root())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	kill := make(chan struct{})
	machines := make(chan *testutil.FakeMachine, 1)
	f.engine.OnStart = func(m *testutil.FakeMachine) {
		m.IgnoreStop = true
		machines <- m
	}
	done := make(chan error, 1)
	go func() { done <- f.m.Run(ctx, r.ID, RunOptions{StopTimeout: time.Hour, Kill: kill}) }()
	m := <-machines
	cancel()
	close(kill)

	require.NoError(t, <-done)
	assert.Equal(t, []string{"stop", "kill"}, m.Calls())
}

func TestRunBusy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	layout := f.makeBundle(t, "vm", testConfig)
	installed(t, layout)
	r, err := f.m.Import(ctx, layout.Root())
	require.NoError(t, err)

	ok, err := f.store.TryLock(ctx, BundleLock(layout.Root()))
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, f.m.Run(ctx, r.ID, RunOptions{}), ErrBusy)
	assert.Empty(t, f.engine.Starts())
}
