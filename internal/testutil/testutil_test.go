package testutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/javanstorm/vmbundle/pkg/hypervisor"
)

func TestWriteScript(t *testing.T) {
	path := WriteScript(t, "echo hello")

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("script not written: %v", err)
	}
	if info.Mode().Perm()&0100 == 0 {
		t.Errorf("script is not executable: %v", info.Mode())
	}

	out, err := exec.Command(path).Output()
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestFakeDiskutil(t *testing.T) {
	script, log := FakeDiskutil(t)
	disk := filepath.Join(t.TempDir(), "Disk.img")

	if err := exec.Command(script, "image", "create", "blank", "--size", "1GiB", disk).Run(); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := os.Stat(disk); err != nil {
		t.Errorf("create did not write %s: %v", disk, err)
	}

	out, err := exec.Command(script, "image", "resize", "--size", "2GiB", disk).Output()
	if err != nil {
		t.Fatalf("resize failed: %v", err)
	}
	if !strings.Contains(string(out), "[100% completed]") {
		t.Errorf("resize printed no progress: %q", out)
	}

	data, err := os.ReadFile(log)
	if err != nil {
		t.Fatalf("log not written: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Errorf("expected 2 logged invocations, got %d", lines)
	}
}

func TestCreateTestDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "disk.img")
	CreateTestDisk(t, path, 10)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("disk not created: %v", err)
	}
	if info.Size() != 10*1024*1024 {
		t.Errorf("expected size %d, got %d", 10*1024*1024, info.Size())
	}
}

func TestFakeEngine(t *testing.T) {
	dir := t.TempDir()
	e := NewFakeEngine()

	var fractions []float64
	image := filepath.Join(dir, "RestoreImage.ipsw")
	if err := e.FetchRestoreImage(context.Background(), image, func(f float64) {
		fractions = append(fractions, f)
	}); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(fractions) != 5 || fractions[4] != 1 {
		t.Errorf("unexpected fractions %v", fractions)
	}

	disk := filepath.Join(dir, "Disk.img")
	CreateTestDisk(t, disk, 1)

	req := &hypervisor.InstallRequest{
		RestoreImage:      image,
		DiskImage:         disk,
		AuxiliaryStorage:  filepath.Join(dir, "AuxiliaryStorage"),
		HardwareModel:     filepath.Join(dir, "HardwareModel"),
		MachineIdentifier: filepath.Join(dir, "MachineIdentifier"),
		CPUs:              2,
		MemoryBytes:       4 << 30,
	}
	if err := e.Install(context.Background(), req, nil); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if _, err := os.Stat(req.AuxiliaryStorage); err != nil {
		t.Errorf("auxiliary storage not written: %v", err)
	}
	if e.Fetches() != 1 || len(e.Installs()) != 1 {
		t.Errorf("unexpected call counts: %d fetches, %d installs", e.Fetches(), len(e.Installs()))
	}
}

func TestFakeMachineSaveAndRestore(t *testing.T) {
	dir := t.TempDir()
	e := NewFakeEngine()

	req := &hypervisor.StartRequest{
		DiskImage:         filepath.Join(dir, "Disk.img"),
		AuxiliaryStorage:  filepath.Join(dir, "AuxiliaryStorage"),
		HardwareModel:     filepath.Join(dir, "HardwareModel"),
		MachineIdentifier: filepath.Join(dir, "MachineIdentifier"),
		CPUs:              2,
		MemoryBytes:       4 << 30,
	}
	if _, err := e.Start(context.Background(), req); err == nil {
		t.Fatal("expected start to fail without bundle files")
	}
	for _, p := range []string{req.DiskImage, req.AuxiliaryStorage, req.HardwareModel, req.MachineIdentifier} {
		if err := os.WriteFile(p, []byte("fake"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	m, err := e.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if m.Restored() {
		t.Error("cold boot reported as restored")
	}
	save := filepath.Join(dir, "SaveFile.vzvmsave")
	if err := m.Save(context.Background(), save); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	<-m.Done()
	if err := m.Stop(context.Background()); err != hypervisor.ErrNotRunning {
		t.Errorf("stop after save: got %v", err)
	}

	req.RestoreFrom = save
	m, err = e.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if !m.Restored() {
		t.Error("saved state was not restored")
	}
	if len(e.Starts()) != 3 {
		t.Errorf("expected 3 starts, got %d", len(e.Starts()))
	}
}
