package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	l := New("/Users/me/VMs", "TestVM")

	assert.Equal(t, "/Users/me/VMs/TestVM.bundle", l.Root())
	assert.Equal(t, "/Users/me/VMs", l.Container())
	assert.Equal(t, "TestVM", l.Name())
}

func TestDerivedPaths(t *testing.T) {
	l := New("/vms", "a")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"aux", l.AuxiliaryStorage(), "/vms/a.bundle/AuxiliaryStorage"},
		{"disk", l.DiskImage(), "/vms/a.bundle/Disk.img"},
		{"hardware", l.HardwareModel(), "/vms/a.bundle/HardwareModel"},
		{"machine", l.MachineIdentifier(), "/vms/a.bundle/MachineIdentifier"},
		{"restore", l.RestoreImage(), "/vms/a.bundle/RestoreImage.ipsw"},
		{"save", l.SaveFile(), "/vms/a.bundle/SaveFile.vzvmsave"},
		{"metadata", l.Metadata(), "/vms/a.bundle/Metadata"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestDeterministic(t *testing.T) {
	a := New("/x", "vm")
	b, err := Open("/x/vm.bundle")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, a.DiskImage(), b.DiskImage())
	assert.Equal(t, a.Metadata(), b.Metadata())
}

func TestOpen(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"/x/vm.bundle", false},
		{"/x/vm.bundle/", false},
		{"relative/vm.bundle", false},
		{"/x/vm", true},
		{"/x/vm.bundles", true},
		{"/x/vm.bundle.zip", true},
		{"/x/.bundle", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := Open(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedExtension)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAccessorsDoNotTouchFilesystem(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "ghost")

	_ = l.DiskImage()
	_ = l.Metadata()
	_ = l.RestoreImage()

	_, err := os.Stat(l.Root())
	assert.True(t, os.IsNotExist(err))
	assert.False(t, l.Exists())
}

func TestCreateIdempotent(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "nested", "dir"), "vm")

	require.NoError(t, l.Create())
	require.NoError(t, l.Create())
	assert.True(t, l.Exists())
}

func TestCreateFailsUnderFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	err := New(blocker, "vm").Create()
	assert.Error(t, err)
}
