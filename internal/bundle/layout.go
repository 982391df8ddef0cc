// Package bundle maps a VM bundle directory to the files inside it.
//
// Every accessor is a pure path computation; nothing here touches the
// filesystem except Create.
package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extension is the suffix every bundle directory carries.
const Extension = ".bundle"

// Names of the files inside a bundle.
const (
	AuxiliaryStorageName  = "AuxiliaryStorage"
	DiskImageName         = "Disk.img"
	HardwareModelName     = "HardwareModel"
	MachineIdentifierName = "MachineIdentifier"
	RestoreImageName      = "RestoreImage.ipsw"
	SaveFileName          = "SaveFile.vzvmsave"
	MetadataName          = "Metadata"
)

// ErrUnsupportedExtension is returned when a path does not end in Extension.
var ErrUnsupportedExtension = errors.New("bundle: path does not carry the " + Extension + " extension")

// Layout is an immutable view of a bundle rooted at a directory.
type Layout struct {
	root string
}

// New returns the layout of the bundle called name inside container.
func New(container, name string) Layout {
	return Layout{root: filepath.Join(container, name+Extension)}
}

// Open returns the layout of an existing bundle path.
func Open(path string) (Layout, error) {
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != Extension || filepath.Base(clean) == Extension {
		return Layout{}, fmt.Errorf("%w: %s", ErrUnsupportedExtension, path)
	}
	return Layout{root: clean}, nil
}

// Root returns the bundle directory.
func (l Layout) Root() string { return l.root }

// Container returns the directory holding the bundle.
func (l Layout) Container() string { return filepath.Dir(l.root) }

// Name returns the bundle name without its extension.
func (l Layout) Name() string {
	return strings.TrimSuffix(filepath.Base(l.root), Extension)
}

func (l Layout) AuxiliaryStorage() string  { return l.join(AuxiliaryStorageName) }
func (l Layout) DiskImage() string         { return l.join(DiskImageName) }
func (l Layout) HardwareModel() string     { return l.join(HardwareModelName) }
func (l Layout) MachineIdentifier() string { return l.join(MachineIdentifierName) }

// RestoreImage is transient: it is deleted once installation succeeds.
func (l Layout) RestoreImage() string { return l.join(RestoreImageName) }

func (l Layout) SaveFile() string { return l.join(SaveFileName) }
func (l Layout) Metadata() string { return l.join(MetadataName) }

func (l Layout) join(name string) string {
	return filepath.Join(l.root, name)
}

// IsZero reports whether l was never constructed.
func (l Layout) IsZero() bool { return l.root == "" }

// Create makes the bundle directory and any missing parents. An existing
// bundle directory is not an error.
func (l Layout) Create() error {
	if err := os.MkdirAll(l.root, 0755); err != nil {
		return fmt.Errorf("create bundle %s: %w", l.root, err)
	}
	return nil
}

// Exists reports whether the bundle directory is present.
func (l Layout) Exists() bool {
	info, err := os.Stat(l.root)
	return err == nil && info.IsDir()
}
