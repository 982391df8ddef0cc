package instance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/javanstorm/vmbundle/internal/bundle"
	"github.com/javanstorm/vmbundle/internal/capability"
	"github.com/javanstorm/vmbundle/internal/diskutil"
	"github.com/javanstorm/vmbundle/internal/logging"
	"github.com/javanstorm/vmbundle/pkg/hypervisor"
)

// Resizer grows or shrinks a disk image, reporting progress to sink.
type Resizer interface {
	Resize(ctx context.Context, path string, sizeGiB uint64, sink diskutil.Sink) error
}

// HostProbe reports host resources for the filesystem holding dir.
type HostProbe func(dir string) (hypervisor.Host, error)

// Options configure a Manager.
type Options struct {
	Store  Store
	Broker *capability.Broker
	Disks  Resizer
	Limits hypervisor.Limits

	// Engine boots guests for Run. Optional for every other operation.
	Engine hypervisor.Engine

	// Host defaults to hypervisor.ProbeHost.
	Host HostProbe

	Logger logrus.FieldLogger
}

// Manager runs operations on registered bundles.
type Manager struct {
	store  Store
	broker *capability.Broker
	disks  Resizer
	limits hypervisor.Limits
	engine hypervisor.Engine
	host   HostProbe
	log    logrus.FieldLogger
}

// NewManager returns a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil || opts.Broker == nil || opts.Disks == nil {
		return nil, errors.New("instance: store, broker and disks are required")
	}
	if opts.Host == nil {
		opts.Host = hypervisor.ProbeHost
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Manager{
		store:  opts.Store,
		broker: opts.Broker,
		disks:  opts.Disks,
		limits: opts.Limits,
		engine: opts.Engine,
		host:   opts.Host,
		log:    opts.Logger.WithField("component", "instance"),
	}, nil
}

// Register records a freshly provisioned bundle.
func (m *Manager) Register(ctx context.Context, name, bundlePath string, tok capability.Token) (*Record, error) {
	r := &Record{Name: name, BundlePath: bundlePath, Token: tok, Linked: true}
	if err := m.store.Create(ctx, r); err != nil {
		return nil, err
	}
	m.log.WithFields(logrus.Fields{"id": r.ID, "bundle": bundlePath}).Info("registered instance")
	return r, nil
}

// Lookup finds a record by ID, or else by name.
func (m *Manager) Lookup(ctx context.Context, ref string) (*Record, error) {
	r, err := m.store.Get(ctx, ref)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return r, err
	}

	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var match *Record
	for _, r := range all {
		if r.Name != ref {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("%w: %s", ErrAmbiguous, ref)
		}
		match = r
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return match, nil
}

// List returns every record.
func (m *Manager) List(ctx context.Context) ([]*Record, error) {
	return m.store.List(ctx)
}

// Import registers an existing bundle. A bundle already registered under
// the same path returns its existing record.
func (m *Manager) Import(ctx context.Context, path string) (*Record, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	layout, err := bundle.Open(abs)
	if err != nil {
		return nil, err
	}
	if !layout.Exists() {
		return nil, fmt.Errorf("instance: import %s: %w", abs, os.ErrNotExist)
	}

	if r, err := m.store.FindByPath(ctx, layout.Root()); err == nil {
		return r, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	tok, err := m.broker.Mint(layout.Root())
	if err != nil {
		return nil, err
	}
	return m.Register(ctx, layout.Name(), layout.Root(), tok)
}

// Resolve maps the record's token to its bundle path. The token is never
// rewritten here; a stale resolution is returned as is.
func (m *Manager) Resolve(ctx context.Context, id string) (capability.Resolution, error) {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return capability.Resolution{}, err
	}
	return m.broker.Resolve(r.Token)
}

// Remint overwrites the record's token with one minted for path, or for
// the record's current bundle path if path is empty.
func (m *Manager) Remint(ctx context.Context, id, path string) (*Record, error) {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = r.BundlePath
	}
	tok, err := m.broker.Mint(path)
	if err != nil {
		return nil, err
	}
	r.Token = tok
	r.BundlePath = path
	r.Linked = true
	if err := m.store.Update(ctx, r); err != nil {
		return nil, err
	}
	m.log.WithFields(logrus.Fields{"id": id, "bundle": path}).Info("reminted token")
	return r, nil
}

// Relink points the record at a bundle that has moved.
func (m *Manager) Relink(ctx context.Context, id, newPath string) (*Record, error) {
	abs, err := filepath.Abs(newPath)
	if err != nil {
		return nil, err
	}
	layout, err := bundle.Open(abs)
	if err != nil {
		return nil, err
	}
	return m.Remint(ctx, id, layout.Root())
}

// RefreshLinks re-resolves every record and stores whether it still points
// at an existing bundle.
func (m *Manager) RefreshLinks(ctx context.Context) ([]*Record, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		linked := false
		if res, err := m.broker.Resolve(r.Token); err == nil {
			linked = isDir(res.Path)
		} else {
			m.log.WithFields(logrus.Fields{"id": r.ID, "bundle": r.BundlePath}).WithError(err).Debug("unresolvable")
		}
		if linked == r.Linked {
			continue
		}
		r.Linked = linked
		if err := m.store.Update(ctx, r); err != nil {
			return nil, err
		}
	}
	return all, nil
}

// Delete removes the record and, if removeData is set, the bundle
// directory its token resolves to.
func (m *Manager) Delete(ctx context.Context, id string, removeData bool) error {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if removeData {
		res, err := m.broker.Resolve(r.Token)
		switch {
		case errors.Is(err, capability.ErrNotFound):
			// Nothing left on disk.
		case err != nil:
			return err
		case res.Stale:
			return fmt.Errorf("%w: refusing to delete %s", ErrStale, res.Path)
		default:
			layout, err := bundle.Open(res.Path)
			if err != nil {
				return err
			}
			if err := os.RemoveAll(layout.Root()); err != nil {
				return fmt.Errorf("instance: remove %s: %w", layout.Root(), err)
			}
		}
	}

	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{"id": id, "bundle": r.BundlePath, "data": removeData}).Info("deleted instance")
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
