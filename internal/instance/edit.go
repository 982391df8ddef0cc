package instance

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/javanstorm/vmbundle/internal/bundle"
	"github.com/javanstorm/vmbundle/internal/diskutil"
	"github.com/javanstorm/vmbundle/internal/launch"
)

// EditStage is a step of an edit.
type EditStage int

const (
	Resizing EditStage = iota
	SavingMetadata
)

func (s EditStage) String() string {
	switch s {
	case Resizing:
		return "resizing"
	case SavingMetadata:
		return "saving metadata"
	default:
		return fmt.Sprintf("EditStage(%d)", int(s))
	}
}

// EditProgress is one observation of an edit. Percent is only set while
// resizing.
type EditProgress struct {
	Stage   EditStage
	Percent int
}

// Current is the launch configuration of a bundle as last persisted.
type Current struct {
	Config launch.Config

	// Persisted is false when the metadata file could not be read and
	// Config holds recommended defaults instead.
	Persisted bool

	Bounds launch.Bounds
	Layout bundle.Layout
}

// Inspect loads the bundle's launch configuration and the bounds an edit
// may choose from. The record's token must resolve and not be stale.
func (m *Manager) Inspect(ctx context.Context, id string) (*Current, error) {
	layout, err := m.layout(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.inspect(layout)
}

func (m *Manager) inspect(layout bundle.Layout) (*Current, error) {
	host, err := m.host(layout.Root())
	if err != nil {
		return nil, err
	}

	cur := &Current{Layout: layout, Persisted: true}
	known := true
	cur.Config, err = launch.ReadFile(layout.Metadata())
	if err != nil {
		m.log.WithField("bundle", layout.Root()).WithError(err).Warn("unreadable metadata, using recommended defaults")
		cur.Config = launch.Recommended(m.limits, host)
		cur.Persisted = false
		known = false
		if size, ok := diskGiB(layout.DiskImage()); ok {
			cur.Config.StorageGiB = size
			known = true
		}
	}

	cur.Bounds = launch.EditBounds(m.limits, host)
	// The existing image already occupies its space.
	if known && cur.Config.StorageGiB > cur.Bounds.MaxStorageGiB {
		cur.Bounds.MaxStorageGiB = cur.Config.StorageGiB
	}
	return cur, nil
}

// diskGiB is the apparent size of a disk image, rounded up to whole GiB.
func diskGiB(path string) (uint64, bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() < int64(launch.GiB) {
		return 0, false
	}
	return (uint64(info.Size()) + launch.GiB - 1) / launch.GiB, true
}

func (m *Manager) layout(ctx context.Context, id string) (bundle.Layout, error) {
	res, err := m.Resolve(ctx, id)
	if err != nil {
		return bundle.Layout{}, err
	}
	if res.Stale {
		return bundle.Layout{}, fmt.Errorf("%w: %s", ErrStale, res.Path)
	}
	return bundle.Open(res.Path)
}

// Edit applies next to the instance. The disk is resized only when the
// storage size changes, and the metadata is rewritten only when next
// differs from what was persisted. Progress is reported to observe.
//
// Edits of the same bundle are serialized across processes; an edit while
// another edit or a run holds the bundle fails with ErrBusy.
func (m *Manager) Edit(ctx context.Context, id string, next launch.Config, observe func(EditProgress)) error {
	if observe == nil {
		observe = func(EditProgress) {}
	}

	layout, err := m.layout(ctx, id)
	if err != nil {
		return err
	}

	scope, err := m.broker.Access(layout.Root())
	if err != nil {
		return err
	}
	defer scope.Close()

	release, err := m.acquire(ctx, layout.Root())
	if err != nil {
		return err
	}
	defer release()

	cur, err := m.inspect(layout)
	if err != nil {
		return err
	}
	if err := cur.Bounds.Check(next); err != nil {
		return err
	}

	log := m.log.WithFields(logrus.Fields{"id": id, "bundle": layout.Root()})

	if next.StorageGiB != cur.Config.StorageGiB {
		log.WithFields(logrus.Fields{"from": cur.Config.StorageGiB, "to": next.StorageGiB}).Info("resizing disk")
		observe(EditProgress{Stage: Resizing})
		err := m.disks.Resize(ctx, layout.DiskImage(), next.StorageGiB, diskutil.SinkFunc(func(p int) {
			observe(EditProgress{Stage: Resizing, Percent: p})
		}))
		if err != nil {
			return err
		}
	}

	if cur.Persisted && next == cur.Config {
		log.Debug("launch configuration unchanged")
		return nil
	}
	observe(EditProgress{Stage: SavingMetadata})
	if err := launch.WriteFile(layout.Metadata(), next); err != nil {
		return err
	}
	log.WithField("config", next.String()).Info("saved launch configuration")
	return nil
}
