package instance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Lock is a held named lock.
type Lock struct {
	Name       string
	PID        int
	AcquiredAt time.Time
}

// Alive reports whether the owning process still exists.
func (l Lock) Alive() bool {
	return processAlive(l.PID)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// BundleLock names the lock held while a bundle is edited or running.
func BundleLock(root string) string { return "bundle:" + root }

// CreateLock names the lock held while a bundle is provisioned.
func CreateLock(root string) string { return "create:" + root }

// acquire takes the bundle lock for root, failing with ErrBusy if another
// live process holds it.
func (m *Manager) acquire(ctx context.Context, root string) (release func(), err error) {
	lock := BundleLock(root)
	ok, err := m.store.TryLock(ctx, lock)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBusy, root)
	}
	return func() {
		if err := m.store.ReleaseLock(context.WithoutCancel(ctx), lock); err != nil {
			m.log.WithError(err).WithField("lock", lock).Warn("failed to release lock")
		}
	}, nil
}

// Unlock releases every lock held on the record's bundle, whoever holds
// it, and returns the locks it released.
func (m *Manager) Unlock(ctx context.Context, id string) ([]Lock, error) {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	roots := []string{r.BundlePath}
	if res, err := m.broker.Resolve(r.Token); err == nil && res.Path != r.BundlePath {
		roots = append(roots, res.Path)
	}

	var released []Lock
	for _, root := range roots {
		for _, name := range []string{BundleLock(root), CreateLock(root)} {
			l, err := m.store.LockHolder(ctx, name)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return released, err
			}
			if err := m.store.ReleaseLock(ctx, name); err != nil {
				return released, err
			}
			m.log.WithFields(logrus.Fields{"id": id, "lock": name, "pid": l.PID, "alive": l.Alive()}).Warn("released lock")
			released = append(released, l)
		}
	}
	return released, nil
}
