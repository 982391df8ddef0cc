// Package instance keeps the records of provisioned bundles and runs the
// operations that act on an existing bundle: import, relink, edit, run
// and delete.
package instance

import (
	"context"
	"errors"
	"time"

	"github.com/javanstorm/vmbundle/internal/capability"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("instance: not found")

	// ErrAmbiguous is returned when a name matches more than one record.
	ErrAmbiguous = errors.New("instance: name matches more than one record")

	// ErrStale is returned when a record's token no longer describes its
	// bundle. Callers decide whether to Remint.
	ErrStale = errors.New("instance: bundle reference is stale")

	// ErrBusy is returned when another live process holds the bundle.
	ErrBusy = errors.New("instance: bundle is busy")
)

// Record is the durable entry for one bundle.
type Record struct {
	ID         string
	Name       string
	BundlePath string
	Token      capability.Token
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// LastRunAt is when the guest was last started. Zero if never.
	LastRunAt time.Time

	// Linked is whether the token resolved to an existing bundle the last
	// time links were refreshed.
	Linked bool
}

// Store persists records.
type Store interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	FindByPath(ctx context.Context, path string) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
	Update(ctx context.Context, r *Record) error
	Delete(ctx context.Context, id string) error

	// TryLock acquires a named lock shared by every process using the
	// store. It reports false if a live process holds the lock; a lock
	// left by an exited process is taken over.
	TryLock(ctx context.Context, name string) (bool, error)
	LockHolder(ctx context.Context, name string) (Lock, error)
	ReleaseLock(ctx context.Context, name string) error

	Close() error
}
