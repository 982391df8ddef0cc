package capability

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Scope holds access to a directory open for as long as it is not closed.
type Scope struct {
	path string

	once sync.Once
	fd   int
}

// Access opens a scoped capability on the directory at path. The
// directory must exist and be writable by the current user.
func (b *Broker) Access(path string) (*Scope, error) {
	if err := unix.Access(path, unix.W_OK|unix.X_OK); err != nil {
		return nil, fmt.Errorf("capability: access %s: %w", path, &os.PathError{Op: "access", Path: path, Err: err})
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("capability: access %s: %w", path, &os.PathError{Op: "open", Path: path, Err: err})
	}
	return &Scope{path: path, fd: fd}, nil
}

// Path returns the directory the scope covers.
func (s *Scope) Path() string { return s.path }

// Close releases the scope. It is safe to call more than once.
func (s *Scope) Close() error {
	var err error
	s.once.Do(func() {
		err = unix.Close(s.fd)
	})
	return err
}
