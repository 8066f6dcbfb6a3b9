// Package shm implements the large-value payload path: values above the
// inline threshold are written to a named shared region and cross the process
// boundary as a handle. The consumer maps the region read-only and decodes in
// place, avoiding a second copy of large array-like values.
package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/probescope/probescope/internal/errors"
	"github.com/probescope/probescope/internal/logging"
	"github.com/probescope/probescope/internal/target"
)

// DefaultDir returns the directory backing shared regions: /dev/shm when
// available (a tmpfs, so region files never touch disk), the system temp
// directory otherwise.
func DefaultDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Arena owns the shared regions created by one producer session. Regions
// live until the arena closes; the consumer only ever maps them read-only.
type Arena struct {
	dir string
	log *logging.Logger

	mu      sync.Mutex
	regions []string // region names, for cleanup
	closed  bool
}

// NewArena creates an arena rooted at dir. An empty dir uses DefaultDir.
func NewArena(dir string, log *logging.Logger) *Arena {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Arena{dir: dir, log: log}
}

// Dir returns the directory backing this arena's regions.
func (a *Arena) Dir() string { return a.dir }

// Put writes payload into a fresh named region and returns its handle.
func (a *Arena) Put(payload []byte) (target.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return target.Handle{}, errors.NewTransportError("arena closed", errors.ErrStreamClosed)
	}

	name := "probescope-" + uuid.NewString()
	path := filepath.Join(a.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return target.Handle{}, fmt.Errorf("failed to create shared region: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(int64(len(payload))); err != nil {
		os.Remove(path)
		return target.Handle{}, fmt.Errorf("failed to size shared region: %w", err)
	}

	if len(payload) > 0 {
		data, err := unix.Mmap(int(f.Fd()), 0, len(payload),
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			os.Remove(path)
			return target.Handle{}, fmt.Errorf("failed to map shared region: %w", err)
		}

		copy(data, payload)

		if err := unix.Munmap(data); err != nil {
			os.Remove(path)
			return target.Handle{}, fmt.Errorf("failed to unmap shared region: %w", err)
		}
	}

	a.regions = append(a.regions, name)
	return target.Handle{Region: name, Length: int64(len(payload))}, nil
}

// Close removes every region the arena created. Handles already delivered to
// the consumer become unresolvable afterwards, so the producer closes its
// arena only after the transport has drained.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	var firstErr error
	for _, name := range a.regions {
		if err := os.Remove(filepath.Join(a.dir, name)); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = err
			}
			a.log.Warn("failed to remove shared region", "region", name, "error", err.Error())
		}
	}
	a.regions = nil
	return firstErr
}

// Region is a consumer-side read-only mapping of one shared region.
type Region struct {
	data []byte
}

// Open maps the region named by a handle. The mapping is read-only; the
// returned bytes alias the shared memory directly.
func Open(dir string, h target.Handle) (*Region, error) {
	if dir == "" {
		dir = DefaultDir()
	}

	f, err := os.Open(filepath.Join(dir, h.Region))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errors.ErrRegionNotFound, h.Region)
		}
		return nil, fmt.Errorf("failed to open shared region: %w", err)
	}
	defer f.Close()

	if h.Length == 0 {
		return &Region{}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(h.Length), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to map shared region: %w", err)
	}
	return &Region{data: data}, nil
}

// Bytes returns the mapped payload. Valid until Close.
func (r *Region) Bytes() []byte { return r.data }

// Close unmaps the region. It never removes the backing file; the producing
// arena owns the region's lifetime.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	data := r.data
	r.data = nil
	return unix.Munmap(data)
}
