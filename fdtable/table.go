package fdtable

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/fdtab/errors"
	"github.com/wippyai/fdtab/vfs"
)

// DefaultFileMode is the permission of files created by Open.
const DefaultFileMode = 0o644

// MountFunc brings up the filesystem behind a table. It runs at most once.
type MountFunc func() (vfs.FileSystem, error)

type entry struct {
	node vfs.Node
	// path is where the descriptor was opened or created. Rename uses it
	// to find the old parent directory.
	path        string
	offset      uint64
	readable    bool
	writable    bool
	nonblocking bool
}

// Table maps descriptors to nodes of a mounted filesystem.
//
// mu guards entries, next and every cursor, and is held across the backend
// call of Read and Write. Other operations take a snapshot of their entries
// and call the engine without it. With WithGlobalLock, global additionally
// serialises every operation end to end, path resolution included.
type Table struct {
	mu      sync.Mutex
	entries map[Fd]*entry
	next    Fd

	globalLock bool
	global     sync.Mutex

	mount     MountFunc
	mountOnce sync.Once
	fs        vfs.FileSystem
	mountErr  error

	consoleMu sync.Mutex
	stdout    io.Writer
	stderr    io.Writer

	observers []Observer
	obsMu     sync.RWMutex
}

// Option configures a Table.
type Option func(*Table)

// WithGlobalLock serialises every table operation.
func WithGlobalLock() Option {
	return func(t *Table) {
		t.globalLock = true
	}
}

// WithConsole sets where writes to descriptors 0 and 1 (stdout) and 2
// (stderr) go. The defaults are the process streams.
func WithConsole(stdout, stderr io.Writer) Option {
	return func(t *Table) {
		t.stdout = stdout
		t.stderr = stderr
	}
}

// New creates a table over the filesystem returned by mount. The mount
// runs on the first operation that needs it.
func New(mount MountFunc, opts ...Option) *Table {
	t := &Table{
		entries: make(map[Fd]*entry),
		next:    FirstFd,
		mount:   mount,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewWithFS creates a table over an already mounted filesystem.
func NewWithFS(fs vfs.FileSystem, opts ...Option) *Table {
	return New(func() (vfs.FileSystem, error) { return fs, nil }, opts...)
}

func (t *Table) enter() func() {
	if !t.globalLock {
		return func() {}
	}
	t.global.Lock()
	return t.global.Unlock
}

// ensure runs the mount once. A failed mount stays failed.
func (t *Table) ensure(phase errors.Phase) (vfs.FileSystem, error) {
	t.mountOnce.Do(func() {
		if t.mount == nil {
			t.mountErr = errors.NotInitialized(errors.PhaseMount, "filesystem", nil)
			return
		}
		fs, err := t.mount()
		if err == nil && fs == nil {
			err = errors.InvalidInput(errors.PhaseMount, "mount returned no filesystem")
		}
		if err != nil {
			Logger().Error("mount failed", zap.Error(err))
			t.mountErr = err
			return
		}
		t.fs = fs
		Logger().Debug("filesystem mounted", zap.String("fs", fs.Info().Name))
	})
	if t.mountErr != nil {
		return nil, errors.NotInitialized(phase, "filesystem", t.mountErr)
	}
	return t.fs, nil
}

// FS returns the mounted filesystem, mounting it first if needed.
func (t *Table) FS() (vfs.FileSystem, error) {
	defer t.enter()()
	return t.ensure(errors.PhaseMount)
}

// Len returns the number of open descriptors.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Path returns the path recorded for fd.
func (t *Table) Path(fd Fd) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return "", errors.InvalidFd(errors.PhaseStat, uint32(fd))
	}
	return e.path, nil
}

// Subscribe adds an observer for descriptor events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnDescriptorEvent(e)
	}
}

// insert issues the next descriptor for e. The counter only moves forward.
func (t *Table) insert(phase errors.Phase, e *entry) (Fd, error) {
	t.mu.Lock()
	if t.next > MaxFd {
		t.mu.Unlock()
		return 0, errors.New(phase, errors.KindExhausted).Path(e.path).Detail("descriptor numbers exhausted").Build()
	}
	fd := t.next
	t.next++
	t.entries[fd] = e
	t.mu.Unlock()
	t.notify(Event{Type: EventOpened, Fd: fd, Path: e.path})
	return fd, nil
}

// get returns a copy of fd's entry.
func (t *Table) get(phase errors.Phase, fd Fd) (entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return entry{}, errors.InvalidFd(phase, uint32(fd))
	}
	return *e, nil
}

// backendError wraps an engine failure. Device failures keep their kind.
func backendError(phase errors.Phase, fd Fd, err error) error {
	kind := errors.KindBackend
	if errors.HasKind(err, errors.KindDevice) {
		kind = errors.KindDevice
	}
	return errors.New(phase, kind).Fd(uint32(fd)).Cause(err).Build()
}
