package mount

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/fdtab/blockdev"
	"github.com/wippyai/fdtab/vfs"
)

// OpenOptions is passed to an engine's Open.
type OpenOptions struct {
	// Dev is reported as the device number in metadata.
	Dev uint64
	// Format discards whatever the device holds and starts empty.
	Format bool
}

// Engine describes a storage engine that can be mounted.
type Engine struct {
	Name string
	// NeedsDevice engines are handed a block device adapter; others get nil.
	NeedsDevice bool
	Open        func(dev *blockdev.Adapter, opts OpenOptions) (vfs.FileSystem, error)
	// SetLogger, when set, installs the engine package's logger.
	SetLogger func(*zap.Logger)
}

// Registry maps engine names to engines.
//
// Registry is thread-safe.
type Registry struct {
	engines map[string]Engine
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Register adds e. It panics when e is incomplete or its name is taken.
func (r *Registry) Register(e Engine) {
	if e.Name == "" || e.Open == nil {
		panic("mount: Register of incomplete engine")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.engines[e.Name]; dup {
		panic("mount: Register called twice for engine " + e.Name)
	}
	r.engines[e.Name] = e
}

// Lookup returns the engine registered under name.
func (r *Registry) Lookup(name string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	return e, ok
}

// Names returns the registered engine names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetLoggers hands every engine with a SetLogger hook a logger named after
// the engine.
func (r *Registry) SetLoggers(l *zap.Logger) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, e := range r.engines {
		if e.SetLogger != nil {
			e.SetLogger(l.Named(name))
		}
	}
}

// Resolve returns the engine called name. An empty name selects the only
// registered engine.
func (r *Registry) Resolve(name string) (Engine, error) {
	if name != "" {
		e, ok := r.Lookup(name)
		if !ok {
			return Engine{}, fmt.Errorf("unknown engine %q (have %s)", name, strings.Join(r.Names(), ", "))
		}
		return e, nil
	}
	names := r.Names()
	switch len(names) {
	case 0:
		return Engine{}, fmt.Errorf("no engine linked into this binary")
	case 1:
		e, _ := r.Lookup(names[0])
		return e, nil
	default:
		return Engine{}, fmt.Errorf("engine must be named, one of %s", strings.Join(names, ", "))
	}
}

var engines = NewRegistry()

// Register adds e to the process-wide registry. Engines register from an
// init function of the binary that links them.
func Register(e Engine) {
	engines.Register(e)
}

// Lookup finds an engine in the process-wide registry.
func Lookup(name string) (Engine, bool) {
	return engines.Lookup(name)
}

// Engines returns the names in the process-wide registry.
func Engines() []string {
	return engines.Names()
}

// SetEngineLoggers installs l in the engines of the process-wide registry.
func SetEngineLoggers(l *zap.Logger) {
	engines.SetLoggers(l)
}
