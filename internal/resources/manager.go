// Package resources implements a load-on-demand, reference-counted resource
// cache keyed by (typeID, path).
//
// The cache does not own the values it serves: it holds a weak.Pointer to
// each cached value, not a strong reference. Callers hold the only strong
// reference, via the shared Handle returned from Load. Once every Handle
// for a given key has been garbage collected the entry is stale, and it is
// pruned lazily on the next access rather than proactively.
package resources

import (
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"weak"
)

// Loader constructs a value for path. Errors propagate to the caller of
// Load.
type Loader func(path string) (any, error)

type key struct {
	typeID reflect.Type
	path   string
}

// Handle is a strong, shared reference to a cached resource. Consumers call
// Get to access the value and drop the Handle when done; the cache's weak
// back-reference is all that remains once every outstanding Handle for a
// key has been dropped and collected.
type Handle struct {
	value any
}

// Get returns the underlying resource value.
func (h *Handle) Get() any { return h.value }

// Manager is a typed, reference-counted resource cache.
type Manager struct {
	mu      sync.Mutex
	loaders map[reflect.Type]Loader
	cache   map[key]weak.Pointer[Handle]
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		loaders: make(map[reflect.Type]Loader),
		cache:   make(map[key]weak.Pointer[Handle]),
	}
}

// RegisterLoader installs the loader invoked on a cache miss for typeID.
func (m *Manager) RegisterLoader(typeID reflect.Type, loader Loader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaders[typeID] = loader
}

// Load returns the cached instance for (typeID, path) if one is still live,
// or invokes the registered loader on a miss, caches a non-owning
// (weak) reference to the result, and returns a new strong Handle.
func (m *Manager) Load(typeID reflect.Type, path string) (*Handle, error) {
	k := key{typeID: typeID, path: path}

	m.mu.Lock()
	if wp, ok := m.cache[k]; ok {
		if h := wp.Value(); h != nil {
			m.mu.Unlock()
			return h, nil
		}
		// Stale entry: the last external holder already dropped it.
		delete(m.cache, k)
	}
	loader, ok := m.loaders[typeID]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("resources: no loader registered for %s", typeID)
	}

	v, err := loader(path)
	if err != nil {
		return nil, fmt.Errorf("resources: load %s %q: %w", typeID, path, err)
	}

	h := &Handle{value: v}

	m.mu.Lock()
	m.cache[k] = weak.Make(h)
	m.mu.Unlock()

	runtime.AddCleanup(h, func(k key) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if wp, ok := m.cache[k]; ok && wp.Value() == nil {
			delete(m.cache, k)
		}
	}, k)

	return h, nil
}

// Prune removes cache entries whose weak reference has already gone stale.
// Callers aren't required to invoke this — Load prunes lazily — but a shell
// housekeeping sweep can use it to bound cache map growth between accesses
// to a key that never gets requested again.
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, wp := range m.cache {
		if wp.Value() == nil {
			delete(m.cache, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of entries currently tracked, live or stale.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}
