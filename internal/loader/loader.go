// Package loader wraps Go's plugin package with the small surface the
// plugin runtime needs: open an artifact, resolve exported symbols, and
// release the handle.
//
// # Platform limitations
//
// Go's plugin package only works on Linux-like platforms, requires the
// artifact to be built with the same toolchain version as the host, and has
// no unload primitive. Close therefore cannot unmap the shared object from
// the process; it forgets the Go-level handle so a closed Handle can never
// resolve another symbol, which is the closest approximation of "closed"
// the runtime allows. The manager still drives Close in its teardown and
// reload sequences so that the ownership protocol (no instance outlives its
// handle) holds at the type level even though the OS mapping persists.
package loader

import (
	"errors"
	"fmt"
	"plugin"
	"sync"
)

// ErrMissingSymbol is wrapped into the error returned by Lookup when the
// artifact does not export the requested symbol.
var ErrMissingSymbol = errors.New("loader: missing symbol")

// ErrClosed is returned by Lookup after Close.
var ErrClosed = errors.New("loader: handle is closed")

// Handle is an opaque reference to an opened shared-library artifact.
type Handle struct {
	mu   sync.Mutex
	path string
	p    *plugin.Plugin
}

// Open opens the file at path as a shared library.
func Open(path string) (*Handle, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: open %q: %w", path, err)
	}
	return &Handle{path: path, p: p}, nil
}

// Path returns the artifact path this handle was opened from.
func (h *Handle) Path() string { return h.path }

// Lookup resolves an exported symbol by name.
func (h *Handle) Lookup(symbol string) (any, error) {
	h.mu.Lock()
	p := h.p
	h.mu.Unlock()

	if p == nil {
		return nil, fmt.Errorf("%w: %q (%s)", ErrClosed, symbol, h.path)
	}
	sym, err := p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %q in %s: %v", ErrMissingSymbol, symbol, h.path, err)
	}
	return sym, nil
}

// Close releases the handle. The Go runtime cannot unload a loaded plugin,
// so the OS-level mapping stays resident; Close guarantees only that no
// further symbol can be resolved through this handle.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.p = nil
	return nil
}
