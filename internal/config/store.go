package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/streamspace-dev/streamspace-core/internal/fswatch"
)

// ParseError wraps a JSON parse failure with line/column, recovered from
// the standard library's encoding/json.SyntaxError — the one place this
// package uses encoding/json directly, since goccy/go-json's error values
// don't expose a byte offset the same way.
type ParseError struct {
	Line, Column int
	Err          error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("config: parse error at line %d, column %d: %v", e.Line, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrNotAnObject is returned by LoadFromFile when the top-level JSON value
// is not an object.
var ErrNotAnObject = errors.New("config: top-level JSON value must be an object")

// WatcherHandle identifies a registered change watcher.
type WatcherHandle uint64

type watchEntry struct {
	handle   WatcherHandle
	prefix   string
	callback func(changedPath string, newValue Node)
}

// Store is a hierarchical, dot-path addressed configuration tree with
// JSON file persistence and hot reload.
type Store struct {
	root atomic.Pointer[Node]

	mu       sync.Mutex
	watchers []*watchEntry
	nextHdl  atomic.Uint64

	path       string
	fileWatch  *fswatch.Watcher
	log        zerolog.Logger
}

// New returns a Store with an empty Object root.
func New(log zerolog.Logger) *Store {
	s := &Store{log: log.With().Str("component", "config").Logger()}
	root := Object()
	s.root.Store(&root)
	return s
}

// Root returns the current configuration tree. The returned Node is
// immutable; callers must go through Set/SetPath to make changes.
func (s *Store) Root() Node {
	return *s.root.Load()
}

// LoadFromFile reads path, parses it as JSON, and replaces the in-memory
// tree. The top-level value must be a JSON object.
func (s *Store) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %q: %w", path, err)
	}

	node, err := parse(data)
	if err != nil {
		return err
	}
	if node.Kind() != KindObject {
		return ErrNotAnObject
	}

	s.root.Store(&node)
	s.path = path
	return nil
}

// SaveToFile writes the current tree to path as JSON.
func (s *Store) SaveToFile(path string) error {
	data, err := s.Root().MarshalJSON()
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %q: %w", path, err)
	}
	return nil
}

func parse(data []byte) (Node, error) {
	var node Node
	if err := gojson.Unmarshal(data, &node); err != nil {
		if line, col, ok := syntaxErrorPosition(data, err); ok {
			return Node{}, &ParseError{Line: line, Column: col, Err: err}
		}
		return Node{}, &ParseError{Err: err}
	}
	return node, nil
}

func (s *Store) Get(path string, def Node) Node {
	n, ok := s.Root().GetPath(path)
	if !ok {
		return def
	}
	return n
}

func (s *Store) Has(path string) bool {
	return s.Root().HasPath(path)
}

// Set updates path to value, firing any watcher whose prefix contains the
// changed path, under the atomicity guarantee that no watcher ever
// observes a partially-applied tree (the swap is a single atomic pointer
// store; watchers always read a fully-built new root).
func (s *Store) Set(path string, value Node) {
	old := s.Root()
	updated := old.SetPath(path, value)
	s.root.Store(&updated)
	s.notify([]string{path})
}

// EnableHotReload watches the file last loaded via LoadFromFile and
// re-parses it whenever its modification time changes, diffing the new
// tree against the old one and firing only the watchers whose prefix
// intersects a changed path.
func (s *Store) EnableHotReload(pollInterval time.Duration) error {
	if s.path == "" {
		return fmt.Errorf("config: EnableHotReload requires a prior LoadFromFile")
	}
	s.fileWatch = fswatch.New(pollInterval, s.log, func(ev fswatch.Event) {
		if ev.Kind != fswatch.Modified {
			return
		}
		if err := s.reload(); err != nil {
			s.log.Error().Err(err).Msg("hot reload failed, keeping previous configuration")
		}
	})
	return s.fileWatch.Watch(s.path)
}

// DisableHotReload stops the background watcher started by
// EnableHotReload.
func (s *Store) DisableHotReload() {
	if s.fileWatch != nil {
		s.fileWatch.Close()
		s.fileWatch = nil
	}
}

func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	next, err := parse(data)
	if err != nil {
		return err
	}
	if next.Kind() != KindObject {
		return ErrNotAnObject
	}

	old := s.Root()
	changed := diffPaths("", old, next)

	// Atomic swap: watchers either see the fully-old or fully-new tree,
	// never a mix.
	s.root.Store(&next)
	s.notify(changed)
	return nil
}

// diffPaths returns the dot-paths that differ between a and b, walking
// Object nodes recursively. A changed path at depth N also implies every
// ancestor prefix is reported as changed-adjacent via prefix matching in
// notify, so diffPaths only needs to report the deepest differing paths.
func diffPaths(prefix string, a, b Node) []string {
	if a.kind != KindObject || b.kind != KindObject {
		if nodeEqual(a, b) {
			return nil
		}
		return []string{prefix}
	}

	var changed []string
	seen := make(map[string]bool)
	for _, k := range b.keys {
		seen[k] = true
		childPath := joinPath(prefix, k)
		av, ok := a.Get(k)
		bv := b.fields[k]
		if !ok {
			changed = append(changed, diffPaths(childPath, Null(), bv)...)
			continue
		}
		changed = append(changed, diffPaths(childPath, av, bv)...)
	}
	for _, k := range a.keys {
		if seen[k] {
			continue
		}
		changed = append(changed, joinPath(prefix, k))
	}
	return changed
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func nodeEqual(a, b Node) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.boolVal == b.boolVal
	case KindInteger:
		return a.intVal == b.intVal
	case KindFloat:
		return a.floatVal == b.floatVal
	case KindString:
		return a.stringVal == b.stringVal
	case KindArray:
		if len(a.arrayVal) != len(b.arrayVal) {
			return false
		}
		for i := range a.arrayVal {
			if !nodeEqual(a.arrayVal[i], b.arrayVal[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.keys) != len(b.keys) {
			return false
		}
		for _, k := range a.keys {
			bv, ok := b.fields[k]
			if !ok || !nodeEqual(a.fields[k], bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Watch registers callback to fire whenever any node at or beneath prefix
// changes (prefix == "" matches every change).
func (s *Store) Watch(prefix string, callback func(changedPath string, newValue Node)) WatcherHandle {
	h := WatcherHandle(s.nextHdl.Add(1))
	s.mu.Lock()
	s.watchers = append(s.watchers, &watchEntry{handle: h, prefix: prefix, callback: callback})
	s.mu.Unlock()
	return h
}

// Unwatch removes a watcher. Idempotent.
func (s *Store) Unwatch(handle WatcherHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.watchers {
		if w.handle == handle {
			s.watchers = append(s.watchers[:i:i], s.watchers[i+1:]...)
			return
		}
	}
}

func (s *Store) notify(changedPaths []string) {
	if len(changedPaths) == 0 {
		return
	}

	s.mu.Lock()
	watchers := make([]*watchEntry, len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	root := s.Root()
	for _, w := range watchers {
		for _, path := range changedPaths {
			if matchesPrefix(w.prefix, path) {
				value, _ := root.GetPath(path)
				w.callback(path, value)
				break
			}
		}
	}
}

func matchesPrefix(prefix, path string) bool {
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+".")
}
