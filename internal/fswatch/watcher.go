// Package fswatch detects file modification-time changes at a polling
// interval and emits (path, event) notifications.
//
// Detection is a hybrid: an fsnotify watch on the parent directory wakes an
// immediate modtime check instead of waiting for the next tick, while a
// cron-driven ticker is the fallback path for filesystems where fsnotify
// delivers nothing (NFS mounts, some container overlay filesystems).
// Both triggers converge on the same "stat, compare to last known modtime,
// notify on change" code path, so callers observe identical behavior no
// matter which trigger fired.
package fswatch

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Event is a single (path, kind) notification.
type Event struct {
	Path string
	Kind EventKind
}

// EventKind classifies a detected change.
type EventKind int

const (
	Modified EventKind = iota
	Removed
)

// Callback receives watcher events. It must not block for long; the
// watcher invokes it from its background goroutines (the poll job and the
// fsnotify loop), which may call it concurrently.
type Callback func(Event)

type watched struct {
	path    string
	lastMod time.Time
	exists  bool
}

// Watcher polls a configurable set of files for modification-time changes
// and pushes fsnotify events through the same check when available.
type Watcher struct {
	mu       sync.Mutex
	files    map[string]*watched
	callback Callback

	interval time.Duration
	cronSched *cron.Cron
	cronID    cron.EntryID
	fsWatcher *fsnotify.Watcher

	log zerolog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// New starts a Watcher that checks every watched file at interval (as a
// fallback) and immediately on any fsnotify event for a watched file's
// parent directory. The fsnotify watcher is best-effort: if it cannot be
// created (e.g. inotify instance limits reached) the Watcher still works,
// relying solely on the polling ticker. The poll runs from a cron "@every"
// entry, which has whole-second resolution: interval is rounded down to
// whole seconds, with a minimum of one second.
func New(interval time.Duration, log zerolog.Logger, callback Callback) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	w := &Watcher{
		files:    make(map[string]*watched),
		callback: callback,
		interval: interval,
		log:      log.With().Str("component", "fswatch").Logger(),
		closed:   make(chan struct{}),
	}

	if fw, err := fsnotify.NewWatcher(); err != nil {
		w.log.Warn().Err(err).Msg("fsnotify unavailable, falling back to polling only")
	} else {
		w.fsWatcher = fw
		go w.runFsnotify()
	}

	w.cronSched = cron.New(cron.WithSeconds())
	spec := "@every " + interval.String()
	id, err := w.cronSched.AddFunc(spec, w.pollAll)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to schedule poll fallback")
	} else {
		w.cronID = id
	}
	w.cronSched.Start()

	return w
}

// Watch adds path to the set of watched files and seeds its initial
// modtime so the first poll doesn't spuriously fire.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.files[abs] = statOf(abs)
	w.mu.Unlock()

	if w.fsWatcher != nil {
		_ = w.fsWatcher.Add(filepath.Dir(abs))
	}
	return nil
}

// Unwatch stops tracking path.
func (w *Watcher) Unwatch(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	delete(w.files, abs)
	w.mu.Unlock()
}

func statOf(path string) *watched {
	info, err := os.Stat(path)
	if err != nil {
		return &watched{path: path, exists: false}
	}
	return &watched{path: path, lastMod: info.ModTime(), exists: true}
}

func (w *Watcher) pollAll() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.files))
	for p := range w.files {
		paths = append(paths, p)
	}
	w.mu.Unlock()

	for _, p := range paths {
		w.checkOne(p)
	}
}

func (w *Watcher) checkOne(path string) {
	w.mu.Lock()
	prev, tracked := w.files[path]
	w.mu.Unlock()
	if !tracked {
		return
	}

	cur := statOf(path)

	switch {
	case prev.exists && !cur.exists:
		w.mu.Lock()
		w.files[path] = cur
		w.mu.Unlock()
		w.callback(Event{Path: path, Kind: Removed})
	case cur.exists && (!prev.exists || cur.lastMod.After(prev.lastMod)):
		w.mu.Lock()
		w.files[path] = cur
		w.mu.Unlock()
		w.callback(Event{Path: path, Kind: Modified})
	}
}

func (w *Watcher) runFsnotify() {
	for {
		select {
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.mu.Lock()
			_, tracked := w.files[ev.Name]
			w.mu.Unlock()
			if tracked {
				w.checkOne(ev.Name)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("fsnotify error")
		case <-w.closed:
			return
		}
	}
}

// Close stops the watcher's background goroutines.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.closed)
		if w.cronSched != nil {
			w.cronSched.Stop()
		}
		if w.fsWatcher != nil {
			_ = w.fsWatcher.Close()
		}
	})
}
