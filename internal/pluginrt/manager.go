package pluginrt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/streamspace-dev/streamspace-core/internal/config"
	"github.com/streamspace-dev/streamspace-core/internal/eventbus"
	"github.com/streamspace-dev/streamspace-core/internal/fswatch"
	"github.com/streamspace-dev/streamspace-core/internal/locator"
	"github.com/streamspace-dev/streamspace-core/internal/logging"
	"github.com/streamspace-dev/streamspace-core/internal/resources"
	"github.com/streamspace-dev/streamspace-core/internal/semver"
	"github.com/streamspace-dev/streamspace-core/internal/workerpool"
)

// Lifecycle event channels the manager publishes on. Plugins (and host
// modules) subscribe to these like any other bus channel.
const (
	ChannelPluginInitialized = "plugin.initialized"
	ChannelPluginReloaded    = "plugin.reloaded"
	ChannelPluginShutdown    = "plugin.shutdown"
)

// artifactExt is the dynamic-library extension the directory scan matches.
// Go's plugin package only produces .so artifacts, on every platform it
// supports.
const artifactExt = ".so"

// reloadHistorySize bounds the in-memory reload snapshot history.
const reloadHistorySize = 64

// Deps are the infrastructure services the manager wires into every
// PluginContext, plus the artifact opener (tests substitute a fake).
type Deps struct {
	Bus       *eventbus.Bus
	Services  *locator.Locator
	Resources *resources.Manager
	Pool      *workerpool.Pool
	Config    *config.Store
	Host      Host
	Opener    LibraryOpener // nil defaults to SharedObjectOpener
	Logger    zerolog.Logger
}

// record is the manager's per-plugin bookkeeping. It exclusively owns the
// library and the instance; teardown shuts the instance down before the
// library handle is closed, so the handle always outlives the instance.
type record struct {
	metadata     Metadata
	state        State
	err          error
	sourcePath   string
	lastModified time.Time
	builtin      bool

	library  Library
	abi      abi
	instance Plugin
	caps     capabilities

	eventSubs []eventbus.SubscriptionHandle
	logger    *logging.PluginLogger
}

// Info is a point-in-time snapshot of one plugin's record, safe to hold
// after the manager's lock is released.
type Info struct {
	Metadata   Metadata
	State      State
	Err        error
	SourcePath string
	Builtin    bool
}

// ReloadSnapshot is one entry in the bounded reload history: the serialized
// state captured during a hot reload, kept for post-mortem diagnostics.
type ReloadSnapshot struct {
	ID     string
	Plugin string
	State  string
	Time   time.Time
}

// Manager orchestrates plugin discovery, dependency-ordered
// initialization, realtime update dispatch, ordered shutdown, and hot
// reload.
//
// One mutex guards the record table, the resolved order, and every
// lifecycle path. Holding it across UpdateAll and ReloadPlugin is what
// makes hot reload and update dispatch mutually exclusive; bus publishes
// triggered by lifecycle transitions happen after the lock is released so
// a subscriber is free to call back into the manager.
type Manager struct {
	mu       sync.Mutex
	records  map[string]*record
	order    []string
	builtins map[string]Factory

	deps   Deps
	opener LibraryOpener
	log    zerolog.Logger

	history *lru.Cache[string, ReloadSnapshot]
	watcher *fswatch.Watcher
}

// NewManager builds a Manager around deps.
func NewManager(deps Deps) *Manager {
	opener := deps.Opener
	if opener == nil {
		opener = SharedObjectOpener{}
	}
	history, _ := lru.New[string, ReloadSnapshot](reloadHistorySize)
	return &Manager{
		records:  make(map[string]*record),
		builtins: make(map[string]Factory),
		deps:     deps,
		opener:   opener,
		log:      deps.Logger.With().Str("component", "pluginrt").Logger(),
		history:  history,
	}
}

// RegisterBuiltin adds a built-in plugin factory to this manager only,
// alongside anything registered in the process-wide registry. Later
// registrations of the same name win, matching Register.
func (m *Manager) RegisterBuiltin(name string, factory Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.builtins[name] = factory
}

// LoadPluginsFromDirectory merges built-in plugins with a non-recursive
// scan of dir for dynamic-library artifacts, loads each one, collects
// manifests, resolves the dependency graph, and constructs instances in
// resolved order. Per-artifact failures degrade that plugin to LoadFailed
// or ResolutionFailed; the batch continues.
func (m *Manager) LoadPluginsFromDirectory(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	batchID := uuid.NewString()
	log := m.log.With().Str("batch", batchID).Logger()

	for name, factory := range registeredFactories() {
		m.loadBuiltinLocked(name, factory, log)
	}
	for name, factory := range m.builtins {
		m.loadBuiltinLocked(name, factory, log)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("dir", dir).Msg("plugin directory does not exist, skipping scan")
		} else {
			log.Error().Err(err).Str("dir", dir).Msg("plugin directory scan failed")
		}
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), artifactExt) {
			continue
		}
		m.loadArtifactLocked(filepath.Join(dir, entry.Name()), log)
	}

	m.resolveLocked(log)
	m.constructResolvedLocked(log)

	log.Info().Int("plugins", len(m.records)).Strs("order", m.order).Msg("plugin load batch complete")
	return nil
}

func (m *Manager) loadBuiltinLocked(name string, factory Factory, log zerolog.Logger) {
	if _, exists := m.records[name]; exists {
		return
	}

	lib := &builtinLibrary{name: name, factory: factory}
	pluginABI, err := resolveABI(lib)
	if err != nil {
		// Unreachable for builtinLibrary, but keep the failure path uniform.
		m.records[name] = &record{state: StateLoadFailed, err: err, builtin: true}
		return
	}

	instance, err := safeCreate(pluginABI.create)
	if err != nil {
		m.records[name] = &record{state: StateLoadFailed, err: err, builtin: true}
		log.Error().Err(err).Str("plugin", name).Msg("built-in plugin factory failed")
		return
	}

	md := instance.Metadata()
	if md.Name == "" {
		md.Name = name
	}
	m.records[md.Name] = &record{
		metadata: md,
		state:    StateLoaded,
		builtin:  true,
		library:  lib,
		abi:      pluginABI,
		instance: instance,
		caps:     capabilitiesOf(instance),
	}
	log.Info().Str("plugin", md.Name).Str("version", md.Version.String()).Msg("built-in plugin loaded")
}

func (m *Manager) loadArtifactLocked(path string, log zerolog.Logger) {
	name := strings.TrimSuffix(filepath.Base(path), artifactExt)

	fail := func(err error) {
		if _, exists := m.records[name]; exists {
			log.Error().Err(err).Str("artifact", path).Msg("artifact load failed, name already taken")
			return
		}
		m.records[name] = &record{
			metadata:   Metadata{Name: name},
			state:      StateLoadFailed,
			err:        err,
			sourcePath: path,
		}
		log.Error().Err(err).Str("plugin", name).Str("artifact", path).Msg("plugin load failed")
	}

	lib, err := m.opener.Open(path)
	if err != nil {
		fail(&LoadError{Path: path, Err: err})
		return
	}

	pluginABI, err := resolveABI(lib)
	if err != nil {
		_ = lib.Close()
		fail(&LoadError{Path: path, Err: err})
		return
	}

	var md Metadata
	var instance Plugin
	if pluginABI.manifest != nil {
		md, err = ParseManifest([]byte(pluginABI.manifest()))
		if err != nil {
			_ = lib.Close()
			fail(err)
			return
		}
	} else {
		instance, err = safeCreate(pluginABI.create)
		if err != nil {
			_ = lib.Close()
			fail(&LoadError{Path: path, Err: err})
			return
		}
		md = instance.Metadata()
	}

	if existing, exists := m.records[md.Name]; exists {
		_ = lib.Close()
		err := fmt.Errorf("%w: %q declared by both %s and %s",
			ErrDuplicatePlugin, md.Name, existing.sourcePath, path)
		log.Error().Err(err).Msg("duplicate plugin name")
		m.records[md.Name+"!"+filepath.Base(path)] = &record{
			metadata: md, state: StateLoadFailed, err: err, sourcePath: path,
		}
		return
	}

	var lastMod time.Time
	if info, statErr := os.Stat(path); statErr == nil {
		lastMod = info.ModTime()
	}

	m.records[md.Name] = &record{
		metadata:     md,
		state:        StateLoaded,
		sourcePath:   path,
		lastModified: lastMod,
		library:      lib,
		abi:          pluginABI,
		instance:     instance, // may still be nil when a manifest export was present
		caps:         capabilitiesOf0(instance),
	}
	log.Info().Str("plugin", md.Name).Str("version", md.Version.String()).Str("artifact", path).Msg("plugin loaded")
}

// capabilitiesOf0 tolerates a nil instance (capability query deferred to
// construction in constructResolvedLocked).
func capabilitiesOf0(p Plugin) capabilities {
	if p == nil {
		return capabilities{}
	}
	return capabilitiesOf(p)
}

// resolveLocked runs the dependency resolver over every loaded record,
// degrading plugins with unsatisfiable requirements (or cycle membership)
// to ResolutionFailed and retrying until the remaining set resolves. The
// retry loop is what turns the resolver's fail-fast errors into the
// per-plugin capture-and-continue semantics the batch requires: failing
// one plugin can cascade to dependents, which the next iteration reports.
func (m *Manager) resolveLocked(log zerolog.Logger) {
	for {
		var nodes []semver.Node
		for _, rec := range m.records {
			if rec.state != StateLoaded {
				continue
			}
			nodes = append(nodes, semver.Node{
				Name:         rec.metadata.Name,
				Version:      rec.metadata.Version,
				LoadPriority: rec.metadata.LoadPriority,
				Dependencies: rec.metadata.Dependencies,
			})
		}

		order, err := semver.Resolve(nodes)
		if err == nil {
			m.order = order
			return
		}

		var unsat *semver.UnsatisfiedDependencyError
		var conflict *semver.VersionConflictError
		var cycle *semver.CycleError
		switch {
		case errors.As(err, &unsat):
			m.failResolutionLocked(unsat.Plugin, err, log)
		case errors.As(err, &conflict):
			m.failResolutionLocked(conflict.Plugin, err, log)
		case errors.As(err, &cycle):
			for _, name := range cycle.Cycle {
				m.failResolutionLocked(name, err, log)
			}
		default:
			log.Error().Err(err).Msg("dependency resolution failed")
			m.order = nil
			return
		}
	}
}

func (m *Manager) failResolutionLocked(name string, err error, log zerolog.Logger) {
	rec, ok := m.records[name]
	if !ok || rec.state != StateLoaded {
		return
	}
	rec.state = StateResolutionFailed
	rec.err = err
	m.releaseLocked(rec)
	log.Error().Err(err).Str("plugin", name).Msg("plugin failed dependency resolution")
}

// constructResolvedLocked invokes each resolved plugin's constructor in
// resolved order, for artifacts whose metadata came from a manifest export
// and therefore have no instance yet.
func (m *Manager) constructResolvedLocked(log zerolog.Logger) {
	for _, name := range m.order {
		rec := m.records[name]
		if rec.state != StateLoaded {
			continue
		}
		if rec.instance == nil {
			instance, err := safeCreate(rec.abi.create)
			if err != nil {
				rec.state = StateLoadFailed
				rec.err = &LoadError{Path: rec.sourcePath, Err: err}
				m.releaseLocked(rec)
				log.Error().Err(err).Str("plugin", name).Msg("plugin constructor failed")
				continue
			}
			rec.instance = instance
			rec.caps = capabilitiesOf(instance)
		}
		rec.state = StateResolved
	}
}

// InitializeAll initializes every resolved plugin in resolver order,
// building a fresh Context per plugin. A failed Initialize degrades that
// plugin to InitFailed; dependents that required it are aborted to
// InitFailed without being invoked. The returned error aggregates
// per-plugin failures; the batch always runs to completion.
func (m *Manager) InitializeAll() error {
	m.mu.Lock()

	var errs []error
	var initialized []string
	for _, name := range m.order {
		rec := m.records[name]
		if rec == nil || rec.state != StateResolved {
			continue
		}

		if failedDep, ok := m.failedRequiredDepLocked(rec); ok {
			rec.state = StateInitFailed
			rec.err = fmt.Errorf("%w: required dependency %s did not initialize", ErrInitFailed, failedDep)
			errs = append(errs, fmt.Errorf("%s: %w", name, rec.err))
			m.log.Error().Str("plugin", name).Str("dependency", failedDep).Msg("aborting initialization, required dependency failed")
			continue
		}

		if err := safeInitialize(rec.instance, m.contextForLocked(rec)); err != nil {
			rec.state = StateInitFailed
			rec.err = fmt.Errorf("%w: %v", ErrInitFailed, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, rec.err))
			m.log.Error().Err(err).Str("plugin", name).Msg("plugin initialization failed")
			continue
		}

		rec.state = StateInitialized
		m.subscribeEventsLocked(rec)
		initialized = append(initialized, name)
		m.log.Info().Str("plugin", name).Msg("plugin initialized")
	}
	m.mu.Unlock()

	// Publish outside the lock so a subscriber can call back into the
	// manager without deadlocking.
	for _, name := range initialized {
		m.deps.Bus.Publish(eventbus.Event{
			Channel:   ChannelPluginInitialized,
			Payload:   name,
			Timestamp: time.Now().UnixNano(),
		})
	}
	return errors.Join(errs...)
}

func (m *Manager) failedRequiredDepLocked(rec *record) (string, bool) {
	for _, dep := range rec.metadata.Dependencies {
		if !dep.Required {
			continue
		}
		target, ok := m.records[dep.Name]
		if !ok || target.state != StateInitialized {
			return dep.Name, true
		}
	}
	return "", false
}

func (m *Manager) contextForLocked(rec *record) *Context {
	if rec.logger == nil {
		rec.logger = logging.NewPluginLogger(m.deps.Logger, rec.metadata.Name)
	}
	return &Context{
		PluginName: rec.metadata.Name,
		Bus:        m.deps.Bus,
		Services:   m.deps.Services,
		Resources:  m.deps.Resources,
		Pool:       m.deps.Pool,
		Config:     m.deps.Config,
		Logger:     rec.logger,
		Host:       m.deps.Host,
	}
}

func (m *Manager) subscribeEventsLocked(rec *record) {
	if rec.caps.events == nil {
		return
	}
	handler := rec.caps.events
	for _, channel := range handler.EventChannels() {
		h := m.deps.Bus.Subscribe(channel, rec.metadata.LoadPriority, handler.HandleEvent)
		rec.eventSubs = append(rec.eventSubs, h)
	}
}

func (m *Manager) unsubscribeEventsLocked(rec *record) {
	for _, h := range rec.eventSubs {
		m.deps.Bus.Unsubscribe(h)
	}
	rec.eventSubs = nil
}

// UpdateAll invokes RealtimeUpdate on every initialized plugin that
// advertises the capability, in resolver order. The manager's lock is held
// for the whole pass, which is what serializes update dispatch against hot
// reload.
func (m *Manager) UpdateAll(deltaSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.order {
		rec := m.records[name]
		if rec == nil || rec.state != StateInitialized || rec.caps.update == nil {
			continue
		}
		safeUpdate(rec, deltaSeconds, m.log)
	}
}

// ShutdownAll shuts every initialized plugin down in strict reverse of the
// initialization order, then destroys the instance and closes the library
// handle. Shutdown errors are logged and ignored; the handle is closed
// regardless so no artifact stays pinned by a failed teardown.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()

	var stopped []string
	for i := len(m.order) - 1; i >= 0; i-- {
		rec := m.records[m.order[i]]
		if rec == nil {
			continue
		}
		if rec.state == StateInitialized {
			m.unsubscribeEventsLocked(rec)
			if err := safeShutdown(rec.instance); err != nil {
				m.log.Error().Err(err).Str("plugin", rec.metadata.Name).Msg("plugin shutdown failed, continuing teardown")
			}
			rec.state = StateShutdown
			stopped = append(stopped, rec.metadata.Name)
		}
		m.releaseLocked(rec)
		if rec.state == StateShutdown {
			rec.state = StateUnloaded
		}
	}
	m.mu.Unlock()

	for _, name := range stopped {
		m.deps.Bus.Publish(eventbus.Event{
			Channel:   ChannelPluginShutdown,
			Payload:   name,
			Timestamp: time.Now().UnixNano(),
		})
	}
}

// releaseLocked destroys the instance (through the owning artifact's
// destructor) and closes the library handle, in that order: the instance
// never outlives the handle.
func (m *Manager) releaseLocked(rec *record) {
	if rec.instance != nil {
		if rec.abi.destroy != nil {
			safeDestroy(rec.abi.destroy, rec.instance, m.log)
		}
		rec.instance = nil
		rec.caps = capabilities{}
	}
	if rec.library != nil {
		if err := rec.library.Close(); err != nil {
			m.log.Warn().Err(err).Str("plugin", rec.metadata.Name).Msg("library close failed")
		}
		rec.library = nil
	}
}

// ReloadPlugin hot-reloads one initialized plugin from its artifact: fire
// OnBeforeReload, capture state, tear the old instance down, reopen the
// artifact, construct a fresh instance, restore the state into it,
// initialize it, and fire OnAfterReload. If reopening or re-initialization fails the plugin
// lands in InitFailed — the old instance is already gone and no rollback
// is attempted; reloading again after fixing the artifact is the recovery
// path.
func (m *Manager) ReloadPlugin(name string) error {
	m.mu.Lock()

	rec, ok := m.records[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	if rec.state != StateInitialized {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotInitialized, name, rec.state)
	}

	reloadID := uuid.NewString()
	log := m.log.With().Str("plugin", name).Str("reload", reloadID).Logger()
	log.Info().Msg("hot reload starting")

	rec.state = StateReloading

	if rec.caps.reload != nil {
		safeHook(rec.caps.reload.OnBeforeReload, "OnBeforeReload", log)
	}

	var saved string
	if rec.caps.state != nil {
		state, err := rec.caps.state.SerializeState()
		if err != nil {
			log.Warn().Err(err).Msg("state serialization failed, reloading without state")
		} else {
			saved = state
		}
	}
	m.history.Add(reloadID, ReloadSnapshot{
		ID:     reloadID,
		Plugin: name,
		State:  saved,
		Time:   time.Now(),
	})

	m.unsubscribeEventsLocked(rec)
	if err := safeShutdown(rec.instance); err != nil {
		log.Error().Err(err).Msg("old instance shutdown failed, continuing reload")
	}
	m.releaseLocked(rec)

	fail := func(err error) error {
		rec.state = StateInitFailed
		rec.err = err
		m.mu.Unlock()
		log.Error().Err(err).Msg("hot reload failed")
		return err
	}

	var lib Library
	var err error
	if rec.builtin {
		factory := m.builtinFactoryLocked(name)
		if factory == nil {
			return fail(fmt.Errorf("%w: built-in factory for %s disappeared", ErrUnknownPlugin, name))
		}
		lib = &builtinLibrary{name: name, factory: factory}
	} else {
		lib, err = m.opener.Open(rec.sourcePath)
		if err != nil {
			return fail(&LoadError{Path: rec.sourcePath, Err: err})
		}
	}

	pluginABI, err := resolveABI(lib)
	if err != nil {
		_ = lib.Close()
		return fail(&LoadError{Path: rec.sourcePath, Err: err})
	}

	instance, err := safeCreate(pluginABI.create)
	if err != nil {
		_ = lib.Close()
		return fail(&LoadError{Path: rec.sourcePath, Err: err})
	}

	rec.library = lib
	rec.abi = pluginABI
	rec.instance = instance
	rec.caps = capabilitiesOf(instance)
	rec.metadata = instance.Metadata()

	if rec.caps.state != nil && saved != "" {
		if err := rec.caps.state.DeserializeState(saved); err != nil {
			log.Warn().Err(err).Msg("state restoration failed, new instance starts fresh")
		}
	}

	if err := safeInitialize(instance, m.contextForLocked(rec)); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInitFailed, err))
	}
	rec.state = StateInitialized
	m.subscribeEventsLocked(rec)

	// OnBeforeReload ran on the old instance; OnAfterReload runs on the
	// new one, after it initialized.
	if rec.caps.reload != nil {
		safeHook(rec.caps.reload.OnAfterReload, "OnAfterReload", log)
	}

	if info, statErr := os.Stat(rec.sourcePath); statErr == nil {
		rec.lastModified = info.ModTime()
	}
	m.mu.Unlock()

	log.Info().Msg("hot reload complete")
	m.deps.Bus.Publish(eventbus.Event{
		Channel:   ChannelPluginReloaded,
		Payload:   name,
		Timestamp: time.Now().UnixNano(),
	})
	return nil
}

func (m *Manager) builtinFactoryLocked(name string) Factory {
	if f, ok := m.builtins[name]; ok {
		return f
	}
	return registeredFactories()[name]
}

// EnableHotReload starts a background file watcher over every dynamic
// plugin's artifact and triggers ReloadPlugin when one changes on disk.
func (m *Manager) EnableHotReload(pollInterval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watcher != nil {
		return nil
	}

	byPath := make(map[string]string)
	for name, rec := range m.records {
		if !rec.builtin && rec.sourcePath != "" {
			// fswatch reports absolute paths.
			if abs, err := filepath.Abs(rec.sourcePath); err == nil {
				byPath[abs] = name
			}
		}
	}

	m.watcher = fswatch.New(pollInterval, m.log, func(ev fswatch.Event) {
		if ev.Kind != fswatch.Modified {
			return
		}
		name, ok := byPath[ev.Path]
		if !ok {
			return
		}
		if err := m.ReloadPlugin(name); err != nil {
			m.log.Error().Err(err).Str("plugin", name).Msg("hot reload trigger failed")
		}
	})

	for path := range byPath {
		if err := m.watcher.Watch(path); err != nil {
			m.log.Warn().Err(err).Str("artifact", path).Msg("cannot watch artifact")
		}
	}
	return nil
}

// DisableHotReload stops the watcher started by EnableHotReload.
func (m *Manager) DisableHotReload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		m.watcher.Close()
		m.watcher = nil
	}
}

// Get returns a snapshot of one plugin's record.
func (m *Manager) Get(name string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	return infoOf(rec), nil
}

// Plugins returns snapshots of every record, in resolved order first, then
// failed records in no particular order.
func (m *Manager) Plugins() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.records))
	seen := make(map[string]bool, len(m.records))
	for _, name := range m.order {
		if rec, ok := m.records[name]; ok {
			out = append(out, infoOf(rec))
			seen[name] = true
		}
	}
	for name, rec := range m.records {
		if !seen[name] {
			out = append(out, infoOf(rec))
		}
	}
	return out
}

// InitOrder returns the resolver's plugin order for the last load batch.
func (m *Manager) InitOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// ReloadHistory returns the bounded history of hot-reload state snapshots,
// oldest first.
func (m *Manager) ReloadHistory() []ReloadSnapshot {
	keys := m.history.Keys()
	out := make([]ReloadSnapshot, 0, len(keys))
	for _, k := range keys {
		if snap, ok := m.history.Peek(k); ok {
			out = append(out, snap)
		}
	}
	return out
}

func infoOf(rec *record) Info {
	return Info{
		Metadata:   rec.metadata,
		State:      rec.state,
		Err:        rec.err,
		SourcePath: rec.sourcePath,
		Builtin:    rec.builtin,
	}
}

// The safe* helpers isolate plugin code: a panic inside a plugin becomes
// an error (or a logged event) for that plugin only, never a crash of the
// host.

func safeCreate(create CreateFunc) (p Plugin, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("constructor panic: %v", r)
		}
	}()
	p = create()
	if p == nil {
		return nil, errors.New("constructor returned nil")
	}
	return p, nil
}

func safeInitialize(p Plugin, ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initialize panic: %v", r)
		}
	}()
	return p.Initialize(ctx)
}

func safeShutdown(p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("shutdown panic: %v", r)
		}
	}()
	return p.Shutdown()
}

func safeDestroy(destroy DestroyFunc, p Plugin, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("plugin destructor panicked")
		}
	}()
	destroy(p)
}

func safeUpdate(rec *record, deltaSeconds float64, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("plugin", rec.metadata.Name).Msg("realtime update panicked")
		}
	}()
	rec.caps.update.RealtimeUpdate(deltaSeconds)
}

func safeHook(hook func(), name string, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("hook", name).Msg("reload hook panicked")
		}
	}()
	hook()
}
