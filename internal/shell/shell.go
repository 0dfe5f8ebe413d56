// Package shell assembles the runtime core: it constructs the
// infrastructure services in dependency order, hosts statically compiled
// modules, owns the plugin manager, and tears everything down in strict
// reverse on Stop.
//
// The shell is time-agnostic: it imposes no update loop. A consumer that
// needs one installs a module whose Initialize starts a ticker driving
// Bus().ProcessQueue() and Plugins().UpdateAll(dt).
package shell

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/streamspace-dev/streamspace-core/internal/config"
	"github.com/streamspace-dev/streamspace-core/internal/eventbus"
	"github.com/streamspace-dev/streamspace-core/internal/locator"
	"github.com/streamspace-dev/streamspace-core/internal/pluginrt"
	"github.com/streamspace-dev/streamspace-core/internal/resources"
	"github.com/streamspace-dev/streamspace-core/internal/workerpool"
)

// Module is a statically compiled component installed into the shell,
// distinct from dynamically loaded plugins. Modules initialize in
// descending Priority order and shut down in reverse.
type Module interface {
	Name() string
	Priority() int32
	Initialize(s *Shell) error
	Shutdown()
}

// Options configure a Shell.
type Options struct {
	// Name identifies the hosting application; plugins see it through
	// their PluginContext's Host.
	Name string

	Logger zerolog.Logger

	// PluginDir is scanned for dynamic plugin artifacts on Start. Empty
	// means built-in plugins only.
	PluginDir string

	// Workers sizes the thread pool; <= 0 uses hardware parallelism.
	Workers int

	// ConfigFile, when set, is loaded into the configuration store before
	// modules initialize. A missing file is not an error.
	ConfigFile string

	// HotReloadInterval enables plugin artifact hot reload at the given
	// poll interval when > 0.
	HotReloadInterval time.Duration

	// RequiredPlugins names plugins the consumer declares required: Start
	// returns an error if any of them fails to initialize. Other plugin
	// failures are reported in the log summary and the shell continues.
	RequiredPlugins []string

	// Opener overrides the artifact opener (tests).
	Opener pluginrt.LibraryOpener
}

// Shell owns the infrastructure singletons and the ordered module list.
type Shell struct {
	opts Options
	log  zerolog.Logger

	bus       *eventbus.Bus
	services  *locator.Locator
	resources *resources.Manager
	pool      *workerpool.Pool
	config    *config.Store
	plugins   *pluginrt.Manager

	housekeeping *cron.Cron

	mu             sync.Mutex
	modules        []Module
	startedModules []Module
	started        bool
}

// New constructs the shell and its infrastructure services in dependency
// order: bus, locator, resource manager, pool, and configuration store
// first, then the plugin manager over all of them. Stop releases them in
// strict reverse.
func New(opts Options) *Shell {
	log := opts.Logger.With().Str("component", "shell").Logger()

	workers := opts.Workers
	s := &Shell{opts: opts, log: log}
	s.bus = eventbus.New(opts.Logger)
	s.services = locator.New()
	s.resources = resources.New()
	if workers > 0 {
		s.pool = workerpool.New(workers)
	} else {
		s.pool = workerpool.NewDefault()
	}
	s.config = config.New(opts.Logger)
	s.plugins = pluginrt.NewManager(pluginrt.Deps{
		Bus:       s.bus,
		Services:  s.services,
		Resources: s.resources,
		Pool:      s.pool,
		Config:    s.config,
		Host:      s,
		Opener:    opts.Opener,
		Logger:    opts.Logger,
	})
	return s
}

// Name implements pluginrt.Host.
func (s *Shell) Name() string { return s.opts.Name }

// Infrastructure accessors.

func (s *Shell) Bus() *eventbus.Bus            { return s.bus }
func (s *Shell) Services() *locator.Locator    { return s.services }
func (s *Shell) Resources() *resources.Manager { return s.resources }
func (s *Shell) Pool() *workerpool.Pool        { return s.pool }
func (s *Shell) Config() *config.Store         { return s.config }
func (s *Shell) Plugins() *pluginrt.Manager    { return s.plugins }

// AddModule installs a module. Must be called before Start.
func (s *Shell) AddModule(m Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules = append(s.modules, m)
}

// Start loads configuration, initializes modules in descending priority
// order, loads and initializes plugins, and starts background
// housekeeping. A module failure aborts Start (modules are the host's own
// code); plugin failures are captured per plugin, and only a failure of a
// plugin named in RequiredPlugins surfaces as a Start error.
func (s *Shell) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("shell: already started")
	}

	if s.opts.ConfigFile != "" {
		if err := s.config.LoadFromFile(s.opts.ConfigFile); err != nil {
			if fileMissing(err) {
				s.log.Info().Str("file", s.opts.ConfigFile).Msg("configuration file absent, starting with empty tree")
			} else {
				return fmt.Errorf("shell: configuration: %w", err)
			}
		}
	}

	// Stable sort keeps installation order among equal priorities.
	sort.SliceStable(s.modules, func(i, j int) bool {
		return s.modules[i].Priority() > s.modules[j].Priority()
	})
	for _, m := range s.modules {
		if err := m.Initialize(s); err != nil {
			s.unwindModulesLocked()
			return fmt.Errorf("shell: module %s: %w", m.Name(), err)
		}
		s.startedModules = append(s.startedModules, m)
		s.log.Info().Str("module", m.Name()).Int32("priority", m.Priority()).Msg("module initialized")
	}

	if err := s.plugins.LoadPluginsFromDirectory(s.opts.PluginDir); err != nil {
		return fmt.Errorf("shell: plugin load: %w", err)
	}
	if err := s.plugins.InitializeAll(); err != nil {
		s.log.Warn().Err(err).Msg("some plugins failed to initialize")
	}
	if err := s.requiredPluginsUp(); err != nil {
		return err
	}

	if s.opts.HotReloadInterval > 0 {
		if err := s.plugins.EnableHotReload(s.opts.HotReloadInterval); err != nil {
			s.log.Warn().Err(err).Msg("plugin hot reload unavailable")
		}
	}

	s.housekeeping = cron.New()
	if _, err := s.housekeeping.AddFunc("@every 1m", func() {
		if pruned := s.resources.Prune(); pruned > 0 {
			s.log.Debug().Int("entries", pruned).Msg("pruned stale resource cache entries")
		}
	}); err == nil {
		s.housekeeping.Start()
	}

	s.started = true
	s.log.Info().Str("app", s.opts.Name).Msg("shell started")
	return nil
}

func (s *Shell) requiredPluginsUp() error {
	var failed []string
	for _, name := range s.opts.RequiredPlugins {
		info, err := s.plugins.Get(name)
		if err != nil || info.State != pluginrt.StateInitialized {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("shell: required plugins failed to initialize: %v", failed)
	}
	return nil
}

// Stop tears the shell down in strict reverse of construction: plugins
// first, then modules in reverse priority order, then the infrastructure
// services. Safe to call once after a failed Start and idempotent after a
// successful one.
func (s *Shell) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.housekeeping != nil {
		s.housekeeping.Stop()
		s.housekeeping = nil
	}

	s.plugins.DisableHotReload()
	s.plugins.ShutdownAll()

	s.unwindModulesLocked()

	s.config.DisableHotReload()
	s.pool.Shutdown(true)

	s.started = false
	s.log.Info().Str("app", s.opts.Name).Msg("shell stopped")
}

// unwindModulesLocked shuts down every module that initialized, in strict
// reverse order, exactly once.
func (s *Shell) unwindModulesLocked() {
	for i := len(s.startedModules) - 1; i >= 0; i-- {
		m := s.startedModules[i]
		m.Shutdown()
		s.log.Info().Str("module", m.Name()).Msg("module shut down")
	}
	s.startedModules = nil
}

func fileMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
