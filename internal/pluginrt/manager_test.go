package pluginrt_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace-dev/streamspace-core/internal/eventbus"
	"github.com/streamspace-dev/streamspace-core/internal/locator"
	"github.com/streamspace-dev/streamspace-core/internal/pluginrt"
	"github.com/streamspace-dev/streamspace-core/internal/resources"
	"github.com/streamspace-dev/streamspace-core/internal/semver"
	"github.com/streamspace-dev/streamspace-core/internal/workerpool"
)

// testPlugin is a configurable plugin used across manager tests.
type testPlugin struct {
	md          pluginrt.Metadata
	initErr     error
	initialized bool

	journal *[]string // shared across plugins to observe ordering
}

func (p *testPlugin) Metadata() pluginrt.Metadata { return p.md }

func (p *testPlugin) Initialize(ctx *pluginrt.Context) error {
	if p.initialized {
		return nil
	}
	if p.initErr != nil {
		return p.initErr
	}
	p.initialized = true
	if p.journal != nil {
		*p.journal = append(*p.journal, "init:"+p.md.Name)
	}
	return nil
}

func (p *testPlugin) Shutdown() error {
	p.initialized = false
	if p.journal != nil {
		*p.journal = append(*p.journal, "shutdown:"+p.md.Name)
	}
	return nil
}

func (p *testPlugin) IsInitialized() bool { return p.initialized }

// statefulPlugin adds StateSerializer and ReloadHooks on top of testPlugin.
type statefulPlugin struct {
	testPlugin
	counter       int
	beforeReloads *int
	afterReloads  *int
}

func (p *statefulPlugin) SerializeState() (string, error) {
	return fmt.Sprintf("counter=%d", p.counter), nil
}

func (p *statefulPlugin) DeserializeState(state string) error {
	_, err := fmt.Sscanf(state, "counter=%d", &p.counter)
	return err
}

func (p *statefulPlugin) OnBeforeReload() { *p.beforeReloads++ }
func (p *statefulPlugin) OnAfterReload()  { *p.afterReloads++ }

// fakeLibrary and fakeOpener stand in for real shared objects so the whole
// lifecycle runs without the Go toolchain building .so artifacts.
type fakeLibrary struct {
	path     string
	create   func() pluginrt.Plugin
	manifest func() string
	closed   bool
}

func (l *fakeLibrary) Path() string { return l.path }

func (l *fakeLibrary) Lookup(symbol string) (any, error) {
	switch symbol {
	case pluginrt.SymbolCreate:
		if l.create != nil {
			return l.create, nil
		}
	case pluginrt.SymbolDestroy:
		return func(pluginrt.Plugin) {}, nil
	case pluginrt.SymbolManifest:
		if l.manifest != nil {
			return l.manifest, nil
		}
	}
	return nil, fmt.Errorf("no symbol %q", symbol)
}

func (l *fakeLibrary) Close() error {
	l.closed = true
	return nil
}

type fakeOpener struct {
	libs map[string]func() (pluginrt.Library, error)
}

func (o *fakeOpener) Open(path string) (pluginrt.Library, error) {
	open, ok := o.libs[filepath.Base(path)]
	if !ok {
		return nil, fmt.Errorf("no artifact at %s", path)
	}
	return open()
}

type testHost struct{}

func (testHost) Name() string { return "test-host" }

func dep(name, min string) semver.Dependency {
	return semver.Dependency{
		Name:        name,
		Requirement: semver.Requirement{Min: semver.MustParse(min)},
		Required:    true,
	}
}

func newTestManager(t *testing.T, opener pluginrt.LibraryOpener) (*pluginrt.Manager, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(zerolog.Nop())
	pool := workerpool.New(1)
	t.Cleanup(func() { pool.Shutdown(true) })
	return pluginrt.NewManager(pluginrt.Deps{
		Bus:       bus,
		Services:  locator.New(),
		Resources: resources.New(),
		Pool:      pool,
		Host:      testHost{},
		Opener:    opener,
		Logger:    zerolog.Nop(),
	}), bus
}

// touchArtifacts creates empty .so files so the directory scan finds them;
// the fake opener supplies the actual plugin behind each name.
func touchArtifacts(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
}

func md(name, version string, priority int32, deps ...semver.Dependency) pluginrt.Metadata {
	return pluginrt.Metadata{
		Name:         name,
		Version:      semver.MustParse(version),
		LoadPriority: priority,
		Dependencies: deps,
	}
}

func TestManager_LinearChainInitAndShutdownOrder(t *testing.T) {
	var journal []string
	opener := &fakeOpener{libs: map[string]func() (pluginrt.Library, error){
		"a.so": func() (pluginrt.Library, error) {
			return &fakeLibrary{path: "a.so", create: func() pluginrt.Plugin {
				return &testPlugin{md: md("A", "1.0.0", 0), journal: &journal}
			}}, nil
		},
		"b.so": func() (pluginrt.Library, error) {
			return &fakeLibrary{path: "b.so", create: func() pluginrt.Plugin {
				return &testPlugin{md: md("B", "1.0.0", 0, dep("A", "1.0.0")), journal: &journal}
			}}, nil
		},
		"c.so": func() (pluginrt.Library, error) {
			return &fakeLibrary{path: "c.so", create: func() pluginrt.Plugin {
				return &testPlugin{md: md("C", "1.0.0", 0, dep("B", "1.0.0")), journal: &journal}
			}}, nil
		},
	}}

	dir := t.TempDir()
	touchArtifacts(t, dir, "a.so", "b.so", "c.so")

	m, _ := newTestManager(t, opener)
	require.NoError(t, m.LoadPluginsFromDirectory(dir))
	assert.Equal(t, []string{"A", "B", "C"}, m.InitOrder())

	require.NoError(t, m.InitializeAll())
	m.ShutdownAll()

	assert.Equal(t, []string{
		"init:A", "init:B", "init:C",
		"shutdown:C", "shutdown:B", "shutdown:A",
	}, journal)
}

func TestManager_VersionConflictFailsOnlyDependent(t *testing.T) {
	opener := &fakeOpener{libs: map[string]func() (pluginrt.Library, error){
		"q.so": func() (pluginrt.Library, error) {
			return &fakeLibrary{path: "q.so", create: func() pluginrt.Plugin {
				return &testPlugin{md: md("Q", "1.5.0", 0)}
			}}, nil
		},
		"p.so": func() (pluginrt.Library, error) {
			return &fakeLibrary{path: "p.so", create: func() pluginrt.Plugin {
				return &testPlugin{md: md("P", "1.0.0", 0, semver.Dependency{
					Name: "Q",
					Requirement: semver.Requirement{
						Min:    semver.MustParse("2.0.0"),
						Max:    semver.MustParse("3.0.0"),
						HasMax: true,
					},
					Required: true,
				})}
			}}, nil
		},
	}}

	dir := t.TempDir()
	touchArtifacts(t, dir, "p.so", "q.so")

	m, _ := newTestManager(t, opener)
	require.NoError(t, m.LoadPluginsFromDirectory(dir))
	require.NoError(t, m.InitializeAll())

	p, err := m.Get("P")
	require.NoError(t, err)
	assert.Equal(t, pluginrt.StateResolutionFailed, p.State)
	var conflict *semver.VersionConflictError
	assert.True(t, errors.As(p.Err, &conflict))

	q, err := m.Get("Q")
	require.NoError(t, err)
	assert.Equal(t, pluginrt.StateInitialized, q.State)
}

func TestManager_InitFailureAbortsRequiredDependents(t *testing.T) {
	opener := &fakeOpener{libs: map[string]func() (pluginrt.Library, error){
		"base.so": func() (pluginrt.Library, error) {
			return &fakeLibrary{path: "base.so", create: func() pluginrt.Plugin {
				return &testPlugin{md: md("base", "1.0.0", 0), initErr: errors.New("boom")}
			}}, nil
		},
		"child.so": func() (pluginrt.Library, error) {
			return &fakeLibrary{path: "child.so", create: func() pluginrt.Plugin {
				return &testPlugin{md: md("child", "1.0.0", 0, dep("base", "1.0.0"))}
			}}, nil
		},
	}}

	dir := t.TempDir()
	touchArtifacts(t, dir, "base.so", "child.so")

	m, _ := newTestManager(t, opener)
	require.NoError(t, m.LoadPluginsFromDirectory(dir))
	err := m.InitializeAll()
	require.Error(t, err)

	base, _ := m.Get("base")
	assert.Equal(t, pluginrt.StateInitFailed, base.State)

	child, _ := m.Get("child")
	assert.Equal(t, pluginrt.StateInitFailed, child.State)
	assert.ErrorIs(t, child.Err, pluginrt.ErrInitFailed)
}

// S5 — hot reload with state preservation.
func TestManager_ReloadPreservesState(t *testing.T) {
	var beforeReloads, afterReloads int
	newInstance := func() pluginrt.Plugin {
		return &statefulPlugin{
			testPlugin:    testPlugin{md: md("R", "1.0.0", 0)},
			beforeReloads: &beforeReloads,
			afterReloads:  &afterReloads,
		}
	}

	var current *statefulPlugin
	opener := &fakeOpener{libs: map[string]func() (pluginrt.Library, error){
		"r.so": func() (pluginrt.Library, error) {
			return &fakeLibrary{path: "r.so", create: func() pluginrt.Plugin {
				current = newInstance().(*statefulPlugin)
				return current
			}}, nil
		},
	}}

	dir := t.TempDir()
	touchArtifacts(t, dir, "r.so")

	m, _ := newTestManager(t, opener)
	require.NoError(t, m.LoadPluginsFromDirectory(dir))
	require.NoError(t, m.InitializeAll())

	first := current
	first.counter = 42

	require.NoError(t, m.ReloadPlugin("R"))

	require.NotSame(t, first, current)
	assert.Equal(t, 42, current.counter)
	assert.True(t, current.IsInitialized())
	assert.Equal(t, 1, beforeReloads)
	assert.Equal(t, 1, afterReloads)

	history := m.ReloadHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "R", history[0].Plugin)
	assert.Equal(t, "counter=42", history[0].State)
}

func TestManager_ReloadFailureLandsInInitFailed(t *testing.T) {
	loads := 0
	opener := &fakeOpener{libs: map[string]func() (pluginrt.Library, error){
		"flaky.so": func() (pluginrt.Library, error) {
			loads++
			if loads > 1 {
				return nil, errors.New("artifact corrupted")
			}
			return &fakeLibrary{path: "flaky.so", create: func() pluginrt.Plugin {
				return &testPlugin{md: md("flaky", "1.0.0", 0)}
			}}, nil
		},
	}}

	dir := t.TempDir()
	touchArtifacts(t, dir, "flaky.so")

	m, _ := newTestManager(t, opener)
	require.NoError(t, m.LoadPluginsFromDirectory(dir))
	require.NoError(t, m.InitializeAll())

	err := m.ReloadPlugin("flaky")
	require.Error(t, err)

	info, _ := m.Get("flaky")
	assert.Equal(t, pluginrt.StateInitFailed, info.State)

	// Reloading a plugin that is not initialized is rejected.
	err = m.ReloadPlugin("flaky")
	assert.ErrorIs(t, err, pluginrt.ErrNotInitialized)
}

func TestManager_MissingSymbolFailsArtifactOnly(t *testing.T) {
	opener := &fakeOpener{libs: map[string]func() (pluginrt.Library, error){
		"broken.so": func() (pluginrt.Library, error) {
			// No CreatePlugin export at all.
			return &fakeLibrary{path: "broken.so", create: nil, manifest: nil}, nil
		},
		"good.so": func() (pluginrt.Library, error) {
			return &fakeLibrary{path: "good.so", create: func() pluginrt.Plugin {
				return &testPlugin{md: md("good", "1.0.0", 0)}
			}}, nil
		},
	}}

	dir := t.TempDir()
	touchArtifacts(t, dir, "broken.so", "good.so")

	m, _ := newTestManager(t, opener)
	require.NoError(t, m.LoadPluginsFromDirectory(dir))
	require.NoError(t, m.InitializeAll())

	good, err := m.Get("good")
	require.NoError(t, err)
	assert.Equal(t, pluginrt.StateInitialized, good.State)

	broken, err := m.Get("broken")
	require.NoError(t, err)
	assert.Equal(t, pluginrt.StateLoadFailed, broken.State)
}

func TestManager_ManifestExportDefersConstruction(t *testing.T) {
	constructed := 0
	opener := &fakeOpener{libs: map[string]func() (pluginrt.Library, error){
		"m.so": func() (pluginrt.Library, error) {
			return &fakeLibrary{
				path: "m.so",
				manifest: func() string {
					return `{"name":"manifested","version":"2.1.0","loadPriority":7}`
				},
				create: func() pluginrt.Plugin {
					constructed++
					return &testPlugin{md: md("manifested", "2.1.0", 7)}
				},
			}, nil
		},
	}}

	dir := t.TempDir()
	touchArtifacts(t, dir, "m.so")

	m, _ := newTestManager(t, opener)
	require.NoError(t, m.LoadPluginsFromDirectory(dir))

	info, err := m.Get("manifested")
	require.NoError(t, err)
	assert.Equal(t, int32(7), info.Metadata.LoadPriority)
	assert.Equal(t, "2.1.0", info.Metadata.Version.String())
	assert.Equal(t, 1, constructed)
}

func TestManager_BuiltinPluginLifecycle(t *testing.T) {
	var journal []string
	opener := &fakeOpener{libs: map[string]func() (pluginrt.Library, error){}}
	m, _ := newTestManager(t, opener)
	m.RegisterBuiltin("embedded", func() pluginrt.Plugin {
		return &testPlugin{md: md("embedded", "1.0.0", 0), journal: &journal}
	})

	require.NoError(t, m.LoadPluginsFromDirectory(t.TempDir()))
	require.NoError(t, m.InitializeAll())

	info, err := m.Get("embedded")
	require.NoError(t, err)
	assert.True(t, info.Builtin)
	assert.Equal(t, pluginrt.StateInitialized, info.State)

	// Built-ins reload too: the factory produces the fresh instance.
	require.NoError(t, m.ReloadPlugin("embedded"))
	info, _ = m.Get("embedded")
	assert.Equal(t, pluginrt.StateInitialized, info.State)

	m.ShutdownAll()
	assert.Contains(t, journal, "shutdown:embedded")
}

func TestManager_LifecycleEventsOnBus(t *testing.T) {
	opener := &fakeOpener{libs: map[string]func() (pluginrt.Library, error){
		"a.so": func() (pluginrt.Library, error) {
			return &fakeLibrary{path: "a.so", create: func() pluginrt.Plugin {
				return &testPlugin{md: md("A", "1.0.0", 0)}
			}}, nil
		},
	}}

	dir := t.TempDir()
	touchArtifacts(t, dir, "a.so")

	m, bus := newTestManager(t, opener)

	var initialized []string
	bus.Subscribe(pluginrt.ChannelPluginInitialized, 0, func(ev eventbus.Event) error {
		name, err := eventbus.As[string](ev)
		if err != nil {
			return err
		}
		initialized = append(initialized, name)
		return nil
	})

	require.NoError(t, m.LoadPluginsFromDirectory(dir))
	require.NoError(t, m.InitializeAll())
	assert.Equal(t, []string{"A"}, initialized)
}

// updaterPlugin advertises the realtime-update capability.
type updaterPlugin struct {
	testPlugin
	ticks  int
	deltas []float64
}

func (p *updaterPlugin) RealtimeUpdate(deltaSeconds float64) {
	p.ticks++
	p.deltas = append(p.deltas, deltaSeconds)
}

func TestManager_UpdateAllDispatchesOnlyToUpdaters(t *testing.T) {
	var updater *updaterPlugin
	opener := &fakeOpener{libs: map[string]func() (pluginrt.Library, error){
		"ticker.so": func() (pluginrt.Library, error) {
			return &fakeLibrary{path: "ticker.so", create: func() pluginrt.Plugin {
				updater = &updaterPlugin{testPlugin: testPlugin{md: md("ticker", "1.0.0", 0)}}
				return updater
			}}, nil
		},
		"plain.so": func() (pluginrt.Library, error) {
			return &fakeLibrary{path: "plain.so", create: func() pluginrt.Plugin {
				return &testPlugin{md: md("plain", "1.0.0", 0)}
			}}, nil
		},
	}}

	dir := t.TempDir()
	touchArtifacts(t, dir, "ticker.so", "plain.so")

	m, _ := newTestManager(t, opener)
	require.NoError(t, m.LoadPluginsFromDirectory(dir))

	// Updates before initialization are no-ops.
	m.UpdateAll(0.016)
	require.NotNil(t, updater)
	assert.Zero(t, updater.ticks)

	require.NoError(t, m.InitializeAll())
	m.UpdateAll(0.016)
	m.UpdateAll(0.032)
	assert.Equal(t, 2, updater.ticks)
	assert.Equal(t, []float64{0.016, 0.032}, updater.deltas)

	m.ShutdownAll()
	m.UpdateAll(0.016)
	assert.Equal(t, 2, updater.ticks)
}

// listenerPlugin advertises the event-handler capability.
type listenerPlugin struct {
	testPlugin
	received []string
}

func (p *listenerPlugin) EventChannels() []string { return []string{"session.created"} }

func (p *listenerPlugin) HandleEvent(ev eventbus.Event) error {
	payload, err := eventbus.As[string](ev)
	if err != nil {
		return err
	}
	p.received = append(p.received, payload)
	return nil
}

func TestManager_EventHandlerSubscribedWithinInitializedWindow(t *testing.T) {
	var listener *listenerPlugin
	opener := &fakeOpener{libs: map[string]func() (pluginrt.Library, error){
		"listener.so": func() (pluginrt.Library, error) {
			return &fakeLibrary{path: "listener.so", create: func() pluginrt.Plugin {
				listener = &listenerPlugin{testPlugin: testPlugin{md: md("listener", "1.0.0", 0)}}
				return listener
			}}, nil
		},
	}}

	dir := t.TempDir()
	touchArtifacts(t, dir, "listener.so")

	m, bus := newTestManager(t, opener)
	require.NoError(t, m.LoadPluginsFromDirectory(dir))

	bus.Publish(eventbus.Event{Channel: "session.created", Payload: "before-init"})
	require.NotNil(t, listener)
	assert.Empty(t, listener.received)

	require.NoError(t, m.InitializeAll())
	bus.Publish(eventbus.Event{Channel: "session.created", Payload: "while-up"})
	assert.Equal(t, []string{"while-up"}, listener.received)

	m.ShutdownAll()
	bus.Publish(eventbus.Event{Channel: "session.created", Payload: "after-shutdown"})
	assert.Equal(t, []string{"while-up"}, listener.received)
}
