// Package pluginrt implements the plugin lifecycle runtime: discovery of
// built-in and dynamic plugin artifacts, versioned dependency resolution,
// topologically ordered initialization and shutdown, realtime update
// dispatch, and hot reload with optional state preservation.
//
// Plugins come in two flavors. Built-in plugins compile into the host
// binary and self-register through Register at init time. Dynamic plugins
// are shared-library artifacts discovered by a non-recursive directory
// scan; each must export a CreatePlugin constructor and a DestroyPlugin
// destructor, and may export GetManifestJSON to describe itself without
// being constructed first.
//
// Plugins advertise optional behavior by implementing capability
// interfaces beyond the required Plugin core: RealtimeUpdater,
// EventHandler, StateSerializer, ReloadHooks. The manager queries
// capability membership once, at load time, and dispatches only when
// present.
package pluginrt

import (
	"fmt"

	gojson "github.com/goccy/go-json"

	"github.com/streamspace-dev/streamspace-core/internal/eventbus"
	"github.com/streamspace-dev/streamspace-core/internal/semver"
)

// Exported symbol names every dynamic plugin artifact must (or may) carry.
const (
	// SymbolCreate is the required constructor: func() pluginrt.Plugin.
	SymbolCreate = "CreatePlugin"
	// SymbolDestroy is the required destructor: func(pluginrt.Plugin).
	// It must come from the same artifact that produced the instance.
	SymbolDestroy = "DestroyPlugin"
	// SymbolManifest is the optional manifest accessor: func() string,
	// returning the manifest JSON. When absent, metadata is obtained by
	// constructing an instance and calling Metadata on it.
	SymbolManifest = "GetManifestJSON"
)

// CreateFunc is the signature of the SymbolCreate export.
type CreateFunc func() Plugin

// DestroyFunc is the signature of the SymbolDestroy export.
type DestroyFunc func(Plugin)

// ManifestFunc is the signature of the SymbolManifest export.
type ManifestFunc func() string

// Metadata identifies a plugin and declares its place in the load order.
type Metadata struct {
	Name         string
	Version      semver.Version
	Author       string
	Description  string
	LoadPriority int32
	Dependencies []semver.Dependency
}

// Plugin is the required lifecycle surface every plugin implements.
type Plugin interface {
	// Metadata returns stable identifiers for this artifact.
	Metadata() Metadata

	// Initialize prepares the plugin for use. It must be idempotent on
	// re-entry: calling it twice without an intervening Shutdown returns
	// nil and is a no-op.
	Initialize(ctx *Context) error

	// Shutdown releases all resources; after return the object is inert.
	Shutdown() error

	// IsInitialized observes whether Initialize has completed.
	IsInitialized() bool
}

// RealtimeUpdater is the optional capability invoked on every tick.
type RealtimeUpdater interface {
	RealtimeUpdate(deltaSeconds float64)
}

// EventHandler is the optional capability for bus-driven plugins. The
// manager subscribes HandleEvent to each channel in EventChannels when the
// plugin initializes and unsubscribes it on shutdown and reload teardown,
// so a plugin never receives events outside its initialized window.
type EventHandler interface {
	EventChannels() []string
	HandleEvent(eventbus.Event) error
}

// StateSerializer is the optional capability for hot-reload state
// preservation. SerializeState returning "" means "no state".
type StateSerializer interface {
	SerializeState() (string, error)
	DeserializeState(state string) error
}

// ReloadHooks is the optional capability for plugins that need to act
// around a hot reload: OnBeforeReload runs before the old instance is torn
// down, OnAfterReload after the new instance initialized.
type ReloadHooks interface {
	OnBeforeReload()
	OnAfterReload()
}

// capabilities caches the result of querying a plugin's optional
// interfaces once at load time.
type capabilities struct {
	update RealtimeUpdater
	events EventHandler
	state  StateSerializer
	reload ReloadHooks
}

func capabilitiesOf(p Plugin) capabilities {
	var c capabilities
	c.update, _ = p.(RealtimeUpdater)
	c.events, _ = p.(EventHandler)
	c.state, _ = p.(StateSerializer)
	c.reload, _ = p.(ReloadHooks)
	return c
}

// manifestJSON is the wire shape of the optional GetManifestJSON export.
type manifestJSON struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Author       string            `json:"author,omitempty"`
	Description  string            `json:"description,omitempty"`
	LoadPriority int32             `json:"loadPriority,omitempty"`
	Dependencies []manifestDepJSON `json:"dependencies,omitempty"`
}

type manifestDepJSON struct {
	Name       string `json:"name"`
	MinVersion string `json:"minVersion"`
	MaxVersion string `json:"maxVersion,omitempty"`
	Required   *bool  `json:"required,omitempty"`
}

// ParseManifest decodes a manifest JSON document into Metadata. Missing
// required fields and malformed versions are reported as a ManifestError.
func ParseManifest(data []byte) (Metadata, error) {
	var m manifestJSON
	if err := gojson.Unmarshal(data, &m); err != nil {
		return Metadata{}, &ManifestError{Err: fmt.Errorf("malformed manifest JSON: %w", err)}
	}
	if m.Name == "" {
		return Metadata{}, &ManifestError{Err: fmt.Errorf("manifest missing required field %q", "name")}
	}
	version, err := semver.Parse(m.Version)
	if err != nil {
		return Metadata{}, &ManifestError{Plugin: m.Name, Err: fmt.Errorf("manifest version: %w", err)}
	}

	md := Metadata{
		Name:         m.Name,
		Version:      version,
		Author:       m.Author,
		Description:  m.Description,
		LoadPriority: m.LoadPriority,
	}
	for _, d := range m.Dependencies {
		if d.Name == "" {
			return Metadata{}, &ManifestError{Plugin: m.Name, Err: fmt.Errorf("dependency missing required field %q", "name")}
		}
		min, err := semver.Parse(d.MinVersion)
		if err != nil {
			return Metadata{}, &ManifestError{Plugin: m.Name, Err: fmt.Errorf("dependency %s minVersion: %w", d.Name, err)}
		}
		req := semver.Requirement{Min: min}
		if d.MaxVersion != "" {
			max, err := semver.Parse(d.MaxVersion)
			if err != nil {
				return Metadata{}, &ManifestError{Plugin: m.Name, Err: fmt.Errorf("dependency %s maxVersion: %w", d.Name, err)}
			}
			req.Max = max
			req.HasMax = true
		}
		required := true
		if d.Required != nil {
			required = *d.Required
		}
		md.Dependencies = append(md.Dependencies, semver.Dependency{
			Name:        d.Name,
			Requirement: req,
			Required:    required,
		})
	}
	return md, nil
}
