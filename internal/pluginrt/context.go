package pluginrt

import (
	"github.com/streamspace-dev/streamspace-core/internal/config"
	"github.com/streamspace-dev/streamspace-core/internal/eventbus"
	"github.com/streamspace-dev/streamspace-core/internal/locator"
	"github.com/streamspace-dev/streamspace-core/internal/logging"
	"github.com/streamspace-dev/streamspace-core/internal/resources"
	"github.com/streamspace-dev/streamspace-core/internal/workerpool"
)

// Host is the view a plugin gets of the hosting application. The shell
// implements it; tests substitute a stub.
type Host interface {
	Name() string
}

// Context bundles the infrastructure service handles handed to a plugin at
// initialization. A fresh Context is built per Initialize call (including
// the re-initialize during hot reload), so a plugin must not cache a
// Context across its own shutdown.
type Context struct {
	PluginName string

	Bus       *eventbus.Bus
	Services  *locator.Locator
	Resources *resources.Manager
	Pool      *workerpool.Pool
	Config    *config.Store
	Logger    *logging.PluginLogger
	Host      Host
}
