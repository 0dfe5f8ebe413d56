package pluginrt

import (
	"fmt"

	"github.com/streamspace-dev/streamspace-core/internal/loader"
)

// Library is an opened plugin artifact. The real implementation wraps
// internal/loader; built-in plugins and tests provide synthetic libraries.
type Library interface {
	Path() string
	Lookup(symbol string) (any, error)
	Close() error
}

// LibraryOpener opens an artifact at a filesystem path. The manager takes
// one so tests can exercise the full lifecycle without building shared
// objects with the Go toolchain.
type LibraryOpener interface {
	Open(path string) (Library, error)
}

// SharedObjectOpener is the production LibraryOpener, backed by
// internal/loader.
type SharedObjectOpener struct{}

func (SharedObjectOpener) Open(path string) (Library, error) {
	h, err := loader.Open(path)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// abi is the resolved pair of required exports plus the optional manifest
// accessor, extracted from a Library once at load time.
type abi struct {
	create   CreateFunc
	destroy  DestroyFunc
	manifest ManifestFunc // nil when the artifact has no manifest export
}

// resolveABI resolves and type-checks the plugin exports. A missing or
// mistyped required symbol fails the artifact.
func resolveABI(lib Library) (abi, error) {
	var out abi

	createSym, err := lib.Lookup(SymbolCreate)
	if err != nil {
		return out, err
	}
	create, ok := createSym.(func() Plugin)
	if !ok {
		return out, fmt.Errorf("pluginrt: %s in %s has wrong signature, expected func() Plugin", SymbolCreate, lib.Path())
	}
	out.create = create

	destroySym, err := lib.Lookup(SymbolDestroy)
	if err != nil {
		return out, err
	}
	destroy, ok := destroySym.(func(Plugin))
	if !ok {
		return out, fmt.Errorf("pluginrt: %s in %s has wrong signature, expected func(Plugin)", SymbolDestroy, lib.Path())
	}
	out.destroy = destroy

	if manifestSym, err := lib.Lookup(SymbolManifest); err == nil {
		if manifest, ok := manifestSym.(func() string); ok {
			out.manifest = manifest
		} else {
			return out, fmt.Errorf("pluginrt: %s in %s has wrong signature, expected func() string", SymbolManifest, lib.Path())
		}
	}

	return out, nil
}

// builtinLibrary adapts a registered factory to the Library interface so
// built-in and dynamic plugins flow through one code path.
type builtinLibrary struct {
	name    string
	factory Factory
}

func (b *builtinLibrary) Path() string { return "builtin:" + b.name }

func (b *builtinLibrary) Lookup(symbol string) (any, error) {
	switch symbol {
	case SymbolCreate:
		return func() Plugin { return b.factory() }, nil
	case SymbolDestroy:
		return func(Plugin) {}, nil
	default:
		return nil, fmt.Errorf("%w: %q in %s", loader.ErrMissingSymbol, symbol, b.Path())
	}
}

func (b *builtinLibrary) Close() error { return nil }
