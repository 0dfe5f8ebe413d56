// Package locator implements a typed service locator with three lifetime
// disciplines — singleton, transient, and scoped — and a process-wide
// nested scope stack.
//
// # Scope stack: process-wide, not per-goroutine
//
// Scopes form a single stack per Locator, not a stack-per-goroutine.
// Callers that enter and exit scopes are expected to do so from one
// goroutine at a time (typically the plugin manager's single update
// thread). EnterScope/ExitScope are still mutex-protected against concurrent
// singleton construction and resolution, which may legitimately happen from
// many goroutines at once; only scope push/pop is single-threaded by
// contract.
package locator

import (
	"fmt"
	"reflect"
	"sync"
)

// Lifetime controls how many instances a registration produces.
type Lifetime int

const (
	// Singleton constructs at most one instance per Locator, lazily, with
	// at-most-once initialization under concurrent first resolution.
	Singleton Lifetime = iota
	// Transient invokes the factory on every resolution; nothing is cached.
	Transient
	// Scoped produces one instance per innermost active scope.
	Scoped
)

// Factory constructs a service instance, optionally failing.
type Factory func() (any, error)

type registration struct {
	lifetime Lifetime
	factory  Factory

	once     sync.Once
	instance any
	err      error
}

// Locator is a typed registry plus resolver.
type Locator struct {
	mu       sync.RWMutex
	registry map[reflect.Type]*registration
	scopes   []*scope // stack; scopes[len-1] is innermost
}

// New returns an empty Locator.
func New() *Locator {
	return &Locator{registry: make(map[reflect.Type]*registration)}
}

// RegisterSingleton registers a pre-built instance as a singleton for type T.
func RegisterSingleton[T any](l *Locator, instance T) {
	t := typeOf[T]()
	l.mu.Lock()
	defer l.mu.Unlock()
	reg := &registration{lifetime: Singleton}
	reg.once.Do(func() {}) // mark as already constructed
	reg.instance = instance
	l.registry[t] = reg
}

// RegisterFactory registers factory for type T under the given lifetime.
// Transient and Scoped registrations must use this; Singleton may too, for
// lazy construction on first resolve.
func RegisterFactory[T any](l *Locator, lifetime Lifetime, factory func() (T, error)) {
	t := typeOf[T]()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registry[t] = &registration{
		lifetime: lifetime,
		factory: func() (any, error) {
			return factory()
		},
	}
}

// Resolve resolves an instance of T, honoring its registered lifetime.
func Resolve[T any](l *Locator) (T, error) {
	var zero T
	t := typeOf[T]()

	l.mu.Lock()
	reg, ok := l.registry[t]
	l.mu.Unlock()
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrServiceNotRegistered, t)
	}

	v, err := l.resolveRegistration(t, reg)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("locator: registered value for %s is not assignable to requested type", t)
	}
	return typed, nil
}

// MustResolve panics if Resolve fails. Intended for composition roots
// (cmd/coreshell), never for plugin code.
func MustResolve[T any](l *Locator) T {
	v, err := Resolve[T](l)
	if err != nil {
		panic(err)
	}
	return v
}

func (l *Locator) resolveRegistration(t reflect.Type, reg *registration) (any, error) {
	switch reg.lifetime {
	case Singleton:
		reg.once.Do(func() {
			if reg.instance != nil {
				return // pre-registered via RegisterSingleton
			}
			reg.instance, reg.err = reg.factory()
		})
		return reg.instance, reg.err

	case Transient:
		return reg.factory()

	case Scoped:
		s := l.currentScope()
		if s == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoActiveScope, t)
		}
		return s.resolve(t, reg.factory)

	default:
		return nil, fmt.Errorf("locator: unknown lifetime %d", reg.lifetime)
	}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
