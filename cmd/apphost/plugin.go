package main

import (
	"errors"
	"fmt"
	"plugin"
	"sync"

	"github.com/gopherhost/apphost"
)

var (
	errSymbolNotFound = errors.New("class symbol not found in module")
	errBadConstructor = errors.New("class symbol has unsupported constructor signature")
)

// pluginLoader loads app modules as Go plugins (.so files built with
// -buildmode=plugin) and constructs instances from their exported class
// constructors. It serves as both the module loader and the instance
// factory for the host.
//
// A class named Foo must be exported by its module as one of:
//
//	func NewFoo() (any, error)
//	func NewFoo() any
//
// Go's plugin package cannot unload or replace a loaded plugin within a
// running process, so Reload re-resolves the handle but a changed .so on
// disk only takes effect after the host restarts. The reload is still
// reported so the lifecycle hooks of dependent apps run.
type pluginLoader struct {
	mu      sync.Mutex
	handles map[string]*plugin.Plugin
	logger  apphost.Logger
}

func newPluginLoader(logger apphost.Logger) *pluginLoader {
	return &pluginLoader{
		handles: make(map[string]*plugin.Plugin),
		logger:  logger,
	}
}

// Load opens the plugin at path and caches the handle under its module name.
func (l *pluginLoader) Load(path string) (apphost.ModuleHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	name := apphost.ModuleNameFromPath(path)
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening module %s: %w", name, err)
	}
	l.handles[name] = p
	return p, nil
}

// Reload re-opens an already loaded plugin. plugin.Open returns the cached
// in-process image for a path it has seen before, so the new code is only
// picked up on restart.
func (l *pluginLoader) Reload(path string) (apphost.ModuleHandle, error) {
	l.logger.Warn("Module reload requested; new code takes effect after restart",
		"module", apphost.ModuleNameFromPath(path))
	return l.Load(path)
}

// Construct resolves the app's class constructor from its module and invokes it.
func (l *pluginLoader) Construct(def *apphost.AppDefinition) (any, error) {
	l.mu.Lock()
	p, ok := l.handles[def.Module]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", apphost.ErrModuleNotFound, def.Module)
	}

	sym, err := p.Lookup("New" + def.Class)
	if err != nil {
		return nil, fmt.Errorf("%w: New%s in %s", errSymbolNotFound, def.Class, def.Module)
	}

	switch ctor := sym.(type) {
	case func() (any, error):
		return ctor()
	case func() any:
		return ctor(), nil
	default:
		return nil, fmt.Errorf("%w: New%s is %T", errBadConstructor, def.Class, sym)
	}
}
