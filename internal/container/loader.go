// Package container loads the rendering container module and drives the
// single web view it hosts.
package container

import (
	"errors"
	"fmt"
	"log/slog"
	"plugin"
	"sync"

	"webime/internal/ime"
	"webime/internal/registry"
)

// Entry point names a container module must export.
const (
	SymbolCreate     = "WebContainerCreate"
	SymbolDestroy    = "WebContainerDestroy"
	SymbolResize     = "WebContainerResize"
	SymbolJavascript = "WebContainerJavascript"
)

// Entry point signatures.
type (
	CreateFunc     = func(surface ime.Surface, d registry.Descriptor, onLoaded func()) bool
	DestroyFunc    = func() bool
	ResizeFunc     = func(width, height int) bool
	JavascriptFunc = func(command string, onResult func(result string)) bool
)

// Module is the typed view of a loaded container. A field is nil when its
// entry point could not be resolved.
type Module struct {
	Create     CreateFunc
	Destroy    DestroyFunc
	Resize     ResizeFunc
	Javascript JavascriptFunc
}

// Complete reports whether every entry point resolved.
func (m *Module) Complete() bool {
	return m.Create != nil && m.Destroy != nil && m.Resize != nil && m.Javascript != nil
}

// ErrSymbolType is wrapped by SymbolError when an export has the wrong type.
var ErrSymbolType = errors.New("symbol has unexpected type")

// LoadError reports a module that could not be found or opened.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("container: load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SymbolError names an entry point missing from the module.
type SymbolError struct {
	Symbol string
	Err    error
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("container: resolve %s: %v", e.Symbol, e.Err)
}

func (e *SymbolError) Unwrap() error { return e.Err }

// Symbols resolves exported names in an opened module.
type Symbols interface {
	Lookup(name string) (any, error)
}

// Opener opens a module file.
type Opener interface {
	Open(path string) (Symbols, error)
}

// PluginOpener opens Go plugins built with -buildmode=plugin.
type PluginOpener struct{}

// Open implements Opener.
func (PluginOpener) Open(path string) (Symbols, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return pluginSymbols{p}, nil
}

type pluginSymbols struct{ p *plugin.Plugin }

func (s pluginSymbols) Lookup(name string) (any, error) {
	return s.p.Lookup(name)
}

// Loader opens the container module on demand and resolves its entry points.
type Loader struct {
	path   string
	opener Opener
	logger *slog.Logger

	mu     sync.Mutex
	syms   Symbols
	module *Module
}

// NewLoader returns a loader for the module at path.
func NewLoader(path string, opener Opener, logger *slog.Logger) *Loader {
	if opener == nil {
		opener = PluginOpener{}
	}
	return &Loader{path: path, opener: opener, logger: logger}
}

// Load opens the module if needed and returns its entry points. Repeated
// calls return the same Module without reopening. When some entry points
// are missing the Module is still returned together with the SymbolErrors.
func (l *Loader) Load() (*Module, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.module != nil {
		return l.module, nil
	}

	syms, err := l.opener.Open(l.path)
	if err != nil {
		return nil, &LoadError{Path: l.path, Err: err}
	}
	l.syms = syms

	m := &Module{}
	var errs []error
	resolve := func(name string, assign func(any) bool) {
		v, err := syms.Lookup(name)
		if err != nil {
			errs = append(errs, &SymbolError{Symbol: name, Err: err})
			return
		}
		if !assign(v) {
			errs = append(errs, &SymbolError{Symbol: name, Err: ErrSymbolType})
		}
	}
	resolve(SymbolCreate, func(v any) (ok bool) { m.Create, ok = v.(CreateFunc); return })
	resolve(SymbolDestroy, func(v any) (ok bool) { m.Destroy, ok = v.(DestroyFunc); return })
	resolve(SymbolResize, func(v any) (ok bool) { m.Resize, ok = v.(ResizeFunc); return })
	resolve(SymbolJavascript, func(v any) (ok bool) { m.Javascript, ok = v.(JavascriptFunc); return })

	l.module = m
	for _, e := range errs {
		l.logger.Warn("container entry point unavailable", "path", l.path, "error", e)
	}
	return m, errors.Join(errs...)
}

// Resolve looks up a single exported name in the loaded module.
func (l *Loader) Resolve(symbol string) (any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.syms == nil {
		return nil, &SymbolError{Symbol: symbol, Err: errors.New("module not loaded")}
	}
	v, err := l.syms.Lookup(symbol)
	if err != nil {
		return nil, &SymbolError{Symbol: symbol, Err: err}
	}
	return v, nil
}

// Loaded reports whether a module handle is held.
func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.syms != nil
}

// Unload releases the module handle. It reports whether a handle was held;
// calling it with nothing loaded does nothing.
func (l *Loader) Unload() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.syms == nil {
		return false
	}
	if c, ok := l.syms.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			l.logger.Warn("close container module", "path", l.path, "error", err)
		}
	}
	l.syms = nil
	l.module = nil
	return true
}
