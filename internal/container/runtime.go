package container

import (
	"log/slog"
	"sync/atomic"

	"webime/internal/ime"
	"webime/internal/registry"
)

// Poster schedules fn on the control loop. It returns false if the loop is
// no longer accepting work.
type Poster interface {
	Post(fn func()) bool
}

// Runtime owns the single live web view. All methods must be called from the
// control loop; callbacks from the module are posted back to it.
type Runtime struct {
	loader *Loader
	poster Poster
	logger *slog.Logger

	module     *Module
	live       bool
	generation uint64
}

// NewRuntime builds a runtime over loader. Callbacks are delivered through poster.
func NewRuntime(loader *Loader, poster Poster, logger *slog.Logger) *Runtime {
	return &Runtime{loader: loader, poster: poster, logger: logger}
}

// Live reports whether a view has been created and not yet destroyed.
func (r *Runtime) Live() bool {
	return r.live
}

// Generation identifies the current view. It changes on every Create and Destroy.
func (r *Runtime) Generation() uint64 {
	return r.generation
}

// Create loads the module and creates the view for d. onLoaded runs on the
// loop once the content finished loading, unless the view was replaced first.
func (r *Runtime) Create(surface ime.Surface, d *registry.Descriptor, onLoaded func()) bool {
	if r.live {
		r.Destroy()
	}

	m, err := r.loader.Load()
	if m == nil {
		r.logger.Warn("container unavailable", "error", err)
		return false
	}
	if m.Create == nil {
		return false
	}

	r.generation++
	gen := r.generation
	var fired atomic.Bool
	loaded := func() {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		r.poster.Post(func() {
			if !r.current(gen) {
				r.logger.Debug("dropping stale load notification", "generation", gen)
				return
			}
			if onLoaded != nil {
				onLoaded()
			}
		})
	}

	if !m.Create(surface, *d, loaded) {
		r.logger.Warn("container create failed", "id", d.ID, "url", d.EntryURL)
		return false
	}
	r.module = m
	r.live = true
	r.logger.Debug("view created", "id", d.ID, "generation", gen)
	return true
}

func (r *Runtime) current(gen uint64) bool {
	return r.live && r.generation == gen
}

// Destroy tears the view down and unloads the module. Only the first call
// after a successful Create does anything.
func (r *Runtime) Destroy() bool {
	if !r.live {
		return false
	}
	r.live = false
	r.generation++

	if r.module.Destroy != nil {
		r.module.Destroy()
	}
	r.module = nil
	r.loader.Unload()
	r.logger.Debug("view destroyed")
	return true
}

// Resize resizes the live view.
func (r *Runtime) Resize(width, height int) bool {
	if !r.live || r.module.Resize == nil {
		return false
	}
	return r.module.Resize(width, height)
}

// RunScript evaluates command in the live view. onResult runs on the loop at
// most once, never synchronously, and is skipped if the view changed.
func (r *Runtime) RunScript(command string, onResult func(result string)) bool {
	if !r.live || r.module.Javascript == nil {
		return false
	}

	gen := r.generation
	var fired atomic.Bool
	cb := func(result string) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		r.poster.Post(func() {
			if !r.current(gen) {
				r.logger.Debug("dropping stale script result", "generation", gen)
				return
			}
			if onResult != nil {
				onResult(result)
			}
		})
	}

	if !r.module.Javascript(command, cb) {
		r.logger.Warn("script rejected", "bytes", len(command))
		return false
	}
	return true
}
