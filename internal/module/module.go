// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

// Package module loads DRM plugin modules and shares them across brokers.
//
// A Module is a reference-counted handle over one loaded plugin module.
// The Cache maps library paths to modules but holds no reference of its
// own: once every broker has released a module it unloads, and the stale
// cache entry is replaced on the next load for that path.
package module

import (
	"log/slog"
	"sync/atomic"

	"github.com/keyfort/keyfort/pkg/drm"
)

// Handle is one loaded plugin module, produced by a Loader.
type Handle interface {
	// Factory resolves the module's entry point.
	Factory() (drm.Factory, error)
	// Close unloads the module.
	Close() error
}

// Loader loads a plugin module from a filesystem path. The default
// implementation lives in the goplugin subpackage; tests substitute an
// in-memory loader.
type Loader interface {
	Load(path string) (Handle, error)
}

// Module is a shared, reference-counted plugin module. It starts with one
// reference held by whoever loaded it; Retain adds holders and Release
// drops them. The last Release unloads the module.
type Module struct {
	path   string
	handle Handle
	refs   atomic.Int64
}

func newModule(path string, h Handle) *Module {
	m := &Module{path: path, handle: h}
	m.refs.Store(1)
	return m
}

// Path returns the library path the module was loaded from.
func (m *Module) Path() string { return m.path }

// Factory resolves the module's factory entry point.
func (m *Module) Factory() (drm.Factory, error) {
	return m.handle.Factory()
}

// Retain adds a reference. It reports false if the module has already been
// unloaded, in which case the caller must load a fresh module instead.
// This is the weak-to-strong upgrade used by the cache.
func (m *Module) Retain() bool {
	for {
		n := m.refs.Load()
		if n == 0 {
			return false
		}
		if m.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference. The final release unloads the module; unload
// failures are logged, not returned, since no holder remains to act on them.
func (m *Module) Release() {
	if n := m.refs.Add(-1); n > 0 {
		return
	}
	if err := m.handle.Close(); err != nil {
		slog.Warn("failed to unload plugin module",
			"path", m.path,
			"error", err)
	}
}

// alive reports whether any holder remains. Used for cache pruning.
func (m *Module) alive() bool { return m.refs.Load() > 0 }
