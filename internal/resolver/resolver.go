// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

// Package resolver maps DRM scheme ids to the plugin modules that
// implement them.
//
// Resolution keeps a positive-result cache of scheme id to library path.
// The cache is append-only for the life of the process; hits are still
// re-verified against the loaded module, since a previously resolved
// module may have since failed to reload. Misses fall back to scanning the
// plugin directory in enumeration order, which is platform dependent:
// when several installed modules claim the same scheme, the first match
// wins and callers must treat the choice as non-deterministic.
package resolver

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/keyfort/keyfort/internal/module"
	"github.com/keyfort/keyfort/pkg/drm"
)

// DefaultSuffix is the file suffix recognized as a plugin module.
const DefaultSuffix = ".plugin"

// Resolver discovers plugin modules for schemes. One Resolver is shared by
// all brokers in the process so they share both caches.
type Resolver struct {
	dir    string
	suffix string
	cache  *module.Cache

	mu      sync.Mutex
	schemes map[drm.SchemeID]string
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithSuffix overrides the recognized module file suffix.
func WithSuffix(suffix string) Option {
	return func(r *Resolver) {
		r.suffix = suffix
	}
}

// New creates a resolver scanning dir for modules loaded through loader.
// Panics if loader is nil.
func New(dir string, loader module.Loader, opts ...Option) *Resolver {
	r := &Resolver{
		dir:     dir,
		suffix:  DefaultSuffix,
		cache:   module.NewCache(loader),
		schemes: make(map[drm.SchemeID]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cache returns the module cache the resolver loads through.
func (r *Resolver) Cache() *module.Cache { return r.cache }

// Resolve finds a module supporting scheme and returns it retained,
// together with a fresh factory from it. The caller owns the module
// reference and must Release it. Failures of any internal kind surface as
// drm.ErrUnsupportedScheme with the cause logged.
func (r *Resolver) Resolve(scheme drm.SchemeID) (*module.Module, drm.Factory, error) {
	r.mu.Lock()
	path, hit := r.schemes[scheme]
	r.mu.Unlock()

	if hit {
		m, f, err := r.tryLoad(path, scheme)
		if err == nil {
			return m, f, nil
		}
		slog.Warn("cached module no longer resolves scheme, rescanning",
			"scheme", scheme.String(),
			"path", path,
			"error", err)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		slog.Error("failed to open plugin directory",
			"dir", r.dir,
			"error", err)
		return nil, nil, oops.
			Code("UNSUPPORTED_SCHEME").
			With("scheme", scheme.String()).
			With("dir", r.dir).
			Wrap(drm.ErrUnsupportedScheme)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), r.suffix) {
			continue
		}
		candidate := filepath.Join(r.dir, entry.Name())
		m, f, err := r.tryLoad(candidate, scheme)
		if err != nil {
			// One bad plugin must not abort the scan.
			slog.Debug("candidate module rejected",
				"scheme", scheme.String(),
				"path", candidate,
				"error", err)
			continue
		}

		r.mu.Lock()
		if _, exists := r.schemes[scheme]; !exists {
			r.schemes[scheme] = candidate
		}
		r.mu.Unlock()

		slog.Info("resolved scheme",
			"scheme", scheme.String(),
			"path", candidate)
		return m, f, nil
	}

	return nil, nil, oops.
		Code("UNSUPPORTED_SCHEME").
		With("scheme", scheme.String()).
		Wrap(drm.ErrUnsupportedScheme)
}

// tryLoad loads the module at path and verifies it supports scheme. On
// success the returned module is retained for the caller.
func (r *Resolver) tryLoad(path string, scheme drm.SchemeID) (*module.Module, drm.Factory, error) {
	m, err := r.cache.GetOrLoad(path)
	if err != nil {
		return nil, nil, err
	}
	f, err := m.Factory()
	if err != nil {
		m.Release()
		return nil, nil, err
	}
	if !f.IsSchemeSupported(scheme) {
		m.Release()
		return nil, nil, fmt.Errorf("module %s does not support scheme %s", path, scheme)
	}
	return m, f, nil
}

// ResolvedSchemes returns a copy of the positive-result cache, keyed by
// the textual scheme id. Used by the control surface.
func (r *Resolver) ResolvedSchemes() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.schemes))
	for scheme, path := range r.schemes {
		out[scheme.String()] = path
	}
	return out
}
