// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

// Package moduletest provides an in-memory module loader for tests. It
// serves factories registered by path, counts loads and unloads, and can
// inject load failures, so broker and resolver tests run without plugin
// subprocesses.
package moduletest

import (
	"fmt"
	"sync"

	"github.com/keyfort/keyfort/internal/module"
	"github.com/keyfort/keyfort/pkg/drm"
)

// Compile-time interface check.
var _ module.Loader = (*Loader)(nil)

// Loader is an in-memory module.Loader.
type Loader struct {
	mu        sync.Mutex
	factories map[string]drm.Factory
	failures  map[string]error
	loads     map[string]int
	unloads   map[string]int
}

// NewLoader creates an empty loader.
func NewLoader() *Loader {
	return &Loader{
		factories: make(map[string]drm.Factory),
		failures:  make(map[string]error),
		loads:     make(map[string]int),
		unloads:   make(map[string]int),
	}
}

// Register serves factory for loads of path.
func (l *Loader) Register(path string, factory drm.Factory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.factories[path] = factory
	delete(l.failures, path)
}

// FailWith makes loads of path fail with err.
func (l *Loader) FailWith(path string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[path] = err
	delete(l.factories, path)
}

// Loads returns how many times path has been loaded successfully.
func (l *Loader) Loads(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[path]
}

// Unloads returns how many times a handle for path has been closed.
func (l *Loader) Unloads(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unloads[path]
}

// Load implements module.Loader.
func (l *Loader) Load(path string) (module.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err, ok := l.failures[path]; ok {
		return nil, err
	}
	f, ok := l.factories[path]
	if !ok {
		return nil, fmt.Errorf("no module registered at %s", path)
	}
	l.loads[path]++
	return &handle{loader: l, path: path, factory: f}, nil
}

type handle struct {
	loader  *Loader
	path    string
	factory drm.Factory
}

func (h *handle) Factory() (drm.Factory, error) { return h.factory, nil }

func (h *handle) Close() error {
	h.loader.mu.Lock()
	defer h.loader.mu.Unlock()
	h.loader.unloads[h.path]++
	return nil
}
