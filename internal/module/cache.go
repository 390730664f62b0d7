// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package module

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Cache shares loaded modules across brokers, keyed by library path.
//
// Entries are weak: the cache never extends a module's lifetime. GetOrLoad
// upgrades a live entry or replaces a dead one. One coarse lock serializes
// the whole check-and-load sequence so concurrent resolutions of the same
// path produce exactly one load; loads are rare and expensive relative to
// the lock hold time, so this is deliberately not finer grained.
type Cache struct {
	loader  Loader
	mu      sync.Mutex
	modules map[string]*Module
	loads   atomic.Int64
}

// NewCache creates a module cache backed by loader.
// Panics if loader is nil.
func NewCache(loader Loader) *Cache {
	if loader == nil {
		panic("module: loader cannot be nil")
	}
	return &Cache{
		loader:  loader,
		modules: make(map[string]*Module),
	}
}

// GetOrLoad returns a retained module for path, reusing the resident one
// when a reference can still be obtained and loading otherwise. The caller
// owns one reference and must Release it.
func (c *Cache) GetOrLoad(path string) (*Module, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.modules[path]; ok && m.Retain() {
		return m, nil
	}

	h, err := c.loader.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load plugin module %s: %w", path, err)
	}

	m := newModule(path, h)
	c.modules[path] = m
	c.loads.Add(1)
	moduleLoads.Inc()
	return m, nil
}

// Loads returns the number of module loads performed so far.
func (c *Cache) Loads() int64 { return c.loads.Load() }

// Resident returns the sorted paths of modules that are still loaded.
func (c *Cache) Resident() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	paths := make([]string, 0, len(c.modules))
	for path, m := range c.modules {
		if m.alive() {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}
