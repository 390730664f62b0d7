// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package module_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfort/keyfort/internal/module"
	"github.com/keyfort/keyfort/internal/module/moduletest"
	"github.com/keyfort/keyfort/pkg/drm/clearkey"
)

func TestNewCache_NilLoaderPanics(t *testing.T) {
	assert.Panics(t, func() {
		module.NewCache(nil)
	})
}

func TestCache_GetOrLoad(t *testing.T) {
	loader := moduletest.NewLoader()
	loader.Register("/plugins/a.plugin", &clearkey.Factory{})
	cache := module.NewCache(loader)

	m, err := cache.GetOrLoad("/plugins/a.plugin")
	require.NoError(t, err)
	assert.Equal(t, "/plugins/a.plugin", m.Path())
	assert.Equal(t, 1, loader.Loads("/plugins/a.plugin"))

	// A second holder reuses the resident module.
	m2, err := cache.GetOrLoad("/plugins/a.plugin")
	require.NoError(t, err)
	assert.Same(t, m, m2)
	assert.Equal(t, 1, loader.Loads("/plugins/a.plugin"))
	assert.Equal(t, int64(1), cache.Loads())

	m.Release()
	m2.Release()
	assert.Equal(t, 1, loader.Unloads("/plugins/a.plugin"))
}

func TestCache_GetOrLoad_Failure(t *testing.T) {
	loader := moduletest.NewLoader()
	loadErr := errors.New("bad module image")
	loader.FailWith("/plugins/broken.plugin", loadErr)
	cache := module.NewCache(loader)

	_, err := cache.GetOrLoad("/plugins/broken.plugin")
	require.ErrorIs(t, err, loadErr)
	assert.Empty(t, cache.Resident())
}

func TestCache_ReplacesDeadEntry(t *testing.T) {
	loader := moduletest.NewLoader()
	loader.Register("/plugins/a.plugin", &clearkey.Factory{})
	cache := module.NewCache(loader)

	m, err := cache.GetOrLoad("/plugins/a.plugin")
	require.NoError(t, err)

	// Last release unloads; the stale entry must not be resurrected.
	m.Release()
	assert.False(t, m.Retain())
	assert.Equal(t, 1, loader.Unloads("/plugins/a.plugin"))

	m2, err := cache.GetOrLoad("/plugins/a.plugin")
	require.NoError(t, err)
	assert.NotSame(t, m, m2)
	assert.Equal(t, 2, loader.Loads("/plugins/a.plugin"))
	m2.Release()
}

func TestModule_RetainRelease(t *testing.T) {
	loader := moduletest.NewLoader()
	loader.Register("/plugins/a.plugin", &clearkey.Factory{})
	cache := module.NewCache(loader)

	m, err := cache.GetOrLoad("/plugins/a.plugin")
	require.NoError(t, err)

	require.True(t, m.Retain())
	m.Release()
	assert.Zero(t, loader.Unloads("/plugins/a.plugin"))

	m.Release()
	assert.Equal(t, 1, loader.Unloads("/plugins/a.plugin"))
}

func TestModule_Factory(t *testing.T) {
	loader := moduletest.NewLoader()
	factory := &clearkey.Factory{}
	loader.Register("/plugins/a.plugin", factory)
	cache := module.NewCache(loader)

	m, err := cache.GetOrLoad("/plugins/a.plugin")
	require.NoError(t, err)
	defer m.Release()

	f, err := m.Factory()
	require.NoError(t, err)
	assert.True(t, f.IsSchemeSupported(clearkey.Scheme))
}

func TestCache_Resident(t *testing.T) {
	loader := moduletest.NewLoader()
	loader.Register("/plugins/b.plugin", &clearkey.Factory{})
	loader.Register("/plugins/a.plugin", &clearkey.Factory{})
	cache := module.NewCache(loader)

	a, err := cache.GetOrLoad("/plugins/a.plugin")
	require.NoError(t, err)
	b, err := cache.GetOrLoad("/plugins/b.plugin")
	require.NoError(t, err)

	assert.Equal(t, []string{"/plugins/a.plugin", "/plugins/b.plugin"}, cache.Resident())

	a.Release()
	assert.Equal(t, []string{"/plugins/b.plugin"}, cache.Resident())
	b.Release()
	assert.Empty(t, cache.Resident())
}

func TestCache_ConcurrentGetOrLoad(t *testing.T) {
	loader := moduletest.NewLoader()
	loader.Register("/plugins/a.plugin", &clearkey.Factory{})
	cache := module.NewCache(loader)

	const workers = 16
	modules := make([]*module.Module, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := range workers {
		go func() {
			defer wg.Done()
			m, err := cache.GetOrLoad("/plugins/a.plugin")
			if err == nil {
				modules[i] = m
			}
		}()
	}
	wg.Wait()

	// Concurrent resolutions of one path produce exactly one load.
	assert.Equal(t, 1, loader.Loads("/plugins/a.plugin"))
	for _, m := range modules {
		require.NotNil(t, m)
		m.Release()
	}
	assert.Equal(t, 1, loader.Unloads("/plugins/a.plugin"))
}
