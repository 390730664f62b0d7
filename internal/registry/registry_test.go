// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfort/keyfort/internal/registry"
)

// fakeClient records reclaim callbacks and answers with a scripted result.
type fakeClient struct {
	refuse    bool
	reclaimed [][]byte
}

func (c *fakeClient) ReclaimSession(sessionID []byte) bool {
	c.reclaimed = append(c.reclaimed, sessionID)
	return !c.refuse
}

// pidPriority ranks callers by pid for tests: higher pid, higher priority.
func pidPriority(pid int) int { return pid }

func TestInMemory_AddRemove(t *testing.T) {
	r := registry.NewInMemory()
	client := &fakeClient{}

	r.AddSession(100, client, []byte("s1"))
	r.AddSession(100, client, []byte("s2"))
	assert.Equal(t, 2, r.Len())

	r.RemoveSession([]byte("s1"))
	assert.Equal(t, 1, r.Len())

	// Unknown ids are ignored.
	r.RemoveSession([]byte("unknown"))
	assert.Equal(t, 1, r.Len())
}

func TestInMemory_RemoveClient(t *testing.T) {
	r := registry.NewInMemory()
	mine := &fakeClient{}
	other := &fakeClient{}

	r.AddSession(100, mine, []byte("m1"))
	r.AddSession(100, mine, []byte("m2"))
	r.AddSession(200, other, []byte("o1"))

	r.RemoveClient(mine)
	assert.Equal(t, 1, r.Len())
}

func TestInMemory_ReclaimSession_EqualPriority(t *testing.T) {
	// The default policy ranks every caller the same, so nothing is ever
	// reclaimed.
	r := registry.NewInMemory()
	client := &fakeClient{}
	r.AddSession(100, client, []byte("s1"))

	assert.False(t, r.ReclaimSession(200))
	assert.Empty(t, client.reclaimed)
	assert.Equal(t, 1, r.Len())
}

func TestInMemory_ReclaimSession_EvictsLowerPriority(t *testing.T) {
	r := registry.NewInMemory(registry.WithPriority(pidPriority))
	low := &fakeClient{}
	r.AddSession(100, low, []byte("s1"))

	require.True(t, r.ReclaimSession(200))
	require.Len(t, low.reclaimed, 1)
	assert.Equal(t, []byte("s1"), low.reclaimed[0])
	assert.Zero(t, r.Len())
}

func TestInMemory_ReclaimSession_NeverEvictsHigherOrEqual(t *testing.T) {
	r := registry.NewInMemory(registry.WithPriority(pidPriority))
	equal := &fakeClient{}
	higher := &fakeClient{}
	r.AddSession(200, equal, []byte("e1"))
	r.AddSession(300, higher, []byte("h1"))

	assert.False(t, r.ReclaimSession(200))
	assert.Empty(t, equal.reclaimed)
	assert.Empty(t, higher.reclaimed)
	assert.Equal(t, 2, r.Len())
}

func TestInMemory_ReclaimSession_PicksLowestPriorityThenLRU(t *testing.T) {
	r := registry.NewInMemory(registry.WithPriority(pidPriority))
	lowest := &fakeClient{}
	middle := &fakeClient{}

	r.AddSession(100, lowest, []byte("old"))
	r.AddSession(100, lowest, []byte("fresh"))
	r.AddSession(150, middle, []byte("m1"))

	// Touch "old" last use ordering: "fresh" becomes the more recent one.
	r.UseSession([]byte("fresh"))
	r.UseSession([]byte("old"))
	r.UseSession([]byte("fresh"))

	require.True(t, r.ReclaimSession(200))
	// Lowest priority caller is chosen over the middle one, and within it
	// the least recently used session.
	require.Len(t, lowest.reclaimed, 1)
	assert.Equal(t, []byte("old"), lowest.reclaimed[0])
	assert.Empty(t, middle.reclaimed)
}

func TestInMemory_ReclaimSession_OwnerRefuses(t *testing.T) {
	r := registry.NewInMemory(registry.WithPriority(pidPriority))
	stubborn := &fakeClient{refuse: true}
	r.AddSession(100, stubborn, []byte("s1"))

	assert.False(t, r.ReclaimSession(200))
	require.Len(t, stubborn.reclaimed, 1)
	// A refused reclaim leaves the session registered.
	assert.Equal(t, 1, r.Len())
}

func TestInMemory_ReclaimSession_DeregistersVictim(t *testing.T) {
	// Owners normally deregister while closing; the registry covers owners
	// that do not.
	r := registry.NewInMemory(registry.WithPriority(pidPriority))
	passive := &fakeClient{}
	r.AddSession(100, passive, []byte("s1"))

	require.True(t, r.ReclaimSession(200))
	assert.Zero(t, r.Len())
}
