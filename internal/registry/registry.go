// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

// Package registry provides process-wide session bookkeeping shared by all
// brokers: admission, liveness marking, and cooperative reclamation of
// sessions under plugin capacity pressure.
package registry

import (
	"log/slog"
	"sync"
)

// Client is the narrow reclaim capability registered alongside a broker's
// sessions. The registry calls it back during reclamation; implementations
// must close the named session and report success. Kept as a capability
// object rather than a broker reference so lock ordering stays tractable.
type Client interface {
	ReclaimSession(sessionID []byte) bool
}

// Registry is the session bookkeeping contract consumed by brokers.
type Registry interface {
	// AddSession admits a session owned by the caller process.
	AddSession(callerPID int, client Client, sessionID []byte)
	// UseSession marks a session recently used, lowering its eviction
	// priority.
	UseSession(sessionID []byte)
	// RemoveSession forgets a session. Unknown ids are ignored.
	RemoveSession(sessionID []byte)
	// RemoveClient forgets every session registered by client.
	RemoveClient(client Client)
	// ReclaimSession evicts one session belonging to a caller of lower
	// priority than callerPID and reports whether a victim was evicted.
	ReclaimSession(callerPID int) bool
}

// PriorityFunc ranks caller processes for victim selection. Higher values
// are more important; only strictly lower-priority callers are evicted.
type PriorityFunc func(pid int) int

// EqualPriority treats every caller the same, which disables reclamation
// entirely. The safe default when no policy is configured.
func EqualPriority(int) int { return 0 }

type entry struct {
	pid       int
	client    Client
	sessionID []byte
	lastUse   uint64
}

// InMemory is the default Registry: per-caller session lists with a
// logical-clock LRU, victim selection lowest-priority-first then least
// recently used within that caller.
type InMemory struct {
	priority PriorityFunc

	mu       sync.Mutex
	clock    uint64
	sessions map[string]*entry
}

// Compile-time interface check.
var _ Registry = (*InMemory)(nil)

// InMemoryOption configures an InMemory registry.
type InMemoryOption func(*InMemory)

// WithPriority sets the caller priority policy.
func WithPriority(p PriorityFunc) InMemoryOption {
	return func(r *InMemory) {
		r.priority = p
	}
}

// NewInMemory creates an in-memory registry.
func NewInMemory(opts ...InMemoryOption) *InMemory {
	r := &InMemory{
		priority: EqualPriority,
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddSession implements Registry.
func (r *InMemory) AddSession(callerPID int, client Client, sessionID []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clock++
	r.sessions[string(sessionID)] = &entry{
		pid:       callerPID,
		client:    client,
		sessionID: append([]byte(nil), sessionID...),
		lastUse:   r.clock,
	}
}

// UseSession implements Registry.
func (r *InMemory) UseSession(sessionID []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[string(sessionID)]; ok {
		r.clock++
		e.lastUse = r.clock
	}
}

// RemoveSession implements Registry.
func (r *InMemory) RemoveSession(sessionID []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, string(sessionID))
}

// RemoveClient implements Registry.
func (r *InMemory) RemoveClient(client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.sessions {
		if e.client == client {
			delete(r.sessions, key)
		}
	}
}

// Len returns the number of registered sessions.
func (r *InMemory) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ReclaimSession implements Registry. The victim's client is called back
// outside the registry lock: reclaiming closes the victim's session, which
// re-enters the registry through RemoveSession.
func (r *InMemory) ReclaimSession(callerPID int) bool {
	victim := r.pickVictim(callerPID)
	if victim == nil {
		return false
	}

	if !victim.client.ReclaimSession(victim.sessionID) {
		slog.Warn("session owner refused reclaim",
			"owner_pid", victim.pid)
		return false
	}

	// The owner normally deregisters while closing; cover the case where
	// it did not.
	r.RemoveSession(victim.sessionID)
	slog.Info("reclaimed session",
		"owner_pid", victim.pid,
		"caller_pid", callerPID)
	return true
}

// pickVictim chooses the least recently used session of the lowest
// priority caller, provided that caller ranks strictly below callerPID.
func (r *InMemory) pickVictim(callerPID int) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	callerPriority := r.priority(callerPID)
	var victim *entry
	victimPriority := 0
	for _, e := range r.sessions {
		if e.pid == callerPID {
			continue
		}
		p := r.priority(e.pid)
		if p >= callerPriority {
			continue
		}
		if victim == nil || p < victimPriority ||
			(p == victimPriority && e.lastUse < victim.lastUse) {
			victim = e
			victimPriority = p
		}
	}
	return victim
}
