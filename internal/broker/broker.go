// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

// Package broker implements the per-caller DRM broker: it binds a scheme
// to a plugin module through the resolver, owns at most one plugin
// instance, forwards the session and crypto operation surface to it, and
// cooperates with the process-wide session registry for admission and
// reclamation.
//
// Locking discipline: mu guards scheme and instance state and every
// forwarded call; notifyMu serializes listener delivery; listenerMu guards
// the listener reference itself so dispatch never blocks on mu. The only
// place mu is released mid-operation is the OpenSession reclaim retry,
// because reclamation may call back into another broker's CloseSession.
package broker

import (
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/keyfort/keyfort/internal/module"
	"github.com/keyfort/keyfort/internal/permission"
	"github.com/keyfort/keyfort/internal/registry"
	"github.com/keyfort/keyfort/internal/resolver"
	"github.com/keyfort/keyfort/pkg/drm"
)

// PermissionCertificates is the elevated permission required for SignRSA.
const PermissionCertificates = "drm.certificates"

// Caller identifies the caller process a broker serves. Name is the
// subject checked against permission grants.
type Caller struct {
	PID  int
	Name string
}

// Broker mediates one caller's DRM operations against a plugin instance.
type Broker struct {
	caller   Caller
	resolver *resolver.Resolver
	registry registry.Registry
	enforcer *permission.Enforcer
	client   *sessionClient

	mu      sync.Mutex
	mod     *module.Module
	factory drm.Factory
	plugin  drm.Plugin
	initErr error // nil while a factory is bound; otherwise the recorded cause

	notifyMu sync.Mutex

	listenerMu   sync.Mutex
	listener     drm.Listener
	listenerStop chan struct{}
}

// New creates a broker for caller. Panics if resolver, registry, or
// enforcer is nil.
func New(caller Caller, res *resolver.Resolver, reg registry.Registry, enf *permission.Enforcer) *Broker {
	if res == nil {
		panic("broker: resolver cannot be nil")
	}
	if reg == nil {
		panic("broker: registry cannot be nil")
	}
	if enf == nil {
		panic("broker: enforcer cannot be nil")
	}
	b := &Broker{
		caller:   caller,
		resolver: res,
		registry: reg,
		enforcer: enf,
		initErr:  drm.ErrNotInitialized,
	}
	b.client = &sessionClient{broker: b}
	return b
}

// closeFactory drops the factory and the module reference backing it.
// Callers must hold mu.
func (b *Broker) closeFactory() {
	b.factory = nil
	if b.mod != nil {
		b.mod.Release()
		b.mod = nil
	}
}

// findFactory resolves scheme to a module and binds its factory, replacing
// any previous binding. On failure the broker is left unbound with the
// cause recorded in initErr. Callers must hold mu.
func (b *Broker) findFactory(scheme drm.SchemeID) {
	b.closeFactory()

	mod, factory, err := b.resolver.Resolve(scheme)
	if err != nil {
		b.initErr = err
		return
	}
	b.mod = mod
	b.factory = factory
	b.initErr = nil
}

// activePlugin returns the plugin instance, or the appropriate lifecycle
// error when the broker is unbound or has no instance. Callers must hold
// mu.
func (b *Broker) activePlugin() (drm.Plugin, error) {
	if b.initErr != nil {
		return nil, b.initErr
	}
	if b.plugin == nil {
		return nil, drm.ErrInvalidState
	}
	return b.plugin, nil
}

// IsSchemeSupported reports whether some plugin module supports scheme,
// resolving on demand. With a non-empty mime it additionally requires the
// module to support that content type.
func (b *Broker) IsSchemeSupported(scheme drm.SchemeID, mime string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.factory == nil || !b.factory.IsSchemeSupported(scheme) {
		b.findFactory(scheme)
		if b.initErr != nil {
			return false
		}
	}
	if mime != "" {
		return b.factory.IsContentTypeSupported(mime)
	}
	return true
}

// CreatePlugin instantiates a plugin for scheme. Fails with
// drm.ErrInvalidState if an instance already exists; callers must destroy
// it before re-binding.
func (b *Broker) CreatePlugin(scheme drm.SchemeID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.plugin != nil {
		return drm.ErrInvalidState
	}

	if b.factory == nil || !b.factory.IsSchemeSupported(scheme) {
		b.findFactory(scheme)
	}
	if b.initErr != nil {
		return b.initErr
	}

	// The broker is the plugin's listener; notifications fan out to the
	// caller's registered listener from there.
	p, err := b.factory.CreatePlugin(scheme, b)
	if err != nil {
		return err
	}
	b.plugin = p

	slog.Info("created plugin instance",
		"scheme", scheme.String(),
		"module", b.mod.Path(),
		"caller_pid", b.caller.PID)
	return nil
}

// DestroyPlugin releases the active plugin instance. Fails with
// drm.ErrInvalidState if none exists.
func (b *Broker) DestroyPlugin() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initErr != nil {
		return b.initErr
	}
	if b.plugin == nil {
		return drm.ErrInvalidState
	}

	if err := b.plugin.Close(); err != nil {
		slog.Warn("plugin instance close failed",
			"error", err)
	}
	b.plugin = nil
	return nil
}

// OpenSession opens a session on the active instance. When the plugin
// reports capacity exhaustion, one cooperative reclaim of a lower-priority
// caller's session is attempted and the open retried exactly once.
func (b *Broker) OpenSession() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return nil, err
	}

	sessionID, err := p.OpenSession()
	if errors.Is(err, drm.ErrResourceBusy) {
		// Reclamation calls back into the victim broker's CloseSession.
		// Brokers share the registry, so holding mu here could deadlock;
		// drop it for the reclaim and re-validate state afterwards.
		b.mu.Unlock()
		reclaimed := b.registry.ReclaimSession(b.caller.PID)
		b.mu.Lock()

		if reclaimed {
			reclaims.WithLabelValues("evicted").Inc()
			p, err = b.activePlugin()
			if err != nil {
				// Torn down while unlocked.
				return nil, err
			}
			sessionID, err = p.OpenSession()
		} else {
			reclaims.WithLabelValues("none").Inc()
			if _, verr := b.activePlugin(); verr != nil {
				return nil, verr
			}
		}
	}
	if err != nil {
		return nil, err
	}

	b.registry.AddSession(b.caller.PID, b.client, sessionID)
	sessionsOpened.Inc()
	return sessionID, nil
}

// CloseSession closes a session and deregisters it. Deregistration is
// best-effort and never fails the call.
func (b *Broker) CloseSession(sessionID []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return err
	}
	if err := p.CloseSession(sessionID); err != nil {
		return err
	}
	b.registry.RemoveSession(sessionID)
	sessionsClosed.Inc()
	return nil
}

// Close tears the broker down: deregisters it from the session registry,
// releases the plugin instance, and drops the factory and module
// references. Safe against in-flight operations by virtue of mu.
func (b *Broker) Close() error {
	b.registry.RemoveClient(b.client)

	b.listenerMu.Lock()
	if b.listenerStop != nil {
		close(b.listenerStop)
		b.listenerStop = nil
	}
	b.listener = nil
	b.listenerMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.plugin != nil {
		if err := b.plugin.Close(); err != nil {
			slog.Warn("plugin instance close failed",
				"error", err)
		}
		b.plugin = nil
	}
	b.closeFactory()
	b.initErr = drm.ErrNotInitialized
	return nil
}

// allowed reports whether the caller holds perm. Same-process callers are
// implicitly trusted.
func (b *Broker) allowed(perm string) bool {
	if b.caller.PID == os.Getpid() {
		return true
	}
	if b.enforcer.Allow(b.caller.Name, perm) {
		return true
	}
	slog.Warn("permission denied",
		"caller", b.caller.Name,
		"caller_pid", b.caller.PID,
		"permission", perm)
	return false
}
