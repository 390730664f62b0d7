// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/keyfort/keyfort/pkg/drm"
)

// Compile-time check: the broker is the plugin's listener.
var _ drm.Listener = (*Broker)(nil)

// SetListener registers the caller's event sink, replacing any previous
// one. ctx models the caller's connection: when it is cancelled the
// listener is treated as dead, which clears it and proactively tears down
// the active plugin instance — an unreachable listener means the session
// owner is gone, so plugin resources are released rather than leaked until
// the next call. Passing a nil listener just clears the registration.
func (b *Broker) SetListener(ctx context.Context, l drm.Listener) {
	b.listenerMu.Lock()
	defer b.listenerMu.Unlock()

	if b.listenerStop != nil {
		close(b.listenerStop)
		b.listenerStop = nil
	}
	b.listener = l
	if l == nil || ctx == nil {
		return
	}

	stop := make(chan struct{})
	b.listenerStop = stop
	go b.watchListener(ctx, stop)
}

func (b *Broker) watchListener(ctx context.Context, stop chan struct{}) {
	select {
	case <-stop:
	case <-ctx.Done():
		b.listenerDied(stop)
	}
}

// listenerDied handles a dead listener connection. The stop channel
// identifies the registration generation: a watcher that lost the race
// against a replacement must not clear the new listener.
func (b *Broker) listenerDied(stop chan struct{}) {
	b.listenerMu.Lock()
	if b.listenerStop != stop {
		b.listenerMu.Unlock()
		return
	}
	b.listener = nil
	b.listenerStop = nil
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

	slog.Info("listener disconnected, plugin instance torn down",
		"caller_pid", b.caller.PID)
}

// currentListener reads the listener reference without touching mu, so
// dispatch never blocks behind an in-flight operation.
func (b *Broker) currentListener() drm.Listener {
	b.listenerMu.Lock()
	defer b.listenerMu.Unlock()
	return b.listener
}

// OnEvent delivers a generic plugin event to the registered listener.
// Notifications are serialized under notifyMu but never under mu, so a
// slow listener cannot block session operations.
func (b *Broker) OnEvent(event drm.Event) {
	l := b.currentListener()
	if l == nil {
		return
	}
	notifications.WithLabelValues("event").Inc()

	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	l.OnEvent(event)
}

// OnExpirationUpdate delivers an expiration update to the registered
// listener.
func (b *Broker) OnExpirationUpdate(sessionID []byte, expiry time.Time) {
	l := b.currentListener()
	if l == nil {
		return
	}
	notifications.WithLabelValues("expiration_update").Inc()

	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	l.OnExpirationUpdate(sessionID, expiry)
}

// OnKeysChange delivers a keys-changed notification to the registered
// listener.
func (b *Broker) OnKeysChange(sessionID []byte, statuses []drm.KeyStatus, hasNewUsableKey bool) {
	l := b.currentListener()
	if l == nil {
		return
	}
	notifications.WithLabelValues("keys_change").Inc()

	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	l.OnKeysChange(sessionID, statuses, hasNewUsableKey)
}

// sessionClient is the reclaim capability the broker registers with the
// session registry. Kept separate from the broker so the registry's
// contract stays narrow.
type sessionClient struct {
	broker *Broker
}

// ReclaimSession closes the named session on behalf of the registry and
// announces the eviction through the broker's normal notification path.
func (c *sessionClient) ReclaimSession(sessionID []byte) bool {
	if err := c.broker.CloseSession(sessionID); err != nil {
		slog.Warn("reclaim failed to close session",
			"error", err)
		return false
	}
	c.broker.OnEvent(drm.Event{
		Type:      drm.EventSessionReclaimed,
		SessionID: sessionID,
	})
	return true
}
