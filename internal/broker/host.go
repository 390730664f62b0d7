// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package broker

import (
	"github.com/keyfort/keyfort/internal/permission"
	"github.com/keyfort/keyfort/internal/registry"
	"github.com/keyfort/keyfort/internal/resolver"
)

// Host holds the process-wide broker dependencies: one resolver, one
// session registry, one permission enforcer. Every caller gets its own
// Broker from NewBroker so that brokers share the module cache and the
// session pool.
type Host struct {
	res *resolver.Resolver
	reg registry.Registry
	enf *permission.Enforcer
}

// NewHost creates a broker host. Panics if any dependency is nil.
func NewHost(res *resolver.Resolver, reg registry.Registry, enf *permission.Enforcer) *Host {
	if res == nil {
		panic("broker: resolver cannot be nil")
	}
	if reg == nil {
		panic("broker: registry cannot be nil")
	}
	if enf == nil {
		panic("broker: enforcer cannot be nil")
	}
	return &Host{res: res, reg: reg, enf: enf}
}

// NewBroker creates a broker for caller backed by the host's shared state.
func (h *Host) NewBroker(caller Caller) *Broker {
	return New(caller, h.res, h.reg, h.enf)
}

// Resolver returns the shared scheme resolver.
func (h *Host) Resolver() *resolver.Resolver { return h.res }

// Registry returns the shared session registry.
func (h *Host) Registry() registry.Registry { return h.reg }
