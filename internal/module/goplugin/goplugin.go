// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

// Package goplugin implements the default module loader on top of
// HashiCorp's go-plugin: a plugin module is an executable that serves a
// drm.Factory over net/rpc. Listener notifications flow back to the host
// over a MuxBroker reverse channel, so plugin-initiated events reach the
// broker without polling.
package goplugin

import (
	"fmt"
	"net/rpc"
	"os/exec"

	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/keyfort/keyfort/internal/module"
	"github.com/keyfort/keyfort/pkg/drm"
)

// Handshake guards against launching arbitrary executables as plugins and
// against protocol drift between host and plugin builds.
var Handshake = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "KEYFORT_DRM_PLUGIN",
	MagicCookieValue: "8c48b7e0f4a340f19f2d9ef7a83c2d11",
}

// factoryName is the dispense key under which modules serve their factory.
const factoryName = "factory"

// PluginMap is the plugin set every module must serve.
var PluginMap = map[string]hashiplug.Plugin{
	factoryName: &FactoryPlugin{},
}

// FactoryPlugin is the go-plugin glue for the drm.Factory contract.
// Impl is set on the plugin side only.
type FactoryPlugin struct {
	Impl drm.Factory
}

// Server returns the RPC server wrapping the plugin-side factory.
func (p *FactoryPlugin) Server(b *hashiplug.MuxBroker) (any, error) {
	return newFactoryServer(b, p.Impl), nil
}

// Client returns the host-side drm.Factory backed by the RPC client.
func (p *FactoryPlugin) Client(b *hashiplug.MuxBroker, c *rpc.Client) (any, error) {
	return &factoryClient{mux: b, client: c}, nil
}

// Serve runs a plugin module's main loop, exposing factory to the host.
// Plugin main packages call this and never return.
func Serve(factory drm.Factory) {
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]hashiplug.Plugin{
			factoryName: &FactoryPlugin{Impl: factory},
		},
	})
}

// Compile-time interface check.
var _ module.Loader = (*Loader)(nil)

// Loader loads plugin modules by launching them as subprocesses.
type Loader struct{}

// Load starts the module executable at path and connects to it.
func (Loader) Load(path string) (module.Handle, error) {
	client := hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap,
		Cmd:              exec.Command(path), // #nosec G204 -- path comes from the configured plugin directory scan
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolNetRPC},
	})

	proto, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("connect to plugin module: %w", err)
	}

	return &handle{client: client, proto: proto}, nil
}

// handle is one running plugin module subprocess.
type handle struct {
	client *hashiplug.Client
	proto  hashiplug.ClientProtocol
}

// Factory dispenses the module's factory entry point.
func (h *handle) Factory() (drm.Factory, error) {
	raw, err := h.proto.Dispense(factoryName)
	if err != nil {
		return nil, fmt.Errorf("dispense factory: %w", err)
	}
	f, ok := raw.(drm.Factory)
	if !ok {
		return nil, fmt.Errorf("module does not serve a DRM factory (got %T)", raw)
	}
	return f, nil
}

// Close terminates the module subprocess.
func (h *handle) Close() error {
	h.client.Kill()
	return nil
}
