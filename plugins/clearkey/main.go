// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

// Package main implements the clear-key reference plugin as a standalone
// plugin process. The broker launches it from the plugin directory; all
// key material stays in plugin memory.
package main

import (
	"github.com/keyfort/keyfort/internal/module/goplugin"
	"github.com/keyfort/keyfort/pkg/drm/clearkey"
)

func main() {
	goplugin.Serve(&clearkey.Factory{})
}
