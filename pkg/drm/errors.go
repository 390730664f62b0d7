// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package drm

import (
	"errors"
	"fmt"
)

// Sentinel errors shared between the broker and plugins. Check with
// errors.Is; wrapping is allowed at every layer.
var (
	// ErrNotInitialized is returned when no scheme or plugin is bound.
	ErrNotInitialized = errors.New("drm: not initialized")
	// ErrUnsupportedScheme is returned when no module claims a scheme.
	ErrUnsupportedScheme = errors.New("drm: unsupported scheme")
	// ErrInvalidState is returned when an operation does not fit the
	// broker's current lifecycle state, e.g. a double create.
	ErrInvalidState = errors.New("drm: invalid state")
	// ErrResourceBusy is returned by OpenSession when the plugin has hit
	// its session capacity. Retryable exactly once via reclamation.
	ErrResourceBusy = errors.New("drm: resource busy")
	// ErrPermissionDenied is returned when an elevated-permission check
	// fails before an operation reaches the plugin.
	ErrPermissionDenied = errors.New("drm: permission denied")
)

// StatusError carries a plugin-defined status code through the broker
// unchanged. Codes are opaque to the broker; only the plugin's own
// documentation gives them meaning.
type StatusError uint32

func (e StatusError) Error() string {
	return fmt.Sprintf("drm: plugin status %d", uint32(e))
}
