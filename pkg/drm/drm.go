// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

// Package drm defines the shared vocabulary between the broker and DRM
// plugin modules: scheme identifiers, the factory and plugin-instance
// contracts, listener notifications, and the error taxonomy.
//
// This package is the stable boundary with third-party plugin code. It
// carries no broker internals and no cryptography.
package drm

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// SchemeID identifies a DRM scheme as a fixed 16-byte value, conventionally
// rendered as a UUID. Compared by byte equality; usable as a map key.
type SchemeID [16]byte

// ParseSchemeID parses a scheme id from its textual form: 32 hex digits,
// with or without UUID-style dashes.
func ParseSchemeID(s string) (SchemeID, error) {
	var id SchemeID
	cleaned := strings.ReplaceAll(s, "-", "")
	if len(cleaned) != 32 {
		return id, fmt.Errorf("scheme id must be 16 bytes of hex, got %q", s)
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return id, fmt.Errorf("invalid scheme id %q: %w", s, err)
	}
	copy(id[:], raw)
	return id, nil
}

// String renders the id in UUID form (8-4-4-4-12, lowercase).
func (id SchemeID) String() string {
	h := hex.EncodeToString(id[:])
	return h[:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:]
}

// KeyType selects the kind of license a key request asks for.
type KeyType int

// Key request kinds.
const (
	KeyTypeStreaming KeyType = iota
	KeyTypeOffline
	KeyTypeRelease
)

// KeyRequestType reports what kind of request a plugin produced.
type KeyRequestType int

// Key request classifications.
const (
	KeyRequestInitial KeyRequestType = iota
	KeyRequestRenewal
	KeyRequestRelease
)

// KeyStatusType describes the usability of a single key within a session.
type KeyStatusType int

// Key status values reported through keys-change notifications.
const (
	KeyStatusUsable KeyStatusType = iota
	KeyStatusExpired
	KeyStatusOutputNotAllowed
	KeyStatusPending
	KeyStatusInternalError
)

// KeyStatus pairs a key id with its current status.
type KeyStatus struct {
	KeyID []byte
	Type  KeyStatusType
}

// EventType classifies a generic plugin event.
type EventType int

// Plugin event types.
const (
	EventProvisionRequired EventType = iota
	EventKeyNeeded
	EventKeyExpired
	EventVendorDefined
	EventSessionReclaimed
)

// Event is the generic plugin notification shape: a type, an integer
// extra, and optional session id and opaque payload.
type Event struct {
	Type      EventType
	Extra     int
	SessionID []byte
	Data      []byte
}

// KeyRequest is the result of a key request against a session.
type KeyRequest struct {
	Request    []byte
	DefaultURL string
	Type       KeyRequestType
}

// ProvisionRequest is the result of a provisioning request.
type ProvisionRequest struct {
	Request    []byte
	DefaultURL string
}
