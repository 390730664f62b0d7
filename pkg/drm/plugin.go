// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package drm

import "time"

// Factory is the capability object a plugin module exposes through its
// entry point. It answers support queries and instantiates plugins.
//
// A Factory is owned by exactly one broker and is replaced whenever that
// broker re-resolves a scheme.
type Factory interface {
	// IsSchemeSupported reports whether the module implements the scheme.
	IsSchemeSupported(scheme SchemeID) bool
	// IsContentTypeSupported reports whether the module can handle
	// content of the given MIME type.
	IsContentTypeSupported(mime string) bool
	// CreatePlugin instantiates a plugin for the scheme. Events raised by
	// the plugin are delivered to listener for the plugin's lifetime.
	CreatePlugin(scheme SchemeID, listener Listener) (Plugin, error)
}

// Plugin is a plugin-supplied instance implementing the full session and
// crypto capability set. All methods return either nil, one of this
// package's sentinel errors, or a plugin-defined StatusError; OpenSession
// signals capacity exhaustion with ErrResourceBusy specifically.
//
// Session ids are opaque byte strings minted by the plugin. The broker
// never interprets them.
type Plugin interface {
	OpenSession() ([]byte, error)
	CloseSession(sessionID []byte) error

	GetKeyRequest(sessionID, initData []byte, mime string, keyType KeyType, params map[string]string) (*KeyRequest, error)
	ProvideKeyResponse(sessionID, response []byte) (keySetID []byte, err error)
	RemoveKeys(keySetID []byte) error
	RestoreKeys(sessionID, keySetID []byte) error
	QueryKeyStatus(sessionID []byte) (map[string]string, error)

	GetProvisionRequest(certType, certAuthority string) (*ProvisionRequest, error)
	ProvideProvisionResponse(response []byte) (certificate, wrappedKey []byte, err error)

	GetSecureStops() ([][]byte, error)
	GetSecureStop(stopID []byte) ([]byte, error)
	ReleaseSecureStops(release []byte) error
	ReleaseAllSecureStops() error

	GetPropertyString(name string) (string, error)
	SetPropertyString(name, value string) error
	GetPropertyByteArray(name string) ([]byte, error)
	SetPropertyByteArray(name string, value []byte) error

	SetCipherAlgorithm(sessionID []byte, algorithm string) error
	SetMacAlgorithm(sessionID []byte, algorithm string) error
	Encrypt(sessionID, keyID, input, iv []byte) ([]byte, error)
	Decrypt(sessionID, keyID, input, iv []byte) ([]byte, error)
	Sign(sessionID, keyID, message []byte) ([]byte, error)
	Verify(sessionID, keyID, message, signature []byte) (bool, error)
	SignRSA(sessionID []byte, algorithm string, message, wrappedKey []byte) ([]byte, error)

	// Close releases the instance. The plugin must not deliver further
	// notifications after Close returns.
	Close() error
}

// Listener receives plugin notifications. Implementations must tolerate
// synchronous delivery; the broker serializes notifications but a slow
// listener delays subsequent ones.
type Listener interface {
	OnEvent(event Event)
	OnExpirationUpdate(sessionID []byte, expiry time.Time)
	OnKeysChange(sessionID []byte, statuses []KeyStatus, hasNewUsableKey bool)
}
