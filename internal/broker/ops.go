// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package broker

import (
	"github.com/keyfort/keyfort/pkg/drm"
)

// Session-scoped operations mark the session recently used in the registry
// before forwarding, extending its eviction priority. Everything else is
// forwarded verbatim.

// GetKeyRequest forwards a key request for a session.
func (b *Broker) GetKeyRequest(sessionID, initData []byte, mime string, keyType drm.KeyType, params map[string]string) (*drm.KeyRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return nil, err
	}
	b.registry.UseSession(sessionID)
	return p.GetKeyRequest(sessionID, initData, mime, keyType, params)
}

// ProvideKeyResponse installs a license server response into a session.
func (b *Broker) ProvideKeyResponse(sessionID, response []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return nil, err
	}
	b.registry.UseSession(sessionID)
	return p.ProvideKeyResponse(sessionID, response)
}

// RemoveKeys removes a persisted key set. Not session-scoped.
func (b *Broker) RemoveKeys(keySetID []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return err
	}
	return p.RemoveKeys(keySetID)
}

// RestoreKeys restores a persisted key set into a session.
func (b *Broker) RestoreKeys(sessionID, keySetID []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return err
	}
	b.registry.UseSession(sessionID)
	return p.RestoreKeys(sessionID, keySetID)
}

// QueryKeyStatus queries a session's key status map.
func (b *Broker) QueryKeyStatus(sessionID []byte) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return nil, err
	}
	b.registry.UseSession(sessionID)
	return p.QueryKeyStatus(sessionID)
}

// GetProvisionRequest forwards a provisioning request.
func (b *Broker) GetProvisionRequest(certType, certAuthority string) (*drm.ProvisionRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return nil, err
	}
	return p.GetProvisionRequest(certType, certAuthority)
}

// ProvideProvisionResponse installs a provisioning response.
func (b *Broker) ProvideProvisionResponse(response []byte) (certificate, wrappedKey []byte, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return nil, nil, err
	}
	return p.ProvideProvisionResponse(response)
}

// GetSecureStops lists the plugin's secure stop records.
func (b *Broker) GetSecureStops() ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return nil, err
	}
	return p.GetSecureStops()
}

// GetSecureStop fetches one secure stop record.
func (b *Broker) GetSecureStop(stopID []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return nil, err
	}
	return p.GetSecureStop(stopID)
}

// ReleaseSecureStops releases the secure stops named in the message.
func (b *Broker) ReleaseSecureStops(release []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return err
	}
	return p.ReleaseSecureStops(release)
}

// ReleaseAllSecureStops drops every secure stop record.
func (b *Broker) ReleaseAllSecureStops() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return err
	}
	return p.ReleaseAllSecureStops()
}

// GetPropertyString reads a string property from the plugin.
func (b *Broker) GetPropertyString(name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return "", err
	}
	return p.GetPropertyString(name)
}

// SetPropertyString writes a string property to the plugin.
func (b *Broker) SetPropertyString(name, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return err
	}
	return p.SetPropertyString(name, value)
}

// GetPropertyByteArray reads a byte-array property from the plugin.
func (b *Broker) GetPropertyByteArray(name string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return nil, err
	}
	return p.GetPropertyByteArray(name)
}

// SetPropertyByteArray writes a byte-array property to the plugin.
func (b *Broker) SetPropertyByteArray(name string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return err
	}
	return p.SetPropertyByteArray(name, value)
}

// SetCipherAlgorithm selects a session's cipher algorithm.
func (b *Broker) SetCipherAlgorithm(sessionID []byte, algorithm string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return err
	}
	b.registry.UseSession(sessionID)
	return p.SetCipherAlgorithm(sessionID, algorithm)
}

// SetMacAlgorithm selects a session's MAC algorithm.
func (b *Broker) SetMacAlgorithm(sessionID []byte, algorithm string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return err
	}
	b.registry.UseSession(sessionID)
	return p.SetMacAlgorithm(sessionID, algorithm)
}

// Encrypt encrypts input with the session's selected cipher.
func (b *Broker) Encrypt(sessionID, keyID, input, iv []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return nil, err
	}
	b.registry.UseSession(sessionID)
	return p.Encrypt(sessionID, keyID, input, iv)
}

// Decrypt decrypts input with the session's selected cipher.
func (b *Broker) Decrypt(sessionID, keyID, input, iv []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return nil, err
	}
	b.registry.UseSession(sessionID)
	return p.Decrypt(sessionID, keyID, input, iv)
}

// Sign produces a MAC over message with the session's selected algorithm.
func (b *Broker) Sign(sessionID, keyID, message []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return nil, err
	}
	b.registry.UseSession(sessionID)
	return p.Sign(sessionID, keyID, message)
}

// Verify checks a MAC over message with the session's selected algorithm.
func (b *Broker) Verify(sessionID, keyID, message, signature []byte) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return false, err
	}
	b.registry.UseSession(sessionID)
	return p.Verify(sessionID, keyID, message, signature)
}

// SignRSA signs message with a wrapped RSA key. The caller must hold the
// certificates permission; the check runs before any plugin state is
// consulted, so an unauthorized call never reaches the instance.
func (b *Broker) SignRSA(sessionID []byte, algorithm string, message, wrappedKey []byte) ([]byte, error) {
	if !b.allowed(PermissionCertificates) {
		return nil, drm.ErrPermissionDenied
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.activePlugin()
	if err != nil {
		return nil, err
	}
	b.registry.UseSession(sessionID)
	return p.SignRSA(sessionID, algorithm, message, wrappedKey)
}
