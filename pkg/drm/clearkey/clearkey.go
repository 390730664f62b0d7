// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

// Package clearkey implements the reference "clear key" DRM plugin: keys
// are delivered in the clear inside the key response, content is encrypted
// with AES-CTR, and MACs use HMAC-SHA256. It implements the full
// drm.Factory and drm.Plugin contracts in memory, including session
// capacity signalling and secure-stop accounting, so the broker can be
// exercised end to end without vendor modules.
package clearkey

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/keyfort/keyfort/pkg/drm"
)

// Scheme is the W3C common clear-key scheme id,
// 1077efec-c0b2-4d02-ace3-3c1e52e2fb4b.
var Scheme = drm.SchemeID{
	0x10, 0x77, 0xef, 0xec, 0xc0, 0xb2, 0x4d, 0x02,
	0xac, 0xe3, 0x3c, 0x1e, 0x52, 0xe2, 0xfb, 0x4b,
}

// Vendor status codes reported by this plugin.
const (
	StatusSessionNotFound drm.StatusError = 1000 + iota
	StatusKeySetNotFound
	StatusKeyNotFound
	StatusInvalidKeyResponse
	StatusNoAlgorithmSet
	StatusUnsupportedAlgorithm
	StatusNotSupported
	StatusSecureStopNotFound
	StatusUnknownProperty
)

// DefaultMaxSessions is the session capacity when none is configured.
const DefaultMaxSessions = 8

// Cipher and MAC algorithm names accepted by sessions.
const (
	CipherAES = "AES-CTR"
	MacHMAC   = "HMAC-SHA256"
)

// supportedMimes lists the content types the factory claims.
var supportedMimes = map[string]bool{
	"video/mp4":  true,
	"audio/mp4":  true,
	"video/webm": true,
	"audio/webm": true,
}

// Compile-time interface checks.
var (
	_ drm.Factory = (*Factory)(nil)
	_ drm.Plugin  = (*Plugin)(nil)
)

// Factory creates clear-key plugin instances.
type Factory struct {
	// MaxSessions caps concurrent sessions per instance. Zero means
	// DefaultMaxSessions.
	MaxSessions int
}

// IsSchemeSupported reports whether scheme is the clear-key scheme.
func (f *Factory) IsSchemeSupported(scheme drm.SchemeID) bool {
	return scheme == Scheme
}

// IsContentTypeSupported reports whether mime is a supported content type.
func (f *Factory) IsContentTypeSupported(mime string) bool {
	return supportedMimes[mime]
}

// CreatePlugin instantiates a clear-key plugin.
func (f *Factory) CreatePlugin(scheme drm.SchemeID, listener drm.Listener) (drm.Plugin, error) {
	if scheme != Scheme {
		return nil, drm.ErrUnsupportedScheme
	}
	maxSessions := f.MaxSessions
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}

	deviceID := make([]byte, 16)
	if _, err := rand.Read(deviceID); err != nil {
		return nil, fmt.Errorf("generate device id: %w", err)
	}

	return &Plugin{
		listener:    listener,
		maxSessions: maxSessions,
		sessions:    make(map[string]*session),
		keySets:     make(map[string]map[string][]byte),
		secureStops: make(map[string][]byte),
		stringProps: map[string]string{
			"vendor":      "keyfort",
			"version":     "1.0",
			"description": "clear-key reference plugin",
			"algorithms":  CipherAES + "," + MacHMAC,
		},
		byteProps: map[string][]byte{
			"deviceUniqueId": deviceID,
		},
	}, nil
}

// session is one caller's key context.
type session struct {
	keys      map[string][]byte // hex kid -> key
	cipherAlg string
	macAlg    string
}

// Plugin is an in-memory clear-key plugin instance.
type Plugin struct {
	listener    drm.Listener
	maxSessions int

	mu          sync.Mutex
	closed      bool
	sessions    map[string]*session
	keySets     map[string]map[string][]byte
	secureStops map[string][]byte
	stringProps map[string]string
	byteProps   map[string][]byte
}

// keyRequest is the clear-key license request envelope.
type keyRequest struct {
	Kids []string `json:"kids"`
	Type string   `json:"type"`
}

// keyResponse is the clear-key license response envelope.
type keyResponse struct {
	Keys []struct {
		Kid string `json:"kid"`
		K   string `json:"k"`
	} `json:"keys"`
}

func (p *Plugin) session(sessionID []byte) (*session, error) {
	if p.closed {
		return nil, drm.ErrInvalidState
	}
	s, ok := p.sessions[string(sessionID)]
	if !ok {
		return nil, StatusSessionNotFound
	}
	return s, nil
}

// OpenSession implements drm.Plugin. Signals drm.ErrResourceBusy once the
// configured session capacity is reached.
func (p *Plugin) OpenSession() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, drm.ErrInvalidState
	}
	if len(p.sessions) >= p.maxSessions {
		return nil, drm.ErrResourceBusy
	}

	id := ulid.Make()
	sessionID := id[:]
	p.sessions[string(sessionID)] = &session{keys: make(map[string][]byte)}
	return sessionID, nil
}

// CloseSession implements drm.Plugin. Closing records a secure stop for
// usage accounting.
func (p *Plugin) CloseSession(sessionID []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.session(sessionID); err != nil {
		return err
	}
	delete(p.sessions, string(sessionID))

	stop := ulid.Make()
	p.secureStops[string(stop[:])] = append([]byte(nil), sessionID...)
	return nil
}

// GetKeyRequest implements drm.Plugin. The init data is interpreted as a
// list of key ids, 16 bytes each.
func (p *Plugin) GetKeyRequest(sessionID, initData []byte, mime string, keyType drm.KeyType, _ map[string]string) (*drm.KeyRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.session(sessionID); err != nil {
		return nil, err
	}
	if mime != "" && !supportedMimes[mime] {
		return nil, StatusNotSupported
	}

	req := keyRequest{Type: "temporary"}
	for i := 0; i+16 <= len(initData); i += 16 {
		req.Kids = append(req.Kids, hex.EncodeToString(initData[i:i+16]))
	}

	requestType := drm.KeyRequestInitial
	if keyType == drm.KeyTypeRelease {
		req.Type = "persistent-release"
		requestType = drm.KeyRequestRelease
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal key request: %w", err)
	}
	return &drm.KeyRequest{Request: raw, Type: requestType}, nil
}

// ProvideKeyResponse implements drm.Plugin. The response carries hex
// encoded kid/key pairs; installed keys are announced through the
// keys-changed notification.
func (p *Plugin) ProvideKeyResponse(sessionID, response []byte) ([]byte, error) {
	p.mu.Lock()

	s, err := p.session(sessionID)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	var resp keyResponse
	if err := json.Unmarshal(response, &resp); err != nil || len(resp.Keys) == 0 {
		p.mu.Unlock()
		return nil, StatusInvalidKeyResponse
	}

	keySet := make(map[string][]byte, len(resp.Keys))
	statuses := make([]drm.KeyStatus, 0, len(resp.Keys))
	for _, k := range resp.Keys {
		kid, kidErr := hex.DecodeString(k.Kid)
		key, keyErr := hex.DecodeString(k.K)
		if kidErr != nil || keyErr != nil || len(key) != 16 {
			p.mu.Unlock()
			return nil, StatusInvalidKeyResponse
		}
		s.keys[k.Kid] = key
		keySet[k.Kid] = key
		statuses = append(statuses, drm.KeyStatus{KeyID: kid, Type: drm.KeyStatusUsable})
	}

	id := ulid.Make()
	keySetID := id[:]
	p.keySets[string(keySetID)] = keySet
	listener := p.listener
	p.mu.Unlock()

	if listener != nil {
		listener.OnKeysChange(sessionID, statuses, true)
	}
	return keySetID, nil
}

// RemoveKeys implements drm.Plugin.
func (p *Plugin) RemoveKeys(keySetID []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return drm.ErrInvalidState
	}
	if _, ok := p.keySets[string(keySetID)]; !ok {
		return StatusKeySetNotFound
	}
	delete(p.keySets, string(keySetID))
	return nil
}

// RestoreKeys implements drm.Plugin.
func (p *Plugin) RestoreKeys(sessionID, keySetID []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.session(sessionID)
	if err != nil {
		return err
	}
	keySet, ok := p.keySets[string(keySetID)]
	if !ok {
		return StatusKeySetNotFound
	}
	for kid, key := range keySet {
		s.keys[kid] = key
	}
	return nil
}

// QueryKeyStatus implements drm.Plugin.
func (p *Plugin) QueryKeyStatus(sessionID []byte) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.session(sessionID)
	if err != nil {
		return nil, err
	}
	info := make(map[string]string, len(s.keys))
	for kid := range s.keys {
		info[kid] = "usable"
	}
	return info, nil
}

// GetProvisionRequest implements drm.Plugin. Clear key needs no
// provisioning; the status passes through the broker unchanged.
func (p *Plugin) GetProvisionRequest(string, string) (*drm.ProvisionRequest, error) {
	return nil, StatusNotSupported
}

// ProvideProvisionResponse implements drm.Plugin.
func (p *Plugin) ProvideProvisionResponse([]byte) ([]byte, []byte, error) {
	return nil, nil, StatusNotSupported
}

// GetSecureStops implements drm.Plugin.
func (p *Plugin) GetSecureStops() ([][]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, drm.ErrInvalidState
	}
	stops := make([][]byte, 0, len(p.secureStops))
	for id := range p.secureStops {
		stops = append(stops, []byte(id))
	}
	return stops, nil
}

// GetSecureStop implements drm.Plugin.
func (p *Plugin) GetSecureStop(stopID []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, drm.ErrInvalidState
	}
	stop, ok := p.secureStops[string(stopID)]
	if !ok {
		return nil, StatusSecureStopNotFound
	}
	return stop, nil
}

// ReleaseSecureStops implements drm.Plugin. The release message is a list
// of stop ids, 16 bytes each.
func (p *Plugin) ReleaseSecureStops(release []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return drm.ErrInvalidState
	}
	for i := 0; i+16 <= len(release); i += 16 {
		delete(p.secureStops, string(release[i:i+16]))
	}
	return nil
}

// ReleaseAllSecureStops implements drm.Plugin.
func (p *Plugin) ReleaseAllSecureStops() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return drm.ErrInvalidState
	}
	clear(p.secureStops)
	return nil
}

// GetPropertyString implements drm.Plugin.
func (p *Plugin) GetPropertyString(name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.stringProps[name]
	if !ok {
		return "", StatusUnknownProperty
	}
	return v, nil
}

// SetPropertyString implements drm.Plugin.
func (p *Plugin) SetPropertyString(name, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stringProps[name] = value
	return nil
}

// GetPropertyByteArray implements drm.Plugin.
func (p *Plugin) GetPropertyByteArray(name string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.byteProps[name]
	if !ok {
		return nil, StatusUnknownProperty
	}
	return v, nil
}

// SetPropertyByteArray implements drm.Plugin.
func (p *Plugin) SetPropertyByteArray(name string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byteProps[name] = append([]byte(nil), value...)
	return nil
}

// SetCipherAlgorithm implements drm.Plugin. Only AES-CTR is supported.
func (p *Plugin) SetCipherAlgorithm(sessionID []byte, algorithm string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.session(sessionID)
	if err != nil {
		return err
	}
	if algorithm != CipherAES {
		return StatusUnsupportedAlgorithm
	}
	s.cipherAlg = algorithm
	return nil
}

// SetMacAlgorithm implements drm.Plugin. Only HMAC-SHA256 is supported.
func (p *Plugin) SetMacAlgorithm(sessionID []byte, algorithm string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.session(sessionID)
	if err != nil {
		return err
	}
	if algorithm != MacHMAC {
		return StatusUnsupportedAlgorithm
	}
	s.macAlg = algorithm
	return nil
}

// sessionKey fetches a session's key for keyID, requiring alg to be set.
func (p *Plugin) sessionKey(sessionID, keyID []byte, needCipher, needMac bool) ([]byte, error) {
	s, err := p.session(sessionID)
	if err != nil {
		return nil, err
	}
	if needCipher && s.cipherAlg == "" {
		return nil, StatusNoAlgorithmSet
	}
	if needMac && s.macAlg == "" {
		return nil, StatusNoAlgorithmSet
	}
	key, ok := s.keys[hex.EncodeToString(keyID)]
	if !ok {
		return nil, StatusKeyNotFound
	}
	return key, nil
}

// ctr applies AES-CTR over input. Encryption and decryption are the same
// transform.
func ctr(key, iv, input []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, StatusUnsupportedAlgorithm
	}
	out := make([]byte, len(input))
	cipher.NewCTR(block, iv).XORKeyStream(out, input)
	return out, nil
}

// Encrypt implements drm.Plugin.
func (p *Plugin) Encrypt(sessionID, keyID, input, iv []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, err := p.sessionKey(sessionID, keyID, true, false)
	if err != nil {
		return nil, err
	}
	return ctr(key, iv, input)
}

// Decrypt implements drm.Plugin.
func (p *Plugin) Decrypt(sessionID, keyID, input, iv []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, err := p.sessionKey(sessionID, keyID, true, false)
	if err != nil {
		return nil, err
	}
	return ctr(key, iv, input)
}

// Sign implements drm.Plugin.
func (p *Plugin) Sign(sessionID, keyID, message []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, err := p.sessionKey(sessionID, keyID, false, true)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil), nil
}

// Verify implements drm.Plugin.
func (p *Plugin) Verify(sessionID, keyID, message, signature []byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, err := p.sessionKey(sessionID, keyID, false, true)
	if err != nil {
		return false, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hmac.Equal(mac.Sum(nil), signature), nil
}

// SignRSA implements drm.Plugin. Clear key carries no RSA credentials.
func (p *Plugin) SignRSA([]byte, string, []byte, []byte) ([]byte, error) {
	return nil, StatusNotSupported
}

// Close implements drm.Plugin.
func (p *Plugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	clear(p.sessions)
	return nil
}
