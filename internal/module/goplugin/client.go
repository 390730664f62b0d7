// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package goplugin

import (
	"fmt"
	"net/rpc"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/keyfort/keyfort/pkg/drm"
)

// Compile-time interface checks.
var (
	_ drm.Factory  = (*factoryClient)(nil)
	_ drm.Plugin   = (*pluginClient)(nil)
	_ drm.Listener = (*listenerClient)(nil)
)

// factoryClient is the host-side drm.Factory backed by a module subprocess.
type factoryClient struct {
	mux    *hashiplug.MuxBroker
	client *rpc.Client
}

func (c *factoryClient) IsSchemeSupported(scheme drm.SchemeID) bool {
	var ok bool
	if err := c.client.Call("Plugin.IsSchemeSupported", SchemeArgs{Scheme: scheme}, &ok); err != nil {
		return false
	}
	return ok
}

func (c *factoryClient) IsContentTypeSupported(mime string) bool {
	var ok bool
	if err := c.client.Call("Plugin.IsContentTypeSupported", mime, &ok); err != nil {
		return false
	}
	return ok
}

func (c *factoryClient) CreatePlugin(scheme drm.SchemeID, listener drm.Listener) (drm.Plugin, error) {
	// Open the reverse channel first so the module can dial back for
	// listener notifications.
	listenerID := c.mux.NextId()
	go c.mux.AcceptAndServe(listenerID, &listenerServer{impl: listener})

	var reply CreatePluginReply
	args := CreatePluginArgs{Scheme: scheme, ListenerID: listenerID}
	if err := c.client.Call("Plugin.CreatePlugin", args, &reply); err != nil {
		return nil, fmt.Errorf("create plugin: %w", err)
	}
	if err := reply.Res.Err(); err != nil {
		return nil, err
	}
	return &pluginClient{client: c.client, id: reply.PluginID}, nil
}

// pluginClient is the host-side drm.Plugin addressing one instance inside
// a module subprocess.
type pluginClient struct {
	client *rpc.Client
	id     uint64
}

func (c *pluginClient) OpenSession() ([]byte, error) {
	var reply BytesReply
	if err := c.client.Call("Plugin.OpenSession", c.id, &reply); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return reply.Data, reply.Res.Err()
}

func (c *pluginClient) CloseSession(sessionID []byte) error {
	var reply Result
	args := SessionArgs{Plugin: c.id, SessionID: sessionID}
	if err := c.client.Call("Plugin.CloseSession", args, &reply); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return reply.Err()
}

func (c *pluginClient) GetKeyRequest(sessionID, initData []byte, mime string, keyType drm.KeyType, params map[string]string) (*drm.KeyRequest, error) {
	var reply KeyRequestReply
	args := KeyRequestArgs{
		Plugin:    c.id,
		SessionID: sessionID,
		InitData:  initData,
		MimeType:  mime,
		KeyType:   keyType,
		Params:    params,
	}
	if err := c.client.Call("Plugin.GetKeyRequest", args, &reply); err != nil {
		return nil, fmt.Errorf("get key request: %w", err)
	}
	if err := reply.Res.Err(); err != nil {
		return nil, err
	}
	return &drm.KeyRequest{Request: reply.Request, DefaultURL: reply.DefaultURL, Type: reply.Type}, nil
}

func (c *pluginClient) ProvideKeyResponse(sessionID, response []byte) ([]byte, error) {
	var reply BytesReply
	args := KeyResponseArgs{Plugin: c.id, SessionID: sessionID, Response: response}
	if err := c.client.Call("Plugin.ProvideKeyResponse", args, &reply); err != nil {
		return nil, fmt.Errorf("provide key response: %w", err)
	}
	return reply.Data, reply.Res.Err()
}

func (c *pluginClient) RemoveKeys(keySetID []byte) error {
	var reply Result
	args := KeySetArgs{Plugin: c.id, KeySetID: keySetID}
	if err := c.client.Call("Plugin.RemoveKeys", args, &reply); err != nil {
		return fmt.Errorf("remove keys: %w", err)
	}
	return reply.Err()
}

func (c *pluginClient) RestoreKeys(sessionID, keySetID []byte) error {
	var reply Result
	args := KeySetArgs{Plugin: c.id, SessionID: sessionID, KeySetID: keySetID}
	if err := c.client.Call("Plugin.RestoreKeys", args, &reply); err != nil {
		return fmt.Errorf("restore keys: %w", err)
	}
	return reply.Err()
}

func (c *pluginClient) QueryKeyStatus(sessionID []byte) (map[string]string, error) {
	var reply KeyStatusReply
	args := SessionArgs{Plugin: c.id, SessionID: sessionID}
	if err := c.client.Call("Plugin.QueryKeyStatus", args, &reply); err != nil {
		return nil, fmt.Errorf("query key status: %w", err)
	}
	return reply.Info, reply.Res.Err()
}

func (c *pluginClient) GetProvisionRequest(certType, certAuthority string) (*drm.ProvisionRequest, error) {
	var reply ProvisionRequestReply
	args := ProvisionRequestArgs{Plugin: c.id, CertType: certType, CertAuthority: certAuthority}
	if err := c.client.Call("Plugin.GetProvisionRequest", args, &reply); err != nil {
		return nil, fmt.Errorf("get provision request: %w", err)
	}
	if err := reply.Res.Err(); err != nil {
		return nil, err
	}
	return &drm.ProvisionRequest{Request: reply.Request, DefaultURL: reply.DefaultURL}, nil
}

func (c *pluginClient) ProvideProvisionResponse(response []byte) ([]byte, []byte, error) {
	var reply ProvisionResponseReply
	args := ProvisionResponseArgs{Plugin: c.id, Response: response}
	if err := c.client.Call("Plugin.ProvideProvisionResponse", args, &reply); err != nil {
		return nil, nil, fmt.Errorf("provide provision response: %w", err)
	}
	return reply.Certificate, reply.WrappedKey, reply.Res.Err()
}

func (c *pluginClient) GetSecureStops() ([][]byte, error) {
	var reply SecureStopsReply
	if err := c.client.Call("Plugin.GetSecureStops", c.id, &reply); err != nil {
		return nil, fmt.Errorf("get secure stops: %w", err)
	}
	return reply.Stops, reply.Res.Err()
}

func (c *pluginClient) GetSecureStop(stopID []byte) ([]byte, error) {
	var reply BytesReply
	args := SecureStopArgs{Plugin: c.id, StopID: stopID}
	if err := c.client.Call("Plugin.GetSecureStop", args, &reply); err != nil {
		return nil, fmt.Errorf("get secure stop: %w", err)
	}
	return reply.Data, reply.Res.Err()
}

func (c *pluginClient) ReleaseSecureStops(release []byte) error {
	var reply Result
	args := ReleaseSecureStopsArgs{Plugin: c.id, Release: release}
	if err := c.client.Call("Plugin.ReleaseSecureStops", args, &reply); err != nil {
		return fmt.Errorf("release secure stops: %w", err)
	}
	return reply.Err()
}

func (c *pluginClient) ReleaseAllSecureStops() error {
	var reply Result
	if err := c.client.Call("Plugin.ReleaseAllSecureStops", c.id, &reply); err != nil {
		return fmt.Errorf("release all secure stops: %w", err)
	}
	return reply.Err()
}

func (c *pluginClient) GetPropertyString(name string) (string, error) {
	var reply StringReply
	args := PropertyArgs{Plugin: c.id, Name: name}
	if err := c.client.Call("Plugin.GetPropertyString", args, &reply); err != nil {
		return "", fmt.Errorf("get property %s: %w", name, err)
	}
	return reply.Value, reply.Res.Err()
}

func (c *pluginClient) SetPropertyString(name, value string) error {
	var reply Result
	args := SetStringPropertyArgs{Plugin: c.id, Name: name, Value: value}
	if err := c.client.Call("Plugin.SetPropertyString", args, &reply); err != nil {
		return fmt.Errorf("set property %s: %w", name, err)
	}
	return reply.Err()
}

func (c *pluginClient) GetPropertyByteArray(name string) ([]byte, error) {
	var reply BytesReply
	args := PropertyArgs{Plugin: c.id, Name: name}
	if err := c.client.Call("Plugin.GetPropertyByteArray", args, &reply); err != nil {
		return nil, fmt.Errorf("get property %s: %w", name, err)
	}
	return reply.Data, reply.Res.Err()
}

func (c *pluginClient) SetPropertyByteArray(name string, value []byte) error {
	var reply Result
	args := SetBytesPropertyArgs{Plugin: c.id, Name: name, Value: value}
	if err := c.client.Call("Plugin.SetPropertyByteArray", args, &reply); err != nil {
		return fmt.Errorf("set property %s: %w", name, err)
	}
	return reply.Err()
}

func (c *pluginClient) SetCipherAlgorithm(sessionID []byte, algorithm string) error {
	var reply Result
	args := AlgorithmArgs{Plugin: c.id, SessionID: sessionID, Algorithm: algorithm}
	if err := c.client.Call("Plugin.SetCipherAlgorithm", args, &reply); err != nil {
		return fmt.Errorf("set cipher algorithm: %w", err)
	}
	return reply.Err()
}

func (c *pluginClient) SetMacAlgorithm(sessionID []byte, algorithm string) error {
	var reply Result
	args := AlgorithmArgs{Plugin: c.id, SessionID: sessionID, Algorithm: algorithm}
	if err := c.client.Call("Plugin.SetMacAlgorithm", args, &reply); err != nil {
		return fmt.Errorf("set mac algorithm: %w", err)
	}
	return reply.Err()
}

func (c *pluginClient) Encrypt(sessionID, keyID, input, iv []byte) ([]byte, error) {
	var reply BytesReply
	args := CipherArgs{Plugin: c.id, SessionID: sessionID, KeyID: keyID, Input: input, IV: iv}
	if err := c.client.Call("Plugin.Encrypt", args, &reply); err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return reply.Data, reply.Res.Err()
}

func (c *pluginClient) Decrypt(sessionID, keyID, input, iv []byte) ([]byte, error) {
	var reply BytesReply
	args := CipherArgs{Plugin: c.id, SessionID: sessionID, KeyID: keyID, Input: input, IV: iv}
	if err := c.client.Call("Plugin.Decrypt", args, &reply); err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return reply.Data, reply.Res.Err()
}

func (c *pluginClient) Sign(sessionID, keyID, message []byte) ([]byte, error) {
	var reply BytesReply
	args := SignArgs{Plugin: c.id, SessionID: sessionID, KeyID: keyID, Message: message}
	if err := c.client.Call("Plugin.Sign", args, &reply); err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return reply.Data, reply.Res.Err()
}

func (c *pluginClient) Verify(sessionID, keyID, message, signature []byte) (bool, error) {
	var reply VerifyReply
	args := SignArgs{Plugin: c.id, SessionID: sessionID, KeyID: keyID, Message: message, Signature: signature}
	if err := c.client.Call("Plugin.Verify", args, &reply); err != nil {
		return false, fmt.Errorf("verify: %w", err)
	}
	return reply.Match, reply.Res.Err()
}

func (c *pluginClient) SignRSA(sessionID []byte, algorithm string, message, wrappedKey []byte) ([]byte, error) {
	var reply BytesReply
	args := SignRSAArgs{Plugin: c.id, SessionID: sessionID, Algorithm: algorithm, Message: message, WrappedKey: wrappedKey}
	if err := c.client.Call("Plugin.SignRSA", args, &reply); err != nil {
		return nil, fmt.Errorf("sign rsa: %w", err)
	}
	return reply.Data, reply.Res.Err()
}

func (c *pluginClient) Close() error {
	var reply Result
	if err := c.client.Call("Plugin.ClosePlugin", c.id, &reply); err != nil {
		return fmt.Errorf("close plugin: %w", err)
	}
	return reply.Err()
}

// listenerClient forwards plugin-side notifications back to the host over
// the reverse channel. Delivery failures are dropped; the host tears the
// channel down when the listener goes away.
type listenerClient struct {
	client *rpc.Client
}

func (c *listenerClient) OnEvent(event drm.Event) {
	_ = c.client.Call("Plugin.OnEvent", EventArgs{Event: event}, new(struct{}))
}

func (c *listenerClient) OnExpirationUpdate(sessionID []byte, expiry time.Time) {
	args := ExpirationArgs{SessionID: sessionID, ExpiryUnixMilli: expiry.UnixMilli()}
	_ = c.client.Call("Plugin.OnExpirationUpdate", args, new(struct{}))
}

func (c *listenerClient) OnKeysChange(sessionID []byte, statuses []drm.KeyStatus, hasNewUsableKey bool) {
	args := KeysChangeArgs{SessionID: sessionID, Statuses: statuses, HasNewUsableKey: hasNewUsableKey}
	_ = c.client.Call("Plugin.OnKeysChange", args, new(struct{}))
}
