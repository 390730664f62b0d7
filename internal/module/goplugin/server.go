// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package goplugin

import (
	"fmt"
	"net/rpc"
	"sync"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/keyfort/keyfort/pkg/drm"
)

// FactoryServer is the plugin-side RPC server. It exposes the factory and
// routes instance operations by plugin id, since one served factory can
// instantiate plugins for several host brokers.
type FactoryServer struct {
	mux  *hashiplug.MuxBroker
	impl drm.Factory

	mu      sync.Mutex
	nextID  uint64
	plugins map[uint64]drm.Plugin
}

func newFactoryServer(mux *hashiplug.MuxBroker, impl drm.Factory) *FactoryServer {
	return &FactoryServer{
		mux:     mux,
		impl:    impl,
		plugins: make(map[uint64]drm.Plugin),
	}
}

func (s *FactoryServer) plugin(id uint64) (drm.Plugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plugins[id]
	if !ok {
		return nil, fmt.Errorf("unknown plugin instance %d", id)
	}
	return p, nil
}

// SchemeArgs identifies a scheme in support queries.
type SchemeArgs struct {
	Scheme drm.SchemeID
}

// IsSchemeSupported answers the factory's scheme support query.
func (s *FactoryServer) IsSchemeSupported(args SchemeArgs, ok *bool) error {
	*ok = s.impl.IsSchemeSupported(args.Scheme)
	return nil
}

// IsContentTypeSupported answers the factory's content-type support query.
func (s *FactoryServer) IsContentTypeSupported(mime string, ok *bool) error {
	*ok = s.impl.IsContentTypeSupported(mime)
	return nil
}

// CreatePluginArgs carries the scheme and the MuxBroker stream id the
// server dials back on for listener notifications.
type CreatePluginArgs struct {
	Scheme     drm.SchemeID
	ListenerID uint32
}

// CreatePluginReply returns the instance id for subsequent operations.
type CreatePluginReply struct {
	PluginID uint64
	Res      Result
}

// CreatePlugin instantiates a plugin and wires its listener channel.
func (s *FactoryServer) CreatePlugin(args CreatePluginArgs, reply *CreatePluginReply) error {
	conn, err := s.mux.Dial(args.ListenerID)
	if err != nil {
		return fmt.Errorf("dial listener channel: %w", err)
	}
	listener := &listenerClient{client: rpc.NewClient(conn)}

	p, err := s.impl.CreatePlugin(args.Scheme, listener)
	reply.Res = resultFromError(err)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.plugins[id] = p
	s.mu.Unlock()

	reply.PluginID = id
	return nil
}

// ClosePlugin releases an instance and forgets it.
func (s *FactoryServer) ClosePlugin(id uint64, reply *Result) error {
	s.mu.Lock()
	p, ok := s.plugins[id]
	delete(s.plugins, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown plugin instance %d", id)
	}
	*reply = resultFromError(p.Close())
	return nil
}

// SessionArgs addresses a session of one plugin instance.
type SessionArgs struct {
	Plugin    uint64
	SessionID []byte
}

// BytesReply returns one byte string plus the call outcome.
type BytesReply struct {
	Data []byte
	Res  Result
}

// OpenSession opens a session on the addressed instance.
func (s *FactoryServer) OpenSession(id uint64, reply *BytesReply) error {
	p, err := s.plugin(id)
	if err != nil {
		return err
	}
	sessionID, err := p.OpenSession()
	reply.Data, reply.Res = sessionID, resultFromError(err)
	return nil
}

// CloseSession closes the addressed session.
func (s *FactoryServer) CloseSession(args SessionArgs, reply *Result) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	*reply = resultFromError(p.CloseSession(args.SessionID))
	return nil
}

// KeyRequestArgs carries a key request.
type KeyRequestArgs struct {
	Plugin    uint64
	SessionID []byte
	InitData  []byte
	MimeType  string
	KeyType   drm.KeyType
	Params    map[string]string
}

// KeyRequestReply returns the plugin's key request.
type KeyRequestReply struct {
	Request    []byte
	DefaultURL string
	Type       drm.KeyRequestType
	Res        Result
}

// GetKeyRequest forwards a key request to the addressed instance.
func (s *FactoryServer) GetKeyRequest(args KeyRequestArgs, reply *KeyRequestReply) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	req, err := p.GetKeyRequest(args.SessionID, args.InitData, args.MimeType, args.KeyType, args.Params)
	reply.Res = resultFromError(err)
	if err == nil {
		reply.Request = req.Request
		reply.DefaultURL = req.DefaultURL
		reply.Type = req.Type
	}
	return nil
}

// KeyResponseArgs carries a license server response.
type KeyResponseArgs struct {
	Plugin    uint64
	SessionID []byte
	Response  []byte
}

// ProvideKeyResponse installs keys into the addressed session.
func (s *FactoryServer) ProvideKeyResponse(args KeyResponseArgs, reply *BytesReply) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	keySetID, err := p.ProvideKeyResponse(args.SessionID, args.Response)
	reply.Data, reply.Res = keySetID, resultFromError(err)
	return nil
}

// KeySetArgs addresses a persisted key set.
type KeySetArgs struct {
	Plugin    uint64
	SessionID []byte
	KeySetID  []byte
}

// RemoveKeys removes a persisted key set.
func (s *FactoryServer) RemoveKeys(args KeySetArgs, reply *Result) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	*reply = resultFromError(p.RemoveKeys(args.KeySetID))
	return nil
}

// RestoreKeys restores a persisted key set into a session.
func (s *FactoryServer) RestoreKeys(args KeySetArgs, reply *Result) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	*reply = resultFromError(p.RestoreKeys(args.SessionID, args.KeySetID))
	return nil
}

// KeyStatusReply returns a session's key status map.
type KeyStatusReply struct {
	Info map[string]string
	Res  Result
}

// QueryKeyStatus queries a session's key status.
func (s *FactoryServer) QueryKeyStatus(args SessionArgs, reply *KeyStatusReply) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	info, err := p.QueryKeyStatus(args.SessionID)
	reply.Info, reply.Res = info, resultFromError(err)
	return nil
}

// ProvisionRequestArgs carries a provisioning request.
type ProvisionRequestArgs struct {
	Plugin        uint64
	CertType      string
	CertAuthority string
}

// ProvisionRequestReply returns the plugin's provisioning request.
type ProvisionRequestReply struct {
	Request    []byte
	DefaultURL string
	Res        Result
}

// GetProvisionRequest forwards a provisioning request.
func (s *FactoryServer) GetProvisionRequest(args ProvisionRequestArgs, reply *ProvisionRequestReply) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	req, err := p.GetProvisionRequest(args.CertType, args.CertAuthority)
	reply.Res = resultFromError(err)
	if err == nil {
		reply.Request = req.Request
		reply.DefaultURL = req.DefaultURL
	}
	return nil
}

// ProvisionResponseArgs carries a provisioning server response.
type ProvisionResponseArgs struct {
	Plugin   uint64
	Response []byte
}

// ProvisionResponseReply returns the installed certificate material.
type ProvisionResponseReply struct {
	Certificate []byte
	WrappedKey  []byte
	Res         Result
}

// ProvideProvisionResponse installs a provisioning response.
func (s *FactoryServer) ProvideProvisionResponse(args ProvisionResponseArgs, reply *ProvisionResponseReply) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	cert, wrapped, err := p.ProvideProvisionResponse(args.Response)
	reply.Certificate, reply.WrappedKey, reply.Res = cert, wrapped, resultFromError(err)
	return nil
}

// SecureStopsReply returns the plugin's secure stop records.
type SecureStopsReply struct {
	Stops [][]byte
	Res   Result
}

// GetSecureStops lists all secure stop records.
func (s *FactoryServer) GetSecureStops(id uint64, reply *SecureStopsReply) error {
	p, err := s.plugin(id)
	if err != nil {
		return err
	}
	stops, err := p.GetSecureStops()
	reply.Stops, reply.Res = stops, resultFromError(err)
	return nil
}

// SecureStopArgs addresses one secure stop record.
type SecureStopArgs struct {
	Plugin uint64
	StopID []byte
}

// GetSecureStop fetches one secure stop record.
func (s *FactoryServer) GetSecureStop(args SecureStopArgs, reply *BytesReply) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	stop, err := p.GetSecureStop(args.StopID)
	reply.Data, reply.Res = stop, resultFromError(err)
	return nil
}

// ReleaseSecureStopsArgs carries a secure stop release message.
type ReleaseSecureStopsArgs struct {
	Plugin  uint64
	Release []byte
}

// ReleaseSecureStops releases the secure stops named in the message.
func (s *FactoryServer) ReleaseSecureStops(args ReleaseSecureStopsArgs, reply *Result) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	*reply = resultFromError(p.ReleaseSecureStops(args.Release))
	return nil
}

// ReleaseAllSecureStops drops every secure stop record.
func (s *FactoryServer) ReleaseAllSecureStops(id uint64, reply *Result) error {
	p, err := s.plugin(id)
	if err != nil {
		return err
	}
	*reply = resultFromError(p.ReleaseAllSecureStops())
	return nil
}

// PropertyArgs addresses a named plugin property.
type PropertyArgs struct {
	Plugin uint64
	Name   string
}

// StringReply returns one string plus the call outcome.
type StringReply struct {
	Value string
	Res   Result
}

// GetPropertyString reads a string property.
func (s *FactoryServer) GetPropertyString(args PropertyArgs, reply *StringReply) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	v, err := p.GetPropertyString(args.Name)
	reply.Value, reply.Res = v, resultFromError(err)
	return nil
}

// SetStringPropertyArgs carries a string property write.
type SetStringPropertyArgs struct {
	Plugin uint64
	Name   string
	Value  string
}

// SetPropertyString writes a string property.
func (s *FactoryServer) SetPropertyString(args SetStringPropertyArgs, reply *Result) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	*reply = resultFromError(p.SetPropertyString(args.Name, args.Value))
	return nil
}

// GetPropertyByteArray reads a byte-array property.
func (s *FactoryServer) GetPropertyByteArray(args PropertyArgs, reply *BytesReply) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	v, err := p.GetPropertyByteArray(args.Name)
	reply.Data, reply.Res = v, resultFromError(err)
	return nil
}

// SetBytesPropertyArgs carries a byte-array property write.
type SetBytesPropertyArgs struct {
	Plugin uint64
	Name   string
	Value  []byte
}

// SetPropertyByteArray writes a byte-array property.
func (s *FactoryServer) SetPropertyByteArray(args SetBytesPropertyArgs, reply *Result) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	*reply = resultFromError(p.SetPropertyByteArray(args.Name, args.Value))
	return nil
}

// AlgorithmArgs selects a cipher or MAC algorithm for a session.
type AlgorithmArgs struct {
	Plugin    uint64
	SessionID []byte
	Algorithm string
}

// SetCipherAlgorithm selects a session's cipher algorithm.
func (s *FactoryServer) SetCipherAlgorithm(args AlgorithmArgs, reply *Result) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	*reply = resultFromError(p.SetCipherAlgorithm(args.SessionID, args.Algorithm))
	return nil
}

// SetMacAlgorithm selects a session's MAC algorithm.
func (s *FactoryServer) SetMacAlgorithm(args AlgorithmArgs, reply *Result) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	*reply = resultFromError(p.SetMacAlgorithm(args.SessionID, args.Algorithm))
	return nil
}

// CipherArgs carries an encrypt or decrypt operation.
type CipherArgs struct {
	Plugin    uint64
	SessionID []byte
	KeyID     []byte
	Input     []byte
	IV        []byte
}

// Encrypt encrypts input in the addressed session.
func (s *FactoryServer) Encrypt(args CipherArgs, reply *BytesReply) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	out, err := p.Encrypt(args.SessionID, args.KeyID, args.Input, args.IV)
	reply.Data, reply.Res = out, resultFromError(err)
	return nil
}

// Decrypt decrypts input in the addressed session.
func (s *FactoryServer) Decrypt(args CipherArgs, reply *BytesReply) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	out, err := p.Decrypt(args.SessionID, args.KeyID, args.Input, args.IV)
	reply.Data, reply.Res = out, resultFromError(err)
	return nil
}

// SignArgs carries a sign or verify operation.
type SignArgs struct {
	Plugin    uint64
	SessionID []byte
	KeyID     []byte
	Message   []byte
	Signature []byte
}

// Sign produces a MAC over message in the addressed session.
func (s *FactoryServer) Sign(args SignArgs, reply *BytesReply) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	sig, err := p.Sign(args.SessionID, args.KeyID, args.Message)
	reply.Data, reply.Res = sig, resultFromError(err)
	return nil
}

// VerifyReply returns a signature check result.
type VerifyReply struct {
	Match bool
	Res   Result
}

// Verify checks a MAC over message in the addressed session.
func (s *FactoryServer) Verify(args SignArgs, reply *VerifyReply) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	match, err := p.Verify(args.SessionID, args.KeyID, args.Message, args.Signature)
	reply.Match, reply.Res = match, resultFromError(err)
	return nil
}

// SignRSAArgs carries an RSA signing operation.
type SignRSAArgs struct {
	Plugin     uint64
	SessionID  []byte
	Algorithm  string
	Message    []byte
	WrappedKey []byte
}

// SignRSA signs message with the wrapped RSA key.
func (s *FactoryServer) SignRSA(args SignRSAArgs, reply *BytesReply) error {
	p, err := s.plugin(args.Plugin)
	if err != nil {
		return err
	}
	sig, err := p.SignRSA(args.SessionID, args.Algorithm, args.Message, args.WrappedKey)
	reply.Data, reply.Res = sig, resultFromError(err)
	return nil
}

// listenerServer serves a host-side drm.Listener to the plugin over the
// reverse channel.
type listenerServer struct {
	impl drm.Listener
}

// EventArgs is the wire form of a generic plugin event.
type EventArgs struct {
	Event drm.Event
}

// OnEvent delivers a generic plugin event.
func (s *listenerServer) OnEvent(args EventArgs, _ *struct{}) error {
	s.impl.OnEvent(args.Event)
	return nil
}

// ExpirationArgs is the wire form of an expiration update.
type ExpirationArgs struct {
	SessionID       []byte
	ExpiryUnixMilli int64
}

// OnExpirationUpdate delivers an expiration update.
func (s *listenerServer) OnExpirationUpdate(args ExpirationArgs, _ *struct{}) error {
	s.impl.OnExpirationUpdate(args.SessionID, time.UnixMilli(args.ExpiryUnixMilli))
	return nil
}

// KeysChangeArgs is the wire form of a keys-changed notification.
type KeysChangeArgs struct {
	SessionID       []byte
	Statuses        []drm.KeyStatus
	HasNewUsableKey bool
}

// OnKeysChange delivers a keys-changed notification.
func (s *listenerServer) OnKeysChange(args KeysChangeArgs, _ *struct{}) error {
	s.impl.OnKeysChange(args.SessionID, args.Statuses, args.HasNewUsableKey)
	return nil
}
