// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/keyfort/keyfort/internal/broker"
	"github.com/keyfort/keyfort/internal/module/moduletest"
	"github.com/keyfort/keyfort/internal/permission"
	"github.com/keyfort/keyfort/internal/registry"
	"github.com/keyfort/keyfort/internal/resolver"
	"github.com/keyfort/keyfort/pkg/drm"
	"github.com/keyfort/keyfort/pkg/drm/clearkey"
)

// collectingListener is a thread-safe caller-side event sink.
type collectingListener struct {
	mu     sync.Mutex
	events []drm.Event
}

func (l *collectingListener) OnEvent(event drm.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *collectingListener) OnExpirationUpdate([]byte, time.Time) {}

func (l *collectingListener) OnKeysChange([]byte, []drm.KeyStatus, bool) {}

func (l *collectingListener) reclaimedSessions() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids [][]byte
	for _, e := range l.events {
		if e.Type == drm.EventSessionReclaimed {
			ids = append(ids, e.SessionID)
		}
	}
	return ids
}

var _ = Describe("Broker with the clear-key plugin", func() {
	var (
		loader *moduletest.Loader
		host   *broker.Host
		reg    *registry.InMemory
		path   string
	)

	keyID := bytes.Repeat([]byte{0x42}, 16)

	licenseResponse := func() []byte {
		raw, err := json.Marshal(map[string]any{
			"keys": []map[string]string{{
				"kid": hex.EncodeToString(keyID),
				"k":   hex.EncodeToString(bytes.Repeat([]byte{0x07}, 16)),
			}},
		})
		Expect(err).NotTo(HaveOccurred())
		return raw
	}

	newEnv := func(maxSessions int, opts ...registry.InMemoryOption) {
		dir := GinkgoT().TempDir()
		path = filepath.Join(dir, "clearkey.plugin")
		Expect(os.WriteFile(path, []byte("module"), 0o600)).To(Succeed())

		loader = moduletest.NewLoader()
		loader.Register(path, &clearkey.Factory{MaxSessions: maxSessions})
		reg = registry.NewInMemory(opts...)
		host = broker.NewHost(resolver.New(dir, loader), reg, permission.NewEnforcer())
	}

	Describe("license acquisition", func() {
		BeforeEach(func() {
			newEnv(0)
		})

		It("runs the full key exchange and crypto flow", func() {
			b := host.NewBroker(broker.Caller{PID: 100, Name: "player"})
			defer func() { _ = b.Close() }()

			Expect(b.IsSchemeSupported(clearkey.Scheme, "video/mp4")).To(BeTrue())
			Expect(b.CreatePlugin(clearkey.Scheme)).To(Succeed())

			sessionID, err := b.OpenSession()
			Expect(err).NotTo(HaveOccurred())

			req, err := b.GetKeyRequest(sessionID, keyID, "video/mp4", drm.KeyTypeStreaming, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Request).To(ContainSubstring(hex.EncodeToString(keyID)))

			keySetID, err := b.ProvideKeyResponse(sessionID, licenseResponse())
			Expect(err).NotTo(HaveOccurred())
			Expect(keySetID).NotTo(BeEmpty())

			Expect(b.SetCipherAlgorithm(sessionID, clearkey.CipherAES)).To(Succeed())
			iv := bytes.Repeat([]byte{0x01}, 16)
			plaintext := []byte("segment payload")
			ciphertext, err := b.Encrypt(sessionID, keyID, plaintext, iv)
			Expect(err).NotTo(HaveOccurred())
			decrypted, err := b.Decrypt(sessionID, keyID, ciphertext, iv)
			Expect(err).NotTo(HaveOccurred())
			Expect(decrypted).To(Equal(plaintext))

			Expect(b.SetMacAlgorithm(sessionID, clearkey.MacHMAC)).To(Succeed())
			signature, err := b.Sign(sessionID, keyID, plaintext)
			Expect(err).NotTo(HaveOccurred())
			ok, err := b.Verify(sessionID, keyID, plaintext, signature)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			Expect(b.CloseSession(sessionID)).To(Succeed())
			Expect(reg.Len()).To(BeZero())

			// Closing left a secure stop behind.
			stops, err := b.GetSecureStops()
			Expect(err).NotTo(HaveOccurred())
			Expect(stops).To(HaveLen(1))
		})
	})

	Describe("module sharing", func() {
		BeforeEach(func() {
			newEnv(0)
		})

		It("loads the module once for many brokers and unloads after the last close", func() {
			var brokers []*broker.Broker
			for pid := 1; pid <= 4; pid++ {
				b := host.NewBroker(broker.Caller{PID: pid, Name: "player"})
				Expect(b.CreatePlugin(clearkey.Scheme)).To(Succeed())
				brokers = append(brokers, b)
			}
			Expect(loader.Loads(path)).To(Equal(1))

			for _, b := range brokers[:3] {
				Expect(b.Close()).To(Succeed())
			}
			Expect(loader.Unloads(path)).To(BeZero())

			Expect(brokers[3].Close()).To(Succeed())
			Expect(loader.Unloads(path)).To(Equal(1))

			// A fresh broker triggers a clean reload.
			b := host.NewBroker(broker.Caller{PID: 9, Name: "player"})
			defer func() { _ = b.Close() }()
			Expect(b.CreatePlugin(clearkey.Scheme)).To(Succeed())
			Expect(loader.Loads(path)).To(Equal(2))
		})
	})

	Describe("session reclamation under capacity pressure", func() {
		BeforeEach(func() {
			newEnv(1, registry.WithPriority(func(pid int) int { return pid }))
		})

		It("evicts a lower-priority caller's session and notifies it", func() {
			backgroundListener := &collectingListener{}
			background := host.NewBroker(broker.Caller{PID: 100, Name: "background"})
			defer func() { _ = background.Close() }()
			background.SetListener(context.Background(), backgroundListener)
			Expect(background.CreatePlugin(clearkey.Scheme)).To(Succeed())

			victimSession, err := background.OpenSession()
			Expect(err).NotTo(HaveOccurred())

			foreground := host.NewBroker(broker.Caller{PID: 200, Name: "foreground"})
			defer func() { _ = foreground.Close() }()
			Expect(foreground.CreatePlugin(clearkey.Scheme)).To(Succeed())
			first, err := foreground.OpenSession()
			Expect(err).NotTo(HaveOccurred())
			Expect(first).NotTo(BeEmpty())

			// Foreground's own instance is at capacity. The open triggers a
			// reclaim, which evicts the background session, but the retry
			// still reports busy because the caller's own instance stays
			// full. The eviction itself must have gone through.
			_, err = foreground.OpenSession()
			Expect(err).To(MatchError(drm.ErrResourceBusy))

			Expect(backgroundListener.reclaimedSessions()).To(ConsistOf([][]byte{victimSession}))
			Expect(reg.Len()).To(Equal(1))

			// The victim session is gone from its plugin.
			_, err = background.QueryKeyStatus(victimSession)
			Expect(err).To(MatchError(clearkey.StatusSessionNotFound))
		})
	})
})
