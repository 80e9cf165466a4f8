/*
Copyright © 2025 Denis Khalturin
All rights reserved.

Redistribution and use in source and binary forms, with or without
modification, are permitted provided that the following conditions are met:

1. Redistributions of source code must retain the above copyright notice,
   this list of conditions and the following disclaimer.

2. Redistributions in binary form must reproduce the above copyright notice,
   this list of conditions and the following disclaimer in the documentation
   and/or other materials provided with the distribution.

3. Neither the name of the copyright holder nor the names of its contributors
   may be used to endorse or promote products derived from this software
   without specific prior written permission.

THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
POSSIBILITY OF SUCH DAMAGE.
*/
// prettier-ignore-end
package discoverywatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemapin-go/internal/discovery"
	"schemapin-go/internal/keys"
	"schemapin-go/internal/metrics"
)

// stubResolver serves a fixed, swappable discovery document per domain and
// counts how many times each domain was resolved.
type stubResolver struct {
	mu    sync.Mutex
	docs  map[string]*discovery.Document
	errs  map[string]error
	calls map[string]int
}

func newStubResolver() *stubResolver {
	return &stubResolver{
		docs:  make(map[string]*discovery.Document),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (s *stubResolver) set(domain string, doc *discovery.Document, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[domain] = doc
	s.errs[domain] = err
}

func (s *stubResolver) callCount(domain string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[domain]
}

func (s *stubResolver) ResolveDiscovery(_ context.Context, domain string) (*discovery.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[domain]++
	return s.docs[domain], s.errs[domain]
}

func (s *stubResolver) ResolveRevocation(_ context.Context, _ string, _ *discovery.Document) (*discovery.RevocationDocument, error) {
	return nil, nil
}

func testKeyPEM(t *testing.T) string {
	t.Helper()
	sk, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	pem, err := keys.ExportPublicKeyPEM(&sk.PublicKey)
	require.NoError(t, err)
	return pem
}

func TestWatcher_Get_UnknownDomain(t *testing.T) {
	w := NewWatcher(context.Background(), newStubResolver(), nil)
	_, ok := w.Get("unwatched.example.com")
	assert.False(t, ok)
}

func TestWatcher_AddDomain_RecordsFingerprint(t *testing.T) {
	r := newStubResolver()
	pem := testKeyPEM(t)
	r.set("example.com", &discovery.Document{SchemaVersion: "1.3", PublicKeyPEM: pem, DeveloperName: "Example Corp"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(ctx, r, nil, WithPollInterval(20*time.Millisecond))
	w.AddDomain("example.com")

	assert.Eventually(t, func() bool {
		snap, ok := w.Get("example.com")
		return ok && snap.Fingerprint != "" && !snap.LastChecked.IsZero()
	}, time.Second, 5*time.Millisecond)

	snap, ok := w.Get("example.com")
	require.True(t, ok)
	assert.Equal(t, "Example Corp", snap.DeveloperName)
	assert.Empty(t, snap.LastError)
}

func TestWatcher_AddDomain_Idempotent(t *testing.T) {
	r := newStubResolver()
	r.set("example.com", &discovery.Document{SchemaVersion: "1.3", PublicKeyPEM: testKeyPEM(t)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(ctx, r, nil, WithPollInterval(time.Hour))
	w.AddDomain("example.com")
	w.AddDomain("example.com")

	time.Sleep(10 * time.Millisecond)
	assert.LessOrEqual(t, r.callCount("example.com"), 1)
}

func TestWatcher_Poll_ResolveError(t *testing.T) {
	r := newStubResolver()
	r.set("broken.example.com", nil, fmt.Errorf("connection refused"))

	collector := metrics.NewCollector()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(ctx, r, []string{"broken.example.com"}, WithCollector(collector), WithPollInterval(time.Hour))

	assert.Eventually(t, func() bool {
		snap, ok := w.Get("broken.example.com")
		return ok && snap.LastError != ""
	}, time.Second, 5*time.Millisecond)

	snap, _ := w.Get("broken.example.com")
	assert.Contains(t, snap.LastError, "connection refused")
	assert.Empty(t, snap.Fingerprint)
}

func TestWatcher_Poll_DocumentNotFound(t *testing.T) {
	r := newStubResolver()
	r.set("missing.example.com", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(ctx, r, []string{"missing.example.com"}, WithPollInterval(time.Hour))

	assert.Eventually(t, func() bool {
		snap, ok := w.Get("missing.example.com")
		return ok && snap.LastError != ""
	}, time.Second, 5*time.Millisecond)

	snap, _ := w.Get("missing.example.com")
	assert.Equal(t, "discovery document not found", snap.LastError)
}

func TestWatcher_Poll_FingerprintRotationIsTracked(t *testing.T) {
	r := newStubResolver()
	firstPEM := testKeyPEM(t)
	r.set("rotating.example.com", &discovery.Document{SchemaVersion: "1.3", PublicKeyPEM: firstPEM}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(ctx, r, []string{"rotating.example.com"}, WithPollInterval(20*time.Millisecond))

	var firstFingerprint string
	assert.Eventually(t, func() bool {
		snap, ok := w.Get("rotating.example.com")
		if !ok || snap.Fingerprint == "" {
			return false
		}
		firstFingerprint = snap.Fingerprint
		return true
	}, time.Second, 5*time.Millisecond)

	secondPEM := testKeyPEM(t)
	r.set("rotating.example.com", &discovery.Document{SchemaVersion: "1.3", PublicKeyPEM: secondPEM}, nil)

	assert.Eventually(t, func() bool {
		snap, ok := w.Get("rotating.example.com")
		return ok && snap.Fingerprint != "" && snap.Fingerprint != firstFingerprint
	}, time.Second, 5*time.Millisecond)
}

func TestWatcher_Snapshot_ReturnsAllDomains(t *testing.T) {
	r := newStubResolver()
	r.set("a.example.com", &discovery.Document{SchemaVersion: "1.3", PublicKeyPEM: testKeyPEM(t)}, nil)
	r.set("b.example.com", &discovery.Document{SchemaVersion: "1.3", PublicKeyPEM: testKeyPEM(t)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(ctx, r, []string{"a.example.com", "b.example.com"}, WithPollInterval(time.Hour))

	assert.Eventually(t, func() bool {
		snap := w.Snapshot()
		return len(snap) == 2
	}, time.Second, 5*time.Millisecond)

	snap := w.Snapshot()
	_, hasA := snap["a.example.com"]
	_, hasB := snap["b.example.com"]
	assert.True(t, hasA)
	assert.True(t, hasB)
}
