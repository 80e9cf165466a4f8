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
// Package discoverywatch periodically re-resolves discovery documents for a
// set of domains and tracks fingerprint rotation. It never overrides TOFU
// pinning decisions; it only observes and reports so an operator can
// investigate a rotation before it trips key_pin_mismatch for real traffic.
package discoverywatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"schemapin-go/internal/keys"
	"schemapin-go/internal/metrics"
	"schemapin-go/internal/resolver"
)

// DefaultPollInterval bounds how often a watched domain is re-resolved.
const DefaultPollInterval = 5 * time.Minute

// Snapshot is the last observed discovery state for one domain.
type Snapshot struct {
	Domain        string
	Fingerprint   string
	DeveloperName string
	LastChecked   time.Time
	LastError     string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) { w.pollInterval = d }
}

// WithCollector attaches a metrics collector for rotation/error counters.
func WithCollector(c *metrics.Collector) Option {
	return func(w *Watcher) { w.collector = c }
}

// Watcher polls a Resolver for each watched domain's discovery document on
// an interval and records fingerprint changes.
type Watcher struct {
	ctx      context.Context
	resolver resolver.Resolver

	mu      sync.RWMutex
	store   map[string]Snapshot
	workers map[string]context.CancelFunc

	collector    *metrics.Collector
	pollInterval time.Duration
}

// NewWatcher creates a Watcher over domains, starting one background worker
// per domain immediately.
func NewWatcher(ctx context.Context, r resolver.Resolver, domains []string, opts ...Option) *Watcher {
	w := &Watcher{
		ctx:          ctx,
		resolver:     r,
		store:        make(map[string]Snapshot),
		workers:      make(map[string]context.CancelFunc),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, domain := range domains {
		w.AddDomain(domain)
	}
	return w
}

// AddDomain registers domain for periodic polling. A second call for an
// already-watched domain is a no-op.
func (w *Watcher) AddDomain(domain string) {
	w.mu.Lock()
	if _, exists := w.workers[domain]; exists {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(w.ctx)
	w.workers[domain] = cancel
	w.store[domain] = Snapshot{Domain: domain}
	w.mu.Unlock()

	go w.worker(ctx, domain)
}

// Get returns the last observed snapshot for domain.
func (w *Watcher) Get(domain string) (Snapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	snap, ok := w.store[domain]
	return snap, ok
}

// Snapshot returns a copy of every watched domain's last observation.
func (w *Watcher) Snapshot() map[string]Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]Snapshot, len(w.store))
	for k, v := range w.store {
		out[k] = v
	}
	return out
}

func (w *Watcher) set(snap Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.store[snap.Domain] = snap
}

func (w *Watcher) worker(ctx context.Context, domain string) {
	slog.Info("starting discovery watcher", "domain", domain)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.poll(domain)

	for {
		select {
		case <-ctx.Done():
			slog.Info("discovery watcher stopping", "domain", domain)
			return
		case <-ticker.C:
			w.poll(domain)
		}
	}
}

func (w *Watcher) poll(domain string) {
	prev, _ := w.Get(domain)

	ctx, cancel := context.WithTimeout(w.ctx, resolver.DefaultTimeout)
	defer cancel()

	doc, err := w.resolver.ResolveDiscovery(ctx, domain)
	next := Snapshot{Domain: domain, LastChecked: time.Now(), Fingerprint: prev.Fingerprint}

	switch {
	case err != nil:
		next.LastError = err.Error()
		if w.collector != nil {
			w.collector.IncDiscoveryFetchError(domain)
		}
	case doc == nil:
		next.LastError = "discovery document not found"
	default:
		pk, perr := keys.LoadPublicKeyPEM(doc.PublicKeyPEM)
		if perr != nil {
			next.LastError = perr.Error()
			break
		}
		fp, ferr := keys.Fingerprint(pk)
		if ferr != nil {
			next.LastError = ferr.Error()
			break
		}
		next.DeveloperName = doc.DeveloperName
		if prev.Fingerprint != "" && prev.Fingerprint != fp {
			slog.Warn("discovery fingerprint rotated", "domain", domain, "previous", prev.Fingerprint, "current", fp)
			if w.collector != nil {
				w.collector.IncFingerprintRotated(domain)
			}
		}
		next.Fingerprint = fp
	}

	w.set(next)
}
