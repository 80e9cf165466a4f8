// Package resolver implements pluggable discovery and revocation document
// sources: well-known HTTPS, local file, in-memory trust bundle, and a
// first-match chain over any combination of those.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"schemapin-go/internal/discovery"
)

// DefaultTimeout bounds any single network round-trip a resolver performs.
const DefaultTimeout = 10 * time.Second

// Resolver is a pure data source: it performs no verification of its own.
type Resolver interface {
	ResolveDiscovery(ctx context.Context, domain string) (*discovery.Document, error)
	ResolveRevocation(ctx context.Context, domain string, disc *discovery.Document) (*discovery.RevocationDocument, error)
}

// WellKnownResolver fetches https://<domain>/.well-known/schemapin.json and,
// when the discovery document names a revocation_endpoint, that URL too.
// Any network or decode error is treated as "not found", never propagated.
type WellKnownResolver struct {
	Client  *http.Client
	Timeout time.Duration
}

// NewWellKnownResolver constructs a resolver with DefaultTimeout applied to
// both the client timeout and the per-request context deadline.
func NewWellKnownResolver() *WellKnownResolver {
	return &WellKnownResolver{
		Client:  &http.Client{Timeout: DefaultTimeout},
		Timeout: DefaultTimeout,
	}
}

func (w *WellKnownResolver) timeout() time.Duration {
	if w.Timeout > 0 {
		return w.Timeout
	}
	return DefaultTimeout
}

func (w *WellKnownResolver) client() *http.Client {
	if w.Client != nil {
		return w.Client
	}
	return &http.Client{Timeout: w.timeout()}
}

func constructWellKnownURL(domain string) string {
	u := &url.URL{Scheme: "https", Host: domain, Path: "/.well-known/schemapin.json"}
	return u.String()
}

func (w *WellKnownResolver) ResolveDiscovery(ctx context.Context, domain string) (*discovery.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout())
	defer cancel()

	doc, err := fetchJSON[discovery.Document](ctx, w.client(), constructWellKnownURL(domain))
	if err != nil {
		return nil, nil //nolint:nilerr // not-found is modeled as (nil, nil)
	}
	if err := doc.Validate(); err != nil {
		return nil, nil
	}
	return doc, nil
}

func (w *WellKnownResolver) ResolveRevocation(ctx context.Context, domain string, disc *discovery.Document) (*discovery.RevocationDocument, error) {
	if disc == nil || disc.RevocationEndpoint == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout())
	defer cancel()

	doc, err := fetchJSON[discovery.RevocationDocument](ctx, w.client(), disc.RevocationEndpoint)
	if err != nil {
		return nil, nil //nolint:nilerr
	}
	return doc, nil
}

func fetchJSON[T any](ctx context.Context, client *http.Client, rawURL string) (*T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("resolver: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolver: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolver: %s returned status %d", rawURL, resp.StatusCode)
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("resolver: decode %s: %w", rawURL, err)
	}
	return &out, nil
}

// LocalFileResolver reads <DiscoveryDir>/<domain>.json and
// <RevocationDir>/<domain>.revocations.json from the local filesystem.
type LocalFileResolver struct {
	DiscoveryDir  string
	RevocationDir string
}

func (l *LocalFileResolver) ResolveDiscovery(_ context.Context, domain string) (*discovery.Document, error) {
	path := filepath.Join(l.DiscoveryDir, domain+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil //nolint:nilerr
	}
	var doc discovery.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil //nolint:nilerr
	}
	return &doc, nil
}

func (l *LocalFileResolver) ResolveRevocation(_ context.Context, domain string, _ *discovery.Document) (*discovery.RevocationDocument, error) {
	dir := l.RevocationDir
	if dir == "" {
		dir = l.DiscoveryDir
	}
	path := filepath.Join(dir, domain+".revocations.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil //nolint:nilerr
	}
	var doc discovery.RevocationDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil //nolint:nilerr
	}
	return &doc, nil
}

// TrustBundleResolver looks domains up in an in-memory trust bundle.
type TrustBundleResolver struct {
	Bundle *discovery.TrustBundle
}

func (t *TrustBundleResolver) ResolveDiscovery(_ context.Context, domain string) (*discovery.Document, error) {
	if t.Bundle == nil {
		return nil, nil
	}
	doc, ok := t.Bundle.FindDiscovery(domain)
	if !ok {
		return nil, nil
	}
	return doc, nil
}

func (t *TrustBundleResolver) ResolveRevocation(_ context.Context, domain string, _ *discovery.Document) (*discovery.RevocationDocument, error) {
	if t.Bundle == nil {
		return nil, nil
	}
	rev, ok := t.Bundle.FindRevocation(domain)
	if !ok {
		return nil, nil
	}
	return rev, nil
}

// ChainResolver tries its constituent resolvers in order; the first
// non-nil result wins. Discovery and revocation are resolved independently,
// so the discovery document may come from one resolver and the revocation
// document from another.
type ChainResolver struct {
	Resolvers []Resolver
}

func NewChainResolver(resolvers ...Resolver) *ChainResolver {
	return &ChainResolver{Resolvers: resolvers}
}

func (c *ChainResolver) ResolveDiscovery(ctx context.Context, domain string) (*discovery.Document, error) {
	for _, r := range c.Resolvers {
		doc, err := r.ResolveDiscovery(ctx, domain)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			return doc, nil
		}
	}
	return nil, nil
}

func (c *ChainResolver) ResolveRevocation(ctx context.Context, domain string, disc *discovery.Document) (*discovery.RevocationDocument, error) {
	for _, r := range c.Resolvers {
		rev, err := r.ResolveRevocation(ctx, domain, disc)
		if err != nil {
			return nil, err
		}
		if rev != nil {
			return rev, nil
		}
	}
	return nil, nil
}
