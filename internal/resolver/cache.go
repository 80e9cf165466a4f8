package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"schemapin-go/internal/discovery"
)

// CachingResolver wraps another Resolver and caches its results in Redis
// under a TTL, so repeated verifications do not re-fetch a discovery
// document that is, per spec, cacheable. Only non-nil results are cached;
// a cache miss or an undecodable cache entry falls through to Inner.
type CachingResolver struct {
	Inner  Resolver
	Client *redis.Client
	TTL    time.Duration
}

// NewCachingResolver parses dsn (a redis:// URL) and wraps inner with a
// Redis-backed cache using ttl.
func NewCachingResolver(inner Resolver, dsn string, ttl time.Duration) (*CachingResolver, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("resolver: parse redis dsn: %w", err)
	}
	return &CachingResolver{
		Inner:  inner,
		Client: redis.NewClient(opts),
		TTL:    ttl,
	}, nil
}

func discoveryCacheKey(domain string) string { return "schemapin:discovery:" + domain }
func revocationCacheKey(domain string) string { return "schemapin:revocation:" + domain }

func (c *CachingResolver) ResolveDiscovery(ctx context.Context, domain string) (*discovery.Document, error) {
	key := discoveryCacheKey(domain)

	if raw, err := c.Client.Get(ctx, key).Bytes(); err == nil {
		var doc discovery.Document
		if jsonErr := json.Unmarshal(raw, &doc); jsonErr == nil {
			return &doc, nil
		}
	}

	doc, err := c.Inner.ResolveDiscovery(ctx, domain)
	if err != nil || doc == nil {
		return doc, err
	}

	if raw, err := json.Marshal(doc); err == nil {
		c.Client.Set(ctx, key, raw, c.TTL)
	}
	return doc, nil
}

func (c *CachingResolver) ResolveRevocation(ctx context.Context, domain string, disc *discovery.Document) (*discovery.RevocationDocument, error) {
	key := revocationCacheKey(domain)

	if raw, err := c.Client.Get(ctx, key).Bytes(); err == nil {
		var rev discovery.RevocationDocument
		if jsonErr := json.Unmarshal(raw, &rev); jsonErr == nil {
			return &rev, nil
		}
	}

	rev, err := c.Inner.ResolveRevocation(ctx, domain, disc)
	if err != nil || rev == nil {
		return rev, err
	}

	if raw, err := json.Marshal(rev); err == nil {
		c.Client.Set(ctx, key, raw, c.TTL)
	}
	return rev, nil
}

// Close releases the underlying Redis client.
func (c *CachingResolver) Close() error {
	return c.Client.Close()
}
