// Package cache provides TTL-based caching infrastructure for
// Kubernetes discovery data. It lives in the providers layer because
// caching is an infrastructure concern; the domain layer
// (internal/core) only defines the VersionResolver interface.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/version"

	"github.com/otterscale/watchbridge/internal/config"
	"github.com/otterscale/watchbridge/internal/core"
)

// DefaultTTL is the default TTL for cached server versions.
const DefaultTTL = 10 * time.Minute

// singleflightFetchTimeout is the maximum time a cache-miss fetch is
// allowed to run. It uses context.WithoutCancel so that a single
// caller's cancellation does not fail all singleflight waiters.
const singleflightFetchTimeout = 30 * time.Second

// VersionCache provides TTL-based caching with singleflight
// deduplication for Kubernetes server versions. Every watch open asks
// for the version, so without it a reconnect storm would double the
// request rate against a struggling API server.
type VersionCache struct {
	discovery core.DiscoveryClient
	ttl       time.Duration

	mu      sync.RWMutex
	entries map[string]*versionCacheEntry
	flights singleflight.Group
}

// versionCacheEntry pairs a cached server version with its expiration.
type versionCacheEntry struct {
	version   *version.Info
	expiresAt time.Time
}

// NewVersionCache returns a VersionCache that wraps the given
// DiscoveryClient and caches results for ttl.
func NewVersionCache(discovery core.DiscoveryClient, ttl time.Duration) *VersionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &VersionCache{
		discovery: discovery,
		ttl:       ttl,
		entries:   make(map[string]*versionCacheEntry),
	}
}

// ProvideVersionCache is the Wire provider for VersionCache.
func ProvideVersionCache(conf *config.Config, discovery core.DiscoveryClient) *VersionCache {
	return NewVersionCache(discovery, conf.CacheVersionTTL())
}

var _ core.VersionResolver = (*VersionCache)(nil)

// ServerVersion returns the cached Kubernetes version for the given
// cluster. Results are cached for the configured TTL and concurrent
// requests are deduplicated via singleflight.
func (c *VersionCache) ServerVersion(ctx context.Context, cluster string) (*version.Info, error) {
	c.mu.RLock()
	entry, ok := c.entries[cluster]
	c.mu.RUnlock()

	if ok && time.Now().Before(entry.expiresAt) {
		return entry.version, nil
	}

	ch := c.flights.DoChan(cluster, func() (any, error) {
		// Use a non-cancellable context with its own timeout so that
		// a single caller's cancellation does not fail all waiters
		// sharing this singleflight key.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), singleflightFetchTimeout)
		defer cancel()

		info, err := c.discovery.ServerVersion(fetchCtx, cluster)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[cluster] = &versionCacheEntry{
			version:   info,
			expiresAt: time.Now().Add(c.ttl),
		}
		c.mu.Unlock()

		return info, nil
	})

	// The shared fetch keeps running for the other waiters; this
	// caller stops waiting as soon as its own context ends.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*version.Info), nil
	}
}

// Invalidate drops the cached version of cluster.
func (c *VersionCache) Invalidate(cluster string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cluster)
}

// StartEvictionLoop removes expired entries every interval until ctx
// is cancelled. It blocks.
func (c *VersionCache) StartEvictionLoop(ctx context.Context, interval time.Duration) {
	log := slog.Default().With("component", "version-cache-evictor")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			before := len(c.entries)
			c.evictExpired()
			after := len(c.entries)
			c.mu.Unlock()

			if evicted := before - after; evicted > 0 {
				log.Info("evicted expired cache entries", "count", evicted)
			}
		}
	}
}

// evictExpired removes expired entries. Must be called with mu held
// for writing.
func (c *VersionCache) evictExpired() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
