package server

import (
	"context"
	"time"

	"github.com/otterscale/watchbridge/internal/core"
	"github.com/otterscale/watchbridge/internal/providers/kubernetes"
	"github.com/otterscale/watchbridge/internal/transport"
)

// cacheEvictionInterval is the interval at which the server version
// cache evictor removes expired entries.
const cacheEvictionInterval = 5 * time.Minute

// BackgroundListeners are the non-HTTP components that share the
// server's managed lifecycle.
type BackgroundListeners []transport.Listener

// ProvideBackgroundListeners constructs the background transport
// listeners: the cluster health check and the version cache evictor.
func ProvideBackgroundListeners(health *kubernetes.HealthCheckListener, evictor core.CacheEvictor) BackgroundListeners {
	return BackgroundListeners{
		health,
		&cacheEvictorListener{evictor: evictor},
	}
}

// cacheEvictorListener adapts CacheEvictor.StartEvictionLoop to the
// transport.Listener interface so it participates in the managed
// lifecycle alongside other servers.
type cacheEvictorListener struct {
	evictor core.CacheEvictor
}

func (l *cacheEvictorListener) Start(ctx context.Context) error {
	l.evictor.StartEvictionLoop(ctx, cacheEvictionInterval)
	return nil
}

func (l *cacheEvictorListener) Stop(_ context.Context) error {
	return nil // evictor stops when its context is cancelled
}
