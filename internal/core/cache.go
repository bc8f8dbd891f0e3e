package core

import (
	"context"
	"time"
)

// CacheEvictor is a cache that drops expired entries on a schedule.
// The background runner drives it; implementations live in
// providers/cache.
type CacheEvictor interface {
	StartEvictionLoop(ctx context.Context, interval time.Duration)
}
