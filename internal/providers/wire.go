// Package providers aggregates all infrastructure-layer implementations
// (kubernetes, cache) into a single Wire provider set.
package providers

import (
	"github.com/google/wire"

	"github.com/otterscale/watchbridge/internal/core"
	"github.com/otterscale/watchbridge/internal/providers/cache"
	"github.com/otterscale/watchbridge/internal/providers/kubernetes"
)

// ProviderSet is the Wire provider set for all external adapters.
var ProviderSet = wire.NewSet(
	kubernetes.ProviderSet,
	cache.ProvideVersionCache,
	wire.Bind(new(core.VersionResolver), new(*cache.VersionCache)),
	wire.Bind(new(core.CacheEvictor), new(*cache.VersionCache)),
)
