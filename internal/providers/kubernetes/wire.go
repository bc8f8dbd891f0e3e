package kubernetes

import (
	"github.com/google/wire"

	"github.com/otterscale/watchbridge/internal/core"
)

// ProviderSet is the Wire provider set for the Kubernetes adapters.
var ProviderSet = wire.NewSet(
	New,
	wire.Bind(new(core.ClusterProvider), new(*Kubernetes)),
	NewDiscoveryClient,
	NewResourceRepo,
	NewStreamer,
	wire.Bind(new(core.WatchStreamer), new(*Streamer)),
	NewHealthCheckListener,
)
