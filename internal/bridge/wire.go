package bridge

import (
	"github.com/google/wire"
)

// ProviderSet is the Wire provider set for the bridge server.
var ProviderSet = wire.NewSet(ProvideServer)
