package handler

import (
	"github.com/google/wire"
)

// ProviderSet is the Wire provider set for the REST handlers.
var ProviderSet = wire.NewSet(NewResourceHandler)
