//go:build wireinject

package main

import (
	"github.com/google/wire"
	"github.com/spf13/cobra"

	"github.com/otterscale/watchbridge/internal/bridge"
	"github.com/otterscale/watchbridge/internal/cmd"
	"github.com/otterscale/watchbridge/internal/cmd/server"
	"github.com/otterscale/watchbridge/internal/config"
	"github.com/otterscale/watchbridge/internal/core"
	"github.com/otterscale/watchbridge/internal/handler"
	"github.com/otterscale/watchbridge/internal/providers"
)

func wireCmd() (*cobra.Command, func(), error) {
	panic(wire.Build(
		newCmd,
		config.ProviderSet,
	))
}

func wireServer(core.Version, *config.Config) (*server.Server, func(), error) {
	panic(wire.Build(
		provideResolver,
		provideBackoffPolicy,
		cmd.ProviderSet,
		bridge.ProviderSet,
		handler.ProviderSet,
		core.ProviderSet,
		providers.ProviderSet,
	))
}
