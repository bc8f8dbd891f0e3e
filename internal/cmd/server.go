package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/otterscale/watchbridge/internal/cmd/server"
	"github.com/otterscale/watchbridge/internal/config"
)

type ServerInjector func() (*server.Server, func(), error)

func NewServerCommand(conf *config.Config, newServer ServerInjector) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "server",
		Short:   "Start server that multiplexes Kubernetes watches to websocket clients",
		Example: "watchbridge server --address=:8299 --kubeconfig=$HOME/.kube/config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(conf.ServerDebug())

			srv, cleanup, err := newServer()
			if err != nil {
				return fmt.Errorf("failed to initialize server: %w", err)
			}
			defer cleanup()

			cfg := server.Config{
				Address:        conf.ServerAddress(),
				AllowedOrigins: conf.ServerAllowedOrigins(),
				OIDCIssuerURL:  conf.ServerOIDCIssuerURL(),
				OIDCClientID:   conf.ServerOIDCClientID(),
			}

			return srv.Run(cmd.Context(), cfg)
		},
	}

	if err := conf.BindFlags(cmd.Flags(), config.ServerOptions); err != nil {
		return nil, err
	}

	return cmd, nil
}
