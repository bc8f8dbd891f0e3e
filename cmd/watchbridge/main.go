// Package main is the entry point for the watchbridge binary. It
// supports two subcommands:
//
//   - server: multiplexes Kubernetes watches of every configured
//     cluster to websocket clients
//   - watch:  connects to a server and prints a live resource table
//
// Dependencies are assembled via Google Wire; see wire.go.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/otterscale/watchbridge/internal/cmd"
	"github.com/otterscale/watchbridge/internal/cmd/server"
	"github.com/otterscale/watchbridge/internal/config"
	"github.com/otterscale/watchbridge/internal/core"
)

// version is injected at build time via -ldflags
// (e.g. -ldflags "-X main.version=v1.2.3").
var version = "devel"

func main() {
	// Cancel on SIGINT (Ctrl+C) or SIGTERM (container runtime).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		// Cobra is configured with SilenceErrors: true, so we
		// print the error here for consistent formatting.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires all dependencies and executes the root Cobra command.
func run(ctx context.Context) error {
	rootCmd, cleanup, err := wireCmd()
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	return rootCmd.ExecuteContext(ctx)
}

// newCmd is a Wire provider that constructs the root Cobra command and
// registers the server and watch subcommands. The server is wired
// lazily so that the watch subcommand never touches kubeconfig.
func newCmd(conf *config.Config) (*cobra.Command, error) {
	c := &cobra.Command{
		Use:           "watchbridge",
		Short:         "watchbridge: one shared Kubernetes watch per resource, fanned out to every client.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	v := core.Version(version)

	serverCmd, err := cmd.NewServerCommand(conf, func() (*server.Server, func(), error) {
		return wireServer(v, conf)
	})
	if err != nil {
		return nil, err
	}

	watchCmd, err := cmd.NewWatchCommand(conf)
	if err != nil {
		return nil, err
	}

	c.AddCommand(serverCmd, watchCmd)

	return c, nil
}

// provideResolver is a Wire provider that builds the resource resolver
// from the configured table file, falling back to the built-in table.
func provideResolver(conf *config.Config) (*core.Resolver, error) {
	path := conf.ServerResourceTable()
	if path == "" {
		return core.NewResolver(core.DefaultResourceTable())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resource table: %w", err)
	}
	table, err := core.ParseResourceTable(data)
	if err != nil {
		return nil, fmt.Errorf("parse resource table %s: %w", path, err)
	}

	slog.Info("loaded resource table", "path", path, "entries", len(table))
	return core.NewResolver(table)
}

// provideBackoffPolicy is a Wire provider for the reconnect policy of
// upstream watch sessions.
func provideBackoffPolicy(conf *config.Config) core.BackoffPolicy {
	return core.BackoffPolicy{
		Base: conf.WatchBackoffBase(),
		Max:  conf.WatchBackoffMax(),
	}
}
