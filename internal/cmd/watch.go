package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/otterscale/watchbridge/internal/client"
	"github.com/otterscale/watchbridge/internal/config"
)

func NewWatchCommand(conf *config.Config) (*cobra.Command, error) {
	var namespace string

	cmd := &cobra.Command{
		Use:     "watch RESOURCE",
		Short:   "Watch a resource collection of one cluster through a bridge server",
		Example: "watchbridge watch pods --namespace=default --cluster=prod --server-url=https://bridge.example.com",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(conf.ClientDebug())

			c, err := client.ProvideClient(conf)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			return runWatch(cmd.Context(), c, args[0], namespace, os.Stdout)
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Namespace to watch (empty for all namespaces)")

	if err := conf.BindFlags(cmd.Flags(), config.ClientOptions); err != nil {
		return nil, err
	}

	return cmd, nil
}

// runWatch keeps the client connected and redraws the table on every
// change of the watched cache until ctx is cancelled.
func runWatch(ctx context.Context, c *client.Client, resource, namespace string, out io.Writer) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return c.Run(ctx)
	})

	cache := c.Watch(ctx, resource, namespace)

	eg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-cache.Changed():
				if err := render(out, cache); err != nil {
					return err
				}
			}
		}
	})

	return eg.Wait()
}

// render writes the cache contents as a table followed by a status
// line.
func render(out io.Writer, cache *client.Cache) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)

	fmt.Fprintln(w, "NAMESPACE\tNAME\tRESOURCEVERSION")
	for _, item := range cache.Snapshot().Items() {
		obj := unstructured.Unstructured{Object: item}
		fmt.Fprintf(w, "%s\t%s\t%s\n", obj.GetNamespace(), obj.GetName(), obj.GetResourceVersion())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	status, msg := cache.Status()
	line := fmt.Sprintf("# %s %s rv=%s", cache.Key(), status, cache.ResourceVersion())
	if msg != "" {
		line += ": " + msg
	}
	_, err := fmt.Fprintln(out, line+"\n")
	return err
}
