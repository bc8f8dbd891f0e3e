package kubernetes

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"k8s.io/apimachinery/pkg/version"

	"github.com/otterscale/watchbridge/internal/core"
)

// discoveryClient implements core.DiscoveryClient by reading the
// /version endpoint of the target cluster. It goes through the shared
// REST client rather than client-go's discovery package so the check
// honours ctx.
type discoveryClient struct {
	kubernetes *Kubernetes
}

// NewDiscoveryClient returns a core.DiscoveryClient backed by the
// Kubernetes API.
func NewDiscoveryClient(kubernetes *Kubernetes) core.DiscoveryClient {
	return &discoveryClient{
		kubernetes: kubernetes,
	}
}

var _ core.DiscoveryClient = (*discoveryClient)(nil)

// ServerVersion returns the Kubernetes version of the target cluster.
func (d *discoveryClient) ServerVersion(ctx context.Context, cluster string) (*version.Info, error) {
	client, err := d.kubernetes.restClient(cluster)
	if err != nil {
		return nil, err
	}

	body, err := client.Get().AbsPath("/version").Do(ctx).Raw()
	if err != nil {
		return nil, wrapK8sError(err)
	}

	var info version.Info
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode server version of cluster %s: %w", cluster, err)
	}
	return &info, nil
}
