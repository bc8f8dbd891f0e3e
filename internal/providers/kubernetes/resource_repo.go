package kubernetes

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/otterscale/watchbridge/internal/core"
)

// resourceRepo implements core.ResourceRepo on top of the per-cluster
// unversioned REST client.
type resourceRepo struct {
	kubernetes *Kubernetes
}

// NewResourceRepo returns a core.ResourceRepo backed by the Kubernetes
// REST API.
func NewResourceRepo(kubernetes *Kubernetes) core.ResourceRepo {
	return &resourceRepo{
		kubernetes: kubernetes,
	}
}

var _ core.ResourceRepo = (*resourceRepo)(nil)

// List returns the full collection at path.
func (r *resourceRepo) List(ctx context.Context, cluster, path string) (*unstructured.UnstructuredList, error) {
	client, err := r.kubernetes.restClient(cluster)
	if err != nil {
		return nil, err
	}

	body, err := client.Get().AbsPath(path).Do(ctx).Raw()
	if err != nil {
		return nil, wrapK8sError(err)
	}

	list := &unstructured.UnstructuredList{}
	if err := list.UnmarshalJSON(body); err != nil {
		return nil, fmt.Errorf("decode list %s: %w", path, err)
	}
	return list, nil
}
