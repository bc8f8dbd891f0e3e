package core

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

//nolint:revive // allows this exported struct name.
type ResourceRepo interface {
	// List performs a plain (non-watch) GET on path.
	List(ctx context.Context, cluster, path string) (*unstructured.UnstructuredList, error)
}

// Snapshot is a full list of a resource collection together with the
// resourceVersion it was read at.
type Snapshot struct {
	Cluster         string           `json:"cluster"`
	Resource        string           `json:"resource"`
	Namespace       string           `json:"namespace,omitempty"`
	ResourceVersion string           `json:"resourceVersion"`
	Items           []map[string]any `json:"items"`
}

// ResourceDescriptor describes one entry of the resource table.
type ResourceDescriptor struct {
	Name       string   `json:"name"`
	BasePath   string   `json:"basePath"`
	Namespaced bool     `json:"namespaced"`
	Aliases    []string `json:"aliases,omitempty"`
}

type ResourceUseCase struct {
	resolver *Resolver
	clusters ClusterProvider
	resource ResourceRepo
}

func NewResourceUseCase(resolver *Resolver, clusters ClusterProvider, resource ResourceRepo) *ResourceUseCase {
	return &ResourceUseCase{
		resolver: resolver,
		clusters: clusters,
		resource: resource,
	}
}

func (uc *ResourceUseCase) ListClusters() []string {
	return uc.clusters.Clusters()
}

func (uc *ResourceUseCase) ListResourceTypes() []ResourceDescriptor {
	names := uc.resolver.Resources()
	out := make([]ResourceDescriptor, 0, len(names))
	for _, name := range names {
		info, _ := uc.resolver.Info(name)
		out = append(out, ResourceDescriptor{
			Name:       name,
			BasePath:   info.BasePath,
			Namespaced: info.Namespaced,
			Aliases:    info.Aliases,
		})
	}
	return out
}

// Snapshot lists resource in cluster through the same path a watch on
// it would use, so the returned resourceVersion is a valid resume
// point for that watch.
func (uc *ResourceUseCase) Snapshot(ctx context.Context, cluster, resource, namespace string) (*Snapshot, error) {
	if !uc.clusters.HasCluster(cluster) {
		return nil, &ErrClusterNotFound{Cluster: cluster}
	}

	rp, err := uc.resolver.Resolve(resource, namespace)
	if err != nil {
		return nil, err
	}

	list, err := uc.resource.List(ctx, cluster, rp.Path)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(list.Items))
	for i := range list.Items {
		items = append(items, list.Items[i].Object)
	}

	return &Snapshot{
		Cluster:         cluster,
		Resource:        rp.Resource,
		Namespace:       rp.Namespace,
		ResourceVersion: list.GetResourceVersion(),
		Items:           items,
	}, nil
}
