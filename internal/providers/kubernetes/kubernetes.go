package kubernetes

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/otterscale/watchbridge/internal/config"
	"github.com/otterscale/watchbridge/internal/core"
)

// inClusterName is the cluster name used when no kubeconfig context is
// available and the process runs inside a pod.
const inClusterName = "in-cluster"

// Kubernetes holds one rest.Config per cluster and lazily builds the
// REST clients used for watches, lists and discovery.
type Kubernetes struct {
	configs map[string]*rest.Config
	names   []string

	mu      sync.Mutex
	clients map[string]*rest.RESTClient
}

// New loads every context of the configured kubeconfig (or the
// client-go default loading rules) as a cluster. When no context is
// found it falls back to the in-cluster config.
func New(conf *config.Config) (*Kubernetes, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path := conf.ServerKubeconfig(); path != "" {
		rules.ExplicitPath = path
	}

	raw, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).RawConfig()
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig: %w", err)
	}

	configs := make(map[string]*rest.Config, len(raw.Contexts))
	for name := range raw.Contexts {
		cfg, err := clientcmd.NewNonInteractiveClientConfig(raw, name, &clientcmd.ConfigOverrides{}, rules).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("client config for context %s: %w", name, err)
		}
		configs[name] = cfg
	}

	if len(configs) == 0 {
		cfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("no kubeconfig contexts and in-cluster config unavailable: %w", err)
		}
		slog.Warn("no kubeconfig contexts found, serving the in-cluster API only", "cluster", inClusterName)
		configs[inClusterName] = cfg
	}

	return NewForConfigs(configs), nil
}

// NewForConfigs returns a Kubernetes serving exactly the given
// clusters.
func NewForConfigs(configs map[string]*rest.Config) *Kubernetes {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	slices.Sort(names)

	return &Kubernetes{
		configs: configs,
		names:   names,
		clients: make(map[string]*rest.RESTClient),
	}
}

var _ core.ClusterProvider = (*Kubernetes)(nil)

// Clusters returns the configured cluster names in sorted order.
func (k *Kubernetes) Clusters() []string {
	return slices.Clone(k.names)
}

// HasCluster reports whether name is configured.
func (k *Kubernetes) HasCluster(name string) bool {
	_, ok := k.configs[name]
	return ok
}

// restConfig returns a copy of the cluster's config.
func (k *Kubernetes) restConfig(cluster string) (*rest.Config, error) {
	cfg, ok := k.configs[cluster]
	if !ok {
		return nil, &core.ErrClusterNotFound{Cluster: cluster}
	}
	return rest.CopyConfig(cfg), nil
}

// restClient returns the shared unversioned REST client for cluster.
// Requests are built with absolute paths, so the client carries no
// group/version of its own.
func (k *Kubernetes) restClient(cluster string) (*rest.RESTClient, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if c, ok := k.clients[cluster]; ok {
		return c, nil
	}

	cfg, err := k.restConfig(cluster)
	if err != nil {
		return nil, err
	}
	cfg.NegotiatedSerializer = scheme.Codecs.WithoutConversion()
	if cfg.UserAgent == "" {
		cfg.UserAgent = rest.DefaultKubernetesUserAgent() + " watchbridge"
	}

	c, err := rest.UnversionedRESTClientFor(cfg)
	if err != nil {
		return nil, fmt.Errorf("rest client for cluster %s: %w", cluster, err)
	}
	k.clients[cluster] = c
	return c, nil
}
