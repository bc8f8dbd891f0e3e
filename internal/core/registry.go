package core

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
)

// Registry holds the watch sessions of one cluster. At most one
// session exists per SessionKey; it is started by the first Subscribe
// and torn down synchronously by the last Unsubscribe.
type Registry struct {
	cluster  string
	resolver *Resolver
	streamer WatchStreamer
	policy   BackoffPolicy
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[SessionKey]*session
	closed   bool
}

// NewRegistry returns an empty registry for cluster.
func NewRegistry(cluster string, resolver *Resolver, streamer WatchStreamer, policy BackoffPolicy) *Registry {
	return &Registry{
		cluster:  cluster,
		resolver: resolver,
		streamer: streamer,
		policy:   policy,
		log:      slog.Default().With("component", "watch-registry", "cluster", cluster),
		sessions: make(map[SessionKey]*session),
	}
}

// Cluster returns the cluster this registry serves.
func (r *Registry) Cluster() string {
	return r.cluster
}

// Key resolves resource and namespace into the SessionKey a
// subscription would use.
func (r *Registry) Key(resource, namespace string) (SessionKey, ResourcePath, error) {
	rp, err := r.resolver.Resolve(resource, namespace)
	if err != nil {
		return SessionKey{}, ResourcePath{}, err
	}
	return SessionKey{Cluster: r.cluster, Resource: rp.Resource, Namespace: rp.Namespace}, rp, nil
}

// Subscribe attaches l to the session for (resource, namespace),
// starting the session if none exists. Resolution errors are returned
// before any session is created. Subscribing the same listener twice
// is a no-op.
func (r *Registry) Subscribe(resource, namespace string, l *Listener) (SessionKey, error) {
	key, _, err := r.SubscribeSession(resource, namespace, l)
	return key, err
}

// SubscribeSession is Subscribe that also returns the identity of the
// session l is attached to, as carried in Notification.Session.
func (r *Registry) SubscribeSession(resource, namespace string, l *Listener) (SessionKey, uint64, error) {
	key, rp, err := r.Key(resource, namespace)
	if err != nil {
		return SessionKey{}, 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return SessionKey{}, 0, ErrRegistryClosed
	}

	s, ok := r.sessions[key]
	if !ok {
		s = newSession(key, rp.Path, r.streamer, r.policy)
		s.addListener(l)
		r.sessions[key] = s
		s.start()
		r.log.Info("watch session started", "resource", key.Resource, "namespace", key.Namespace, "path", rp.Path)
		return key, s.id, nil
	}

	s.addListener(l)
	return key, s.id, nil
}

// Unsubscribe detaches l. When no listeners remain the session is
// closed and removed before Unsubscribe returns.
func (r *Registry) Unsubscribe(resource, namespace string, l *Listener) (SessionKey, error) {
	key, _, err := r.Key(resource, namespace)
	if err != nil {
		return SessionKey{}, err
	}
	r.unsubscribeKey(key, l)
	return key, nil
}

// UnsubscribeKey is Unsubscribe for an already resolved key.
func (r *Registry) UnsubscribeKey(key SessionKey, l *Listener) {
	r.unsubscribeKey(key, l)
}

func (r *Registry) unsubscribeKey(key SessionKey, l *Listener) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	if s.removeListener(l) > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, key)
	s.cancel()
	r.mu.Unlock()

	// Wait outside the lock so a connect that is slow to unwind does
	// not hold up other keys of this cluster.
	s.wait()
	r.log.Info("watch session closed", "resource", key.Resource, "namespace", key.Namespace)
}

// Shutdown closes every session regardless of listener count. Each
// listener is told the cluster went away. Later Subscribe calls fail
// with ErrRegistryClosed.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true

	sessions := r.sessions
	r.sessions = make(map[SessionKey]*session)
	for _, s := range sessions {
		s.cancel()
	}
	r.mu.Unlock()

	for key, s := range sessions {
		s.wait()
		s.broadcast(Notification{Key: key, Err: ErrRegistryClosed})
	}
	r.log.Info("cluster registry shut down")
}

// Sessions returns a snapshot of all live sessions ordered by key.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.Lock()
	list := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	infos := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.info())
	}
	slices.SortFunc(infos, func(a, b SessionInfo) int {
		return cmp.Or(
			cmp.Compare(a.Key.Resource, b.Key.Resource),
			cmp.Compare(a.Key.Namespace, b.Key.Namespace),
		)
	})
	return infos
}

// Session returns the state of the session for key, if any.
func (r *Registry) Session(key SessionKey) (SessionInfo, bool) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	r.mu.Unlock()

	if !ok {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// ---------------------------------------------------------------------------
// Hub
// ---------------------------------------------------------------------------

// ClusterProvider reports which clusters can be watched.
type ClusterProvider interface {
	Clusters() []string
	HasCluster(name string) bool
}

// Hub owns one lazily created Registry per cluster.
type Hub struct {
	resolver *Resolver
	streamer WatchStreamer
	clusters ClusterProvider
	policy   BackoffPolicy
	log      *slog.Logger

	mu         sync.Mutex
	registries map[string]*Registry
}

// NewHub returns a Hub with no registries.
func NewHub(resolver *Resolver, streamer WatchStreamer, clusters ClusterProvider, policy BackoffPolicy) *Hub {
	return &Hub{
		resolver:   resolver,
		streamer:   streamer,
		clusters:   clusters,
		policy:     policy,
		log:        slog.Default().With("component", "watch-hub"),
		registries: make(map[string]*Registry),
	}
}

// Resolver returns the resolver shared by every registry.
func (h *Hub) Resolver() *Resolver {
	return h.resolver
}

// Clusters returns the names of all configured clusters.
func (h *Hub) Clusters() []string {
	return h.clusters.Clusters()
}

// HasCluster reports whether cluster is configured.
func (h *Hub) HasCluster(cluster string) bool {
	return h.clusters.HasCluster(cluster)
}

// Registry returns the registry for cluster, creating it on first use.
func (h *Hub) Registry(cluster string) (*Registry, error) {
	if !h.clusters.HasCluster(cluster) {
		return nil, &ErrClusterNotFound{Cluster: cluster}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.registries[cluster]; ok {
		return r, nil
	}

	r := NewRegistry(cluster, h.resolver, h.streamer, h.policy)
	h.registries[cluster] = r
	h.log.Debug("cluster registry created", "cluster", cluster)
	return r, nil
}

// Lookup returns the registry for cluster without creating one.
func (h *Hub) Lookup(cluster string) (*Registry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.registries[cluster]
	return r, ok
}

// Active returns the clusters that currently have a registry.
func (h *Hub) Active() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(h.registries))
	for name := range h.registries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ShutdownCluster closes every session of cluster and forgets its
// registry. It reports whether a registry existed.
func (h *Hub) ShutdownCluster(cluster string) bool {
	h.mu.Lock()
	r, ok := h.registries[cluster]
	delete(h.registries, cluster)
	h.mu.Unlock()

	if !ok {
		return false
	}
	r.Shutdown()
	return true
}

// Close shuts down every registry.
func (h *Hub) Close() {
	h.mu.Lock()
	registries := h.registries
	h.registries = make(map[string]*Registry)
	h.mu.Unlock()

	for _, r := range registries {
		r.Shutdown()
	}
}
