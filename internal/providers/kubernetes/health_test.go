package kubernetes

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"k8s.io/apimachinery/pkg/version"

	"github.com/otterscale/watchbridge/internal/core"
)

type flakyDiscovery struct {
	mu   sync.Mutex
	down map[string]bool
}

func (d *flakyDiscovery) ServerVersion(_ context.Context, cluster string) (*version.Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down[cluster] {
		return nil, errors.New("dial tcp: connection refused")
	}
	return &version.Info{GitVersion: "v1.30.0"}, nil
}

type staticClusters []string

func (s staticClusters) Clusters() []string { return s }

func (s staticClusters) HasCluster(name string) bool {
	for _, c := range s {
		if c == name {
			return true
		}
	}
	return false
}

// idleStreamer hands out watchers that stay open until stopped.
type idleStreamer struct{}

type idleWatcher struct {
	ch   chan core.WatchEvent
	once sync.Once
}

func (idleStreamer) Stream(context.Context, string, string, string) (core.Watcher, error) {
	return &idleWatcher{ch: make(chan core.WatchEvent)}, nil
}

func (w *idleWatcher) ResultChan() <-chan core.WatchEvent { return w.ch }
func (w *idleWatcher) Err() error                         { return nil }
func (w *idleWatcher) Stop()                              { w.once.Do(func() { close(w.ch) }) }

// mutableClusters is a ClusterProvider whose set can change.
type mutableClusters struct {
	mu    sync.Mutex
	names []string
}

func (m *mutableClusters) Clusters() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.names...)
}

func (m *mutableClusters) HasCluster(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.names {
		if c == name {
			return true
		}
	}
	return false
}

func (m *mutableClusters) remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.names {
		if c == name {
			m.names = append(m.names[:i], m.names[i+1:]...)
			return
		}
	}
}

func TestHealthCheck_UnreachableClusterKeepsWatches(t *testing.T) {
	t.Parallel()

	resolver, err := core.NewResolver(core.DefaultResourceTable())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	hub := core.NewHub(resolver, idleStreamer{}, staticClusters{"alpha", "beta"}, core.DefaultBackoffPolicy)
	t.Cleanup(hub.Close)

	listeners := map[string]*core.Listener{}
	for _, cluster := range []string{"alpha", "beta"} {
		r, err := hub.Registry(cluster)
		if err != nil {
			t.Fatalf("Registry: %v", err)
		}
		listeners[cluster] = core.NewListener(4)
		if _, err := r.Subscribe("pods", "", listeners[cluster]); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}

	discovery := &flakyDiscovery{down: map[string]bool{"beta": true}}
	h := &HealthCheckListener{discovery: discovery, hub: hub, threshold: 3, log: slog.Default()}

	failCounts := map[string]int{}
	ctx := context.Background()

	for range 5 {
		h.checkClusters(ctx, failCounts)
	}
	if failCounts["beta"] != 5 {
		t.Fatalf("beta failures = %d, want 5", failCounts["beta"])
	}

	r, ok := hub.Lookup("beta")
	if !ok {
		t.Fatal("beta registry must survive while it has listeners")
	}
	if sessions := r.Sessions(); len(sessions) != 1 || sessions[0].Listeners != 1 {
		t.Fatalf("beta sessions = %+v, want one session with its listener", sessions)
	}
	select {
	case n := <-listeners["beta"].C():
		t.Fatalf("beta listener got %+v, want nothing", n)
	default:
	}
	if _, ok := failCounts["alpha"]; ok {
		t.Fatal("healthy alpha must not accumulate failures")
	}
}

func TestHealthCheck_RemovedClusterIsShutDown(t *testing.T) {
	t.Parallel()

	resolver, err := core.NewResolver(core.DefaultResourceTable())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	clusters := &mutableClusters{names: []string{"alpha", "beta"}}
	hub := core.NewHub(resolver, idleStreamer{}, clusters, core.DefaultBackoffPolicy)
	t.Cleanup(hub.Close)

	l := core.NewListener(4)
	for _, cluster := range []string{"alpha", "beta"} {
		r, err := hub.Registry(cluster)
		if err != nil {
			t.Fatalf("Registry: %v", err)
		}
		if _, err := r.Subscribe("pods", "", l); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}

	h := &HealthCheckListener{discovery: &flakyDiscovery{}, hub: hub, threshold: 3, log: slog.Default()}

	clusters.remove("beta")
	h.checkClusters(context.Background(), map[string]int{})

	if _, ok := hub.Lookup("beta"); ok {
		t.Fatal("removed beta should be shut down")
	}
	if _, ok := hub.Lookup("alpha"); !ok {
		t.Fatal("alpha must stay registered")
	}

	n := <-l.C()
	if !errors.Is(n.Err, core.ErrRegistryClosed) || n.Key.Cluster != "beta" {
		t.Fatalf("notification = %+v, want beta registry closed", n)
	}
}

func TestHealthCheck_RecoveryResetsCount(t *testing.T) {
	t.Parallel()

	resolver, err := core.NewResolver(core.DefaultResourceTable())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	hub := core.NewHub(resolver, idleStreamer{}, staticClusters{"alpha"}, core.DefaultBackoffPolicy)
	t.Cleanup(hub.Close)

	if _, err := hub.Registry("alpha"); err != nil {
		t.Fatalf("Registry: %v", err)
	}

	discovery := &flakyDiscovery{down: map[string]bool{"alpha": true}}
	h := &HealthCheckListener{discovery: discovery, hub: hub, threshold: 3, log: slog.Default()}

	failCounts := map[string]int{}
	h.checkClusters(context.Background(), failCounts)
	h.checkClusters(context.Background(), failCounts)

	discovery.mu.Lock()
	discovery.down["alpha"] = false
	discovery.mu.Unlock()

	h.checkClusters(context.Background(), failCounts)
	if _, ok := failCounts["alpha"]; ok {
		t.Fatal("fail count should reset after a successful check")
	}
	if _, ok := hub.Lookup("alpha"); !ok {
		t.Fatal("alpha should still be registered")
	}
}
