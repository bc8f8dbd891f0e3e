package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/otterscale/watchbridge/internal/core"
)

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

// fakeRepo records the listed path and returns a fixed list.
type fakeRepo struct {
	path string
	err  error
}

func (f *fakeRepo) List(_ context.Context, _, path string) (*unstructured.UnstructuredList, error) {
	f.path = path
	if f.err != nil {
		return nil, f.err
	}
	list := &unstructured.UnstructuredList{}
	list.SetResourceVersion("42")
	list.Items = []unstructured.Unstructured{{Object: map[string]any{
		"kind": "Pod",
		"metadata": map[string]any{
			"name":          "web-0",
			"uid":           "u1",
			"managedFields": []any{"x"},
		},
	}}}
	return list, nil
}

type idleStreamer struct{}

func (idleStreamer) Stream(context.Context, string, string, string) (core.Watcher, error) {
	return &idleWatcher{ch: make(chan core.WatchEvent)}, nil
}

type idleWatcher struct{ ch chan core.WatchEvent }

func (w *idleWatcher) ResultChan() <-chan core.WatchEvent { return w.ch }
func (w *idleWatcher) Err() error                         { return nil }
func (w *idleWatcher) Stop()                              {}

func newTestMux(t *testing.T, repo *fakeRepo) (*http.ServeMux, *core.Hub) {
	t.Helper()

	resolver, err := core.NewResolver(core.DefaultResourceTable())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	clusters := staticClusters{"alpha", "beta"}
	hub := core.NewHub(resolver, idleStreamer{}, clusters, core.DefaultBackoffPolicy)
	t.Cleanup(hub.Close)

	mux := http.NewServeMux()
	NewResourceHandler(core.NewResourceUseCase(resolver, clusters, repo), hub).Mount(mux)
	return mux, hub
}

func get(t *testing.T, mux *http.ServeMux, target string, v any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if v != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
			t.Fatalf("decode %s: %v (body %q)", target, err, rec.Body.String())
		}
	}
	return rec.Code
}

func TestResourceHandler_ListClusters(t *testing.T) {
	mux, _ := newTestMux(t, &fakeRepo{})

	var resp listClustersResponse
	if code := get(t, mux, "/api/v1/clusters", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Clusters) != 2 || resp.Clusters[0] != "alpha" {
		t.Fatalf("clusters = %v", resp.Clusters)
	}
}

func TestResourceHandler_ListResourceTypes(t *testing.T) {
	mux, _ := newTestMux(t, &fakeRepo{})

	var resp listResourceTypesResponse
	if code := get(t, mux, "/api/v1/resources", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	found := false
	for _, r := range resp.Resources {
		if r.Name == "deployments" {
			found = true
			if r.BasePath != "/apis/apps/v1" || !r.Namespaced {
				t.Fatalf("deployments = %+v", r)
			}
		}
	}
	if !found {
		t.Fatal("deployments missing from resource table")
	}
}

func TestResourceHandler_Snapshot(t *testing.T) {
	repo := &fakeRepo{}
	mux, _ := newTestMux(t, repo)

	var snap core.Snapshot
	if code := get(t, mux, "/api/v1/clusters/alpha/resources/po?namespace=default", &snap); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if repo.path != "/api/v1/namespaces/default/pods" {
		t.Fatalf("listed path = %q", repo.path)
	}
	if snap.ResourceVersion != "42" || snap.Resource != "pods" || snap.Namespace != "default" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(snap.Items))
	}
	metadata := snap.Items[0]["metadata"].(map[string]any)
	if _, ok := metadata["managedFields"]; ok {
		t.Fatal("managedFields should be stripped")
	}
}

func TestResourceHandler_SnapshotErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		repo   *fakeRepo
		want   int
	}{
		{
			name:   "unknown resource",
			target: "/api/v1/clusters/alpha/resources/widgets",
			repo:   &fakeRepo{},
			want:   http.StatusBadRequest,
		},
		{
			name:   "unknown cluster",
			target: "/api/v1/clusters/gamma/resources/pods",
			repo:   &fakeRepo{},
			want:   http.StatusNotFound,
		},
		{
			name:   "invalid namespace",
			target: "/api/v1/clusters/alpha/resources/pods?namespace=Not_Valid",
			repo:   &fakeRepo{},
			want:   http.StatusBadRequest,
		},
		{
			name:   "upstream unavailable",
			target: "/api/v1/clusters/alpha/resources/pods",
			repo:   &fakeRepo{err: &core.DomainError{Code: core.ErrorCodeUnavailable, Message: "connection refused"}},
			want:   http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, _ := newTestMux(t, tt.repo)

			var body errorBody
			if code := get(t, mux, tt.target, &body); code != tt.want {
				t.Fatalf("status = %d, want %d", code, tt.want)
			}
			if strings.TrimSpace(body.Error) == "" {
				t.Fatal("error body should carry a message")
			}
		})
	}
}

func TestResourceHandler_ListSessions(t *testing.T) {
	mux, hub := newTestMux(t, &fakeRepo{})

	var resp listSessionsResponse
	if code := get(t, mux, "/api/v1/clusters/alpha/sessions", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Sessions) != 0 {
		t.Fatalf("sessions = %v, want none", resp.Sessions)
	}

	registry, err := hub.Registry("alpha")
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if _, err := registry.Subscribe("nodes", "", core.NewListener(1)); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if code := get(t, mux, "/api/v1/clusters/alpha/sessions", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].Path != "/api/v1/nodes" || resp.Sessions[0].Listeners != 1 {
		t.Fatalf("sessions = %+v", resp.Sessions)
	}

	if code := get(t, mux, "/api/v1/clusters/gamma/sessions", nil); code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
}
