package handler

import (
	"net/http"

	"github.com/otterscale/watchbridge/internal/core"
)

// ResourceHandler serves the read-only REST surface next to the watch
// bridge: cluster and resource discovery, list snapshots used to seed
// consumer caches, and the live session table of a cluster.
type ResourceHandler struct {
	resource *core.ResourceUseCase
	hub      *core.Hub
}

// NewResourceHandler returns a ResourceHandler backed by the given
// use-case and hub.
func NewResourceHandler(resource *core.ResourceUseCase, hub *core.Hub) *ResourceHandler {
	return &ResourceHandler{
		resource: resource,
		hub:      hub,
	}
}

// Mount registers the REST routes on mux.
func (h *ResourceHandler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/clusters", h.ListClusters)
	mux.HandleFunc("GET /api/v1/resources", h.ListResourceTypes)
	mux.HandleFunc("GET /api/v1/clusters/{cluster}/resources/{resource}", h.Snapshot)
	mux.HandleFunc("GET /api/v1/clusters/{cluster}/sessions", h.ListSessions)
}

// ---------------------------------------------------------------------------
// Discovery
// ---------------------------------------------------------------------------

type listClustersResponse struct {
	Clusters []string `json:"clusters"`
}

// ListClusters returns the configured cluster names.
func (h *ResourceHandler) ListClusters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, listClustersResponse{Clusters: h.resource.ListClusters()})
}

type listResourceTypesResponse struct {
	Resources []core.ResourceDescriptor `json:"resources"`
}

// ListResourceTypes returns the resolvable resource table.
func (h *ResourceHandler) ListResourceTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, listResourceTypesResponse{Resources: h.resource.ListResourceTypes()})
}

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

// Snapshot lists a resource collection. The optional namespace query
// parameter scopes namespaced resources.
func (h *ResourceHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.resource.Snapshot(
		r.Context(),
		r.PathValue("cluster"),
		r.PathValue("resource"),
		r.URL.Query().Get("namespace"),
	)
	if err != nil {
		writeError(w, err)
		return
	}

	// Strip noisy metadata before serialising. This is a presentation
	// concern that belongs in the handler layer.
	sanitizeSnapshot(snap)

	writeJSON(w, http.StatusOK, snap)
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

type listSessionsResponse struct {
	Cluster  string             `json:"cluster"`
	Sessions []core.SessionInfo `json:"sessions"`
}

// ListSessions returns the upstream watch sessions of a cluster. A
// configured cluster without any watch yet has an empty table.
func (h *ResourceHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	cluster := r.PathValue("cluster")

	if !h.hub.HasCluster(cluster) {
		writeError(w, &core.ErrClusterNotFound{Cluster: cluster})
		return
	}

	sessions := []core.SessionInfo{}
	if registry, ok := h.hub.Lookup(cluster); ok {
		sessions = registry.Sessions()
	}

	writeJSON(w, http.StatusOK, listSessionsResponse{Cluster: cluster, Sessions: sessions})
}
