package kubernetes

import (
	"context"
	"log/slog"
	"time"

	"github.com/otterscale/watchbridge/internal/config"
	"github.com/otterscale/watchbridge/internal/core"
)

const (
	// defaultHealthInterval is how often every cluster with live
	// watches is checked.
	defaultHealthInterval = 15 * time.Second

	// healthCheckTimeout bounds a single /version request.
	healthCheckTimeout = 5 * time.Second

	// defaultHealthFailThreshold is the number of consecutive check
	// failures after which a cluster is reported unreachable.
	defaultHealthFailThreshold = 3
)

// HealthCheckListener checks every cluster that currently has a watch
// registry and reports clusters that stay unreachable. Sessions of an
// unreachable cluster keep retrying with backoff while they have
// listeners; only registries of clusters that are no longer configured
// are shut down. It is a transport.Listener and runs in the server's
// errgroup.
type HealthCheckListener struct {
	discovery core.DiscoveryClient
	hub       *core.Hub
	interval  time.Duration
	threshold int
	log       *slog.Logger
}

// NewHealthCheckListener returns a listener configured from conf.
func NewHealthCheckListener(conf *config.Config, discovery core.DiscoveryClient, hub *core.Hub) *HealthCheckListener {
	interval := conf.HealthInterval()
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	threshold := conf.HealthFailThreshold()
	if threshold <= 0 {
		threshold = defaultHealthFailThreshold
	}

	return &HealthCheckListener{
		discovery: discovery,
		hub:       hub,
		interval:  interval,
		threshold: threshold,
		log:       slog.Default().With("component", "cluster-health"),
	}
}

// Start runs the health check loop, blocking until ctx is cancelled.
func (h *HealthCheckListener) Start(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	failCounts := make(map[string]int)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.checkClusters(ctx, failCounts)
		}
	}
}

// Stop is a no-op; the health check loop exits when its context is
// cancelled.
func (h *HealthCheckListener) Stop(_ context.Context) error {
	return nil
}

// checkClusters performs a single round of checks. failCounts is
// mutated in place to track consecutive failures per cluster.
func (h *HealthCheckListener) checkClusters(ctx context.Context, failCounts map[string]int) {
	active := h.hub.Active()

	// Forget clusters whose registry is gone.
	live := make(map[string]struct{}, len(active))
	for _, name := range active {
		live[name] = struct{}{}
	}
	for name := range failCounts {
		if _, ok := live[name]; !ok {
			delete(failCounts, name)
		}
	}

	for _, cluster := range active {
		if !h.hub.HasCluster(cluster) {
			h.log.Warn("shutting down watches of removed cluster", "cluster", cluster)
			h.hub.ShutdownCluster(cluster)
			delete(failCounts, cluster)
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		_, err := h.discovery.ServerVersion(checkCtx, cluster)
		cancel()

		if err == nil {
			if failCounts[cluster] >= h.threshold {
				h.log.Info("cluster recovered", "cluster", cluster)
			}
			delete(failCounts, cluster)
			continue
		}

		// Don't count context cancellation as a check failure.
		if ctx.Err() != nil {
			return
		}

		failCounts[cluster]++
		h.log.Debug("health check failed",
			"cluster", cluster,
			"consecutive_failures", failCounts[cluster],
			"error", err,
		)

		if failCounts[cluster] == h.threshold {
			h.log.Warn("cluster unreachable, watch sessions keep retrying",
				"cluster", cluster,
				"consecutive_failures", failCounts[cluster],
				"error", err,
			)
		}
	}
}
