package core

import (
	"context"

	"github.com/Masterminds/semver/v3"
	"k8s.io/apimachinery/pkg/version"
)

// DiscoveryClient reads cluster metadata from the API server.
type DiscoveryClient interface {
	ServerVersion(ctx context.Context, cluster string) (*version.Info, error)
}

// VersionResolver returns a cluster's server version, possibly from a
// cache. It is what the watch streamer consults before opening a
// stream.
type VersionResolver interface {
	ServerVersion(ctx context.Context, cluster string) (*version.Info, error)
}

// watchBookmarksVersion is the first release where allowWatchBookmarks
// is on by default.
// https://kubernetes.io/docs/reference/using-api/api-concepts/#watch-bookmarks
var watchBookmarksVersion = semver.MustParse("v1.17.0")

// SupportsWatchBookmarks reports whether a server of the given version
// honours allowWatchBookmarks. Unparseable versions are treated as
// unsupported.
func SupportsWatchBookmarks(info *version.Info) bool {
	if info == nil {
		return false
	}
	v, err := semver.NewVersion(info.GitVersion)
	if err != nil {
		return false
	}
	// Pre-release tags such as v1.30.0-eks-1 sort below v1.30.0, so
	// compare on the release triple only.
	release, err := v.SetPrerelease("")
	if err != nil {
		return false
	}
	return release.GreaterThanEqual(watchBookmarksVersion)
}
