package config

import (
	"strings"
	"time"
)

// Option describes a single configuration entry: its viper key, the
// corresponding CLI flag name, the compiled default, and a
// human-readable description shown in --help output.
type Option struct {
	Key         string
	Flag        string
	Default     any
	Description string
}

// ServerOptions defines the configuration entries available in server
// mode. Each entry is registered as a viper default and a CLI flag.
var ServerOptions = []Option{
	{Key: keyServerAddress, Flag: toFlag(keyServerAddress), Default: ":8299", Description: "Server listen address"},
	{Key: keyServerAllowedOrigins, Flag: toFlag(keyServerAllowedOrigins), Default: []string{}, Description: "Server allowed origins"},
	{Key: keyServerKubeconfig, Flag: toFlag(keyServerKubeconfig), Default: "", Description: "Kubeconfig whose contexts are served as clusters (default: client-go loading rules)"},
	{Key: keyServerResourceTable, Flag: toFlag(keyServerResourceTable), Default: "", Description: "YAML file replacing the built-in resource table"},
	{Key: keyServerOIDCIssuerURL, Flag: toFlag(keyServerOIDCIssuerURL), Default: "", Description: "OIDC issuer url (empty disables authentication)"},
	{Key: keyServerOIDCClientID, Flag: toFlag(keyServerOIDCClientID), Default: "watchbridge", Description: "OIDC client id"},
	{Key: keyServerDebug, Flag: toFlag(keyServerDebug), Default: false, Description: "Server debug logging"},
	{Key: keyWatchBackoffBase, Flag: toFlag(keyWatchBackoffBase), Default: time.Second, Description: "Initial reconnect delay of a watch session"},
	{Key: keyWatchBackoffMax, Flag: toFlag(keyWatchBackoffMax), Default: 30 * time.Second, Description: "Maximum reconnect delay of a watch session"},
	{Key: keyWatchListenerBuffer, Flag: toFlag(keyWatchListenerBuffer), Default: 256, Description: "Per-connection notification buffer"},
	{Key: keyBridgeHeartbeatInterval, Flag: toFlag(keyBridgeHeartbeatInterval), Default: 20 * time.Second, Description: "Bridge websocket ping interval"},
	{Key: keyBridgeWriteTimeout, Flag: toFlag(keyBridgeWriteTimeout), Default: 10 * time.Second, Description: "Bridge websocket write timeout"},
	{Key: keyHealthInterval, Flag: toFlag(keyHealthInterval), Default: 15 * time.Second, Description: "Cluster health check interval"},
	{Key: keyHealthFailThreshold, Flag: toFlag(keyHealthFailThreshold), Default: 3, Description: "Consecutive health check failures before a cluster is reported unreachable"},
	{Key: keyCacheVersionTTL, Flag: toFlag(keyCacheVersionTTL), Default: 10 * time.Minute, Description: "How long a cluster's server version is cached"},
}

// ClientOptions defines the configuration entries available to the
// watch client.
var ClientOptions = []Option{
	{Key: keyClientServerURL, Flag: toFlag(keyClientServerURL), Default: "http://127.0.0.1:8299", Description: "Bridge server url"},
	{Key: keyClientCluster, Flag: toFlag(keyClientCluster), Default: "default", Description: "Cluster to watch"},
	{Key: keyClientToken, Flag: toFlag(keyClientToken), Default: "", Description: "Bearer token sent to the bridge server"},
	{Key: keyClientDebug, Flag: toFlag(keyClientDebug), Default: false, Description: "Client debug logging"},
}

// toFlag converts a viper key like "server.oidc.issuer_url" into a
// CLI flag like "oidc-issuer-url" by lower-casing, replacing dots and
// underscores with hyphens, and stripping the "server-" or "client-"
// prefix.
func toFlag(key string) string {
	flag := strings.ToLower(key)
	flag = strings.ReplaceAll(flag, ".", "-")
	flag = strings.ReplaceAll(flag, "_", "-")
	flag = strings.TrimPrefix(flag, "server-")
	flag = strings.TrimPrefix(flag, "client-")
	return flag
}
