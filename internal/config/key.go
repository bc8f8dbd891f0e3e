// Package config provides unified configuration loading from files,
// environment variables, and CLI flags using viper and pflag.
//
// Resolution order (highest wins):
//  1. CLI flags
//  2. Environment variables (prefix WATCHBRIDGE_)
//  3. Config file (config.yaml in . or /etc/watchbridge/)
//  4. Compiled defaults
package config

// Viper keys for server-mode configuration.
const (
	keyServerAddress        = "server.address"
	keyServerAllowedOrigins = "server.allowed_origins"
	keyServerKubeconfig     = "server.kubeconfig"
	keyServerResourceTable  = "server.resource_table"
	keyServerOIDCIssuerURL  = "server.oidc.issuer_url"
	keyServerOIDCClientID   = "server.oidc.client_id"
	keyServerDebug          = "server.debug"
)

// Viper keys for the watch subsystem, the bridge and the cluster
// health loop. They are registered with the server command.
const (
	keyWatchBackoffBase        = "watch.backoff_base"
	keyWatchBackoffMax         = "watch.backoff_max"
	keyWatchListenerBuffer     = "watch.listener_buffer"
	keyBridgeHeartbeatInterval = "bridge.heartbeat_interval"
	keyBridgeWriteTimeout      = "bridge.write_timeout"
	keyHealthInterval          = "health.interval"
	keyHealthFailThreshold     = "health.fail_threshold"
	keyCacheVersionTTL         = "cache.version_ttl"
)

// Viper keys for client-mode configuration.
const (
	keyClientServerURL = "client.server_url"
	keyClientCluster   = "client.cluster"
	keyClientToken     = "client.token"
	keyClientDebug     = "client.debug"
)
