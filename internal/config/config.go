package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config wraps a viper instance with typed getters.
type Config struct {
	v *viper.Viper
}

// New loads defaults, the optional config file and the environment.
// Flags are bound later by BindFlags.
func New() (*Config, error) {
	v := viper.New()

	// default values
	for _, o := range ServerOptions {
		v.SetDefault(o.Key, o.Default)
	}

	for _, o := range ClientOptions {
		v.SetDefault(o.Key, o.Default)
	}

	// load config from file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/watchbridge/")

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &notFoundErr) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// load config from environment variables
	v.SetEnvPrefix("WATCHBRIDGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Config{v: v}, nil
}

// BindFlags registers options on fs and binds each flag to its key.
func (c *Config) BindFlags(fs *pflag.FlagSet, options []Option) error {
	for _, o := range options {
		switch v := o.Default.(type) {
		case string:
			fs.String(o.Flag, v, o.Description)
		case int:
			fs.Int(o.Flag, v, o.Description)
		case bool:
			fs.Bool(o.Flag, v, o.Description)
		case []string:
			fs.StringSlice(o.Flag, v, o.Description)
		case time.Duration:
			fs.Duration(o.Flag, v, o.Description)
		default:
			return fmt.Errorf("unsupported flag type for key: %s", o.Key)
		}

		if err := c.v.BindPFlag(o.Key, fs.Lookup(o.Flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", o.Flag, err)
		}
	}

	return nil
}

func (c *Config) ServerAddress() string {
	return c.v.GetString(keyServerAddress) // WATCHBRIDGE_SERVER_ADDRESS
}

func (c *Config) ServerAllowedOrigins() []string {
	return c.v.GetStringSlice(keyServerAllowedOrigins) // WATCHBRIDGE_SERVER_ALLOWED_ORIGINS
}

func (c *Config) ServerKubeconfig() string {
	return c.v.GetString(keyServerKubeconfig) // WATCHBRIDGE_SERVER_KUBECONFIG
}

func (c *Config) ServerResourceTable() string {
	return c.v.GetString(keyServerResourceTable) // WATCHBRIDGE_SERVER_RESOURCE_TABLE
}

func (c *Config) ServerOIDCIssuerURL() string {
	return c.v.GetString(keyServerOIDCIssuerURL) // WATCHBRIDGE_SERVER_OIDC_ISSUER_URL
}

func (c *Config) ServerOIDCClientID() string {
	return c.v.GetString(keyServerOIDCClientID) // WATCHBRIDGE_SERVER_OIDC_CLIENT_ID
}

func (c *Config) ServerDebug() bool {
	return c.v.GetBool(keyServerDebug) // WATCHBRIDGE_SERVER_DEBUG
}

func (c *Config) WatchBackoffBase() time.Duration {
	return c.v.GetDuration(keyWatchBackoffBase) // WATCHBRIDGE_WATCH_BACKOFF_BASE
}

func (c *Config) WatchBackoffMax() time.Duration {
	return c.v.GetDuration(keyWatchBackoffMax) // WATCHBRIDGE_WATCH_BACKOFF_MAX
}

func (c *Config) WatchListenerBuffer() int {
	return c.v.GetInt(keyWatchListenerBuffer) // WATCHBRIDGE_WATCH_LISTENER_BUFFER
}

func (c *Config) BridgeHeartbeatInterval() time.Duration {
	return c.v.GetDuration(keyBridgeHeartbeatInterval) // WATCHBRIDGE_BRIDGE_HEARTBEAT_INTERVAL
}

func (c *Config) BridgeWriteTimeout() time.Duration {
	return c.v.GetDuration(keyBridgeWriteTimeout) // WATCHBRIDGE_BRIDGE_WRITE_TIMEOUT
}

func (c *Config) HealthInterval() time.Duration {
	return c.v.GetDuration(keyHealthInterval) // WATCHBRIDGE_HEALTH_INTERVAL
}

func (c *Config) HealthFailThreshold() int {
	return c.v.GetInt(keyHealthFailThreshold) // WATCHBRIDGE_HEALTH_FAIL_THRESHOLD
}

func (c *Config) CacheVersionTTL() time.Duration {
	return c.v.GetDuration(keyCacheVersionTTL) // WATCHBRIDGE_CACHE_VERSION_TTL
}

func (c *Config) ClientServerURL() string {
	return c.v.GetString(keyClientServerURL) // WATCHBRIDGE_CLIENT_SERVER_URL
}

func (c *Config) ClientCluster() string {
	return c.v.GetString(keyClientCluster) // WATCHBRIDGE_CLIENT_CLUSTER
}

func (c *Config) ClientToken() string {
	return c.v.GetString(keyClientToken) // WATCHBRIDGE_CLIENT_TOKEN
}

func (c *Config) ClientDebug() bool {
	return c.v.GetBool(keyClientDebug) // WATCHBRIDGE_CLIENT_DEBUG
}
