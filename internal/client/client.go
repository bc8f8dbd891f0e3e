package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/otterscale/watchbridge/internal/bridge"
	"github.com/otterscale/watchbridge/internal/config"
	"github.com/otterscale/watchbridge/internal/core"
)

const (
	defaultRetryInitial = 500 * time.Millisecond
	defaultRetryMax     = 30 * time.Second
	snapshotTimeout     = 30 * time.Second
)

// Options configure a Client.
type Options struct {
	// ServerURL is the http(s) base URL of the bridge server.
	ServerURL string
	Cluster   string
	// Token, when set, is sent as a bearer token on every request.
	Token string

	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	RetryInitial time.Duration
	RetryMax     time.Duration
}

// Client keeps a set of Caches in sync with one cluster of a bridge
// server. Run owns the connection and re-dials it with exponential
// backoff; Watch and Unwatch may be called at any time.
type Client struct {
	opts Options
	base *url.URL
	log  *slog.Logger

	subs mapset.Set[Key]

	mu     sync.Mutex
	caches map[Key]*Cache

	// writeMu serializes writes on conn.
	writeMu sync.Mutex
	conn    *websocket.Conn
}

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must use http or https", opts.ServerURL)
	}
	if opts.Cluster == "" {
		return nil, errors.New("cluster is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = defaultRetryInitial
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = defaultRetryMax
	}

	return &Client{
		opts:   opts,
		base:   base,
		log:    slog.Default().With("component", "bridge-client", "cluster", opts.Cluster),
		subs:   mapset.NewSet[Key](),
		caches: make(map[Key]*Cache),
	}, nil
}

// ProvideClient builds a Client from configuration.
func ProvideClient(conf *config.Config) (*Client, error) {
	return New(Options{
		ServerURL: conf.ClientServerURL(),
		Cluster:   conf.ClientCluster(),
		Token:     conf.ClientToken(),
	})
}

// Watch returns the cache of resource in namespace, subscribing to it
// if this is the first call for the key. The cache fills once Run is
// connected.
func (c *Client) Watch(ctx context.Context, resource, namespace string) *Cache {
	key := Key{Resource: resource, Namespace: namespace}

	c.mu.Lock()
	cache, ok := c.caches[key]
	if !ok {
		cache = newCache(key)
		c.caches[key] = cache
	}
	c.mu.Unlock()

	if c.subs.Add(key) {
		c.subscribe(ctx, key, cache)
	}
	return cache
}

// Unwatch drops the cache of resource in namespace and unsubscribes.
func (c *Client) Unwatch(resource, namespace string) {
	key := Key{Resource: resource, Namespace: namespace}

	c.mu.Lock()
	delete(c.caches, key)
	c.mu.Unlock()

	if !c.subs.Contains(key) {
		return
	}
	c.subs.Remove(key)

	if err := c.send(bridge.Request{Action: bridge.ActionUnsubscribe, ResourceType: resource, Namespace: namespace}); err != nil {
		c.log.Debug("unsubscribe not sent", "key", key.String(), "error", err)
	}
}

func (c *Client) cache(key Key) (*Cache, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cache, ok := c.caches[key]
	return cache, ok
}

// Run connects to the bridge and serves it until ctx is cancelled.
// Lost connections are re-dialed with exponential backoff and every
// watched key is subscribed and reloaded again.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryInitial
	b.MaxInterval = c.opts.RetryMax
	b.MaxElapsedTime = 0

	for {
		var conn *websocket.Conn
		err := backoff.RetryNotify(func() error {
			var err error
			conn, err = c.dial(ctx)
			return err
		}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
			c.log.Warn("bridge dial failed, retrying", "delay", d, "error", err)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		b.Reset()

		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn("bridge connection lost", "error", err)
		c.failAll(fmt.Sprintf("connection lost: %v", err))
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/clusters/" + url.PathEscape(c.opts.Cluster) + "/watch"

	conn, resp, err := c.opts.Dialer.DialContext(ctx, u.String(), c.header())
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && permanentStatus(resp.StatusCode) {
			return nil, backoff.Permanent(fmt.Errorf("dial %s: %s", u.Redacted(), resp.Status))
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return conn, nil
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	defer func() {
		c.writeMu.Lock()
		c.conn = nil
		c.writeMu.Unlock()
		_ = conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.log.Info("bridge connected")

	for _, key := range c.subs.ToSlice() {
		if cache, ok := c.cache(key); ok {
			c.subscribe(ctx, key, cache)
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg bridge.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("discarding malformed message", "error", err)
			continue
		}
		c.dispatch(ctx, msg)
	}
}

// subscribe starts a load for key and asks the bridge for its events.
// The load begins first so that events arriving before the snapshot
// are deferred.
func (c *Client) subscribe(ctx context.Context, key Key, cache *Cache) {
	generation := cache.BeginLoad()

	err := c.send(bridge.Request{Action: bridge.ActionSubscribe, ResourceType: key.Resource, Namespace: key.Namespace})
	if err != nil {
		// Run subscribes every key again once connected.
		c.log.Debug("subscribe deferred", "key", key.String(), "error", err)
		return
	}

	go c.load(ctx, key, cache, generation)
}

func (c *Client) dispatch(ctx context.Context, msg bridge.Message) {
	key := Key{Resource: msg.ResourceType, Namespace: msg.Namespace}

	switch msg.Type {
	case bridge.MessageSubscribed, bridge.MessageUnsubscribed:
		c.log.Debug("bridge acknowledged", "type", msg.Type, "key", key.String())
		return
	}

	cache, ok := c.cache(key)
	if !ok {
		if msg.Type == bridge.MessageError {
			c.log.Warn("bridge error", "key", key.String(), "error", msg.Error)
		}
		return
	}

	switch msg.Type {
	case bridge.MessageEvent:
		if msg.Event != nil && cache.Apply(*msg.Event) {
			c.log.Info("watch cursor expired, reloading snapshot", "key", key.String())
			go c.load(ctx, key, cache, cache.BeginLoad())
		}

	case bridge.MessageError:
		if msg.Resync {
			c.log.Info("events were dropped, reloading snapshot", "key", key.String())
			go c.load(ctx, key, cache, cache.BeginLoad())
			return
		}
		cache.Fail(msg.Error)
	}
}

// load fetches snapshots for cache until one is installed without a
// replayed event asking for another, or the load is superseded.
func (c *Client) load(ctx context.Context, key Key, cache *Cache, generation uint64) {
	for {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = c.opts.RetryInitial
		b.MaxInterval = c.opts.RetryMax
		b.MaxElapsedTime = 0

		var snap *core.Snapshot
		err := backoff.RetryNotify(func() error {
			if !cache.current(generation) {
				return backoff.Permanent(errSuperseded)
			}
			var err error
			snap, err = c.Snapshot(ctx, key.Resource, key.Namespace)
			return err
		}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
			c.log.Warn("snapshot failed, retrying", "key", key.String(), "delay", d, "error", err)
			cache.Fail(err.Error())
		})
		if err != nil {
			if !errors.Is(err, errSuperseded) && ctx.Err() == nil {
				c.log.Error("snapshot failed", "key", key.String(), "error", err)
				cache.Fail(err.Error())
			}
			return
		}

		if !cache.Install(generation, snap) {
			return
		}
		generation = cache.BeginLoad()
	}
}

var errSuperseded = errors.New("load superseded")

// Snapshot fetches the current list of resource in namespace.
func (c *Client) Snapshot(ctx context.Context, resource, namespace string) (*core.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/clusters/" + url.PathEscape(c.opts.Cluster) +
		"/resources/" + url.PathEscape(resource)
	if namespace != "" {
		u.RawQuery = url.Values{"namespace": []string{namespace}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header = c.header()
	req.Header.Set("Accept", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("get snapshot: %s: %s", resp.Status, strings.TrimSpace(string(body)))
		if permanentStatus(resp.StatusCode) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var snap core.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (c *Client) send(req bridge.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return errors.New("not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) failAll(message string) {
	c.mu.Lock()
	caches := make([]*Cache, 0, len(c.caches))
	for _, cache := range c.caches {
		caches = append(caches, cache)
	}
	c.mu.Unlock()

	for _, cache := range caches {
		cache.Fail(message)
	}
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.opts.Token != "" {
		h.Set("Authorization", "Bearer "+c.opts.Token)
	}
	return h
}

// permanentStatus reports whether retrying a request that failed with
// code cannot help.
func permanentStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	default:
		return false
	}
}
