package client

import (
	"strconv"
	"sync"

	"github.com/otterscale/watchbridge/internal/core"
)

// Status is the connectivity state of a Cache as shown to a user.
type Status string

const (
	// StatusLoading means a snapshot is being fetched; live events are
	// held back until it is installed.
	StatusLoading Status = "loading"
	// StatusReady means the collection reflects the live feed.
	StatusReady Status = "ready"
	// StatusReconnecting means the feed reported a problem. The
	// collection keeps its last known contents.
	StatusReconnecting Status = "reconnecting"
)

// Key names one watched collection on the bridge, spelled the way the
// caller asked for it.
type Key struct {
	Resource  string
	Namespace string
}

func (k Key) String() string {
	if k.Namespace == "" {
		return k.Resource
	}
	return k.Namespace + "/" + k.Resource
}

// Cache reconciles a snapshot with the live event feed of one Key.
// All methods are safe for concurrent use.
type Cache struct {
	key Key

	mu         sync.Mutex
	status     Status
	lastErr    string
	generation uint64
	coll       *Collection
	version    string
	deferred   []core.WatchEvent

	changed chan struct{}
}

func newCache(key Key) *Cache {
	return &Cache{
		key:     key,
		status:  StatusLoading,
		coll:    NewCollection(),
		changed: make(chan struct{}, 1),
	}
}

// Key returns the collection key.
func (c *Cache) Key() Key {
	return c.key
}

// Changed is signalled after every change of contents or status.
func (c *Cache) Changed() <-chan struct{} {
	return c.changed
}

// Status returns the connectivity state and the last reported error.
func (c *Cache) Status() (Status, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.lastErr
}

// ResourceVersion returns the version of the installed snapshot.
func (c *Cache) ResourceVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Snapshot returns a copy of the current collection.
func (c *Cache) Snapshot() *Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coll.Clone()
}

// BeginLoad starts a new snapshot load and returns its generation.
// Events applied until the matching Install are deferred. Starting a
// load supersedes any load still in flight.
func (c *Cache) BeginLoad() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.status = StatusLoading
	c.deferred = c.deferred[:0]
	c.notify()
	return c.generation
}

// current reports whether generation is the latest load.
func (c *Cache) current(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == generation && c.status == StatusLoading
}

// Install replaces the contents with snap and replays the deferred
// events in arrival order. A superseded generation is ignored. It
// reports whether a replayed event asked for another load.
func (c *Cache) Install(generation uint64, snap *core.Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation || c.status != StatusLoading {
		return false
	}

	c.coll.Reset(snap.Items)
	c.version = snap.ResourceVersion
	c.status = StatusReady
	c.lastErr = ""

	deferred := c.deferred
	c.deferred = nil

	resync := false
	for _, event := range deferred {
		if c.applyLocked(event) {
			resync = true
		}
	}
	c.notify()
	return resync
}

// Apply folds a live event. While a load is in flight the event is
// deferred. It reports whether the event asks for a fresh snapshot,
// which is the case for an expired cursor.
func (c *Cache) Apply(event core.WatchEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusLoading {
		c.deferred = append(c.deferred, event)
		return false
	}

	resync := c.applyLocked(event)
	c.notify()
	return resync
}

// Fail records a feed problem without touching the contents.
func (c *Cache) Fail(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastErr = message
	if c.status != StatusLoading {
		c.status = StatusReconnecting
	}
	c.notify()
}

func (c *Cache) applyLocked(event core.WatchEvent) bool {
	switch event.Type {
	case core.WatchEventError:
		if event.Expired() {
			return true
		}
		_, _, message, _ := event.Status()
		c.status = StatusReconnecting
		c.lastErr = message
		return false

	case core.WatchEventBookmark:
		return false
	}

	// Events queued during a load may predate the snapshot.
	if olderOrEqual(event.ResourceVersion(), c.version) {
		return false
	}

	c.coll.Apply(event)
	c.status = StatusReady
	c.lastErr = ""
	return false
}

func (c *Cache) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// olderOrEqual reports whether rv is known not to be newer than base.
// Non-numeric versions are never considered stale.
func olderOrEqual(rv, base string) bool {
	a, err1 := strconv.ParseUint(rv, 10, 64)
	b, err2 := strconv.ParseUint(base, 10, 64)
	if err1 != nil || err2 != nil {
		return false
	}
	return a <= b
}
