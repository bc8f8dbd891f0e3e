// Package client consumes the watch bridge: it loads list snapshots,
// subscribes to live events and folds both into per-key collections.
package client

import (
	"slices"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/otterscale/watchbridge/internal/core"
)

// Collection holds objects keyed by identity in first-insertion order.
// It is not safe for concurrent use; Cache serializes access.
type Collection struct {
	order []string
	items map[string]map[string]any
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{items: make(map[string]map[string]any)}
}

// Reset replaces the contents with items, keeping their order. Items
// without an identity are skipped; a repeated identity keeps its first
// position and its last value.
func (c *Collection) Reset(items []map[string]any) {
	c.order = c.order[:0]
	clear(c.items)
	for _, obj := range items {
		c.upsert(obj)
	}
}

// Apply folds one event into the collection and reports whether the
// contents changed. ADDED and MODIFIED both upsert, so a duplicate
// ADDED or a MODIFIED for an unseen object is tolerated. DELETED of an
// absent object is a no-op. BOOKMARK and ERROR never mutate.
func (c *Collection) Apply(event core.WatchEvent) bool {
	switch event.Type {
	case core.WatchEventAdded, core.WatchEventModified:
		return c.upsert(event.Object)
	case core.WatchEventDeleted:
		return c.remove(event.Object)
	default:
		return false
	}
}

// Get returns the object stored under id.
func (c *Collection) Get(id string) (map[string]any, bool) {
	obj, ok := c.items[id]
	return obj, ok
}

// Len returns the number of objects.
func (c *Collection) Len() int {
	return len(c.order)
}

// Items returns the objects in insertion order. The slice is a copy;
// the objects are shared.
func (c *Collection) Items() []map[string]any {
	out := make([]map[string]any, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// Clone returns an independent collection with the same contents.
func (c *Collection) Clone() *Collection {
	out := &Collection{
		order: slices.Clone(c.order),
		items: make(map[string]map[string]any, len(c.items)),
	}
	for id, obj := range c.items {
		out.items[id] = obj
	}
	return out
}

func (c *Collection) upsert(obj map[string]any) bool {
	id := identity(obj)
	if id == "" {
		return false
	}
	if _, ok := c.items[id]; !ok {
		c.order = append(c.order, id)
	}
	c.items[id] = obj
	return true
}

func (c *Collection) remove(obj map[string]any) bool {
	id := identity(obj)
	if _, ok := c.items[id]; !ok {
		return false
	}
	delete(c.items, id)
	c.order = slices.DeleteFunc(c.order, func(s string) bool { return s == id })
	return true
}

// identity is metadata.uid, falling back to namespace/name for objects
// that carry no uid.
func identity(obj map[string]any) string {
	if obj == nil {
		return ""
	}
	u := unstructured.Unstructured{Object: obj}
	if uid := string(u.GetUID()); uid != "" {
		return uid
	}
	name := u.GetName()
	if name == "" {
		return ""
	}
	if ns := u.GetNamespace(); ns != "" {
		return ns + "/" + name
	}
	return name
}
