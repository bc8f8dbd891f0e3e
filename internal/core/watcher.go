package core

import (
	"context"
	"strconv"
)

// WatchEventType represents the type of a resource watch event.
// This is a domain-level type that decouples the core layer from
// k8s.io/apimachinery/pkg/watch.EventType.
type WatchEventType string

const (
	WatchEventAdded    WatchEventType = "ADDED"
	WatchEventModified WatchEventType = "MODIFIED"
	WatchEventDeleted  WatchEventType = "DELETED"
	WatchEventBookmark WatchEventType = "BOOKMARK"
	WatchEventError    WatchEventType = "ERROR"
)

// Valid reports whether t is one of the event types the upstream watch
// protocol defines.
func (t WatchEventType) Valid() bool {
	switch t {
	case WatchEventAdded, WatchEventModified, WatchEventDeleted, WatchEventBookmark, WatchEventError:
		return true
	default:
		return false
	}
}

// WatchEvent represents a single event from a resource watch stream.
// Object carries the raw Kubernetes resource as a generic map so that
// the domain layer does not depend on unstructured.Unstructured. For
// ERROR events Object holds a metav1.Status in map form.
type WatchEvent struct {
	Type   WatchEventType `json:"type"`
	Object map[string]any `json:"object,omitempty"`
}

// UID returns metadata.uid of the event object, or "" when absent.
func (e *WatchEvent) UID() string {
	return metadataString(e.Object, "uid")
}

// ResourceVersion returns metadata.resourceVersion of the event
// object, or "" when absent.
func (e *WatchEvent) ResourceVersion() string {
	return metadataString(e.Object, "resourceVersion")
}

// Status extracts code, reason and message from an ERROR event. ok is
// false for any other event type.
func (e *WatchEvent) Status() (code int, reason, message string, ok bool) {
	if e.Type != WatchEventError || e.Object == nil {
		return 0, "", "", false
	}
	switch v := e.Object["code"].(type) {
	case float64:
		code = int(v)
	case int64:
		code = int(v)
	case int:
		code = v
	case string:
		code, _ = strconv.Atoi(v)
	}
	reason, _ = e.Object["reason"].(string)
	message, _ = e.Object["message"].(string)
	return code, reason, message, true
}

// Expired reports whether the event is the upstream signal that the
// requested resourceVersion is no longer retained (HTTP 410 Gone or
// reason Expired).
func (e *WatchEvent) Expired() bool {
	code, reason, _, ok := e.Status()
	if !ok {
		return false
	}
	return code == 410 || reason == "Expired" || reason == "Gone"
}

// NewStatusEvent builds an ERROR event carrying a Status object, the
// same shape the API server sends in-band.
func NewStatusEvent(code int, reason, message string) WatchEvent {
	return WatchEvent{
		Type: WatchEventError,
		Object: map[string]any{
			"kind":       "Status",
			"apiVersion": "v1",
			"status":     "Failure",
			"code":       float64(code),
			"reason":     reason,
			"message":    message,
		},
	}
}

func metadataString(obj map[string]any, field string) string {
	if obj == nil {
		return ""
	}
	md, ok := obj["metadata"].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := md[field].(string)
	return s
}

// Watcher provides a channel of WatchEvents and a way to stop the
// underlying watch. This replaces the direct use of
// k8s.io/apimachinery/pkg/watch.Interface in the domain layer,
// keeping the core package free of client-go dependencies for watch
// operations.
type Watcher interface {
	// ResultChan returns a channel that receives watch events.
	// The channel is closed when the watch ends or Stop is called.
	ResultChan() <-chan WatchEvent
	// Err returns the error that terminated the stream, or nil if it
	// ended normally or was stopped. Only meaningful after ResultChan
	// is closed.
	Err() error
	// Stop terminates the watch and closes the result channel.
	Stop()
}

// WatchStreamer opens one physical watch connection against a cluster.
// The request is a streaming GET on path with watch=true, carrying
// resourceVersion when non-empty. Implementations live in the
// providers layer.
type WatchStreamer interface {
	Stream(ctx context.Context, cluster, path, resourceVersion string) (Watcher, error)
}
