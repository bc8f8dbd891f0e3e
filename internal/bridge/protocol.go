// Package bridge carries watch notifications to downstream consumers
// over a WebSocket. One connection owns one core.Listener and may
// subscribe it to any number of (resource, namespace) keys of a single
// cluster.
package bridge

import (
	"github.com/otterscale/watchbridge/internal/core"
)

// Action is the verb of an inbound request.
type Action string

const (
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
)

// MessageType is the kind of an outbound message.
type MessageType string

const (
	MessageSubscribed   MessageType = "subscribed"
	MessageUnsubscribed MessageType = "unsubscribed"
	MessageEvent        MessageType = "event"
	MessageError        MessageType = "error"
)

// Request is a message sent by the consumer.
type Request struct {
	Action       Action `json:"action"`
	ResourceType string `json:"resourceType"`
	Namespace    string `json:"namespace,omitempty"`
}

// Message is a message sent to the consumer. ResourceType and
// Namespace echo the names the consumer subscribed with.
type Message struct {
	Type         MessageType      `json:"type"`
	ResourceType string           `json:"resourceType,omitempty"`
	Namespace    string           `json:"namespace,omitempty"`
	Event        *core.WatchEvent `json:"event,omitempty"`
	Error        string           `json:"error,omitempty"`
	// Resync tells the consumer that notifications were dropped and
	// its snapshot must be reloaded. Only set on error messages.
	Resync bool `json:"resync,omitempty"`
}

// subscription is the name pair a consumer used for a key.
type subscription struct {
	resourceType string
	namespace    string
	// session is the upstream session the subscription is attached
	// to; notifications from an earlier session of the key are stale.
	session uint64
}

func errorMessage(sub subscription, text string) Message {
	return Message{
		Type:         MessageError,
		ResourceType: sub.resourceType,
		Namespace:    sub.namespace,
		Error:        text,
	}
}
