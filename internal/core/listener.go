package core

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultListenerBuffer is the outbound channel capacity used when a
// caller passes a non-positive buffer size.
const DefaultListenerBuffer = 256

// Notification is what a session hands to each of its listeners.
// Exactly one of Event and Err is set.
type Notification struct {
	Key SessionKey
	// Event is an upstream watch event, including in-band ERROR
	// events such as an expired resourceVersion.
	Event *WatchEvent
	// Err reports a transport failure (connect error, stream reset).
	// The session keeps retrying.
	Err error
	// Resync is set on the first notification for Key after one or
	// more notifications for Key were dropped because the listener
	// was full. The consumer must re-fetch its snapshot.
	Resync bool
	// Session identifies the session instance that produced the
	// notification. A key that is torn down and subscribed again is
	// served by a new session with a new identity.
	Session uint64
}

// Listener is a stable handle through which a session delivers
// notifications. One Listener is owned by exactly one consumer
// (typically one bridge connection) and may be subscribed to many
// session keys; all of them share its channel. Delivery never blocks:
// when the buffer is full the notification is dropped and the next
// one for the same key is flagged Resync.
type Listener struct {
	id  uuid.UUID
	ch  chan Notification
	log *slog.Logger

	mu      sync.Mutex
	closed  bool
	gaps    map[SessionKey]uint64
	dropped uint64
}

// NewListener returns a Listener with the given channel capacity.
func NewListener(buffer int) *Listener {
	if buffer <= 0 {
		buffer = DefaultListenerBuffer
	}
	id := uuid.New()
	return &Listener{
		id:   id,
		ch:   make(chan Notification, buffer),
		log:  slog.Default().With("component", "listener", "listener", id.String()),
		gaps: make(map[SessionKey]uint64),
	}
}

// ID returns the listener's stable identity.
func (l *Listener) ID() uuid.UUID {
	return l.id
}

// C returns the receive side of the listener's channel. It is closed
// by Close.
func (l *Listener) C() <-chan Notification {
	return l.ch
}

// Dropped returns how many notifications were dropped so far.
func (l *Listener) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close closes the channel. Deliveries after Close are ignored. It is
// safe to call Close multiple times.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		l.closed = true
		close(l.ch)
	}
}

// deliver performs a non-blocking send. It reports whether the
// notification was enqueued.
func (l *Listener) deliver(n Notification) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}

	// A gap only concerns the session it happened in.
	gap, hasGap := l.gaps[n.Key]
	if hasGap && gap == n.Session {
		n.Resync = true
	}

	select {
	case l.ch <- n:
		if hasGap && gap <= n.Session {
			delete(l.gaps, n.Key)
		}
		return true
	default:
		l.gaps[n.Key] = n.Session
		l.dropped++
		l.log.Warn("listener buffer full, dropping notification",
			"cluster", n.Key.Cluster,
			"resource", n.Key.Resource,
			"namespace", n.Key.Namespace,
			"dropped_total", l.dropped,
		)
		metrics.droppedEvents.Add(context.Background(), 1)
		return false
	}
}
