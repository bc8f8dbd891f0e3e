package core

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
)

// ---------------------------------------------------------------------------
// Keys and states
// ---------------------------------------------------------------------------

// SessionKey identifies one upstream watch. Resource is the canonical
// plural; Namespace is empty for cluster-scoped kinds and for
// all-namespaces watches.
type SessionKey struct {
	Cluster   string
	Resource  string
	Namespace string
}

func (k SessionKey) String() string {
	if k.Namespace == "" {
		return k.Cluster + "/" + k.Resource
	}
	return k.Cluster + "/" + k.Namespace + "/" + k.Resource
}

// SessionState is the connection state of a session.
type SessionState int32

const (
	SessionIdle SessionState = iota
	SessionConnecting
	SessionStreaming
	SessionBackoffWait
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionConnecting:
		return "connecting"
	case SessionStreaming:
		return "streaming"
	case SessionBackoffWait:
		return "backoff-wait"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// BackoffPolicy bounds the delay between reconnect attempts. The delay
// starts at Base, doubles after every failed attempt and never exceeds
// Max.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoffPolicy is 1s doubling up to 30s.
var DefaultBackoffPolicy = BackoffPolicy{Base: time.Second, Max: 30 * time.Second}

func (p BackoffPolicy) normalize() BackoffPolicy {
	if p.Base <= 0 {
		p.Base = DefaultBackoffPolicy.Base
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	return p
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	Key       SessionKey    `json:"key"`
	Path      string        `json:"path"`
	State     string        `json:"state"`
	Cursor    string        `json:"cursor,omitempty"`
	Backoff   time.Duration `json:"backoff"`
	Listeners int           `json:"listeners"`
	Connects  int           `json:"connects"`
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

// sessionSeq hands out session identities. Zero is never used.
var sessionSeq atomic.Uint64

// session owns the single upstream watch for one key. All fields below
// mu are shared between the run goroutine and the registry; the
// listener set is only mutated by the registry.
type session struct {
	id       uint64
	key      SessionKey
	path     string
	streamer WatchStreamer
	log      *slog.Logger

	// wake is poked when a listener arrives during backoff-wait so the
	// pending reconnect happens immediately.
	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	listeners map[uuid.UUID]*Listener
	cursor    string
	state     SessionState
	backoff   *backoff.Backoff
	connects  int
}

func newSession(key SessionKey, path string, streamer WatchStreamer, policy BackoffPolicy) *session {
	policy = policy.normalize()
	return &session{
		id:       sessionSeq.Add(1),
		key:      key,
		path:     path,
		streamer: streamer,
		log: slog.Default().With(
			"component", "watch-session",
			"cluster", key.Cluster,
			"resource", key.Resource,
			"namespace", key.Namespace,
		),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		listeners: make(map[uuid.UUID]*Listener),
		state:     SessionIdle,
		backoff: &backoff.Backoff{
			Min:    policy.Base,
			Max:    policy.Max,
			Factor: 2,
		},
	}
}

// start launches the run loop. The session leaves idle immediately.
func (s *session) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	metrics.sessionOpened(s.key)
	go s.run(ctx)
}

// wait blocks until the run loop has exited. Callers cancel the
// session first; cancellation aborts any in-flight connection or
// pending timer.
func (s *session) wait() {
	<-s.done
}

// addListener registers l. It reports false if l was already present.
func (s *session) addListener(l *Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listeners[l.ID()]; ok {
		return false
	}
	s.listeners[l.ID()] = l

	if s.state == SessionBackoffWait {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return true
}

// removeListener unregisters l and returns how many listeners remain.
func (s *session) removeListener(l *Listener) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.listeners, l.ID())
	return len(s.listeners)
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionInfo{
		Key:       s.key,
		Path:      s.path,
		State:     s.state.String(),
		Cursor:    s.cursor,
		Backoff:   s.backoff.ForAttempt(s.backoff.Attempt()),
		Listeners: len(s.listeners),
		Connects:  s.connects,
	}
}

func (s *session) run(ctx context.Context) {
	defer close(s.done)
	defer metrics.sessionClosed(s.key)
	defer s.setState(SessionClosed)

	for {
		cursor := s.beginConnect()

		w, err := s.streamer.Stream(ctx, s.key.Cluster, s.path, cursor)
		if ctx.Err() != nil {
			if w != nil {
				w.Stop()
			}
			return
		}

		var expired bool
		if err != nil {
			expired = IsExpiredCursor(err)
			s.fail(err, expired)
		} else {
			expired = s.consume(ctx, w)
			if ctx.Err() != nil {
				return
			}
		}

		metrics.reconnect(s.key, expired)

		if !s.waitBackoff(ctx) {
			return
		}
	}
}

func (s *session) beginConnect() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = SessionConnecting
	s.connects++
	return s.cursor
}

// consume reads w until it ends. It reports whether the stream ended
// because the cursor expired.
func (s *session) consume(ctx context.Context, w Watcher) bool {
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return false

		case event, ok := <-w.ResultChan():
			if !ok {
				if err := w.Err(); err != nil {
					expired := IsExpiredCursor(err)
					s.fail(err, expired)
					return expired
				}
				s.log.Debug("watch stream closed by upstream")
				return false
			}

			if event.Type == WatchEventError {
				expired := event.Expired()
				if expired {
					s.clearCursor()
				}
				code, reason, message, _ := event.Status()
				s.log.Warn("watch stream returned error status",
					"code", code,
					"reason", reason,
					"message", message,
				)
				s.broadcast(Notification{Key: s.key, Event: &event})
				return expired
			}

			s.markStreaming(event.ResourceVersion())
			s.broadcast(Notification{Key: s.key, Event: &event})
		}
	}
}

// markStreaming records a healthy event: the first one after a connect
// moves the session to streaming and forgives earlier failures.
func (s *session) markStreaming(rv string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionStreaming {
		s.state = SessionStreaming
		s.backoff.Reset()
	}
	if rv != "" && newerResourceVersion(rv, s.cursor) {
		s.cursor = rv
	}
}

func (s *session) clearCursor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = ""
}

// fail reports a failed connect or a broken stream to every listener.
// An expired cursor is reported in the same in-band shape the API
// server uses so consumers handle both paths alike.
func (s *session) fail(err error, expired bool) {
	if expired {
		s.clearCursor()
		s.log.Info("watch cursor expired, restarting from current state", "error", err)
		event := NewStatusEvent(410, "Expired", err.Error())
		s.broadcast(Notification{Key: s.key, Event: &event})
		return
	}

	s.log.Warn("watch stream failed", "error", err)
	s.broadcast(Notification{Key: s.key, Err: fmt.Errorf("watch %s: %w", s.key, err)})
}

// waitBackoff sleeps for the current backoff delay, then doubles it.
// It returns false if the session was closed while waiting.
func (s *session) waitBackoff(ctx context.Context) bool {
	s.mu.Lock()
	select {
	case <-s.wake:
	default:
	}
	s.state = SessionBackoffWait
	d := s.backoff.Duration()
	s.mu.Unlock()

	s.log.Debug("scheduling reconnect", "delay", d)

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	case <-s.wake:
		s.log.Debug("new listener during backoff, reconnecting now")
		return true
	}
}

func (s *session) broadcast(n Notification) {
	n.Session = s.id

	s.mu.Lock()
	targets := make([]*Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		targets = append(targets, l)
	}
	s.mu.Unlock()

	for _, l := range targets {
		if l.deliver(n) {
			metrics.deliveredEvents.Add(context.Background(), 1)
		}
	}
}

func (s *session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// newerResourceVersion reports whether candidate should replace
// current. Resource versions are opaque, but the API server issues
// them as increasing integers; when both parse the comparison is
// numeric, otherwise the candidate wins.
func newerResourceVersion(candidate, current string) bool {
	if current == "" {
		return true
	}
	c, err1 := strconv.ParseUint(candidate, 10, 64)
	p, err2 := strconv.ParseUint(current, 10, 64)
	if err1 != nil || err2 != nil {
		return candidate != current
	}
	return c > p
}
