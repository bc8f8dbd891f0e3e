package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/otterscale/watchbridge/internal/core"
)

// maxMessageSize bounds inbound requests; they are tiny JSON objects.
const maxMessageSize = 64 * 1024

// Handler serves one consumer connection. Reads happen on the Serve
// goroutine; a second goroutine forwards listener notifications and
// sends heartbeats. Data frames from both are serialized by mu, which
// also guards the subscription map, so a subscribed reply is always
// written before the first event of its key.
type Handler struct {
	id       uuid.UUID
	conn     *websocket.Conn
	registry *core.Registry
	listener *core.Listener
	opts     Options
	log      *slog.Logger

	mu   sync.Mutex
	subs map[core.SessionKey]subscription
}

func newHandler(conn *websocket.Conn, registry *core.Registry, opts Options) *Handler {
	id := uuid.New()
	return &Handler{
		id:       id,
		conn:     conn,
		registry: registry,
		listener: core.NewListener(opts.ListenerBuffer),
		opts:     opts,
		log: slog.Default().With(
			"component", "bridge",
			"connection", id.String(),
			"cluster", registry.Cluster(),
		),
		subs: make(map[core.SessionKey]subscription),
	}
}

// Serve runs until the consumer disconnects, the heartbeat times out,
// the cluster registry shuts down, or ctx is cancelled. Every key
// subscribed through this connection is unsubscribed before Serve
// returns.
func (h *Handler) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer h.cleanup()
	defer cancel()

	h.log.Info("connection opened")

	h.conn.SetReadLimit(maxMessageSize)
	h.extendReadDeadline()
	h.conn.SetPongHandler(func(string) error {
		h.extendReadDeadline()
		return nil
	})

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		h.pump(ctx)
	}()

	// Closing the socket is the only way to unblock ReadMessage.
	go func() {
		<-ctx.Done()
		_ = h.conn.Close()
	}()

	h.readLoop()
	cancel()
	<-pumpDone
}

func (h *Handler) extendReadDeadline() {
	_ = h.conn.SetReadDeadline(time.Now().Add(2 * h.opts.HeartbeatInterval))
}

func (h *Handler) readLoop() {
	for {
		_, data, err := h.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("connection read failed", "error", err)
			}
			return
		}
		h.extendReadDeadline()
		h.handle(data)
	}
}

func (h *Handler) handle(data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		h.reply(Message{Type: MessageError, Error: fmt.Sprintf("malformed message: %v", err)})
		return
	}

	switch req.Action {
	case ActionSubscribe, ActionUnsubscribe:
	default:
		h.reply(Message{Type: MessageError, Error: fmt.Sprintf("unknown action %q", req.Action)})
		return
	}

	if req.ResourceType == "" {
		h.reply(Message{Type: MessageError, Error: "resourceType is required"})
		return
	}

	if req.Action == ActionSubscribe {
		h.subscribe(req)
	} else {
		h.unsubscribe(req)
	}
}

func (h *Handler) subscribe(req Request) {
	sub := subscription{resourceType: req.ResourceType, namespace: req.Namespace}

	h.mu.Lock()
	defer h.mu.Unlock()

	key, session, err := h.registry.SubscribeSession(req.ResourceType, req.Namespace, h.listener)
	if err != nil {
		h.log.Debug("subscribe rejected", "resource", req.ResourceType, "namespace", req.Namespace, "error", err)
		if !h.writeLocked(errorMessage(sub, err.Error())) {
			return
		}
		if errors.Is(err, core.ErrRegistryClosed) {
			// The consumer re-dials and reaches the cluster's next
			// registry.
			h.goAwayLocked()
		}
		return
	}

	if _, ok := h.subs[key]; !ok {
		sub.session = session
		h.subs[key] = sub
		h.log.Debug("subscribed", "resource", key.Resource, "namespace", key.Namespace)
	}

	h.writeLocked(Message{Type: MessageSubscribed, ResourceType: sub.resourceType, Namespace: sub.namespace})
}

func (h *Handler) unsubscribe(req Request) {
	sub := subscription{resourceType: req.ResourceType, namespace: req.Namespace}

	key, _, err := h.registry.Key(req.ResourceType, req.Namespace)
	if err != nil {
		h.reply(errorMessage(sub, err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[key]; ok {
		h.registry.UnsubscribeKey(key, h.listener)
		delete(h.subs, key)
		h.log.Debug("unsubscribed", "resource", key.Resource, "namespace", key.Namespace)
	}

	h.writeLocked(Message{Type: MessageUnsubscribed, ResourceType: sub.resourceType, Namespace: sub.namespace})
}

// pump forwards notifications and sends heartbeats until ctx is done.
func (h *Handler) pump(ctx context.Context) {
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case n, ok := <-h.listener.C():
			if !ok {
				return
			}
			if !h.forward(n) {
				_ = h.conn.Close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(h.opts.WriteTimeout)
			if err := h.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				h.log.Debug("heartbeat failed", "error", err)
				_ = h.conn.Close()
				return
			}
		}
	}
}

// forward relays one notification. It returns false when the
// connection should be closed.
func (h *Handler) forward(n core.Notification) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[n.Key]
	if !ok || sub.session != n.Session {
		// Unsubscribed after the notification was queued, or queued
		// by a session torn down before the key was subscribed again.
		return true
	}

	if n.Resync {
		msg := errorMessage(sub, "notifications were dropped, reload the snapshot")
		msg.Resync = true
		if !h.writeLocked(msg) {
			return false
		}
	}

	switch {
	case n.Err != nil:
		if !h.writeLocked(errorMessage(sub, n.Err.Error())) {
			return false
		}
		if errors.Is(n.Err, core.ErrRegistryClosed) {
			h.goAwayLocked()
			return false
		}
		return true

	case n.Event != nil:
		return h.writeLocked(Message{
			Type:         MessageEvent,
			ResourceType: sub.resourceType,
			Namespace:    sub.namespace,
			Event:        n.Event,
		})
	}
	return true
}

// goAwayLocked tells the consumer the cluster went away and closes the
// socket, which ends Serve. Must be called with mu held.
func (h *Handler) goAwayLocked() {
	deadline := time.Now().Add(h.opts.WriteTimeout)
	_ = h.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "cluster disconnected"), deadline)
	_ = h.conn.Close()
}

func (h *Handler) reply(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writeLocked(msg)
}

// writeLocked writes one data frame. Must be called with mu held.
func (h *Handler) writeLocked(msg Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("encode message", "type", msg.Type, "error", err)
		return true
	}

	_ = h.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
	if err := h.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.log.Debug("write failed", "type", msg.Type, "error", err)
		_ = h.conn.Close()
		return false
	}
	return true
}

// cleanup releases every subscription of this connection. It runs on
// every exit path of Serve.
func (h *Handler) cleanup() {
	h.mu.Lock()
	count := len(h.subs)
	for key := range h.subs {
		h.registry.UnsubscribeKey(key, h.listener)
	}
	clear(h.subs)
	h.mu.Unlock()

	h.listener.Close()
	_ = h.conn.Close()

	h.log.Info("connection closed", "subscriptions", count, "dropped", h.listener.Dropped())
}
