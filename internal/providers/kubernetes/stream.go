package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"

	"github.com/otterscale/watchbridge/internal/core"
)

// Streamer implements core.WatchStreamer with a plain streaming GET
// per watch. Each response line is one {type, object} envelope.
type Streamer struct {
	kubernetes *Kubernetes
	versions   core.VersionResolver
	log        *slog.Logger
}

// NewStreamer returns a Streamer. versions decides whether bookmarks
// are requested; it may be a cache.
func NewStreamer(kubernetes *Kubernetes, versions core.VersionResolver) *Streamer {
	return &Streamer{
		kubernetes: kubernetes,
		versions:   versions,
		log:        slog.Default().With("component", "watch-streamer"),
	}
}

var _ core.WatchStreamer = (*Streamer)(nil)

// Stream opens GET path?watch=true. The returned watcher ends when the
// server closes the response, when Stop is called, or when ctx is
// cancelled.
func (s *Streamer) Stream(ctx context.Context, cluster, path, resourceVersion string) (core.Watcher, error) {
	client, err := s.kubernetes.restClient(cluster)
	if err != nil {
		return nil, err
	}

	req := client.Get().AbsPath(path).Param("watch", "true")
	if resourceVersion != "" {
		req = req.Param("resourceVersion", resourceVersion)
	}
	if s.bookmarks(ctx, cluster) {
		req = req.Param("allowWatchBookmarks", "true")
	}

	body, err := req.Stream(ctx)
	if err != nil {
		return nil, wrapWatchError(err, resourceVersion)
	}

	return newStreamWatcher(body), nil
}

func (s *Streamer) bookmarks(ctx context.Context, cluster string) bool {
	if s.versions == nil {
		return false
	}
	info, err := s.versions.ServerVersion(ctx, cluster)
	if err != nil {
		s.log.Debug("server version unavailable, not requesting bookmarks", "cluster", cluster, "error", err)
		return false
	}
	return core.SupportsWatchBookmarks(info)
}

// ---------------------------------------------------------------------------
// streamWatcher
// ---------------------------------------------------------------------------

// streamWatcher decodes newline-delimited watch envelopes from body
// and forwards them on result until the body ends or Stop is called.
type streamWatcher struct {
	body   io.ReadCloser
	result chan core.WatchEvent
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func newStreamWatcher(body io.ReadCloser) *streamWatcher {
	w := &streamWatcher{
		body:   body,
		result: make(chan core.WatchEvent),
		done:   make(chan struct{}),
	}
	go w.receive()
	return w
}

func (w *streamWatcher) ResultChan() <-chan core.WatchEvent {
	return w.result
}

func (w *streamWatcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *streamWatcher) Stop() {
	w.once.Do(func() {
		close(w.done)
		_ = w.body.Close()
	})
}

func (w *streamWatcher) stopped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *streamWatcher) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
}

func (w *streamWatcher) receive() {
	defer close(w.result)
	defer w.Stop()

	dec := json.NewDecoder(w.body)
	for {
		var event core.WatchEvent
		if err := dec.Decode(&event); err != nil {
			if !errors.Is(err, io.EOF) && !w.stopped() {
				w.setErr(fmt.Errorf("decode watch event: %w", err))
			}
			return
		}

		if !event.Type.Valid() {
			w.setErr(fmt.Errorf("got invalid watch event type: %q", event.Type))
			return
		}

		select {
		case w.result <- event:
		case <-w.done:
			return
		}
	}
}
