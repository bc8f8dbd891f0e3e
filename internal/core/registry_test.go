package core

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestRegistry_SingleUpstreamPerKey(t *testing.T) {
	t.Parallel()

	streamer := newFakeStreamer(nil)
	r := newTestRegistry(t, streamer, DefaultBackoffPolicy)

	const n = 50
	listeners := make([]*Listener, n)
	var wg sync.WaitGroup
	for i := range n {
		listeners[i] = NewListener(4)
		wg.Add(1)
		go func(l *Listener) {
			defer wg.Done()
			if _, err := r.Subscribe("pods", "default", l); err != nil {
				t.Errorf("Subscribe: %v", err)
			}
		}(listeners[i])
	}
	wg.Wait()

	streamer.next(t)
	time.Sleep(50 * time.Millisecond)

	if got := streamer.count(); got != 1 {
		t.Fatalf("stream opened %d times, want 1", got)
	}
	if got := streamer.peak(); got != 1 {
		t.Fatalf("peak concurrent streams = %d, want 1", got)
	}

	sessions := r.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("len(Sessions) = %d, want 1", len(sessions))
	}
	if sessions[0].Listeners != n {
		t.Fatalf("listeners = %d, want %d", sessions[0].Listeners, n)
	}
}

func TestRegistry_RefCountedTeardown(t *testing.T) {
	t.Parallel()

	streamer := newFakeStreamer(nil)
	r := newTestRegistry(t, streamer, DefaultBackoffPolicy)

	l1, l2 := NewListener(4), NewListener(4)
	key, err := r.Subscribe("services", "default", l1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := r.Subscribe("svc", "default", l2); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	first := streamer.next(t)

	if _, err := r.Unsubscribe("services", "default", l1); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if _, ok := r.Session(key); !ok {
		t.Fatal("session should survive while a listener remains")
	}
	select {
	case <-first.w.done:
		t.Fatal("upstream stopped while a listener remains")
	default:
	}

	r.UnsubscribeKey(key, l2)
	if _, ok := r.Session(key); ok {
		t.Fatal("session should be removed after last unsubscribe")
	}
	select {
	case <-first.w.done:
	default:
		t.Fatal("upstream should be stopped synchronously")
	}

	// A fresh subscribe starts a new session.
	if _, err := r.Subscribe("services", "default", l1); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	second := streamer.next(t)
	if second.cursor != "" {
		t.Errorf("new session cursor = %q, want empty", second.cursor)
	}
	if got := streamer.peak(); got != 1 {
		t.Fatalf("peak concurrent streams = %d, want 1", got)
	}
}

func TestRegistry_DuplicateSubscribeIsNoop(t *testing.T) {
	t.Parallel()

	streamer := newFakeStreamer(nil)
	r := newTestRegistry(t, streamer, DefaultBackoffPolicy)

	l := NewListener(4)
	key, err := r.Subscribe("pods", "", l)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := r.Subscribe("pods", "", l); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	info, _ := r.Session(key)
	if info.Listeners != 1 {
		t.Fatalf("listeners = %d, want 1", info.Listeners)
	}

	// One unsubscribe is enough to tear it down.
	r.UnsubscribeKey(key, l)
	if _, ok := r.Session(key); ok {
		t.Fatal("session should be gone")
	}
}

func TestRegistry_UnknownResourceCreatesNoSession(t *testing.T) {
	t.Parallel()

	streamer := newFakeStreamer(nil)
	r := newTestRegistry(t, streamer, DefaultBackoffPolicy)

	_, err := r.Subscribe("widgets", "", NewListener(4))
	var target *ErrUnknownResource
	if !errors.As(err, &target) {
		t.Fatalf("expected ErrUnknownResource, got %v", err)
	}
	if len(r.Sessions()) != 0 {
		t.Fatal("no session should be created")
	}
	if streamer.count() != 0 {
		t.Fatal("no stream should be opened")
	}
}

func TestRegistry_ClusterScopedIgnoresNamespace(t *testing.T) {
	t.Parallel()

	streamer := newFakeStreamer(nil)
	r := newTestRegistry(t, streamer, DefaultBackoffPolicy)

	k1, err := r.Subscribe("nodes", "default", NewListener(4))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	k2, err := r.Subscribe("nodes", "", NewListener(4))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("keys differ: %v vs %v", k1, k2)
	}
	if k1.Namespace != "" {
		t.Errorf("Namespace = %q, want empty", k1.Namespace)
	}
	if len(r.Sessions()) != 1 {
		t.Fatalf("len(Sessions) = %d, want 1", len(r.Sessions()))
	}
}

func TestRegistry_FanOutPreservesOrder(t *testing.T) {
	t.Parallel()

	streamer := newFakeStreamer(nil)
	r := newTestRegistry(t, streamer, DefaultBackoffPolicy)

	l1, l2 := NewListener(16), NewListener(16)
	if _, err := r.Subscribe("pods", "default", l1); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := r.Subscribe("pods", "default", l2); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	op := streamer.next(t)
	op.w.send(
		podEvent(WatchEventAdded, "pod-a", "uid-a", "1"),
		podEvent(WatchEventAdded, "pod-b", "uid-b", "2"),
		podEvent(WatchEventDeleted, "pod-a", "uid-a", "3"),
	)

	want := []string{"ADDED/uid-a", "ADDED/uid-b", "DELETED/uid-a"}
	for _, l := range []*Listener{l1, l2} {
		var got []string
		for range want {
			n := recv(t, l)
			got = append(got, string(n.Event.Type)+"/"+n.Event.UID())
		}
		if !slices.Equal(got, want) {
			t.Errorf("listener %s got %v, want %v", l.ID(), got, want)
		}
	}
}

func TestRegistry_SlowListenerDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	streamer := newFakeStreamer(nil)
	r := newTestRegistry(t, streamer, DefaultBackoffPolicy)

	slow, fast := NewListener(1), NewListener(16)
	if _, err := r.Subscribe("pods", "", slow); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := r.Subscribe("pods", "", fast); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	op := streamer.next(t)
	for i := range 5 {
		op.w.send(podEvent(WatchEventModified, "pod-a", "uid-a", string(rune('1'+i))))
	}

	for range 5 {
		recv(t, fast)
	}
	waitFor(t, "drops", func() bool { return slow.Dropped() == 4 })
}

func TestRegistry_ShutdownNotifiesAndRejects(t *testing.T) {
	t.Parallel()

	streamer := newFakeStreamer(nil)
	r := NewRegistry("c1", newTestResolver(t), streamer, DefaultBackoffPolicy)

	l := NewListener(4)
	if _, err := r.Subscribe("pods", "", l); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	op := streamer.next(t)

	r.Shutdown()

	select {
	case <-op.w.done:
	default:
		t.Fatal("upstream should be stopped by Shutdown")
	}

	n := recv(t, l)
	if !errors.Is(n.Err, ErrRegistryClosed) {
		t.Fatalf("expected ErrRegistryClosed notification, got %+v", n)
	}
	if len(r.Sessions()) != 0 {
		t.Fatal("sessions should be empty after Shutdown")
	}

	if _, err := r.Subscribe("pods", "", l); !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("Subscribe after Shutdown = %v, want ErrRegistryClosed", err)
	}

	// Second shutdown is a no-op.
	r.Shutdown()
}

// slowConnectStreamer holds every connect to blockPath until the
// session is cancelled and then until release is closed, like a dial
// that is slow to unwind. Other paths get an open watcher.
type slowConnectStreamer struct {
	blockPath string
	entered   chan struct{}
	cancelled chan struct{}
	release   chan struct{}
}

func (f *slowConnectStreamer) Stream(ctx context.Context, _, path, _ string) (Watcher, error) {
	if path != f.blockPath {
		return newFakeWatcher(), nil
	}
	close(f.entered)
	<-ctx.Done()
	close(f.cancelled)
	<-f.release
	return nil, ctx.Err()
}

func TestRegistry_LastUnsubscribeWhileConnecting(t *testing.T) {
	t.Parallel()

	streamer := &slowConnectStreamer{
		blockPath: "/api/v1/namespaces/default/pods",
		entered:   make(chan struct{}),
		cancelled: make(chan struct{}),
		release:   make(chan struct{}),
	}
	r := newTestRegistry(t, streamer, DefaultBackoffPolicy)

	l := NewListener(4)
	key, err := r.Subscribe("pods", "default", l)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case <-streamer.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("session never started connecting")
	}

	unsubscribed := make(chan struct{})
	go func() {
		defer close(unsubscribed)
		if _, err := r.Unsubscribe("pods", "default", l); err != nil {
			t.Errorf("Unsubscribe: %v", err)
		}
	}()

	select {
	case <-streamer.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight connect was not cancelled")
	}
	waitFor(t, "session removal", func() bool {
		_, ok := r.Session(key)
		return !ok
	})

	// The connect has not unwound yet; other keys must not wait on it.
	start := time.Now()
	if _, err := r.Subscribe("services", "default", NewListener(4)); err != nil {
		t.Fatalf("Subscribe services: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("unrelated Subscribe blocked for %v", elapsed)
	}

	select {
	case <-unsubscribed:
		t.Fatal("Unsubscribe returned before the session loop exited")
	default:
	}

	close(streamer.release)
	select {
	case <-unsubscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("Unsubscribe did not return after the connect unwound")
	}
}

// ---------------------------------------------------------------------------
// Hub
// ---------------------------------------------------------------------------

type staticClusters []string

func (s staticClusters) Clusters() []string { return s }

func (s staticClusters) HasCluster(name string) bool { return slices.Contains(s, name) }

func TestHub_LazyRegistryPerCluster(t *testing.T) {
	t.Parallel()

	h := NewHub(newTestResolver(t), newFakeStreamer(nil), staticClusters{"alpha", "beta"}, DefaultBackoffPolicy)
	t.Cleanup(h.Close)

	if len(h.Active()) != 0 {
		t.Fatal("no registry should exist before first use")
	}

	a1, err := h.Registry("alpha")
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	a2, _ := h.Registry("alpha")
	if a1 != a2 {
		t.Fatal("Registry should return the same instance for a cluster")
	}

	b, _ := h.Registry("beta")
	if b == a1 {
		t.Fatal("clusters should not share a registry")
	}

	if got := h.Active(); !slices.Equal(got, []string{"alpha", "beta"}) {
		t.Fatalf("Active = %v", got)
	}

	_, err = h.Registry("gamma")
	var target *ErrClusterNotFound
	if !errors.As(err, &target) {
		t.Fatalf("expected ErrClusterNotFound, got %v", err)
	}
}

func TestHub_ShutdownCluster(t *testing.T) {
	t.Parallel()

	streamer := newFakeStreamer(nil)
	h := NewHub(newTestResolver(t), streamer, staticClusters{"alpha"}, DefaultBackoffPolicy)
	t.Cleanup(h.Close)

	r, err := h.Registry("alpha")
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	l := NewListener(4)
	if _, err := r.Subscribe("pods", "", l); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	op := streamer.next(t)

	if !h.ShutdownCluster("alpha") {
		t.Fatal("ShutdownCluster should report an existing registry")
	}
	select {
	case <-op.w.done:
	default:
		t.Fatal("sessions should be closed")
	}
	if _, ok := h.Lookup("alpha"); ok {
		t.Fatal("registry should be forgotten")
	}
	if h.ShutdownCluster("alpha") {
		t.Fatal("second ShutdownCluster should report false")
	}

	r2, err := h.Registry("alpha")
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if r2 == r {
		t.Fatal("a new registry should be created after shutdown")
	}
}

func TestRegistry_ResubscribeGetsNewSession(t *testing.T) {
	t.Parallel()

	streamer := newFakeStreamer(nil)
	r := newTestRegistry(t, streamer, DefaultBackoffPolicy)

	l, other := NewListener(4), NewListener(4)
	_, first, err := r.SubscribeSession("pods", "", l)
	if err != nil {
		t.Fatalf("SubscribeSession: %v", err)
	}
	op := streamer.next(t)

	_, shared, err := r.SubscribeSession("po", "", other)
	if err != nil {
		t.Fatalf("SubscribeSession: %v", err)
	}
	if shared != first {
		t.Fatalf("second listener attached to session %d, want %d", shared, first)
	}

	op.w.send(podEvent(WatchEventAdded, "a", "u1", "1"))
	if n := recv(t, l); n.Session != first {
		t.Fatalf("notification session = %d, want %d", n.Session, first)
	}

	r.Unsubscribe("pods", "", l)
	r.Unsubscribe("pods", "", other)

	_, second, err := r.SubscribeSession("pods", "", l)
	if err != nil {
		t.Fatalf("SubscribeSession: %v", err)
	}
	if second == first {
		t.Fatal("a session started after teardown must have a new identity")
	}
}
