package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pushRecorder struct {
	mu   sync.Mutex
	uris []string
	err  error
}

func (r *pushRecorder) push(method string, params any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if method != MethodResourceUpdated {
		return nil
	}
	if p, ok := params.(ResourceUpdatedParams); ok {
		r.uris = append(r.uris, p.URI)
	}
	return r.err
}

func (r *pushRecorder) count(uri string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.uris {
		if u == uri {
			n++
		}
	}
	return n
}

func startNotifier(t *testing.T, s *Session, rec *pushRecorder, debounce time.Duration) *Notifier {
	t.Helper()
	n := NewNotifier(s, rec.push, nil, WithDebounce(debounce))
	ctx, cancel := context.WithCancel(context.Background())
	go n.Start(ctx)
	t.Cleanup(func() {
		cancel()
		n.Stop()
	})
	return n
}

func TestNotifierPushesOnTaskChange(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, Dependencies{Store: newFakeStore()}, SessionConfig{})
	require.NoError(t, s.Start(ctx))
	waitTasks(t, s.Tasks())

	rec := &pushRecorder{}
	startNotifier(t, s, rec, 20*time.Millisecond)
	// The initial feed values count as one change per resource.
	require.Eventually(t, func() bool {
		return rec.count(TasksResourceURI) == 1 && rec.count(PeersResourceURI) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := s.AddTask(ctx, "Buy milk")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.count(TasksResourceURI) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.count(PeersResourceURI))
}

func TestNotifierDebouncesBursts(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, Dependencies{Store: newFakeStore()}, SessionConfig{})
	require.NoError(t, s.Start(ctx))
	waitTasks(t, s.Tasks())

	rec := &pushRecorder{}
	startNotifier(t, s, rec, 150*time.Millisecond)
	require.Eventually(t, func() bool { return rec.count(TasksResourceURI) == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		_, err := s.AddTask(ctx, "task")
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return rec.count(TasksResourceURI) >= 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 2, rec.count(TasksResourceURI))
}

func TestNotifierStopsWhenSessionCloses(t *testing.T) {
	s := NewSession(Dependencies{Store: newFakeStore()}, SessionConfig{})
	require.NoError(t, s.Start(context.Background()))

	rec := &pushRecorder{}
	n := NewNotifier(s, rec.push, nil)
	done := make(chan struct{})
	go func() {
		n.Start(context.Background())
		close(done)
	}()

	require.NoError(t, s.Close(context.Background()))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier did not exit after session close")
	}
	n.Stop()
}

func TestNotifierFlushPushesPending(t *testing.T) {
	s := newTestSession(t, Dependencies{Store: newFakeStore()}, SessionConfig{})
	rec := &pushRecorder{err: errBoom}
	n := NewNotifier(s, rec.push, nil, WithDebounce(time.Hour))

	n.triggerDebounced(PeersResourceURI)
	n.triggerDebounced(PeersResourceURI)
	n.Flush()
	n.cancelTimer()
	assert.Equal(t, 1, rec.count(PeersResourceURI), "push errors are logged, not retried")

	n.Flush()
	assert.Equal(t, 1, rec.count(PeersResourceURI))
}

func TestNotifierStopWaitsForInFlightPush(t *testing.T) {
	s := newTestSession(t, Dependencies{Store: newFakeStore()}, SessionConfig{})
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var mu sync.Mutex
	pushes := 0
	push := func(string, any) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		mu.Lock()
		pushes++
		mu.Unlock()
		return nil
	}
	n := NewNotifier(s, push, nil, WithDebounce(time.Hour))
	go n.Start(context.Background())

	n.triggerDebounced(TasksResourceURI)
	go n.Flush()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("push did not start")
	}

	stopped := make(chan struct{})
	go func() {
		n.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a push was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	mu.Lock()
	before := pushes
	mu.Unlock()
	assert.GreaterOrEqual(t, before, 1)

	n.triggerDebounced(PeersResourceURI)
	n.Flush()
	n.cancelTimer()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, before, pushes, "nothing is pushed after Stop")
}
