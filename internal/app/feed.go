package app

import "sync"

// Feed is a latest-value broadcast stream. Each subscriber channel holds at
// most one pending value; a newer value replaces an unread one, so slow
// readers always see the most recent state rather than a backlog.
type Feed[T any] struct {
	mu      sync.Mutex
	latest  T
	has     bool
	version uint64
	subs    map[int]chan T
	nextID  int
	closed  bool
}

// NewFeed returns an empty feed.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[int]chan T)}
}

// Publish records v as the latest value and offers it to every subscriber.
// Publishing to a closed feed is a no-op.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.latest = v
	f.has = true
	f.version++
	for _, ch := range f.subs {
		offer(ch, v)
	}
}

// offer replaces any unread value in ch with v. Callers hold f.mu, which
// makes them the only sender, so the second send cannot block.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}

// Latest returns the most recently published value.
func (f *Feed[T]) Latest() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.has
}

// Version counts Publish calls; it lets callers detect emissions they did not read.
func (f *Feed[T]) Version() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}

// Subscribe returns a channel that first yields the latest value (if any) and
// then every later one, conflated. cancel releases the subscription and closes
// the channel; it is safe to call more than once.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan T, 1)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	if f.has {
		ch <- f.latest
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(c)
			}
		})
	}
}

// Close stops delivery: subscriber channels are closed and later publishes
// are dropped. Latest keeps returning the last value.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
