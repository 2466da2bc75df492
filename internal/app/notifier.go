package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultDebounceMs = 200

	// MethodResourceUpdated is the MCP notification sent when a resource changes.
	MethodResourceUpdated = "notifications/resources/updated"

	TasksResourceURI = "peertasks://tasks"
	PeersResourceURI = "peertasks://peers"
)

// ResourceUpdatedParams is the payload for notifications/resources/updated.
type ResourceUpdatedParams struct {
	URI string `json:"uri"`
}

// Notifier watches the session feeds and pushes a resource-updated
// notification per changed resource. Bursts within the debounce window
// collapse into one push per resource.
type Notifier struct {
	session    *Session
	pushFunc   func(method string, params any) error
	logger     *zap.Logger
	debounceMs int

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer
	stopCh  chan struct{}
	doneCh  chan struct{}
	pushMu  sync.Mutex // serializes flushes so a resource is never pushed twice for one burst
}

// NotifierOption configures the notifier.
type NotifierOption func(*Notifier)

// WithDebounce sets the push debounce window (default 200ms).
func WithDebounce(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		n.debounceMs = int(d / time.Millisecond)
	}
}

// NewNotifier creates a notifier for session. pushFunc is called with
// MethodResourceUpdated and a ResourceUpdatedParams.
func NewNotifier(session *Session, pushFunc func(method string, params any) error, logger *zap.Logger, opts ...NotifierOption) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{
		session:    session,
		pushFunc:   pushFunc,
		logger:     logger,
		debounceMs: defaultDebounceMs,
		pending:    make(map[string]bool),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Start consumes feed emissions until ctx is cancelled, Stop is called, or
// the session closes its feeds.
func (n *Notifier) Start(ctx context.Context) {
	defer close(n.doneCh)

	tasks, cancelTasks := n.session.Tasks().Subscribe()
	defer cancelTasks()
	peers, cancelPeers := n.session.Peers().Subscribe()
	defer cancelPeers()
	online, cancelOnline := n.session.Online().Subscribe()
	defer cancelOnline()

	for tasks != nil || peers != nil || online != nil {
		select {
		case <-ctx.Done():
			n.cancelTimer()
			return
		case <-n.stopCh:
			n.cancelTimer()
			return
		case _, ok := <-tasks:
			if !ok {
				tasks = nil
				continue
			}
			n.triggerDebounced(TasksResourceURI)
		case _, ok := <-peers:
			if !ok {
				peers = nil
				continue
			}
			n.triggerDebounced(PeersResourceURI)
		case _, ok := <-online:
			if !ok {
				online = nil
				continue
			}
			n.triggerDebounced(PeersResourceURI)
		}
	}
	n.cancelTimer()
}

// Stop signals the notifier to stop and waits for Start to return and for
// any push already in flight. Nothing is pushed after Stop returns.
func (n *Notifier) Stop() {
	n.mu.Lock()
	select {
	case <-n.stopCh:
	default:
		close(n.stopCh)
	}
	n.mu.Unlock()
	<-n.doneCh

	n.pushMu.Lock()
	n.pushMu.Unlock()
}

// Flush pushes pending notifications now (for testing or manual trigger).
func (n *Notifier) Flush() {
	n.flush()
}

func (n *Notifier) triggerDebounced(uri string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending[uri] = true
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(time.Duration(n.debounceMs)*time.Millisecond, n.flush)
}

func (n *Notifier) cancelTimer() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

func (n *Notifier) flush() {
	n.pushMu.Lock()
	defer n.pushMu.Unlock()
	select {
	case <-n.stopCh:
		return
	default:
	}

	n.mu.Lock()
	uris := make([]string, 0, len(n.pending))
	for _, uri := range []string{TasksResourceURI, PeersResourceURI} {
		if n.pending[uri] {
			uris = append(uris, uri)
		}
	}
	n.pending = make(map[string]bool)
	n.mu.Unlock()

	for _, uri := range uris {
		if err := n.pushFunc(MethodResourceUpdated, ResourceUpdatedParams{URI: uri}); err != nil {
			n.logger.Warn("push failed", zap.String("uri", uri), zap.Error(err))
		}
	}
}
