package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/peertasks/internal/domain"
	"github.com/jaakkos/peertasks/internal/metrics"
)

const (
	// DefaultQuietPeriod is how long the peer table must be quiet before the list is emitted.
	DefaultQuietPeriod = 2 * time.Second

	inboxSize = 256
)

type eventKind int

const (
	evDiscovery eventKind = iota
	evReplication
	evLink
	evRefresh
)

func (k eventKind) String() string {
	switch k {
	case evDiscovery:
		return "discovery"
	case evReplication:
		return "replication"
	case evLink:
		return "link"
	}
	return "refresh"
}

type aggEvent struct {
	kind        eventKind
	discovery   domain.DiscoveryEvent
	replication domain.ReplicationEvent
	link        domain.LinkEvent
}

// replicationStatus is the last replication state reported for a peer.
type replicationStatus struct {
	activity  domain.Activity
	direction domain.Direction
	err       string
}

type peerEntry struct {
	present bool
	status  *replicationStatus
}

// PeerAggregator folds discovery, replication, and link events into a
// debounced peer list and an online flag. One goroutine owns the peer table
// and the debounce timer; every input is a message on its inbox.
type PeerAggregator struct {
	localID string
	quiet   time.Duration
	peers   *Feed[[]domain.Peer]
	online  *Feed[bool]
	logger  *zap.Logger
	metrics *metrics.Metrics

	inbox     chan aggEvent
	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup // stream forwarders
}

// AggregatorOption configures the aggregator.
type AggregatorOption func(*PeerAggregator)

// WithQuietPeriod sets the debounce window (default 2s).
func WithQuietPeriod(d time.Duration) AggregatorOption {
	return func(a *PeerAggregator) {
		if d > 0 {
			a.quiet = d
		}
	}
}

// WithLocalPeerID makes the aggregator ignore events about this device.
func WithLocalPeerID(id string) AggregatorOption {
	return func(a *PeerAggregator) { a.localID = id }
}

// WithAggregatorLogger sets the logger.
func WithAggregatorLogger(l *zap.Logger) AggregatorOption {
	return func(a *PeerAggregator) { a.logger = l }
}

// WithAggregatorMetrics sets the metrics sink.
func WithAggregatorMetrics(m *metrics.Metrics) AggregatorOption {
	return func(a *PeerAggregator) { a.metrics = m }
}

// NewPeerAggregator creates an aggregator publishing onto peers and online.
func NewPeerAggregator(peers *Feed[[]domain.Peer], online *Feed[bool], opts ...AggregatorOption) *PeerAggregator {
	a := &PeerAggregator{
		quiet:  DefaultQuietPeriod,
		peers:  peers,
		online: online,
		logger: zap.NewNop(),
		inbox:  make(chan aggEvent, inboxSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Start launches the event loop. Calling it again is a no-op.
func (a *PeerAggregator) Start() {
	a.startOnce.Do(func() {
		go a.loop()
	})
}

// Stop cancels any pending emission and waits for the loop and stream
// forwarders to exit. Events enqueued after Stop are dropped.
func (a *PeerAggregator) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
	})
	a.startOnce.Do(func() { close(a.doneCh) })
	<-a.doneCh
	a.wg.Wait()
}

// HandleDiscovery enqueues a discovery event.
func (a *PeerAggregator) HandleDiscovery(ev domain.DiscoveryEvent) {
	a.enqueue(aggEvent{kind: evDiscovery, discovery: ev})
}

// HandleReplication enqueues a replication status event.
func (a *PeerAggregator) HandleReplication(ev domain.ReplicationEvent) {
	a.enqueue(aggEvent{kind: evReplication, replication: ev})
}

// HandleLink enqueues a link status event.
func (a *PeerAggregator) HandleLink(ev domain.LinkEvent) {
	a.enqueue(aggEvent{kind: evLink, link: ev})
}

// Refresh re-arms the debounce timer so the current list is emitted once the
// table has been quiet for the full window.
func (a *PeerAggregator) Refresh() {
	a.enqueue(aggEvent{kind: evRefresh})
}

func (a *PeerAggregator) enqueue(ev aggEvent) {
	select {
	case <-a.stopCh:
		return
	default:
	}
	select {
	case a.inbox <- ev:
	case <-a.stopCh:
	}
}

// Seed loads the peers the engine already knows so they show up without
// waiting for the next discovery event.
func (a *PeerAggregator) Seed(ctx context.Context, engine ReplicationEngine) error {
	ids, err := engine.NeighborPeers(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		info, ok, err := engine.PeerInfo(ctx, id)
		if err != nil {
			a.logger.Debug("peer info unavailable", zap.String("peer", id), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if info.Online {
			a.HandleDiscovery(domain.DiscoveryEvent{PeerID: id, Online: true})
		}
		if info.Activity != "" {
			a.HandleReplication(domain.ReplicationEvent{
				PeerID:    id,
				Activity:  info.Activity,
				Direction: info.Direction,
				Error:     info.Error,
			})
		}
	}
	return nil
}

// Attach forwards the three engine streams into the inbox until each stream
// closes or the aggregator stops.
func (a *PeerAggregator) Attach(link Stream[domain.LinkEvent], disc Stream[domain.DiscoveryEvent], repl Stream[domain.ReplicationEvent]) {
	if link != nil {
		forward(a, link.Events(), a.HandleLink)
	}
	if disc != nil {
		forward(a, disc.Events(), a.HandleDiscovery)
	}
	if repl != nil {
		forward(a, repl.Events(), a.HandleReplication)
	}
}

func forward[T any](a *PeerAggregator, ch <-chan T, handle func(T)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.stopCh:
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				handle(ev)
			}
		}
	}()
}

func (a *PeerAggregator) loop() {
	defer close(a.doneCh)

	table := make(map[string]*peerEntry)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-a.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev := <-a.inbox:
			a.metrics.RecordPeerEvent(ev.kind.String())
			if ev.kind == evLink {
				a.setOnline(ev.link.Online)
				continue
			}
			if !a.apply(table, ev) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(a.quiet)
			fire = timer.C

		case <-fire:
			timer, fire = nil, nil
			list := derivePeers(table)
			a.peers.Publish(list)
			a.metrics.RecordPeerEmission(len(list))
			a.logger.Debug("peer list emitted", zap.Int("peers", len(list)))
		}
	}
}

// apply updates the table. It reports false for events that are ignored and
// must not re-arm the timer.
func (a *PeerAggregator) apply(table map[string]*peerEntry, ev aggEvent) bool {
	switch ev.kind {
	case evDiscovery:
		id := ev.discovery.PeerID
		if id == "" || id == a.localID {
			return false
		}
		if ev.discovery.Online {
			e, ok := table[id]
			if !ok {
				e = &peerEntry{}
				table[id] = e
			}
			e.present = true
		} else {
			delete(table, id)
		}
	case evReplication:
		id := ev.replication.PeerID
		if id == a.localID {
			return false
		}
		if err := ev.replication.Validate(); err != nil {
			a.logger.Warn("ignoring replication event", zap.Error(err))
			return false
		}
		e, ok := table[id]
		if !ok {
			e = &peerEntry{}
			table[id] = e
		}
		e.status = &replicationStatus{
			activity:  ev.replication.Activity,
			direction: ev.replication.Direction,
			err:       ev.replication.Error,
		}
	}
	return true
}

func (a *PeerAggregator) setOnline(online bool) {
	if cur, ok := a.online.Latest(); ok && cur == online {
		return
	}
	a.online.Publish(online)
	a.metrics.SetOnline(online)
	a.logger.Info("replication link changed", zap.Bool("online", online))
}

// derivePeers builds the visible peer list, sorted by id.
func derivePeers(table map[string]*peerEntry) []domain.Peer {
	list := make([]domain.Peer, 0, len(table))
	for id, e := range table {
		if !e.visible() {
			continue
		}
		p := domain.Peer{ID: id, Status: "discovered"}
		if s := e.status; s != nil {
			p.Connected = s.activity != domain.ActivityStopped
			p.Direction = s.direction
			p.Activity = s.activity
			p.Error = s.err
			p.Status = s.direction.Role() + " | " + string(s.activity)
			if s.err != "" {
				p.Status += " - " + s.err
			}
		}
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (e *peerEntry) visible() bool {
	if e.present {
		return true
	}
	if e.status == nil {
		return false
	}
	if e.status.err != "" {
		return true
	}
	return e.status.activity != domain.ActivityStopped && e.status.activity != domain.ActivityOffline
}
