package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaakkos/peertasks/internal/domain"
)

// quiet is the scaled-down debounce window used by these tests.
const quiet = 150 * time.Millisecond

type aggHarness struct {
	agg    *PeerAggregator
	peers  *Feed[[]domain.Peer]
	online *Feed[bool]
}

func newAggHarness(t *testing.T, opts ...AggregatorOption) *aggHarness {
	t.Helper()
	h := &aggHarness{peers: NewFeed[[]domain.Peer](), online: NewFeed[bool]()}
	h.online.Publish(false)
	h.agg = NewPeerAggregator(h.peers, h.online, append([]AggregatorOption{WithQuietPeriod(quiet)}, opts...)...)
	h.agg.Start()
	t.Cleanup(h.agg.Stop)
	return h
}

// waitEmission waits for the peers feed to move past version v and returns the list.
func (h *aggHarness) waitEmission(t *testing.T, v uint64) []domain.Peer {
	t.Helper()
	require.Eventually(t, func() bool { return h.peers.Version() > v }, 5*quiet+time.Second, 5*time.Millisecond)
	list, _ := h.peers.Latest()
	return list
}

func discovered(id string) domain.DiscoveryEvent {
	return domain.DiscoveryEvent{PeerID: id, Online: true}
}

func lost(id string) domain.DiscoveryEvent {
	return domain.DiscoveryEvent{PeerID: id, Online: false}
}

func status(id string, act domain.Activity, dir domain.Direction, errText string) domain.ReplicationEvent {
	return domain.ReplicationEvent{PeerID: id, Activity: act, Direction: dir, Error: errText}
}

func TestAggregatorActiveBusyPeer(t *testing.T) {
	h := newAggHarness(t)
	v := h.peers.Version()

	h.agg.HandleDiscovery(discovered("peerA"))
	h.agg.HandleReplication(status("peerA", domain.ActivityBusy, domain.DirectionActive, ""))

	got := h.waitEmission(t, v)
	want := []domain.Peer{{
		ID:        "peerA",
		Connected: true,
		Status:    "active peer | busy",
		Direction: domain.DirectionActive,
		Activity:  domain.ActivityBusy,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("peer list mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregatorBurstEmitsOnce(t *testing.T) {
	h := newAggHarness(t)
	v := h.peers.Version()

	// Ten events, each well inside the window of the previous one.
	for i := 0; i < 10; i++ {
		h.agg.HandleDiscovery(discovered("peerA"))
		act := domain.ActivityIdle
		if i == 9 {
			act = domain.ActivityBusy
		}
		h.agg.HandleReplication(status("peerA", act, domain.DirectionPassive, ""))
		time.Sleep(quiet / 10)
	}

	got := h.waitEmission(t, v)
	time.Sleep(2 * quiet)
	assert.Equal(t, v+1, h.peers.Version(), "burst must collapse into one emission")
	require.Len(t, got, 1)
	assert.Equal(t, "passive peer | busy", got[0].Status)
}

func TestAggregatorOfflineRemovesPeerEvenWithError(t *testing.T) {
	h := newAggHarness(t)
	v := h.peers.Version()

	h.agg.HandleDiscovery(discovered("peerA"))
	h.agg.HandleReplication(status("peerA", domain.ActivityStopped, domain.DirectionActive, "tls handshake failed"))
	got := h.waitEmission(t, v)
	require.Len(t, got, 1)
	assert.Equal(t, "active peer | stopped - tls handshake failed", got[0].Status)
	assert.False(t, got[0].Connected)

	v = h.peers.Version()
	h.agg.HandleDiscovery(lost("peerA"))
	assert.Empty(t, h.waitEmission(t, v))
}

func TestAggregatorDuplicateEventsAreIdempotent(t *testing.T) {
	h := newAggHarness(t)

	v := h.peers.Version()
	h.agg.HandleDiscovery(discovered("peerA"))
	h.agg.HandleReplication(status("peerA", domain.ActivityIdle, domain.DirectionActive, ""))
	once := h.waitEmission(t, v)

	v = h.peers.Version()
	h.agg.HandleDiscovery(discovered("peerA"))
	h.agg.HandleDiscovery(discovered("peerA"))
	h.agg.HandleReplication(status("peerA", domain.ActivityIdle, domain.DirectionActive, ""))
	h.agg.HandleReplication(status("peerA", domain.ActivityIdle, domain.DirectionActive, ""))
	twice := h.waitEmission(t, v)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("duplicate events changed the list (-once +twice):\n%s", diff)
	}
}

func TestAggregatorUnknownPeerReplicationCreatesEntry(t *testing.T) {
	h := newAggHarness(t)
	v := h.peers.Version()

	h.agg.HandleReplication(status("ghost", domain.ActivityConnecting, domain.DirectionPassive, ""))
	got := h.waitEmission(t, v)
	require.Len(t, got, 1)
	assert.Equal(t, "ghost", got[0].ID)
	assert.True(t, got[0].Connected)
}

func TestAggregatorIgnoresLocalPeer(t *testing.T) {
	h := newAggHarness(t, WithLocalPeerID("me"))
	v := h.peers.Version()

	h.agg.HandleDiscovery(discovered("me"))
	h.agg.HandleReplication(status("me", domain.ActivityBusy, domain.DirectionActive, ""))
	time.Sleep(2 * quiet)
	assert.Equal(t, v, h.peers.Version(), "events about the local peer must not arm the timer")

	h.agg.HandleDiscovery(discovered("peerB"))
	got := h.waitEmission(t, v)
	require.Len(t, got, 1)
	assert.Equal(t, "peerB", got[0].ID)
}

func TestAggregatorRejectsInvalidReplicationEvents(t *testing.T) {
	h := newAggHarness(t)
	v := h.peers.Version()

	h.agg.HandleReplication(status("peerA", "", domain.DirectionActive, ""))
	h.agg.HandleReplication(status("peerA", "asleep", domain.DirectionActive, ""))
	h.agg.HandleReplication(status("peerA", domain.ActivityIdle, "", ""))
	h.agg.HandleReplication(status("", domain.ActivityIdle, domain.DirectionActive, ""))
	time.Sleep(2 * quiet)
	assert.Equal(t, v, h.peers.Version(), "invalid events must not arm the timer")

	h.agg.HandleReplication(status("peerA", domain.ActivityIdle, domain.DirectionPassive, ""))
	got := h.waitEmission(t, v)
	require.Len(t, got, 1)
	assert.Equal(t, "passive peer | idle", got[0].Status)
}

func TestAggregatorSeedSkipsInvalidPeerInfo(t *testing.T) {
	h := newAggHarness(t)
	engine := newFakeEngine("me", nil)
	engine.neighbors["peerA"] = domain.PeerInfo{PeerID: "peerA", Activity: "warming", Direction: domain.DirectionActive}

	v := h.peers.Version()
	require.NoError(t, h.agg.Seed(context.Background(), engine))
	time.Sleep(2 * quiet)
	assert.Equal(t, v, h.peers.Version())
}

func TestAggregatorRefreshEmitsCurrentList(t *testing.T) {
	h := newAggHarness(t)
	v := h.peers.Version()

	h.agg.Refresh()
	got := h.waitEmission(t, v)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestAggregatorLinkEventsBypassDebounce(t *testing.T) {
	h := newAggHarness(t)
	peersV := h.peers.Version()
	onlineV := h.online.Version()

	h.agg.HandleLink(domain.LinkEvent{Online: true})
	require.Eventually(t, func() bool {
		on, _ := h.online.Latest()
		return on
	}, quiet/2, time.Millisecond, "online flag must be published before the quiet period")
	assert.Equal(t, onlineV+1, h.online.Version())

	// Repeats are deduplicated.
	h.agg.HandleLink(domain.LinkEvent{Online: true})
	h.agg.HandleLink(domain.LinkEvent{Online: false})
	require.Eventually(t, func() bool {
		on, _ := h.online.Latest()
		return !on
	}, time.Second, time.Millisecond)
	assert.Equal(t, onlineV+2, h.online.Version())

	time.Sleep(2 * quiet)
	assert.Equal(t, peersV, h.peers.Version(), "link events do not touch the peer list")
}

func TestAggregatorStopCancelsPendingEmission(t *testing.T) {
	peers := NewFeed[[]domain.Peer]()
	agg := NewPeerAggregator(peers, NewFeed[bool](), WithQuietPeriod(quiet))
	agg.Start()

	agg.HandleDiscovery(discovered("peerA"))
	agg.Stop()
	agg.Stop()
	time.Sleep(2 * quiet)
	assert.Zero(t, peers.Version())

	// Enqueueing after Stop neither blocks nor panics.
	agg.HandleDiscovery(discovered("peerB"))
	agg.Refresh()
}

func TestAggregatorStopWithoutStart(t *testing.T) {
	agg := NewPeerAggregator(NewFeed[[]domain.Peer](), NewFeed[bool]())
	agg.Stop()
}

func TestAggregatorSeedFromEngine(t *testing.T) {
	h := newAggHarness(t)
	engine := newFakeEngine("me", nil)
	engine.neighbors["peerA"] = domain.PeerInfo{PeerID: "peerA", Online: true, Activity: domain.ActivityIdle, Direction: domain.DirectionPassive}
	engine.neighbors["peerB"] = domain.PeerInfo{PeerID: "peerB", Online: true}

	v := h.peers.Version()
	require.NoError(t, h.agg.Seed(context.Background(), engine))
	got := h.waitEmission(t, v)

	want := []domain.Peer{
		{ID: "peerA", Connected: true, Status: "passive peer | idle", Direction: domain.DirectionPassive, Activity: domain.ActivityIdle},
		{ID: "peerB", Status: "discovered"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("seeded list mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregatorAttachForwardsStreams(t *testing.T) {
	h := newAggHarness(t)
	engine := newFakeEngine("me", nil)
	h.agg.Attach(engine.link, engine.disc, engine.repl)
	t.Cleanup(func() {
		_ = engine.link.Close()
		_ = engine.disc.Close()
		_ = engine.repl.Close()
	})

	v := h.peers.Version()
	engine.link.ch <- domain.LinkEvent{Online: true}
	engine.disc.ch <- discovered("peerA")
	engine.repl.ch <- status("peerA", domain.ActivityBusy, domain.DirectionActive, "")

	got := h.waitEmission(t, v)
	require.Len(t, got, 1)
	assert.Equal(t, "active peer | busy", got[0].Status)
	on, _ := h.online.Latest()
	assert.True(t, on)
}

func TestDerivePeers(t *testing.T) {
	st := func(act domain.Activity, dir domain.Direction, errText string) *replicationStatus {
		return &replicationStatus{activity: act, direction: dir, err: errText}
	}
	table := map[string]*peerEntry{
		"d-discovered":    {present: true},
		"c-stopped":       {status: st(domain.ActivityStopped, domain.DirectionActive, "")},
		"b-offline-error": {status: st(domain.ActivityOffline, domain.DirectionPassive, "timeout")},
		"a-idle":          {status: st(domain.ActivityIdle, domain.DirectionActive, "")},
		"e-offline":       {status: st(domain.ActivityOffline, domain.DirectionActive, "")},
		"f-present-stop":  {present: true, status: st(domain.ActivityStopped, domain.DirectionPassive, "")},
	}

	want := []domain.Peer{
		{ID: "a-idle", Connected: true, Status: "active peer | idle", Direction: domain.DirectionActive, Activity: domain.ActivityIdle},
		{ID: "b-offline-error", Connected: true, Status: "passive peer | offline - timeout", Direction: domain.DirectionPassive, Activity: domain.ActivityOffline, Error: "timeout"},
		{ID: "d-discovered", Status: "discovered"},
		{ID: "f-present-stop", Status: "passive peer | stopped", Direction: domain.DirectionPassive, Activity: domain.ActivityStopped},
	}
	if diff := cmp.Diff(want, derivePeers(table)); diff != "" {
		t.Errorf("derivePeers mismatch (-want +got):\n%s", diff)
	}
}
