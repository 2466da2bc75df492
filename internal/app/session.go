package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/peertasks/internal/domain"
	"github.com/jaakkos/peertasks/internal/metrics"
)

// DefaultRenewInterval is how often a running session re-checks its credential.
const DefaultRenewInterval = time.Hour

// Dependencies are the external collaborators of a session. Engine may be nil,
// in which case the session runs local-only: tasks work, peers stay empty and
// online stays false.
type Dependencies struct {
	Store       DocumentStore
	Credentials CredentialProvider
	Engine      ReplicationEngine
}

// SessionConfig tunes a session. Zero values select defaults.
type SessionConfig struct {
	QuietPeriod     time.Duration
	CredentialLabel string
	CommonPrefix    string
	RenewBefore     time.Duration
	RenewInterval   time.Duration
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
}

// Session owns one instance of every core component for the lifetime of a
// running process and exposes the feeds and commands to outer layers.
type Session struct {
	deps   Dependencies
	cfg    SessionConfig
	logger *zap.Logger

	tasks  *Feed[[]domain.Task]
	peers  *Feed[[]domain.Peer]
	online *Feed[bool]

	projector  *TaskProjector
	aggregator *PeerAggregator
	renewer    *IdentityRenewer

	mu       sync.RWMutex
	peerID   string
	commands *TaskCommands
	streams  []interface{ Close() error }
	engineUp bool
	started  bool

	stopCh  chan struct{}
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// NewSession wires the components. Nothing runs until Start.
func NewSession(deps Dependencies, cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RenewInterval <= 0 {
		cfg.RenewInterval = DefaultRenewInterval
	}
	s := &Session{
		deps:   deps,
		cfg:    cfg,
		logger: cfg.Logger,
		tasks:  NewFeed[[]domain.Task](),
		peers:  NewFeed[[]domain.Peer](),
		online: NewFeed[bool](),
		stopCh: make(chan struct{}),
	}
	s.peers.Publish([]domain.Peer{})
	s.online.Publish(false)

	s.projector = NewTaskProjector(deps.Store, s.tasks, cfg.Logger.Named("projector"), cfg.Metrics)
	if deps.Credentials != nil {
		s.renewer = NewIdentityRenewer(deps.Credentials,
			WithCredentialLabel(cfg.CredentialLabel),
			WithCommonNamePrefix(cfg.CommonPrefix),
			WithRenewBefore(cfg.RenewBefore),
			WithRenewerLogger(cfg.Logger.Named("identity")),
			WithRenewerMetrics(cfg.Metrics),
		)
	}
	return s
}

// Start resolves the local identity, subscribes the projector, and brings up
// replication. Failures are joined into the returned error but do not stop
// the session: it keeps running with whatever came up.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return newError(KindSetup, "start", errors.New("session already started"))
	}
	s.started = true
	s.mu.Unlock()

	var errs []error

	peerID, err := s.resolvePeerID(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	agg := NewPeerAggregator(s.peers, s.online,
		WithQuietPeriod(s.cfg.QuietPeriod),
		WithLocalPeerID(peerID),
		WithAggregatorLogger(s.logger.Named("peers")),
		WithAggregatorMetrics(s.cfg.Metrics),
	)
	agg.Start()

	s.mu.Lock()
	s.aggregator = agg
	s.peerID = peerID
	s.commands = NewTaskCommands(s.deps.Store, peerID,
		WithCommandsLogger(s.logger.Named("commands")),
		WithCommandsMetrics(s.cfg.Metrics),
	)
	s.mu.Unlock()

	if err := s.projector.Start(ctx); err != nil {
		s.logger.Error("task view unavailable", zap.Error(err))
		errs = append(errs, err)
	}

	if s.deps.Engine != nil {
		if err := s.startReplication(ctx); err != nil {
			s.logger.Error("replication unavailable", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) resolvePeerID(ctx context.Context) (string, error) {
	if s.deps.Credentials != nil {
		id, err := s.deps.Credentials.LocalPeerID(ctx)
		if err == nil && id != "" {
			return id, nil
		}
		if err != nil {
			err = newError(KindSetup, "local_peer_id", err)
		}
		if s.deps.Engine != nil {
			return s.deps.Engine.LocalPeerID(), err
		}
		return "", err
	}
	if s.deps.Engine != nil {
		return s.deps.Engine.LocalPeerID(), nil
	}
	return "", nil
}

func (s *Session) startReplication(ctx context.Context) error {
	engine := s.deps.Engine

	link, err := engine.SubscribeLinkStatus(ctx)
	if err != nil {
		return newError(KindSetup, "subscribe_link", err)
	}
	s.trackStream(link)
	disc, err := engine.SubscribeDiscovery(ctx)
	if err != nil {
		return newError(KindSetup, "subscribe_discovery", err)
	}
	s.trackStream(disc)
	repl, err := engine.SubscribeReplication(ctx)
	if err != nil {
		return newError(KindSetup, "subscribe_replication", err)
	}
	s.trackStream(repl)

	// The streams are subscribed up front so nothing published during start
	// is lost, but they only reach the aggregator once the engine is up.
	if s.renewer == nil {
		return newError(KindCredential, "start_replication", errors.New("no credential provider"))
	}
	cred, _, err := s.renewer.Ensure(ctx)
	if err != nil {
		return err
	}
	if err := engine.Start(ctx, cred); err != nil {
		return newError(KindSetup, "start_replication", err)
	}
	s.mu.Lock()
	s.engineUp = true
	s.mu.Unlock()

	s.aggregator.Attach(link, disc, repl)
	if err := s.aggregator.Seed(ctx, engine); err != nil {
		s.logger.Warn("peer seeding failed", zap.Error(err))
	}

	s.wg.Add(1)
	go s.renewLoop()
	return nil
}

func (s *Session) trackStream(st interface{ Close() error }) {
	s.mu.Lock()
	s.streams = append(s.streams, st)
	s.mu.Unlock()
}

// renewLoop re-checks the credential and restarts the engine when it was renewed.
func (s *Session) renewLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.RenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.renewOnce()
		}
	}
}

func (s *Session) renewOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cred, renewed, err := s.renewer.Ensure(ctx)
	if err != nil {
		s.logger.Error("credential renewal failed", zap.Error(err))
		return
	}
	if !renewed {
		return
	}
	if err := s.deps.Engine.Stop(ctx); err != nil {
		s.logger.Warn("engine stop before restart failed", zap.Error(err))
	}
	if err := s.deps.Engine.Start(ctx, cred); err != nil {
		s.logger.Error("engine restart with renewed credential failed", zap.Error(err))
		s.mu.Lock()
		s.engineUp = false
		s.mu.Unlock()
	}
}

// Tasks is the ordered task list feed.
func (s *Session) Tasks() *Feed[[]domain.Task] { return s.tasks }

// Peers is the debounced peer list feed.
func (s *Session) Peers() *Feed[[]domain.Peer] { return s.peers }

// Online is the replication link feed.
func (s *Session) Online() *Feed[bool] { return s.online }

// LocalPeerID returns the identifier resolved at Start.
func (s *Session) LocalPeerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerID
}

func (s *Session) cmds(op string) (*TaskCommands, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.commands == nil {
		return nil, newError(KindSetup, op, errors.New("session not started"))
	}
	return s.commands, nil
}

// AddTask creates a task.
func (s *Session) AddTask(ctx context.Context, name string) (domain.Task, error) {
	c, err := s.cmds("add_task")
	if err != nil {
		return domain.Task{}, err
	}
	return c.AddTask(ctx, name)
}

// ToggleTask flips a task's completed flag.
func (s *Session) ToggleTask(ctx context.Context, id string) error {
	c, err := s.cmds("toggle_task")
	if err != nil {
		return err
	}
	return c.ToggleTask(ctx, id)
}

// DeleteTask removes a task.
func (s *Session) DeleteTask(ctx context.Context, id string) error {
	c, err := s.cmds("delete_task")
	if err != nil {
		return err
	}
	return c.DeleteTask(ctx, id)
}

// RefreshPeers asks for a fresh peer list emission after the quiet period.
func (s *Session) RefreshPeers() {
	s.mu.RLock()
	agg := s.aggregator
	s.mu.RUnlock()
	if agg != nil {
		agg.Refresh()
	}
}

// Close tears down in order: feeds, aggregator, live query, engine streams
// and engine, store. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.tasks.Close()
	s.peers.Close()
	s.online.Close()

	close(s.stopCh)
	s.wg.Wait()

	s.mu.RLock()
	agg := s.aggregator
	s.mu.RUnlock()
	if agg != nil {
		agg.Stop()
	}

	var errs []error
	if err := s.projector.Stop(); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	streams := s.streams
	s.streams = nil
	engineUp := s.engineUp
	s.engineUp = false
	s.mu.Unlock()
	for _, st := range streams {
		if err := st.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if engineUp {
		if err := s.deps.Engine.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if s.deps.Store != nil {
		if err := s.deps.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
