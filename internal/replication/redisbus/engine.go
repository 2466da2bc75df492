// Package redisbus carries replication engine events over Redis pub/sub. Each
// device has its own channel set under <prefix>:<peer id>, and a hash of the
// neighbours it currently knows about.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jaakkos/peertasks/internal/app"
	"github.com/jaakkos/peertasks/internal/domain"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "peertasks"

// Keys names the Redis channels and hash of one device.
type Keys struct {
	Link        string
	Discovery   string
	Replication string
	Peers       string
}

// KeysFor returns the keys of peerID under prefix.
func KeysFor(prefix, peerID string) Keys {
	base := prefix + ":" + peerID
	return Keys{
		Link:        base + ":link",
		Discovery:   base + ":discovery",
		Replication: base + ":replication",
		Peers:       base + ":peers",
	}
}

// Engine implements app.ReplicationEngine on top of a Redis client.
type Engine struct {
	rc      *redis.Client
	localID string
	keys    Keys
	pub     *Publisher
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	cred    *domain.Credential
}

var _ app.ReplicationEngine = (*Engine)(nil)

// Option configures the engine.
type Option func(*engineConfig)

type engineConfig struct {
	prefix string
	logger *zap.Logger
}

// WithPrefix sets the key prefix (default "peertasks").
func WithPrefix(p string) Option {
	return func(c *engineConfig) {
		if p != "" {
			c.prefix = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *engineConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns an engine for localID. The client is owned by the caller.
func New(rc *redis.Client, localID string, opts ...Option) *Engine {
	cfg := engineConfig{prefix: DefaultPrefix, logger: zap.NewNop()}
	for _, o := range opts {
		o(&cfg)
	}
	return &Engine{
		rc:      rc,
		localID: localID,
		keys:    KeysFor(cfg.prefix, localID),
		pub:     NewPublisher(rc, cfg.prefix, localID),
		logger:  cfg.logger,
	}
}

func (e *Engine) LocalPeerID() string { return e.localID }

// NeighborPeers lists the peers in the device's peer hash, sorted.
func (e *Engine) NeighborPeers(ctx context.Context) ([]string, error) {
	ids, err := e.rc.HKeys(ctx, e.keys.Peers).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys %s: %w", e.keys.Peers, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// PeerInfo returns the stored info of peerID.
func (e *Engine) PeerInfo(ctx context.Context, peerID string) (domain.PeerInfo, bool, error) {
	return e.pub.peerInfo(ctx, peerID)
}

func (e *Engine) SubscribeLinkStatus(ctx context.Context) (app.Stream[domain.LinkEvent], error) {
	return subscribe[domain.LinkEvent](ctx, e.rc, e.keys.Link, e.logger)
}

func (e *Engine) SubscribeDiscovery(ctx context.Context) (app.Stream[domain.DiscoveryEvent], error) {
	return subscribe[domain.DiscoveryEvent](ctx, e.rc, e.keys.Discovery, e.logger)
}

func (e *Engine) SubscribeReplication(ctx context.Context) (app.Stream[domain.ReplicationEvent], error) {
	return subscribe[domain.ReplicationEvent](ctx, e.rc, e.keys.Replication, e.logger)
}

// Start checks the credential and announces the link as online.
func (e *Engine) Start(ctx context.Context, cred *domain.Credential) error {
	if cred == nil {
		return errors.New("redisbus: no credential")
	}
	if cred.Expired(time.Now()) {
		return fmt.Errorf("redisbus: credential %s expired at %s", cred.CommonName, cred.NotAfter.Format(time.RFC3339))
	}
	if err := e.rc.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	e.mu.Lock()
	e.cred = cred
	e.running = true
	e.mu.Unlock()
	e.logger.Info("replication started", zap.String("peer", e.localID), zap.String("common_name", cred.CommonName))
	return e.pub.PublishLink(ctx, domain.LinkEvent{Online: true, At: time.Now().UTC()})
}

// Stop announces the link as offline. Stopping a stopped engine is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	wasRunning := e.running
	e.running = false
	e.cred = nil
	e.mu.Unlock()
	if !wasRunning {
		return nil
	}
	e.logger.Info("replication stopped", zap.String("peer", e.localID))
	return e.pub.PublishLink(ctx, domain.LinkEvent{Online: false, At: time.Now().UTC()})
}

// Running reports whether Start succeeded and Stop has not been called since.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// validator is implemented by events that can be checked after decoding.
type validator interface {
	Validate() error
}

// stream adapts a Redis subscription to app.Stream.
type stream[T any] struct {
	sub    *redis.PubSub
	out    chan T
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

func subscribe[T any](ctx context.Context, rc *redis.Client, channel string, logger *zap.Logger) (app.Stream[T], error) {
	sub := rc.Subscribe(ctx, channel)
	// Receive waits for the subscription confirmation so no event published
	// after we return is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	s := &stream[T]{
		sub:    sub,
		out:    make(chan T, 64),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.run(channel, logger)
	return s, nil
}

func (s *stream[T]) run(channel string, logger *zap.Logger) {
	defer close(s.doneCh)
	defer close(s.out)
	ch := s.sub.Channel()
	for {
		select {
		case <-s.stopCh:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev T
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("unable to parse event", zap.String("channel", channel), zap.Error(err))
				continue
			}
			if v, ok := any(ev).(validator); ok {
				if err := v.Validate(); err != nil {
					logger.Warn("dropping invalid event", zap.String("channel", channel), zap.Error(err))
					continue
				}
			}
			select {
			case s.out <- ev:
			case <-s.stopCh:
				return
			}
		}
	}
}

func (s *stream[T]) Events() <-chan T { return s.out }

// Close unsubscribes and waits for the reader to exit.
func (s *stream[T]) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stopCh)
		err = s.sub.Close()
		<-s.doneCh
	})
	return err
}
