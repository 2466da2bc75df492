package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jaakkos/peertasks/internal/domain"
)

// Publisher emits engine events for one device. The engine uses it for link
// events; the emit command uses it to drive a running session by hand.
type Publisher struct {
	rc   *redis.Client
	keys Keys
}

// NewPublisher returns a publisher for peerID's channels under prefix.
func NewPublisher(rc *redis.Client, prefix, peerID string) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{rc: rc, keys: KeysFor(prefix, peerID)}
}

// PublishLink publishes a link status event.
func (p *Publisher) PublishLink(ctx context.Context, ev domain.LinkEvent) error {
	return p.publish(ctx, p.keys.Link, ev)
}

// PublishDiscovery records the peer in the peer hash (or removes it when
// offline) and publishes the event.
func (p *Publisher) PublishDiscovery(ctx context.Context, ev domain.DiscoveryEvent) error {
	if ev.PeerID == "" {
		return errors.New("discovery event: empty peer id")
	}
	if ev.Online {
		info, _, err := p.peerInfo(ctx, ev.PeerID)
		if err != nil {
			return err
		}
		info.PeerID = ev.PeerID
		info.Online = true
		if err := p.putInfo(ctx, info); err != nil {
			return err
		}
	} else if err := p.rc.HDel(ctx, p.keys.Peers, ev.PeerID).Err(); err != nil {
		return fmt.Errorf("redis hdel %s: %w", p.keys.Peers, err)
	}
	return p.publish(ctx, p.keys.Discovery, ev)
}

// PublishReplication updates the peer's stored status and publishes the event.
func (p *Publisher) PublishReplication(ctx context.Context, ev domain.ReplicationEvent) error {
	if ev.PeerID == "" {
		return errors.New("replication event: empty peer id")
	}
	info, _, err := p.peerInfo(ctx, ev.PeerID)
	if err != nil {
		return err
	}
	info.PeerID = ev.PeerID
	info.Activity = ev.Activity
	info.Direction = ev.Direction
	info.Error = ev.Error
	if err := p.putInfo(ctx, info); err != nil {
		return err
	}
	return p.publish(ctx, p.keys.Replication, ev)
}

func (p *Publisher) publish(ctx context.Context, channel string, ev any) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.rc.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

func (p *Publisher) peerInfo(ctx context.Context, peerID string) (domain.PeerInfo, bool, error) {
	raw, err := p.rc.HGet(ctx, p.keys.Peers, peerID).Result()
	if errors.Is(err, redis.Nil) {
		return domain.PeerInfo{PeerID: peerID}, false, nil
	}
	if err != nil {
		return domain.PeerInfo{}, false, fmt.Errorf("redis hget %s: %w", p.keys.Peers, err)
	}
	var info domain.PeerInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return domain.PeerInfo{}, false, fmt.Errorf("peer info %s: %w", peerID, err)
	}
	return info, true, nil
}

func (p *Publisher) putInfo(ctx context.Context, info domain.PeerInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal peer info: %w", err)
	}
	if err := p.rc.HSet(ctx, p.keys.Peers, info.PeerID, data).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", p.keys.Peers, err)
	}
	return nil
}
