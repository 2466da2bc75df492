package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jaakkos/peertasks/internal/domain"
	"github.com/jaakkos/peertasks/internal/identity"
	"github.com/jaakkos/peertasks/internal/replication/redisbus"
	"github.com/jaakkos/peertasks/internal/repository"
)

var emitDevice string

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Publish a replication engine event on the Redis bus",
	Long: `Publishes one engine event to a device's channels, the way the
replication bridge does. Useful to drive a running server by hand.

Examples:
  peertasks emit link online
  peertasks emit discovery phone-1 online
  peertasks emit replication phone-1 busy active
  peertasks emit replication phone-1 stopped passive "tls handshake failed"`,
}

var emitLinkCmd = &cobra.Command{
	Use:   "link online|offline",
	Short: "Publish a link status event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := parseLink(args, time.Now())
		if err != nil {
			return err
		}
		return withPublisher(cmd.Context(), func(p *redisbus.Publisher) error {
			return p.PublishLink(cmd.Context(), ev)
		})
	},
}

var emitDiscoveryCmd = &cobra.Command{
	Use:   "discovery <peer> online|offline",
	Short: "Publish a neighbour discovery event",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := parseDiscovery(args, time.Now())
		if err != nil {
			return err
		}
		return withPublisher(cmd.Context(), func(p *redisbus.Publisher) error {
			return p.PublishDiscovery(cmd.Context(), ev)
		})
	},
}

var emitReplicationCmd = &cobra.Command{
	Use:   "replication <peer> <activity> active|passive [error]",
	Short: "Publish a replication status event",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := parseReplication(args, time.Now())
		if err != nil {
			return err
		}
		return withPublisher(cmd.Context(), func(p *redisbus.Publisher) error {
			return p.PublishReplication(cmd.Context(), ev)
		})
	},
}

func init() {
	emitCmd.PersistentFlags().StringVar(&emitDevice, "device", "", "target device peer id (default: this device)")
	emitCmd.AddCommand(emitLinkCmd, emitDiscoveryCmd, emitReplicationCmd)
}

// withPublisher connects to the configured bus and runs fn with a publisher
// for the target device.
func withPublisher(ctx context.Context, fn func(*redisbus.Publisher) error) error {
	pol, err := loadPolicy()
	if err != nil {
		return err
	}
	if !pol.ReplicationEnabled() {
		return fmt.Errorf("no redis address configured (set PEERTASKS_REDIS_ADDR)")
	}

	device := emitDevice
	if device == "" {
		store, err := repository.NewDocumentStore(pol.StateFile(), "", nil)
		if err != nil {
			return err
		}
		device, err = identity.NewProvider(store).LocalPeerID(ctx)
		_ = store.Close()
		if err != nil {
			return err
		}
	}

	rcfg := pol.Replication()
	rc := redis.NewClient(&redis.Options{
		Addr:     rcfg.RedisAddr,
		Password: rcfg.RedisPassword,
		DB:       rcfg.RedisDB,
	})
	defer func() { _ = rc.Close() }()
	return fn(redisbus.NewPublisher(rc, rcfg.Prefix, device))
}

func parseOnline(s string) (bool, error) {
	switch s {
	case "online", "up":
		return true, nil
	case "offline", "down":
		return false, nil
	}
	return false, fmt.Errorf("expected online or offline, got %q", s)
}

func parseLink(args []string, at time.Time) (domain.LinkEvent, error) {
	online, err := parseOnline(args[0])
	if err != nil {
		return domain.LinkEvent{}, err
	}
	return domain.LinkEvent{Online: online, At: at}, nil
}

func parseDiscovery(args []string, at time.Time) (domain.DiscoveryEvent, error) {
	online, err := parseOnline(args[1])
	if err != nil {
		return domain.DiscoveryEvent{}, err
	}
	return domain.DiscoveryEvent{PeerID: args[0], Online: online, At: at}, nil
}

func parseReplication(args []string, at time.Time) (domain.ReplicationEvent, error) {
	act := domain.Activity(args[1])
	if !act.Valid() {
		return domain.ReplicationEvent{}, fmt.Errorf("unknown activity %q", args[1])
	}
	dir := domain.Direction(args[2])
	if !dir.Valid() {
		return domain.ReplicationEvent{}, fmt.Errorf("expected active or passive, got %q", args[2])
	}
	ev := domain.ReplicationEvent{PeerID: args[0], Activity: act, Direction: dir, At: at}
	if len(args) > 3 {
		ev.Error = args[3]
	}
	return ev, nil
}
