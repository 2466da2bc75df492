// Package app implements the task list use cases, the peer status aggregator,
// and the ports (interfaces) its external collaborators implement.
package app

import (
	"context"

	"github.com/jaakkos/peertasks/internal/domain"
)

// DocumentStore holds task documents and evaluates live queries.
// Implementation: internal/repository/sqlite.
type DocumentStore interface {
	// Mutate merges fields into the document at key, creating it if absent.
	Mutate(ctx context.Context, collection, key string, fields domain.Fields) error
	// Delete removes the document at key. Deleting an absent key is not an error.
	Delete(ctx context.Context, collection, key string) error
	// Get returns the document at key; ok is false when it does not exist.
	Get(ctx context.Context, collection, key string) (rec domain.Record, ok bool, err error)
	// SubscribeLiveQuery evaluates q now and again after every mutation.
	// A malformed query fails here, not later.
	SubscribeLiveQuery(ctx context.Context, q domain.Query) (LiveQuery, error)
	Close() error
}

// LiveQuery delivers full result batches until closed. Batches arrive in
// change order; the channel is closed after Close returns.
type LiveQuery interface {
	Batches() <-chan domain.ResultBatch
	Close() error
}

// Stream is a subscription to one replication engine event stream.
type Stream[T any] interface {
	Events() <-chan T
	Close() error
}

// ReplicationEngine discovers neighbours and replicates the task collection.
// Implementation: internal/replication/redisbus.
type ReplicationEngine interface {
	LocalPeerID() string
	NeighborPeers(ctx context.Context) ([]string, error)
	PeerInfo(ctx context.Context, peerID string) (domain.PeerInfo, bool, error)
	SubscribeLinkStatus(ctx context.Context) (Stream[domain.LinkEvent], error)
	SubscribeDiscovery(ctx context.Context) (Stream[domain.DiscoveryEvent], error)
	SubscribeReplication(ctx context.Context) (Stream[domain.ReplicationEvent], error)
	Start(ctx context.Context, cred *domain.Credential) error
	Stop(ctx context.Context) error
}

// CredentialProvider issues the identity used to authenticate with peers.
// Implementation: internal/identity.
type CredentialProvider interface {
	// LocalPeerID returns the stable public identifier of this device.
	LocalPeerID(ctx context.Context) (string, error)
	// CurrentCredential returns the credential stored under label, or nil.
	CurrentCredential(ctx context.Context, label string) (*domain.Credential, error)
	CreateCredential(ctx context.Context, usages []string, attributes map[string]string, label string) (*domain.Credential, error)
	DeleteCredential(ctx context.Context, label string) error
}
