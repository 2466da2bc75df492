package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jaakkos/peertasks/internal/domain"
)

// callLog records teardown calls across fakes so tests can check ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// fakeStore is an in-memory DocumentStore. Live queries receive a batch per
// mutation, in map iteration order, so consumers must do their own sorting.
type fakeStore struct {
	mu           sync.Mutex
	docs         map[string]map[string]domain.Fields
	seq          int64
	queries      map[*fakeLiveQuery]struct{}
	mutations    int
	subscribeErr error
	writeErr     error
	log          *callLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:    make(map[string]map[string]domain.Fields),
		queries: make(map[*fakeLiveQuery]struct{}),
	}
}

func (s *fakeStore) Mutate(_ context.Context, collection, key string, fields domain.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]domain.Fields)
		s.docs[collection] = coll
	}
	doc, ok := coll[key]
	if !ok {
		doc = domain.Fields{}
		coll[key] = doc
	}
	for k, v := range fields {
		doc[k] = v
	}
	s.mutations++
	s.seq++
	s.broadcastLocked()
	return nil
}

func (s *fakeStore) Delete(_ context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	if _, ok := s.docs[collection][key]; !ok {
		return nil
	}
	delete(s.docs[collection], key)
	s.mutations++
	s.seq++
	s.broadcastLocked()
	return nil
}

func (s *fakeStore) Get(_ context.Context, collection, key string) (domain.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return domain.Record{}, false, s.writeErr
	}
	doc, ok := s.docs[collection][key]
	if !ok {
		return domain.Record{}, false, nil
	}
	return domain.Record{Key: key, Fields: copyFields(doc)}, true, nil
}

// put writes a raw document without validation, like a misbehaving peer.
func (s *fakeStore) put(collection, key string, fields domain.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]domain.Fields)
	}
	s.docs[collection][key] = fields
	s.seq++
	s.broadcastLocked()
}

func (s *fakeStore) mutationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}

func (s *fakeStore) SubscribeLiveQuery(_ context.Context, q domain.Query) (LiveQuery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	lq := &fakeLiveQuery{store: s, collection: q.Collection, ch: make(chan domain.ResultBatch, 128)}
	s.queries[lq] = struct{}{}
	lq.ch <- s.batchLocked(q.Collection)
	return lq, nil
}

func (s *fakeStore) Close() error {
	s.log.add("store.Close")
	return nil
}

func (s *fakeStore) broadcastLocked() {
	for q := range s.queries {
		q.ch <- s.batchLocked(q.collection)
	}
}

func (s *fakeStore) batchLocked(collection string) domain.ResultBatch {
	b := domain.ResultBatch{Seq: s.seq, Records: []domain.Record{}}
	for k, f := range s.docs[collection] {
		b.Records = append(b.Records, domain.Record{Key: k, Fields: copyFields(f)})
	}
	return b
}

func copyFields(f domain.Fields) domain.Fields {
	out := make(domain.Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

type fakeLiveQuery struct {
	store      *fakeStore
	collection string
	ch         chan domain.ResultBatch
	once       sync.Once
}

func (q *fakeLiveQuery) Batches() <-chan domain.ResultBatch { return q.ch }

func (q *fakeLiveQuery) Close() error {
	q.once.Do(func() {
		q.store.mu.Lock()
		delete(q.store.queries, q)
		close(q.ch)
		q.store.mu.Unlock()
		q.store.log.add("liveQuery.Close")
	})
	return nil
}

type fakeStream[T any] struct {
	name string
	ch   chan T
	once sync.Once
	log  *callLog
}

func newFakeStream[T any](name string, log *callLog) *fakeStream[T] {
	return &fakeStream[T]{name: name, ch: make(chan T, 64), log: log}
}

func (s *fakeStream[T]) Events() <-chan T { return s.ch }

func (s *fakeStream[T]) Close() error {
	s.once.Do(func() {
		close(s.ch)
		s.log.add(s.name + ".Close")
	})
	return nil
}

// fakeEngine hands out fresh streams on each subscribe and records Start/Stop.
type fakeEngine struct {
	localID string

	mu        sync.Mutex
	neighbors map[string]domain.PeerInfo
	link      *fakeStream[domain.LinkEvent]
	disc      *fakeStream[domain.DiscoveryEvent]
	repl      *fakeStream[domain.ReplicationEvent]
	starts    []*domain.Credential
	stops     int
	startErr  error
	subErr    error
	log       *callLog
}

func newFakeEngine(localID string, log *callLog) *fakeEngine {
	return &fakeEngine{
		localID:   localID,
		neighbors: make(map[string]domain.PeerInfo),
		link:      newFakeStream[domain.LinkEvent]("link", log),
		disc:      newFakeStream[domain.DiscoveryEvent]("discovery", log),
		repl:      newFakeStream[domain.ReplicationEvent]("replication", log),
		log:       log,
	}
}

func (e *fakeEngine) LocalPeerID() string { return e.localID }

func (e *fakeEngine) NeighborPeers(context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.neighbors))
	for id := range e.neighbors {
		ids = append(ids, id)
	}
	return ids, nil
}

func (e *fakeEngine) PeerInfo(_ context.Context, id string) (domain.PeerInfo, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	info, ok := e.neighbors[id]
	return info, ok, nil
}

func (e *fakeEngine) SubscribeLinkStatus(context.Context) (Stream[domain.LinkEvent], error) {
	if e.subErr != nil {
		return nil, e.subErr
	}
	return e.link, nil
}

func (e *fakeEngine) SubscribeDiscovery(context.Context) (Stream[domain.DiscoveryEvent], error) {
	if e.subErr != nil {
		return nil, e.subErr
	}
	return e.disc, nil
}

func (e *fakeEngine) SubscribeReplication(context.Context) (Stream[domain.ReplicationEvent], error) {
	if e.subErr != nil {
		return nil, e.subErr
	}
	return e.repl, nil
}

func (e *fakeEngine) Start(_ context.Context, cred *domain.Credential) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	e.starts = append(e.starts, cred)
	return nil
}

func (e *fakeEngine) Stop(context.Context) error {
	e.mu.Lock()
	e.stops++
	e.mu.Unlock()
	e.log.add("engine.Stop")
	return nil
}

func (e *fakeEngine) startCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.starts)
}

// fakeCredentials is an in-memory CredentialProvider.
type fakeCredentials struct {
	peerID   string
	validity time.Duration
	now      func() time.Time

	mu         sync.Mutex
	current    *domain.Credential
	currentErr error
	createErr  error
	deleteErr  error
	peerErr    error
	created    int
	deleted    int
	lastUsages []string
	lastAttrs  map[string]string
}

func newFakeCredentials(peerID string) *fakeCredentials {
	return &fakeCredentials{peerID: peerID, validity: time.Hour, now: time.Now}
}

func (c *fakeCredentials) LocalPeerID(context.Context) (string, error) {
	if c.peerErr != nil {
		return "", c.peerErr
	}
	return c.peerID, nil
}

func (c *fakeCredentials) CurrentCredential(context.Context, string) (*domain.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentErr != nil {
		return nil, c.currentErr
	}
	return c.current, nil
}

func (c *fakeCredentials) CreateCredential(_ context.Context, usages []string, attrs map[string]string, label string) (*domain.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return nil, c.createErr
	}
	c.created++
	c.lastUsages = usages
	c.lastAttrs = attrs
	now := c.now()
	c.current = &domain.Credential{
		Label:      label,
		PeerID:     c.peerID,
		CommonName: attrs[domain.AttrCommonName],
		Usages:     usages,
		IssuedAt:   now,
		NotAfter:   now.Add(c.validity),
	}
	c.currentErr = nil
	return c.current, nil
}

func (c *fakeCredentials) DeleteCredential(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted++
	if c.deleteErr != nil {
		return c.deleteErr
	}
	c.current = nil
	return nil
}

func (c *fakeCredentials) counts() (created, deleted int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created, c.deleted
}

var errBoom = errors.New("boom")
