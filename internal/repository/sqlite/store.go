package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/jaakkos/peertasks/internal/app"
	"github.com/jaakkos/peertasks/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	key TEXT NOT NULL,
	body TEXT NOT NULL,
	updated_seq INTEGER NOT NULL,
	PRIMARY KEY (collection, key)
);
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS credentials (
	label TEXT PRIMARY KEY,
	body TEXT NOT NULL,
	private_key BLOB NOT NULL,
	not_after TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

const indexes = `
CREATE INDEX IF NOT EXISTS idx_documents_seq ON documents(collection, updated_seq);
`

const (
	metaChangeSeq   = "change_seq"
	metaLocalPeerID = "local_peer_id"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("sqlite: store closed")

// Store implements app.DocumentStore and the identity keyring using SQLite.
type Store struct {
	db         *sql.DB
	signalPath string
	logger     *zap.Logger

	mu      sync.Mutex
	queries map[*liveQuery]struct{}
	watcher *fsnotify.Watcher
	watchWg sync.WaitGroup
}

// Option configures the store.
type Option func(*Store)

// WithChangeSignal makes the store touch path after every committed change and
// watch it, so live queries also see writes made by other processes sharing
// the database file.
func WithChangeSignal(path string) Option {
	return func(s *Store) { s.signalPath = path }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

var _ app.DocumentStore = (*Store)(nil)

// New opens the SQLite database at path, creating parent dirs and schema.
func New(path string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// One connection serializes writers and keeps a live query's sequence read
	// and row scan inside one consistent view.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	if _, err := db.Exec(indexes); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite indexes: %w", err)
	}

	s := &Store{
		db:      db,
		logger:  zap.NewNop(),
		queries: make(map[*liveQuery]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.signalPath != "" {
		s.watchSignal()
	}
	return s, nil
}

// Close stops live queries and the signal watcher, then releases the database.
// A second Close is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.db == nil {
		s.mu.Unlock()
		return nil
	}
	queries := make([]*liveQuery, 0, len(s.queries))
	for q := range s.queries {
		queries = append(queries, q)
	}
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	for _, q := range queries {
		_ = q.Close()
	}
	if w != nil {
		_ = w.Close()
		s.watchWg.Wait()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A concurrent Close may have finished while the lock was released.
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

// Mutate implements app.DocumentStore. Fields are merged into the existing body.
func (s *Store) Mutate(ctx context.Context, collection, key string, fields domain.Fields) error {
	if collection == "" || key == "" {
		return fmt.Errorf("sqlite mutate: empty collection or key")
	}
	for name := range fields {
		if !validIdent(name) {
			return fmt.Errorf("sqlite mutate: invalid field name %q", name)
		}
	}
	db, err := s.handle()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	body := domain.Fields{}
	var raw string
	err = tx.QueryRowContext(ctx, "SELECT body FROM documents WHERE collection = ? AND key = ?", collection, key).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("sqlite read %s/%s: %w", collection, key, err)
	default:
		if body, err = decodeBody(raw); err != nil {
			return fmt.Errorf("sqlite read %s/%s: %w", collection, key, err)
		}
	}
	for k, v := range fields {
		body[k] = v
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sqlite encode %s/%s: %w", collection, key, err)
	}

	seq, err := bumpSeq(ctx, tx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO documents (collection, key, body, updated_seq) VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET body = excluded.body, updated_seq = excluded.updated_seq`,
		collection, key, string(b), seq)
	if err != nil {
		return fmt.Errorf("sqlite write %s/%s: %w", collection, key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	s.changed()
	return nil
}

// Delete implements app.DocumentStore. Deleting an absent key changes nothing
// and wakes no live query.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND key = ?", collection, key)
	if err != nil {
		return fmt.Errorf("sqlite delete %s/%s: %w", collection, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite delete %s/%s: %w", collection, key, err)
	}
	if n == 0 {
		return nil
	}
	if _, err := bumpSeq(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	s.changed()
	return nil
}

// Get implements app.DocumentStore.
func (s *Store) Get(ctx context.Context, collection, key string) (domain.Record, bool, error) {
	db, err := s.handle()
	if err != nil {
		return domain.Record{}, false, err
	}
	var raw string
	err = db.QueryRowContext(ctx, "SELECT body FROM documents WHERE collection = ? AND key = ?", collection, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, fmt.Errorf("sqlite get %s/%s: %w", collection, key, err)
	}
	body, err := decodeBody(raw)
	if err != nil {
		return domain.Record{}, false, fmt.Errorf("sqlite get %s/%s: %w", collection, key, err)
	}
	return domain.Record{Key: key, Fields: body}, true, nil
}

// Snapshot evaluates q once.
func (s *Store) Snapshot(ctx context.Context, q domain.Query) (domain.ResultBatch, error) {
	stmt, args, err := buildQuery(q)
	if err != nil {
		return domain.ResultBatch{}, err
	}
	return s.evaluate(ctx, stmt, args)
}

// ChangeSeq returns the number of committed changes.
func (s *Store) ChangeSeq(ctx context.Context) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	return readSeq(ctx, db)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readSeq(ctx context.Context, q queryer) (int64, error) {
	var v string
	err := q.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", metaChangeSeq).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("meta %s: %w", metaChangeSeq, err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("meta %s %q: %w", metaChangeSeq, v, err)
	}
	return n, nil
}

func bumpSeq(ctx context.Context, tx *sql.Tx) (int64, error) {
	seq, err := readSeq(ctx, tx)
	if err != nil {
		return 0, err
	}
	seq++
	_, err = tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, metaChangeSeq, strconv.FormatInt(seq, 10))
	if err != nil {
		return 0, fmt.Errorf("meta %s: %w", metaChangeSeq, err)
	}
	return seq, nil
}

// changed runs after a commit: wakes live queries and touches the signal file.
func (s *Store) changed() {
	s.wakeAll()
	if s.signalPath != "" {
		if err := touchSignal(s.signalPath); err != nil {
			s.logger.Warn("touch change signal", zap.String("path", s.signalPath), zap.Error(err))
		}
	}
}

func (s *Store) wakeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for q := range s.queries {
		q.wake()
	}
}

// decodeBody keeps numbers as json.Number so integer timestamps are exact.
func decodeBody(raw string) (domain.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	body := domain.Fields{}
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return body, nil
}
