package sqlite

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jaakkos/peertasks/internal/app"
	"github.com/jaakkos/peertasks/internal/domain"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdent(s string) bool { return identRe.MatchString(s) }

// buildQuery translates q into SQL over the documents table. Field paths are
// bound as parameters; only their names are validated.
func buildQuery(q domain.Query) (string, []any, error) {
	if q.Collection == "" {
		return "", nil, fmt.Errorf("sqlite query: empty collection")
	}
	var b strings.Builder
	args := []any{q.Collection}
	b.WriteString("SELECT key, body FROM documents WHERE collection = ?")
	for _, c := range q.Where {
		if !validIdent(c.Field) {
			return "", nil, fmt.Errorf("sqlite query: invalid field %q", c.Field)
		}
		b.WriteString(" AND json_extract(body, ?) = ?")
		args = append(args, "$."+c.Field, c.Value)
	}
	b.WriteString(" ORDER BY ")
	for _, o := range q.OrderBy {
		if !validIdent(o.Field) {
			return "", nil, fmt.Errorf("sqlite query: invalid order field %q", o.Field)
		}
		b.WriteString("json_extract(body, ?)")
		if o.Desc {
			b.WriteString(" DESC")
		}
		b.WriteString(", ")
		args = append(args, "$."+o.Field)
	}
	b.WriteString("key")
	return b.String(), args, nil
}

// evaluate reads the change sequence and the result rows in one transaction.
func (s *Store) evaluate(ctx context.Context, stmt string, args []any) (domain.ResultBatch, error) {
	db, err := s.handle()
	if err != nil {
		return domain.ResultBatch{}, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ResultBatch{}, fmt.Errorf("sqlite begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	seq, err := readSeq(ctx, tx)
	if err != nil {
		return domain.ResultBatch{}, err
	}
	rows, err := tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return domain.ResultBatch{}, fmt.Errorf("sqlite query: %w", err)
	}
	defer rows.Close()

	batch := domain.ResultBatch{Seq: seq, Records: []domain.Record{}}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return domain.ResultBatch{}, fmt.Errorf("sqlite scan: %w", err)
		}
		body, err := decodeBody(raw)
		if err != nil {
			s.logger.Warn("skipping undecodable document", zap.String("key", key), zap.Error(err))
			continue
		}
		batch.Records = append(batch.Records, domain.Record{Key: key, Fields: body})
	}
	if err := rows.Err(); err != nil {
		return domain.ResultBatch{}, fmt.Errorf("sqlite rows: %w", err)
	}
	return batch, nil
}

// liveQuery re-evaluates its statement whenever the store wakes it. Wake-ups
// coalesce into one pending slot, and a batch is only sent when the change
// sequence moved since the last one.
type liveQuery struct {
	store *Store
	stmt  string
	args  []any

	out     chan domain.ResultBatch
	wakeCh  chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	lastSeq int64
	once    sync.Once
}

// SubscribeLiveQuery implements app.DocumentStore. The first evaluation runs
// before it returns, so a bad query fails here and the first batch is ready.
func (s *Store) SubscribeLiveQuery(ctx context.Context, q domain.Query) (app.LiveQuery, error) {
	stmt, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}
	first, err := s.evaluate(ctx, stmt, args)
	if err != nil {
		return nil, err
	}

	lctx, cancel := context.WithCancel(context.Background())
	lq := &liveQuery{
		store:   s,
		stmt:    stmt,
		args:    args,
		out:     make(chan domain.ResultBatch, 1),
		wakeCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		ctx:     lctx,
		cancel:  cancel,
		lastSeq: first.Seq,
	}
	lq.out <- first

	s.mu.Lock()
	if s.db == nil {
		s.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	s.queries[lq] = struct{}{}
	s.mu.Unlock()

	go lq.run()
	// A commit between the first evaluation and registration would otherwise go unseen.
	lq.wake()
	return lq, nil
}

func (q *liveQuery) Batches() <-chan domain.ResultBatch { return q.out }

func (q *liveQuery) wake() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}

func (q *liveQuery) run() {
	defer close(q.doneCh)
	defer close(q.out)
	for {
		select {
		case <-q.stopCh:
			return
		case <-q.wakeCh:
		}
		b, err := q.store.evaluate(q.ctx, q.stmt, q.args)
		if err != nil {
			if q.ctx.Err() != nil {
				return
			}
			q.store.logger.Warn("live query evaluation failed", zap.Error(err))
			continue
		}
		if b.Seq <= q.lastSeq {
			continue
		}
		q.lastSeq = b.Seq
		select {
		case q.out <- b:
		case <-q.stopCh:
			return
		}
	}
}

// Close stops evaluation and closes the batch channel. Safe to call twice.
func (q *liveQuery) Close() error {
	q.once.Do(func() {
		q.store.mu.Lock()
		delete(q.store.queries, q)
		q.store.mu.Unlock()
		close(q.stopCh)
		q.cancel()
		<-q.doneCh
	})
	return nil
}
