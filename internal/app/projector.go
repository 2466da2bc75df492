package app

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jaakkos/peertasks/internal/domain"
	"github.com/jaakkos/peertasks/internal/metrics"
)

// TaskProjector keeps the tasks feed equal to the store's live task query.
type TaskProjector struct {
	store   DocumentStore
	feed    *Feed[[]domain.Task]
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	lq     LiveQuery
	doneCh chan struct{}
}

// NewTaskProjector creates a projector that publishes onto feed.
func NewTaskProjector(store DocumentStore, feed *Feed[[]domain.Task], logger *zap.Logger, m *metrics.Metrics) *TaskProjector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskProjector{store: store, feed: feed, logger: logger, metrics: m}
}

// Start subscribes to the live query and begins republishing batches. If the
// subscription cannot be set up, an empty list is published and a setup error
// returned; there is no retry.
func (p *TaskProjector) Start(ctx context.Context) error {
	lq, err := p.store.SubscribeLiveQuery(ctx, domain.TaskQuery())
	if err != nil {
		p.feed.Publish([]domain.Task{})
		return newError(KindSetup, "subscribe_tasks", err)
	}
	done := make(chan struct{})
	p.mu.Lock()
	p.lq = lq
	p.doneCh = done
	p.mu.Unlock()

	go p.run(lq.Batches(), done)
	return nil
}

func (p *TaskProjector) run(batches <-chan domain.ResultBatch, done chan struct{}) {
	defer close(done)
	for b := range batches {
		p.metrics.RecordBatch()
		p.feed.Publish(p.project(b))
	}
}

// project maps a batch to tasks. Rows that do not decode are skipped.
func (p *TaskProjector) project(b domain.ResultBatch) []domain.Task {
	tasks := make([]domain.Task, 0, len(b.Records))
	for _, r := range b.Records {
		t, err := domain.TaskFromRecord(r)
		if err != nil {
			p.logger.Warn("skipping malformed task document", zap.String("key", r.Key), zap.Error(err))
			continue
		}
		tasks = append(tasks, t)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks
}

// Stop releases the live query and waits for the delivery goroutine.
func (p *TaskProjector) Stop() error {
	p.mu.Lock()
	lq, done := p.lq, p.doneCh
	p.lq, p.doneCh = nil, nil
	p.mu.Unlock()
	if lq == nil {
		return nil
	}
	err := lq.Close()
	<-done
	return err
}
