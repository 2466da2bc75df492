package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jaakkos/peertasks/internal/domain"
	"github.com/jaakkos/peertasks/internal/metrics"
)

// TaskCommands turns user intents into store mutations. It never touches the
// task list directly; the projector picks changes up from the live query.
type TaskCommands struct {
	store   DocumentStore
	peerID  string
	now     func() time.Time
	newID   func() string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// CommandsOption configures TaskCommands.
type CommandsOption func(*TaskCommands)

// WithClock overrides time.Now for created timestamps.
func WithClock(now func() time.Time) CommandsOption {
	return func(c *TaskCommands) { c.now = now }
}

// WithIDGenerator overrides the UUID generator for task ids.
func WithIDGenerator(gen func() string) CommandsOption {
	return func(c *TaskCommands) { c.newID = gen }
}

// WithCommandsLogger sets the logger.
func WithCommandsLogger(l *zap.Logger) CommandsOption {
	return func(c *TaskCommands) { c.logger = l }
}

// WithCommandsMetrics sets the metrics sink.
func WithCommandsMetrics(m *metrics.Metrics) CommandsOption {
	return func(c *TaskCommands) { c.metrics = m }
}

// NewTaskCommands creates commands that write to store as peerID.
func NewTaskCommands(store DocumentStore, peerID string, opts ...CommandsOption) *TaskCommands {
	c := &TaskCommands{
		store:  store,
		peerID: peerID,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AddTask creates a new incomplete task named name (surrounding whitespace trimmed).
func (c *TaskCommands) AddTask(ctx context.Context, name string) (domain.Task, error) {
	const op = "add_task"
	name = strings.TrimSpace(name)
	if name == "" {
		c.metrics.RecordCommand(op, "invalid")
		return domain.Task{}, newError(KindInvalidInput, op, errors.New("task name is empty"))
	}
	t := domain.Task{
		ID:        c.newID(),
		Name:      name,
		Creator:   c.peerID,
		CreatedAt: time.UnixMilli(c.now().UnixMilli()).UTC(),
	}
	if err := c.store.Mutate(ctx, domain.TaskCollection, t.ID, t.Fields()); err != nil {
		c.metrics.RecordCommand(op, "error")
		return domain.Task{}, newError(KindStorage, op, err)
	}
	c.metrics.RecordCommand(op, "ok")
	c.logger.Debug("task added", zap.String("id", t.ID), zap.String("name", t.Name))
	return t, nil
}

// ToggleTask flips the completed flag of task id. An unknown id is a no-op.
func (c *TaskCommands) ToggleTask(ctx context.Context, id string) error {
	const op = "toggle_task"
	if id == "" {
		c.metrics.RecordCommand(op, "invalid")
		return newError(KindInvalidInput, op, errors.New("task id is empty"))
	}
	rec, ok, err := c.store.Get(ctx, domain.TaskCollection, id)
	if err != nil {
		c.metrics.RecordCommand(op, "error")
		return newError(KindStorage, op, err)
	}
	if !ok {
		c.metrics.RecordCommand(op, "noop")
		return nil
	}
	completed, _ := rec.Fields[domain.FieldCompleted].(bool)
	if err := c.store.Mutate(ctx, domain.TaskCollection, id, domain.Fields{domain.FieldCompleted: !completed}); err != nil {
		c.metrics.RecordCommand(op, "error")
		return newError(KindStorage, op, err)
	}
	c.metrics.RecordCommand(op, "ok")
	c.logger.Debug("task toggled", zap.String("id", id), zap.Bool("completed", !completed))
	return nil
}

// DeleteTask removes task id. An unknown id is a no-op.
func (c *TaskCommands) DeleteTask(ctx context.Context, id string) error {
	const op = "delete_task"
	if id == "" {
		c.metrics.RecordCommand(op, "invalid")
		return newError(KindInvalidInput, op, errors.New("task id is empty"))
	}
	_, ok, err := c.store.Get(ctx, domain.TaskCollection, id)
	if err != nil {
		c.metrics.RecordCommand(op, "error")
		return newError(KindStorage, op, err)
	}
	if !ok {
		c.metrics.RecordCommand(op, "noop")
		return nil
	}
	if err := c.store.Delete(ctx, domain.TaskCollection, id); err != nil {
		c.metrics.RecordCommand(op, "error")
		return newError(KindStorage, op, err)
	}
	c.metrics.RecordCommand(op, "ok")
	c.logger.Debug("task deleted", zap.String("id", id))
	return nil
}
