package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskCollection is the store collection that holds tasks.
const TaskCollection = "tasks"

// Task document field names.
const (
	FieldName      = "name"
	FieldCompleted = "completed"
	FieldCreator   = "creator"
	FieldCreatedAt = "createdAt"
)

// Task is one entry of the shared task list.
type Task struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Completed bool      `json:"completed"`
	Creator   string    `json:"creator"`
	CreatedAt time.Time `json:"created_at"`
}

// Fields returns the document body for t. CreatedAt is stored as Unix
// milliseconds so it sorts numerically and survives a JSON round trip.
func (t Task) Fields() Fields {
	return Fields{
		FieldName:      t.Name,
		FieldCompleted: t.Completed,
		FieldCreator:   t.Creator,
		FieldCreatedAt: t.CreatedAt.UnixMilli(),
	}
}

// TaskQuery is the live query behind the task list: every task, oldest first.
func TaskQuery() Query {
	return Query{
		Collection: TaskCollection,
		OrderBy:    []Order{{Field: FieldCreatedAt}},
	}
}

// TaskFromRecord converts a stored document into a Task.
func TaskFromRecord(r Record) (Task, error) {
	t := Task{ID: r.Key}
	if t.ID == "" {
		return Task{}, fmt.Errorf("task record: empty key")
	}
	name, ok := r.Fields[FieldName].(string)
	if !ok || name == "" {
		return Task{}, fmt.Errorf("task %s: missing %s", r.Key, FieldName)
	}
	t.Name = name
	t.Completed, _ = r.Fields[FieldCompleted].(bool)
	t.Creator, _ = r.Fields[FieldCreator].(string)

	ms, err := int64Field(r.Fields[FieldCreatedAt])
	if err != nil {
		return Task{}, fmt.Errorf("task %s: %s: %w", r.Key, FieldCreatedAt, err)
	}
	t.CreatedAt = time.UnixMilli(ms).UTC()
	return t, nil
}

// int64Field accepts the numeric shapes a decoded JSON body can carry.
func int64Field(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case nil:
		return 0, fmt.Errorf("missing")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
