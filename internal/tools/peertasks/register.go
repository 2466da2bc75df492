// Package peertasks exposes the task list and peer status over MCP tools and resources.
package peertasks

import (
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jaakkos/peertasks/internal/app"
)

// RegisterOption configures optional behaviour of tool registration.
type RegisterOption func(*registerOpts)

type registerOpts struct {
	enabled func(name string) bool
}

// WithToolFilter registers only the tools for which enabled returns true
// (typically policy.IsToolEnabled).
func WithToolFilter(enabled func(name string) bool) RegisterOption {
	return func(o *registerOpts) { o.enabled = enabled }
}

// Register registers the task and peer tools plus the tasks/peers resources
// with the mcp-go server.
func Register(s *server.MCPServer, session *app.Session, logger *zap.Logger, opts ...RegisterOption) {
	o := registerOpts{enabled: func(string) bool { return true }}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tools := []struct {
		name string
		reg  func(*server.MCPServer, *app.Session, *zap.Logger)
	}{
		// Task tools (4)
		{"add_task", registerAddTask},
		{"toggle_task", registerToggleTask},
		{"delete_task", registerDeleteTask},
		{"list_tasks", registerListTasks},
		// Peer tools (3)
		{"list_peers", registerListPeers},
		{"refresh_peers", registerRefreshPeers},
		{"sync_status", registerSyncStatus},
	}
	for _, t := range tools {
		if o.enabled(t.name) {
			t.reg(s, session, logger)
		}
	}

	registerResources(s, session, logger)
}
