package peertasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jaakkos/peertasks/internal/app"
	"github.com/jaakkos/peertasks/internal/domain"
)

// registerAddTask registers the add_task tool.
func registerAddTask(s *server.MCPServer, session *app.Session, logger *zap.Logger) {
	s.AddTool(
		mcp.NewTool("add_task",
			mcp.WithDescription("Add a task to the shared list. It replicates to every connected peer."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Task name; surrounding whitespace is trimmed")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			name, _ := req.GetArguments()["name"].(string)
			task, err := session.AddTask(ctx, name)
			if err != nil {
				return toolError(err)
			}
			logger.Info("task added via mcp", zap.String("id", task.ID))
			return mcp.NewToolResultText(fmt.Sprintf("Task %s created: %s", task.ID, task.Name)), nil
		},
	)
}

// registerToggleTask registers the toggle_task tool.
func registerToggleTask(s *server.MCPServer, session *app.Session, logger *zap.Logger) {
	s.AddTool(
		mcp.NewTool("toggle_task",
			mcp.WithDescription("Flip a task between open and completed. Unknown ids are ignored."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Task id from list_tasks")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := requireString(req.GetArguments(), "id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if err := session.ToggleTask(ctx, id); err != nil {
				return toolError(err)
			}
			logger.Debug("task toggled via mcp", zap.String("id", id))
			return mcp.NewToolResultText(fmt.Sprintf("Task %s toggled", id)), nil
		},
	)
}

// registerDeleteTask registers the delete_task tool.
func registerDeleteTask(s *server.MCPServer, session *app.Session, logger *zap.Logger) {
	s.AddTool(
		mcp.NewTool("delete_task",
			mcp.WithDescription("Delete a task from the shared list. Unknown ids are ignored."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Task id from list_tasks")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := requireString(req.GetArguments(), "id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if err := session.DeleteTask(ctx, id); err != nil {
				return toolError(err)
			}
			logger.Debug("task deleted via mcp", zap.String("id", id))
			return mcp.NewToolResultText(fmt.Sprintf("Task %s deleted", id)), nil
		},
	)
}

// registerListTasks registers the list_tasks tool.
func registerListTasks(s *server.MCPServer, session *app.Session, logger *zap.Logger) {
	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List the shared tasks, oldest first."),
			mcp.WithString("status", mcp.Description("Filter by status (default: 'all')"), mcp.Enum("all", "open", "completed")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			filter := "all"
			if v, ok := req.GetArguments()["status"].(string); ok && v != "" {
				filter = v
			}
			tasks, _ := session.Tasks().Latest()
			text, n := formatTasks(tasks, filter)
			logger.Debug("listed tasks", zap.Int("count", n))
			return mcp.NewToolResultText(text), nil
		},
	)
}

func formatTasks(tasks []domain.Task, filter string) (string, int) {
	var b strings.Builder
	n := 0
	for _, t := range tasks {
		if filter == "open" && t.Completed || filter == "completed" && !t.Completed {
			continue
		}
		mark := " "
		if t.Completed {
			mark = "x"
		}
		fmt.Fprintf(&b, "[%s] %s (id: %s, by %s, %s)\n", mark, t.Name, t.ID, t.Creator, t.CreatedAt.Format("2006-01-02 15:04"))
		n++
	}
	if n == 0 {
		return "No tasks.", 0
	}
	return b.String(), n
}
