package peertasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jaakkos/peertasks/internal/app"
)

// SyncStatus is the payload of sync_status.
type SyncStatus struct {
	LocalPeerID string `json:"local_peer_id"`
	Online      bool   `json:"online"`
	Peers       int    `json:"peers"`
	Connected   int    `json:"connected"`
	Tasks       int    `json:"tasks"`
}

// registerListPeers registers the list_peers tool.
func registerListPeers(s *server.MCPServer, session *app.Session, logger *zap.Logger) {
	s.AddTool(
		mcp.NewTool("list_peers",
			mcp.WithDescription("List nearby peers and their replication status. The list updates after a short quiet period."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			peers, _ := session.Peers().Latest()
			if len(peers) == 0 {
				return mcp.NewToolResultText("No peers."), nil
			}
			var b strings.Builder
			for _, p := range peers {
				state := "disconnected"
				if p.Connected {
					state = "connected"
				}
				fmt.Fprintf(&b, "%s [%s] %s\n", p.ID, state, p.Status)
			}
			logger.Debug("listed peers", zap.Int("count", len(peers)))
			return mcp.NewToolResultText(b.String()), nil
		},
	)
}

// registerRefreshPeers registers the refresh_peers tool.
func registerRefreshPeers(s *server.MCPServer, session *app.Session, logger *zap.Logger) {
	s.AddTool(
		mcp.NewTool("refresh_peers",
			mcp.WithDescription("Request a fresh peer list. It is published once peer activity has been quiet for the debounce window."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			session.RefreshPeers()
			logger.Debug("peer refresh requested")
			return mcp.NewToolResultText("Peer list refresh scheduled"), nil
		},
	)
}

// registerSyncStatus registers the sync_status tool.
func registerSyncStatus(s *server.MCPServer, session *app.Session, logger *zap.Logger) {
	s.AddTool(
		mcp.NewTool("sync_status",
			mcp.WithDescription("Summarize local identity, replication link, peers and task count as JSON."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultJSON(Status(session))
		},
	)
}

// Status snapshots the session's feeds.
func Status(session *app.Session) SyncStatus {
	online, _ := session.Online().Latest()
	peers, _ := session.Peers().Latest()
	tasks, _ := session.Tasks().Latest()
	st := SyncStatus{
		LocalPeerID: session.LocalPeerID(),
		Online:      online,
		Peers:       len(peers),
		Tasks:       len(tasks),
	}
	for _, p := range peers {
		if p.Connected {
			st.Connected++
		}
	}
	return st
}
