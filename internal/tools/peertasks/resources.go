package peertasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jaakkos/peertasks/internal/app"
	"github.com/jaakkos/peertasks/internal/domain"
)

// PeersView is the body of the peers resource.
type PeersView struct {
	Online bool          `json:"online"`
	Peers  []domain.Peer `json:"peers"`
}

// registerResources adds the live task list and peer list as JSON resources.
// Clients are told to re-read them by notifications/resources/updated.
func registerResources(s *server.MCPServer, session *app.Session, logger *zap.Logger) {
	s.AddResource(
		mcp.NewResource(
			app.TasksResourceURI,
			"Shared tasks",
			mcp.WithResourceDescription("The shared task list, oldest first."),
			mcp.WithMIMEType("application/json"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			tasks, _ := session.Tasks().Latest()
			if tasks == nil {
				tasks = []domain.Task{}
			}
			return jsonResource(req.Params.URI, tasks, logger)
		},
	)

	s.AddResource(
		mcp.NewResource(
			app.PeersResourceURI,
			"Peers",
			mcp.WithResourceDescription("Nearby peers with replication status, and whether replication is online."),
			mcp.WithMIMEType("application/json"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			online, _ := session.Online().Latest()
			peers, _ := session.Peers().Latest()
			if peers == nil {
				peers = []domain.Peer{}
			}
			return jsonResource(req.Params.URI, PeersView{Online: online, Peers: peers}, logger)
		},
	)
}

func jsonResource(uri string, v any, logger *zap.Logger) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	logger.Debug("resource read", zap.String("uri", uri))
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

// PushFunc adapts the server's broadcast to the app.Notifier push signature.
func PushFunc(s *server.MCPServer) func(method string, params any) error {
	return func(method string, params any) error {
		p, ok := params.(app.ResourceUpdatedParams)
		if !ok {
			return fmt.Errorf("unexpected notification params %T", params)
		}
		s.SendNotificationToAllClients(method, map[string]any{"uri": p.URI})
		return nil
	}
}
