package peertasks

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/jaakkos/peertasks/internal/app"
	"github.com/jaakkos/peertasks/internal/identity"
	"github.com/jaakkos/peertasks/internal/repository/sqlite"
)

// testSession starts a local-only session over a temp SQLite store.
func testSession(t *testing.T) *app.Session {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "state.sqlite"))
	require.NoError(t, err)
	session := app.NewSession(app.Dependencies{
		Store:       store,
		Credentials: identity.NewProvider(store),
	}, app.SessionConfig{})
	require.NoError(t, session.Start(context.Background()))
	t.Cleanup(func() { _ = session.Close(context.Background()) })
	return session
}

// testServer creates a MCPServer with all tools registered for testing.
func testServer(session *app.Session, opts ...RegisterOption) *server.MCPServer {
	s := server.NewMCPServer("test", "1.0.0", server.WithResourceCapabilities(true, false))
	Register(s, session, nil, opts...)
	return s
}

func rpc(t *testing.T, s *server.MCPServer, method string, params map[string]any) (json.RawMessage, error) {
	t.Helper()
	reqJSON, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	respBytes, err := json.Marshal(s.HandleMessage(context.Background(), reqJSON))
	require.NoError(t, err)

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &resp))
	if resp.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

// callTool calls a registered tool via the MCPServer's HandleMessage.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (*mcp.CallToolResult, error) {
	t.Helper()
	raw, err := rpc(t, s, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, err
	}
	var result mcp.CallToolResult
	require.NoError(t, json.Unmarshal(raw, &result))
	return &result, nil
}

// readResource returns the text of a resource read.
func readResource(t *testing.T, s *server.MCPServer, uri string) string {
	t.Helper()
	raw, err := rpc(t, s, "resources/read", map[string]any{"uri": uri})
	require.NoError(t, err)
	var result struct {
		Contents []struct {
			URI  string `json:"uri"`
			Text string `json:"text"`
		} `json:"contents"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Contents, 1)
	return result.Contents[0].Text
}

// resultText extracts the first text content from a CallToolResult.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}
