package peertasks

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jaakkos/peertasks/internal/app"
)

// requireString extracts a non-empty string from args by key.
func requireString(args map[string]any, key string) (string, error) {
	v, _ := args[key].(string)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// toolError turns caller mistakes into a tool-level error result the client
// can show, and passes anything else through as a protocol error.
func toolError(err error) (*mcp.CallToolResult, error) {
	if errors.Is(err, app.ErrInvalidInput) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return nil, err
}
