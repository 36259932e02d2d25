package mcpclient

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/builder/internal/mcpmodel"
)

func TestExtractText_ConcatenatesTextContent(t *testing.T) {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "hello"},
			mcp.TextContent{Type: "text", Text: "world"},
		},
	}
	require.Equal(t, "hello world", ExtractText(result))
}

func TestExtractText_NilResult(t *testing.T) {
	require.Equal(t, "", ExtractText(nil))
}

func TestNewUnderlyingClient_UnsupportedTransport(t *testing.T) {
	_, err := newUnderlyingClient(mcpmodel.Server{Name: "x", Transport: "carrier-pigeon"})
	require.Error(t, err)
}
