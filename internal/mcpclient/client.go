// Package mcpclient wraps github.com/mark3labs/mcp-go/client for ordinary
// (non-bridged) MCP server startup, handshake, and tool calls, grounded
// directly on the teacher's internal/mcp.ClientManager.
package mcpclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentforge/builder/internal/mcpmodel"
	"github.com/agentforge/builder/internal/version"
)

// DefaultTimeout bounds handshake/list/call operations when the caller
// doesn't specify one.
const DefaultTimeout = 60 * time.Second

// Manager owns one *client.Client per server name for the lifetime of a
// single TestExecutor.RunAll call.
type Manager struct {
	mu      sync.Mutex
	clients map[string]*client.Client
	timeout time.Duration
}

// NewManager returns an empty client Manager.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{clients: map[string]*client.Client{}, timeout: timeout}
}

// Start creates, starts, and initializes a client for server, completing the
// initialize + notifications/initialized handshake. For stdio servers this
// spawns a subprocess; for http_sse servers it dials server.Endpoint.
func (m *Manager) Start(ctx context.Context, server mcpmodel.Server) error {
	m.mu.Lock()
	if _, ok := m.clients[server.Name]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	c, err := newUnderlyingClient(server)
	if err != nil {
		return fmt.Errorf("mcpclient: creating client for %q: %w", server.Name, err)
	}

	startCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := c.Start(startCtx); err != nil {
		return fmt.Errorf("mcpclient: starting %q: %w", server.Name, err)
	}

	initCtx, cancel2 := context.WithTimeout(ctx, m.timeout)
	defer cancel2()
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "builder", Version: version.Get()}
	if _, err := c.Initialize(initCtx, initReq); err != nil {
		_ = c.Close()
		return fmt.Errorf("mcpclient: initializing %q: %w", server.Name, err)
	}

	m.mu.Lock()
	m.clients[server.Name] = c
	m.mu.Unlock()
	return nil
}

func newUnderlyingClient(server mcpmodel.Server) (*client.Client, error) {
	switch server.Transport {
	case mcpmodel.TransportStdio:
		env := make([]string, 0, len(server.Env))
		for k, v := range server.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		return client.NewStdioMCPClient(server.Command, env, server.Args...)
	case mcpmodel.TransportHTTPSSE:
		return client.NewStreamableHttpClient(server.Endpoint)
	default:
		return nil, fmt.Errorf("mcpclient: unsupported transport %q", server.Transport)
	}
}

// CallTool issues tools/call on the named server.
func (m *Manager) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	m.mu.Lock()
	c, ok := m.clients[serverName]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mcpclient: %q is not started", serverName)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	if args != nil {
		req.Params.Arguments = args
	}
	result, err := c.CallTool(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: calling %q on %q: %w", toolName, serverName, err)
	}
	return result, nil
}

// Stop closes and forgets the client for one server, so a later Start
// connects afresh.
func (m *Manager) Stop(serverName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[serverName]; ok {
		_ = c.Close()
		delete(m.clients, serverName)
	}
}

// StopAll closes every started client.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.clients {
		_ = c.Close()
		delete(m.clients, name)
	}
}

// ExtractText concatenates all text-typed content items from a CallTool
// result, single-space separated, per the step success-criterion algorithm.
func ExtractText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, item := range result.Content {
		if tc, ok := item.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}
