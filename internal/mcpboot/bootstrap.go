// Package mcpboot implements deterministic startup of preset MCP servers
// from config and environment, classifying each as available or unavailable
// before the orchestrator's main pipeline runs.
package mcpboot

import (
	"os"
	"os/exec"
	"path"

	"github.com/agentforge/builder/internal/mcpmodel"
)

// PresetMode selects how the filesystem and browser presets are materialized.
type PresetMode string

const (
	ModePythonPlusNodeSidecar PresetMode = "python_plus_node_sidecar"
	ModePythonStdioOnly       PresetMode = "python_stdio_only"
)

// Config is the bootstrap's input.
type Config struct {
	Mode              PresetMode
	AllowNodeStdio    bool
	FilesystemEnvVar  string
	BrowserEnvVar     string
}

// Bootstrap produces a BootstrapResult classifying every preset server as
// available or unavailable.
func Bootstrap(cfg Config, projectDir string) mcpmodel.BootstrapResult {
	result := mcpmodel.BootstrapResult{Unavailable: map[string]string{}}

	if cfg.Mode == ModePythonStdioOnly {
		return result
	}

	presets := presetServers(cfg, projectDir)
	for _, s := range presets {
		result.Requested = append(result.Requested, s.Name)
		if available, reason := classify(s); available {
			result.Available = append(result.Available, s)
		} else {
			result.Unavailable[s.Name] = reason
		}
	}
	return result
}

// filesystemWorkspace scopes the filesystem-MCP preset to its own
// subdirectory of the project, matching internal/agents's
// normalizeFilesystemArgs.
func filesystemWorkspace(projectDir string) string {
	return path.Join(projectDir, ".mcp", "filesystem")
}

func presetServers(cfg Config, projectDir string) []mcpmodel.Server {
	if cfg.AllowNodeStdio {
		return []mcpmodel.Server{
			{Name: "filesystem", Transport: mcpmodel.TransportStdio, Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-filesystem", filesystemWorkspace(projectDir)}},
			{Name: "browser", Transport: mcpmodel.TransportStdio, Command: "npx", Args: []string{"-y", "@playwright/mcp"}},
		}
	}
	return []mcpmodel.Server{
		{Name: "filesystem", Transport: mcpmodel.TransportHTTPSSE, Endpoint: envOrEmpty(cfg.FilesystemEnvVar)},
		{Name: "browser", Transport: mcpmodel.TransportHTTPSSE, Endpoint: envOrEmpty(cfg.BrowserEnvVar)},
	}
}

func envOrEmpty(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// classify implements the availability rule: an http_sse server is
// available iff its endpoint is non-empty; a stdio server is available iff
// its command exists on PATH or is an existing absolute/relative file.
func classify(s mcpmodel.Server) (bool, string) {
	switch s.Transport {
	case mcpmodel.TransportHTTPSSE:
		if s.Endpoint == "" {
			return false, "missing_endpoint"
		}
		return true, ""
	case mcpmodel.TransportStdio:
		if s.Command == "" {
			return false, "missing_command"
		}
		if _, err := exec.LookPath(s.Command); err == nil {
			return true, ""
		}
		if _, err := os.Stat(s.Command); err == nil {
			return true, ""
		}
		return false, "command_not_found"
	default:
		return false, "unknown_transport"
	}
}
