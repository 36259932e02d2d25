// Package sidecar implements SidecarManager: the per-run installer,
// launcher, and reaper of dynamically-provisioned MCP sidecars, with port
// allocation, health-checking, install caching, and failure quarantine.
package sidecar

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentforge/builder/internal/mcpmodel"
)

// LaunchMode distinguishes direct HTTP/SSE servers from ones fronted by the
// sidecar bridge.
type LaunchMode string

const (
	LaunchNativeSSE LaunchMode = "native_sse"
	LaunchBridge    LaunchMode = "bridge"
)

// Managed is one sidecar owned by the manager for the lifetime of a run.
type Managed struct {
	Name        string
	Endpoint    string
	Port        int
	LaunchMode  LaunchMode
	ProcessHandle *os.Process
	LogPath     string

	cmd *exec.Cmd
}

// Config bounds the manager's behavior for one run.
type Config struct {
	Enabled              bool
	BasePort             int
	PortSpan             int
	MaxSidecarsPerRun    int
	InstallTimeout       time.Duration
	StartupTimeout       time.Duration
	LogDir               string
	BridgeListenHost     string
}

// nativeSSEHeuristics lists command/package substrings known to speak
// HTTP/SSE directly, so the manager can skip the bridge.
var nativeSSEHeuristics = []string{"playwright", "@playwright/mcp"}

// Manager owns every dynamically-provisioned sidecar process for one run.
type Manager struct {
	cfg Config
	mu  sync.Mutex

	managed              map[string]*Managed
	usedPorts            map[int]bool
	installedServers     map[string]bool
	failedInstallServers map[string]bool
	failedInstallPkgs    map[string]bool
	failedServers        map[string]bool
	quarantined          map[string]bool
}

// NewManager returns a Manager bound to cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:                  cfg,
		managed:              map[string]*Managed{},
		usedPorts:            map[int]bool{},
		installedServers:     map[string]bool{},
		failedInstallServers: map[string]bool{},
		failedInstallPkgs:    map[string]bool{},
		failedServers:        map[string]bool{},
		quarantined:          map[string]bool{},
	}
}

// Quarantine marks name as quarantined for the remainder of the run; a
// quarantined server cannot be (re)launched.
func (m *Manager) Quarantine(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quarantined[name] = true
}

// InstallIfNeeded runs server's install command if it has one and has not
// already been attempted for this server or package. Returns true if no
// install was needed or install succeeded.
func (m *Manager) InstallIfNeeded(ctx context.Context, server mcpmodel.Server) bool {
	if server.InstallCmd == "" {
		return true
	}
	m.mu.Lock()
	if m.installedServers[server.Name] {
		m.mu.Unlock()
		return true
	}
	if m.failedInstallServers[server.Name] || (server.SidecarPackage != "" && m.failedInstallPkgs[server.SidecarPackage]) {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	timeout := m.cfg.InstallTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	installCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fields := strings.Fields(server.InstallCmd)
	if len(fields) == 0 {
		return true
	}
	cmd := exec.CommandContext(installCtx, fields[0], fields[1:]...)
	if err := cmd.Run(); err != nil {
		m.mu.Lock()
		m.failedInstallServers[server.Name] = true
		if server.SidecarPackage != "" {
			m.failedInstallPkgs[server.SidecarPackage] = true
		}
		m.mu.Unlock()
		return false
	}

	m.mu.Lock()
	m.installedServers[server.Name] = true
	m.mu.Unlock()
	return true
}

// EnsureRunning returns an already-running managed endpoint if present,
// otherwise launches the sidecar. A previously quarantined server cannot be
// revived in this run.
func (m *Manager) EnsureRunning(ctx context.Context, server mcpmodel.Server) (string, error) {
	m.mu.Lock()
	if m.quarantined[server.Name] {
		m.mu.Unlock()
		return "", fmt.Errorf("sidecar: %q is quarantined for this run", server.Name)
	}
	if existing, ok := m.managed[server.Name]; ok {
		m.mu.Unlock()
		return existing.Endpoint, nil
	}
	m.mu.Unlock()
	return m.LaunchSidecar(ctx, server)
}

// LaunchSidecar provisions and starts one dynamic sidecar, returning its
// endpoint once it passes a health check.
func (m *Manager) LaunchSidecar(ctx context.Context, server mcpmodel.Server) (string, error) {
	if !m.cfg.Enabled {
		return "", fmt.Errorf("sidecar: dynamic sidecars are disabled by configuration")
	}
	m.mu.Lock()
	if m.quarantined[server.Name] {
		m.mu.Unlock()
		return "", fmt.Errorf("sidecar: %q is quarantined for this run", server.Name)
	}
	if len(m.managed) >= m.cfg.MaxSidecarsPerRun {
		m.mu.Unlock()
		return "", fmt.Errorf("sidecar: per-run cap of %d dynamic sidecars reached", m.cfg.MaxSidecarsPerRun)
	}
	m.mu.Unlock()

	if !m.InstallIfNeeded(ctx, server) {
		return "", fmt.Errorf("sidecar: install failed for %q", server.Name)
	}

	port, err := m.allocatePort()
	if err != nil {
		return "", fmt.Errorf("sidecar: allocating port for %q: %w", server.Name, err)
	}

	mode := LaunchBridge
	if isNativeSSE(server) {
		mode = LaunchNativeSSE
	}

	logPath := filepath.Join(m.cfg.LogDir, fmt.Sprintf("%s.log", server.Name))
	endpoint, proc, err := m.startAndHealthCheck(ctx, server, port, mode, logPath)
	if err != nil && mode == LaunchNativeSSE {
		// Retry once in bridge mode before giving up.
		m.releasePort(port)
		port, perr := m.allocatePort()
		if perr != nil {
			return "", fmt.Errorf("sidecar: reallocating port after native_sse failure for %q: %w", server.Name, perr)
		}
		endpoint, proc, err = m.startAndHealthCheck(ctx, server, port, LaunchBridge, logPath)
		mode = LaunchBridge
	}
	if err != nil {
		m.mu.Lock()
		m.failedServers[server.Name] = true
		m.mu.Unlock()
		tail := tailFile(logPath, 2000)
		return "", fmt.Errorf("sidecar: %q failed to become healthy: %w (log tail: %s)", server.Name, err, tail)
	}

	m.mu.Lock()
	m.managed[server.Name] = &Managed{
		Name:          server.Name,
		Endpoint:      endpoint,
		Port:          port,
		LaunchMode:    mode,
		ProcessHandle: proc.Process,
		LogPath:       logPath,
		cmd:           proc,
	}
	m.mu.Unlock()
	return endpoint, nil
}

func isNativeSSE(server mcpmodel.Server) bool {
	haystack := strings.ToLower(server.SidecarCommand + " " + server.SidecarPackage + " " + server.Command)
	for _, h := range nativeSSEHeuristics {
		if strings.Contains(haystack, h) {
			return true
		}
	}
	return false
}

func (m *Manager) startAndHealthCheck(ctx context.Context, server mcpmodel.Server, port int, mode LaunchMode, logPath string) (string, *exec.Cmd, error) {
	host := m.cfg.BridgeListenHost
	if host == "" {
		host = "127.0.0.1"
	}
	endpoint := fmt.Sprintf("http://%s:%d", host, port)

	var cmdline string
	switch mode {
	case LaunchNativeSSE:
		cmdline = fmt.Sprintf("%s --port %d --host %s", server.SidecarCommand, port, host)
	default:
		cmdline = server.SidecarCommand
	}
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("sidecar: empty sidecar command for %q", server.Name)
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return "", nil, fmt.Errorf("sidecar: creating log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", nil, fmt.Errorf("sidecar: opening log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		return "", nil, fmt.Errorf("sidecar: starting %q: %w", server.Name, err)
	}

	timeout := m.cfg.StartupTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if !pollHealthy(ctx, endpoint, mode, timeout) {
		_ = cmd.Process.Kill()
		return "", nil, fmt.Errorf("sidecar: health check timed out for %q", server.Name)
	}
	return endpoint, cmd, nil
}

func pollHealthy(ctx context.Context, endpoint string, mode LaunchMode, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 1 * time.Second}
	for time.Now().Before(deadline) {
		var ok bool
		if mode == LaunchBridge {
			resp, err := client.Get(endpoint + "/health")
			if err == nil {
				ok = resp.StatusCode == http.StatusOK
				resp.Body.Close()
			}
		} else {
			resp, err := client.Post(endpoint, "application/json", bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":0,"method":"initialize","params":{}}`)))
			if err == nil {
				ok = resp.StatusCode >= 200 && resp.StatusCode < 300
				resp.Body.Close()
			}
		}
		if ok {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return false
}

// allocatePort scans [BasePort, BasePort+PortSpan) for a port not yet
// claimed by this manager and currently bindable.
func (m *Manager) allocatePort() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := m.cfg.BasePort; p < m.cfg.BasePort+m.cfg.PortSpan; p++ {
		if m.usedPorts[p] {
			continue
		}
		if !isBindable(p) {
			continue
		}
		m.usedPorts[p] = true
		return p, nil
	}
	return 0, fmt.Errorf("sidecar: no bindable port in range [%d, %d)", m.cfg.BasePort, m.cfg.BasePort+m.cfg.PortSpan)
}

func (m *Manager) releasePort(p int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.usedPorts, p)
}

func isBindable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// StopAll terminates every managed process gracefully, then kills after a
// short wait, and releases ports.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, managed := range m.managed {
		if managed.cmd == nil || managed.cmd.Process == nil {
			continue
		}
		done := make(chan struct{})
		go func(c *exec.Cmd) {
			_ = c.Wait()
			close(done)
		}(managed.cmd)
		_ = managed.cmd.Process.Signal(os.Interrupt)
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			_ = managed.cmd.Process.Kill()
		}
		delete(m.usedPorts, managed.Port)
		_ = name
	}
	m.managed = map[string]*Managed{}
}

func tailFile(path string, maxBytes int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if len(data) > maxBytes {
		data = data[len(data)-maxBytes:]
	}
	return string(data)
}
