package sidecar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentforge/builder/internal/mcpmodel"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(Config{
		Enabled:           true,
		BasePort:          19000,
		PortSpan:          50,
		MaxSidecarsPerRun: 2,
		StartupTimeout:    500 * time.Millisecond,
		LogDir:            t.TempDir(),
	})
}

func TestAllocatePort_NeverDoubleAllocates(t *testing.T) {
	m := newTestManager(t)
	seen := map[int]bool{}
	for i := 0; i < 5; i++ {
		p, err := m.allocatePort()
		require.NoError(t, err)
		require.False(t, seen[p], "port %d allocated twice", p)
		seen[p] = true
	}
}

func TestLaunchSidecar_DisabledByConfig(t *testing.T) {
	m := NewManager(Config{Enabled: false})
	_, err := m.LaunchSidecar(context.Background(), mcpmodel.Server{Name: "fs"})
	require.Error(t, err)
}

func TestLaunchSidecar_RespectsPerRunCap(t *testing.T) {
	m := newTestManager(t)
	m.managed["a"] = &Managed{Name: "a"}
	m.managed["b"] = &Managed{Name: "b"}
	_, err := m.LaunchSidecar(context.Background(), mcpmodel.Server{Name: "c", SidecarCommand: "true"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cap")
}

func TestQuarantinedServerCannotBeRevived(t *testing.T) {
	m := newTestManager(t)
	m.Quarantine("fs")
	_, err := m.EnsureRunning(context.Background(), mcpmodel.Server{Name: "fs"})
	require.Error(t, err)
}

func TestInstallIfNeeded_NoInstallCmdIsNoop(t *testing.T) {
	m := newTestManager(t)
	ok := m.InstallIfNeeded(context.Background(), mcpmodel.Server{Name: "fs"})
	require.True(t, ok)
}

func TestInstallIfNeeded_CachesFailure(t *testing.T) {
	m := newTestManager(t)
	server := mcpmodel.Server{Name: "fs", InstallCmd: "false"}
	ok1 := m.InstallIfNeeded(context.Background(), server)
	require.False(t, ok1)
	require.True(t, m.failedInstallServers["fs"])

	// Second call must short-circuit without re-running install.
	ok2 := m.InstallIfNeeded(context.Background(), server)
	require.False(t, ok2)
}

func TestIsNativeSSE_Heuristic(t *testing.T) {
	require.True(t, isNativeSSE(mcpmodel.Server{SidecarCommand: "npx @playwright/mcp"}))
	require.False(t, isNativeSSE(mcpmodel.Server{SidecarCommand: "npx some-other-server"}))
}
