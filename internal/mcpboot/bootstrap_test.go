package mcpboot

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBootstrap_PythonStdioOnlyYieldsEmptyPreset(t *testing.T) {
	res := Bootstrap(Config{Mode: ModePythonStdioOnly}, "/tmp/project")
	require.Empty(t, res.Requested)
}

func TestBootstrap_MissingEndpointIsUnavailable(t *testing.T) {
	os.Unsetenv("TEST_FS_ENDPOINT")
	os.Unsetenv("TEST_BROWSER_ENDPOINT")
	res := Bootstrap(Config{
		Mode:             ModePythonPlusNodeSidecar,
		FilesystemEnvVar: "TEST_FS_ENDPOINT",
		BrowserEnvVar:    "TEST_BROWSER_ENDPOINT",
	}, "/tmp/project")

	require.Len(t, res.Requested, 2)
	require.Equal(t, "missing_endpoint", res.Unavailable["filesystem"])
	require.Equal(t, "missing_endpoint", res.Unavailable["browser"])
	require.Empty(t, res.Available)
}

func TestBootstrap_PresentEndpointIsAvailable(t *testing.T) {
	t.Setenv("TEST_FS_ENDPOINT", "http://localhost:9999")
	t.Setenv("TEST_BROWSER_ENDPOINT", "")
	res := Bootstrap(Config{
		Mode:             ModePythonPlusNodeSidecar,
		FilesystemEnvVar: "TEST_FS_ENDPOINT",
		BrowserEnvVar:    "TEST_BROWSER_ENDPOINT",
	}, "/tmp/project")

	require.Len(t, res.Available, 1)
	require.Equal(t, "filesystem", res.Available[0].Name)
	require.Equal(t, "missing_endpoint", res.Unavailable["browser"])
}

func TestBootstrap_AllowNodeStdioUsesStdioServers(t *testing.T) {
	res := Bootstrap(Config{Mode: ModePythonPlusNodeSidecar, AllowNodeStdio: true}, "/tmp/project")
	require.Len(t, res.Requested, 2)
	// npx is unlikely to exist in the test sandbox; either classification
	// is acceptable here, the point is that stdio servers were requested.
	_, ok := res.Unavailable["filesystem"]
	available := len(res.Available) > 0
	require.True(t, ok || available)
}

func TestPresetServers_FilesystemWorkspaceIsScopedUnderProjectDir(t *testing.T) {
	servers := presetServers(Config{AllowNodeStdio: true}, "/tmp/project")
	require.Equal(t, "filesystem", servers[0].Name)
	require.Equal(t, []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp/project/.mcp/filesystem"}, servers[0].Args)
}
