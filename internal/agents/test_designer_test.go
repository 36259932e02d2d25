package agents

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentforge/builder/internal/fileset"
	"github.com/agentforge/builder/internal/mcpmodel"
)

func TestAnalyze_DefaultsToUnitOnlyOnParseFailure(t *testing.T) {
	d := &TestDesigner{Client: &stubCompleter{responses: []string{"garbage"}}}
	a := d.Analyze(t.Context(), "build a calculator")
	require.Len(t, a.TestingNeeds, 1)
	require.Equal(t, "unit", a.TestingNeeds[0].Category)
}

func TestAnalyze_DropsInvalidCategories(t *testing.T) {
	resp := `{"product_type":"cli","user_concerns":["speed"],"testing_needs":[{"category":"unit","description":"u"},{"category":"not-a-category","description":"x"}]}`
	d := &TestDesigner{Client: &stubCompleter{responses: []string{resp}}}
	a := d.Analyze(t.Context(), "req")
	require.Equal(t, "cli", a.ProductType)
	require.Len(t, a.TestingNeeds, 1)
	require.Equal(t, "unit", a.TestingNeeds[0].Category)
}

func TestSelectTools_RejectsNodeFamilyStdioByDefault(t *testing.T) {
	resp := `[{"name":"playwright","command":"npx","args":["@playwright/mcp"]},{"name":"ok","command":"python3","args":["server.py"]}]`
	d := &TestDesigner{Client: &stubCompleter{responses: []string{resp}}}
	servers, err := d.SelectTools(t.Context(), Analysis{}, mcpmodel.BootstrapResult{}, "/tmp/project")
	require.NoError(t, err)
	require.Len(t, servers, 1)
	require.Equal(t, "ok", servers[0].Name)
}

func TestSelectTools_AllowNodeStdioOverride(t *testing.T) {
	resp := `[{"name":"playwright","command":"npx","args":["@playwright/mcp"]}]`
	d := &TestDesigner{Client: &stubCompleter{responses: []string{resp}}, AllowNodeStdio: true}
	servers, err := d.SelectTools(t.Context(), Analysis{}, mcpmodel.BootstrapResult{}, "/tmp/project")
	require.NoError(t, err)
	require.Len(t, servers, 1)
}

func TestSelectTools_NormalizesFilesystemWorkspacePath(t *testing.T) {
	resp := `[{"name":"filesystem-server","command":"python3","args":["-m","fsserver","/old/path"]}]`
	d := &TestDesigner{Client: &stubCompleter{responses: []string{resp}}}
	servers, err := d.SelectTools(t.Context(), Analysis{}, mcpmodel.BootstrapResult{}, "/tmp/project")
	require.NoError(t, err)
	require.Len(t, servers, 1)
	last := servers[0].Args[len(servers[0].Args)-1]
	require.Contains(t, last, "/tmp/project/.mcp/filesystem")
}

func TestSelectTools_DedupesDynamicByInstallSpec(t *testing.T) {
	resp := `[{"name":"a","transport":"http_sse","package":"pkg-x","sidecar_cmd":"cmd"},{"name":"b","transport":"http_sse","package":"pkg-x","sidecar_cmd":"cmd"}]`
	d := &TestDesigner{Client: &stubCompleter{responses: []string{resp}}}
	servers, err := d.SelectTools(t.Context(), Analysis{}, mcpmodel.BootstrapResult{}, "/tmp/project")
	require.NoError(t, err)
	require.Len(t, servers, 1)
}

func TestSelectTools_CapsDynamicAtConfiguredMax(t *testing.T) {
	resp := `[{"name":"a","transport":"http_sse","package":"p1","sidecar_cmd":"c"},{"name":"b","transport":"http_sse","package":"p2","sidecar_cmd":"c"},{"name":"c","transport":"http_sse","package":"p3","sidecar_cmd":"c"}]`
	d := &TestDesigner{Client: &stubCompleter{responses: []string{resp}}, MaxDynamicSidecarsPerRun: 2}
	servers, err := d.SelectTools(t.Context(), Analysis{}, mcpmodel.BootstrapResult{}, "/tmp/project")
	require.NoError(t, err)
	require.Len(t, servers, 2)
}

func TestGenerateTests_EnforcesTestPrefixAndParsesBlocks(t *testing.T) {
	resp := "```\n# tests/calc.py\ndef test_add():\n    assert add(2,3) == 5\n```"
	d := &TestDesigner{Client: &stubCompleter{responses: []string{resp}}}
	fs, err := d.GenerateTests(t.Context(), "req", Analysis{})
	require.NoError(t, err)
	require.Equal(t, 1, fs.Len())
	_, ok := fs.Get("tests/test_calc.py")
	require.True(t, ok)
}

func TestGenerateTests_FallsBackToRequirementsAssertions(t *testing.T) {
	req := "Example:\n```\nassert add(2, 3) == 5\n```"
	d := &TestDesigner{Client: &stubCompleter{responses: []string{""}}}
	fs, err := d.GenerateTests(t.Context(), req, Analysis{})
	require.NoError(t, err)
	require.Equal(t, 1, fs.Len())
	content, _ := fs.Get("tests/test_fallback.py")
	require.Contains(t, content, "assert add(2, 3) == 5")
}

func TestPlan_FiltersStepsToKnownServers(t *testing.T) {
	resp := `[{"description":"d1","server":"known","tool":"t"},{"description":"d2","server":"ghost","tool":"t"}]`
	d := &TestDesigner{Client: &stubCompleter{responses: []string{resp}}}
	plan, err := d.Plan(t.Context(), "req", []mcpmodel.Server{{Name: "known"}})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	require.Equal(t, "known", plan.Steps[0].Server)
}

func TestAdapt_MergesPreservingUntouchedFiles(t *testing.T) {
	tests := fileset.New()
	tests.Set("tests/test_a.py", "from parser import parse_csv\ndef test_a(): pass")
	tests.Set("tests/test_b.py", "def test_b(): pass")

	code := fileset.New()
	code.Set("src/csv_tools.py", "def parse_csv(): pass")

	resp := "```\n# tests/test_a.py\nfrom csv_tools import parse_csv\ndef test_a(): pass\n```"
	d := &TestDesigner{Client: &stubCompleter{responses: []string{resp}}}

	adapted, err := d.Adapt(t.Context(), tests, code)
	require.NoError(t, err)
	a, _ := adapted.Get("tests/test_a.py")
	require.Contains(t, a, "from csv_tools import parse_csv")
	b, _ := adapted.Get("tests/test_b.py")
	require.Equal(t, "def test_b(): pass", b)
}
