package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spachava753/gai"

	"github.com/agentforge/builder/internal/agents"
	"github.com/agentforge/builder/internal/capability"
	"github.com/agentforge/builder/internal/mcpboot"
	"github.com/agentforge/builder/internal/sandbox"
)

// scriptCompleter returns canned responses keyed by how many times it has
// been called overall, used to give TestDesigner and CodeGenerator
// independent, deterministic scripts without a real LM.
type scriptCompleter struct {
	responses []string
	calls     int
}

func (s *scriptCompleter) Complete(ctx context.Context, dialog gai.Dialog) (string, error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		if len(s.responses) == 0 {
			return "", nil
		}
		return s.responses[len(s.responses)-1], nil
	}
	return s.responses[i], nil
}

func newTestDesigner(responses ...string) *agents.TestDesigner {
	return &agents.TestDesigner{Client: &scriptCompleter{responses: responses}}
}

func newCodeGenerator(responses ...string) *agents.CodeGenerator {
	return &agents.CodeGenerator{Client: &scriptCompleter{responses: responses}}
}

func writeHarnessScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "harness.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func baseOrchestrator(t *testing.T, designer *agents.TestDesigner, gen *agents.CodeGenerator, harnessPath string) *Orchestrator {
	return &Orchestrator{
		Config: Config{
			MaxFixIterations: 3,
		},
		TestDesigner:  designer,
		CodeGenerator: gen,
		SandboxOpts: sandbox.Options{
			Harness: sandbox.Harness{Command: "/bin/sh", Args: []string{harnessPath}},
			Timeout: 0,
		},
		RunID: "run-1",
	}
}

func TestRun_TrivialPassScenario(t *testing.T) {
	harness := writeHarnessScript(t, `echo "1 passed"`)
	designer := newTestDesigner("garbage", "```\n# tests/test_x.py\ndef test_x():\n    assert True\n```")
	gen := newCodeGenerator("```\n# src/x.py\ndef x():\n    return True\n```")
	o := baseOrchestrator(t, designer, gen, harness)

	in := RunInput{RequirementsPath: "req.md", RequirementsText: "build a thing", ProjectDir: t.TempDir()}
	result, err := o.Run(context.Background(), in)
	require.NoError(t, err)
	require.True(t, result.AllPassed)
	require.Equal(t, "run-1", result.Extra["run_id"])

	_, err2 := os.Stat(filepath.Join(in.ProjectDir, "src", "x.py"))
	require.NoError(t, err2)
}

func TestRun_MaxFixIterationsOneStopsWithoutRefine(t *testing.T) {
	harness := writeHarnessScript(t, `echo "FAILED tests/test_x.py::test_x - AssertionError: boom"; echo "0 passed, 1 failed"`)
	designer := newTestDesigner("garbage", "```\n# tests/test_x.py\ndef test_x():\n    assert False\n```")
	genStub := &scriptCompleter{responses: []string{"```\n# src/x.py\ndef x():\n    return False\n```"}}
	gen := &agents.CodeGenerator{Client: genStub}
	o := baseOrchestrator(t, designer, gen, harness)
	o.Config.MaxFixIterations = 1

	in := RunInput{RequirementsPath: "req.md", RequirementsText: "build a thing", ProjectDir: t.TempDir()}
	result, err := o.Run(context.Background(), in)
	require.NoError(t, err)
	require.False(t, result.AllPassed)
	require.Equal(t, 1, genStub.calls)
}

func TestRun_SelfHealsAfterImportErrorTriggersReadapt(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	harness := writeHarnessScript(t, `
if [ -f "`+marker+`" ]; then
  echo "1 passed"
else
  touch "`+marker+`"
  echo "FAILED tests/test_x.py::test_x - ImportError: cannot import name 'x'"
  echo "0 passed, 1 failed"
fi
`)
	designer := newTestDesigner(
		"garbage",
		"```\n# tests/test_x.py\ndef test_x():\n    assert True\n```",
		"```\n# tests/test_x.py\ndef test_x():\n    assert True\n```",
	)
	gen := newCodeGenerator(
		"```\n# src/x.py\ndef x():\n    return True\n```",
		"```\n# src/x.py\ndef x():\n    return True\n```",
	)
	o := baseOrchestrator(t, designer, gen, harness)

	in := RunInput{RequirementsPath: "req.md", RequirementsText: "build a thing", ProjectDir: t.TempDir()}
	result, err := o.Run(context.Background(), in)
	require.NoError(t, err)
	require.True(t, result.AllPassed)
}

func TestRun_CapabilityGateIncapableDelegatesToChild(t *testing.T) {
	designer := newTestDesigner()
	gen := newCodeGenerator()
	harness := writeHarnessScript(t, `echo "1 passed"`)
	o := baseOrchestrator(t, designer, gen, harness)
	o.Config.CapabilityGateEnabled = true
	o.CapabilityGate = capability.New(capability.Config{Enabled: true, ConfidenceThreshold: 0.5}, stubChecker{})
	o.RepoRoot = t.TempDir()
	o.Pregnancy.MaxDepth = 0

	in := RunInput{RequirementsPath: filepath.Join(o.RepoRoot, "req.md"), RequirementsText: "build a thing", ProjectDir: t.TempDir()}
	require.NoError(t, os.WriteFile(in.RequirementsPath, []byte("build a thing"), 0o644))

	result, err := o.Run(context.Background(), in)
	require.NoError(t, err)
	require.False(t, result.AllPassed)
	require.Equal(t, "PregnancyDepthExceeded", result.FailureDetails[0].ErrorType)
}

type stubChecker struct{}

func (stubChecker) CheckCapability(ctx context.Context, requirementsText string, preflight []capability.PreflightCheck) (capability.LLMAssessment, error) {
	return capability.LLMAssessment{Capable: false, Confidence: 1, Reasons: []string{"needs a database this environment lacks"}}, nil
}

func TestRun_MCPBootstrapFailClosedSkipsAgentsEntirely(t *testing.T) {
	designer := newTestDesigner()
	gen := newCodeGenerator()
	harness := writeHarnessScript(t, `echo "1 passed"`)
	o := baseOrchestrator(t, designer, gen, harness)
	o.Config.MCPBootstrapEnabled = true
	o.Config.MCPUnavailableBehavior = FailClosed
	o.Bootstrap = mcpboot.Config{}

	in := RunInput{RequirementsPath: "req.md", RequirementsText: "build a thing", ProjectDir: t.TempDir()}
	result, err := o.Run(context.Background(), in)
	require.NoError(t, err)
	require.False(t, result.AllPassed)
	require.Equal(t, "MCPBootstrapUnavailable", result.FailureDetails[0].ErrorType)
}
