// Package testexec implements TestExecutor: it runs unit tests via the
// sandbox and MCP steps via the mcpclient/sidecar subsystem, merging both
// into one TestResult, and owns the quarantine sets for one Orchestrator.Run.
package testexec

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentforge/builder/internal/fileset"
	"github.com/agentforge/builder/internal/mcpclient"
	"github.com/agentforge/builder/internal/mcpmodel"
	"github.com/agentforge/builder/internal/sandbox"
	"github.com/agentforge/builder/internal/sidecar"
	"github.com/agentforge/builder/internal/testresult"
)

// toolCaller is the subset of *mcpclient.Manager the step loop depends on.
type toolCaller interface {
	Start(ctx context.Context, server mcpmodel.Server) error
	CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (*mcp.CallToolResult, error)
	StopAll()
}

// Executor owns quarantine state for the lifetime of one run.
type Executor struct {
	SandboxOpts sandbox.Options
	Sidecars    *sidecar.Manager

	quarantinedSteps   map[string]bool
	quarantinedServers map[string]bool
}

// New returns an Executor with fresh quarantine sets.
func New(sandboxOpts sandbox.Options, sidecars *sidecar.Manager) *Executor {
	return &Executor{
		SandboxOpts:        sandboxOpts,
		Sidecars:           sidecars,
		quarantinedSteps:   map[string]bool{},
		quarantinedServers: map[string]bool{},
	}
}

// RunAll runs unit tests (if tests is non-empty) and MCP steps (if plan has
// steps), and merges the two halves.
func (e *Executor) RunAll(ctx context.Context, code, tests *fileset.FileSet, plan *mcpmodel.Plan, projectDir string) testresult.TestResult {
	unitResult := testresult.Neutral()
	if tests != nil && tests.Len() > 0 {
		sres, err := sandbox.RunTests(ctx, code, tests, e.SandboxOpts)
		if err != nil {
			unitResult = testresult.SingleFailure("(sandbox)", "SandboxError", err.Error(), "")
		} else {
			unitResult = sres.TestResult
		}
	}

	mcpResult := testresult.Neutral()
	if plan != nil && len(plan.Steps) > 0 {
		mcpResult = e.RunMCPTests(ctx, plan, projectDir)
	}

	return testresult.Merge(unitResult, mcpResult)
}

// RunMCPTests implements §4.3's run_mcp_tests algorithm: server
// preparation, step loop with quarantine checks, and finalization.
func (e *Executor) RunMCPTests(ctx context.Context, plan *mcpmodel.Plan, projectDir string) testresult.TestResult {
	clientMgr := mcpclient.NewManager(0)
	defer clientMgr.StopAll()
	return e.runMCPTests(ctx, plan, projectDir, clientMgr)
}

// quarantine marks key and server as quarantined for the remainder of the
// run, including in the SidecarManager so a subsequent EnsureRunning call
// for the same server is refused too.
func (e *Executor) quarantine(key, server string) {
	e.quarantinedSteps[key] = true
	e.quarantinedServers[server] = true
	if e.Sidecars != nil {
		e.Sidecars.Quarantine(server)
	}
}

func (e *Executor) runMCPTests(ctx context.Context, plan *mcpmodel.Plan, projectDir string, clientMgr toolCaller) testresult.TestResult {
	deferred := map[string]bool{}
	startErrors := map[string]string{}
	serversByName := map[string]mcpmodel.Server{}
	for _, s := range plan.Servers {
		serversByName[s.Name] = s
		if e.quarantinedServers[s.Name] {
			continue
		}
		if s.IsDynamicCandidate() && e.Sidecars != nil {
			deferred[s.Name] = true
			continue
		}
		if err := clientMgr.Start(ctx, s); err != nil {
			startErrors[s.Name] = err.Error()
		}
	}

	passed, failed := 0, 0
	var failures []testresult.Failure

	for _, step := range plan.Steps {
		if e.quarantinedServers[step.Server] {
			passed++
			continue
		}
		key := step.Key()
		if e.quarantinedSteps[key] {
			passed++
			continue
		}

		server, known := serversByName[step.Server]
		if !known {
			failed++
			failures = append(failures, testresult.Failure{
				TestName: step.Description, ErrorType: "ServerNotFound",
				ErrorMessage: fmt.Sprintf("step references unknown server %q", step.Server),
			})
			e.quarantine(key, step.Server)
			continue
		}

		if reason, hadStartErr := startErrors[step.Server]; hadStartErr {
			failed++
			failures = append(failures, testresult.Failure{
				TestName: step.Description, ErrorType: "ServerStartupFailed", ErrorMessage: reason,
			})
			e.quarantine(key, step.Server)
			continue
		}

		justProvisioned := false
		if deferred[step.Server] {
			endpoint, err := e.Sidecars.EnsureRunning(ctx, server)
			if err != nil {
				failed++
				failures = append(failures, testresult.Failure{
					TestName: step.Description, ErrorType: "SidecarProvisionFailed", ErrorMessage: err.Error(),
				})
				e.quarantine(key, step.Server)
				continue
			}
			server.Endpoint = endpoint
			serversByName[step.Server] = server
			if err := clientMgr.Start(ctx, server); err != nil {
				failed++
				failures = append(failures, testresult.Failure{
					TestName: step.Description, ErrorType: "ServerStartupFailed", ErrorMessage: err.Error(),
				})
				e.quarantine(key, step.Server)
				continue
			}
			delete(deferred, step.Server)
			justProvisioned = true
		}

		result, err := clientMgr.CallTool(ctx, step.Server, step.Tool, step.Arguments)
		if err != nil && justProvisioned {
			result, err = clientMgr.CallTool(ctx, step.Server, step.Tool, step.Arguments)
		}
		if err != nil {
			failed++
			failures = append(failures, testresult.Failure{
				TestName: step.Description, ErrorType: "ToolCallFailed", ErrorMessage: err.Error(),
			})
			e.quarantine(key, step.Server)
			continue
		}

		text := strings.ToLower(mcpclient.ExtractText(result))
		expected := strings.ToLower(step.Expected)
		if expected == "" || strings.Contains(text, expected) {
			passed++
		} else {
			failed++
			failures = append(failures, testresult.Failure{
				TestName: step.Description, ErrorType: "ExpectationNotMet",
				ErrorMessage: fmt.Sprintf("expected substring %q not found in response", step.Expected),
			})
		}
	}

	total := passed + failed
	r := testresult.New(passed, failed, failures)
	r.MCPSummary = map[string]any{
		"steps_total":        total,
		"steps_passed":       passed,
		"servers_requested":  len(plan.Servers),
		"servers_started":    len(plan.Servers) - len(startErrors),
	}
	return r
}
