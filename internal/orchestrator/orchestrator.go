// Package orchestrator implements the Builder's six-step run state machine:
// capability gate, MCP bootstrap, parallel design/generate, adapt, iterate,
// and write. Grounded on the teacher's use of golang.org/x/sync/errgroup for
// the one genuinely concurrent join in internal/token/tree/count_files_parallel.go,
// generalized from a fan-out-over-files join to a two-worker join.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentforge/builder/internal/agents"
	"github.com/agentforge/builder/internal/capability"
	"github.com/agentforge/builder/internal/fileset"
	"github.com/agentforge/builder/internal/mcpboot"
	"github.com/agentforge/builder/internal/mcpmodel"
	"github.com/agentforge/builder/internal/pregnancy"
	"github.com/agentforge/builder/internal/sandbox"
	"github.com/agentforge/builder/internal/sidecar"
	"github.com/agentforge/builder/internal/testexec"
	"github.com/agentforge/builder/internal/testresult"
)

// MCPUnavailableBehavior governs what happens when MCPBootstrap reports any
// server unavailable.
type MCPUnavailableBehavior string

const (
	FailClosed       MCPUnavailableBehavior = "fail_closed"
	WarnAndContinue  MCPUnavailableBehavior = "warn_and_continue"
	UnitOnlyFallback MCPUnavailableBehavior = "unit_only_fallback"
)

// ProgressEvent is emitted synchronously from whichever step owns it.
// Callers driving concurrent steps are responsible for their callback's
// thread-safety.
type ProgressEvent struct {
	Step   int
	Label  string
	Detail string
	At     time.Time
}

// Config bounds one Orchestrator's behavior.
type Config struct {
	MaxFixIterations       int
	MCPUnavailableBehavior MCPUnavailableBehavior
	CleanOutputBeforeWrite bool
	CapabilityGateEnabled  bool
	MCPBootstrapEnabled    bool
}

// RunInput is the Orchestrator's public run contract input.
type RunInput struct {
	RequirementsPath string
	RequirementsText string
	ProjectDir       string
	Depth            int
	SeenSignatures   []string
}

// Orchestrator wires every component of one run.
type Orchestrator struct {
	Config Config

	CapabilityGate *capability.Gate
	Bootstrap      mcpboot.Config
	TestDesigner   *agents.TestDesigner
	CodeGenerator  *agents.CodeGenerator
	SandboxOpts    sandbox.Options
	Sidecars       *sidecar.Manager
	Pregnancy      pregnancy.Config
	RepoRoot       string

	RunID       string
	RunLogFile  string
	Progress    func(ProgressEvent)
}

func (o *Orchestrator) emit(step int, label, detail string) {
	if o.Progress == nil {
		return
	}
	o.Progress(ProgressEvent{Step: step, Label: label, Detail: detail, At: time.Now()})
}

// Run implements the six-step state machine described in §4.1.
func (o *Orchestrator) Run(ctx context.Context, in RunInput) (*testresult.TestResult, error) {
	stopSidecars := func() {
		if o.Sidecars != nil {
			o.Sidecars.StopAll()
		}
	}

	// (0) Capability gate.
	var decision *capability.Decision
	if o.Config.CapabilityGateEnabled && o.CapabilityGate != nil {
		o.emit(0, "capability_gate", "running preflight and LM assessment")
		d := o.CapabilityGate.Run(ctx, in.RequirementsPath, in.RequirementsText, in.ProjectDir, in.Depth)
		decision = &d
		if !d.Capable {
			stopSidecars()
			r := pregnancy.Delegate(ctx, o.Pregnancy, o.RepoRoot, in.RequirementsPath, in.ProjectDir, d, in.Depth, in.SeenSignatures)
			attachRunMetadata(&r, o, decision)
			return &r, nil
		}
	}

	// MCP bootstrap.
	var bootstrap mcpmodel.BootstrapResult
	var servers []mcpmodel.Server
	skipMCPPlanning := false
	if o.Config.MCPBootstrapEnabled {
		o.emit(0, "mcp_bootstrap", "resolving MCP presets")
		bootstrap = mcpboot.Bootstrap(o.Bootstrap, in.ProjectDir)
		if len(bootstrap.Unavailable) > 0 {
			switch o.Config.MCPUnavailableBehavior {
			case FailClosed:
				r := testresult.SingleFailure("(bootstrap)", "MCPBootstrapUnavailable",
					fmt.Sprintf("%d MCP server(s) unavailable: %v", len(bootstrap.Unavailable), bootstrap.Unavailable), "")
				stopSidecars()
				attachRunMetadata(&r, o, decision)
				r.Extra["mcp_bootstrap"] = bootstrap
				return &r, nil
			case UnitOnlyFallback:
				skipMCPPlanning = true
			case WarnAndContinue:
				// servers available continue to flow into test design below.
			}
		}
	} else {
		skipMCPPlanning = true
	}

	// (1) design tests, (2) generate code — concurrent.
	var analysis agents.Analysis
	var tests *fileset.FileSet
	var plan *mcpmodel.Plan
	var code *fileset.FileSet

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		o.emit(1, "design_tests", "analyzing requirements")
		analysis = o.TestDesigner.Analyze(egCtx, in.RequirementsText)

		if !skipMCPPlanning {
			var err error
			servers, err = o.TestDesigner.SelectTools(egCtx, analysis, bootstrap, in.ProjectDir)
			if err != nil {
				return fmt.Errorf("orchestrator: selecting MCP tools: %w", err)
			}
		}

		var err error
		tests, err = o.TestDesigner.GenerateTests(egCtx, in.RequirementsText, analysis)
		if err != nil {
			return fmt.Errorf("orchestrator: generating tests: %w", err)
		}

		if len(servers) > 0 {
			plan, err = o.TestDesigner.Plan(egCtx, in.RequirementsText, servers)
			if err != nil {
				return fmt.Errorf("orchestrator: planning MCP steps: %w", err)
			}
		}
		return nil
	})
	eg.Go(func() error {
		o.emit(2, "generate_code", "generating initial source")
		var err error
		code, err = o.CodeGenerator.Generate(egCtx, in.RequirementsText, fileset.New())
		if err != nil {
			return fmt.Errorf("orchestrator: generating code: %w", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		stopSidecars()
		return nil, err
	}

	// (3) adapt tests.
	o.emit(3, "adapt_tests", "aligning test imports with generated code")
	adaptedTests, err := o.TestDesigner.Adapt(ctx, tests, code)
	if err != nil {
		stopSidecars()
		return nil, fmt.Errorf("orchestrator: adapting tests: %w", err)
	}

	currentCode := code
	currentTests := adaptedTests

	maxIter := o.Config.MaxFixIterations
	if maxIter <= 0 {
		maxIter = 1
	}

	var result testresult.TestResult
	executor := testexec.New(o.SandboxOpts, o.Sidecars)
	for iter := 1; iter <= maxIter; iter++ {
		o.emit(4, "test_and_iterate", fmt.Sprintf("iteration %d/%d", iter, maxIter))

		result = executor.RunAll(ctx, currentCode, currentTests, plan, in.ProjectDir)

		if result.AllPassed || iter == maxIter {
			break
		}

		feedback := formatFailureFeedback(result)
		refined, err := o.CodeGenerator.Refine(ctx, in.RequirementsText, currentCode, feedback)
		if err != nil {
			stopSidecars()
			return nil, fmt.Errorf("orchestrator: refining code: %w", err)
		}

		pathsChanged := !samePathSet(currentCode, refined)
		currentCode = refined

		if shouldReadaptTests(pathsChanged, result) {
			adapted, err := o.TestDesigner.Adapt(ctx, currentTests, currentCode)
			if err != nil {
				stopSidecars()
				return nil, fmt.Errorf("orchestrator: re-adapting tests: %w", err)
			}
			currentTests = adapted
		}
	}

	// (5) write outputs.
	o.emit(5, "write_outputs", "persisting source and test trees")
	srcDir := filepath.Join(in.ProjectDir, "src")
	testsDir := filepath.Join(in.ProjectDir, "tests")
	if o.Config.CleanOutputBeforeWrite {
		if err := fileset.CleanDir(srcDir); err != nil {
			stopSidecars()
			return nil, fmt.Errorf("orchestrator: cleaning src output: %w", err)
		}
		if err := fileset.CleanDir(testsDir); err != nil {
			stopSidecars()
			return nil, fmt.Errorf("orchestrator: cleaning tests output: %w", err)
		}
	}
	if err := fileset.WriteTree(currentCode, srcDir); err != nil {
		stopSidecars()
		return nil, fmt.Errorf("orchestrator: writing source tree: %w", err)
	}
	if err := fileset.WriteTree(currentTests, testsDir); err != nil {
		stopSidecars()
		return nil, fmt.Errorf("orchestrator: writing tests tree: %w", err)
	}

	stopSidecars()

	attachRunMetadata(&result, o, decision)
	if o.Config.MCPBootstrapEnabled {
		result.Extra["mcp_bootstrap"] = bootstrap
	}
	return &result, nil
}

func attachRunMetadata(r *testresult.TestResult, o *Orchestrator, decision *capability.Decision) {
	if r.Extra == nil {
		r.Extra = map[string]any{}
	}
	r.Extra["run_id"] = o.RunID
	r.Extra["run_log_file"] = o.RunLogFile
	if decision != nil {
		r.Extra["capability_decision"] = *decision
	}
}

func samePathSet(a, b *fileset.FileSet) bool {
	ap, bp := append([]string{}, a.Paths()...), append([]string{}, b.Paths()...)
	if len(ap) != len(bp) {
		return false
	}
	sort.Strings(ap)
	sort.Strings(bp)
	for i := range ap {
		if ap[i] != bp[i] {
			return false
		}
	}
	return true
}

var readaptFailureKinds = map[string]bool{
	"ImportError": true, "ModuleNotFoundError": true, "NameError": true,
	"AttributeError": true, "SyntaxError": true, "IndentationError": true,
}

var readaptTextFragments = []string{
	"no module named", "cannot import name", "has no attribute", "is not defined",
	"found no collectors", "fixture", "importerror", "nameerror", "attributeerror",
	"syntaxerror", "indentationerror",
}

// shouldReadaptTests implements the _should_readapt_tests predicate of §4.1.
func shouldReadaptTests(pathsChanged bool, result testresult.TestResult) bool {
	if pathsChanged {
		return true
	}
	var aggregate strings.Builder
	for _, f := range result.FailureDetails {
		if readaptFailureKinds[f.ErrorType] {
			return true
		}
		aggregate.WriteString(f.ErrorMessage)
		aggregate.WriteString(" ")
		aggregate.WriteString(f.Traceback)
		aggregate.WriteString(" ")
	}
	lower := strings.ToLower(aggregate.String())
	for _, frag := range readaptTextFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

func formatFailureFeedback(r testresult.TestResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d tests passed.\n\n", r.Passed, r.TotalTests)
	for _, f := range r.FailureDetails {
		fmt.Fprintf(&b, "FAILED %s: %s: %s\n", f.TestName, f.ErrorType, f.ErrorMessage)
		if f.Traceback != "" {
			b.WriteString(f.Traceback)
			b.WriteString("\n")
		}
	}
	return b.String()
}
