// Package capability implements the CapabilityGate: deterministic preflight
// checks plus an LM-assessed decision gated by a confidence threshold.
package capability

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// CheckSeverity tags a preflight check hard or soft.
type CheckSeverity string

const (
	SeverityHard CheckSeverity = "hard"
	SeveritySoft CheckSeverity = "soft"
)

// PreflightCheck is one deterministic gate check.
type PreflightCheck struct {
	Name     string        `json:"name"`
	Severity CheckSeverity `json:"severity"`
	Passed   bool          `json:"passed"`
	Detail   string        `json:"detail,omitempty"`
}

// Decision is the CapabilityGate's output.
type Decision struct {
	Capable                     bool             `json:"capable"`
	Confidence                  float64          `json:"confidence"`
	Reasons                     []string         `json:"reasons"`
	MissingCapabilities         []string         `json:"missing_capabilities"`
	RecommendedChildRequirements string          `json:"recommended_child_requirements"`
	MCPBaselineStatus           map[string]string `json:"mcp_baseline_status,omitempty"`
	PreflightChecks             []PreflightCheck `json:"preflight_checks"`
	Depth                       int              `json:"depth"`
}

// LLMAssessment is the capability checker agent's parsed response.
type LLMAssessment struct {
	Capable                      bool     `json:"capable"`
	Confidence                   float64  `json:"confidence"`
	Reasons                      []string `json:"reasons"`
	MissingCapabilities          []string `json:"missing_capabilities"`
	RecommendedChildRequirements string   `json:"recommended_child_requirements"`
}

// Checker invokes the LM capability-checker agent. Implemented by
// internal/agents.
type Checker interface {
	CheckCapability(ctx context.Context, requirementsText string, preflight []PreflightCheck) (LLMAssessment, error)
}

// Config bounds the gate's behavior.
type Config struct {
	Enabled             bool
	ConfidenceThreshold float64
	TestHarnessCommand  string
	InterpreterCommand  string
}

// Gate runs preflight, and if it passes, the LM checker, producing a final
// Decision.
type Gate struct {
	cfg     Config
	checker Checker
}

// New returns a Gate.
func New(cfg Config, checker Checker) *Gate {
	return &Gate{cfg: cfg, checker: checker}
}

// Run executes the preflight+LM decision pipeline. depth is carried into the
// Decision for the orchestrator's logging and for ChildBuilder's signature
// computation.
func (g *Gate) Run(ctx context.Context, requirementsPath, requirementsText, projectDir string, depth int) Decision {
	checks := g.preflight(requirementsPath, requirementsText, projectDir)

	var hardFailed []PreflightCheck
	for _, c := range checks {
		if c.Severity == SeverityHard && !c.Passed {
			hardFailed = append(hardFailed, c)
		}
	}
	if len(hardFailed) > 0 {
		reasons := make([]string, len(hardFailed))
		gaps := make([]string, len(hardFailed))
		for i, c := range hardFailed {
			reasons[i] = fmt.Sprintf("%s: %s", c.Name, c.Detail)
			gaps[i] = c.Name
		}
		return Decision{
			Capable:                      false,
			Confidence:                   0,
			Reasons:                      reasons,
			MissingCapabilities:          gaps,
			RecommendedChildRequirements: SynthesizeChildRequirements(requirementsText, reasons),
			PreflightChecks:              checks,
			Depth:                        depth,
		}
	}

	assessment, err := g.checker.CheckCapability(ctx, requirementsText, checks)
	if err != nil {
		return Decision{
			Capable:         true,
			Confidence:      1,
			Reasons:         []string{"assessment_unavailable: " + err.Error()},
			PreflightChecks: checks,
			Depth:           depth,
		}
	}
	if len(assessment.Reasons) > 0 && strings.HasPrefix(assessment.Reasons[0], "assessment_unavailable") {
		// The checker could not parse the LM's verdict; fall back to capable.
		return Decision{
			Capable:         true,
			Confidence:      1,
			Reasons:         assessment.Reasons,
			PreflightChecks: checks,
			Depth:           depth,
		}
	}

	capable := assessment.Capable && assessment.Confidence >= g.cfg.ConfidenceThreshold
	return Decision{
		Capable:                      capable,
		Confidence:                   assessment.Confidence,
		Reasons:                      assessment.Reasons,
		MissingCapabilities:          assessment.MissingCapabilities,
		RecommendedChildRequirements: assessment.RecommendedChildRequirements,
		PreflightChecks:              checks,
		Depth:                        depth,
	}
}

func (g *Gate) preflight(requirementsPath, requirementsText, projectDir string) []PreflightCheck {
	var checks []PreflightCheck

	checks = append(checks, PreflightCheck{
		Name: "requirements_file_exists", Severity: SeverityHard,
		Passed: requirementsPath != "", Detail: "requirements path must be provided",
	})
	checks = append(checks, PreflightCheck{
		Name: "requirements_non_empty", Severity: SeverityHard,
		Passed: strings.TrimSpace(requirementsText) != "", Detail: "requirements document is empty",
	})
	checks = append(checks, PreflightCheck{
		Name: "lm_api_key_configured", Severity: SeverityHard,
		Passed: lmAPIKeyPresent(), Detail: "no LM API key found in environment",
	})
	checks = append(checks, PreflightCheck{
		Name: "project_dir_writable", Severity: SeverityHard,
		Passed: dirWritable(projectDir), Detail: fmt.Sprintf("%q is not writable", projectDir),
	})

	interpreter := g.cfg.InterpreterCommand
	if interpreter == "" {
		interpreter = "python3"
	}
	checks = append(checks, PreflightCheck{
		Name: "interpreter_discoverable", Severity: SeverityHard,
		Passed: onPath(interpreter), Detail: fmt.Sprintf("%q not found on PATH", interpreter),
	})

	harness := g.cfg.TestHarnessCommand
	if harness == "" {
		harness = "pytest"
	}
	checks = append(checks, PreflightCheck{
		Name: "test_harness_discoverable", Severity: SeveritySoft,
		Passed: onPath(harness), Detail: fmt.Sprintf("%q not found on PATH", harness),
	})

	checks = append(checks, PreflightCheck{
		Name: "node_npm_available", Severity: SeveritySoft,
		Passed: onPath("node") && onPath("npm"), Detail: "node/npm not found on PATH",
	})

	return checks
}

func lmAPIKeyPresent() bool {
	for _, name := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY"} {
		if os.Getenv(name) != "" {
			return true
		}
	}
	return false
}

func dirWritable(dir string) bool {
	if dir == "" {
		return false
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	probe := dir + "/.builder-writable-probe"
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

func onPath(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// SynthesizeChildRequirements builds the Markdown child-requirements
// document per §6: sections Objective, Capability Gaps (capped at 8),
// Original Requirements verbatim.
func SynthesizeChildRequirements(original string, gaps []string) string {
	capped := gaps
	if len(capped) > 8 {
		capped = capped[:8]
	}
	var b strings.Builder
	b.WriteString("# Child Capability Bootstrap\n\n")
	b.WriteString("## Objective\n\n")
	b.WriteString("Build a system whose capability gaps are addressed by the environment below.\n\n")
	b.WriteString("## Capability Gaps\n\n")
	for _, g := range capped {
		fmt.Fprintf(&b, "- %s\n", g)
	}
	b.WriteString("\n## Original Requirements\n\n")
	b.WriteString(original)
	return b.String()
}

// Signature computes the delegation signature used for loop detection:
// missing_capabilities sorted and joined, else reasons, else a sentinel.
func Signature(d Decision) string {
	if len(d.MissingCapabilities) > 0 {
		sorted := append([]string{}, d.MissingCapabilities...)
		sort.Strings(sorted)
		return strings.Join(sorted, "|")
	}
	if len(d.Reasons) > 0 {
		sorted := append([]string{}, d.Reasons...)
		sort.Strings(sorted)
		return strings.Join(sorted, "|")
	}
	return "incapable_no_reason_given"
}
