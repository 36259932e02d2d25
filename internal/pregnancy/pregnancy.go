// Package pregnancy implements ChildBuilder: depth/signature-guarded
// delegation to a fresh subprocess invocation of the same build tool,
// grounded on the teacher's internal/codemode/executor.go subprocess
// pattern (context timeout, SIGINT-then-grace termination, captured
// stdout/stderr) and adapted from an in-sandbox compile-and-run to a
// workspace-fork-and-reinvoke.
package pregnancy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentforge/builder/internal/capability"
	"github.com/agentforge/builder/internal/testresult"
)

const gracePeriod = 5 * time.Second

var excludedTopLevel = map[string]bool{
	".git":   true,
	"output": true,
}

var excludedSuffixes = []string{".log", ".pyc", ".pyo"}

var excludedDirNames = map[string]bool{
	"__pycache__": true,
	".pytest_cache": true,
	"node_modules": true,
}

// Config bounds ChildBuilder's behavior.
type Config struct {
	MaxDepth       int
	WorkspaceDir   string
	TimeoutSeconds int
	BuilderCommand string
	BuilderArgs    []string
}

// Delegate implements §4.7's delegate algorithm.
func Delegate(
	ctx context.Context,
	cfg Config,
	repoRoot string,
	requirementsPath string,
	projectDir string,
	decision capability.Decision,
	depth int,
	seenSignatures []string,
) testresult.TestResult {
	if depth+1 > cfg.MaxDepth {
		return testresult.SingleFailure("(pregnancy)", "PregnancyDepthExceeded",
			fmt.Sprintf("depth %d exceeds pregnancy_max_depth %d", depth+1, cfg.MaxDepth), "")
	}

	signature := capability.Signature(decision)
	for _, s := range seenSignatures {
		if s == signature {
			return testresult.SingleFailure("(pregnancy)", "RepeatedCapabilitySignature",
				fmt.Sprintf("capability signature %q already seen at a shallower depth", signature), "")
		}
	}

	if err := os.MkdirAll(cfg.WorkspaceDir, 0o755); err != nil {
		return testresult.SingleFailure("(pregnancy)", "ChildBuilderFailed", fmt.Sprintf("creating workspace root: %v", err), "")
	}
	childWorkspace, err := os.MkdirTemp(cfg.WorkspaceDir, "child-*")
	if err != nil {
		return testresult.SingleFailure("(pregnancy)", "ChildBuilderFailed", fmt.Sprintf("creating child workspace: %v", err), "")
	}

	if err := copyWorkspace(repoRoot, childWorkspace, cfg.WorkspaceDir); err != nil {
		return testresult.SingleFailure("(pregnancy)", "ChildBuilderFailed", fmt.Sprintf("copying workspace: %v", err), "")
	}

	childRequirements := decision.RecommendedChildRequirements
	if strings.TrimSpace(childRequirements) == "" {
		if orig, readErr := os.ReadFile(requirementsPath); readErr == nil {
			childRequirements = string(orig)
		}
	}
	childReqPath := filepath.Join(childWorkspace, "child_requirements.md")
	if err := os.WriteFile(childReqPath, []byte(childRequirements), 0o644); err != nil {
		return testresult.SingleFailure("(pregnancy)", "ChildBuilderFailed", fmt.Sprintf("writing child requirements: %v", err), "")
	}

	nextSignatures := append(append([]string{}, seenSignatures...), signature)
	sigJSON, err := json.Marshal(nextSignatures)
	if err != nil {
		return testresult.SingleFailure("(pregnancy)", "ChildBuilderFailed", fmt.Sprintf("marshaling signatures: %v", err), "")
	}

	childProjectDir := filepath.Join(childWorkspace, "project")

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, cfg.BuilderArgs...),
		"run", childReqPath,
		"--project-dir", childProjectDir,
		fmt.Sprintf("--pregnancy-depth=%d", depth+1),
		"--pregnancy-signatures="+string(sigJSON),
	)

	cmd := exec.CommandContext(timeoutCtx, cfg.BuilderCommand, args...)
	cmd.Dir = childWorkspace
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = gracePeriod

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	stdoutTail := tail(stdout.String(), 2000)
	stderrTail := tail(stderr.String(), 2000)

	if timeoutCtx.Err() != nil {
		r := testresult.SingleFailure("(pregnancy)", "PregnancyTimeout", "child builder exceeded pregnancy_timeout_seconds", "")
		r.Extra = map[string]any{"child_workspace": childWorkspace, "child_project_dir": childProjectDir, "stdout_tail": stdoutTail, "stderr_tail": stderrTail}
		return r
	}

	if runErr != nil {
		r := testresult.SingleFailure("(pregnancy)", "ChildBuilderFailed", runErr.Error(), "")
		r.Extra = map[string]any{"child_workspace": childWorkspace, "child_project_dir": childProjectDir, "stdout_tail": stdoutTail, "stderr_tail": stderrTail}
		return r
	}

	r := testresult.New(1, 0, nil)
	r.Extra = map[string]any{
		"delegated_to_child": true,
		"child_workspace":    childWorkspace,
		"child_project_dir":  childProjectDir,
		"stdout_tail":        stdoutTail,
		"stderr_tail":        stderrTail,
	}
	return r
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// copyWorkspace recursively copies src into dst, excluding .git, caches,
// logs, output/, the pregnancy workspace directory itself, and any
// __pycache__/node_modules directory anywhere in the tree.
func copyWorkspace(src, dst, workspaceDir string) error {
	excludedWorkspaceSegment := workspaceTopLevelSegment(src, workspaceDir)
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		segments := strings.Split(filepath.ToSlash(rel), "/")
		if excludedTopLevel[segments[0]] || (excludedWorkspaceSegment != "" && segments[0] == excludedWorkspaceSegment) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		for _, seg := range segments {
			if excludedDirNames[seg] {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		for _, suf := range excludedSuffixes {
			if strings.HasSuffix(p, suf) {
				return nil
			}
		}

		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(p, target, info.Mode())
	})
}

// workspaceTopLevelSegment returns the first path segment of workspaceDir
// relative to repoRoot, so copyWorkspace can exclude the pregnancy
// workspace itself. Returns "" if workspaceDir doesn't live under repoRoot.
func workspaceTopLevelSegment(repoRoot, workspaceDir string) string {
	rel := workspaceDir
	if filepath.IsAbs(workspaceDir) {
		r, err := filepath.Rel(repoRoot, workspaceDir)
		if err != nil || strings.HasPrefix(r, "..") {
			return ""
		}
		rel = r
	}
	rel = filepath.ToSlash(filepath.Clean(rel))
	if strings.HasPrefix(rel, "../") || rel == ".." {
		return ""
	}
	segments := strings.Split(rel, "/")
	return segments[0]
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
