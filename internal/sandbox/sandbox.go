// Package sandbox materializes a code FileSet and a test FileSet into an
// isolated temporary directory tree and runs the external test harness
// against it with wall-clock timeout enforcement, grounded on the teacher's
// internal/codemode.ExecuteCode subprocess lifecycle.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agentforge/builder/internal/fileset"
	"github.com/agentforge/builder/internal/testresult"
)

// gracePeriod is how long a subprocess is given to exit after SIGINT before
// the Sandbox escalates to SIGKILL, mirrored from the teacher's codemode
// executor.
const gracePeriod = 5 * time.Second

// Harness describes the external command used to run the materialized test
// tree, e.g. {"python3", ["-m", "pytest", "-v"]} or {"go", ["test", "./..."]}.
type Harness struct {
	Command string
	Args    []string
}

// Options configures one Sandbox run.
type Options struct {
	Harness             Harness
	Timeout             time.Duration
	KeepSandboxOnFailure bool
}

// Result carries the parsed TestResult plus bookkeeping the orchestrator may
// want to log.
type Result struct {
	TestResult testresult.TestResult
	SandboxDir string
	Stdout     string
	Stderr     string
}

// RunTests materializes code and tests under a fresh temp directory and
// invokes the configured harness, returning a parsed TestResult.
func RunTests(ctx context.Context, code, tests *fileset.FileSet, opts Options) (Result, error) {
	root, err := os.MkdirTemp("", "builder-sandbox-*")
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: creating temp dir: %w", err)
	}
	srcDir := filepath.Join(root, "src")
	testsDir := filepath.Join(root, "tests")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("sandbox: creating src dir: %w", err)
	}
	if err := os.MkdirAll(testsDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("sandbox: creating tests dir: %w", err)
	}
	if err := writeBootstrap(root); err != nil {
		return Result{}, err
	}

	if err := materializeCode(code, srcDir); err != nil {
		return Result{}, err
	}
	if err := materializeTests(tests, testsDir); err != nil {
		return Result{}, err
	}

	stdout, stderr, exitErr, timedOut := runHarness(ctx, root, opts.Harness, opts.Timeout)

	var tr testresult.TestResult
	if timedOut {
		tr = testresult.SingleFailure("(timeout)", "TimeoutError",
			fmt.Sprintf("test harness exceeded %s", opts.Timeout), "")
	} else {
		tr = parseHarnessOutput(stdout, stderr, exitErr)
	}

	res := Result{TestResult: tr, SandboxDir: root, Stdout: stdout, Stderr: stderr}

	if opts.KeepSandboxOnFailure && !tr.AllPassed {
		return res, nil
	}
	if err := os.RemoveAll(root); err != nil {
		return res, fmt.Errorf("sandbox: cleaning up %q: %w", root, err)
	}
	res.SandboxDir = ""
	return res, nil
}

// writeBootstrap writes a Python conftest.py at root that, when pytest loads
// it, prepends root/src to sys.path.
func writeBootstrap(root string) error {
	content := "import sys, os\nsys.path.insert(0, os.path.join(os.path.dirname(__file__), \"src\"))\n"
	if err := os.WriteFile(filepath.Join(root, "conftest.py"), []byte(content), 0o644); err != nil {
		return fmt.Errorf("sandbox: writing bootstrap file: %w", err)
	}
	return nil
}

// materializeCode writes each code FileSet entry under srcDir, stripping a
// leading "src/" path segment so "src/x.py" and "x.py" both land at the same
// place.
func materializeCode(code *fileset.FileSet, srcDir string) error {
	if code == nil {
		return nil
	}
	for _, p := range code.Paths() {
		content, _ := code.Get(p)
		rel := fileset.StripPrefix(p, "src")
		if fileset.HasParentTraversal(rel) {
			return fmt.Errorf("sandbox: refusing code path with parent traversal: %q", p)
		}
		full := filepath.Join(srcDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("sandbox: creating parent dir for %q: %w", p, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return fmt.Errorf("sandbox: writing code file %q: %w", p, err)
		}
	}
	return nil
}

// materializeTests writes each test FileSet entry under testsDir, and
// ensures an empty package-marker file (__init__.py) exists in every
// directory between testsDir and the file.
func materializeTests(tests *fileset.FileSet, testsDir string) error {
	if tests == nil {
		return nil
	}
	for _, p := range tests.Paths() {
		content, _ := tests.Get(p)
		rel := fileset.StripPrefix(p, "tests")
		if fileset.HasParentTraversal(rel) {
			return fmt.Errorf("sandbox: refusing test path with parent traversal: %q", p)
		}
		full := filepath.Join(testsDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("sandbox: creating parent dir for %q: %w", p, err)
		}
		if err := ensurePackageMarkers(testsDir, filepath.Dir(full)); err != nil {
			return err
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return fmt.Errorf("sandbox: writing test file %q: %w", p, err)
		}
	}
	return nil
}

func ensurePackageMarkers(root, dir string) error {
	for d := dir; ; d = filepath.Dir(d) {
		marker := filepath.Join(d, "__init__.py")
		if _, err := os.Stat(marker); os.IsNotExist(err) {
			if err := os.WriteFile(marker, nil, 0o644); err != nil {
				return fmt.Errorf("sandbox: writing package marker %q: %w", marker, err)
			}
		}
		if d == root || !strings.HasPrefix(d, root) {
			break
		}
		if d == filepath.Dir(d) {
			break
		}
	}
	return nil
}

// runHarness spawns the configured harness with cwd=root, enforcing timeout
// by sending SIGINT then, after gracePeriod, SIGKILL, exactly as the
// teacher's codemode.runProgramWithTimeout does. A timeout <= 0 sets no limit.
func runHarness(ctx context.Context, root string, h Harness, timeout time.Duration) (stdout, stderr string, exitErr error, timedOut bool) {
	timeoutCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		timeoutCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, h.Command, h.Args...)
	cmd.Dir = root
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return os.ErrProcessDone
		}
		_ = cmd.Process.Signal(syscall.SIGINT)
		return os.ErrProcessDone
	}
	cmd.WaitDelay = gracePeriod

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return outBuf.String(), errBuf.String(), runErr, true
	}
	return outBuf.String(), errBuf.String(), runErr, false
}

var (
	summaryRe  = regexp.MustCompile(`(\d+)\s+(passed|failed|error[s]?)`)
	failedLine = regexp.MustCompile(`(?m)^(FAILED|ERROR)\s+(\S+)\s*-\s*(.+)$`)
	sectionHdr = regexp.MustCompile(`(?m)^_{3,}\s+(\S+)\s+_{3,}$`)
	excInBody  = regexp.MustCompile(`(\w+(?:Error|Exception)):\s*(.+)`)
)

// parseHarnessOutput implements the sandbox's output-parsing algorithm: a
// short-summary count pass, a structured FAILED/ERROR line pass, a
// section-header fallback pass, and finally an unparsed-failure fallback.
func parseHarnessOutput(stdout, stderr string, exitErr error) testresult.TestResult {
	combined := stdout + "\n" + stderr
	passed, failed := countSummary(combined)

	var failures []testresult.Failure
	for _, m := range failedLine.FindAllStringSubmatch(combined, -1) {
		name, msg := m[2], m[3]
		failures = append(failures, testresult.Failure{
			TestName:     name,
			ErrorType:    errorTypePrefix(msg),
			ErrorMessage: msg,
		})
	}

	if len(failures) == 0 && failed > 0 {
		sections := sectionHdr.FindAllStringSubmatchIndex(combined, -1)
		for i, sec := range sections {
			name := combined[sec[2]:sec[3]]
			end := len(combined)
			if i+1 < len(sections) {
				end = sections[i+1][0]
			}
			body := combined[sec[1]:end]
			if sub := excInBody.FindStringSubmatch(body); sub != nil {
				failures = append(failures, testresult.Failure{
					TestName:     name,
					ErrorType:    sub[1],
					ErrorMessage: sub[2],
				})
			}
		}
	}

	if len(failures) == 0 && failed > 0 {
		tail := combined
		if len(tail) > 500 {
			tail = tail[len(tail)-500:]
		}
		failures = append(failures, testresult.Failure{
			TestName:     "(unparsed)",
			ErrorType:    "Error",
			ErrorMessage: tail,
		})
	}

	if exitErr != nil && len(failures) == 0 {
		tail := combined
		if len(tail) > 500 {
			tail = tail[len(tail)-500:]
		}
		failures = append(failures, testresult.Failure{
			TestName:     "(execution)",
			ErrorType:    "Error",
			ErrorMessage: tail,
		})
		if failed == 0 {
			failed = 1
		}
	}

	r := testresult.New(passed, failed, failures)
	if exitErr != nil {
		r.AllPassed = false
	}
	return r
}

func countSummary(s string) (passed, failed int) {
	for _, m := range summaryRe.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(m[2], "passed"):
			passed += n
		default: // "failed" or "error"/"errors"
			failed += n
		}
	}
	return passed, failed
}

func errorTypePrefix(msg string) string {
	if i := strings.Index(msg, ":"); i >= 0 {
		return strings.TrimSpace(msg[:i])
	}
	return "Error"
}
