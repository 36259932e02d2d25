// Package testresult defines the TestResult/Failure records shared by the
// Sandbox, the MCP test executor, and the Orchestrator.
package testresult

// Failure describes one failed or errored test.
type Failure struct {
	TestName     string `json:"test_name"`
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	Traceback    string `json:"traceback"`
}

// TestResult is the outcome of running a unit-test suite, a set of MCP
// steps, or the merge of both. AllPassed is true iff Failed == 0 and
// Total > 0; an empty suite is treated as failing, never as vacuously
// passing.
type TestResult struct {
	AllPassed      bool              `json:"all_passed"`
	TotalTests     int               `json:"total_tests"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	FailureDetails []Failure         `json:"failure_details"`
	MCPSummary     map[string]any    `json:"mcp_summary,omitempty"`
	Extra          map[string]any    `json:"-"`
}

// New builds a TestResult and computes AllPassed from passed/failed.
func New(passed, failed int, failures []Failure) TestResult {
	total := passed + failed
	return TestResult{
		AllPassed:      failed == 0 && total > 0,
		TotalTests:     total,
		Passed:         passed,
		Failed:         failed,
		FailureDetails: failures,
	}
}

// Neutral returns the all-zero result used when a half of a merge (unit
// tests or MCP steps) contributes nothing.
func Neutral() TestResult {
	return TestResult{}
}

// SingleFailure synthesizes a one-failure, non-passing result, used for
// execution, bootstrap, and capability error paths that must still return a
// TestResult rather than raise.
func SingleFailure(testName, errorType, message, traceback string) TestResult {
	return TestResult{
		AllPassed:  false,
		TotalTests: 1,
		Passed:     0,
		Failed:     1,
		FailureDetails: []Failure{{
			TestName:     testName,
			ErrorType:    errorType,
			ErrorMessage: message,
			Traceback:    traceback,
		}},
	}
}

// Merge sums two results, concatenates failures, and recomputes AllPassed
// per the combined counts. Either side may be the Neutral zero value.
func Merge(a, b TestResult) TestResult {
	out := TestResult{
		TotalTests:     a.TotalTests + b.TotalTests,
		Passed:         a.Passed + b.Passed,
		Failed:         a.Failed + b.Failed,
		FailureDetails: append(append([]Failure{}, a.FailureDetails...), b.FailureDetails...),
	}
	out.AllPassed = out.Failed == 0 && out.TotalTests > 0
	if a.MCPSummary != nil || b.MCPSummary != nil {
		out.MCPSummary = map[string]any{}
		for k, v := range a.MCPSummary {
			out.MCPSummary[k] = v
		}
		for k, v := range b.MCPSummary {
			out.MCPSummary[k] = v
		}
	}
	return out
}
