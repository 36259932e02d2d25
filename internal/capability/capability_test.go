package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	assessment LLMAssessment
	err        error
}

func (s stubChecker) CheckCapability(ctx context.Context, requirementsText string, preflight []PreflightCheck) (LLMAssessment, error) {
	return s.assessment, s.err
}

func TestRun_HardPreflightFailureShortCircuitsLLM(t *testing.T) {
	g := New(Config{ConfidenceThreshold: 0.5}, stubChecker{assessment: LLMAssessment{Capable: true, Confidence: 1}})
	d := g.Run(context.Background(), "", "", t.TempDir(), 0)
	require.False(t, d.Capable)
	require.NotEmpty(t, d.RecommendedChildRequirements)
	require.Contains(t, d.RecommendedChildRequirements, "## Capability Gaps")
}

func TestRun_ThresholdComparisonIsGreaterOrEqual(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	g := New(Config{ConfidenceThreshold: 0.7}, stubChecker{assessment: LLMAssessment{Capable: true, Confidence: 0.7}})
	d := g.Run(context.Background(), "req.md", "some requirements", t.TempDir(), 0)
	require.True(t, d.Capable, "confidence equal to threshold must be capable under >= policy")
}

func TestRun_BelowThresholdIsIncapable(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	g := New(Config{ConfidenceThreshold: 0.7}, stubChecker{assessment: LLMAssessment{Capable: true, Confidence: 0.69}})
	d := g.Run(context.Background(), "req.md", "some requirements", t.TempDir(), 0)
	require.False(t, d.Capable)
}

func TestRun_CheckerErrorFallsBackToCapable(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	g := New(Config{ConfidenceThreshold: 0.7}, stubChecker{err: context.DeadlineExceeded})
	d := g.Run(context.Background(), "req.md", "some requirements", t.TempDir(), 0)
	require.True(t, d.Capable)
	require.Contains(t, d.Reasons[0], "assessment_unavailable")
}

func TestSignature_PrefersMissingCapabilities(t *testing.T) {
	d := Decision{MissingCapabilities: []string{"b", "a"}, Reasons: []string{"z"}}
	require.Equal(t, "a|b", Signature(d))
}

func TestSignature_FallsBackToReasonsThenSentinel(t *testing.T) {
	require.Equal(t, "only-reason", Signature(Decision{Reasons: []string{"only-reason"}}))
	require.Equal(t, "incapable_no_reason_given", Signature(Decision{}))
}

func TestSynthesizeChildRequirements_CapsGapsAtEight(t *testing.T) {
	gaps := make([]string, 12)
	for i := range gaps {
		gaps[i] = "gap"
	}
	doc := SynthesizeChildRequirements("orig", gaps)
	require.Equal(t, 8, countOccurrences(doc, "- gap\n"))
	require.Contains(t, doc, "orig")
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}
