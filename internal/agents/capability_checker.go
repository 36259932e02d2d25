package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentforge/builder/internal/capability"
)

const capabilityCheckerSystemPrompt = `You assess whether a Python/Node test-and-build sandbox can satisfy a set of requirements. Respond with a single fenced JSON object: {"capable": bool, "confidence": float in [0,1], "reasons": [string], "missing_capabilities": [string], "recommended_child_requirements": string}. Base confidence on the preflight check results given to you. Do not include any prose outside the fence.`

// CapabilityChecker implements capability.Checker.
type CapabilityChecker struct {
	Client Completer
}

var _ capability.Checker = (*CapabilityChecker)(nil)

type capabilityResponse struct {
	Capable                      bool            `json:"capable"`
	Confidence                   float64         `json:"confidence"`
	Reasons                      json.RawMessage `json:"reasons"`
	MissingCapabilities          json.RawMessage `json:"missing_capabilities"`
	RecommendedChildRequirements string          `json:"recommended_child_requirements"`
}

// CheckCapability sends the requirements text and preflight results to the
// LM and parses its fenced JSON verdict, clamping confidence and truncating
// list fields to 8 items per §4.9.
func (c *CapabilityChecker) CheckCapability(ctx context.Context, requirementsText string, preflight []capability.PreflightCheck) (capability.LLMAssessment, error) {
	checksJSON, err := json.Marshal(preflight)
	if err != nil {
		return capability.LLMAssessment{}, fmt.Errorf("agents: marshaling preflight checks: %w", err)
	}

	prompt := fmt.Sprintf(
		"Requirements:\n%s\n\nPreflight checks:\n%s\n\nReturn the capability verdict JSON.",
		requirementsText, string(checksJSON),
	)

	text, err := c.Client.Complete(ctx, instructedDialog(capabilityCheckerSystemPrompt, prompt))
	if err != nil {
		return capability.LLMAssessment{}, err
	}

	raw := extractJSON(text)
	if raw == "" {
		return assessmentUnavailable("response contained no parseable JSON"), nil
	}

	var resp capabilityResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return assessmentUnavailable(fmt.Sprintf("json parse error: %v", err)), nil
	}

	return capability.LLMAssessment{
		Capable:                      resp.Capable,
		Confidence:                   clamp01(resp.Confidence),
		Reasons:                      truncateStrings(stringifyList(resp.Reasons), 8),
		MissingCapabilities:          truncateStrings(stringifyList(resp.MissingCapabilities), 8),
		RecommendedChildRequirements: resp.RecommendedChildRequirements,
	}, nil
}

func assessmentUnavailable(detail string) capability.LLMAssessment {
	return capability.LLMAssessment{
		Capable:    false,
		Confidence: 0,
		Reasons:    []string{"assessment_unavailable: " + detail},
	}
}
