// Package agents implements the LM-backed adapters described in §4.9: fixed
// response-shape contracts layered over internal/lmclient, degrading to safe
// defaults on parse failure rather than raising. Grounded on the teacher's
// internal/agent package for generator plumbing and on
// internal/commands/generate.go for dialog construction, trimmed of
// tool-calling and interactive printing since these agents are one-shot
// JSON/fence producers.
package agents

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/spachava753/gai"
)

// Completer is the subset of *lmclient.Client every agent depends on.
// Defined locally, satisfied structurally, so tests can substitute a stub
// that never touches a real provider.
type Completer interface {
	Complete(ctx context.Context, dialog gai.Dialog) (string, error)
}

func userDialog(prompt string) gai.Dialog {
	return gai.Dialog{
		{Role: gai.User, Blocks: []gai.Block{gai.TextBlock(prompt)}},
	}
}

// instructedDialog prepends a phase's fixed instructions to its prompt.
// The generators backing Completer bake a single system prompt in at
// construction time (see internal/lmclient), so a Completer shared across
// several differently-intentioned phases carries per-phase instructions
// this way instead.
func instructedDialog(instructions, prompt string) gai.Dialog {
	return userDialog(instructions + "\n\n" + prompt)
}

// extractJSON pulls the first fenced or bare JSON object/array out of a
// model response. Responses are expected inside a fenced code block per
// §4.9, but a bare top-level object is also accepted.
func extractJSON(text string) string {
	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return trimmed
	}
	return ""
}

var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// truncateStrings caps a string list at n items, coercing nothing (callers
// pre-stringify heterogeneous JSON via stringifyList).
func truncateStrings(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// stringifyList decodes a JSON list field whose items may not all be
// strings, coercing each item via its JSON representation.
func stringifyList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var anyList []any
	if err := json.Unmarshal(raw, &anyList); err != nil {
		return nil
	}
	out := make([]string, 0, len(anyList))
	for _, v := range anyList {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		default:
			b, err := json.Marshal(t)
			if err != nil {
				continue
			}
			out = append(out, string(b))
		}
	}
	return out
}
