package agents

import (
	"context"
	"errors"

	"github.com/spachava753/gai"
)

// stubCompleter returns canned responses in order, or repeats the last one.
type stubCompleter struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (s *stubCompleter) Complete(ctx context.Context, dialog gai.Dialog) (string, error) {
	s.calls++
	if len(dialog) > 0 && len(dialog[0].Blocks) > 0 {
		s.prompts = append(s.prompts, dialog[0].Blocks[0].Content.String())
	}
	if s.err != nil {
		return "", s.err
	}
	idx := s.calls - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	if idx < 0 {
		return "", errors.New("stubCompleter: no responses configured")
	}
	return s.responses[idx], nil
}
