package agents

import (
	"context"
	"fmt"

	"github.com/agentforge/builder/internal/fileset"
)

const codeGeneratorSystemPrompt = `Generate the source code that satisfies the requirements and passes the given tests. Respond with one fenced code block per source file. Each block's first line must be a comment naming the file, e.g. "# src/module.py".`

const codeGeneratorStrictRetryPrompt = `Your previous response contained no fenced code blocks. Respond again, and this time every file MUST be inside a fenced code block whose first line names the file, e.g. "# src/module.py". Do not include any other prose.`

const codeRefinerSystemPrompt = `The previously generated source code failed its tests. Given the failure feedback, produce a corrected version of the source files. Respond with one fenced code block per source file you changed, first line naming the file, e.g. "# src/module.py". Do not include test files; only sources.`

// CodeGenerator implements the code generator/refiner agent of §4.9.
type CodeGenerator struct {
	Client Completer
}

// Generate produces the initial code FileSet from requirements and the
// designed tests. If the response contains zero fenced blocks, it retries
// once with a stricter prompt before giving up with an empty FileSet.
func (g *CodeGenerator) Generate(ctx context.Context, requirementsText string, tests *fileset.FileSet) (*fileset.FileSet, error) {
	prompt := fmt.Sprintf("Requirements:\n%s\n\nTests to satisfy:\n%s\n\nGenerate the source code.", requirementsText, fileset.Serialize(tests))

	text, err := g.Client.Complete(ctx, instructedDialog(codeGeneratorSystemPrompt, prompt))
	if err != nil {
		return nil, err
	}

	fs := fileset.ParseResponse(text)
	if fs.Len() > 0 {
		return fs, nil
	}

	retryText, err := g.Client.Complete(ctx, instructedDialog(codeGeneratorSystemPrompt, prompt+"\n\n"+codeGeneratorStrictRetryPrompt))
	if err != nil {
		return nil, err
	}
	return fileset.ParseResponse(retryText), nil
}

// Refine generates a corrected code FileSet given failure feedback,
// backfilling any file the response omitted from the previous FileSet. Per
// §4.9's open-question resolution, the refine contract is sources-only: the
// orchestrator drives any corresponding test change through Adapt, not here.
func (g *CodeGenerator) Refine(ctx context.Context, requirementsText string, previous *fileset.FileSet, failureFeedback string) (*fileset.FileSet, error) {
	prompt := fmt.Sprintf(
		"Requirements:\n%s\n\nCurrent source code:\n%s\n\nFailure feedback:\n%s\n\nFix the source code.",
		requirementsText, fileset.Serialize(previous), failureFeedback,
	)

	text, err := g.Client.Complete(ctx, instructedDialog(codeRefinerSystemPrompt, prompt))
	if err != nil {
		return nil, err
	}

	updated := fileset.ParseResponse(text)
	return fileset.MergeFallback(previous, updated), nil
}
