package agents

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentforge/builder/internal/fileset"
)

func TestGenerate_ParsesFencedSourceBlocks(t *testing.T) {
	resp := "```\n# src/calc.py\ndef add(a, b):\n    return a + b\n```"
	g := &CodeGenerator{Client: &stubCompleter{responses: []string{resp}}}
	fs, err := g.Generate(t.Context(), "req", fileset.New())
	require.NoError(t, err)
	require.Equal(t, 1, fs.Len())
	content, ok := fs.Get("src/calc.py")
	require.True(t, ok)
	require.Contains(t, content, "def add")
}

func TestGenerate_RetriesOnceOnZeroFencedBlocks(t *testing.T) {
	stub := &stubCompleter{responses: []string{
		"no fences here at all",
		"```\n# src/calc.py\ndef add(a, b):\n    return a + b\n```",
	}}
	g := &CodeGenerator{Client: stub}
	fs, err := g.Generate(t.Context(), "req", fileset.New())
	require.NoError(t, err)
	require.Equal(t, 2, stub.calls)
	require.Equal(t, 1, fs.Len())
}

func TestGenerate_GivesUpAfterOneRetry(t *testing.T) {
	stub := &stubCompleter{responses: []string{"no fences", "still no fences"}}
	g := &CodeGenerator{Client: stub}
	fs, err := g.Generate(t.Context(), "req", fileset.New())
	require.NoError(t, err)
	require.Equal(t, 2, stub.calls)
	require.Equal(t, 0, fs.Len())
}

func TestRefine_BackfillsMissingFilesFromPrevious(t *testing.T) {
	previous := fileset.New()
	previous.Set("src/a.py", "original a")
	previous.Set("src/b.py", "original b")

	resp := "```\n# src/a.py\nfixed a\n```"
	g := &CodeGenerator{Client: &stubCompleter{responses: []string{resp}}}

	fixed, err := g.Refine(t.Context(), "req", previous, "AssertionError: boom")
	require.NoError(t, err)

	a, _ := fixed.Get("src/a.py")
	require.Equal(t, "fixed a", a)
	b, _ := fixed.Get("src/b.py")
	require.Equal(t, "original b", b)
}
