package requirements

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractSignatures_PythonFence(t *testing.T) {
	doc := "# Spec\n\nImplement this:\n\n```python\ndef add(a, b):\n    return a + b\n\nx = 1\n```\n\nNo signatures outside fences:\n\ndef ignored(): pass\n"
	sigs := ExtractSignatures(doc)
	require.Equal(t, []string{"def add(a, b):"}, sigs)
}

func TestExtractSignatures_GoFence(t *testing.T) {
	doc := "```go\nfunc Add(a, b int) int {\n\treturn a + b\n}\n```\n"
	sigs := ExtractSignatures(doc)
	require.Len(t, sigs, 1)
	require.Contains(t, sigs[0], "func Add")
}

func TestExtractSignatures_NoFences(t *testing.T) {
	doc := "def add(a, b): return a + b"
	require.Empty(t, ExtractSignatures(doc))
}

func TestExtractSignatures_MultipleBlocksPreserveOrder(t *testing.T) {
	doc := "```python\ndef first():\n    pass\n```\ntext\n```python\ndef second():\n    pass\n```\n"
	sigs := ExtractSignatures(doc)
	require.Equal(t, []string{"def first():", "def second():"}, sigs)
}
