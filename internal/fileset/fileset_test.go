package fileset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseResponse_FirstLineComment(t *testing.T) {
	resp := "Here is the code:\n\n```python\n# src/calc.py\ndef add(a, b):\n    return a + b\n```\n"
	fs := ParseResponse(resp)
	require.Equal(t, 1, fs.Len())
	content, ok := fs.Get("src/calc.py")
	require.True(t, ok)
	require.Contains(t, content, "def add")
}

func TestParseResponse_FenceInfoPath(t *testing.T) {
	resp := "```python:tests/test_calc.py\nfrom calc import add\n\ndef test_add():\n    assert add(2, 3) == 5\n```\n"
	fs := ParseResponse(resp)
	content, ok := fs.Get("tests/test_calc.py")
	require.True(t, ok)
	require.Contains(t, content, "test_add")
}

func TestParseResponse_FallbackName(t *testing.T) {
	resp := "```python\nprint('no path header')\n```\n"
	fs := ParseResponse(resp)
	require.Equal(t, 1, fs.Len())
	_, ok := fs.Get("module_1.python")
	require.True(t, ok)
}

func TestParseResponse_MultipleBlocksPreserveOrder(t *testing.T) {
	resp := "```\n# a.py\nA\n```\n\n```\n# b.py\nB\n```\n"
	fs := ParseResponse(resp)
	require.Equal(t, []string{"a.py", "b.py"}, fs.Paths())
}

func TestRoundTrip_ParseSerialize(t *testing.T) {
	fs := New()
	fs.Set("src/a.py", "print(1)")
	fs.Set("src/b.py", "print(2)")

	serialized := Serialize(fs)
	parsed := ParseResponse(serialized)

	require.True(t, Equal(fs, parsed))
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"/a/b.py":     "a/b.py",
		"a\\b.py":     "a/b.py",
		"./a/./b.py":  "a/b.py",
		"a/b.py":      "a/b.py",
	}
	for in, want := range cases {
		require.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestHasParentTraversal(t *testing.T) {
	require.True(t, HasParentTraversal("../etc/passwd"))
	require.True(t, HasParentTraversal("a/../../b"))
	require.False(t, HasParentTraversal("a/b/c.py"))
}

func TestStripPrefix(t *testing.T) {
	require.Equal(t, "x.py", StripPrefix("src/x.py", "src"))
	require.Equal(t, "x.py", StripPrefix("x.py", "src"))
}

func TestDuplicateBasenamesDistinctPaths(t *testing.T) {
	fs := New()
	fs.Set("src/a/util.py", "A")
	fs.Set("src/b/util.py", "B")
	require.Equal(t, 2, fs.Len())
	av, _ := fs.Get("src/a/util.py")
	bv, _ := fs.Get("src/b/util.py")
	require.NotEqual(t, av, bv)
}

func TestMergeFallback(t *testing.T) {
	base := New()
	base.Set("a.py", "old-a")
	base.Set("b.py", "old-b")

	updated := New()
	updated.Set("a.py", "new-a")

	merged := MergeFallback(base, updated)
	va, _ := merged.Get("a.py")
	vb, _ := merged.Get("b.py")
	require.Equal(t, "new-a", va)
	require.Equal(t, "old-b", vb)
}

func TestWriteTree(t *testing.T) {
	dir := t.TempDir()
	fs := New()
	fs.Set("a/b.py", "content-b")
	fs.Set("c.py", "content-c")

	require.NoError(t, WriteTree(fs, dir))

	b, err := os.ReadFile(filepath.Join(dir, "a", "b.py"))
	require.NoError(t, err)
	require.Equal(t, "content-b", string(b))
}

func TestWriteTree_RejectsParentTraversal(t *testing.T) {
	dir := t.TempDir()
	fs := New()
	fs.Set("../escape.py", "evil")
	err := WriteTree(fs, dir)
	require.Error(t, err)
}

func TestCleanDir_EmptiesBottomUp(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "f.txt"), []byte("x"), 0o644))

	require.NoError(t, CleanDir(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
