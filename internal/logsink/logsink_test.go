package logsink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSink_EventFiltersBelowLevel(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(dir, "run123", LevelWarning)
	require.NoError(t, err)
	defer sink.Close()

	sink.Event(LevelInfo, "orchestrator", "step_start", nil)
	sink.Event(LevelError, "orchestrator", "step_fail", map[string]any{"iteration": 1})

	lines := readLines(t, filepath.Join(dir, "run_run123.jsonl"))
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, "ERROR", rec["level"])
	require.Equal(t, "run123", rec["run_id"])
	require.Equal(t, "step_fail", rec["operation"])
	require.EqualValues(t, 1, rec["iteration"])
}

func TestSink_TimingBlock(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(dir, "r1", LevelDebug)
	require.NoError(t, err)
	defer sink.Close()

	done := sink.TimingBlock("sandbox", "run_tests", nil)
	done()

	lines := readLines(t, filepath.Join(dir, "run_r1.jsonl"))
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Contains(t, rec, "duration_ms")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, LevelDebug, ParseLevel("debug"))
	require.Equal(t, LevelCritical, ParseLevel("CRITICAL"))
	require.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}
